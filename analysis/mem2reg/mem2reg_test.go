// Copyright the gc-tools authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mem2reg

import (
	"testing"

	"github.com/gc-tools/safepoint/analysis/ir"
)

func mustParse(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := ir.ParseModuleString(src)
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}
	return m
}

func allocasOf(f *ir.Function) []*ir.Alloca {
	var out []*ir.Alloca
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if a, ok := in.(*ir.Alloca); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

func TestPromoteStraightLine(t *testing.T) {
	m := mustParse(t, `
(module straight
  (func @f i64 ((%x i64))
    (block entry
      (%s = alloca i64)
      (store %x %s)
      (%v = load %s)
      (ret %v))))
`)
	f := m.Func("f")
	slots := allocasOf(f)
	if err := Promote(f, ir.BuildDomTree(f), slots); err != nil {
		t.Fatalf("Promote: %s", err)
	}
	if len(allocasOf(f)) != 0 {
		t.Fatalf("slot survived promotion")
	}
	ret := f.Entry().Terminator().(*ir.Ret)
	if ret.X != ir.Value(f.Params[0]) {
		t.Errorf("ret reads %v, want %%x", ret.X)
	}
	if err := ir.VerifyFunction(f); err != nil {
		t.Errorf("function broken after promotion: %s", err)
	}
}

func TestPromotePlacesPhi(t *testing.T) {
	m := mustParse(t, `
(module branchy
  (func @f i64 ((%a i64) (%b i64) (%c i1))
    (block entry
      (%s = alloca i64)
      (condbr %c left right))
    (block left
      (store %a %s)
      (br exit))
    (block right
      (store %b %s)
      (br exit))
    (block exit
      (%v = load %s)
      (ret %v))))
`)
	f := m.Func("f")
	if err := Promote(f, ir.BuildDomTree(f), allocasOf(f)); err != nil {
		t.Fatalf("Promote: %s", err)
	}
	phis := f.Block("exit").Phis()
	if len(phis) != 1 {
		t.Fatalf("exit has %d phis, want 1", len(phis))
	}
	phi := phis[0]
	if phi.IncomingFor(f.Block("left")) != ir.Value(f.Params[0]) ||
		phi.IncomingFor(f.Block("right")) != ir.Value(f.Params[1]) {
		t.Errorf("phi merges the wrong values")
	}
	ret := f.Block("exit").Terminator().(*ir.Ret)
	if ret.X != ir.Value(phi) {
		t.Errorf("ret reads %v, want the merged phi", ret.X)
	}
	if err := ir.VerifyFunction(f); err != nil {
		t.Errorf("function broken after promotion: %s", err)
	}
}

func TestPromoteLoop(t *testing.T) {
	m := mustParse(t, `
(module loop
  (declare @step (fn i64 (i64)))
  (func @f i64 ((%init i64) (%c i1))
    (block entry
      (%s = alloca i64)
      (store %init %s)
      (br loop))
    (block loop
      (%v = load %s)
      (%n = call @step %v)
      (store %n %s)
      (condbr %c loop exit))
    (block exit
      (%r = load %s)
      (ret %r))))
`)
	f := m.Func("f")
	if err := Promote(f, ir.BuildDomTree(f), allocasOf(f)); err != nil {
		t.Fatalf("Promote: %s", err)
	}
	loopPhis := f.Block("loop").Phis()
	if len(loopPhis) != 1 {
		t.Fatalf("loop header has %d phis, want 1", len(loopPhis))
	}
	if err := ir.VerifyFunction(f); err != nil {
		t.Errorf("function broken after promotion: %s", err)
	}
}

func TestPromotableRejectsEscape(t *testing.T) {
	m := mustParse(t, `
(module escape
  (func @f void ()
    (block entry
      (%s = alloca (ptr i64))
      (%t = alloca (ptr (ptr i64)))
      (store %s %t)
      (ret))))
`)
	f := m.Func("f")
	slots := allocasOf(f)
	if !Promotable(slots[1]) {
		t.Errorf("plain store target should be promotable")
	}
	if Promotable(slots[0]) {
		t.Errorf("slot whose address is stored must not be promotable")
	}
	if err := Promote(f, ir.BuildDomTree(f), slots[:1]); err == nil {
		t.Errorf("Promote accepted an escaping slot")
	}
}

func TestPromoteLoadWithoutStore(t *testing.T) {
	m := mustParse(t, `
(module nostore
  (func @f i64 ()
    (block entry
      (%s = alloca i64)
      (%v = load %s)
      (ret %v))))
`)
	f := m.Func("f")
	if err := Promote(f, ir.BuildDomTree(f), allocasOf(f)); err != nil {
		t.Fatalf("Promote: %s", err)
	}
	ret := f.Entry().Terminator().(*ir.Ret)
	c, ok := ret.X.(*ir.Const)
	if !ok || c.Kind != ir.ConstUndef {
		t.Errorf("load with no reaching store should read undef, got %v", ret.X)
	}
}
