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

package basepointer

import (
	"errors"
	"testing"

	"github.com/gc-tools/safepoint/analysis/config"
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

func newResolver(f *ir.Function, cfg *config.Config) *Resolver {
	return NewResolver(cfg, config.NewLogGroup(cfg), ir.BuildDomTree(f), NewCache())
}

func TestBaseOfDerivationChain(t *testing.T) {
	m := mustParse(t, `
(module chain
  (func @f (gcptr i8) ((%p (gcptr (struct i64 i64))))
    (block entry
      (%a = gep %p (i64 1))
      (%b = bitcast %a (gcptr i8))
      (%c = gep %b (i64 3))
      (ret %c))))
`)
	f := m.Func("f")
	r := newResolver(f, config.Default())
	c := f.Entry().Instrs[2]
	b, err := r.BaseFor(c)
	if err != nil {
		t.Fatalf("BaseFor: %s", err)
	}
	if b != ir.Value(f.Params[0]) {
		t.Errorf("base of the chain = %v, want %%p", b)
	}
	if len(r.NewDefs) != 0 {
		t.Errorf("straight-line derivation synthesized %d values", len(r.NewDefs))
	}
}

func TestBasePhiSynthesis(t *testing.T) {
	m := mustParse(t, `
(module merge
  (func @f (gcptr i8) ((%p (gcptr i8)) (%q (gcptr i8)) (%c i1))
    (block entry
      (condbr %c left right))
    (block left
      (%a = gep %p (i64 8))
      (br exit))
    (block right
      (%b = gep %q (i64 16))
      (br exit))
    (block exit
      (%m = phi (gcptr i8) (%a left) (%b right))
      (ret %m))))
`)
	f := m.Func("f")
	r := newResolver(f, config.Default())
	phi := f.Block("exit").Phis()[0]
	base, err := r.BaseFor(phi)
	if err != nil {
		t.Fatalf("BaseFor: %s", err)
	}
	bphi, ok := base.(*ir.Phi)
	if !ok {
		t.Fatalf("base of a conflicting phi = %T, want a synthesized phi", base)
	}
	if !bphi.Metadata(ir.MDBaseValue) {
		t.Errorf("synthesized phi not tagged as a base value")
	}
	if !IsKnownBase(bphi) {
		t.Errorf("synthesized phi not recognized as a known base")
	}
	if bphi.Block() != f.Block("exit") {
		t.Errorf("base phi placed in %s, want exit", bphi.Block().Name())
	}
	// The base phi merges the raw bases, not the derived pointers.
	if got := bphi.IncomingFor(f.Block("left")); got != ir.Value(f.Params[0]) {
		t.Errorf("base phi left incoming = %v, want %%p", got)
	}
	if got := bphi.IncomingFor(f.Block("right")); got != ir.Value(f.Params[1]) {
		t.Errorf("base phi right incoming = %v, want %%q", got)
	}
}

func TestBasePhiNoConflict(t *testing.T) {
	// Both arms derive from the same object; no new phi is needed.
	m := mustParse(t, `
(module same
  (func @f (gcptr i8) ((%p (gcptr i8)) (%c i1))
    (block entry
      (condbr %c left right))
    (block left
      (%a = gep %p (i64 8))
      (br exit))
    (block right
      (%b = gep %p (i64 16))
      (br exit))
    (block exit
      (%m = phi (gcptr i8) (%a left) (%b right))
      (ret %m))))
`)
	f := m.Func("f")
	r := newResolver(f, config.Default())
	base, err := r.BaseFor(f.Block("exit").Phis()[0])
	if err != nil {
		t.Fatalf("BaseFor: %s", err)
	}
	if base != ir.Value(f.Params[0]) {
		t.Errorf("base = %v, want %%p", base)
	}
	if len(r.NewDefs) != 0 {
		t.Errorf("same-object merge synthesized %d values", len(r.NewDefs))
	}
}

func TestBaseSelectSynthesis(t *testing.T) {
	m := mustParse(t, `
(module sel
  (func @f (gcptr i8) ((%p (gcptr i8)) (%q (gcptr i8)) (%c i1))
    (block entry
      (%a = gep %p (i64 8))
      (%b = gep %q (i64 16))
      (%s = select %c %a %b)
      (ret %s))))
`)
	f := m.Func("f")
	r := newResolver(f, config.Default())
	sel := f.Entry().Instrs[2]
	base, err := r.BaseFor(sel)
	if err != nil {
		t.Fatalf("BaseFor: %s", err)
	}
	bsel, ok := base.(*ir.Select)
	if !ok {
		t.Fatalf("base of a conflicting select = %T, want a synthesized select", base)
	}
	if bsel.True != ir.Value(f.Params[0]) || bsel.False != ir.Value(f.Params[1]) {
		t.Errorf("base select operands = %v/%v, want %%p/%%q", bsel.True, bsel.False)
	}
}

func TestSelfReferentialLoopPhi(t *testing.T) {
	// The loop phi feeds itself through a gep. Optimistic iteration must conclude
	// the base is %p everywhere rather than reporting a conflict.
	m := mustParse(t, `
(module loop
  (func @f (gcptr i8) ((%p (gcptr i8)) (%c i1))
    (block entry
      (br loop))
    (block loop
      (%cur = phi (gcptr i8) (%p entry) (%next loop))
      (%next = gep %cur (i64 8))
      (condbr %c loop exit))
    (block exit
      (ret %cur))))
`)
	f := m.Func("f")
	r := newResolver(f, config.Default())
	base, err := r.BaseFor(f.Block("loop").Phis()[0])
	if err != nil {
		t.Fatalf("BaseFor: %s", err)
	}
	if base != ir.Value(f.Params[0]) {
		t.Errorf("loop phi base = %v, want %%p", base)
	}
	if len(r.NewDefs) != 0 {
		t.Errorf("single-object loop synthesized %d values", len(r.NewDefs))
	}
}

func TestClassifierErrors(t *testing.T) {
	m := mustParse(t, `
(module bad
  (func @f (gcptr i8) ((%n i64))
    (block entry
      (%p = inttoptr %n (gcptr i8))
      (ret %p))))
`)
	f := m.Func("f")
	r := newResolver(f, config.Default())
	if _, err := r.BaseFor(f.Entry().Instrs[0]); !errors.Is(err, ErrIntToPtr) {
		t.Errorf("inttoptr: got %v, want ErrIntToPtr", err)
	}

	null := ir.NewNull(ir.GCPointerTo(ir.I8))
	if _, err := r.BaseFor(null); !errors.Is(err, ErrDegenerate) {
		t.Errorf("null: got %v, want ErrDegenerate", err)
	}
	intc := ir.NewIntConst(ir.GCPointerTo(ir.I8), 5)
	if _, err := r.BaseFor(intc); !errors.Is(err, ErrConstantPointer) {
		t.Errorf("int constant: got %v, want ErrConstantPointer", err)
	}
}

func TestRelaxedModeAcceptsNull(t *testing.T) {
	cfg := config.Default()
	cfg.AllFunctions = true
	m := mustParse(t, `
(module relaxed
  (func @f void ()
    (block entry
      (ret))))
`)
	r := newResolver(m.Func("f"), cfg)
	null := ir.NewNull(ir.GCPointerTo(ir.I8))
	b, err := r.BaseFor(null)
	if err != nil {
		t.Fatalf("BaseFor(null) in relaxed mode: %s", err)
	}
	if b != ir.Value(null) {
		t.Errorf("null should be its own base in relaxed mode")
	}
}

func TestResolverIdempotent(t *testing.T) {
	m := mustParse(t, `
(module merge
  (func @f (gcptr i8) ((%p (gcptr i8)) (%q (gcptr i8)) (%c i1))
    (block entry
      (condbr %c left right))
    (block left
      (%a = gep %p (i64 8))
      (br exit))
    (block right
      (%b = gep %q (i64 16))
      (br exit))
    (block exit
      (%m = phi (gcptr i8) (%a left) (%b right))
      (ret %m))))
`)
	f := m.Func("f")
	r := newResolver(f, config.Default())
	phi := f.Block("exit").Phis()[0]
	first, err := r.BaseFor(phi)
	if err != nil {
		t.Fatalf("first BaseFor: %s", err)
	}
	created := len(r.NewDefs)
	second, err := r.BaseFor(phi)
	if err != nil {
		t.Fatalf("second BaseFor: %s", err)
	}
	if first != second {
		t.Errorf("repeated queries returned different bases")
	}
	if len(r.NewDefs) != created {
		t.Errorf("repeated query synthesized more values")
	}
}
