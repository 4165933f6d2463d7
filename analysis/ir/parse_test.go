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

package ir

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, src string) *Module {
	t.Helper()
	m, err := ParseModuleString(src)
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}
	return m
}

const diamondSrc = `
(module diamond
  (declare @use (fn void ((gcptr i8))))
  (func @f (gcptr i8) ((%p (gcptr i8)) (%c i1))
    (block entry
      (condbr %c then else))
    (block then
      (%a = gep %p (i64 8))
      (br merge))
    (block else
      (br merge))
    (block merge
      (%m = phi (gcptr i8) (%a then) (%p else))
      (call @use %m)
      (ret %m))))
`

func TestParseDiamond(t *testing.T) {
	m := mustParse(t, diamondSrc)
	f := m.Func("f")
	if f == nil || len(f.Blocks) != 4 {
		t.Fatalf("expected @f with 4 blocks, got %v", f)
	}
	merge := f.Block("merge")
	phis := merge.Phis()
	if len(phis) != 1 || len(phis[0].Incoming) != 2 {
		t.Fatalf("expected one phi with two incomings in merge")
	}
	// %a is defined after the phi form references it; the forward reference must
	// resolve to the gep.
	then := f.Block("then")
	gep := then.Instrs[0]
	if phis[0].Incoming[0].Value != Value(gep) {
		t.Errorf("phi incoming 0 = %v, want the gep %v", phis[0].Incoming[0].Value, gep)
	}
	if phis[0].Incoming[1].Value != Value(f.Params[0]) {
		t.Errorf("phi incoming 1 = %v, want %%p", phis[0].Incoming[1].Value)
	}
}

func TestParsePredsAndUsers(t *testing.T) {
	m := mustParse(t, diamondSrc)
	f := m.Func("f")
	merge := f.Block("merge")
	if got := len(merge.Preds()); got != 2 {
		t.Fatalf("merge has %d preds, want 2", got)
	}
	phi := merge.Phis()[0]
	// phi feeds the call and the ret
	if got := len(phi.Users()); got != 2 {
		t.Errorf("phi has %d users, want 2", got)
	}
	gep := f.Block("then").Instrs[0]
	if got := len(gep.Users()); got != 1 {
		t.Errorf("gep has %d users, want 1", got)
	}
}

func TestParseUndefinedValue(t *testing.T) {
	_, err := ParseModuleString(`
(module bad
  (func @f void ()
    (block entry
      (ret %nope))))
`)
	if err == nil || !strings.Contains(err.Error(), "undefined value") {
		t.Fatalf("expected undefined value error, got %v", err)
	}
}

func TestParseRedefinition(t *testing.T) {
	_, err := ParseModuleString(`
(module bad
  (func @f void ((%p i64))
    (block entry
      (%x = add %p (i64 1))
      (%x = add %p (i64 2))
      (ret))))
`)
	if err == nil || !strings.Contains(err.Error(), "redefinition") {
		t.Fatalf("expected redefinition error, got %v", err)
	}
}

func TestParseMetadata(t *testing.T) {
	m := mustParse(t, `
(module md
  (func @f (gcptr i8) ((%n i64))
    (block entry
      (%p = inttoptr %n (gcptr i8) !verifier_exception)
      (ret %p))))
`)
	in := m.Func("f").Entry().Instrs[0]
	if !in.Metadata(MDVerifierException) {
		t.Errorf("metadata atom not recorded")
	}
	if in.Metadata(MDBaseValue) {
		t.Errorf("unexpected metadata present")
	}
}

func TestPrintRoundTrip(t *testing.T) {
	m := mustParse(t, diamondSrc)
	var sb strings.Builder
	WriteModule(&sb, m)
	first := sb.String()

	m2, err := ParseModuleString(first)
	if err != nil {
		t.Fatalf("reparse failed: %s\nprinted:\n%s", err, first)
	}
	var sb2 strings.Builder
	WriteModule(&sb2, m2)
	if sb2.String() != first {
		t.Errorf("printing is not stable across a parse round trip:\n%s\nvs\n%s",
			first, sb2.String())
	}
}

func TestParseCallConv(t *testing.T) {
	m := mustParse(t, `
(module cc
  (declare @g (fn i64 (i64)))
  (func @f i64 ((%x i64))
    (block entry
      (%r = call cold @g %x)
      (ret %r))))
`)
	c := m.Func("f").Entry().Instrs[0].(*Call)
	if c.CallConv != CallConvCold {
		t.Errorf("call conv = %v, want cold", c.CallConv)
	}
}
