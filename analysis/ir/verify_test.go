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

func TestVerifyWellFormed(t *testing.T) {
	m := mustParse(t, diamondSrc)
	f := m.Func("f")
	if err := VerifyFunction(f); err != nil {
		t.Errorf("well formed function rejected: %s", err)
	}
	if err := VerifyGCRules(f); err != nil {
		t.Errorf("GC rules rejected a clean function: %s", err)
	}
}

func TestVerifyUseBeforeDef(t *testing.T) {
	m := mustParse(t, `
(module bad
  (func @f i64 ((%c i1))
    (block entry
      (condbr %c a b))
    (block a
      (%x = add (i64 1) (i64 2))
      (br b))
    (block b
      (ret %x))))
`)
	// The parser accepts this textually (b follows a) but %x does not dominate the
	// ret.
	err := VerifyFunction(m.Func("f"))
	if err == nil || !strings.Contains(err.Error(), "dominate") {
		t.Fatalf("expected dominance violation, got %v", err)
	}
}

func TestVerifyPhiIncomingMismatch(t *testing.T) {
	m := mustParse(t, `
(module bad
  (func @f i64 ((%c i1))
    (block entry
      (condbr %c a b))
    (block a
      (br merge))
    (block b
      (br merge))
    (block merge
      (%m = phi i64 ((i64 1) a))
      (ret %m))))
`)
	if err := VerifyFunction(m.Func("f")); err == nil {
		t.Fatalf("expected phi incoming mismatch to be rejected")
	}
}

func TestGCRulesPtrToInt(t *testing.T) {
	m := mustParse(t, `
(module bad
  (func @f i64 ((%p (gcptr i8)))
    (block entry
      (%n = ptrtoint %p i64)
      (ret %n))))
`)
	if err := VerifyGCRules(m.Func("f")); err == nil {
		t.Fatalf("expected ptrtoint on a GC pointer to be rejected")
	}
}

func TestGCRulesIntToPtr(t *testing.T) {
	m := mustParse(t, `
(module bad
  (func @f (gcptr i8) ((%n i64))
    (block entry
      (%p = inttoptr %n (gcptr i8))
      (ret %p))))
`)
	if err := VerifyGCRules(m.Func("f")); err == nil {
		t.Fatalf("expected unblessed inttoptr to be rejected")
	}

	m2 := mustParse(t, `
(module ok
  (func @f (gcptr i8) ((%n i64))
    (block entry
      (%p = inttoptr %n (gcptr i8) !verifier_exception)
      (ret %p))))
`)
	if err := VerifyGCRules(m2.Func("f")); err != nil {
		t.Errorf("blessed inttoptr rejected: %s", err)
	}
}

func TestGCRulesGlobal(t *testing.T) {
	m := mustParse(t, `
(module bad
  (global @g (gcptr i8))
  (func @f void ()
    (block entry
      (ret))))
`)
	if err := VerifyGCRules(m.Func("f")); err == nil {
		t.Fatalf("expected a GC pointer global to be rejected")
	}
}

func TestReplaceAllUsesWith(t *testing.T) {
	m := mustParse(t, diamondSrc)
	f := m.Func("f")
	phi := f.Block("merge").Phis()[0]
	repl := f.Params[0]
	ReplaceAllUsesWith(phi, repl)
	if len(phi.Users()) != 0 {
		t.Errorf("replaced value still has users")
	}
	ret := f.Block("merge").Terminator().(*Ret)
	if ret.X != Value(repl) {
		t.Errorf("ret operand not rewritten")
	}
}

func TestRemoveUnreachableBlocks(t *testing.T) {
	m := mustParse(t, `
(module dead
  (func @f i64 ((%x i64))
    (block entry
      (br exit))
    (block orphan
      (br exit))
    (block exit
      (%m = phi i64 (%x entry) ((i64 0) orphan))
      (ret %m))))
`)
	f := m.Func("f")
	if n := f.RemoveUnreachableBlocks(); n != 1 {
		t.Fatalf("removed %d blocks, want 1", n)
	}
	phi := f.Block("exit").Phis()[0]
	if len(phi.Incoming) != 1 {
		t.Errorf("phi incoming from the dead block not pruned")
	}
	if err := VerifyFunction(f); err != nil {
		t.Errorf("function broken after pruning: %s", err)
	}
}
