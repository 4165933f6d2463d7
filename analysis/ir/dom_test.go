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

import "testing"

func TestDomTreeDiamond(t *testing.T) {
	m := mustParse(t, diamondSrc)
	f := m.Func("f")
	dt := BuildDomTree(f)

	entry := f.Block("entry")
	then := f.Block("then")
	els := f.Block("else")
	merge := f.Block("merge")

	for _, b := range f.Blocks {
		if !dt.Dominates(entry, b) {
			t.Errorf("entry should dominate %s", b.Name())
		}
	}
	if dt.Dominates(then, merge) || dt.Dominates(els, merge) {
		t.Errorf("branch arms must not dominate the merge")
	}
	if got := dt.IDom(merge); got != entry {
		t.Errorf("idom(merge) = %v, want entry", got)
	}
	if dt.StrictlyDominates(entry, entry) {
		t.Errorf("strict dominance is irreflexive")
	}
}

func TestInstrDominatesSameBlock(t *testing.T) {
	m := mustParse(t, `
(module order
  (func @f i64 ((%x i64))
    (block entry
      (%a = add %x (i64 1))
      (%b = add %a (i64 1))
      (ret %b))))
`)
	entry := m.Func("f").Entry()
	dt := BuildDomTree(m.Func("f"))
	a, b := entry.Instrs[0], entry.Instrs[1]
	if !dt.InstrDominates(a, b) {
		t.Errorf("earlier instruction should dominate later one")
	}
	if dt.InstrDominates(b, a) {
		t.Errorf("later instruction should not dominate earlier one")
	}
}

func TestValueDominates(t *testing.T) {
	m := mustParse(t, diamondSrc)
	f := m.Func("f")
	dt := BuildDomTree(f)
	ret := f.Block("merge").Terminator()
	if !dt.ValueDominates(f.Params[0], ret) {
		t.Errorf("arguments dominate every instruction")
	}
	gep := f.Block("then").Instrs[0]
	condbr := f.Block("entry").Terminator()
	if dt.ValueDominates(gep, condbr) {
		t.Errorf("gep in a branch arm must not dominate the entry terminator")
	}
}

func TestCFGAdapter(t *testing.T) {
	m := mustParse(t, diamondSrc)
	cfg := NewCFG(m.Func("f"))
	if got := cfg.Order(); got != 4 {
		t.Fatalf("cfg order = %d, want 4", got)
	}
	// entry is node 0 and has two successors
	n := 0
	cfg.Visit(0, func(w int, c int64) bool {
		n++
		return false
	})
	if n != 2 {
		t.Errorf("entry has %d cfg successors, want 2", n)
	}
}
