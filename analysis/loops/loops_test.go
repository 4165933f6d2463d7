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

package loops

import (
	"strings"
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

const countedLoopSrc = `
(module counted
  (declare @body (fn void (i64)))
  (func @f void ()
    (block entry
      (br loop))
    (block loop
      (%i = phi i64 ((i64 0) entry) (%next loop))
      (call @body %i)
      (%next = add %i (i64 1))
      (%done = icmp eq %next (i64 16))
      (condbr %done exit loop))
    (block exit
      (ret))))
`

func TestFindBackedges(t *testing.T) {
	m := mustParse(t, countedLoopSrc)
	f := m.Func("f")
	dt := ir.BuildDomTree(f)
	bes := FindBackedges(f, dt)
	if len(bes) != 1 {
		t.Fatalf("found %d backedges, want 1", len(bes))
	}
	if bes[0].Header != f.Block("loop") || bes[0].Latch != f.Block("loop") {
		t.Errorf("backedge = %s->%s, want loop->loop",
			bes[0].Latch.Name(), bes[0].Header.Name())
	}
}

func TestFindLoopsNested(t *testing.T) {
	m := mustParse(t, `
(module nested
  (declare @body (fn void ()))
  (func @f void ((%c i1))
    (block entry
      (br outer))
    (block outer
      (br inner))
    (block inner
      (call @body)
      (condbr %c inner outer_latch))
    (block outer_latch
      (condbr %c outer exit))
    (block exit
      (ret))))
`)
	f := m.Func("f")
	dt := ir.BuildDomTree(f)
	ls, err := FindLoops(f, dt)
	if err != nil {
		t.Fatalf("FindLoops: %s", err)
	}
	if len(ls) != 2 {
		t.Fatalf("found %d loops, want 2", len(ls))
	}
	var outer *Loop
	for _, l := range ls {
		if l.Header == f.Block("outer") {
			outer = l
		}
	}
	if outer == nil {
		t.Fatalf("no loop headed at outer")
	}
	if !outer.Contains(f.Block("inner")) || !outer.Contains(f.Block("outer_latch")) {
		t.Errorf("outer loop body incomplete")
	}
	if outer.Contains(f.Block("exit")) {
		t.Errorf("outer loop includes the exit")
	}
}

func TestIrreducibleRejected(t *testing.T) {
	// Two-entry cycle between a and b.
	m := mustParse(t, `
(module irr
  (func @f void ((%c i1))
    (block entry
      (condbr %c a b))
    (block a
      (condbr %c b exit))
    (block b
      (condbr %c a exit))
    (block exit
      (ret))))
`)
	f := m.Func("f")
	dt := ir.BuildDomTree(f)
	_, err := FindLoops(f, dt)
	if err == nil || !strings.Contains(err.Error(), "irreducible") {
		t.Fatalf("expected irreducible control flow error, got %v", err)
	}
}

func TestTripCount(t *testing.T) {
	m := mustParse(t, countedLoopSrc)
	f := m.Func("f")
	dt := ir.BuildDomTree(f)
	ls, err := FindLoops(f, dt)
	if err != nil {
		t.Fatalf("FindLoops: %s", err)
	}
	l := ls[0]
	latch := l.Latches[0]
	// The body runs 16 times; the backedge is taken on all but the last iteration.
	n, ok := TripCount(l, latch)
	if !ok || n != 15 {
		t.Fatalf("backedge count = %d, %v; want 15, true", n, ok)
	}
	if !MustBeFiniteCountedLoop(l, latch) {
		t.Errorf("16-iteration counted loop should be provably finite")
	}
}

func TestTripCountUnknownBound(t *testing.T) {
	m := mustParse(t, `
(module unknown
  (declare @body (fn void (i64)))
  (func @f void ((%n i64))
    (block entry
      (br loop))
    (block loop
      (%i = phi i64 ((i64 0) entry) (%next loop))
      (call @body %i)
      (%next = add %i (i64 1))
      (%done = icmp eq %next %n)
      (condbr %done exit loop))
    (block exit
      (ret))))
`)
	f := m.Func("f")
	dt := ir.BuildDomTree(f)
	ls, err := FindLoops(f, dt)
	if err != nil {
		t.Fatalf("FindLoops: %s", err)
	}
	if MustBeFiniteCountedLoop(ls[0], ls[0].Latches[0]) {
		t.Errorf("loop with a runtime bound must not count as provably finite")
	}
}
