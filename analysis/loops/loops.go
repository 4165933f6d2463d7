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

// Package loops enumerates the natural loops of a function directly from its CFG.
// A backedge is an edge whose target dominates its source; loop membership is the
// set of blocks that reach a latch without passing through the header. Strongly
// connected components serve as a cross-check: a cyclic component with no dominating
// entry is irreducible control flow and is reported as an error rather than silently
// left unpolled.
package loops

import (
	"fmt"

	"github.com/gc-tools/safepoint/analysis/ir"
	"github.com/yourbasic/graph"
)

// A Backedge is a CFG edge from Latch to Header where Header dominates Latch.
type Backedge struct {
	Header *ir.BasicBlock
	Latch  *ir.BasicBlock
}

// A Loop is a natural loop: one header plus every latch whose backedge targets it, and
// the union of the blocks of those backedges' loop bodies.
type Loop struct {
	Header  *ir.BasicBlock
	Latches []*ir.BasicBlock
	Blocks  map[*ir.BasicBlock]bool
}

// Contains reports whether b belongs to the loop.
func (l *Loop) Contains(b *ir.BasicBlock) bool { return l.Blocks[b] }

// FindBackedges returns the backedges of f in deterministic block-list order.
func FindBackedges(f *ir.Function, dt *ir.DomTree) []Backedge {
	var edges []Backedge
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			if dt.Dominates(s, b) {
				edges = append(edges, Backedge{Header: s, Latch: b})
			}
		}
	}
	return edges
}

// naturalLoopBlocks returns the blocks of the natural loop of a backedge: the header
// plus every block that reaches the latch without passing through the header.
func naturalLoopBlocks(be Backedge) map[*ir.BasicBlock]bool {
	blocks := map[*ir.BasicBlock]bool{be.Header: true}
	stack := []*ir.BasicBlock{be.Latch}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if blocks[b] {
			continue
		}
		blocks[b] = true
		stack = append(stack, b.Preds()...)
	}
	return blocks
}

// FindLoops groups the backedges of f by header into natural loops, ordered by the
// header's position in the block list.
func FindLoops(f *ir.Function, dt *ir.DomTree) ([]*Loop, error) {
	if err := checkReducible(f, dt); err != nil {
		return nil, err
	}
	byHeader := map[*ir.BasicBlock]*Loop{}
	var order []*Loop
	for _, be := range FindBackedges(f, dt) {
		l := byHeader[be.Header]
		if l == nil {
			l = &Loop{Header: be.Header, Blocks: map[*ir.BasicBlock]bool{}}
			byHeader[be.Header] = l
			order = append(order, l)
		}
		l.Latches = append(l.Latches, be.Latch)
		for b := range naturalLoopBlocks(be) {
			l.Blocks[b] = true
		}
	}
	return order, nil
}

// checkReducible verifies that every cyclic strongly connected component is entered
// through a block that dominates the rest of the component.
func checkReducible(f *ir.Function, dt *ir.DomTree) error {
	cfg := ir.NewCFG(f)
	for _, comp := range graph.StrongComponents(cfg) {
		if len(comp) == 1 {
			v := comp[0]
			if !cfg.HasEdgeFromTo(int64(v), int64(v)) {
				continue
			}
		}
		if err := checkComponent(f, dt, cfg, comp); err != nil {
			return err
		}
	}
	return nil
}

func checkComponent(f *ir.Function, dt *ir.DomTree, cfg *ir.CFG, comp []int) error {
	for _, v := range comp {
		b := cfg.Block(int64(v))
		dominatesAll := true
		for _, w := range comp {
			if !dt.Dominates(b, cfg.Block(int64(w))) {
				dominatesAll = false
				break
			}
		}
		if dominatesAll {
			return nil
		}
	}
	return fmt.Errorf("function @%s contains irreducible control flow", f.Name())
}
