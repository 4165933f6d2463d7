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

// Package mem2reg promotes stack slots whose only uses are loads and stores into SSA
// values: phis are placed on the iterated dominance frontier of the stores, then a
// dominator-tree walk renames loads to the reaching definition.
package mem2reg

import (
	"fmt"

	"github.com/gc-tools/safepoint/analysis/ir"
	"github.com/gc-tools/safepoint/internal/funcutil"
)

// Promotable reports whether every use of a is a load, or a store writing through it.
// A store of the slot address itself escapes the slot and blocks promotion.
func Promotable(a *ir.Alloca) bool {
	for _, u := range a.Users() {
		switch u := u.(type) {
		case *ir.Load:
		case *ir.Store:
			if u.Val == ir.Value(a) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Promote rewrites every alloca in slots into SSA form and removes it from f. Every
// slot must satisfy Promotable. Loads with no reaching store read undef.
func Promote(f *ir.Function, dt *ir.DomTree, slots []*ir.Alloca) error {
	for _, a := range slots {
		if !Promotable(a) {
			return fmt.Errorf("mem2reg: alloca %%%s escapes", a.Name())
		}
	}
	df := dominanceFrontiers(f, dt)

	p := &promoter{
		f:       f,
		dt:      dt,
		slotIdx: map[*ir.Alloca]int{},
		phis:    map[*ir.Phi]int{},
	}
	for i, a := range slots {
		p.slotIdx[a] = i
	}
	p.placePhis(slots, df)
	p.rename(f.Entry(), makeUndefs(slots))
	p.cleanup(slots)
	return nil
}

func makeUndefs(slots []*ir.Alloca) []ir.Value {
	vals := make([]ir.Value, len(slots))
	for i, a := range slots {
		vals[i] = ir.NewUndef(a.Elem)
	}
	return vals
}

// dominanceFrontiers computes DF(b) for every block by walking from each join point's
// predecessors up to the join's immediate dominator.
func dominanceFrontiers(f *ir.Function, dt *ir.DomTree) map[*ir.BasicBlock][]*ir.BasicBlock {
	df := map[*ir.BasicBlock][]*ir.BasicBlock{}
	for _, b := range f.Blocks {
		preds := b.Preds()
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			runner := p
			for runner != nil && runner != dt.IDom(b) {
				if !funcutil.Contains(df[runner], b) {
					df[runner] = append(df[runner], b)
				}
				runner = dt.IDom(runner)
			}
		}
	}
	return df
}

type promoter struct {
	f       *ir.Function
	dt      *ir.DomTree
	slotIdx map[*ir.Alloca]int

	// phis maps each placed phi to the index of the slot it merges.
	phis map[*ir.Phi]int

	removed []ir.Instruction
}

// placePhis inserts a phi for each slot on the iterated dominance frontier of the
// slot's store blocks.
func (p *promoter) placePhis(slots []*ir.Alloca, df map[*ir.BasicBlock][]*ir.BasicBlock) {
	for i, a := range slots {
		var work []*ir.BasicBlock
		seen := map[*ir.BasicBlock]bool{}
		for _, u := range a.Users() {
			if st, ok := u.(*ir.Store); ok && st.Addr == ir.Value(a) {
				if b := st.Block(); !seen[b] {
					seen[b] = true
					work = append(work, b)
				}
			}
		}
		placed := map[*ir.BasicBlock]bool{}
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			for _, fb := range df[b] {
				if placed[fb] {
					continue
				}
				placed[fb] = true
				phi := ir.NewPhi(a.Name()+"."+fb.Name()+".ssa", a.Elem)
				fb.InsertAt(phi, 0)
				p.phis[phi] = i
				if !seen[fb] {
					seen[fb] = true
					work = append(work, fb)
				}
			}
		}
	}
}

// rename walks the dominator tree, tracking the reaching value of each slot.
func (p *promoter) rename(b *ir.BasicBlock, incoming []ir.Value) {
	curr := append([]ir.Value(nil), incoming...)
	for _, in := range b.Instrs {
		switch in := in.(type) {
		case *ir.Phi:
			if i, ok := p.phis[in]; ok {
				curr[i] = in
			}
		case *ir.Load:
			if a, ok := in.X.(*ir.Alloca); ok {
				if i, ok := p.slotIdx[a]; ok {
					ir.ReplaceAllUsesWith(in, curr[i])
					p.removed = append(p.removed, in)
				}
			}
		case *ir.Store:
			if a, ok := in.Addr.(*ir.Alloca); ok {
				if i, ok := p.slotIdx[a]; ok {
					curr[i] = in.Val
					p.removed = append(p.removed, in)
				}
			}
		}
	}
	for _, s := range b.Succs() {
		for _, phi := range s.Phis() {
			if i, ok := p.phis[phi]; ok {
				phi.AddIncoming(curr[i], b)
			}
		}
	}
	for _, c := range p.dt.Children(b) {
		p.rename(c, curr)
	}
}

// cleanup deletes the rewritten loads and stores and the promoted slots.
func (p *promoter) cleanup(slots []*ir.Alloca) {
	for _, in := range p.removed {
		in.Block().Remove(in)
	}
	for _, a := range slots {
		a.Block().Remove(a)
	}
}
