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

package safepoint

import (
	"fmt"

	"github.com/gc-tools/safepoint/analysis/ir"
	"github.com/gc-tools/safepoint/analysis/mem2reg"
)

func statepointArgs(sp ir.Instruction) []ir.Value {
	switch sp := sp.(type) {
	case *ir.Call:
		return sp.Args
	case *ir.Invoke:
		return sp.Args
	}
	panic(fmt.Sprintf("statepoint is %T", sp))
}

func countAllocas(f *ir.Function) int {
	n := 0
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if _, ok := in.(*ir.Alloca); ok {
				n++
			}
		}
	}
	return n
}

// relocationViaAlloca rewires every use of a relocated pointer to the value current at
// the use, without per-use dominance reasoning: each live pointer gets a stack slot,
// definitions and relocations store into it, uses load from it, and promotion turns the
// slots back into clean SSA. preAllocas is the function's slot count before the pass;
// promotion must leave exactly that many behind.
func (pc *passContext) relocationViaAlloca(f *ir.Function, records []*parsePoint, preAllocas int) error {
	// The union live set, from the statepoint argument vectors so values rewritten
	// during materialization (call results turned into result reads) are current.
	// First occurrence order keeps the walk deterministic.
	var union []ir.Value
	seen := map[ir.Value]bool{}
	for _, rec := range records {
		for _, v := range statepointArgs(rec.statepoint)[rec.liveStart:] {
			if !seen[v] {
				seen[v] = true
				union = append(union, v)
			}
		}
	}
	if len(union) == 0 {
		return nil
	}

	entry := f.Entry()
	slotOf := map[ir.Value]*ir.Alloca{}
	slots := make([]*ir.Alloca, len(union))
	for i, v := range union {
		a := ir.NewAlloca(v.Name()+".slot", v.Type())
		entry.InsertAt(a, i)
		slotOf[v] = a
		slots[i] = a
	}

	// Snapshot uses before this phase adds its own stores and loads.
	usersOf := map[ir.Value][]ir.Instruction{}
	for _, v := range union {
		usersOf[v] = append([]ir.Instruction(nil), v.Users()...)
	}

	for _, v := range union {
		st := ir.NewStore(v, slotOf[v])
		switch d := v.(type) {
		case *ir.Phi:
			b := d.Block()
			b.InsertAt(st, b.FirstNonPhi())
		case *ir.Invoke:
			// An invoke is its block's terminator and defines its value on the
			// normal edge only; the store goes to the normal destination.
			nd := d.NormalDest
			nd.InsertAt(st, nd.FirstNonPhi())
		case ir.Instruction:
			d.Block().InsertAfter(st, d)
		default:
			// Arguments and other block-less definitions store right after the
			// slots in the entry block.
			entry.InsertAt(st, len(slots))
		}
	}

	for _, rec := range records {
		spLive := statepointArgs(rec.statepoint)[rec.liveStart:]
		relocated := map[ir.Value]bool{}
		for i, rel := range rec.relocates {
			v := spLive[i]
			relocated[v] = true
			rel.Block().InsertAfter(ir.NewStore(rel, slotOf[v]), rel)
		}
		// Values live elsewhere are dead across this safepoint; poison their slots
		// so a stale pre-relocation pointer can never be observed.
		for _, v := range union {
			if relocated[v] || ir.Value(rec.result) == v {
				continue
			}
			st := ir.NewStore(ir.NewNull(v.Type()), slotOf[v])
			if inv, ok := rec.boundsLast.(*ir.Invoke); ok {
				// A statepoint invoke with nothing relocated at it is still the
				// bound; stores cannot follow a terminator.
				nd := inv.NormalDest
				nd.InsertAt(st, nd.FirstNonPhi())
			} else {
				rec.boundsLast.Block().InsertAfter(st, rec.boundsLast)
			}
		}
	}

	for _, v := range union {
		for _, u := range usersOf[v] {
			if u.Block() == nil {
				continue
			}
			if p, ok := u.(*ir.Phi); ok {
				for i := range p.Incoming {
					if p.Incoming[i].Value == v {
						pred := p.Incoming[i].Block
						ld := ir.NewLoad(v.Name()+".reload", slotOf[v])
						pred.InsertBefore(ld, pred.Terminator())
						ir.SetOperand(p, i, ld)
					}
				}
				continue
			}
			ld := ir.NewLoad(v.Name()+".reload", slotOf[v])
			u.Block().InsertBefore(ld, u)
			ir.ReplaceUsesOfWith(u, v, ld)
		}
	}

	dt := ir.BuildDomTree(f)
	if err := mem2reg.Promote(f, dt, slots); err != nil {
		return err
	}
	if got := countAllocas(f); got != preAllocas {
		return fmt.Errorf("@%s: %d stack slots survived promotion, expected %d",
			f.Name(), got, preAllocas)
	}
	return nil
}
