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
	"errors"
	"fmt"

	"github.com/gc-tools/safepoint/analysis/inline"
	"github.com/gc-tools/safepoint/analysis/ir"
	"github.com/gc-tools/safepoint/analysis/liveness"
	"github.com/gc-tools/safepoint/analysis/loops"
	"golang.org/x/exp/slices"
)

// ErrMissingPoll means the module does not supply the poll implementation function.
var ErrMissingPoll = errors.New("module has no poll implementation function")

// findEntryPollSite walks from the entry block through unique-successor /
// unique-predecessor chains and returns the terminator of the last block before
// control flow splits or merges. The poll goes immediately before it.
func findEntryPollSite(f *ir.Function) ir.Instruction {
	b := f.Entry()
	for {
		succs := b.Succs()
		if len(succs) != 1 {
			break
		}
		next := succs[0]
		if len(next.Preds()) != 1 {
			break
		}
		b = next
	}
	return b.Terminator()
}

// findBackedgePollSites returns the latch terminators that need a poll: every in-loop
// predecessor of each loop header, minus latches of provably finite counted loops
// (kept when the all-backedges override is on).
func (pc *passContext) findBackedgePollSites(f *ir.Function, dt *ir.DomTree) ([]ir.Instruction, error) {
	ls, err := loops.FindLoops(f, dt)
	if err != nil {
		return nil, err
	}
	var sites []ir.Instruction
	for _, l := range ls {
		for _, latch := range l.Latches {
			if !pc.cfg.AllBackedges && loops.MustBeFiniteCountedLoop(l, latch) {
				pc.logger.Debugf("skipping poll on finite counted loop latch %s in @%s",
					latch.Name(), f.Name())
				continue
			}
			sites = append(sites, latch.Terminator())
		}
	}
	return sites, nil
}

// insertPoll inlines the poll body before site and returns the non-leaf calls the
// inlined code contains; each becomes a parse-point candidate. The poll body must
// leave at least one such call behind, otherwise the poll would compile to nothing.
func (pc *passContext) insertPoll(site ir.Instruction, seq int) ([]*ir.Call, error) {
	poll := pc.mod.Func(ir.SafepointPollName)
	if poll == nil {
		return nil, ErrMissingPoll
	}
	created, err := inline.Body(poll, site, seq)
	if err != nil {
		return nil, err
	}
	// The inlined body must rejoin the original code: a poll that cannot fall
	// through would swallow the function tail.
	if first := firstInstr(created); first != nil && !liveness.Reachable(first, site) {
		return nil, fmt.Errorf("poll body does not reach its continuation in @%s",
			site.Block().Parent().Name())
	}
	var calls []*ir.Call
	for _, in := range created {
		if c, ok := in.(*ir.Call); ok && NeedsStatepoint(c) {
			calls = append(calls, c)
		}
	}
	if len(calls) == 0 {
		return nil, fmt.Errorf("inlined poll body contains no runtime call in @%s",
			site.Block().Parent().Name())
	}
	return calls, nil
}

func firstInstr(ins []ir.Instruction) ir.Instruction {
	if len(ins) == 0 {
		return nil
	}
	return ins[0]
}

// selectParsePoints runs the three sub-selectors and returns the deduplicated
// parse-point candidates in deterministic program order.
func (pc *passContext) selectParsePoints(f *ir.Function, dt *ir.DomTree) ([]ir.Instruction, error) {
	var pollSites []ir.Instruction
	if !pc.cfg.NoEntry && pc.gateOn(f, AttrEntrySafepoints) {
		pollSites = append(pollSites, findEntryPollSite(f))
	}
	if !pc.cfg.NoBackedge && pc.gateOn(f, AttrBackedgeSafepoints) {
		backedges, err := pc.findBackedgePollSites(f, dt)
		if err != nil {
			return nil, err
		}
		pollSites = append(pollSites, backedges...)
	}

	seen := map[ir.Instruction]bool{}
	var candidates []ir.Instruction
	add := func(c ir.Instruction) {
		if !seen[c] {
			seen[c] = true
			candidates = append(candidates, c)
		}
	}

	for i, site := range pollSites {
		calls, err := pc.insertPoll(site, i)
		if err != nil {
			return nil, err
		}
		for _, c := range calls {
			add(c)
		}
	}

	if !pc.cfg.NoCall && pc.gateOn(f, AttrCallSafepoints) {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				switch in := in.(type) {
				case *ir.Call:
					if NeedsStatepoint(in) {
						add(in)
					}
				case *ir.Invoke:
					if NeedsStatepointInvoke(in) {
						add(in)
					}
				}
			}
		}
	}

	// Candidates accumulated across sub-selectors follow insertion order; rewrite
	// processing must follow program order instead.
	ordered := orderByProgram(f, candidates)
	return ordered, nil
}

// orderByProgram sorts call sites by block layout position and in-block index.
func orderByProgram(f *ir.Function, sites []ir.Instruction) []ir.Instruction {
	pos := map[ir.Instruction]int{}
	n := 0
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			pos[in] = n
			n++
		}
		n++
	}
	out := append([]ir.Instruction(nil), sites...)
	slices.SortStableFunc(out, func(a, b ir.Instruction) bool { return pos[a] < pos[b] })
	return out
}
