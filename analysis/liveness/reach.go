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

package liveness

import "github.com/gc-tools/safepoint/analysis/ir"

// LiveBeforeReachability computes the live set before at by pointwise reachability: a
// value is live when one of its uses is reachable from at along a path that does not
// pass back through the value's definition. Only definitions in blocks dominating at
// can qualify; within at's own block the scan stops at at itself, so the query result
// excludes at's definition and includes its operands.
func (li *Info) LiveBeforeReachability(at ir.Instruction) []ir.Value {
	var set []ir.Value
	b := at.Block()
	for _, a := range li.fn.Params {
		if li.Tracked(a) && li.anyUserReachable(a, at, nil) {
			set = append(set, a)
		}
	}
	for _, bp := range li.fn.Blocks {
		if !li.dt.Dominates(bp, b) {
			continue
		}
		stop := len(bp.Instrs)
		if bp == b {
			stop = b.Index(at)
		}
		for i := 0; i < stop; i++ {
			d := bp.Instrs[i]
			if li.Tracked(d) && li.anyUserReachable(d, at, d) {
				set = append(set, d)
			}
		}
	}
	return set
}

// anyUserReachable reports whether some use of v is reachable from at without passing
// through def. A use in a phi happens on the incoming edge, so the reachability target
// for it is the terminator of the supplying predecessor.
func (li *Info) anyUserReachable(v ir.Value, at ir.Instruction, def ir.Instruction) bool {
	for _, u := range v.Users() {
		if p, ok := u.(*ir.Phi); ok {
			for _, inc := range p.Incoming {
				if inc.Value == v && reachableNotViaDef(at, inc.Block.Terminator(), def) {
					return true
				}
			}
			continue
		}
		if reachableNotViaDef(at, u, def) {
			return true
		}
	}
	return false
}

// Reachable reports whether target is reachable from start by executing forward,
// counting start itself as reached.
func Reachable(start, target ir.Instruction) bool {
	return reachableNotViaDef(start, target, nil)
}

// reachableNotViaDef walks the CFG forward from start looking for target; passing
// through def kills the path. A use reachable only by looping back through the
// definition is not a use of this iteration's value and reports false.
func reachableNotViaDef(start, target, def ir.Instruction) bool {
	if target == start {
		return true
	}
	sb := start.Block()
	// Suffix of the start block after start itself.
	for i := sb.Index(start) + 1; i < len(sb.Instrs); i++ {
		switch sb.Instrs[i] {
		case target:
			return true
		case def:
			return false
		}
	}
	visited := map[*ir.BasicBlock]bool{}
	queue := append([]*ir.BasicBlock(nil), sb.Succs()...)
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if visited[b] {
			continue
		}
		visited[b] = true
		blocked := false
		for _, in := range b.Instrs {
			if in == target {
				return true
			}
			if in == def {
				blocked = true
				break
			}
		}
		if !blocked {
			queue = append(queue, b.Succs()...)
		}
	}
	return false
}
