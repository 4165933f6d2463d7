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
	"strings"

	"github.com/gc-tools/safepoint/analysis/ir"
	"golang.org/x/exp/slices"
)

// InvokeNormalDestName names the block the materializer introduces between a
// statepoint invoke and the original normal destination.
const InvokeNormalDestName = "invoke_safepoint_normal_dest"

// A parsePoint is one candidate call or invoke plus everything analysis attached to it.
type parsePoint struct {
	site ir.Instruction // *ir.Call or *ir.Invoke

	// live is the sorted live vector; bases maps each member to its proven base.
	live  []ir.Value
	bases map[ir.Value]ir.Value

	holder *ir.Call

	statepoint ir.Instruction
	liveStart  int
	relocates  []*ir.Call
	result     *ir.Call
	boundsLast ir.Instruction

	// relocBlock is where relocates and the result live: the site's own block for a
	// call, the inserted normal-destination block for an invoke.
	relocBlock *ir.BasicBlock
}

func siteCalleeAndArgs(site ir.Instruction) (ir.Value, []ir.Value, ir.CallConv, map[string]string) {
	switch s := site.(type) {
	case *ir.Call:
		return s.Callee, s.Args, s.CallConv, s.Attrs
	case *ir.Invoke:
		return s.Callee, s.Args, s.CallConv, s.Attrs
	}
	panic(fmt.Sprintf("parse point %T is not a call site", site))
}

// seqOf is the stable tiebreaker for unnamed values.
func seqOf(v ir.Value) int64 {
	switch v := v.(type) {
	case ir.Instruction:
		return v.Seq()
	case *ir.Argument:
		return int64(v.Index())
	}
	return 0
}

// orderLive sorts a live vector by symbolic name, stably by creation order among
// values sharing a name.
func orderLive(vals []ir.Value) {
	slices.SortStableFunc(vals, func(a, b ir.Value) bool {
		if a.Name() != b.Name() {
			return a.Name() < b.Name()
		}
		return seqOf(a) < seqOf(b)
	})
}

func typeMangle(t ir.Type) string {
	switch t := t.(type) {
	case *ir.VoidType:
		return "v"
	case *ir.IntType:
		return fmt.Sprintf("i%d", t.Bits)
	case *ir.FloatType:
		return fmt.Sprintf("f%d", t.Bits)
	case *ir.PointerType:
		return fmt.Sprintf("p%d%s", t.AddrSpace, typeMangle(t.Elem))
	case *ir.StructType:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = typeMangle(f)
		}
		return "s" + strings.Join(parts, "")
	case *ir.FuncType:
		return "fn"
	}
	return "t"
}

func (pc *passContext) statepointFn() *ir.Function {
	return pc.mod.GetOrInsertFunction(ir.StatepointName, ir.VariadicFuncOf(ir.I32))
}

func (pc *passContext) relocateFn(derived ir.Type) *ir.Function {
	name := ir.RelocatePrefix + "." + typeMangle(derived)
	return pc.mod.GetOrInsertFunction(name, ir.FuncOf(derived, ir.I32, ir.I32, ir.I32))
}

func (pc *passContext) resultFn(ret ir.Type) *ir.Function {
	kind := "ptr"
	switch ret.(type) {
	case *ir.IntType:
		kind = "int"
	case *ir.FloatType:
		kind = "float"
	}
	name := fmt.Sprintf("%s.%s.%s", ir.ResultPrefix, kind, typeMangle(ret))
	return pc.mod.GetOrInsertFunction(name, ir.FuncOf(ret, ir.I32))
}

func i32(v int64) *ir.Const { return ir.NewIntConst(ir.I32, v) }

// materialize replaces the parse point with a statepoint, a result read when the
// original value was used, and one relocate per live pointer. The original site is
// erased; its value is represented by the result read afterwards.
//
//gocyclo:ignore
func (pc *passContext) materialize(rec *parsePoint, dt *ir.DomTree) error {
	callee, args, cc, attrs := siteCalleeAndArgs(rec.site)
	block := rec.site.Block()

	orderLive(rec.live)
	pc.addBasesAsLive(rec)

	// Resolve the abstract VM state for the site: a descriptor held as the leading
	// argument wins, otherwise the dominating anchor.
	var vm *VMState
	heldDescriptor := false
	origArgs := args
	if len(args) > 0 && ir.IsJVMStateCall(args[0]) {
		vm = &VMState{Call: args[0].(*ir.Call)}
		heldDescriptor = true
		origArgs = args[1:]
		callee = pc.recastCallee(callee, rec.site)
	} else if pc.cfg.VMStateRequired() {
		state, err := FindVMState(rec.site, dt)
		if err != nil {
			return err
		}
		vm = &state
	}
	if vm != nil {
		if err := vm.Validate(); err != nil {
			return err
		}
	}

	spArgs := []ir.Value{callee, i32(int64(len(origArgs))), i32(0)}
	if vm != nil {
		spArgs = append(spArgs, i32(0), i32(vm.BCI()),
			i32(int64(vm.NumStack())), i32(int64(vm.NumLocals())), i32(int64(vm.NumMonitors())))
	} else {
		spArgs = append(spArgs, i32(0), i32(-1), i32(0), i32(0), i32(0))
	}
	spArgs = append(spArgs, origArgs...)
	if vm != nil {
		for i := 0; i < vm.NumStack(); i++ {
			spArgs = append(spArgs, vm.StackTag(i), vm.StackVal(i))
		}
		for i := 0; i < vm.NumLocals(); i++ {
			spArgs = append(spArgs, vm.LocalTag(i), vm.LocalVal(i))
		}
		for i := 0; i < vm.NumMonitors(); i++ {
			spArgs = append(spArgs, vm.Monitor(i))
		}
	}
	rec.liveStart = len(spArgs)
	spArgs = append(spArgs, rec.live...)

	spFn := pc.statepointFn()
	spName := fmt.Sprintf("statepoint.%d", rec.site.Seq())
	switch site := rec.site.(type) {
	case *ir.Call:
		sp := ir.NewCall(spName, spFn, spArgs...)
		sp.CallConv = cc
		sp.Attrs = attrs
		block.InsertBefore(sp, site)
		rec.statepoint = sp
		rec.relocBlock = block
	case *ir.Invoke:
		nd := block.Parent().NewBlockAfter(InvokeNormalDestName, block)
		nd.Append(ir.NewBr(site.NormalDest))
		for _, p := range site.NormalDest.Phis() {
			for i := range p.Incoming {
				if p.Incoming[i].Block == block {
					p.Incoming[i].Block = nd
				}
			}
		}
		sp := ir.NewInvoke(spName, spFn, spArgs, nd, site.UnwindDest)
		sp.CallConv = cc
		sp.Attrs = attrs
		block.Remove(site)
		block.Append(sp)
		rec.statepoint = sp
		rec.relocBlock = nd
	}
	rec.boundsLast = rec.statepoint

	// The site's result, when observed, is read back from the statepoint token.
	retType := rec.site.Type()
	if _, isVoid := retType.(*ir.VoidType); !isVoid && len(rec.site.Users()) > 0 {
		res := ir.NewCall(rec.site.Name()+".result", pc.resultFn(retType), rec.statepoint)
		pc.insertIntoRelocBlock(rec, res)
		rec.result = res
		rec.boundsLast = res
	}

	liveIdx := map[ir.Value]int{}
	for i, v := range rec.live {
		liveIdx[v] = i
	}
	for _, d := range rec.live {
		b := rec.bases[d]
		relName := fmt.Sprintf("%s.relocated.%d", d.Name(), rec.site.Seq())
		rel := ir.NewCall(relName, pc.relocateFn(d.Type()),
			rec.statepoint,
			i32(int64(rec.liveStart+liveIdx[b])),
			i32(int64(rec.liveStart+liveIdx[d])))
		rel.CallConv = ir.CallConvCold
		pc.insertIntoRelocBlock(rec, rel)
		rec.relocates = append(rec.relocates, rel)
		rec.boundsLast = rel
	}

	if heldDescriptor {
		pc.anchorDescriptor(vm.Call, rec)
	}

	if rec.result != nil {
		ir.ReplaceAllUsesWith(rec.site, rec.result)
	}
	if c, isCall := rec.site.(*ir.Call); isCall {
		block.Remove(c)
	}
	return nil
}

// insertIntoRelocBlock appends in at the current end of the safepoint sequence: after
// the last emitted instruction for a call site, before the rejoining branch for an
// invoke.
func (pc *passContext) insertIntoRelocBlock(rec *parsePoint, in ir.Instruction) {
	if rec.relocBlock == rec.site.Block() {
		rec.relocBlock.InsertAfter(in, rec.boundsLast)
		return
	}
	rec.relocBlock.InsertBefore(in, rec.relocBlock.Terminator())
}

// recastCallee strips the descriptor parameter from the callee's visible signature so
// the statepoint records the runtime-facing type.
func (pc *passContext) recastCallee(callee ir.Value, site ir.Instruction) ir.Value {
	sig := ir.SigOf(callee)
	if len(sig.Params) == 0 {
		return callee
	}
	stripped := &ir.FuncType{Ret: sig.Ret, Params: sig.Params[1:], Variadic: sig.Variadic}
	cast := ir.NewBitCast(callee.Name()+".cast", callee, ir.PointerTo(stripped))
	site.Block().InsertBefore(cast, site)
	return cast
}

// anchorDescriptor re-anchors a rewritten descriptor with a volatile store to the
// sentinel global, leaving the descriptor cleanup pass exactly one use to find.
func (pc *passContext) anchorDescriptor(desc *ir.Call, rec *parsePoint) {
	anchor := pc.mod.Global(ir.JVMStateAnchorName)
	if anchor == nil {
		anchor = pc.mod.NewGlobal(ir.JVMStateAnchorName, desc.Type())
	}
	st := ir.NewVolatileStore(desc, anchor)
	pc.insertIntoRelocBlock(rec, st)
	rec.boundsLast = st
}

// addBasesAsLive appends bases referenced only through their derived pointers to the
// end of the live vector, mapped to themselves, so earlier indices stay stable.
func (pc *passContext) addBasesAsLive(rec *parsePoint) {
	present := map[ir.Value]bool{}
	for _, v := range rec.live {
		present[v] = true
	}
	for _, d := range append([]ir.Value(nil), rec.live...) {
		b := rec.bases[d]
		if !present[b] {
			present[b] = true
			rec.live = append(rec.live, b)
			rec.bases[b] = b
			pc.logger.Debugf("appending unrelocated base %s to live set", b)
		}
	}
}
