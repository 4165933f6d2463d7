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

// Package inline splices the body of a zero-argument void function into a caller at a
// chosen instruction. It supports exactly the shape the poll function is required to
// have; anything fancier (parameters, invokes, allocas, unreachable exits) is rejected
// up front rather than half-inlined.
package inline

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gc-tools/safepoint/analysis/ir"
)

var (
	// ErrMissingBody means the function to inline is only a declaration.
	ErrMissingBody = errors.New("inline: function has no body")

	// ErrNoNormalExit means no return is reachable from the function's entry.
	ErrNoNormalExit = errors.New("inline: function has no reachable normal exit")

	// ErrUnsupportedBody means the body contains an instruction the inliner does not
	// handle: an invoke, an alloca, or an indirect branch.
	ErrUnsupportedBody = errors.New("inline: unsupported instruction in body")
)

// Body inlines callee immediately before at, which may be any non-phi instruction,
// including the block terminator.
// callee must take no parameters and return void. The caller's block is split at at;
// every path through the inlined body rejoins in front of at. Returns the newly
// materialized instructions in layout order.
func Body(callee *ir.Function, at ir.Instruction, suffix int) ([]ir.Instruction, error) {
	if err := checkInlinable(callee); err != nil {
		return nil, err
	}
	host := at.Block()
	fn := host.Parent()

	// Split so that at and everything after it start the continuation block.
	var cont *ir.BasicBlock
	idx := host.Index(at)
	if idx == 0 {
		// Nothing precedes at; introduce an empty predecessor to splice into.
		cont = host
		host = splitEdgeBefore(fn, cont, suffix)
	} else {
		cont = host.SplitAfter(host.Instrs[idx-1], inlName(callee, "cont", suffix))
	}

	// host now ends with a branch to cont; the inlined body replaces that branch.
	br := host.Terminator()

	blockMap := map[*ir.BasicBlock]*ir.BasicBlock{}
	for _, b := range callee.Blocks {
		nb := fn.NewBlockAfter(inlName(callee, b.Name(), suffix), host)
		blockMap[b] = nb
	}
	valueMap := map[ir.Value]ir.Value{}
	var created []ir.Instruction
	for _, b := range callee.Blocks {
		nb := blockMap[b]
		for _, in := range b.Instrs {
			ni, err := cloneInstr(in, valueMap, blockMap, cont)
			if err != nil {
				return nil, err
			}
			nb.Append(ni)
			valueMap[in] = ni
			created = append(created, ni)
		}
	}
	// Remap phi incoming edges of the cloned body. Incoming values can reference
	// clones that did not exist yet when the phi itself was cloned.
	for _, ni := range created {
		if p, ok := ni.(*ir.Phi); ok {
			for i := range p.Incoming {
				p.Incoming[i].Block = blockMap[p.Incoming[i].Block]
				if nv, ok := valueMap[p.Incoming[i].Value]; ok {
					ir.SetOperand(p, i, nv)
				}
			}
		}
	}

	host.Remove(br)
	host.Append(ir.NewBr(blockMap[callee.Entry()]))
	return created, nil
}

func inlName(callee *ir.Function, base string, suffix int) string {
	return callee.Name() + "." + base + "." + strconv.Itoa(suffix)
}

// splitEdgeBefore makes cont's body the continuation of a fresh empty block placed in
// front of it, redirecting every edge into cont.
func splitEdgeBefore(fn *ir.Function, cont *ir.BasicBlock, suffix int) *ir.BasicBlock {
	head := fn.NewBlockBefore(cont.Name()+".split."+strconv.Itoa(suffix), cont)
	preds := append([]*ir.BasicBlock(nil), cont.Preds()...)
	for _, p := range preds {
		t := p.Terminator()
		p.Remove(t)
		redirect(t, cont, head)
		p.Append(t)
	}
	for _, p := range cont.Phis() {
		for i := range p.Incoming {
			p.Incoming[i].Block = head
		}
	}
	head.Append(ir.NewBr(cont))
	return head
}

func redirect(t ir.Instruction, old, new *ir.BasicBlock) {
	switch t := t.(type) {
	case *ir.Br:
		if t.Dest == old {
			t.Dest = new
		}
	case *ir.CondBr:
		if t.Then == old {
			t.Then = new
		}
		if t.Else == old {
			t.Else = new
		}
	case *ir.Invoke:
		if t.NormalDest == old {
			t.NormalDest = new
		}
		if t.UnwindDest == old {
			t.UnwindDest = new
		}
	case *ir.IndirectBr:
		for i, d := range t.Dests {
			if d == old {
				t.Dests[i] = new
			}
		}
	}
}

func checkInlinable(callee *ir.Function) error {
	if callee.IsDeclaration() {
		return fmt.Errorf("%w: @%s", ErrMissingBody, callee.Name())
	}
	if len(callee.Sig().Params) != 0 {
		return fmt.Errorf("inline: @%s takes parameters", callee.Name())
	}
	exitReachable := false
	memo := map[[2]*ir.BasicBlock]bool{}
	for _, b := range callee.Blocks {
		switch b.Terminator().(type) {
		case *ir.Ret:
			if b == callee.Entry() || callee.Entry().HasPathTo(b, memo) {
				exitReachable = true
			}
		}
		for _, in := range b.Instrs {
			switch in.(type) {
			case *ir.Invoke, *ir.Alloca, *ir.IndirectBr:
				return fmt.Errorf("%w: %T in @%s", ErrUnsupportedBody, in, callee.Name())
			}
		}
	}
	if !exitReachable {
		return fmt.Errorf("%w: @%s", ErrNoNormalExit, callee.Name())
	}
	return nil
}

// cloneInstr copies in, mapping operands through valueMap and branch targets through
// blockMap. Returns become branches to cont.
//
//gocyclo:ignore
func cloneInstr(in ir.Instruction, valueMap map[ir.Value]ir.Value,
	blockMap map[*ir.BasicBlock]*ir.BasicBlock, cont *ir.BasicBlock) (ir.Instruction, error) {

	mv := func(v ir.Value) ir.Value {
		if nv, ok := valueMap[v]; ok {
			return nv
		}
		return v
	}
	mvs := func(vs []ir.Value) []ir.Value {
		out := make([]ir.Value, len(vs))
		for i, v := range vs {
			out[i] = mv(v)
		}
		return out
	}

	switch in := in.(type) {
	case *ir.Load:
		return ir.NewLoad(in.Name(), mv(in.X)), nil
	case *ir.Store:
		st := ir.NewStore(mv(in.Val), mv(in.Addr))
		st.Volatile = in.Volatile
		return st, nil
	case *ir.GetElementPtr:
		return ir.NewGetElementPtr(in.Name(), mv(in.X), mvs(in.Indices)...), nil
	case *ir.BitCast:
		return ir.NewBitCast(in.Name(), mv(in.X), in.Type()), nil
	case *ir.IntToPtr:
		ni := ir.NewIntToPtr(in.Name(), mv(in.X), in.Type())
		if in.Metadata(ir.MDVerifierException) {
			ni.SetMetadata(ir.MDVerifierException)
		}
		return ni, nil
	case *ir.PtrToInt:
		return ir.NewPtrToInt(in.Name(), mv(in.X), in.Type()), nil
	case *ir.ICmp:
		return ir.NewICmp(in.Name(), in.Pred, mv(in.X), mv(in.Y)), nil
	case *ir.BinOp:
		return ir.NewBinOp(in.Name(), in.Op, mv(in.X), mv(in.Y)), nil
	case *ir.Phi:
		np := ir.NewPhi(in.Name(), in.Type())
		for _, inc := range in.Incoming {
			// Blocks are remapped by the caller after all clones exist.
			np.Incoming = append(np.Incoming, ir.Incoming{Value: mv(inc.Value), Block: inc.Block})
		}
		return np, nil
	case *ir.Select:
		return ir.NewSelect(in.Name(), mv(in.Cond), mv(in.True), mv(in.False)), nil
	case *ir.Call:
		nc := ir.NewCall(in.Name(), mv(in.Callee), mvs(in.Args)...)
		nc.CallConv = in.CallConv
		nc.TailCall = in.TailCall
		nc.InlineAsm = in.InlineAsm
		for k, v := range in.Attrs {
			if nc.Attrs == nil {
				nc.Attrs = map[string]string{}
			}
			nc.Attrs[k] = v
		}
		return nc, nil
	case *ir.ExtractValue:
		return ir.NewExtractValue(in.Name(), mv(in.Agg), in.Index), nil
	case *ir.AtomicXchg:
		return ir.NewAtomicXchg(in.Name(), mv(in.Addr), mv(in.Val)), nil
	case *ir.AtomicCmpXchg:
		return ir.NewAtomicCmpXchg(in.Name(), mv(in.Addr), mv(in.Old), mv(in.New)), nil
	case *ir.Br:
		return ir.NewBr(blockMap[in.Dest]), nil
	case *ir.CondBr:
		return ir.NewCondBr(mv(in.Cond), blockMap[in.Then], blockMap[in.Else]), nil
	case *ir.Ret:
		return ir.NewBr(cont), nil
	case *ir.Unreachable:
		return ir.NewUnreachable(), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedBody, in)
}
