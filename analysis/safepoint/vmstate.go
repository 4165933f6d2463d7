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

	"github.com/gc-tools/safepoint/analysis/ir"
)

// ErrNoVMState means no dominating abstract VM state descriptor was found for a parse
// point that requires one.
var ErrNoVMState = errors.New("no dominating VM state descriptor")

// vmStateHeaderLen is the number of leading scalar arguments of a descriptor call:
// bytecode index, stack depth, local count, monitor count.
const vmStateHeaderLen = 4

// A VMState wraps a descriptor pseudo-call. The frontend encodes the abstract
// interpreter state as the call's argument list:
//
//	[bci, nstack, nlocals, nmonitors,
//	 (tag, value) x nstack, (tag, value) x nlocals, value x nmonitors]
type VMState struct {
	Call *ir.Call
}

func asConstInt(v ir.Value) (int64, error) {
	c, ok := v.(*ir.Const)
	if !ok || c.Kind != ir.ConstInt {
		return 0, fmt.Errorf("VM state descriptor field %s is not a constant integer", v)
	}
	return c.IntVal, nil
}

func (s VMState) header(i int) int64 {
	n, err := asConstInt(s.Call.Args[i])
	if err != nil {
		panic(err)
	}
	return n
}

func (s VMState) BCI() int64       { return s.header(0) }
func (s VMState) NumStack() int    { return int(s.header(1)) }
func (s VMState) NumLocals() int   { return int(s.header(2)) }
func (s VMState) NumMonitors() int { return int(s.header(3)) }

// Validate checks the argument count against the header fields.
func (s VMState) Validate() error {
	for i := 0; i < vmStateHeaderLen; i++ {
		if _, err := asConstInt(s.Call.Args[i]); err != nil {
			return err
		}
	}
	want := vmStateHeaderLen + 2*s.NumStack() + 2*s.NumLocals() + s.NumMonitors()
	if len(s.Call.Args) != want {
		return fmt.Errorf("VM state descriptor %%%s has %d arguments, want %d",
			s.Call.Name(), len(s.Call.Args), want)
	}
	return nil
}

// StackTag and StackVal return the tag and value of the i'th operand-stack element.
func (s VMState) StackTag(i int) ir.Value { return s.Call.Args[vmStateHeaderLen+2*i] }
func (s VMState) StackVal(i int) ir.Value { return s.Call.Args[vmStateHeaderLen+2*i+1] }

// LocalTag and LocalVal return the tag and value of the i'th local variable.
func (s VMState) LocalTag(i int) ir.Value {
	return s.Call.Args[vmStateHeaderLen+2*s.NumStack()+2*i]
}

func (s VMState) LocalVal(i int) ir.Value {
	return s.Call.Args[vmStateHeaderLen+2*s.NumStack()+2*i+1]
}

// Monitor returns the i'th held monitor.
func (s VMState) Monitor(i int) ir.Value {
	return s.Call.Args[vmStateHeaderLen+2*s.NumStack()+2*s.NumLocals()+i]
}

// descriptorOf returns the VM state descriptor call held by in, if any: the descriptor
// call itself, a call carrying a descriptor as its first argument, or a store anchoring
// a descriptor.
func descriptorOf(in ir.Instruction) (*ir.Call, bool) {
	switch in := in.(type) {
	case *ir.Call:
		if ir.IsJVMStateCall(in) {
			return in, true
		}
		if len(in.Args) > 0 && ir.IsJVMStateCall(in.Args[0]) {
			return in.Args[0].(*ir.Call), true
		}
	case *ir.Store:
		if ir.IsJVMStateCall(in.Val) {
			return in.Val.(*ir.Call), true
		}
	}
	return nil, false
}

// FindVMState walks backward from at, then hops to the immediate dominator and repeats,
// until a dominating descriptor anchor is found. Reaching the entry without one is a
// failure when VM state is required.
func FindVMState(at ir.Instruction, dt *ir.DomTree) (VMState, error) {
	b := at.Block()
	idx := b.Index(at)
	for {
		for i := idx - 1; i >= 0; i-- {
			if d, ok := descriptorOf(b.Instrs[i]); ok {
				return VMState{Call: d}, nil
			}
		}
		b = dt.IDom(b)
		if b == nil {
			return VMState{}, fmt.Errorf("%w at %%%s", ErrNoVMState, at.Name())
		}
		idx = len(b.Instrs)
	}
}
