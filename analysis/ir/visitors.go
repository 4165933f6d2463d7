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

// An InstrOp contains the methods necessary to implement an exhaustive switch on
// Instruction. Since the instruction sum is closed, every analysis built on InstrSwitch
// is total by construction.
type InstrOp interface {
	DoAlloca(*Alloca)
	DoLoad(*Load)
	DoStore(*Store)
	DoGetElementPtr(*GetElementPtr)
	DoBitCast(*BitCast)
	DoIntToPtr(*IntToPtr)
	DoPtrToInt(*PtrToInt)
	DoICmp(*ICmp)
	DoBinOp(*BinOp)
	DoPhi(*Phi)
	DoSelect(*Select)
	DoCall(*Call)
	DoInvoke(*Invoke)
	DoExtractValue(*ExtractValue)
	DoAtomicXchg(*AtomicXchg)
	DoAtomicCmpXchg(*AtomicCmpXchg)
	DoBr(*Br)
	DoCondBr(*CondBr)
	DoIndirectBr(*IndirectBr)
	DoRet(*Ret)
	DoUnreachable(*Unreachable)
}

// InstrSwitch applies the correct function from the InstrOp for the concrete kind of in.
//
//gocyclo:ignore
func InstrSwitch(op InstrOp, in Instruction) {
	switch instr := in.(type) {
	case *Alloca:
		op.DoAlloca(instr)
	case *Load:
		op.DoLoad(instr)
	case *Store:
		op.DoStore(instr)
	case *GetElementPtr:
		op.DoGetElementPtr(instr)
	case *BitCast:
		op.DoBitCast(instr)
	case *IntToPtr:
		op.DoIntToPtr(instr)
	case *PtrToInt:
		op.DoPtrToInt(instr)
	case *ICmp:
		op.DoICmp(instr)
	case *BinOp:
		op.DoBinOp(instr)
	case *Phi:
		op.DoPhi(instr)
	case *Select:
		op.DoSelect(instr)
	case *Call:
		op.DoCall(instr)
	case *Invoke:
		op.DoInvoke(instr)
	case *ExtractValue:
		op.DoExtractValue(instr)
	case *AtomicXchg:
		op.DoAtomicXchg(instr)
	case *AtomicCmpXchg:
		op.DoAtomicCmpXchg(instr)
	case *Br:
		op.DoBr(instr)
	case *CondBr:
		op.DoCondBr(instr)
	case *IndirectBr:
		op.DoIndirectBr(instr)
	case *Ret:
		op.DoRet(instr)
	case *Unreachable:
		op.DoUnreachable(instr)
	}
}
