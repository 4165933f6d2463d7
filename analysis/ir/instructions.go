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

import "sync/atomic"

// An Instruction is a member of the closed instruction sum. Analyses switch
// exhaustively over the concrete kinds; an unknown kind is a diagnostic abort, never a
// silent fallthrough.
type Instruction interface {
	Value

	// Block returns the basic block the instruction is attached to, or nil.
	Block() *BasicBlock

	// Operands returns pointers to the value operand slots, so that uses can be
	// rewritten in place. Block references of terminators are not operands.
	Operands() []*Value

	IsTerminator() bool

	// Metadata reports whether the given metadata flag is attached. The pass uses
	// is_base_value on synthesized merge nodes and verifier_exception on
	// frontend-annotated int-to-pointer casts.
	Metadata(key string) bool
	SetMetadata(key string)

	// Seq is a process-unique creation sequence number, used as the stable
	// tiebreaker when ordering unnamed values.
	Seq() int64

	setBlock(*BasicBlock)
}

var instrSeq int64

type instrBase struct {
	valueBase
	block *BasicBlock
	md    map[string]bool
	seq   int64
}

func newInstrBase(name string, typ Type) instrBase {
	return instrBase{
		valueBase: valueBase{name: name, typ: typ},
		seq:       atomic.AddInt64(&instrSeq, 1),
	}
}

func (i *instrBase) Block() *BasicBlock     { return i.block }
func (i *instrBase) setBlock(b *BasicBlock) { i.block = b }
func (i *instrBase) IsTerminator() bool     { return false }
func (i *instrBase) Seq() int64             { return i.seq }
func (i *instrBase) String() string         { return "%" + i.name }

func (i *instrBase) Metadata(key string) bool { return i.md[key] }

func (i *instrBase) SetMetadata(key string) {
	if i.md == nil {
		i.md = map[string]bool{}
	}
	i.md[key] = true
}

// Metadata keys used by the pass.
const (
	// MDBaseValue marks phis and selects synthesized by the base pointer resolver.
	MDBaseValue = "is_base_value"
	// MDVerifierException marks int-to-pointer casts the frontend guarantees to be
	// manufactured base pointers.
	MDVerifierException = "verifier_exception"
)

// CallConv is the calling convention of a call.
type CallConv int

const (
	CallConvDefault CallConv = iota
	// CallConvCold tricks code generation into assuming lots of free registers at
	// the call, suppressing register pressure at relocation pseudo-calls.
	CallConvCold
)

// Alloca reserves a conceptual stack slot for a value of type Elem. Its result is a
// default-address-space pointer to the slot.
type Alloca struct {
	instrBase
	Elem Type
}

// Load reads the value stored at X.
type Load struct {
	instrBase
	X Value
}

// Store writes Val to the address Addr. It defines no value.
type Store struct {
	instrBase
	Val      Value
	Addr     Value
	Volatile bool
}

// GetElementPtr derives a pointer into the object X points to. The result shares X's
// base object.
type GetElementPtr struct {
	instrBase
	X       Value
	Indices []Value
}

// BitCast reinterprets X at another type of the same representation.
type BitCast struct {
	instrBase
	X Value
}

// IntToPtr manufactures a pointer from an integer. On GC pointer types this is invalid
// unless the frontend attached the verifier_exception metadata.
type IntToPtr struct {
	instrBase
	X Value
}

// PtrToInt observes a pointer as an integer. Never valid on GC pointer types.
type PtrToInt struct {
	instrBase
	X Value
}

// ICmp compares two integer or pointer values. Pred is one of eq, ne, slt, sle, sgt,
// sge, ult, ule, ugt, uge.
type ICmp struct {
	instrBase
	Pred string
	X, Y Value
}

// BinOp is an integer arithmetic instruction. Op is one of add, sub, mul, and, or, xor.
type BinOp struct {
	instrBase
	Op   string
	X, Y Value
}

// Incoming is one (value, predecessor) pair of a phi.
type Incoming struct {
	Value Value
	Block *BasicBlock
}

// Phi merges values flowing in from the predecessors of its block.
type Phi struct {
	instrBase
	Incoming []Incoming
}

// Select picks True or False depending on Cond.
type Select struct {
	instrBase
	Cond  Value
	True  Value
	False Value
}

// Call transfers control to Callee. Calls are the parse point candidates of the pass.
type Call struct {
	instrBase
	Callee    Value
	Args      []Value
	CallConv  CallConv
	Attrs     map[string]string
	TailCall  bool
	InlineAsm bool
}

// Invoke is a call with explicit normal and unwind continuations. It terminates its
// block and defines a value observable in the normal destination.
type Invoke struct {
	instrBase
	Callee     Value
	Args       []Value
	NormalDest *BasicBlock
	UnwindDest *BasicBlock
	CallConv   CallConv
	Attrs      map[string]string
}

// ExtractValue projects a field out of an aggregate. GC pointers inside aggregates are
// unsupported and rejected by the classifier.
type ExtractValue struct {
	instrBase
	Agg   Value
	Index int
}

// AtomicXchg atomically stores Val at Addr and yields the previous value.
type AtomicXchg struct {
	instrBase
	Addr Value
	Val  Value
}

// AtomicCmpXchg atomically replaces the value at Addr with New if it equals Old, and
// yields the loaded value.
type AtomicCmpXchg struct {
	instrBase
	Addr Value
	Old  Value
	New  Value
}

// Br branches unconditionally to Dest.
type Br struct {
	instrBase
	Dest *BasicBlock
}

// CondBr branches to Then or Else depending on Cond.
type CondBr struct {
	instrBase
	Cond Value
	Then *BasicBlock
	Else *BasicBlock
}

// IndirectBr is a computed branch. The pass rejects functions containing one.
type IndirectBr struct {
	instrBase
	Addr  Value
	Dests []*BasicBlock
}

// Ret returns from the function. X is nil for void returns.
type Ret struct {
	instrBase
	X Value
}

// Unreachable marks a point control flow can never reach.
type Unreachable struct {
	instrBase
}

func NewAlloca(name string, elem Type) *Alloca {
	return &Alloca{instrBase: newInstrBase(name, PointerTo(elem)), Elem: elem}
}

func NewLoad(name string, addr Value) *Load {
	return &Load{instrBase: newInstrBase(name, addr.Type().(*PointerType).Elem), X: addr}
}

func NewStore(val, addr Value) *Store {
	return &Store{instrBase: newInstrBase("", Void), Val: val, Addr: addr}
}

func NewVolatileStore(val, addr Value) *Store {
	s := NewStore(val, addr)
	s.Volatile = true
	return s
}

// NewGetElementPtr derives a pointer from x. The result keeps x's pointer type; the
// index granularity is immaterial to this pass.
func NewGetElementPtr(name string, x Value, indices ...Value) *GetElementPtr {
	return &GetElementPtr{instrBase: newInstrBase(name, x.Type()), X: x, Indices: indices}
}

func NewBitCast(name string, x Value, to Type) *BitCast {
	return &BitCast{instrBase: newInstrBase(name, to), X: x}
}

func NewIntToPtr(name string, x Value, to Type) *IntToPtr {
	return &IntToPtr{instrBase: newInstrBase(name, to), X: x}
}

func NewPtrToInt(name string, x Value, to Type) *PtrToInt {
	return &PtrToInt{instrBase: newInstrBase(name, to), X: x}
}

func NewICmp(name, pred string, x, y Value) *ICmp {
	return &ICmp{instrBase: newInstrBase(name, I1), Pred: pred, X: x, Y: y}
}

func NewBinOp(name, op string, x, y Value) *BinOp {
	return &BinOp{instrBase: newInstrBase(name, x.Type()), Op: op, X: x, Y: y}
}

func NewPhi(name string, typ Type) *Phi {
	return &Phi{instrBase: newInstrBase(name, typ)}
}

// AddIncoming appends an incoming (value, predecessor) pair. If the phi is attached,
// the use is registered immediately.
func (p *Phi) AddIncoming(v Value, b *BasicBlock) {
	p.Incoming = append(p.Incoming, Incoming{Value: v, Block: b})
	if p.block != nil {
		v.addUser(p)
	}
}

func NewSelect(name string, cond, tv, fv Value) *Select {
	return &Select{instrBase: newInstrBase(name, tv.Type()), Cond: cond, True: tv, False: fv}
}

// SigOf returns the function signature behind a callee value, whose type must be a
// pointer to function.
func SigOf(callee Value) *FuncType {
	if f, ok := callee.(*Function); ok {
		return f.Sig()
	}
	return callee.Type().(*PointerType).Elem.(*FuncType)
}

func NewCall(name string, callee Value, args ...Value) *Call {
	return &Call{
		instrBase: newInstrBase(name, SigOf(callee).Ret),
		Callee:    callee,
		Args:      args,
	}
}

func NewInvoke(name string, callee Value, args []Value, normal, unwind *BasicBlock) *Invoke {
	return &Invoke{
		instrBase:  newInstrBase(name, SigOf(callee).Ret),
		Callee:     callee,
		Args:       args,
		NormalDest: normal,
		UnwindDest: unwind,
	}
}

func NewExtractValue(name string, agg Value, index int) *ExtractValue {
	ft := agg.Type().(*StructType).Fields[index]
	return &ExtractValue{instrBase: newInstrBase(name, ft), Agg: agg, Index: index}
}

func NewAtomicXchg(name string, addr, val Value) *AtomicXchg {
	return &AtomicXchg{instrBase: newInstrBase(name, val.Type()), Addr: addr, Val: val}
}

func NewAtomicCmpXchg(name string, addr, old, new Value) *AtomicCmpXchg {
	return &AtomicCmpXchg{instrBase: newInstrBase(name, old.Type()), Addr: addr, Old: old, New: new}
}

func NewBr(dest *BasicBlock) *Br {
	return &Br{instrBase: newInstrBase("", Void), Dest: dest}
}

func NewCondBr(cond Value, then, els *BasicBlock) *CondBr {
	return &CondBr{instrBase: newInstrBase("", Void), Cond: cond, Then: then, Else: els}
}

func NewIndirectBr(addr Value, dests ...*BasicBlock) *IndirectBr {
	return &IndirectBr{instrBase: newInstrBase("", Void), Addr: addr, Dests: dests}
}

func NewRet(x Value) *Ret {
	return &Ret{instrBase: newInstrBase("", Void), X: x}
}

func NewUnreachable() *Unreachable {
	return &Unreachable{instrBase: newInstrBase("", Void)}
}

func (i *Alloca) Operands() []*Value { return nil }
func (i *Load) Operands() []*Value   { return []*Value{&i.X} }
func (i *Store) Operands() []*Value  { return []*Value{&i.Val, &i.Addr} }

func (i *GetElementPtr) Operands() []*Value {
	ops := []*Value{&i.X}
	for j := range i.Indices {
		ops = append(ops, &i.Indices[j])
	}
	return ops
}

func (i *BitCast) Operands() []*Value  { return []*Value{&i.X} }
func (i *IntToPtr) Operands() []*Value { return []*Value{&i.X} }
func (i *PtrToInt) Operands() []*Value { return []*Value{&i.X} }
func (i *ICmp) Operands() []*Value     { return []*Value{&i.X, &i.Y} }
func (i *BinOp) Operands() []*Value    { return []*Value{&i.X, &i.Y} }

func (i *Phi) Operands() []*Value {
	ops := make([]*Value, len(i.Incoming))
	for j := range i.Incoming {
		ops[j] = &i.Incoming[j].Value
	}
	return ops
}

func (i *Select) Operands() []*Value { return []*Value{&i.Cond, &i.True, &i.False} }

func (i *Call) Operands() []*Value {
	ops := []*Value{&i.Callee}
	for j := range i.Args {
		ops = append(ops, &i.Args[j])
	}
	return ops
}

func (i *Invoke) Operands() []*Value {
	ops := []*Value{&i.Callee}
	for j := range i.Args {
		ops = append(ops, &i.Args[j])
	}
	return ops
}

func (i *ExtractValue) Operands() []*Value  { return []*Value{&i.Agg} }
func (i *AtomicXchg) Operands() []*Value    { return []*Value{&i.Addr, &i.Val} }
func (i *AtomicCmpXchg) Operands() []*Value { return []*Value{&i.Addr, &i.Old, &i.New} }
func (i *Br) Operands() []*Value            { return nil }
func (i *CondBr) Operands() []*Value        { return []*Value{&i.Cond} }
func (i *IndirectBr) Operands() []*Value    { return []*Value{&i.Addr} }

func (i *Ret) Operands() []*Value {
	if i.X == nil {
		return nil
	}
	return []*Value{&i.X}
}

func (i *Unreachable) Operands() []*Value { return nil }

func (i *Invoke) IsTerminator() bool      { return true }
func (i *Br) IsTerminator() bool          { return true }
func (i *CondBr) IsTerminator() bool      { return true }
func (i *IndirectBr) IsTerminator() bool  { return true }
func (i *Ret) IsTerminator() bool         { return true }
func (i *Unreachable) IsTerminator() bool { return true }

// Successors returns the successor blocks of a terminator, in a stable order.
func Successors(t Instruction) []*BasicBlock {
	switch t := t.(type) {
	case *Br:
		return []*BasicBlock{t.Dest}
	case *CondBr:
		return []*BasicBlock{t.Then, t.Else}
	case *IndirectBr:
		return t.Dests
	case *Invoke:
		return []*BasicBlock{t.NormalDest, t.UnwindDest}
	default:
		return nil
	}
}

// replaceSuccessor rewrites the block references of a terminator from old to new.
func replaceSuccessor(t Instruction, old, new *BasicBlock) {
	switch t := t.(type) {
	case *Br:
		if t.Dest == old {
			t.Dest = new
		}
	case *CondBr:
		if t.Then == old {
			t.Then = new
		}
		if t.Else == old {
			t.Else = new
		}
	case *IndirectBr:
		for i, d := range t.Dests {
			if d == old {
				t.Dests[i] = new
			}
		}
	case *Invoke:
		if t.NormalDest == old {
			t.NormalDest = new
		}
		if t.UnwindDest == old {
			t.UnwindDest = new
		}
	}
}
