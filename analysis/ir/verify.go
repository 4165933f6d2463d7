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

import "fmt"

// VerifyFunction checks structural SSA well-formedness: every block ends in a
// terminator, phi incoming lists match the predecessor lists, every operand definition
// dominates its use, and use lists are consistent with operands.
func VerifyFunction(f *Function) error {
	if f.IsDeclaration() {
		return nil
	}
	if len(f.Entry().Preds()) != 0 {
		return fmt.Errorf("@%s: entry block %s has predecessors", f.Name(), f.Entry().Name())
	}
	for _, b := range f.Blocks {
		if b.Terminator() == nil {
			return fmt.Errorf("@%s: block %s does not end in a terminator", f.Name(), b.Name())
		}
		for i, in := range b.Instrs {
			if in.IsTerminator() && i != len(b.Instrs)-1 {
				return fmt.Errorf("@%s: terminator in the middle of block %s", f.Name(), b.Name())
			}
			if in.Block() != b {
				return fmt.Errorf("@%s: instruction %s has wrong parent block", f.Name(), in.Name())
			}
			if p, ok := in.(*Phi); ok {
				if i > b.FirstNonPhi() {
					return fmt.Errorf("@%s: phi %%%s after non-phi in block %s",
						f.Name(), p.Name(), b.Name())
				}
				if err := verifyPhi(f, b, p); err != nil {
					return err
				}
			}
		}
	}
	dt := BuildDomTree(f)
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if _, ok := in.(*Phi); ok {
				continue
			}
			for _, slot := range in.Operands() {
				v := *slot
				if v == nil {
					continue
				}
				if !dt.ValueDominates(v, in) {
					return fmt.Errorf("@%s: definition of %s does not dominate its use in %%%s",
						f.Name(), v, in.Name())
				}
				if !hasUser(v, in) {
					return fmt.Errorf("@%s: use list of %s is missing user %%%s",
						f.Name(), v, in.Name())
				}
			}
		}
	}
	return nil
}

func verifyPhi(f *Function, b *BasicBlock, p *Phi) error {
	preds := b.Preds()
	if len(p.Incoming) != len(preds) {
		return fmt.Errorf("@%s: phi %%%s has %d incoming values for %d predecessors",
			f.Name(), p.Name(), len(p.Incoming), len(preds))
	}
	for _, pred := range preds {
		if p.IncomingFor(pred) == nil {
			return fmt.Errorf("@%s: phi %%%s has no incoming value for predecessor %s",
				f.Name(), p.Name(), pred.Name())
		}
	}
	for _, inc := range p.Incoming {
		if !TypesEqual(inc.Value.Type(), p.Type()) && !IsUndefConst(inc.Value) {
			return fmt.Errorf("@%s: phi %%%s incoming value %s has type %s, want %s",
				f.Name(), p.Name(), inc.Value, inc.Value.Type(), p.Type())
		}
	}
	return nil
}

func hasUser(v Value, u Instruction) bool {
	for _, w := range v.Users() {
		if w == u {
			return true
		}
	}
	return false
}

// VerifyGCRules checks the collector-facing typing rules: no integer observation of a
// GC pointer, no manufactured GC pointer without the frontend annotation, no GC pointer
// stored behind a stack slot type or global, and no legacy root markers.
func VerifyGCRules(f *Function) error {
	for _, g := range f.Module().Globals {
		if containsGCPointer(g.Elem()) {
			return fmt.Errorf("global @%s holds a GC pointer", g.Name())
		}
	}
	op := &gcRuleOp{f: f}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			InstrSwitch(op, in)
			if op.err != nil {
				return op.err
			}
			for _, slot := range in.Operands() {
				if c, ok := (*slot).(*Const); ok && c.Kind == ConstInt && IsGCPointer(c.Type()) {
					return fmt.Errorf("@%s: non-null constant GC pointer operand in %%%s",
						f.Name(), in.Name())
				}
			}
		}
	}
	return nil
}

// gcRuleOp carries the per-kind rule checks; the instruction sum is closed, so the
// dispatch is total and a new kind cannot silently escape the verifier.
type gcRuleOp struct {
	f   *Function
	err error
}

func (op *gcRuleOp) DoPtrToInt(in *PtrToInt) {
	if IsGCPointer(in.X.Type()) {
		op.err = fmt.Errorf("@%s: ptrtoint on GC pointer %s", op.f.Name(), in.X)
	}
}

func (op *gcRuleOp) DoIntToPtr(in *IntToPtr) {
	if IsGCPointer(in.Type()) && !in.Metadata(MDVerifierException) {
		op.err = fmt.Errorf("@%s: inttoptr produces GC pointer %%%s without %s",
			op.f.Name(), in.Name(), MDVerifierException)
	}
}

func (op *gcRuleOp) DoAlloca(in *Alloca) {
	if containsGCPointer(in.Elem) {
		op.err = fmt.Errorf("@%s: alloca %%%s holds a GC pointer", op.f.Name(), in.Name())
	}
}

func (op *gcRuleOp) DoCall(in *Call) {
	if CalleeName(in.Callee) == GCRootName {
		op.err = fmt.Errorf("@%s: legacy %s marker present", op.f.Name(), GCRootName)
	}
}

// The remaining kinds carry no kind-specific rule; the shared constant-operand scan
// still applies to them.
func (op *gcRuleOp) DoLoad(*Load)                   {}
func (op *gcRuleOp) DoStore(*Store)                 {}
func (op *gcRuleOp) DoGetElementPtr(*GetElementPtr) {}
func (op *gcRuleOp) DoBitCast(*BitCast)             {}
func (op *gcRuleOp) DoICmp(*ICmp)                   {}
func (op *gcRuleOp) DoBinOp(*BinOp)                 {}
func (op *gcRuleOp) DoPhi(*Phi)                     {}
func (op *gcRuleOp) DoSelect(*Select)               {}
func (op *gcRuleOp) DoInvoke(*Invoke)               {}
func (op *gcRuleOp) DoExtractValue(*ExtractValue)   {}
func (op *gcRuleOp) DoAtomicXchg(*AtomicXchg)       {}
func (op *gcRuleOp) DoAtomicCmpXchg(*AtomicCmpXchg) {}
func (op *gcRuleOp) DoBr(*Br)                       {}
func (op *gcRuleOp) DoCondBr(*CondBr)               {}
func (op *gcRuleOp) DoIndirectBr(*IndirectBr)       {}
func (op *gcRuleOp) DoRet(*Ret)                     {}
func (op *gcRuleOp) DoUnreachable(*Unreachable)     {}

func containsGCPointer(t Type) bool {
	switch t := t.(type) {
	case *PointerType:
		return t.AddrSpace == GCAddrSpace
	case *StructType:
		for _, ft := range t.Fields {
			if containsGCPointer(ft) {
				return true
			}
		}
	}
	return false
}
