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

// A Function is a module-level function. A function with no blocks is a declaration.
// The value type of a function is a pointer to its signature, so a function can appear
// directly as a call operand.
type Function struct {
	valueBase
	mod    *Module
	Params []*Argument
	Blocks []*BasicBlock
	Attrs  map[string]string
}

func (f *Function) String() string  { return "@" + f.name }
func (f *Function) Module() *Module { return f.mod }

// Sig returns the signature of the function.
func (f *Function) Sig() *FuncType { return f.typ.(*PointerType).Elem.(*FuncType) }

// IsDeclaration reports whether the function has no body.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Entry returns the entry block.
func (f *Function) Entry() *BasicBlock { return f.Blocks[0] }

// Attr returns the value of a function attribute, and whether it is present.
func (f *Function) Attr(key string) (string, bool) {
	v, ok := f.Attrs[key]
	return v, ok
}

func (f *Function) SetAttr(key, value string) {
	if f.Attrs == nil {
		f.Attrs = map[string]string{}
	}
	f.Attrs[key] = value
}

// NewBlock appends a fresh empty block named name.
func (f *Function) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{name: name, parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// NewBlockAfter inserts a fresh empty block named name right after pos in the block
// list. Block list order is layout only; it carries no semantics beyond the entry block
// coming first.
func (f *Function) NewBlockAfter(name string, pos *BasicBlock) *BasicBlock {
	b := &BasicBlock{name: name, parent: f}
	for i, q := range f.Blocks {
		if q == pos {
			f.Blocks = append(f.Blocks, nil)
			copy(f.Blocks[i+2:], f.Blocks[i+1:])
			f.Blocks[i+1] = b
			return b
		}
	}
	panic(fmt.Sprintf("block %s not in function %s", pos.Name(), f.name))
}

// NewBlockBefore inserts a fresh empty block named name right before pos in the block
// list. Inserting before the entry block makes the new block the entry.
func (f *Function) NewBlockBefore(name string, pos *BasicBlock) *BasicBlock {
	b := &BasicBlock{name: name, parent: f}
	for i, q := range f.Blocks {
		if q == pos {
			f.Blocks = append(f.Blocks, nil)
			copy(f.Blocks[i+1:], f.Blocks[i:])
			f.Blocks[i] = b
			return b
		}
	}
	panic(fmt.Sprintf("block %s not in function %s", pos.Name(), f.name))
}

// Block returns the block named name, or nil.
func (f *Function) Block(name string) *BasicBlock {
	for _, b := range f.Blocks {
		if b.name == name {
			return b
		}
	}
	return nil
}

// RemoveBlock detaches every instruction of b and removes it from the function.
func (f *Function) RemoveBlock(b *BasicBlock) {
	for i := len(b.Instrs) - 1; i >= 0; i-- {
		b.Remove(b.Instrs[i])
	}
	for i, q := range f.Blocks {
		if q == b {
			f.Blocks = append(f.Blocks[:i], f.Blocks[i+1:]...)
			return
		}
	}
}

// RemoveUnreachableBlocks drops blocks not reachable from the entry, fixing up the phi
// incoming lists of surviving blocks. Returns the number of blocks removed.
func (f *Function) RemoveUnreachableBlocks() int {
	if f.IsDeclaration() {
		return 0
	}
	reachable := map[*BasicBlock]bool{}
	queue := []*BasicBlock{f.Entry()}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if reachable[b] {
			continue
		}
		reachable[b] = true
		queue = append(queue, b.Succs()...)
	}
	var dead []*BasicBlock
	for _, b := range f.Blocks {
		if !reachable[b] {
			dead = append(dead, b)
		}
	}
	for _, b := range dead {
		for _, s := range b.Succs() {
			if !reachable[s] {
				continue
			}
			for _, p := range s.Phis() {
				p.RemoveIncoming(b)
			}
		}
	}
	for _, b := range dead {
		f.RemoveBlock(b)
	}
	return len(dead)
}

// RemoveIncoming drops the incoming pairs of p whose predecessor is b.
func (p *Phi) RemoveIncoming(b *BasicBlock) {
	out := p.Incoming[:0]
	for _, in := range p.Incoming {
		if in.Block == b {
			if p.block != nil && in.Value != nil {
				in.Value.removeUser(p)
			}
			continue
		}
		out = append(out, in)
	}
	p.Incoming = out
}

// IncomingFor returns the value flowing into p from predecessor b, or nil.
func (p *Phi) IncomingFor(b *BasicBlock) Value {
	for _, in := range p.Incoming {
		if in.Block == b {
			return in.Value
		}
	}
	return nil
}
