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

// A BasicBlock is a straight-line sequence of instructions ending in a terminator.
// Predecessor lists are maintained automatically when terminators are attached and
// detached.
type BasicBlock struct {
	name   string
	parent *Function
	Instrs []Instruction
	preds  []*BasicBlock
}

func (b *BasicBlock) Name() string       { return b.name }
func (b *BasicBlock) SetName(n string)   { b.name = n }
func (b *BasicBlock) Parent() *Function  { return b.parent }
func (b *BasicBlock) String() string     { return b.name }
func (b *BasicBlock) NumInstrs() int     { return len(b.Instrs) }

// Preds returns the predecessor blocks. The slice is shared; callers must not mutate it.
func (b *BasicBlock) Preds() []*BasicBlock { return b.preds }

// Succs returns the successor blocks of the terminator, or nil if the block has none
// yet.
func (b *BasicBlock) Succs() []*BasicBlock {
	t := b.Terminator()
	if t == nil {
		return nil
	}
	return Successors(t)
}

// Terminator returns the final instruction if it is a terminator, else nil.
func (b *BasicBlock) Terminator() Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	t := b.Instrs[len(b.Instrs)-1]
	if !t.IsTerminator() {
		return nil
	}
	return t
}

// FirstNonPhi returns the index of the first instruction that is not a phi.
func (b *BasicBlock) FirstNonPhi() int {
	for i, in := range b.Instrs {
		if _, ok := in.(*Phi); !ok {
			return i
		}
	}
	return len(b.Instrs)
}

// Phis returns the leading phi instructions of the block.
func (b *BasicBlock) Phis() []*Phi {
	var phis []*Phi
	for _, in := range b.Instrs {
		p, ok := in.(*Phi)
		if !ok {
			break
		}
		phis = append(phis, p)
	}
	return phis
}

// Index returns the position of in within the block, or -1.
func (b *BasicBlock) Index(in Instruction) int {
	for i, x := range b.Instrs {
		if x == in {
			return i
		}
	}
	return -1
}

// attach registers the operand uses of in and, for terminators, the predecessor edges
// it induces.
func (b *BasicBlock) attach(in Instruction) {
	if in.Block() != nil {
		panic(fmt.Sprintf("instruction %s already attached", in.Name()))
	}
	in.setBlock(b)
	for _, slot := range in.Operands() {
		if *slot != nil {
			(*slot).addUser(in)
		}
	}
	if in.IsTerminator() {
		for _, s := range Successors(in) {
			s.preds = append(s.preds, b)
		}
	}
}

func (b *BasicBlock) detach(in Instruction) {
	for _, slot := range in.Operands() {
		if *slot != nil {
			(*slot).removeUser(in)
		}
	}
	if in.IsTerminator() {
		for _, s := range Successors(in) {
			s.removePred(b)
		}
	}
	in.setBlock(nil)
}

func (b *BasicBlock) removePred(p *BasicBlock) {
	for i, q := range b.preds {
		if q == p {
			b.preds = append(b.preds[:i], b.preds[i+1:]...)
			return
		}
	}
}

// Append adds in at the end of the block.
func (b *BasicBlock) Append(in Instruction) {
	b.attach(in)
	b.Instrs = append(b.Instrs, in)
}

// InsertBefore places in immediately before pos, which must belong to the block.
func (b *BasicBlock) InsertBefore(in Instruction, pos Instruction) {
	i := b.Index(pos)
	if i < 0 {
		panic(fmt.Sprintf("insertion point %s not in block %s", pos.Name(), b.name))
	}
	b.attach(in)
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[i+1:], b.Instrs[i:])
	b.Instrs[i] = in
}

// InsertAfter places in immediately after pos, which must belong to the block.
func (b *BasicBlock) InsertAfter(in Instruction, pos Instruction) {
	i := b.Index(pos)
	if i < 0 {
		panic(fmt.Sprintf("insertion point %s not in block %s", pos.Name(), b.name))
	}
	b.attach(in)
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[i+2:], b.Instrs[i+1:])
	b.Instrs[i+1] = in
}

// InsertAt places in at index i of the block.
func (b *BasicBlock) InsertAt(in Instruction, i int) {
	b.attach(in)
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[i+1:], b.Instrs[i:])
	b.Instrs[i] = in
}

// Remove detaches in from the block. Uses of in are untouched; the caller is expected
// to have rewritten or checked them.
func (b *BasicBlock) Remove(in Instruction) {
	i := b.Index(in)
	if i < 0 {
		panic(fmt.Sprintf("instruction %s not in block %s", in.Name(), b.name))
	}
	b.detach(in)
	b.Instrs = append(b.Instrs[:i], b.Instrs[i+1:]...)
}

// ReplaceTerminator swaps the block terminator for t, rewiring predecessor edges.
func (b *BasicBlock) ReplaceTerminator(t Instruction) {
	old := b.Terminator()
	if old != nil {
		b.Remove(old)
	}
	b.Append(t)
}

// SplitAfter moves every instruction after pos into a fresh block named name, ends the
// original block with a branch to it, and redirects successor phis. It returns the new
// block.
func (b *BasicBlock) SplitAfter(pos Instruction, name string) *BasicBlock {
	i := b.Index(pos)
	if i < 0 {
		panic(fmt.Sprintf("split point %s not in block %s", pos.Name(), b.name))
	}
	nb := b.parent.NewBlockAfter(name, b)
	tail := append([]Instruction(nil), b.Instrs[i+1:]...)
	for j := len(tail) - 1; j >= 0; j-- {
		b.Remove(tail[j])
	}
	for _, in := range tail {
		nb.Append(in)
	}
	// Phis in the successors still name b as the incoming block.
	for _, s := range nb.Succs() {
		for _, p := range s.Phis() {
			for k := range p.Incoming {
				if p.Incoming[k].Block == b {
					p.Incoming[k].Block = nb
				}
			}
		}
	}
	b.Append(NewBr(nb))
	return nb
}

// HasPathTo determines whether there is a path from b to dest in the CFG. The memo maps
// pairs already resolved by earlier queries.
func (b *BasicBlock) HasPathTo(dest *BasicBlock, memo map[[2]*BasicBlock]bool) bool {
	key := [2]*BasicBlock{b, dest}
	if r, ok := memo[key]; ok {
		return r
	}
	visited := map[*BasicBlock]bool{}
	queue := []*BasicBlock{b}
	found := false
	for len(queue) > 0 && !found {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, s := range cur.Succs() {
			if s == dest {
				found = true
				break
			}
			if !visited[s] {
				queue = append(queue, s)
			}
		}
	}
	memo[key] = found
	return found
}
