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

// A Value is an SSA value: a constant, a function argument, a global, a function, or
// the result of an instruction. Values track their users so that the pass can rewrite
// uses after relocation.
type Value interface {
	Name() string
	SetName(string)
	Type() Type
	String() string

	// Users returns the attached instructions that use this value, one entry per
	// operand slot.
	Users() []Instruction

	addUser(Instruction)
	removeUser(Instruction)
}

type valueBase struct {
	name  string
	typ   Type
	users []Instruction
}

func (v *valueBase) Name() string         { return v.name }
func (v *valueBase) SetName(n string)     { v.name = n }
func (v *valueBase) Type() Type           { return v.typ }
func (v *valueBase) Users() []Instruction { return v.users }

func (v *valueBase) addUser(u Instruction) { v.users = append(v.users, u) }

func (v *valueBase) removeUser(u Instruction) {
	for i, w := range v.users {
		if w == u {
			v.users = append(v.users[:i], v.users[i+1:]...)
			return
		}
	}
}

// An Argument is a formal parameter of a function. Arguments are always base pointers.
type Argument struct {
	valueBase
	parent *Function
	index  int
}

func (a *Argument) Parent() *Function { return a.parent }
func (a *Argument) Index() int        { return a.index }
func (a *Argument) String() string    { return "%" + a.name }

// A Global is a module-level variable. Its value type is a pointer to Elem.
type Global struct {
	valueBase
	parent *Module
}

func (g *Global) Parent() *Module { return g.parent }
func (g *Global) String() string  { return "@" + g.name }

// Elem returns the pointee type of the global.
func (g *Global) Elem() Type { return g.typ.(*PointerType).Elem }

// ConstKind discriminates the constant values the IR supports. Non-null constant GC
// pointers are not representable; the frontend never produces them and the base pointer
// classifier rejects them.
type ConstKind int

const (
	ConstInt ConstKind = iota
	ConstNull
	ConstUndef
)

// A Const is a constant value.
type Const struct {
	valueBase
	Kind   ConstKind
	IntVal int64
}

func (c *Const) String() string {
	switch c.Kind {
	case ConstNull:
		return "null"
	case ConstUndef:
		return "undef"
	default:
		return fmt.Sprintf("%d", c.IntVal)
	}
}

// NewIntConst returns an integer constant of the given type.
func NewIntConst(typ Type, v int64) *Const {
	return &Const{valueBase: valueBase{typ: typ}, Kind: ConstInt, IntVal: v}
}

// NewNull returns the null pointer constant of the given pointer type.
func NewNull(typ Type) *Const {
	return &Const{valueBase: valueBase{typ: typ}, Kind: ConstNull}
}

// NewUndef returns an undef constant of the given type.
func NewUndef(typ Type) *Const {
	return &Const{valueBase: valueBase{typ: typ}, Kind: ConstUndef}
}

// IsNullConst reports whether v is a null pointer constant.
func IsNullConst(v Value) bool {
	c, ok := v.(*Const)
	return ok && c.Kind == ConstNull
}

// IsUndefConst reports whether v is an undef constant.
func IsUndefConst(v Value) bool {
	c, ok := v.(*Const)
	return ok && c.Kind == ConstUndef
}

// ReplaceAllUsesWith rewrites every use of old to new and updates the use lists.
func ReplaceAllUsesWith(old, new Value) {
	users := append([]Instruction(nil), old.Users()...)
	for _, u := range users {
		ReplaceUsesOfWith(u, old, new)
	}
}

// SetOperand assigns v to the idx'th operand slot of u. Use lists are updated only
// when u is attached to a block, matching the attach-time registration rule.
func SetOperand(u Instruction, idx int, v Value) {
	slot := u.Operands()[idx]
	if u.Block() != nil {
		if *slot != nil {
			(*slot).removeUser(u)
		}
		if v != nil {
			v.addUser(u)
		}
	}
	*slot = v
}

// ReplaceUsesOfWith rewrites the operand slots of u holding old to new.
func ReplaceUsesOfWith(u Instruction, old, new Value) {
	for _, slot := range u.Operands() {
		if *slot == old {
			*slot = new
			old.removeUser(u)
			new.addUser(u)
		}
	}
}
