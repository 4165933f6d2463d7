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

import (
	"fmt"
	"strings"
)

// GCAddrSpace is the distinguished address-space marker of pointers to garbage
// collected objects. A value of such a type denotes null, undef, or a reference to a
// heap object; no arithmetic crossing the pointer/integer boundary is permitted on it.
const GCAddrSpace = 1

// A Type is the type of an IR value.
type Type interface {
	String() string
	isType()
}

// VoidType is the type of instructions that define no value.
type VoidType struct{}

// IntType is an integer type of the given bit width.
type IntType struct{ Bits int }

// FloatType is a floating point type of the given bit width.
type FloatType struct{ Bits int }

// PointerType is a pointer to Elem in address space AddrSpace.
type PointerType struct {
	Elem      Type
	AddrSpace int
}

// StructType is an aggregate of the given field types.
type StructType struct{ Fields []Type }

// FuncType is a function signature.
type FuncType struct {
	Ret      Type
	Params   []Type
	Variadic bool
}

func (*VoidType) isType()    {}
func (*IntType) isType()     {}
func (*FloatType) isType()   {}
func (*PointerType) isType() {}
func (*StructType) isType()  {}
func (*FuncType) isType()    {}

func (*VoidType) String() string    { return "void" }
func (t *IntType) String() string   { return fmt.Sprintf("i%d", t.Bits) }
func (t *FloatType) String() string { return fmt.Sprintf("f%d", t.Bits) }

func (t *PointerType) String() string {
	if t.AddrSpace == 0 {
		return fmt.Sprintf("(ptr %s)", t.Elem)
	}
	return fmt.Sprintf("(ptr %s addrspace %d)", t.Elem, t.AddrSpace)
}

func (t *StructType) String() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("(struct %s)", strings.Join(parts, " "))
}

func (t *FuncType) String() string {
	parts := make([]string, len(t.Params))
	for i, p := range t.Params {
		parts[i] = p.String()
	}
	v := ""
	if t.Variadic {
		v = " variadic"
	}
	return fmt.Sprintf("(fn %s (%s)%s)", t.Ret, strings.Join(parts, " "), v)
}

// Shared singletons for the common types.
var (
	Void = &VoidType{}
	I1   = &IntType{Bits: 1}
	I8   = &IntType{Bits: 8}
	I32  = &IntType{Bits: 32}
	I64  = &IntType{Bits: 64}
	F32  = &FloatType{Bits: 32}
	F64  = &FloatType{Bits: 64}
)

// PointerTo returns the type of pointers to elem in the default address space.
func PointerTo(elem Type) *PointerType { return &PointerType{Elem: elem} }

// GCPointerTo returns the type of GC pointers to elem.
func GCPointerTo(elem Type) *PointerType {
	return &PointerType{Elem: elem, AddrSpace: GCAddrSpace}
}

// FuncOf returns a function signature.
func FuncOf(ret Type, params ...Type) *FuncType { return &FuncType{Ret: ret, Params: params} }

// VariadicFuncOf returns a variadic function signature.
func VariadicFuncOf(ret Type, params ...Type) *FuncType {
	return &FuncType{Ret: ret, Params: params, Variadic: true}
}

// IsGCPointer reports whether t is a pointer type tagged with the GC address space.
func IsGCPointer(t Type) bool {
	pt, ok := t.(*PointerType)
	return ok && pt.AddrSpace == GCAddrSpace
}

// IsPointer reports whether t is any pointer type.
func IsPointer(t Type) bool {
	_, ok := t.(*PointerType)
	return ok
}

// TypesEqual reports structural type equality.
func TypesEqual(a, b Type) bool {
	switch ta := a.(type) {
	case *VoidType:
		_, ok := b.(*VoidType)
		return ok
	case *IntType:
		tb, ok := b.(*IntType)
		return ok && ta.Bits == tb.Bits
	case *FloatType:
		tb, ok := b.(*FloatType)
		return ok && ta.Bits == tb.Bits
	case *PointerType:
		tb, ok := b.(*PointerType)
		return ok && ta.AddrSpace == tb.AddrSpace && TypesEqual(ta.Elem, tb.Elem)
	case *StructType:
		tb, ok := b.(*StructType)
		if !ok || len(ta.Fields) != len(tb.Fields) {
			return false
		}
		for i := range ta.Fields {
			if !TypesEqual(ta.Fields[i], tb.Fields[i]) {
				return false
			}
		}
		return true
	case *FuncType:
		tb, ok := b.(*FuncType)
		if !ok || ta.Variadic != tb.Variadic || len(ta.Params) != len(tb.Params) {
			return false
		}
		if !TypesEqual(ta.Ret, tb.Ret) {
			return false
		}
		for i := range ta.Params {
			if !TypesEqual(ta.Params[i], tb.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}
