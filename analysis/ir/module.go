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
	"strconv"
	"strings"
)

// A Module is a set of functions and globals sharing one symbol namespace.
type Module struct {
	Name    string
	Funcs   []*Function
	Globals []*Global
}

func NewModule(name string) *Module {
	return &Module{Name: name}
}

// NewFunction creates and registers a function named name with the given signature.
// Argument names default to arg0, arg1, ...
func (m *Module) NewFunction(name string, sig *FuncType, paramNames ...string) *Function {
	f := &Function{
		valueBase: valueBase{name: name, typ: PointerTo(sig)},
		mod:       m,
	}
	for i, pt := range sig.Params {
		pn := "arg" + strconv.Itoa(i)
		if i < len(paramNames) && paramNames[i] != "" {
			pn = paramNames[i]
		}
		f.Params = append(f.Params, &Argument{
			valueBase: valueBase{name: pn, typ: pt},
			parent:    f,
			index:     i,
		})
	}
	m.Funcs = append(m.Funcs, f)
	return f
}

// GetOrInsertFunction returns the function named name, creating a declaration with the
// given signature if it does not exist.
func (m *Module) GetOrInsertFunction(name string, sig *FuncType) *Function {
	if f := m.Func(name); f != nil {
		return f
	}
	return m.NewFunction(name, sig)
}

// Func returns the function named name, or nil.
func (m *Module) Func(name string) *Function {
	for _, f := range m.Funcs {
		if f.name == name {
			return f
		}
	}
	return nil
}

// NewGlobal creates and registers a global variable holding a value of type elem.
func (m *Module) NewGlobal(name string, elem Type) *Global {
	g := &Global{
		valueBase: valueBase{name: name, typ: PointerTo(elem)},
		parent:    m,
	}
	m.Globals = append(m.Globals, g)
	return g
}

// Global returns the global named name, or nil.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.name == name {
			return g
		}
	}
	return nil
}

// Well-known symbol names recognized by the pass.
const (
	// SafepointPollName is the module-provided poll function whose body is inlined
	// at each poll site.
	SafepointPollName = "gc.safepoint_poll"

	// StatepointName is the variadic statepoint pseudo-call.
	StatepointName = "gc.statepoint"

	// RelocatePrefix prefixes the typed gc.relocate pseudo-call family.
	RelocatePrefix = "gc.relocate"

	// ResultPrefix prefixes the gc.result.int, gc.result.float and gc.result.ptr
	// pseudo-calls.
	ResultPrefix = "gc.result"

	// JVMStatePrefix prefixes the abstract VM state descriptor calls the frontend
	// emits.
	JVMStatePrefix = "jvmstate_"

	// JVMStateAnchorName is the global the rewriter stores each call's descriptor to
	// so that later passes can recover the VM state from the statepoint.
	JVMStateAnchorName = "llvm.jvmstate_anchor"

	// HolderName is the temporary variadic call keeping liveness-computed values
	// alive across the rewrite.
	HolderName = "__tmp_use"

	// GCRootName marks legacy explicit root slots. Functions using it are rejected.
	GCRootName = "llvm.gcroot"

	// GCLeafAttr, when present on a callee, asserts the call can never reach a
	// safepoint and needs no statepoint.
	GCLeafAttr = "gc-leaf-function"
)

// CalleeName returns the symbol name of a direct callee, or "" for indirect calls.
func CalleeName(callee Value) string {
	if f, ok := callee.(*Function); ok {
		return f.Name()
	}
	return ""
}

// IsStatepoint reports whether v is a call or invoke of the statepoint pseudo-function.
func IsStatepoint(v Value) bool {
	switch c := v.(type) {
	case *Call:
		return CalleeName(c.Callee) == StatepointName
	case *Invoke:
		return CalleeName(c.Callee) == StatepointName
	}
	return false
}

// IsGCRelocate reports whether v is a gc.relocate pseudo-call.
func IsGCRelocate(v Value) bool {
	c, ok := v.(*Call)
	return ok && strings.HasPrefix(CalleeName(c.Callee), RelocatePrefix)
}

// IsGCResult reports whether v is a gc.result pseudo-call.
func IsGCResult(v Value) bool {
	c, ok := v.(*Call)
	return ok && strings.HasPrefix(CalleeName(c.Callee), ResultPrefix)
}

// IsJVMState reports whether name is an abstract VM state descriptor symbol.
func IsJVMState(name string) bool {
	return strings.HasPrefix(name, JVMStatePrefix)
}

// IsJVMStateCall reports whether v is a call of a VM state descriptor function.
func IsJVMStateCall(v Value) bool {
	c, ok := v.(*Call)
	return ok && IsJVMState(CalleeName(c.Callee))
}

// IsIntrinsic reports whether name belongs to the reserved llvm. namespace.
func IsIntrinsic(name string) bool {
	return strings.HasPrefix(name, "llvm.")
}

// IsGCLeafIntrinsic reports whether the named intrinsic can be assumed not to reach a
// safepoint. Most intrinsics lower to open-coded sequences or runtime leaves; the
// memory transfer ones can call out to functions that poll.
func IsGCLeafIntrinsic(name string) bool {
	if !IsIntrinsic(name) {
		return false
	}
	switch {
	case strings.HasPrefix(name, "llvm.memset"),
		strings.HasPrefix(name, "llvm.memmove"),
		strings.HasPrefix(name, "llvm.memcpy"):
		return false
	}
	return true
}

// IsGCLeafFunction reports whether a call to callee can be assumed not to reach a
// safepoint, via either the leaf attribute or leaf intrinsic status.
func IsGCLeafFunction(callee Value) bool {
	f, ok := callee.(*Function)
	if !ok {
		return false
	}
	if _, leaf := f.Attr(GCLeafAttr); leaf {
		return true
	}
	return IsGCLeafIntrinsic(f.Name())
}
