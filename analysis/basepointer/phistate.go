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

package basepointer

import (
	"fmt"

	"github.com/gc-tools/safepoint/analysis/ir"
)

// PhiStateKind is the status of a merge node during base inference.
type PhiStateKind int

const (
	// StateUnknown is the optimistic initial state and the identity of meet.
	StateUnknown PhiStateKind = iota
	// StateBase means every input seen so far shares one concrete base.
	StateBase
	// StateConflict means inputs with distinct bases meet here; absorbing.
	StateConflict
)

// PhiState is the lattice value of one working-set node.
type PhiState struct {
	Kind PhiStateKind
	base ir.Value
}

func unknownState() PhiState        { return PhiState{Kind: StateUnknown} }
func conflictState() PhiState       { return PhiState{Kind: StateConflict} }
func baseState(b ir.Value) PhiState { return PhiState{Kind: StateBase, base: b} }

// Base returns the concrete base of a StateBase value.
func (s PhiState) Base() ir.Value {
	if s.Kind != StateBase {
		panic("PhiState.Base on non-base state")
	}
	return s.base
}

func (s PhiState) String() string {
	switch s.Kind {
	case StateUnknown:
		return "unknown"
	case StateConflict:
		return "conflict"
	default:
		return fmt.Sprintf("base(%s)", s.base)
	}
}

// Equal reports lattice-value equality.
func (s PhiState) Equal(t PhiState) bool {
	return s.Kind == t.Kind && s.base == t.base
}

// Meet combines two lattice values. Unknown is the identity, Conflict is absorbing,
// and two concrete bases agree only when they are the same value. Meet is commutative
// and associative.
func Meet(a, b PhiState) PhiState {
	switch {
	case a.Kind == StateUnknown:
		return b
	case b.Kind == StateUnknown:
		return a
	case a.Kind == StateConflict || b.Kind == StateConflict:
		return conflictState()
	case a.base == b.base:
		return a
	default:
		return conflictState()
	}
}
