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
	"testing"

	"github.com/gc-tools/safepoint/analysis/ir"
)

func TestMeetLattice(t *testing.T) {
	p := ir.NewNull(ir.GCPointerTo(ir.I8))
	q := ir.NewUndef(ir.GCPointerTo(ir.I8))

	unknown := unknownState()
	conflict := conflictState()
	bp := baseState(p)
	bq := baseState(q)

	cases := []struct {
		name    string
		a, b, w PhiState
	}{
		{"unknown-identity-left", unknown, bp, bp},
		{"unknown-identity-right", bp, unknown, bp},
		{"unknown-unknown", unknown, unknown, unknown},
		{"conflict-absorbs", conflict, bp, conflict},
		{"conflict-conflict", conflict, conflict, conflict},
		{"equal-bases", bp, bp, bp},
		{"different-bases", bp, bq, conflict},
	}
	for _, c := range cases {
		if got := Meet(c.a, c.b); !got.Equal(c.w) {
			t.Errorf("%s: Meet(%s, %s) = %s, want %s", c.name, c.a, c.b, got, c.w)
		}
	}
}

func TestMeetCommutative(t *testing.T) {
	p := ir.NewNull(ir.GCPointerTo(ir.I8))
	q := ir.NewUndef(ir.GCPointerTo(ir.I8))
	states := []PhiState{unknownState(), conflictState(), baseState(p), baseState(q)}
	for _, a := range states {
		for _, b := range states {
			if !Meet(a, b).Equal(Meet(b, a)) {
				t.Errorf("Meet(%s, %s) is not commutative", a, b)
			}
		}
	}
}

func TestBasePanicsOnNonBase(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Base() on a conflict state should panic")
		}
	}()
	conflictState().Base()
}
