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

package safepoint

import (
	"errors"
	"fmt"

	"github.com/gc-tools/safepoint/analysis/ir"
	"github.com/gc-tools/safepoint/internal/funcutil"
)

// ErrAlreadyInstrumented means the function already carries statepoints or relocates.
// Running placement twice would relocate relocations; the pass refuses instead.
var ErrAlreadyInstrumented = errors.New("function already contains safepoint instrumentation")

// Function attributes gating the three sub-selectors.
const (
	AttrEntrySafepoints    = "gc-add-entry-safepoints"
	AttrBackedgeSafepoints = "gc-add-backedge-safepoints"
	AttrCallSafepoints     = "gc-add-call-safepoints"
)

// NeedsStatepoint classifies a call as a parse-point candidate. Leaf callees, asm
// fragments, the statepoint protocol itself, descriptor pseudo-calls and liveness
// holders never get a statepoint.
func NeedsStatepoint(c *ir.Call) bool {
	if c.InlineAsm {
		return false
	}
	name := ir.CalleeName(c.Callee)
	switch {
	case ir.IsStatepoint(c), ir.IsGCRelocate(c), ir.IsGCResult(c):
		return false
	case ir.IsJVMState(name):
		return false
	case name == ir.HolderName:
		return false
	case name == ir.SafepointPollName:
		// The poll body gets inlined; the call itself never survives to here.
		return false
	case ir.IsGCLeafFunction(c.Callee):
		return false
	}
	return true
}

// NeedsStatepointInvoke classifies an invoke the same way.
func NeedsStatepointInvoke(c *ir.Invoke) bool {
	if ir.IsStatepoint(c) {
		return false
	}
	return !ir.IsGCLeafFunction(c.Callee)
}

// CheckNotInstrumented rejects a function that already went through placement.
func CheckNotInstrumented(f *ir.Function) error {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if ir.IsStatepoint(in) || ir.IsGCRelocate(in) || ir.IsGCResult(in) {
				return fmt.Errorf("%w: @%s has %s", ErrAlreadyInstrumented,
					f.Name(), in.Name())
			}
		}
	}
	return nil
}

// gateEnabled evaluates a boolean-string function attribute.
func gateEnabled(f *ir.Function, attr string) bool {
	v, ok := f.Attr(attr)
	if !ok {
		return false
	}
	return v != "false" && v != "0"
}

// gateOn reports whether a sub-selector applies to f. The all-functions mode overrides
// the per-function attribute opt-in.
func (pc *passContext) gateOn(f *ir.Function, attr string) bool {
	return pc.cfg.AllFunctions || gateEnabled(f, attr)
}

// requestsPlacement reports whether f carries any of the placement attributes.
func requestsPlacement(f *ir.Function) bool {
	return funcutil.Exists(
		[]string{AttrEntrySafepoints, AttrBackedgeSafepoints, AttrCallSafepoints},
		func(attr string) bool { return gateEnabled(f, attr) })
}
