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

import "errors"

// Sentinel errors for the IR shapes the classifier rejects. Each aborts the pass for
// the current function.
var (
	// ErrIntToPtr is returned for an integer-to-pointer cast yielding a GC pointer
	// without the frontend's manufactured-base annotation.
	ErrIntToPtr = errors.New("integer to GC pointer cast without verifier exception")

	// ErrConstantPointer is returned for a non-null constant GC pointer.
	ErrConstantPointer = errors.New("non-null constant GC pointer")

	// ErrDegenerate is returned for null, undef and alloca seeds outside
	// all-functions mode, where the VM frontend guarantees they cannot occur.
	ErrDegenerate = errors.New("degenerate base seed outside all-functions mode")

	// ErrUnhandledShape is returned when the classifier meets an instruction kind
	// that cannot define a GC pointer.
	ErrUnhandledShape = errors.New("unhandled instruction shape for base classification")
)
