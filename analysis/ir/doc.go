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

// Package ir defines the SSA intermediate representation the safepoint placement pass
// operates on: types with a GC address space, a closed sum of instruction kinds, basic
// blocks with maintained predecessor lists, functions, modules, a textual reader and
// printer, dominator trees, and structural verifiers.
//
// The instruction sum is closed on purpose. Every analysis in this repository is an
// exhaustive switch over the kinds, so adding a kind fails loudly everywhere an
// assumption about it would otherwise be silent.
package ir
