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

// Package safepoint rewrites functions so a garbage collector can interrupt them at
// well defined points with full knowledge of the live heap pointers.
//
// The pass runs in phases. Selection picks the parse points: the function entry and
// loop backedges get a poll body inlined (counted loops with a provably finite trip
// count are exempt), and non-leaf calls and invokes become parse points directly.
// Liveness computes the GC pointers live across each parse point, by user
// reachability or by iterative dataflow. Base pointer inference proves a base object
// pointer for every live derived pointer, synthesizing parallel phis and selects
// where control flow merges disagree. Materialization replaces each parse point with
// a statepoint call carrying the callee, its arguments, the abstract VM state and
// the live pointers, then reads relocated pointers back out through relocate calls.
// Finally every use reachable past a safepoint is rewritten to the relocated value
// via temporary stack slots that are promoted back to SSA.
package safepoint
