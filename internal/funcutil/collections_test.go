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

package funcutil

import "testing"

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(x int) int { return 2 * x })
	want := []int{2, 4, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Map[%d] = %d, want %d", i, got[i], want[i])
		}
	}
	if Map(nil, func(x int) int { return x }) != nil {
		t.Errorf("Map of nil is not nil")
	}
}

func TestFilter(t *testing.T) {
	got := Filter([]int{1, 2, 3, 4}, func(x int) bool { return x%2 == 0 })
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("Filter = %v, want [2 4]", got)
	}
	if Filter([]int{1, 3}, func(x int) bool { return x%2 == 0 }) != nil {
		t.Errorf("Filter with no matches is not nil")
	}
}

func TestExists(t *testing.T) {
	a := []string{"a", "b"}
	if !Exists(a, func(s string) bool { return s == "b" }) {
		t.Errorf("Exists missed a present element")
	}
	if Exists(a, func(s string) bool { return s == "c" }) {
		t.Errorf("Exists found an absent element")
	}
}

func TestContains(t *testing.T) {
	if !Contains([]int{1, 2}, 2) {
		t.Errorf("Contains missed a present element")
	}
	if Contains([]int{1, 2}, 3) {
		t.Errorf("Contains found an absent element")
	}
	if Contains(nil, 0) {
		t.Errorf("Contains found an element in the empty slice")
	}
}
