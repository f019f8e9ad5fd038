// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sort

// sortInsertion is insertion sort for small buckets.
func sortInsertion[R any, K Key](data []R, trait Trait[R, K]) {
	for i := 1; i < len(data); i++ {
		rec := data[i]
		key := trait.SortKey(rec)
		j := i - 1
		for j >= 0 && trait.SortKey(data[j]) > key {
			data[j+1] = data[j]
			j--
		}
		data[j+1] = rec
	}
}

// IsPermutation reports whether got holds exactly the records of want, by
// key multiset. Records with equal keys are interchangeable.
func IsPermutation[R any, K Key](got, want []R, trait Trait[R, K]) bool {
	if len(got) != len(want) {
		return false
	}
	counts := make(map[K]int, len(want))
	for _, r := range want {
		counts[trait.SortKey(r)]++
	}
	for _, r := range got {
		k := trait.SortKey(r)
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}
