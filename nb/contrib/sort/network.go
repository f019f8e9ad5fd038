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

// localBuffer is the key/permutation scratch for one bitonic network.
// Positions past the real length hold MaxKey with a permutation index past
// the end, so ties with real MaxKey records always sort the padding last.
type localBuffer[R any, K Key] struct {
	keys []K
	perm []int32
	tmp  []R
}

func (lb *localBuffer[R, K]) prepare(data []R, trait Trait[R, K]) int {
	n := len(data)
	size := nextPow2(n)
	if cap(lb.keys) < size {
		lb.keys = make([]K, size)
		lb.perm = make([]int32, size)
	}
	lb.keys = lb.keys[:size]
	lb.perm = lb.perm[:size]
	if cap(lb.tmp) < n {
		lb.tmp = make([]R, n)
	}
	lb.tmp = lb.tmp[:n]

	maxKey := trait.MaxKey()
	for i := range size {
		if i < n {
			lb.keys[i] = trait.SortKey(data[i])
		} else {
			lb.keys[i] = maxKey
		}
		lb.perm[i] = int32(i)
	}
	return size
}

// apply gathers data through the sorted permutation.
func (lb *localBuffer[R, K]) apply(data []R) {
	for i := range data {
		lb.tmp[i] = data[lb.perm[i]]
	}
	copy(data, lb.tmp)
}

// sortLocal sorts data inside one worker.
func (s *Sorter[R, K]) sortLocal(data []R, lb *localBuffer[R, K]) {
	n := len(data)
	if n <= 1 {
		return
	}
	if n <= sortInsertionThreshold {
		sortInsertion(data, s.trait)
		return
	}
	size := lb.prepare(data, s.trait)
	for k := 2; k <= size; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			bitonicStage(lb.keys, lb.perm, k, j, 0, size)
		}
	}
	lb.apply(data)
}

// sortGlobal sorts a bucket too large for local storage. Every network
// stage is its own launch; pairs within a stage are disjoint so the stage
// parallelizes without synchronization.
func (s *Sorter[R, K]) sortGlobal(data []R) {
	lb := &s.global
	s.dev.LaunchFlat("prepareGlobalBitonic", 1, func(worker, start, end int) error {
		lb.prepare(data, s.trait)
		return nil
	})
	size := nextPow2(len(data))
	for k := 2; k <= size; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			s.dev.LaunchFlat("sortBucketGlobal", size, func(worker, start, end int) error {
				bitonicStage(lb.keys, lb.perm, k, j, start, end)
				return nil
			})
		}
	}
	s.dev.LaunchFlat("applyGlobalBitonic", 1, func(worker, start, end int) error {
		lb.apply(data)
		return nil
	})
}

// bitonicStage runs compare-exchange step (k, j) of a bitonic network for
// positions i in [start, end). Only the lower index of each pair acts.
func bitonicStage[K Key](keys []K, perm []int32, k, j, start, end int) {
	for i := start; i < end; i++ {
		l := i ^ j
		if l <= i {
			continue
		}
		ascending := i&k == 0
		if ascending == greater(keys, perm, i, l) {
			keys[i], keys[l] = keys[l], keys[i]
			perm[i], perm[l] = perm[l], perm[i]
		}
	}
}

// greater orders by key, then by original position, which makes the order
// total and keeps padding behind real records with the same key.
func greater[K Key](keys []K, perm []int32, a, b int) bool {
	if keys[a] != keys[b] {
		return keys[a] > keys[b]
	}
	return perm[a] > perm[b]
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
