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

import (
	"slices"
	stdsort "sort"
	"sync/atomic"
)

// WorkingSet is the scratch state of one Sort call.
type WorkingSet[K Key] struct {
	// ShortList is set when the input bypassed bucketing.
	ShortList bool

	// Min and Max are the reduced key range.
	Min, Max K

	// NumBuckets is the number of buckets used.
	NumBuckets int

	// BucketOfElement is the bucket each input record was assigned to.
	BucketOfElement []int32

	// OffsetInBucket is each record's slot within its bucket.
	OffsetInBucket []int32

	// BucketCounts is the number of records per bucket.
	BucketCounts []int32

	// BucketOffsets is the exclusive prefix sum of BucketCounts, with one
	// trailing entry equal to the total.
	BucketOffsets []int32

	// Splitters are the sampled bucket boundaries (non-uniform mode only).
	Splitters []K

	counters []atomic.Int32
}

func (ws *WorkingSet[K]) reset(n int) {
	ws.ShortList = false
	ws.NumBuckets = 0
	ws.BucketOfElement = growInt32(ws.BucketOfElement, n)
	ws.OffsetInBucket = growInt32(ws.OffsetInBucket, n)
	ws.Splitters = ws.Splitters[:0]
}

func (ws *WorkingSet[K]) setSingleBucket(n int) {
	ws.NumBuckets = 1
	ws.BucketCounts = append(ws.BucketCounts[:0], int32(n))
	ws.BucketOffsets = append(ws.BucketOffsets[:0], 0, int32(n))
	for i := range n {
		ws.BucketOfElement[i] = 0
		ws.OffsetInBucket[i] = int32(i)
	}
}

func growInt32(s []int32, n int) []int32 {
	if cap(s) < n {
		return make([]int32, n)
	}
	return s[:n]
}

// launchComputeRange reduces the key range: one partial per worker, then a
// single-lane kernel folds the partials.
func (s *Sorter[R, K]) launchComputeRange(data []R) {
	minKey, maxKey := s.trait.MinKey(), s.trait.MaxKey()
	for w := range s.rangeMin {
		s.rangeMin[w] = maxKey
		s.rangeMax[w] = minKey
	}
	s.dev.LaunchFlat("computeRange", len(data), func(worker, start, end int) error {
		lo, hi := s.rangeMin[worker], s.rangeMax[worker]
		for i := start; i < end; i++ {
			k := s.trait.SortKey(data[i])
			lo = min(lo, k)
			hi = max(hi, k)
		}
		s.rangeMin[worker], s.rangeMax[worker] = lo, hi
		return nil
	})
	s.dev.LaunchFlat("reduceRange", 1, func(worker, start, end int) error {
		lo, hi := maxKey, minKey
		for w := range s.rangeMin {
			lo = min(lo, s.rangeMin[w])
			hi = max(hi, s.rangeMax[w])
		}
		s.ws.Min, s.ws.Max = lo, hi
		return nil
	})
}

// launchAssignBuckets picks a bucket for every record and claims a slot in
// it with an atomic counter.
func (s *Sorter[R, K]) launchAssignBuckets(data []R) {
	n := len(data)
	numBuckets := max(1, (n+s.opts.BucketSize-1)/s.opts.BucketSize)
	s.ws.NumBuckets = numBuckets
	if cap(s.ws.counters) < numBuckets {
		s.ws.counters = make([]atomic.Int32, numBuckets)
	}
	s.ws.counters = s.ws.counters[:numBuckets]
	for b := range s.ws.counters {
		s.ws.counters[b].Store(0)
	}

	if !s.opts.Uniform {
		s.dev.LaunchFlat("chooseSplitters", 1, func(worker, start, end int) error {
			s.chooseSplitters(data, numBuckets)
			return nil
		})
	}

	s.dev.LaunchFlat("assignElementsToBuckets", n, func(worker, start, end int) error {
		lo, hi := float64(s.ws.Min), float64(s.ws.Max)
		scale := 0.0
		if hi > lo {
			scale = float64(numBuckets) / (hi - lo)
		}
		for i := start; i < end; i++ {
			k := s.trait.SortKey(data[i])
			var b int
			if s.opts.Uniform {
				b = int((float64(k) - lo) * scale)
			} else {
				b = stdsort.Search(len(s.ws.Splitters), func(j int) bool {
					return k < s.ws.Splitters[j]
				})
			}
			b = min(max(b, 0), numBuckets-1)
			s.ws.BucketOfElement[i] = int32(b)
			s.ws.OffsetInBucket[i] = s.ws.counters[b].Add(1) - 1
		}
		return nil
	})
}

// chooseSplitters sorts a strided sample of keys and takes evenly spaced
// entries as bucket boundaries. Repeated keys yield repeated splitters,
// which simply leaves some buckets empty.
func (s *Sorter[R, K]) chooseSplitters(data []R, numBuckets int) {
	n := len(data)
	numSamples := min(n, numBuckets*samplesPerBucket)
	stride := n / numSamples
	sample := make([]K, numSamples)
	for i := range sample {
		sample[i] = s.trait.SortKey(data[i*stride])
	}
	slices.Sort(sample)
	for b := 1; b < numBuckets; b++ {
		s.ws.Splitters = append(s.ws.Splitters, sample[b*numSamples/numBuckets])
	}
}

// launchBucketPositions turns bucket counts into offsets with a prefix sum.
func (s *Sorter[R, K]) launchBucketPositions() {
	s.dev.LaunchFlat("computeBucketPositions", 1, func(worker, start, end int) error {
		nb := s.ws.NumBuckets
		s.ws.BucketCounts = growInt32(s.ws.BucketCounts, nb)
		s.ws.BucketOffsets = growInt32(s.ws.BucketOffsets, nb+1)
		var sum int32
		for b := range nb {
			c := s.ws.counters[b].Load()
			s.ws.BucketCounts[b] = c
			s.ws.BucketOffsets[b] = sum
			sum += c
		}
		s.ws.BucketOffsets[nb] = sum
		return nil
	})
}

func (s *Sorter[R, K]) launchCopyToBuckets(data []R) {
	n := len(data)
	if cap(s.scratch) < n {
		s.scratch = make([]R, n)
	}
	s.scratch = s.scratch[:n]
	s.dev.LaunchFlat("copyDataToBuckets", n, func(worker, start, end int) error {
		for i := start; i < end; i++ {
			b := s.ws.BucketOfElement[i]
			s.scratch[s.ws.BucketOffsets[b]+s.ws.OffsetInBucket[i]] = data[i]
		}
		return nil
	})
}

// launchSortBuckets sorts every bucket that fits local storage, one bucket
// per work item.
func (s *Sorter[R, K]) launchSortBuckets() {
	s.dev.LaunchBatched("sortBuckets", s.ws.NumBuckets, 1, func(worker, start, end int) error {
		for b := start; b < end; b++ {
			size := int(s.ws.BucketCounts[b])
			if size <= 1 || size > s.opts.LocalCapacity {
				continue
			}
			off := int(s.ws.BucketOffsets[b])
			s.sortLocal(s.scratch[off:off+size], &s.local[worker])
		}
		return nil
	})
}
