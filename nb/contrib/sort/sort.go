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
	"github.com/ajroetker/go-nonbonded/nb/device"
)

// Default thresholds.
const (
	// defaultBucketSize is the target number of records per bucket.
	defaultBucketSize = 64

	// defaultLocalCapacity is the largest bucket sorted in a worker-local
	// buffer, the analogue of a bucket fitting in shared memory.
	defaultLocalCapacity = 1024

	// sortInsertionThreshold: use insertion sort for buckets this size or smaller.
	sortInsertionThreshold = 16

	// samplesPerBucket is the oversampling factor for splitter selection.
	samplesPerBucket = 8
)

// Options tune a Sorter.
type Options struct {
	// Uniform declares that keys are expected to be spread evenly over their
	// range, which allows buckets by linear interpolation. Otherwise bucket
	// boundaries are chosen from a sorted sample.
	Uniform bool

	// BucketSize is the target number of records per bucket.
	BucketSize int

	// LocalCapacity is the largest bucket sorted in a worker-local buffer.
	LocalCapacity int

	// ShortList is the largest input sorted without bucketing. Defaults to
	// LocalCapacity.
	ShortList int
}

func (o Options) withDefaults() Options {
	if o.BucketSize <= 0 {
		o.BucketSize = defaultBucketSize
	}
	if o.LocalCapacity <= 0 {
		o.LocalCapacity = defaultLocalCapacity
	}
	if o.ShortList <= 0 {
		o.ShortList = o.LocalCapacity
	}
	return o
}

// Sorter sorts slices of R on a device. A Sorter is not safe for concurrent
// use; one host thread drives it.
type Sorter[R any, K Key] struct {
	dev   *device.Device
	trait Trait[R, K]
	opts  Options

	ws      WorkingSet[K]
	scratch []R
	local   []localBuffer[R, K]
	global  localBuffer[R, K]

	// Per-worker partial range, reduced by a single-lane kernel.
	rangeMin, rangeMax []K
}

// New creates a Sorter. A malformed trait is a configuration error.
func New[R any, K Key](dev *device.Device, trait Trait[R, K], opts Options) (*Sorter[R, K], error) {
	if err := validateTrait(trait); err != nil {
		return nil, err
	}
	workers := dev.NumWorkers()
	return &Sorter[R, K]{
		dev:      dev,
		trait:    trait,
		opts:     opts.withDefaults(),
		local:    make([]localBuffer[R, K], workers),
		rangeMin: make([]K, workers),
		rangeMax: make([]K, workers),
	}, nil
}

// Options returns the effective options.
func (s *Sorter[R, K]) Options() Options {
	return s.opts
}

// WorkingSet returns the bucket bookkeeping of the most recent Sort. The
// slices are reused by the next call.
func (s *Sorter[R, K]) WorkingSet() *WorkingSet[K] {
	return &s.ws
}

// Sort reorders data ascending by key.
func (s *Sorter[R, K]) Sort(data []R) error {
	n := len(data)
	s.ws.reset(n)
	if n <= 1 {
		s.ws.setSingleBucket(n)
		return nil
	}

	if n <= s.opts.ShortList {
		s.ws.ShortList = true
		s.ws.setSingleBucket(n)
		s.dev.LaunchFlat("sortShortList", 1, func(worker, start, end int) error {
			s.sortLocal(data, &s.local[worker])
			return nil
		})
		return s.dev.Finish()
	}

	s.launchComputeRange(data)
	s.launchAssignBuckets(data)
	s.launchBucketPositions()
	s.launchCopyToBuckets(data)
	if err := s.dev.Finish(); err != nil {
		return err
	}

	// Which buckets overflow local storage is only known after the counts
	// come back; this is the one host read per sort.
	s.launchSortBuckets()
	for b := range s.ws.NumBuckets {
		size := int(s.ws.BucketCounts[b])
		if size > s.opts.LocalCapacity {
			start := int(s.ws.BucketOffsets[b])
			s.sortGlobal(s.scratch[start : start+size])
		}
	}
	s.dev.LaunchFlat("copyFromBuckets", n, func(worker, start, end int) error {
		copy(data[start:end], s.scratch[start:end])
		return nil
	})
	return s.dev.Finish()
}

// IsSorted reports whether data is ascending by key.
func IsSorted[R any, K Key](data []R, trait Trait[R, K]) bool {
	for i := 1; i < len(data); i++ {
		if trait.SortKey(data[i]) < trait.SortKey(data[i-1]) {
			return false
		}
	}
	return true
}
