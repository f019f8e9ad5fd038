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
	"math"
	"unsafe"

	"github.com/ajroetker/go-nonbonded/nb"
)

// Key is the set of key types that can be interpolated into buckets.
type Key interface {
	~int32 | ~int64 | ~uint32 | ~uint64 | ~float32 | ~float64
}

// Trait describes the records being sorted and how to key them.
type Trait[R any, K Key] interface {
	// RecordSize is the size of one record in bytes.
	RecordSize() int

	// KeySize is the size of one key in bytes.
	KeySize() int

	// MinKey and MaxKey bound every key that SortKey can return.
	MinKey() K
	MaxKey() K

	// SortKey extracts the key of a record.
	SortKey(r R) K
}

// validateTrait rejects traits whose declared layout does not match the
// record and key types, or whose sentinels are not ordered.
func validateTrait[R any, K Key](trait Trait[R, K]) error {
	if trait == nil {
		return nb.Configf("sort", "trait is nil")
	}
	var r R
	var k K
	recordSize := int(unsafe.Sizeof(r))
	keySize := int(unsafe.Sizeof(k))
	if trait.RecordSize() != recordSize {
		return nb.Configf("sort", "trait declares record size %d, record type is %d bytes", trait.RecordSize(), recordSize)
	}
	if trait.KeySize() != keySize {
		return nb.Configf("sort", "trait declares key size %d, key type is %d bytes", trait.KeySize(), keySize)
	}
	if keySize > recordSize {
		return nb.Configf("sort", "key size %d exceeds record size %d", keySize, recordSize)
	}
	lo, hi := float64(trait.MinKey()), float64(trait.MaxKey())
	if math.IsNaN(lo) || math.IsNaN(hi) || !(trait.MinKey() < trait.MaxKey()) {
		return nb.Configf("sort", "trait sentinels are not ordered: min %v, max %v", trait.MinKey(), trait.MaxKey())
	}
	return nil
}

// ValueTrait sorts plain keys, where the record is the key.
type ValueTrait[K Key] struct {
	Min, Max K
}

// RecordSize implements Trait.
func (t ValueTrait[K]) RecordSize() int {
	var k K
	return int(unsafe.Sizeof(k))
}

// KeySize implements Trait.
func (t ValueTrait[K]) KeySize() int {
	return t.RecordSize()
}

// MinKey implements Trait.
func (t ValueTrait[K]) MinKey() K { return t.Min }

// MaxKey implements Trait.
func (t ValueTrait[K]) MaxKey() K { return t.Max }

// SortKey implements Trait.
func (t ValueTrait[K]) SortKey(r K) K { return r }

// Float32Trait sorts float32 values over their full finite range.
var Float32Trait = ValueTrait[float32]{Min: -math.MaxFloat32, Max: math.MaxFloat32}

// Uint32Trait sorts uint32 values.
var Uint32Trait = ValueTrait[uint32]{Min: 0, Max: math.MaxUint32}
