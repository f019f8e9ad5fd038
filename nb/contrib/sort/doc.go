// Package sort provides a bucket + bitonic sort over fixed-size records,
// shaped the way a GPU sort is: every phase is a data-parallel kernel
// launched on a device queue.
//
// # Algorithm
//
// Records are sorted by a key extracted through a Trait:
//   - Short lists (up to Options.ShortList records) skip bucketing and are
//     sorted by one bitonic network in a worker-local buffer
//   - Otherwise the global key range is reduced, each record is assigned to
//     a bucket (linear interpolation over the range for uniform data,
//     sampled splitters otherwise), bucket offsets are computed with a
//     prefix sum, and records are scattered into bucket-contiguous storage
//   - Each bucket is sorted with a bitonic network, in a worker-local
//     buffer when it fits Options.LocalCapacity and with one device launch
//     per network stage otherwise
//
// The sort is not stable.
//
// # Traits
//
// A Trait declares the record and key sizes and the smallest and largest
// possible keys. The sentinels seed the range reduction and pad bitonic
// networks to a power of two, so every real key must lie within them.
//
//	type blockKey struct {
//	    Key   uint64
//	    Block uint32
//	    _     uint32
//	}
//
//	type blockTrait struct{}
//
//	func (blockTrait) RecordSize() int            { return 16 }
//	func (blockTrait) KeySize() int               { return 8 }
//	func (blockTrait) MinKey() uint64             { return 0 }
//	func (blockTrait) MaxKey() uint64             { return math.MaxUint64 }
//	func (blockTrait) SortKey(r blockKey) uint64  { return r.Key }
//
//	s, err := sort.New[blockKey, uint64](dev, blockTrait{}, sort.Options{})
//	...
//	err = s.Sort(records)
package sort
