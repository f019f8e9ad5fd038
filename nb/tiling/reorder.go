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

package tiling

import (
	"fmt"
	"math"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/contrib/sort"
	"github.com/ajroetker/go-nonbonded/nb/device"
)

// sizeBits is the number of high key bits holding the block size class.
// The remaining 48 bits hold a Morton code of the block center, 16 per axis.
const (
	sizeBits   = 16
	mortonBits = 16
)

// blockKey is the sort record for one block.
type blockKey struct {
	Key   uint64
	Block int32
	_     int32
}

type blockKeyTrait struct{}

func (blockKeyTrait) RecordSize() int { return 16 }
func (blockKeyTrait) KeySize() int { return 8 }
func (blockKeyTrait) MinKey() uint64 { return 0 }
func (blockKeyTrait) MaxKey() uint64 { return math.MaxUint64 }
func (blockKeyTrait) SortKey(r blockKey) uint64 { return r.Key }

// Reorderer sorts blocks by size class, then by spatial locality.
type Reorderer struct {
	dev    *device.Device
	sorter *sort.Sorter[blockKey, uint64]
	keys   []blockKey

	order []int32
	rank  []int32
}

// NewReorderer creates a reorderer whose sort uses opts.
func NewReorderer(dev *device.Device, opts sort.Options) (*Reorderer, error) {
	sorter, err := sort.New[blockKey, uint64](dev, blockKeyTrait{}, opts)
	if err != nil {
		return nil, fmt.Errorf("tiling: creating block sorter: %w", err)
	}
	return &Reorderer{dev: dev, sorter: sorter}, nil
}

// Order maps a sorted position to the original block index.
func (r *Reorderer) Order() []int32 {
	return r.order
}

// Rank maps an original block index to its sorted position.
func (r *Reorderer) Rank() []int32 {
	return r.rank
}

// Identity resets the reordering to natural block order.
func (r *Reorderer) Identity(numBlocks int) {
	r.resize(numBlocks)
	for i := range numBlocks {
		r.order[i] = int32(i)
		r.rank[i] = int32(i)
	}
}

func (r *Reorderer) resize(numBlocks int) {
	if cap(r.order) < numBlocks {
		r.order = make([]int32, numBlocks)
		r.rank = make([]int32, numBlocks)
		r.keys = make([]blockKey, numBlocks)
	}
	r.order = r.order[:numBlocks]
	r.rank = r.rank[:numBlocks]
	r.keys = r.keys[:numBlocks]
}

// Reorder sorts the blocks of t. It waits for t's pending launches, so it
// may be called right after Compute. For periodic systems block centers are
// placed on the Morton grid relative to the box; otherwise relative to the
// range of centers.
func (r *Reorderer) Reorder(t *Tiler, box nb.Box, periodic bool) error {
	numBlocks := t.NumBlocks()
	r.resize(numBlocks)
	if err := r.dev.Finish(); err != nil {
		return err
	}

	lo, hi := t.CenterRange()
	if periodic {
		lo, hi = nb.Vec3{}, box.Size()
	}
	minSize, maxSize := t.SizeRange()
	r.dev.LaunchFlat("computeSortKeys", numBlocks, func(worker, start, end int) error {
		for block := start; block < end; block++ {
			b := t.bounds[block]
			size := quantize(b.Size(), minSize, maxSize, sizeBits)
			cell := [3]uint64{
				quantize(b.Center.X, lo.X, hi.X, mortonBits),
				quantize(b.Center.Y, lo.Y, hi.Y, mortonBits),
				quantize(b.Center.Z, lo.Z, hi.Z, mortonBits),
			}
			r.keys[block] = blockKey{Key: size<<(3*mortonBits) | morton3(cell), Block: int32(block)}
		}
		return nil
	})
	if err := r.sorter.Sort(r.keys); err != nil {
		return fmt.Errorf("tiling: sorting blocks: %w", err)
	}
	r.dev.LaunchFlat("invertBlockOrder", numBlocks, func(worker, start, end int) error {
		for i := start; i < end; i++ {
			r.order[i] = r.keys[i].Block
		}
		return nil
	})
	if err := r.dev.Finish(); err != nil {
		return err
	}
	return r.invert()
}

// invert fills rank from order and checks that order is a bijection.
func (r *Reorderer) invert() error {
	for i := range r.rank {
		r.rank[i] = -1
	}
	for pos, block := range r.order {
		if block < 0 || int(block) >= len(r.rank) || r.rank[block] != -1 {
			return fmt.Errorf("tiling: block order is not a permutation at position %d (block %d)", pos, block)
		}
		r.rank[block] = int32(pos)
	}
	return nil
}

// quantize maps v in [lo, hi] onto [0, 2^bits).
func quantize(v, lo, hi float64, bits int) uint64 {
	top := uint64(1)<<bits - 1
	if !(hi > lo) {
		return 0
	}
	f := (v - lo) / (hi - lo)
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return top
	}
	return uint64(f * float64(top))
}

// morton3 interleaves three 16-bit cell coordinates into a 48-bit code.
func morton3(c [3]uint64) uint64 {
	return spread(c[0]) | spread(c[1])<<1 | spread(c[2])<<2
}

// spread inserts two zero bits between each of the low 16 bits of x.
func spread(x uint64) uint64 {
	x &= 0xffff
	x = (x | x<<16) & 0x0000ff0000ff
	x = (x | x<<8) & 0x00f00f00f00f
	x = (x | x<<4) & 0x0c30c30c30c3
	x = (x | x<<2) & 0x249249249249
	return x
}
