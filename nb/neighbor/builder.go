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

package neighbor

import (
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/contrib/sort"
	"github.com/ajroetker/go-nonbonded/nb/device"
	"github.com/ajroetker/go-nonbonded/nb/tiling"
)

// Entry is one interacting tile.
type Entry struct {
	// Tile holds the two original block indices, smallest first.
	Tile nb.Tile

	// Mask has a bit for every particle of the second block that lies
	// within the padded cutoff of some particle of the first block.
	Mask nb.TileMask

	// Exclusion is the index of the tile's exclusion flags, or -1.
	Exclusion int32
}

// Options configure a Builder.
type Options struct {
	// UseCutoff disables culling when false: every owned tile is listed
	// with all of its particles.
	UseCutoff bool

	// MaxBitsForPairs is the largest interacting-particle count for which a
	// tile without exclusions goes to the single-pair list instead. Zero
	// disables the single-pair list.
	MaxBitsForPairs int

	// InitialTilesPerBlock sizes the first tile buffer.
	InitialTilesPerBlock int

	// InitialPairsPerAtom sizes the first single-pair buffer.
	InitialPairsPerAtom int

	// Sort configures the sort that orders the finished lists.
	Sort sort.Options
}

// Geometry is the input of one build.
type Geometry struct {
	Positions    []nb.Vec3
	Box          nb.Box
	Periodic     bool
	PaddedCutoff float64

	// Bounds holds one entry per block in natural order.
	Bounds []tiling.Bounds

	// Order is the block processing order from tiling.Reorderer.
	Order []int32
}

// Stats describe the most recent build.
type Stats struct {
	Tiles        int
	Pairs        int
	Retries      int
	TileCapacity int
	PairCapacity int
}

// Builder produces the interacting-tile and single-pair lists.
type Builder struct {
	dev          *device.Device
	opts         Options
	excl         *Exclusions
	numParticles int
	numBlocks    int

	startTile, endTile int

	tiles     []Entry
	pairs     []nb.Pair
	tileCount atomic.Int64
	pairCount atomic.Int64
	numTiles  int
	numPairs  int

	scratch    [][]nb.Pair
	tileSorter *sort.Sorter[Entry, uint64]
	pairSorter *sort.Sorter[nb.Pair, uint64]
}

// NewBuilder creates a builder. excl may be nil when no interaction uses
// exclusions.
func NewBuilder(dev *device.Device, numParticles int, excl *Exclusions, opts Options) (*Builder, error) {
	if excl != nil && excl.NumParticles() != numParticles {
		return nil, nb.Configf("neighbor", "exclusions cover %d particles, builder %d", excl.NumParticles(), numParticles)
	}
	tileSorter, err := sort.New[Entry, uint64](dev, entryTrait{}, opts.Sort)
	if err != nil {
		return nil, err
	}
	pairSorter, err := sort.New[nb.Pair, uint64](dev, pairTrait{}, opts.Sort)
	if err != nil {
		return nil, err
	}
	b := &Builder{
		dev:          dev,
		opts:         opts,
		excl:         excl,
		numParticles: numParticles,
		numBlocks:    nb.NumBlocks(numParticles),
		scratch:      make([][]nb.Pair, dev.NumWorkers()),
		tileSorter:   tileSorter,
		pairSorter:   pairSorter,
	}
	b.SetTileRange(0, 1)
	return b, nil
}

// SetTileRange restricts the builder to the fraction [start, end) of the
// upper triangular tile index space. Shards with adjacent ranges together
// cover every tile exactly once. Capacities are reset.
func (b *Builder) SetTileRange(start, end float64) {
	total := nb.NumTiles(b.numBlocks)
	b.startTile = int(start * float64(total))
	b.endTile = int(end * float64(total))
	if end >= 1 {
		b.endTile = total
	}
	owned := b.endTile - b.startTile
	tileCap := min(max(b.opts.InitialTilesPerBlock, 1)*b.numBlocks, owned)
	b.tiles = make([]Entry, max(tileCap, 1))
	b.pairs = make([]nb.Pair, max(min(b.opts.InitialPairsPerAtom*b.numParticles, b.maxPairs()), 1))
	b.numTiles, b.numPairs = 0, 0
}

// TileRange returns the owned half-open tile index range.
func (b *Builder) TileRange() (start, end int) {
	return b.startTile, b.endTile
}

// Tiles returns the interacting tiles of the last successful build, sorted
// by tile.
func (b *Builder) Tiles() []Entry {
	return b.tiles[:b.numTiles]
}

// SinglePairs returns the pairs taken out of sparse tiles, sorted.
func (b *Builder) SinglePairs() []nb.Pair {
	return b.pairs[:b.numPairs]
}

// Capacity returns the current buffer capacities.
func (b *Builder) Capacity() (tiles, pairs int) {
	return len(b.tiles), len(b.pairs)
}

// Build culls every owned tile against g.PaddedCutoff. When either buffer
// overflows, both are grown and the build restarts, so the lists are only
// ever observed complete.
func (b *Builder) Build(g Geometry) (Stats, error) {
	if len(g.Positions) != b.numParticles {
		return Stats{}, nb.Configf("neighbor", "got %d positions, want %d", len(g.Positions), b.numParticles)
	}
	if len(g.Bounds) != b.numBlocks || len(g.Order) != b.numBlocks {
		return Stats{}, nb.Configf("neighbor", "got %d bounds and %d order entries for %d blocks", len(g.Bounds), len(g.Order), b.numBlocks)
	}

	var stats Stats
	for {
		b.tileCount.Store(0)
		b.pairCount.Store(0)
		b.dev.LaunchBatched("findBlocksWithInteractions", b.numBlocks, 1, func(worker, start, end int) error {
			for p := start; p < end; p++ {
				b.scanRow(g, worker, p)
			}
			return nil
		})
		// The counts are the only values read back per build.
		if err := b.dev.Finish(); err != nil {
			return stats, err
		}
		needTiles, needPairs := int(b.tileCount.Load()), int(b.pairCount.Load())
		if needTiles <= len(b.tiles) && needPairs <= len(b.pairs) {
			b.numTiles, b.numPairs = needTiles, needPairs
			break
		}
		b.grow(needTiles, needPairs)
		stats.Retries++
	}

	if err := b.tileSorter.Sort(b.tiles[:b.numTiles]); err != nil {
		return stats, fmt.Errorf("neighbor: sorting tiles: %w", err)
	}
	if err := b.pairSorter.Sort(b.pairs[:b.numPairs]); err != nil {
		return stats, fmt.Errorf("neighbor: sorting pairs: %w", err)
	}
	stats.Tiles, stats.Pairs = b.numTiles, b.numPairs
	stats.TileCapacity, stats.PairCapacity = len(b.tiles), len(b.pairs)
	return stats, nil
}

// grow enlarges whichever buffer overflowed to the larger of twice its size
// and the observed demand. The tile buffer never exceeds the owned tiles and
// the pair buffer never exceeds the pairs those tiles can hold.
func (b *Builder) grow(needTiles, needPairs int) {
	if needTiles > len(b.tiles) {
		size := min(max(2*len(b.tiles), needTiles), b.endTile-b.startTile)
		b.tiles = make([]Entry, size)
	}
	if needPairs > len(b.pairs) {
		size := min(max(2*len(b.pairs), needPairs), b.maxPairs())
		b.pairs = make([]nb.Pair, max(size, 1))
	}
}

// maxPairs bounds the single pairs the owned tile range can produce: no
// more than TileSize squared per tile, and n(n-1)/2 overall.
func (b *Builder) maxPairs() int {
	perTile := (b.endTile - b.startTile) * nb.TileSize * nb.TileSize
	return min(perTile, b.numParticles*(b.numParticles-1)/2)
}

// scanRow tests every tile between the block at sorted position p and the
// blocks at positions >= p.
func (b *Builder) scanRow(g Geometry, worker, p int) {
	bx := int(g.Order[p])
	for q := p; q < b.numBlocks; q++ {
		by := int(g.Order[q])
		x, y := min(bx, by), max(bx, by)
		index := nb.TileIndex(x, y, b.numBlocks)
		if index < b.startTile || index >= b.endTile {
			continue
		}
		tile := nb.PackTile(x, y)
		excl := int32(-1)
		if b.excl != nil {
			excl = b.excl.Lookup(tile)
		}

		var mask nb.TileMask
		if !b.opts.UseCutoff {
			mask = b.validMask(y)
		} else {
			if !blocksInteract(g, x, y) {
				continue
			}
			mask = b.atomMask(g, x, y)
			if mask == 0 {
				continue
			}
			if excl < 0 && b.opts.MaxBitsForPairs > 0 && nb.PopCount(mask) <= b.opts.MaxBitsForPairs {
				b.emitPairs(g, worker, x, y, mask)
				continue
			}
		}
		slot := b.tileCount.Add(1) - 1
		if int(slot) < len(b.tiles) {
			b.tiles[slot] = Entry{Tile: tile, Mask: mask, Exclusion: excl}
		}
	}
}

func (b *Builder) validMask(block int) nb.TileMask {
	start, end := nb.BlockRange(block, b.numParticles)
	n := end - start
	if n == nb.TileSize {
		return ^nb.TileMask(0)
	}
	return nb.TileMask(1)<<n - 1
}

// atomMask marks the particles of block y within the padded cutoff of any
// particle of block x. When either block is large, particles of y are first
// tested against the bounding box of x.
func (b *Builder) atomMask(g Geometry, x, y int) nb.TileMask {
	cut2 := g.PaddedCutoff * g.PaddedCutoff
	xs, xe := nb.BlockRange(x, b.numParticles)
	ys, ye := nb.BlockRange(y, b.numParticles)
	boundsX := g.Bounds[x]
	prefilter := (boundsX.Large || g.Bounds[y].Large) && !(g.Periodic && g.Box.IsTriclinic())

	var mask nb.TileMask
	for j := ys; j < ye; j++ {
		pj := g.Positions[j]
		if prefilter {
			d := nb.Delta(pj, boundsX.Center, g.Box, g.Periodic)
			if boxGap2(d, boundsX.HalfExtent) > cut2 {
				continue
			}
		}
		for i := xs; i < xe; i++ {
			if i == j {
				continue
			}
			if nb.Dist2(nb.Delta(pj, g.Positions[i], g.Box, g.Periodic)) <= cut2 {
				mask |= 1 << (j - ys)
				break
			}
		}
	}
	return mask
}

// emitPairs appends the individual pairs of a sparse tile.
func (b *Builder) emitPairs(g Geometry, worker, x, y int, mask nb.TileMask) {
	cut2 := g.PaddedCutoff * g.PaddedCutoff
	xs, xe := nb.BlockRange(x, b.numParticles)
	ys := y * nb.TileSize
	local := b.scratch[worker][:0]
	for m := mask; m != 0; m &= m - 1 {
		j := ys + bits.TrailingZeros32(m)
		for i := xs; i < xe; i++ {
			if x == y && i >= j {
				continue
			}
			if nb.Dist2(nb.Delta(g.Positions[j], g.Positions[i], g.Box, g.Periodic)) <= cut2 {
				local = append(local, nb.Pair{I: int32(min(i, j)), J: int32(max(i, j))})
			}
		}
	}
	b.scratch[worker] = local
	if len(local) == 0 {
		return
	}
	first := b.pairCount.Add(int64(len(local))) - int64(len(local))
	if int(first)+len(local) <= len(b.pairs) {
		copy(b.pairs[first:], local)
	}
}

// blocksInteract tests the padded bounding boxes of two blocks. For
// triclinic boxes the nearest image of the centers need not be the nearest
// image of the boxes, so all neighboring images are tried.
func blocksInteract(g Geometry, x, y int) bool {
	if x == y {
		return true
	}
	bx, by := g.Bounds[x], g.Bounds[y]
	cut2 := g.PaddedCutoff * g.PaddedCutoff
	half := nb.Vec3{
		X: bx.HalfExtent.X + by.HalfExtent.X,
		Y: bx.HalfExtent.Y + by.HalfExtent.Y,
		Z: bx.HalfExtent.Z + by.HalfExtent.Z,
	}
	d := nb.Delta(by.Center, bx.Center, g.Box, g.Periodic)
	if !g.Periodic || !g.Box.IsTriclinic() {
		return boxGap2(d, half) <= cut2
	}
	for _, img := range g.Box.Images(d) {
		if boxGap2(img, half) <= cut2 {
			return true
		}
	}
	return false
}

// boxGap2 is the squared distance from a point at offset d to a box of the
// given half extents centered at the origin.
func boxGap2(d, half nb.Vec3) float64 {
	gx := max(0, math.Abs(d.X)-half.X)
	gy := max(0, math.Abs(d.Y)-half.Y)
	gz := max(0, math.Abs(d.Z)-half.Z)
	return gx*gx + gy*gy + gz*gz
}

type entryTrait struct{}

func (entryTrait) RecordSize() int { return 16 }
func (entryTrait) KeySize() int { return 8 }
func (entryTrait) MinKey() uint64 { return 0 }
func (entryTrait) MaxKey() uint64 { return math.MaxUint64 }
func (entryTrait) SortKey(e Entry) uint64 { return uint64(e.Tile) }

type pairTrait struct{}

func (pairTrait) RecordSize() int { return 8 }
func (pairTrait) KeySize() int { return 8 }
func (pairTrait) MinKey() uint64 { return 0 }
func (pairTrait) MaxKey() uint64 { return math.MaxUint64 }
func (pairTrait) SortKey(p nb.Pair) uint64 {
	return uint64(uint32(p.I))<<32 | uint64(uint32(p.J))
}
