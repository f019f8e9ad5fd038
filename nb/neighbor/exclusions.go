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
	"cmp"
	"slices"

	"github.com/ajroetker/go-nonbonded/nb"
)

// Exclusions is the per-tile bit mask representation of excluded particle
// pairs. A tile (x, y), x <= y, holds nb.TileSize words; word r belongs to
// particle r of block x and bit c to particle c of block y. A set bit means
// the pair is excluded. Diagonal tiles are symmetric and always carry the
// self bits.
type Exclusions struct {
	numParticles int
	numBlocks    int
	lists        [][]int32

	tiles []nb.Tile
	flags []nb.TileMask
	index map[nb.Tile]int32

	// rowIndices[y]..rowIndices[y+1] spans partners[] for block y: every
	// block x <= y whose tile with y has an exclusion.
	rowIndices []int32
	partners   []int32
}

// SelfExclusions returns per-particle lists where every particle excludes
// only itself.
func SelfExclusions(numParticles int) [][]int {
	lists := make([][]int, numParticles)
	for i := range lists {
		lists[i] = []int{i}
	}
	return lists
}

// Normalize validates exclusion lists and returns them symmetric, sorted,
// deduplicated and including self. A nil lists value means self only.
func Normalize(numParticles int, lists [][]int) ([][]int32, error) {
	if lists != nil && len(lists) != numParticles {
		return nil, nb.Configf("requestExclusions", "got exclusion lists for %d particles, want %d", len(lists), numParticles)
	}
	out := make([][]int32, numParticles)
	for i := range out {
		out[i] = append(out[i], int32(i))
	}
	for i, list := range lists {
		for _, j := range list {
			if j < 0 || j >= numParticles {
				return nil, nb.Configf("requestExclusions", "particle %d excludes out-of-range index %d", i, j)
			}
			out[i] = append(out[i], int32(j))
			out[j] = append(out[j], int32(i))
		}
	}
	for i := range out {
		slices.Sort(out[i])
		out[i] = slices.Compact(out[i])
	}
	return out, nil
}

// SameExclusions reports whether two exclusion requests describe the same
// set of excluded pairs.
func SameExclusions(numParticles int, a, b [][]int) (bool, error) {
	normA, err := Normalize(numParticles, a)
	if err != nil {
		return false, err
	}
	normB, err := Normalize(numParticles, b)
	if err != nil {
		return false, err
	}
	return slices.EqualFunc(normA, normB, slices.Equal[[]int32]), nil
}

// NewExclusions builds exclusion tiles. wideSIMD places diagonal tiles
// first, which keeps wide back ends from mixing the half-masked diagonal
// tiles with full ones.
func NewExclusions(numParticles int, lists [][]int, wideSIMD bool) (*Exclusions, error) {
	norm, err := Normalize(numParticles, lists)
	if err != nil {
		return nil, err
	}
	e := &Exclusions{
		numParticles: numParticles,
		numBlocks:    nb.NumBlocks(numParticles),
		lists:        norm,
		index:        make(map[nb.Tile]int32),
	}

	masks := make(map[nb.Tile]*[nb.TileSize]nb.TileMask)
	for i, list := range norm {
		for _, j := range list {
			if int(j) < i {
				continue
			}
			e.set(masks, i, int(j))
		}
	}

	e.tiles = make([]nb.Tile, 0, len(masks))
	for t := range masks {
		e.tiles = append(e.tiles, t)
	}
	slices.SortFunc(e.tiles, func(a, b nb.Tile) int {
		if wideSIMD && a.IsDiagonal() != b.IsDiagonal() {
			if a.IsDiagonal() {
				return -1
			}
			return 1
		}
		ax, ay := a.Blocks()
		bx, by := b.Blocks()
		return cmp.Or(cmp.Compare(ay, by), cmp.Compare(ax, bx))
	})

	e.flags = make([]nb.TileMask, len(e.tiles)*nb.TileSize)
	for k, t := range e.tiles {
		e.index[t] = int32(k)
		copy(e.flags[k*nb.TileSize:(k+1)*nb.TileSize], masks[t][:])
	}
	e.buildRows()
	return e, nil
}

// set marks the excluded pair i <= j.
func (e *Exclusions) set(masks map[nb.Tile]*[nb.TileSize]nb.TileMask, i, j int) {
	bi, bj := i/nb.TileSize, j/nb.TileSize
	ri, rj := i%nb.TileSize, j%nb.TileSize
	t := nb.PackTile(bi, bj)
	m, ok := masks[t]
	if !ok {
		m = new([nb.TileSize]nb.TileMask)
		masks[t] = m
	}
	m[ri] |= 1 << rj
	if bi == bj {
		m[rj] |= 1 << ri
	}
}

func (e *Exclusions) buildRows() {
	e.rowIndices = make([]int32, e.numBlocks+1)
	for _, t := range e.tiles {
		_, y := t.Blocks()
		e.rowIndices[y+1]++
	}
	for y := range e.numBlocks {
		e.rowIndices[y+1] += e.rowIndices[y]
	}
	e.partners = make([]int32, len(e.tiles))
	fill := slices.Clone(e.rowIndices[:e.numBlocks])
	byRow := slices.Clone(e.tiles)
	slices.SortFunc(byRow, func(a, b nb.Tile) int {
		ax, ay := a.Blocks()
		bx, by := b.Blocks()
		return cmp.Or(cmp.Compare(ay, by), cmp.Compare(ax, bx))
	})
	for _, t := range byRow {
		x, y := t.Blocks()
		e.partners[fill[y]] = int32(x)
		fill[y]++
	}
}

// NumParticles returns the particle count the exclusions were built for.
func (e *Exclusions) NumParticles() int {
	return e.numParticles
}

// Lists returns the normalized per-particle exclusion lists.
func (e *Exclusions) Lists() [][]int32 {
	return e.lists
}

// Tiles returns every tile holding at least one excluded pair.
func (e *Exclusions) Tiles() []nb.Tile {
	return e.tiles
}

// Flags returns nb.TileSize words per entry of Tiles.
func (e *Exclusions) Flags() []nb.TileMask {
	return e.flags
}

// TileFlags returns the words of exclusion tile k.
func (e *Exclusions) TileFlags(k int32) []nb.TileMask {
	return e.flags[int(k)*nb.TileSize : int(k+1)*nb.TileSize]
}

// RowIndices is the start offset table into Partners, indexed by the larger
// block of a tile, with one trailing entry.
func (e *Exclusions) RowIndices() []int32 {
	return e.rowIndices
}

// Partners lists, per larger block y, the smaller blocks x with an
// exclusion tile (x, y), ascending.
func (e *Exclusions) Partners() []int32 {
	return e.partners
}

// Lookup returns the index of the exclusion tile for t, or -1.
func (e *Exclusions) Lookup(t nb.Tile) int32 {
	if k, ok := e.index[t]; ok {
		return k
	}
	return -1
}

// Excluded reports whether particles i and j are excluded from each other.
func (e *Exclusions) Excluded(i, j int) bool {
	if i > j {
		i, j = j, i
	}
	k := e.Lookup(nb.PackTile(i/nb.TileSize, j/nb.TileSize))
	if k < 0 {
		return false
	}
	return e.flags[int(k)*nb.TileSize+i%nb.TileSize]&(1<<(j%nb.TileSize)) != 0
}
