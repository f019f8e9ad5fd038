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

package nb

import (
	"fmt"
	"math/bits"
)

// TileSize is the number of particles in a block. It is fixed for the life
// of the process so that one uint32 mask covers one block.
const TileSize = 32

// TileMask is a per-block bit mask, one bit per particle of a block.
type TileMask = uint32

// NumBlocks returns the number of blocks needed for n particles. The last
// block may be partial.
func NumBlocks(n int) int {
	return (n + TileSize - 1) / TileSize
}

// NumTiles returns the number of unordered block pairs (i <= j) for the
// given block count.
func NumTiles(numBlocks int) int {
	return numBlocks * (numBlocks + 1) / 2
}

// BlockRange returns the half-open particle index range covered by a block.
func BlockRange(block, numParticles int) (start, end int) {
	start = block * TileSize
	end = min(start+TileSize, numParticles)
	return start, end
}

// Tile packs two block indices x <= y into one word, x in the high half.
type Tile uint64

// PackTile builds a Tile from two block indices in either order.
func PackTile(a, b int) Tile {
	if a > b {
		a, b = b, a
	}
	return Tile(uint64(uint32(a))<<32 | uint64(uint32(b)))
}

// Blocks returns the two block indices, smallest first.
func (t Tile) Blocks() (x, y int) {
	return int(uint32(t >> 32)), int(uint32(t))
}

// IsDiagonal reports whether both blocks of the tile are the same.
func (t Tile) IsDiagonal() bool {
	x, y := t.Blocks()
	return x == y
}

func (t Tile) String() string {
	x, y := t.Blocks()
	return fmt.Sprintf("(%d,%d)", x, y)
}

// Pair is a single interacting particle pair taken out of a sparse tile.
type Pair struct {
	I, J int32
}

// TileIndex returns the linear index of tile (x, y), x <= y, in row-major
// upper triangular order. It is the inverse of TileAt.
func TileIndex(x, y, numBlocks int) int {
	return x*numBlocks - x*(x-1)/2 + (y - x)
}

// TileAt returns the tile with the given linear upper triangular index.
func TileAt(index, numBlocks int) Tile {
	x := 0
	rowLen := numBlocks
	for index >= rowLen {
		index -= rowLen
		x++
		rowLen--
	}
	return PackTile(x, x+index)
}

// PopCount is the number of set bits in a tile mask.
func PopCount(m TileMask) int {
	return bits.OnesCount32(m)
}
