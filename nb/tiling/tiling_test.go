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
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/contrib/sort"
	"github.com/ajroetker/go-nonbonded/nb/device"
)

func newDevice(t *testing.T) *device.Device {
	dev := device.New("tiling-test", 4)
	t.Cleanup(dev.Close)
	return dev
}

func randomPositions(rng *rand.Rand, n int, size float64) []nb.Vec3 {
	pos := make([]nb.Vec3, n)
	for i := range pos {
		pos[i] = nb.Vec3{X: rng.Float64() * size, Y: rng.Float64() * size, Z: rng.Float64() * size}
	}
	return pos
}

func TestBoundsContainMembers(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	pos := randomPositions(rng, 200, 4)
	dev := newDevice(t)
	tl := NewTiler(dev, len(pos))
	tl.Compute(pos, nb.Box{}, false, 1.0)
	require.NoError(t, dev.Finish())

	require.Equal(t, 7, tl.NumBlocks())
	for block, b := range tl.Bounds() {
		start, end := nb.BlockRange(block, len(pos))
		for i := start; i < end; i++ {
			d := nb.Delta(pos[i], b.Center, nb.Box{}, false)
			assert.LessOrEqual(t, abs(d.X), b.HalfExtent.X+1e-12)
			assert.LessOrEqual(t, abs(d.Y), b.HalfExtent.Y+1e-12)
			assert.LessOrEqual(t, abs(d.Z), b.HalfExtent.Z+1e-12)
		}
	}
}

func TestBoundsChooseCompactWrap(t *testing.T) {
	// A block straddling the x boundary of a box of side 3 spans 0.2, not 2.8.
	box := nb.CubicBox(3)
	pos := []nb.Vec3{{X: 2.9}, {X: 0.1}, {X: 2.95}, {X: 0.05}}
	dev := newDevice(t)
	tl := NewTiler(dev, len(pos))
	tl.Compute(pos, box, true, 1.0)
	require.NoError(t, dev.Finish())

	b := tl.Bounds()[0]
	assert.InDelta(t, 0.1, b.HalfExtent.X, 1e-12)
	assert.InDelta(t, 0.0, box.MinimumImage(b.Center).X, 1e-12)
	assert.False(t, b.Large)
}

func TestLargeBlocks(t *testing.T) {
	pos := make([]nb.Vec3, nb.TileSize)
	for i := range pos {
		pos[i] = nb.Vec3{X: float64(i) * 0.1}
	}
	dev := newDevice(t)
	tl := NewTiler(dev, len(pos))
	tl.Compute(pos, nb.Box{}, false, 1.0)
	require.NoError(t, dev.Finish())
	assert.True(t, tl.Bounds()[0].Large, "block of width 3.1 with cutoff 1.0")

	lo, hi := tl.SizeRange()
	assert.Equal(t, lo, hi)
}

func TestReorderIsPermutation(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	// Enough blocks to take the bucketed sort path.
	pos := randomPositions(rng, 3000*nb.TileSize/10, 20)
	box := nb.CubicBox(20)
	dev := newDevice(t)
	tl := NewTiler(dev, len(pos))
	r, err := NewReorderer(dev, sort.Options{ShortList: 64})
	require.NoError(t, err)

	tl.Compute(pos, box, true, 1.2)
	require.NoError(t, r.Reorder(tl, box, true))

	order, rank := r.Order(), r.Rank()
	require.Len(t, order, tl.NumBlocks())
	seen := make([]bool, tl.NumBlocks())
	for i, block := range order {
		require.False(t, seen[block], "block %d appears twice", block)
		seen[block] = true
		assert.Equal(t, int32(i), rank[block])
	}
}

func TestReorderGroupsBySize(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	// Even blocks are tight clusters, odd blocks are spread over the box.
	numBlocks := 40
	pos := make([]nb.Vec3, numBlocks*nb.TileSize)
	for block := range numBlocks {
		spread := 0.5
		if block%2 == 1 {
			spread = 8
		}
		c := nb.Vec3{X: rng.Float64() * 2, Y: rng.Float64() * 2, Z: rng.Float64() * 2}
		for i := range nb.TileSize {
			pos[block*nb.TileSize+i] = nb.Vec3{
				X: c.X + rng.Float64()*spread,
				Y: c.Y + rng.Float64()*spread,
				Z: c.Z + rng.Float64()*spread,
			}
		}
	}
	dev := newDevice(t)
	tl := NewTiler(dev, len(pos))
	r, err := NewReorderer(dev, sort.Options{})
	require.NoError(t, err)
	tl.Compute(pos, nb.Box{}, false, 1.0)
	require.NoError(t, r.Reorder(tl, nb.Box{}, false))

	for i, block := range r.Order() {
		small := block%2 == 0
		assert.Equal(t, i < numBlocks/2, small, "position %d holds block %d", i, block)
	}
}

func TestIdentity(t *testing.T) {
	r, err := NewReorderer(newDevice(t), sort.Options{})
	require.NoError(t, err)
	r.Identity(5)
	assert.Equal(t, []int32{0, 1, 2, 3, 4}, r.Order())
	assert.Equal(t, []int32{0, 1, 2, 3, 4}, r.Rank())
}

func TestMorton(t *testing.T) {
	assert.Equal(t, uint64(0), morton3([3]uint64{0, 0, 0}))
	assert.Equal(t, uint64(0b111), morton3([3]uint64{1, 1, 1}))
	assert.Equal(t, uint64(0b10100), morton3([3]uint64{0, 2, 1}))
	assert.Equal(t, uint64(1)<<48-1, morton3([3]uint64{0xffff, 0xffff, 0xffff}))
}

func TestQuantize(t *testing.T) {
	assert.Equal(t, uint64(0), quantize(-1, 0, 1, 16))
	assert.Equal(t, uint64(0xffff), quantize(2, 0, 1, 16))
	assert.Equal(t, uint64(0), quantize(5, 3, 3, 16))
	assert.Equal(t, uint64(0x7fff), quantize(0.5, 0, 1, 16))
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
