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

package engine

import (
	"github.com/samber/lo"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/kernel"
	"github.com/ajroetker/go-nonbonded/nb/neighbor"
	"github.com/ajroetker/go-nonbonded/nb/tiling"
)

// The accessors below expose the neighbor structure to force terms that
// evaluate it with their own kernels. Slices alias engine buffers and are
// valid until the next PrepareInteractions.

// NumParticles returns the particle count given to Initialize.
func (e *Engine) NumParticles() int {
	return e.numParticles
}

// Interactions returns the registered terms in registration order.
func (e *Engine) Interactions() []kernel.Interaction {
	return e.interactions
}

// TileEntries returns the interacting tiles with their masks and
// exclusion indices.
func (e *Engine) TileEntries() []neighbor.Entry {
	if e.builder == nil {
		return nil
	}
	return e.builder.Tiles()
}

// Tiles returns the interacting tiles.
func (e *Engine) Tiles() []nb.Tile {
	return lo.Map(e.TileEntries(), func(en neighbor.Entry, _ int) nb.Tile { return en.Tile })
}

// InteractingAtoms returns, per interacting tile, the mask of atoms of the
// second block within the padded cutoff of the first block.
func (e *Engine) InteractingAtoms() []nb.TileMask {
	return lo.Map(e.TileEntries(), func(en neighbor.Entry, _ int) nb.TileMask { return en.Mask })
}

// SinglePairs returns the pairs taken out of sparse tiles.
func (e *Engine) SinglePairs() []nb.Pair {
	if e.builder == nil {
		return nil
	}
	return e.builder.SinglePairs()
}

// Exclusions returns the shared exclusion structure.
func (e *Engine) Exclusions() *neighbor.Exclusions {
	return e.excl
}

// ExclusionTiles returns every tile holding at least one excluded pair.
func (e *Engine) ExclusionTiles() []nb.Tile {
	if e.excl == nil {
		return nil
	}
	return e.excl.Tiles()
}

// ExclusionFlags returns one mask word per row of every exclusion tile.
func (e *Engine) ExclusionFlags() []nb.TileMask {
	if e.excl == nil {
		return nil
	}
	return e.excl.Flags()
}

// ExclusionRowIndices returns the start offsets into ExclusionTiles of the
// tiles whose second block is each block.
func (e *Engine) ExclusionRowIndices() []int32 {
	if e.excl == nil {
		return nil
	}
	return e.excl.RowIndices()
}

// BlockBounds returns the bounding boxes of the last rebuild, one per
// block in natural order.
func (e *Engine) BlockBounds() []tiling.Bounds {
	if e.tiler == nil {
		return nil
	}
	return e.tiler.Bounds()
}

// SortedBlocks returns the block processing order.
func (e *Engine) SortedBlocks() []int32 {
	if e.reorder == nil {
		return nil
	}
	return e.reorder.Order()
}

// RebuildOccurred reports whether the last PrepareInteractions rebuilt the
// neighbor list. Per-tile caches kept elsewhere are stale when it did.
func (e *Engine) RebuildOccurred() bool {
	return e.rebuilt
}

// MaxCutoff returns the largest cutoff of any interaction.
func (e *Engine) MaxCutoff() float64 {
	return e.maxCutoff
}

// PaddedCutoff returns the cutoff the neighbor list is built with.
func (e *Engine) PaddedCutoff() float64 {
	return e.paddedCutoff
}

// UsePadding reports whether the padded cutoff is enabled.
func (e *Engine) UsePadding() bool {
	return e.usePadding
}

// Source returns the fused source evaluated for exclusion tiles with both
// forces and energy, the variant that contains every statement.
func (e *Engine) Source(groups uint32) (string, error) {
	ks, err := e.kernelSet(groups)
	if err != nil {
		return "", err
	}
	return ks.Source(kernel.ModeBoth, true)
}

// Stats returns counters of the steps prepared so far.
func (e *Engine) Stats() Stats {
	return e.stats
}
