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
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/device"
)

// Bounds is the axis-aligned bounding box of one block.
type Bounds struct {
	// Center of the box. For periodic systems it lies in the primary cell;
	// the members themselves may extend across the cell boundary.
	Center nb.Vec3

	// HalfExtent is half the box size along each axis.
	HalfExtent nb.Vec3

	// Large is set when the block is wider than the padded cutoff along some
	// axis, so that a box-box test says little about individual members.
	Large bool
}

// Size is the length of the half-extent vector.
func (b Bounds) Size() float64 {
	return r3.Norm(b.HalfExtent)
}

// Tiler computes block bounds on a device.
type Tiler struct {
	dev          *device.Device
	numParticles int
	numBlocks    int

	bounds []Bounds

	// Per-worker partial reductions, folded by reduceBlockBounds.
	partials []summary
	summary  summary
}

// summary is the reduced extent of all block centers and sizes.
type summary struct {
	lo, hi           nb.Vec3
	minSize, maxSize float64
}

func emptySummary() summary {
	inf := math.Inf(1)
	return summary{
		lo:      nb.Vec3{X: inf, Y: inf, Z: inf},
		hi:      nb.Vec3{X: -inf, Y: -inf, Z: -inf},
		minSize: inf,
		maxSize: -inf,
	}
}

func (s *summary) add(b Bounds) {
	s.lo = nb.Vec3{X: min(s.lo.X, b.Center.X), Y: min(s.lo.Y, b.Center.Y), Z: min(s.lo.Z, b.Center.Z)}
	s.hi = nb.Vec3{X: max(s.hi.X, b.Center.X), Y: max(s.hi.Y, b.Center.Y), Z: max(s.hi.Z, b.Center.Z)}
	size := b.Size()
	s.minSize = min(s.minSize, size)
	s.maxSize = max(s.maxSize, size)
}

func (s *summary) merge(o summary) {
	s.lo = nb.Vec3{X: min(s.lo.X, o.lo.X), Y: min(s.lo.Y, o.lo.Y), Z: min(s.lo.Z, o.lo.Z)}
	s.hi = nb.Vec3{X: max(s.hi.X, o.hi.X), Y: max(s.hi.Y, o.hi.Y), Z: max(s.hi.Z, o.hi.Z)}
	s.minSize = min(s.minSize, o.minSize)
	s.maxSize = max(s.maxSize, o.maxSize)
}

// NewTiler creates a tiler for numParticles particles.
func NewTiler(dev *device.Device, numParticles int) *Tiler {
	numBlocks := nb.NumBlocks(numParticles)
	return &Tiler{
		dev:          dev,
		numParticles: numParticles,
		numBlocks:    numBlocks,
		bounds:       make([]Bounds, numBlocks),
		partials:     make([]summary, dev.NumWorkers()),
	}
}

// NumBlocks returns the number of blocks.
func (t *Tiler) NumBlocks() int {
	return t.numBlocks
}

// NumParticles returns the number of particles.
func (t *Tiler) NumParticles() int {
	return t.numParticles
}

// Bounds returns the bounds of every block in natural block order. Valid
// after the launches enqueued by Compute have finished.
func (t *Tiler) Bounds() []Bounds {
	return t.bounds
}

// CenterRange returns the component-wise minimum and maximum block center.
func (t *Tiler) CenterRange() (lo, hi nb.Vec3) {
	return t.summary.lo, t.summary.hi
}

// SizeRange returns the smallest and largest block size.
func (t *Tiler) SizeRange() (lo, hi float64) {
	return t.summary.minSize, t.summary.maxSize
}

// Compute enqueues the bounding box launches. Positions must hold one entry
// per particle. The caller synchronizes with dev.Finish.
//
// For periodic systems each member is placed at the image nearest to the
// block's first member, which picks the wrap with the smallest extent for
// any block narrower than half the box.
func (t *Tiler) Compute(positions []nb.Vec3, box nb.Box, periodic bool, paddedCutoff float64) {
	for w := range t.partials {
		t.partials[w] = emptySummary()
	}
	t.dev.LaunchFlat("findBlockBounds", t.numBlocks, func(worker, start, end int) error {
		acc := t.partials[worker]
		for block := start; block < end; block++ {
			b := blockBounds(positions, block, box, periodic, paddedCutoff)
			t.bounds[block] = b
			acc.add(b)
		}
		t.partials[worker] = acc
		return nil
	})
	t.dev.LaunchFlat("reduceBlockBounds", 1, func(worker, start, end int) error {
		s := emptySummary()
		for _, p := range t.partials {
			s.merge(p)
		}
		t.summary = s
		return nil
	})
}

func blockBounds(positions []nb.Vec3, block int, box nb.Box, periodic bool, paddedCutoff float64) Bounds {
	first, last := nb.BlockRange(block, len(positions))
	origin := positions[first]
	if periodic {
		origin = box.Wrap(origin)
	}
	lo, hi := origin, origin
	for i := first + 1; i < last; i++ {
		p := r3.Add(origin, nb.Delta(positions[i], origin, box, periodic))
		lo = nb.Vec3{X: min(lo.X, p.X), Y: min(lo.Y, p.Y), Z: min(lo.Z, p.Z)}
		hi = nb.Vec3{X: max(hi.X, p.X), Y: max(hi.Y, p.Y), Z: max(hi.Z, p.Z)}
	}
	center := r3.Scale(0.5, r3.Add(lo, hi))
	half := r3.Scale(0.5, r3.Sub(hi, lo))
	if periodic {
		center = box.Wrap(center)
	}
	width := 2 * max(half.X, half.Y, half.Z)
	return Bounds{Center: center, HalfExtent: half, Large: width > paddedCutoff}
}
