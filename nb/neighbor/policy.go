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
	"slices"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/device"
)

// Reason says why a rebuild was requested.
type Reason int

const (
	// NoRebuild means the existing list is still valid.
	NoRebuild Reason = iota
	// FirstBuild means no list has been built yet.
	FirstBuild
	// Forced means ForceRebuild was called or the reorder heuristic fired.
	Forced
	// NoPadding means padding is disabled, so every step rebuilds.
	NoPadding
	// BoxChanged means the periodic box differs from the snapshot.
	BoxChanged
	// Moved means some particle moved more than half the padding.
	Moved
)

func (r Reason) String() string {
	switch r {
	case NoRebuild:
		return "none"
	case FirstBuild:
		return "first"
	case Forced:
		return "forced"
	case NoPadding:
		return "no-padding"
	case BoxChanged:
		return "box"
	case Moved:
		return "moved"
	}
	return "unknown"
}

// PolicyOptions configure a Policy.
type PolicyOptions struct {
	// ReorderCheckSteps is the number of steps after a reorder before the
	// tile count is compared against its post-reorder baseline.
	ReorderCheckSteps int

	// ReorderGrowthFactor is the tile growth over the baseline that
	// triggers a rebuild with a fresh block reordering.
	ReorderGrowthFactor float64
}

// Policy decides once per step whether the neighbor list must be rebuilt.
type Policy struct {
	dev  *device.Device
	opts PolicyOptions

	usePadding bool
	padding    float64

	snapshot []nb.Vec3
	box      nb.Box
	periodic bool
	valid    bool
	forced   bool

	partials []float64

	reorderPending    bool
	stepsSinceReorder int
	baselineTiles     int
}

// NewPolicy creates a policy for numParticles particles.
func NewPolicy(dev *device.Device, numParticles int, opts PolicyOptions) *Policy {
	return &Policy{
		dev:            dev,
		opts:           opts,
		usePadding:     true,
		snapshot:       make([]nb.Vec3, numParticles),
		partials:       make([]float64, dev.NumWorkers()),
		reorderPending: true,
	}
}

// SetPadding sets the padding distance, the padded cutoff minus the true
// cutoff. A disabled or non-positive padding rebuilds every step.
func (p *Policy) SetPadding(enabled bool, padding float64) {
	p.usePadding = enabled
	p.padding = padding
}

// ForceRebuild makes the next Check request a rebuild with a fresh block
// reordering.
func (p *Policy) ForceRebuild() {
	p.forced = true
	p.reorderPending = true
}

// WantsReorder reports whether the next rebuild should also reorder blocks.
func (p *Policy) WantsReorder() bool {
	return p.reorderPending
}

// Check compares positions against the snapshot. It is the only point where
// the host waits on the device between rebuilds.
func (p *Policy) Check(positions []nb.Vec3, box nb.Box, periodic bool) (Reason, error) {
	switch {
	case !p.valid:
		return FirstBuild, nil
	case p.forced:
		return Forced, nil
	case !p.usePadding || p.padding <= 0:
		return NoPadding, nil
	case periodic != p.periodic || (periodic && box != p.box):
		return BoxChanged, nil
	}
	if len(positions) != len(p.snapshot) {
		return NoRebuild, nb.Configf("prepareInteractions", "got %d positions, want %d", len(positions), len(p.snapshot))
	}

	for w := range p.partials {
		p.partials[w] = 0
	}
	p.dev.LaunchFlat("maxDisplacement", len(positions), func(worker, start, end int) error {
		m := p.partials[worker]
		for i := start; i < end; i++ {
			m = max(m, nb.Dist2(nb.Delta(positions[i], p.snapshot[i], box, periodic)))
		}
		p.partials[worker] = m
		return nil
	})
	if err := p.dev.Finish(); err != nil {
		return NoRebuild, err
	}
	limit := 0.5 * p.padding
	if slices.Max(p.partials) > limit*limit {
		return Moved, nil
	}
	return NoRebuild, nil
}

// Capture records the positions the list was just built from.
func (p *Policy) Capture(positions []nb.Vec3, box nb.Box, periodic bool, reordered bool) {
	if len(p.snapshot) != len(positions) {
		p.snapshot = make([]nb.Vec3, len(positions))
	}
	copy(p.snapshot, positions)
	p.box = box
	p.periodic = periodic
	p.valid = true
	p.forced = false
	if reordered {
		p.reorderPending = false
	}
}

// Observe records the tile count of the current step. Once ReorderCheckSteps
// steps have passed since the last reorder, a tile count above
// ReorderGrowthFactor times the post-reorder baseline forces a rebuild with
// a fresh reordering at the next Check.
func (p *Policy) Observe(tiles int, reordered bool) {
	if reordered || p.baselineTiles == 0 {
		p.baselineTiles = tiles
		p.stepsSinceReorder = 0
		return
	}
	p.stepsSinceReorder++
	if p.opts.ReorderCheckSteps > 0 && p.stepsSinceReorder > p.opts.ReorderCheckSteps &&
		float64(tiles) > p.opts.ReorderGrowthFactor*float64(p.baselineTiles) {
		p.ForceRebuild()
	}
}

// Invalidate discards the snapshot, as after a change in particle count.
func (p *Policy) Invalidate() {
	p.valid = false
	p.reorderPending = true
}
