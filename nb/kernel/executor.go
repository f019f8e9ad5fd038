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

package kernel

import (
	"math/bits"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/device"
	"github.com/ajroetker/go-nonbonded/nb/neighbor"
)

// tileBatch is the number of tiles a worker claims at a time.
const tileBatch = 4

// Work is the neighbor structure and geometry one evaluation runs over.
type Work struct {
	Positions []nb.Vec3
	Box       nb.Box
	Periodic  bool
	Tiles     []neighbor.Entry
	Pairs     []nb.Pair

	// Exclusions supplies the flags of tiles with an exclusion index. It may
	// be nil when no tile has one.
	Exclusions *neighbor.Exclusions
}

// Result is the output of one evaluation.
type Result struct {
	// Forces holds one entry per particle, nil unless forces were requested.
	Forces []nb.Vec3

	Energy float64

	// Derivatives maps a parameter name to the derivative of the energy
	// with respect to it.
	Derivatives map[string]float64
}

// Executor runs kernel sets over tiles and single pairs on a device.
// Every worker accumulates into private buffers that a final launch
// reduces, so no kernel writes shared memory.
type Executor struct {
	dev          *device.Device
	numParticles int

	forces [][]nb.Vec3
	energy []float64
	derivs [][]float64
	plain  []frame
	excl   []frame
}

// NewExecutor creates an executor for numParticles particles.
func NewExecutor(dev *device.Device, numParticles int) *Executor {
	workers := dev.NumWorkers()
	x := &Executor{
		dev:          dev,
		numParticles: numParticles,
		forces:       make([][]nb.Vec3, workers),
		energy:       make([]float64, workers),
		derivs:       make([][]float64, workers),
		plain:        make([]frame, workers),
		excl:         make([]frame, workers),
	}
	for w := range workers {
		x.forces[w] = make([]nb.Vec3, numParticles)
	}
	return x
}

// Run evaluates ks. Nothing is launched when no output is requested or the
// set has no terms.
func (x *Executor) Run(ks *KernelSet, w Work, includeForces, includeEnergy bool) (Result, error) {
	var res Result
	if includeForces {
		res.Forces = make([]nb.Vec3, x.numParticles)
	}
	mode, ok := ModeFor(includeForces, includeEnergy)
	if !ok || ks.Empty() {
		return res, nil
	}
	plain, err := ks.Program(mode, false)
	if err != nil {
		return res, err
	}
	excl, err := ks.Program(mode, true)
	if err != nil {
		return res, err
	}
	x.reset(plain, excl)

	x.dev.LaunchBatched("computeNonbonded", len(w.Tiles), tileBatch, func(worker, start, end int) error {
		for t := start; t < end; t++ {
			x.tile(worker, w, w.Tiles[t], plain, excl, mode)
		}
		return nil
	})
	x.dev.LaunchFlat("computeSinglePairs", len(w.Pairs), func(worker, start, end int) error {
		for _, p := range w.Pairs[start:end] {
			x.pair(worker, w, int(p.I), int(p.J), plain, x.plain[worker], false, mode)
		}
		return nil
	})
	if includeForces {
		x.dev.LaunchFlat("reduceForces", x.numParticles, func(worker, start, end int) error {
			for i := start; i < end; i++ {
				var sum nb.Vec3
				for _, buf := range x.forces {
					sum = r3.Add(sum, buf[i])
				}
				res.Forces[i] = sum
			}
			return nil
		})
	}
	if err := x.dev.Finish(); err != nil {
		return Result{}, err
	}

	if includeEnergy {
		for _, e := range x.energy {
			res.Energy += e
		}
		names := ks.Derivatives()
		res.Derivatives = make(map[string]float64, len(names))
		for k, name := range names {
			for _, d := range x.derivs {
				res.Derivatives[name] += d[k]
			}
		}
	}
	return res, nil
}

func (x *Executor) reset(plain, excl *Program) {
	for w := range x.forces {
		clear(x.forces[w])
		x.energy[w] = 0
		x.derivs[w] = growFloats(x.derivs[w], plain.NumDerivatives())
		x.plain[w] = growFloats(x.plain[w], plain.numSlots)
		x.excl[w] = growFloats(x.excl[w], excl.numSlots)
	}
}

func growFloats(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	s = s[:n]
	clear(s)
	return s
}

// tile evaluates every pair of particle rows of the first block against the
// masked particles of the second block.
func (x *Executor) tile(worker int, w Work, e neighbor.Entry, plain, excl *Program, mode Mode) {
	bx, by := e.Tile.Blocks()
	xs, xe := nb.BlockRange(bx, x.numParticles)
	ys := by * nb.TileSize
	diagonal := bx == by

	prog, f := plain, x.plain[worker]
	var flags []nb.TileMask
	if e.Exclusion >= 0 && w.Exclusions != nil {
		prog, f = excl, x.excl[worker]
		flags = w.Exclusions.TileFlags(e.Exclusion)
	}
	for i := xs; i < xe; i++ {
		row := i - xs
		for m := e.Mask; m != 0; m &= m - 1 {
			col := bits.TrailingZeros32(m)
			j := ys + col
			if diagonal && j <= i {
				continue
			}
			excluded := flags != nil && flags[row]&(1<<col) != 0
			x.pair(worker, w, i, j, prog, f, excluded, mode)
		}
	}
}

func (x *Executor) pair(worker int, w Work, i, j int, prog *Program, f frame, excluded bool, mode Mode) {
	d := nb.Delta(w.Positions[j], w.Positions[i], w.Box, w.Periodic)
	r2 := nb.Dist2(d)
	if r2 == 0 {
		return
	}
	prog.eval(f, i, j, r2, excluded)
	if mode.energy() {
		x.energy[worker] += f[prog.energy]
		for k, slot := range prog.derivs {
			x.derivs[worker][k] += f[slot]
		}
	}
	if mode.forces() {
		// dEdR > 0 pulls i toward j.
		force := r3.Scale(f[prog.dEdR]*f[prog.invR], d)
		buf := x.forces[worker]
		buf[i] = r3.Add(buf[i], force)
		buf[j] = r3.Sub(buf[j], force)
	}
}
