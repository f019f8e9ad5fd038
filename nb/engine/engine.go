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
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/device"
	"github.com/ajroetker/go-nonbonded/nb/kernel"
	"github.com/ajroetker/go-nonbonded/nb/neighbor"
	"github.com/ajroetker/go-nonbonded/nb/tiling"
)

// Result is the output of ComputeInteractions.
type Result = kernel.Result

// Stats summarize the steps an engine has prepared.
type Stats struct {
	Steps    int
	Rebuilds int
	Reorders int

	// LastReason is why the most recent prepare rebuilt, or NoRebuild.
	LastReason neighbor.Reason

	// Neighbor describes the most recent build.
	Neighbor neighbor.Stats

	KernelHits   int
	KernelMisses int
}

// Engine evaluates registered pairwise interactions over a tiled neighbor
// structure. An Engine is driven by one goroutine.
type Engine struct {
	cfg        Config
	log        *slog.Logger
	dev        *device.Device
	ownsDevice bool

	interactions []kernel.Interaction
	params       []kernel.Parameter
	args         []kernel.Argument
	derivs       []string
	exclusions   [][]int

	usePadding           bool
	blockStart, blockEnd float64

	initialized  bool
	numParticles int
	usesCutoff   bool
	periodic     bool
	maxCutoff    float64
	paddedCutoff float64

	excl    *neighbor.Exclusions
	tiler   *tiling.Tiler
	reorder *tiling.Reorderer
	builder *neighbor.Builder
	policy  *neighbor.Policy
	cache   *kernel.Cache
	exec    *kernel.Executor

	positions []nb.Vec3
	box       nb.Box
	prepared  bool
	rebuilt   bool
	stats     Stats
}

// New creates an engine. The configuration is validated before anything is
// allocated.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	e := &Engine{
		cfg:        cfg,
		log:        o.logger.With("engine", o.name),
		dev:        o.dev,
		usePadding: cfg.UsePadding,
		blockEnd:   1,
		cache:      kernel.NewCache(),
	}
	if e.dev == nil {
		e.dev = device.New(o.name, cfg.Workers)
		e.ownsDevice = true
	}
	return e, nil
}

// Close releases the device if the engine created it.
func (e *Engine) Close() {
	if e.ownsDevice {
		e.dev.Close()
	}
}

// Device returns the device the engine runs on.
func (e *Engine) Device() *device.Device {
	return e.dev
}

// AddInteraction registers a physics term. Every term must agree on
// UsesCutoff and UsesPeriodic, and terms of one force group share one
// cutoff. Terms cannot be added to a group whose kernel is compiled, and
// after Initialize they cannot raise the largest cutoff.
func (e *Engine) AddInteraction(in kernel.Interaction) error {
	const op = "addInteraction"
	if err := in.Validate(); err != nil {
		return err
	}
	if e.cache.CachedGroups()&in.GroupMask() != 0 {
		return nb.Configf(op, "force group %d is already compiled; %s must be registered before the first evaluation", in.Group, in.Name)
	}
	if len(e.interactions) > 0 {
		first := e.interactions[0]
		if in.UsesCutoff != first.UsesCutoff {
			return nb.Configf(op, "%s: all interactions must agree on whether to use a cutoff", in.Name)
		}
		if in.UsesPeriodic != first.UsesPeriodic {
			return nb.Configf(op, "%s: all interactions must agree on whether to use periodic boundary conditions", in.Name)
		}
	}
	for _, other := range e.interactions {
		if other.Group == in.Group && other.UsesCutoff && other.Cutoff != in.Cutoff {
			return nb.Configf(op, "%s: all interactions in force group %d must use the same cutoff (%g vs %g)", in.Name, in.Group, in.Cutoff, other.Cutoff)
		}
		if other.Name == in.Name {
			return nb.Configf(op, "interaction %s registered twice", in.Name)
		}
	}
	if e.initialized {
		if in.UsesCutoff && in.Cutoff > e.maxCutoff {
			return nb.Configf(op, "%s: cutoff %g exceeds the initialized cutoff %g", in.Name, in.Cutoff, e.maxCutoff)
		}
		if len(e.interactions) == 0 {
			return nb.Configf(op, "%s: interactions must be registered before Initialize", in.Name)
		}
	}
	e.interactions = append(e.interactions, in)
	return nil
}

// AddParameter binds a per-particle parameter, read in fragments as
// <name>1 and <name>2.
func (e *Engine) AddParameter(p kernel.Parameter) error {
	const op = "addParameter"
	if err := e.checkBinding(op, p.Name); err != nil {
		return err
	}
	if e.initialized && len(p.Values) != e.numParticles {
		return nb.Configf(op, "parameter %s has %d values for %d particles", p.Name, len(p.Values), e.numParticles)
	}
	e.params = append(e.params, p)
	return nil
}

// AddArgument binds an auxiliary buffer. A single value reads as a scalar,
// longer buffers are indexed.
func (e *Engine) AddArgument(a kernel.Argument) error {
	const op = "addArgument"
	if err := e.checkBinding(op, a.Name); err != nil {
		return err
	}
	if len(a.Values) == 0 {
		return nb.Configf(op, "argument %s is empty", a.Name)
	}
	e.args = append(e.args, a)
	return nil
}

func (e *Engine) checkBinding(op, name string) error {
	if name == "" {
		return nb.Configf(op, "empty name")
	}
	if e.cache.Len() > 0 {
		return nb.Configf(op, "%s: bindings cannot change once a kernel is compiled", name)
	}
	taken := lo.ContainsBy(e.params, func(p kernel.Parameter) bool { return p.Name == name }) ||
		lo.ContainsBy(e.args, func(a kernel.Argument) bool { return a.Name == name })
	if taken {
		return nb.Configf(op, "%s is already bound", name)
	}
	return nil
}

// AddEnergyParameterDerivative requests the derivative of the energy with
// respect to param and returns the accumulator fragments assign it to.
// Requesting the same parameter twice returns the same accumulator.
func (e *Engine) AddEnergyParameterDerivative(param string) string {
	if i := slices.Index(e.derivs, param); i >= 0 {
		return kernel.DerivativeName(i)
	}
	e.derivs = append(e.derivs, param)
	return kernel.DerivativeName(len(e.derivs) - 1)
}

// RequestExclusions supplies the excluded partners of every particle. Every
// caller must pass the same exclusions, since one shared structure serves
// all interactions.
func (e *Engine) RequestExclusions(lists [][]int) error {
	const op = "requestExclusions"
	if e.exclusions != nil {
		same, err := neighbor.SameExclusions(len(e.exclusions), e.exclusions, lists)
		if err != nil {
			return err
		}
		if !same {
			return nb.Configf(op, "all interactions must use the same exclusions")
		}
		return nil
	}
	if e.initialized {
		return nb.Configf(op, "exclusions must be requested before Initialize")
	}
	if _, err := neighbor.Normalize(len(lists), lists); err != nil {
		return err
	}
	e.exclusions = slices.Clone(lists)
	return nil
}

// SetUsePadding enables or disables the padded cutoff. Changing it forces
// a rebuild.
func (e *Engine) SetUsePadding(use bool) {
	e.usePadding = use
	if e.initialized {
		e.paddedCutoff = e.padded()
		e.policy.SetPadding(use, e.paddedCutoff-e.maxCutoff)
		e.policy.ForceRebuild()
	}
}

// SetAtomBlockRange restricts the engine to the fraction [start, end) of
// the tile space. Engines with adjacent ranges together evaluate every
// pair exactly once.
func (e *Engine) SetAtomBlockRange(start, end float64) {
	e.blockStart, e.blockEnd = start, end
	if e.initialized {
		e.builder.SetTileRange(start, end)
		e.policy.ForceRebuild()
	}
}

func (e *Engine) padded() float64 {
	if !e.usePadding {
		return e.maxCutoff
	}
	return e.maxCutoff * (1 + e.cfg.PaddingFraction)
}

// Initialize fixes the particle count and allocates the neighbor
// structure. For periodic interactions box must be valid for the largest
// cutoff.
func (e *Engine) Initialize(numParticles int, box nb.Box) error {
	const op = "initialize"
	if e.initialized {
		return nb.Configf(op, "engine is already initialized")
	}
	if numParticles <= 0 {
		return nb.Configf(op, "need at least one particle, got %d", numParticles)
	}
	for _, p := range e.params {
		if len(p.Values) != numParticles {
			return nb.Configf(op, "parameter %s has %d values for %d particles", p.Name, len(p.Values), numParticles)
		}
	}
	if e.exclusions != nil && len(e.exclusions) != numParticles {
		return nb.Configf(op, "exclusions cover %d particles, want %d", len(e.exclusions), numParticles)
	}
	for _, name := range e.derivs {
		if !lo.ContainsBy(e.args, func(a kernel.Argument) bool { return a.Name == name }) &&
			!lo.ContainsBy(e.params, func(p kernel.Parameter) bool { return p.Name == name }) {
			e.log.Warn("energy derivative requested for an unbound parameter", "param", name)
		}
	}

	if len(e.interactions) > 0 {
		e.usesCutoff = e.interactions[0].UsesCutoff
		e.periodic = e.interactions[0].UsesPeriodic
	}
	e.maxCutoff = 0
	for _, in := range e.interactions {
		if in.UsesCutoff {
			e.maxCutoff = max(e.maxCutoff, in.Cutoff)
		}
	}
	if e.periodic {
		if err := box.Validate(e.maxCutoff); err != nil {
			return err
		}
	}
	e.paddedCutoff = e.padded()

	excl, err := neighbor.NewExclusions(numParticles, e.exclusions, nb.WideSIMD())
	if err != nil {
		return err
	}
	reorder, err := tiling.NewReorderer(e.dev, e.cfg.sortOptions())
	if err != nil {
		return err
	}
	pairBits := e.cfg.pairListBits()
	if !lo.EveryBy(e.interactions, func(in kernel.Interaction) bool { return in.SupportsPairList }) {
		pairBits = 0
	}
	builder, err := neighbor.NewBuilder(e.dev, numParticles, excl, neighbor.Options{
		UseCutoff:            e.usesCutoff && lo.EveryBy(e.interactions, func(in kernel.Interaction) bool { return in.UseNeighborList }),
		MaxBitsForPairs:      pairBits,
		InitialTilesPerBlock: e.cfg.InitialTilesPerBlock,
		InitialPairsPerAtom:  e.cfg.InitialPairsPerAtom,
		Sort:                 e.cfg.sortOptions(),
	})
	if err != nil {
		return err
	}
	builder.SetTileRange(e.blockStart, e.blockEnd)
	policy := neighbor.NewPolicy(e.dev, numParticles, neighbor.PolicyOptions{
		ReorderCheckSteps:   e.cfg.ReorderCheckSteps,
		ReorderGrowthFactor: e.cfg.ReorderGrowthFactor,
	})
	policy.SetPadding(e.usePadding, e.paddedCutoff-e.maxCutoff)

	e.numParticles = numParticles
	e.box = box
	e.excl = excl
	e.tiler = tiling.NewTiler(e.dev, numParticles)
	e.reorder = reorder
	e.builder = builder
	e.policy = policy
	e.exec = kernel.NewExecutor(e.dev, numParticles)
	e.initialized = true

	tiles, pairs := builder.Capacity()
	e.log.Info("initialized",
		"particles", numParticles,
		"blocks", nb.NumBlocks(numParticles),
		"interactions", len(e.interactions),
		"cutoff", e.maxCutoff,
		"padded_cutoff", e.paddedCutoff,
		"periodic", e.periodic,
		"exclusion_tiles", len(excl.Tiles()),
		"tile_capacity", tiles,
		"pair_capacity", pairs,
		"dispatch", nb.CurrentLevel().String(),
	)
	return nil
}

func (e *Engine) registry() kernel.Registry {
	return kernel.Registry{
		Interactions: e.interactions,
		Parameters:   e.params,
		Arguments:    e.args,
		Derivatives:  e.derivs,
	}
}

// kernelSet returns the fused kernel of groups, compiling it on first use.
func (e *Engine) kernelSet(groups uint32) (*kernel.KernelSet, error) {
	ks, hit, err := e.cache.Get(groups, e.registry())
	if err != nil {
		return nil, fmt.Errorf("engine: force groups %#x: %w", groups, err)
	}
	if hit {
		e.stats.KernelHits++
	} else {
		e.stats.KernelMisses++
		e.log.Info("compiled kernel set",
			"groups", fmt.Sprintf("%#x", groups),
			"terms", len(ks.Terms()),
			"id", ks.ID().String(),
		)
	}
	return ks, nil
}

// PrepareInteractions readies the neighbor structure for positions. The
// list is rebuilt when no list exists, a rebuild was forced, padding is
// off, the box changed, or a particle moved more than half the padding
// since the last build.
func (e *Engine) PrepareInteractions(groups uint32, positions []nb.Vec3, box nb.Box) error {
	const op = "prepareInteractions"
	if !e.initialized {
		return nb.Configf(op, "engine is not initialized")
	}
	if len(positions) != e.numParticles {
		return nb.Configf(op, "got %d positions, want %d", len(positions), e.numParticles)
	}
	if e.periodic {
		if err := box.Validate(e.maxCutoff); err != nil {
			return err
		}
	}
	if _, err := e.kernelSet(groups); err != nil {
		return err
	}

	reason, err := e.policy.Check(positions, box, e.periodic)
	if err != nil {
		return err
	}
	e.positions, e.box = positions, box
	e.prepared = true
	e.stats.Steps++
	e.stats.LastReason = reason
	e.rebuilt = reason != neighbor.NoRebuild
	if !e.rebuilt {
		e.policy.Observe(e.stats.Neighbor.Tiles, false)
		return nil
	}

	e.tiler.Compute(positions, box, e.periodic, e.paddedCutoff)
	reordered := e.policy.WantsReorder()
	if reordered {
		if err := e.reorder.Reorder(e.tiler, box, e.periodic); err != nil {
			return err
		}
		e.stats.Reorders++
	}
	stats, err := e.builder.Build(neighbor.Geometry{
		Positions:    positions,
		Box:          box,
		Periodic:     e.periodic,
		PaddedCutoff: e.paddedCutoff,
		Bounds:       e.tiler.Bounds(),
		Order:        e.reorder.Order(),
	})
	if err != nil {
		e.prepared = false
		e.policy.Invalidate()
		return err
	}
	e.policy.Capture(positions, box, e.periodic, reordered)
	e.policy.Observe(stats.Tiles, reordered)
	e.stats.Rebuilds++
	e.stats.Neighbor = stats

	if stats.Retries > 0 {
		e.log.Warn("grew neighbor buffers",
			"retries", stats.Retries,
			"tile_capacity", stats.TileCapacity,
			"pair_capacity", stats.PairCapacity,
		)
	}
	e.log.Debug("rebuilt neighbor list",
		"reason", reason.String(),
		"reordered", reordered,
		"tiles", stats.Tiles,
		"pairs", stats.Pairs,
	)
	return nil
}

// ComputeInteractions runs the fused kernel of groups over the prepared
// neighbor structure.
func (e *Engine) ComputeInteractions(groups uint32, includeForces, includeEnergy bool) (Result, error) {
	if !e.prepared {
		return Result{}, nb.Configf("computeInteractions", "PrepareInteractions has not succeeded")
	}
	ks, err := e.kernelSet(groups)
	if err != nil {
		return Result{}, err
	}
	return e.exec.Run(ks, kernel.Work{
		Positions:  e.positions,
		Box:        e.box,
		Periodic:   e.periodic,
		Tiles:      e.builder.Tiles(),
		Pairs:      e.builder.SinglePairs(),
		Exclusions: e.excl,
	}, includeForces, includeEnergy)
}

// ForceRebuild makes the next PrepareInteractions rebuild with a fresh
// block reordering.
func (e *Engine) ForceRebuild() {
	if e.initialized {
		e.policy.ForceRebuild()
	}
}
