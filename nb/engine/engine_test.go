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
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/kernel"
	"github.com/ajroetker/go-nonbonded/nb/neighbor"
)

const cutoff = 1.0

// soft vanishes smoothly at the cutoff.
var soft = kernel.Interaction{
	Name: "soft",
	Source: `u := 1 - r2/CUTOFF_SQUARED
energy = eps1 * eps2 * u * u
dEdR = -4 * eps1 * eps2 * u * r / CUTOFF_SQUARED`,
	Cutoff:           cutoff,
	UsesCutoff:       true,
	UsesPeriodic:     true,
	UsesExclusions:   true,
	UseNeighborList:  true,
	SupportsPairList: true,
}

func softEnergy(eps []float64, i, j int, r float64) float64 {
	u := 1 - r*r/(cutoff*cutoff)
	return eps[i] * eps[j] * u * u
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	cfg.Workers = 4
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

type testSystem struct {
	box   nb.Box
	pos   []nb.Vec3
	eps   []float64
	lists [][]int
}

func randomSystem(seed uint64, n int, size float64) *testSystem {
	rng := rand.New(rand.NewPCG(seed, 3))
	s := &testSystem{
		box:   nb.CubicBox(size),
		pos:   make([]nb.Vec3, n),
		eps:   make([]float64, n),
		lists: make([][]int, n),
	}
	for i := range n {
		s.pos[i] = nb.Vec3{X: rng.Float64() * size, Y: rng.Float64() * size, Z: rng.Float64() * size}
		s.eps[i] = 0.5 + rng.Float64()
	}
	// Chains of three excluded neighbors.
	for i := 0; i+1 < n; i++ {
		if i%3 != 2 {
			s.lists[i] = append(s.lists[i], i+1)
			s.lists[i+1] = append(s.lists[i+1], i)
		}
	}
	return s
}

func (s *testSystem) jiggle(rng *rand.Rand, step float64) {
	for i := range s.pos {
		s.pos[i].X += (rng.Float64()*2 - 1) * step
		s.pos[i].Y += (rng.Float64()*2 - 1) * step
		s.pos[i].Z += (rng.Float64()*2 - 1) * step
	}
}

func (s *testSystem) bruteForce(excl *neighbor.Exclusions) float64 {
	var e float64
	for i := range s.pos {
		for j := i + 1; j < len(s.pos); j++ {
			if excl.Excluded(i, j) {
				continue
			}
			r := math.Sqrt(nb.Dist2(nb.Delta(s.pos[j], s.pos[i], s.box, true)))
			if r < cutoff {
				e += softEnergy(s.eps, i, j, r)
			}
		}
	}
	return e
}

func setup(t *testing.T, e *Engine, s *testSystem) {
	t.Helper()
	require.NoError(t, e.AddInteraction(soft))
	require.NoError(t, e.AddParameter(kernel.Parameter{Name: "eps", Values: s.eps}))
	require.NoError(t, e.RequestExclusions(s.lists))
	require.NoError(t, e.Initialize(len(s.pos), s.box))
}

func TestPeriodicWrapScenario(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	require.NoError(t, e.AddInteraction(kernel.Interaction{
		Name:            "distance",
		Source:          "energy = r\ndEdR = 1",
		Cutoff:          0.5,
		UsesCutoff:      true,
		UsesPeriodic:    true,
		UseNeighborList: true,
	}))
	box := nb.CubicBox(3)
	pos := []nb.Vec3{{X: 0.1}, {X: 2.95}}
	require.NoError(t, e.Initialize(2, box))
	require.NoError(t, e.PrepareInteractions(1, pos, box))

	require.Equal(t, []nb.Tile{nb.PackTile(0, 0)}, e.Tiles())
	assert.Equal(t, []nb.TileMask{0b11}, e.InteractingAtoms())
	res, err := e.ComputeInteractions(1, true, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, res.Energy, 1e-12)
	// energy = r pulls the pair together across the boundary.
	assert.InDelta(t, -1, res.Forces[0].X, 1e-12)
	assert.InDelta(t, 1, res.Forces[1].X, 1e-12)
}

func TestEnergyAcrossSteps(t *testing.T) {
	s := randomSystem(1, 400, 5)
	e := newEngine(t, DefaultConfig())
	setup(t, e, s)

	rng := rand.New(rand.NewPCG(9, 9))
	for step := range 12 {
		require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))
		res, err := e.ComputeInteractions(1, false, true)
		require.NoError(t, err)
		want := s.bruteForce(e.Exclusions())
		assert.InDelta(t, want, res.Energy, 1e-9*math.Max(1, want), "step %d", step)
		s.jiggle(rng, 0.012)
	}
	stats := e.Stats()
	assert.Equal(t, 12, stats.Steps)
	assert.Less(t, stats.Rebuilds, stats.Steps)
	assert.GreaterOrEqual(t, stats.Rebuilds, 1)
	assert.Equal(t, 1, stats.KernelMisses)
}

func TestRebuildDecisions(t *testing.T) {
	s := randomSystem(2, 200, 4)
	e := newEngine(t, DefaultConfig())
	setup(t, e, s)
	half := 0.5 * (e.PaddedCutoff() - e.MaxCutoff())

	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))
	assert.True(t, e.RebuildOccurred())
	assert.Equal(t, neighbor.FirstBuild, e.Stats().LastReason)

	s.pos[5].X += 0.5 * half
	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))
	assert.False(t, e.RebuildOccurred())

	s.pos[5].X += 0.6 * half
	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))
	assert.True(t, e.RebuildOccurred())
	assert.Equal(t, neighbor.Moved, e.Stats().LastReason)

	e.ForceRebuild()
	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))
	assert.Equal(t, neighbor.Forced, e.Stats().LastReason)

	e.SetUsePadding(false)
	assert.Equal(t, e.MaxCutoff(), e.PaddedCutoff())
	for range 2 {
		require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))
		assert.True(t, e.RebuildOccurred())
	}
	assert.Equal(t, neighbor.NoPadding, e.Stats().LastReason)

	res, err := e.ComputeInteractions(1, false, true)
	require.NoError(t, err)
	want := s.bruteForce(e.Exclusions())
	assert.InDelta(t, want, res.Energy, 1e-9*math.Max(1, want))
}

func TestCapacityGrowthIsTransparent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialTilesPerBlock = 1
	cfg.InitialPairsPerAtom = 0
	s := randomSystem(3, 600, 4)
	e := newEngine(t, cfg)
	setup(t, e, s)

	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))
	assert.Positive(t, e.Stats().Neighbor.Retries)
	res, err := e.ComputeInteractions(1, false, true)
	require.NoError(t, err)
	want := s.bruteForce(e.Exclusions())
	assert.InDelta(t, want, res.Energy, 1e-9*math.Max(1, want))
}

func TestExclusionsMustAgree(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	a := [][]int{{1}, {0}, nil}
	require.NoError(t, e.RequestExclusions(a))
	require.NoError(t, e.RequestExclusions([][]int{{1}, nil, nil}), "closure makes these equal")
	err := e.RequestExclusions([][]int{{2}, nil, nil})
	assert.ErrorIs(t, err, nb.ErrConfiguration)
	assert.ErrorIs(t, e.RequestExclusions([][]int{{1}, {0}}), nb.ErrConfiguration)
}

func TestRegistrationChecks(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	require.NoError(t, e.AddInteraction(soft))

	noCutoff := soft
	noCutoff.Name, noCutoff.UsesCutoff = "plain", false
	assert.ErrorIs(t, e.AddInteraction(noCutoff), nb.ErrConfiguration)

	nonPeriodic := soft
	nonPeriodic.Name, nonPeriodic.UsesPeriodic = "open", false
	assert.ErrorIs(t, e.AddInteraction(nonPeriodic), nb.ErrConfiguration)

	otherCutoff := soft
	otherCutoff.Name, otherCutoff.Cutoff = "wide", 1.2
	assert.ErrorIs(t, e.AddInteraction(otherCutoff), nb.ErrConfiguration)
	otherCutoff.Group = 2
	require.NoError(t, e.AddInteraction(otherCutoff))

	require.NoError(t, e.AddParameter(kernel.Parameter{Name: "eps", Values: []float64{1}}))
	assert.ErrorIs(t, e.AddParameter(kernel.Parameter{Name: "eps", Values: []float64{1}}), nb.ErrConfiguration)
	assert.ErrorIs(t, e.AddArgument(kernel.Argument{Name: "eps", Values: []float64{1}}), nb.ErrConfiguration)
	assert.ErrorIs(t, e.AddArgument(kernel.Argument{Name: "k"}), nb.ErrConfiguration)

	// Compiling group 0 freezes it.
	_, err := e.Source(1)
	require.NoError(t, err)
	late := soft
	late.Name = "late"
	assert.ErrorIs(t, e.AddInteraction(late), nb.ErrConfiguration)
	late.Group, late.Cutoff = 1, 0.9
	assert.NoError(t, e.AddInteraction(late))
	assert.ErrorIs(t, e.AddArgument(kernel.Argument{Name: "k", Values: []float64{1}}), nb.ErrConfiguration)
}

func TestEnergyParameterDerivativeNames(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	assert.Equal(t, "energyParamDeriv0", e.AddEnergyParameterDerivative("lambda"))
	assert.Equal(t, "energyParamDeriv1", e.AddEnergyParameterDerivative("mu"))
	assert.Equal(t, "energyParamDeriv0", e.AddEnergyParameterDerivative("lambda"))
}

func TestDerivativeResults(t *testing.T) {
	s := randomSystem(4, 150, 4)
	e := newEngine(t, DefaultConfig())
	name := e.AddEnergyParameterDerivative("lambda")
	scaled := soft
	scaled.Source = "u := 1 - r2/CUTOFF_SQUARED\nenergy = lambda * u * u\n" + name + " = u * u"
	require.NoError(t, e.AddInteraction(scaled))
	require.NoError(t, e.AddArgument(kernel.Argument{Name: "lambda", Values: []float64{2}}))
	require.NoError(t, e.Initialize(len(s.pos), s.box))
	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))

	res, err := e.ComputeInteractions(1, false, true)
	require.NoError(t, err)
	assert.InDelta(t, res.Energy/2, res.Derivatives["lambda"], 1e-9)
}

func TestSetupErrors(t *testing.T) {
	s := randomSystem(5, 50, 4)

	e := newEngine(t, DefaultConfig())
	require.NoError(t, e.AddInteraction(soft))
	err := e.Initialize(len(s.pos), nb.CubicBox(1.5))
	assert.ErrorIs(t, err, nb.ErrNumerical)
	assert.ErrorIs(t, e.Initialize(len(s.pos), nb.Box{}), nb.ErrNumerical)

	assert.ErrorIs(t, e.PrepareInteractions(1, s.pos, s.box), nb.ErrConfiguration)
	_, err = e.ComputeInteractions(1, true, true)
	assert.ErrorIs(t, err, nb.ErrConfiguration)

	require.NoError(t, e.AddParameter(kernel.Parameter{Name: "eps", Values: s.eps[:10]}))
	assert.ErrorIs(t, e.Initialize(len(s.pos), s.box), nb.ErrConfiguration)

	ok := newEngine(t, DefaultConfig())
	setup(t, ok, s)
	assert.ErrorIs(t, ok.Initialize(len(s.pos), s.box), nb.ErrConfiguration)
	assert.ErrorIs(t, ok.PrepareInteractions(1, s.pos[:10], s.box), nb.ErrConfiguration)
	assert.ErrorIs(t, ok.PrepareInteractions(1, s.pos, nb.CubicBox(1.9)), nb.ErrNumerical)

	broken := newEngine(t, DefaultConfig())
	bad := soft
	bad.Source = "energy = missing"
	require.NoError(t, broken.AddInteraction(bad))
	require.NoError(t, broken.Initialize(len(s.pos), s.box))
	err = broken.PrepareInteractions(1, s.pos, s.box)
	assert.ErrorIs(t, err, nb.ErrCompile)
	var ce *kernel.CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Source, "func computePair(")
}

func TestAccessors(t *testing.T) {
	s := randomSystem(6, 300, 4)
	e := newEngine(t, DefaultConfig())
	setup(t, e, s)
	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))

	numBlocks := nb.NumBlocks(len(s.pos))
	assert.Len(t, e.BlockBounds(), numBlocks)
	assert.ElementsMatch(t, []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, e.SortedBlocks())
	assert.Len(t, e.InteractingAtoms(), len(e.Tiles()))
	assert.Len(t, e.ExclusionFlags(), nb.TileSize*len(e.ExclusionTiles()))
	assert.Len(t, e.ExclusionRowIndices(), numBlocks+1)
	for _, p := range e.SinglePairs() {
		assert.Less(t, p.I, p.J)
	}
	assert.InDelta(t, 1.08, e.PaddedCutoff(), 1e-12)

	src, err := e.Source(1)
	require.NoError(t, err)
	assert.Contains(t, src, "// soft (group 0)")
	assert.True(t, strings.HasPrefix(src, "// Code generated by nb/kernel. DO NOT EDIT."))
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := randomSystem(7, 100, 4)
	e := newEngine(t, DefaultConfig(), WithLogger(logger), WithName("logged"))
	setup(t, e, s)
	require.NoError(t, e.PrepareInteractions(1, s.pos, s.box))

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		assert.Equal(t, "logged", rec["engine"])
		msgs = append(msgs, rec["msg"].(string))
	}
	assert.Equal(t, []string{"initialized", "compiled kernel set", "rebuilt neighbor list"}, msgs)
}
