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
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-nonbonded/nb"
)

var (
	coulomb = Interaction{
		Name:           "coulomb",
		Source:         "energy = scale * q1 * q2 * invR\ndEdR = -energy * invR",
		Cutoff:         1.5,
		Group:          0,
		UsesCutoff:     true,
		UsesPeriodic:   true,
		UsesExclusions: true,
	}
	repulsion = Interaction{
		Name: "repulsion",
		Source: `s := sigma1 + sigma2
if r < s {
	energy = (s - r) * (s - r)
	dEdR = -2 * (s - r)
}`,
		Cutoff:       2,
		Group:        1,
		UsesCutoff:   true,
		UsesPeriodic: true,
	}
)

func testRegistry() Registry {
	return Registry{
		Interactions: []Interaction{coulomb, repulsion},
		Parameters: []Parameter{
			{Name: "q", Values: []float64{1, -1, 0.5}},
			{Name: "sigma", Values: []float64{0.3, 0.4, 0.5}},
		},
		Arguments: []Argument{{Name: "scale", Values: []float64{138.9}}},
	}
}

func TestFusedSourceGolden(t *testing.T) {
	ks, hit, err := NewCache().Get(0x3, testRegistry())
	require.NoError(t, err)
	require.False(t, hit)

	src, err := ks.Source(ModeBoth, true)
	require.NoError(t, err)
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "fused_both_exclusions", []byte(src))
}

func TestVariants(t *testing.T) {
	ks, _, err := NewCache().Get(0x3, testRegistry())
	require.NoError(t, err)
	require.NoError(t, ks.Compile())

	forces, err := ks.Source(ModeForces, false)
	require.NoError(t, err)
	assert.NotContains(t, forces, "excluded")
	assert.NotContains(t, forces, "energy += ")
	assert.Contains(t, forces, "dEdR += t1_dEdR")

	energy, err := ks.Source(ModeEnergy, true)
	require.NoError(t, err)
	assert.Contains(t, energy, "!excluded && r2 < CUTOFF_SQUARED_0")
	assert.NotContains(t, energy, "dEdR += ")

	// Without exclusion-using terms both tile kinds share one program.
	only, _, err := NewCache().Get(0x2, testRegistry())
	require.NoError(t, err)
	plain, err := only.Program(ModeBoth, false)
	require.NoError(t, err)
	excl, err := only.Program(ModeBoth, true)
	require.NoError(t, err)
	assert.Same(t, plain, excl)
	assert.Equal(t, []Interaction{repulsion}, only.Terms())
}

// evalAt compiles a single-term set and evaluates it for particles 0 and 1.
func evalAt(t *testing.T, source string, r2 float64, args ...Argument) (energy, dEdR float64) {
	t.Helper()
	reg := Registry{
		Interactions: []Interaction{{Name: "term", Source: source}},
		Parameters:   []Parameter{{Name: "eps", Values: []float64{2, 3}}},
		Arguments:    args,
	}
	ks, _, err := NewCache().Get(0x1, reg)
	require.NoError(t, err)
	p, err := ks.Program(ModeBoth, false)
	require.NoError(t, err)
	f := p.newFrame()
	p.eval(f, 0, 1, r2, false)
	return f[p.energy], f[p.dEdR]
}

func TestExpressions(t *testing.T) {
	table := Argument{Name: "table", Values: []float64{10, 20, 30}}
	tests := []struct {
		source string
		want   float64
	}{
		{"energy = r", 2},
		{"energy = r2", 4},
		{"energy = invR", 0.5},
		{"energy = eps1 * eps2", 6},
		{"energy = sqrt(r2) + math.Sqrt(r2)", 4},
		{"energy = exp(0) + log(1)", 1},
		{"energy = pow(r, 3)", 8},
		{"energy = erf(0) + erfc(0)", 1},
		{"energy = abs(-r)", 2},
		{"energy = min(r, 1, 3) + max(r, 1)", 3},
		{"energy = sin(0) + cos(0) + tanh(0)", 1},
		{"energy = floor(2.7)", 2},
		{"energy = select(r > 1, 5, 7)", 5},
		{"energy = select(r > 3, 5, select(r2 == 4, 6, 7))", 6},
		{"s := 1\nif select(r < 1, 0, 1) > 0 {\n\ts = 2\n}\nenergy = s", 2},
		{"energy = step(r - 2) + step(r - 3)", 1},
		{"energy = table[r]", 30},
		{"energy = math.Pi", math.Pi},
		{"x := 1\nx += 2\nx *= 3\nx -= 1\nx /= 4\nenergy = x", 2},
		{"ok := r2 >= 4 && !(r < 1) || false\nif ok {\n\tenergy = 1\n} else {\n\tenergy = 2\n}", 1},
		{"if r > 5 {\n\tenergy = 1\n} else if r > 1 {\n\tenergy = 2\n}", 2},
		{"n := 0\nn++\nn++\nn--\nenergy = n", 1},
		{"a, b := 1, 2\na, b = b, a\nenergy = a*10 + b", 21},
		{"energy = 0x10 + 1e1", 26},
	}
	for _, tt := range tests {
		got, _ := evalAt(t, tt.source, 4, table)
		assert.InDelta(t, tt.want, got, 1e-12, "%q", tt.source)
	}
}

func TestRewriteSelect(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"energy = select(r > 1, 5, 7)", "energy = select_(r > 1, 5, 7)"},
		{"energy = select (a, select(b, 1, 2), 3)", "energy = select_ (a, select_(b, 1, 2), 3)"},
		{"// select(x)\nselection := 1", "// select(x)\nselection := 1"},
		{"select {\n}", "select {\n}"},
		{"energy = r", "energy = r"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rewriteSelect(tt.in), tt.in)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name, source, msg string
	}{
		{"undefined", "energy = bogus", "undefined: bogus"},
		{"input", "r = 1", "cannot assign to input r"},
		{"arity", "energy = pow(r)", "pow takes 2 arguments"},
		{"unknown call", "energy = gamma(r)", "undefined function gamma"},
		{"bool arith", "energy = (r < 1) + 1", "not defined on booleans"},
		{"redeclared", "x := 1\nx := 2", "t0_x redeclared"},
		{"syntax", "energy = (r", "expected"},
		{"escape", "}\nfunc evil() {", "list of statements"},
		{"loop", "for {\n}", "unsupported statement"},
		{"scalar index", "energy = scale[0]", "not an indexed argument"},
		{"bad deriv", "energyParamDeriv3 = 1", "undefined: energyParamDeriv3"},
		{"select cond", "energy = select(r, 1, 2)", "select requires (bool, number, number)"},
		{"select arity", "energy = select(r > 1, 2)", "select requires"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := Registry{
				Interactions: []Interaction{{Name: "bad", Source: tt.source}},
				Arguments:    []Argument{{Name: "scale", Values: []float64{1}}},
			}
			_, _, err := NewCache().Get(0x1, reg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, nb.ErrCompile))
			assert.Equal(t, nb.KindCompile, nb.KindOf(err))
			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Contains(t, ce.Msg, tt.msg)
			assert.NotEmpty(t, ce.Source)
		})
	}
}

func TestCompileErrorCarriesFusedSource(t *testing.T) {
	reg := testRegistry()
	reg.Interactions = append(reg.Interactions, Interaction{Name: "broken", Source: "energy = nope * r", Group: 1})
	_, _, err := NewCache().Get(0x3, reg)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Source, "func computePair(")
	assert.Contains(t, ce.Source, "// coulomb (group 0)")
	assert.True(t, ce.Pos.IsValid())
	line := strings.Split(ce.Source, "\n")[ce.Pos.Line-1]
	assert.Contains(t, line, "nope")
}

func TestCacheHitsAndFingerprints(t *testing.T) {
	c := NewCache()
	reg := testRegistry()
	a, hit, err := c.Get(0x1, reg)
	require.NoError(t, err)
	assert.False(t, hit)
	b, hit, err := c.Get(0x1, reg)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Same(t, a, b)

	both, _, err := c.Get(0x3, reg)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), both.Fingerprint())
	assert.Equal(t, uint32(0x3), c.CachedGroups())
	assert.Equal(t, 2, c.Len())
	hits, misses := c.Stats()
	assert.Equal(t, 1, hits)
	assert.Equal(t, 2, misses)

	// Identity is a function of the registration only.
	assert.Equal(t, coulomb.ID(), coulomb.ID())
	changed := coulomb
	changed.Cutoff = 1.6
	assert.NotEqual(t, coulomb.ID(), changed.ID())
	assert.Equal(t, Fingerprint(0x1, []Interaction{coulomb}), a.Fingerprint())
}

func TestInteractionValidate(t *testing.T) {
	assert.NoError(t, coulomb.Validate())
	bad := coulomb
	bad.Group = 32
	assert.ErrorIs(t, bad.Validate(), nb.ErrConfiguration)
	bad = coulomb
	bad.Cutoff = 0
	assert.ErrorIs(t, bad.Validate(), nb.ErrConfiguration)
	bad = coulomb
	bad.Source = "  "
	assert.ErrorIs(t, bad.Validate(), nb.ErrConfiguration)
}
