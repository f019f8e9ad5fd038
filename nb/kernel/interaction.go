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
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ajroetker/go-nonbonded/nb"
)

// namespace roots the name-based UUIDs of interactions, so that identical
// registrations get identical identities across runs.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/ajroetker/go-nonbonded/kernel"))

// Interaction is one registered pairwise term.
type Interaction struct {
	// Name labels the term in synthesized source and logs.
	Name string

	// Source is the fragment of Go statements computing the term.
	Source string

	// Cutoff is the interaction range. Ignored unless UsesCutoff.
	Cutoff float64

	// Group is the force group, in [0, 32).
	Group int

	UsesCutoff       bool
	UsesPeriodic     bool
	UsesExclusions   bool
	UseNeighborList  bool
	SupportsPairList bool
}

// GroupMask returns the force group as a bit mask.
func (in Interaction) GroupMask() uint32 {
	return 1 << uint(in.Group)
}

// ID returns a deterministic identity derived from every field that
// affects the synthesized kernel.
func (in Interaction) ID() uuid.UUID {
	var b strings.Builder
	b.WriteString(in.Name)
	b.WriteByte(0)
	b.WriteString(in.Source)
	b.WriteByte(0)
	b.WriteString(strconv.FormatFloat(in.Cutoff, 'g', -1, 64))
	fmt.Fprintf(&b, "\x00%d\x00%t%t%t%t%t", in.Group,
		in.UsesCutoff, in.UsesPeriodic, in.UsesExclusions, in.UseNeighborList, in.SupportsPairList)
	return uuid.NewSHA1(namespace, []byte(b.String()))
}

// Validate checks the registration on its own.
func (in Interaction) Validate() error {
	if in.Group < 0 || in.Group >= 32 {
		return nb.Configf("addInteraction", "%q: force group %d out of range [0, 32)", in.Name, in.Group)
	}
	if strings.TrimSpace(in.Source) == "" {
		return nb.Configf("addInteraction", "%q: empty source", in.Name)
	}
	if in.UsesCutoff && !(in.Cutoff > 0) {
		return nb.Configf("addInteraction", "%q: cutoff %g must be positive", in.Name, in.Cutoff)
	}
	return nil
}

// Parameter is a per-particle value. Fragments read it as Name1 for the
// first particle of a pair and Name2 for the second.
type Parameter struct {
	Name   string
	Values []float64
}

// Argument is a buffer shared by all particles. A one-element argument is
// read as a scalar, longer ones by index.
type Argument struct {
	Name   string
	Values []float64
}

// Scalar reports whether the argument is read without an index.
func (a Argument) Scalar() bool {
	return len(a.Values) == 1
}

// DerivativeName returns the accumulator identifier of the i'th energy
// parameter derivative.
func DerivativeName(i int) string {
	return "energyParamDeriv" + strconv.Itoa(i)
}

// Mode selects which outputs a kernel variant produces.
type Mode int

const (
	// ModeForces accumulates forces only.
	ModeForces Mode = iota
	// ModeEnergy accumulates energy and energy parameter derivatives only.
	ModeEnergy
	// ModeBoth accumulates everything.
	ModeBoth
)

// ModeFor returns the mode for the requested outputs. ok is false when
// nothing is requested.
func ModeFor(includeForces, includeEnergy bool) (mode Mode, ok bool) {
	switch {
	case includeForces && includeEnergy:
		return ModeBoth, true
	case includeForces:
		return ModeForces, true
	case includeEnergy:
		return ModeEnergy, true
	}
	return 0, false
}

func (m Mode) String() string {
	switch m {
	case ModeForces:
		return "forces"
	case ModeEnergy:
		return "energy"
	case ModeBoth:
		return "forces and energy"
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

func (m Mode) forces() bool { return m != ModeEnergy }
func (m Mode) energy() bool { return m != ModeForces }
