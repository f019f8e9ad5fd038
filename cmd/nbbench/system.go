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

package main

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/engine"
	"github.com/ajroetker/go-nonbonded/nb/kernel"
)

// system is the YAML description of a benchmark system.
type system struct {
	Name         string        `yaml:"name"`
	Particles    int           `yaml:"particles"`
	Box          [3]float64    `yaml:"box"`
	Periodic     bool          `yaml:"periodic"`
	Seed         uint64        `yaml:"seed"`
	Displacement float64       `yaml:"displacement"`
	Groups       uint32        `yaml:"groups"`
	Shards       int           `yaml:"shards"`
	ChainLength  int           `yaml:"chain_length"`
	Engine       engine.Config `yaml:"engine"`
	Parameters   []parameter   `yaml:"parameters"`
	Arguments    []argument    `yaml:"arguments"`
	Derivatives  []string      `yaml:"derivatives"`
	Interactions []interaction `yaml:"interactions"`
}

// parameter values are drawn uniformly from [min, max].
type parameter struct {
	Name string  `yaml:"name"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`

	// Alternate flips the sign of every other particle.
	Alternate bool `yaml:"alternate"`
}

type argument struct {
	Name   string    `yaml:"name"`
	Values []float64 `yaml:"values"`
}

type interaction struct {
	Name       string  `yaml:"name"`
	Group      int     `yaml:"group"`
	Cutoff     float64 `yaml:"cutoff"`
	Exclusions bool    `yaml:"exclusions"`
	Source     string  `yaml:"source"`
}

// loadSystem reads and validates a system description.
func loadSystem(path string) (*system, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading system: %w", err)
	}
	sys := &system{
		Name:   "system",
		Groups: 1,
		Shards: 1,
		Engine: engine.DefaultConfig(),
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(sys); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := sys.validate(); err != nil {
		return nil, fmt.Errorf("invalid system %s: %w", path, err)
	}
	return sys, nil
}

func (s *system) validate() error {
	s.Name = norm.NFC.String(strings.TrimSpace(s.Name))
	switch {
	case s.Particles <= 0:
		return fmt.Errorf("particles must be positive, got %d", s.Particles)
	case s.Box[0] <= 0 || s.Box[1] <= 0 || s.Box[2] <= 0:
		return fmt.Errorf("box edges must be positive, got %v", s.Box)
	case s.Displacement < 0:
		return fmt.Errorf("displacement must not be negative")
	case s.Shards <= 0:
		return fmt.Errorf("shards must be positive, got %d", s.Shards)
	case len(s.Interactions) == 0:
		return fmt.Errorf("no interactions")
	}
	for i := range s.Interactions {
		s.Interactions[i].Name = norm.NFC.String(s.Interactions[i].Name)
	}
	for i := range s.Parameters {
		s.Parameters[i].Name = norm.NFC.String(s.Parameters[i].Name)
		if s.Parameters[i].Max < s.Parameters[i].Min {
			return fmt.Errorf("parameter %s: max below min", s.Parameters[i].Name)
		}
	}
	return s.Engine.Validate()
}

func (s *system) box() nb.Box {
	return nb.RectangularBox(s.Box[0], s.Box[1], s.Box[2])
}

// positions draws particles uniformly in the box.
func (s *system) positions(rng *rand.Rand) []nb.Vec3 {
	pos := make([]nb.Vec3, s.Particles)
	for i := range pos {
		pos[i] = nb.Vec3{
			X: rng.Float64() * s.Box[0],
			Y: rng.Float64() * s.Box[1],
			Z: rng.Float64() * s.Box[2],
		}
	}
	return pos
}

// exclusions excludes neighbors within chains of ChainLength particles.
func (s *system) exclusions() [][]int {
	if s.ChainLength < 2 {
		return nil
	}
	lists := make([][]int, s.Particles)
	for i := 0; i+1 < s.Particles; i++ {
		if (i+1)%s.ChainLength != 0 {
			lists[i] = append(lists[i], i+1)
			lists[i+1] = append(lists[i+1], i)
		}
	}
	return lists
}

// build registers everything on a sharded engine and initializes it.
func (s *system) build(rng *rand.Rand, logger *slog.Logger) (*engine.Sharded, error) {
	eng, err := engine.NewSharded(s.Shards, s.Engine, engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := s.register(eng, rng); err != nil {
		eng.Close()
		return nil, err
	}
	if err := eng.Initialize(s.Particles, s.box()); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

func (s *system) register(eng *engine.Sharded, rng *rand.Rand) error {
	for _, name := range s.Derivatives {
		eng.AddEnergyParameterDerivative(name)
	}
	for _, in := range s.Interactions {
		err := eng.AddInteraction(kernel.Interaction{
			Name:             in.Name,
			Source:           in.Source,
			Cutoff:           in.Cutoff,
			Group:            in.Group,
			UsesCutoff:       in.Cutoff > 0,
			UsesPeriodic:     s.Periodic,
			UsesExclusions:   in.Exclusions,
			UseNeighborList:  in.Cutoff > 0,
			SupportsPairList: true,
		})
		if err != nil {
			return err
		}
	}
	for _, p := range s.Parameters {
		values := make([]float64, s.Particles)
		for i := range values {
			values[i] = p.Min + rng.Float64()*(p.Max-p.Min)
			if p.Alternate && i%2 == 1 {
				values[i] = -values[i]
			}
		}
		if err := eng.AddParameter(kernel.Parameter{Name: p.Name, Values: values}); err != nil {
			return err
		}
	}
	for _, a := range s.Arguments {
		if err := eng.AddArgument(kernel.Argument{Name: a.Name, Values: a.Values}); err != nil {
			return err
		}
	}
	if lists := s.exclusions(); lists != nil {
		return eng.RequestExclusions(lists)
	}
	return nil
}
