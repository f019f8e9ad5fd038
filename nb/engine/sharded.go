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
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/kernel"
)

// Sharded replicates one system over several engines. Shard k owns the
// tile range [k/n, (k+1)/n), so every pair is evaluated by exactly one
// shard and results are summed on the host. The split is static.
type Sharded struct {
	shards []*Engine
}

// NewSharded creates n engines, each on its own device with a share of
// cfg.Workers.
func NewSharded(n int, cfg Config, opts ...Option) (*Sharded, error) {
	if n <= 0 {
		return nil, nb.Configf("newSharded", "need at least one shard, got %d", n)
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	shardCfg := cfg
	shardCfg.Workers = max(workers/n, 1)

	s := &Sharded{}
	for k := range n {
		shardOpts := append(opts[:len(opts):len(opts)], WithName(fmt.Sprintf("shard%d", k)))
		e, err := New(shardCfg, shardOpts...)
		if err != nil {
			s.Close()
			return nil, err
		}
		e.SetAtomBlockRange(float64(k)/float64(n), float64(k+1)/float64(n))
		s.shards = append(s.shards, e)
	}
	return s, nil
}

// Shards returns the engines in range order.
func (s *Sharded) Shards() []*Engine {
	return s.shards
}

// Close closes every shard.
func (s *Sharded) Close() {
	for _, e := range s.shards {
		e.Close()
	}
}

// each applies fn to every shard in order, stopping at the first error.
// Registration is validated identically on every shard, so either all
// shards accept it or the first rejects it.
func (s *Sharded) each(fn func(e *Engine) error) error {
	for _, e := range s.shards {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// AddInteraction registers in on every shard.
func (s *Sharded) AddInteraction(in kernel.Interaction) error {
	return s.each(func(e *Engine) error { return e.AddInteraction(in) })
}

// AddParameter binds p on every shard.
func (s *Sharded) AddParameter(p kernel.Parameter) error {
	return s.each(func(e *Engine) error { return e.AddParameter(p) })
}

// AddArgument binds a on every shard.
func (s *Sharded) AddArgument(a kernel.Argument) error {
	return s.each(func(e *Engine) error { return e.AddArgument(a) })
}

// AddEnergyParameterDerivative requests the derivative on every shard.
func (s *Sharded) AddEnergyParameterDerivative(param string) string {
	var name string
	for _, e := range s.shards {
		name = e.AddEnergyParameterDerivative(param)
	}
	return name
}

// RequestExclusions supplies exclusions to every shard.
func (s *Sharded) RequestExclusions(lists [][]int) error {
	return s.each(func(e *Engine) error { return e.RequestExclusions(lists) })
}

// SetUsePadding sets padding on every shard.
func (s *Sharded) SetUsePadding(use bool) {
	for _, e := range s.shards {
		e.SetUsePadding(use)
	}
}

// ForceRebuild forces a rebuild on every shard.
func (s *Sharded) ForceRebuild() {
	for _, e := range s.shards {
		e.ForceRebuild()
	}
}

// Initialize initializes every shard.
func (s *Sharded) Initialize(numParticles int, box nb.Box) error {
	return s.each(func(e *Engine) error { return e.Initialize(numParticles, box) })
}

// PrepareInteractions prepares every shard concurrently.
func (s *Sharded) PrepareInteractions(groups uint32, positions []nb.Vec3, box nb.Box) error {
	var g errgroup.Group
	for _, e := range s.shards {
		g.Go(func() error {
			return e.PrepareInteractions(groups, positions, box)
		})
	}
	return g.Wait()
}

// ComputeInteractions evaluates every shard concurrently and sums the
// results.
func (s *Sharded) ComputeInteractions(groups uint32, includeForces, includeEnergy bool) (Result, error) {
	results := make([]Result, len(s.shards))
	var g errgroup.Group
	for k, e := range s.shards {
		g.Go(func() error {
			res, err := e.ComputeInteractions(groups, includeForces, includeEnergy)
			if err != nil {
				return fmt.Errorf("shard %d: %w", k, err)
			}
			results[k] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var total Result
	for _, res := range results {
		total.Energy += res.Energy
		if res.Forces != nil {
			if total.Forces == nil {
				total.Forces = make([]nb.Vec3, len(res.Forces))
			}
			for i, f := range res.Forces {
				total.Forces[i] = r3.Add(total.Forces[i], f)
			}
		}
		for name, d := range res.Derivatives {
			if total.Derivatives == nil {
				total.Derivatives = make(map[string]float64, len(res.Derivatives))
			}
			total.Derivatives[name] += d
		}
	}
	return total, nil
}

// RebuildOccurred reports whether any shard rebuilt in the last prepare.
func (s *Sharded) RebuildOccurred() bool {
	for _, e := range s.shards {
		if e.RebuildOccurred() {
			return true
		}
	}
	return false
}
