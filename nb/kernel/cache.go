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
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Fingerprint identifies a kernel set by its force groups and the ordered
// identities of the terms fused into it.
func Fingerprint(groups uint32, terms []Interaction) string {
	ids := lo.Map(terms, func(t Interaction, _ int) string { return t.ID().String() })
	return fmt.Sprintf("%08x:%s", groups, strings.Join(ids, ","))
}

// variant indexes the compiled programs of a kernel set.
type variant struct {
	mode       Mode
	exclusions bool
}

// KernelSet is the fused kernel for one combination of force groups. The
// variants are compiled on first use.
type KernelSet struct {
	groups      uint32
	fingerprint string
	id          uuid.UUID
	synth       synthesis

	mu       sync.Mutex
	programs map[variant]*Program
}

// Groups returns the force group mask the set was built for.
func (ks *KernelSet) Groups() uint32 {
	return ks.groups
}

// Fingerprint returns the cache key of the set.
func (ks *KernelSet) Fingerprint() string {
	return ks.fingerprint
}

// ID is a short stable identity derived from the fingerprint.
func (ks *KernelSet) ID() uuid.UUID {
	return ks.id
}

// Terms returns the fused terms in evaluation order.
func (ks *KernelSet) Terms() []Interaction {
	return ks.synth.terms
}

// Derivatives returns the parameters whose energy derivatives the set
// accumulates, in accumulator order.
func (ks *KernelSet) Derivatives() []string {
	return ks.synth.derivs
}

// Empty reports whether no term belongs to the set's groups.
func (ks *KernelSet) Empty() bool {
	return len(ks.synth.terms) == 0
}

// UsesExclusions reports whether any term suppresses excluded pairs, which
// is what makes the exclusion-tile variant differ.
func (ks *KernelSet) UsesExclusions() bool {
	return lo.SomeBy(ks.synth.terms, func(t Interaction) bool { return t.UsesExclusions })
}

// Program returns the compiled variant, compiling it on first use.
func (ks *KernelSet) Program(mode Mode, exclusions bool) (*Program, error) {
	v := variant{mode: mode, exclusions: exclusions && ks.UsesExclusions()}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if p, ok := ks.programs[v]; ok {
		return p, nil
	}
	src, err := ks.synth.render(v.mode, v.exclusions)
	if err != nil {
		return nil, err
	}
	p, err := compile(src, ks.synth.params, ks.synth.args)
	if err != nil {
		return nil, err
	}
	ks.programs[v] = p
	return p, nil
}

// Source renders a variant without compiling it.
func (ks *KernelSet) Source(mode Mode, exclusions bool) (string, error) {
	return ks.synth.render(mode, exclusions && ks.UsesExclusions())
}

// Compile compiles every variant, surfacing compile errors at setup.
func (ks *KernelSet) Compile() error {
	for _, mode := range []Mode{ModeForces, ModeEnergy, ModeBoth} {
		for _, excl := range []bool{false, true} {
			if _, err := ks.Program(mode, excl); err != nil {
				return err
			}
		}
	}
	return nil
}

// Registry is what a cache needs to synthesize a kernel set.
type Registry struct {
	Interactions []Interaction
	Parameters   []Parameter
	Arguments    []Argument
	Derivatives  []string
}

// Cache holds kernel sets keyed by fingerprint. It is owned by one engine.
type Cache struct {
	mu     sync.Mutex
	sets   map[string]*KernelSet
	hits   int
	misses int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{sets: make(map[string]*KernelSet)}
}

// Get returns the kernel set for the terms of reg in groups, building and
// compiling it on a miss. hit reports whether the set was cached.
func (c *Cache) Get(groups uint32, reg Registry) (ks *KernelSet, hit bool, err error) {
	terms := lo.Filter(reg.Interactions, func(t Interaction, _ int) bool {
		return groups&t.GroupMask() != 0
	})
	key := Fingerprint(groups, terms)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ks, ok := c.sets[key]; ok {
		c.hits++
		return ks, true, nil
	}
	c.misses++
	ks = &KernelSet{
		groups:      groups,
		fingerprint: key,
		id:          uuid.NewSHA1(namespace, []byte(key)),
		synth: synthesis{
			groups: groups,
			terms:  terms,
			params: reg.Parameters,
			args:   reg.Arguments,
			derivs: reg.Derivatives,
		},
		programs: make(map[variant]*Program),
	}
	// The combined exclusion variant contains every statement of every
	// other variant, so compiling it reports all errors up front.
	if _, err := ks.Program(ModeBoth, true); err != nil {
		return nil, false, err
	}
	c.sets[key] = ks
	return ks, false, nil
}

// CachedGroups returns the union of the group masks of every cached set.
func (c *Cache) CachedGroups() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var mask uint32
	for _, ks := range c.sets {
		mask |= ks.groups
	}
	return mask
}

// Len returns the number of cached sets.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sets)
}

// Stats returns the hit and miss counts.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
