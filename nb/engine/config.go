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
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/ajroetker/go-nonbonded/nb"
	"github.com/ajroetker/go-nonbonded/nb/contrib/sort"
)

//go:embed schema.cue
var schemaSource []byte

// Config holds the tunables of an engine. The zero value is not usable;
// start from DefaultConfig.
type Config struct {
	// UsePadding enables the padded cutoff. Without it every step rebuilds.
	UsePadding bool `yaml:"use_padding" json:"use_padding"`

	// PaddingFraction is the padding as a fraction of the largest cutoff.
	PaddingFraction float64 `yaml:"padding_fraction" json:"padding_fraction"`

	// MaxBitsForPairs is the largest interacting-atom count for which a
	// tile is moved to the single-pair list. -1 picks a value for the
	// detected vector width, 0 disables the pair list.
	MaxBitsForPairs int `yaml:"max_bits_for_pairs" json:"max_bits_for_pairs"`

	// InitialTilesPerBlock and InitialPairsPerAtom size the first neighbor
	// buffers. Both grow on demand.
	InitialTilesPerBlock int `yaml:"initial_tiles_per_block" json:"initial_tiles_per_block"`
	InitialPairsPerAtom  int `yaml:"initial_pairs_per_atom" json:"initial_pairs_per_atom"`

	// Workers is the device worker count, 0 for GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`

	SortBucketSize    int `yaml:"sort_bucket_size" json:"sort_bucket_size"`
	SortLocalCapacity int `yaml:"sort_local_capacity" json:"sort_local_capacity"`
	SortShortList     int `yaml:"sort_short_list" json:"sort_short_list"`

	// ReorderCheckSteps and ReorderGrowthFactor control when a rebuild also
	// recomputes the block order.
	ReorderCheckSteps   int     `yaml:"reorder_check_steps" json:"reorder_check_steps"`
	ReorderGrowthFactor float64 `yaml:"reorder_growth_factor" json:"reorder_growth_factor"`

	// UniformBlockKeys declares block sort keys evenly spread, which lets
	// the sort bucket by interpolation instead of sampling.
	UniformBlockKeys bool `yaml:"uniform_block_keys" json:"uniform_block_keys"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		UsePadding:           true,
		PaddingFraction:      0.08,
		MaxBitsForPairs:      4,
		InitialTilesPerBlock: 20,
		InitialPairsPerAtom:  5,
		SortBucketSize:       64,
		SortLocalCapacity:    1024,
		SortShortList:        4096,
		ReorderCheckSteps:    25,
		ReorderGrowthFactor:  1.1,
	}
}

// Validate checks c against the configuration schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("engine: compiling config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &nb.Error{Kind: nb.KindConfiguration, Op: "config", Msg: "invalid configuration", Err: err}
	}
	return nil
}

// ParseConfig decodes YAML over the defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, &nb.Error{Kind: nb.KindConfiguration, Op: "config", Msg: "parsing YAML", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("engine: reading config: %w", err)
	}
	return ParseConfig(data)
}

func (c Config) sortOptions() sort.Options {
	return sort.Options{
		Uniform:       c.UniformBlockKeys,
		BucketSize:    c.SortBucketSize,
		LocalCapacity: c.SortLocalCapacity,
		ShortList:     c.SortShortList,
	}
}

// pairListBits resolves MaxBitsForPairs against the dispatch level.
func (c Config) pairListBits() int {
	if c.MaxBitsForPairs < 0 {
		return nb.DefaultPairListBits()
	}
	return c.MaxBitsForPairs
}
