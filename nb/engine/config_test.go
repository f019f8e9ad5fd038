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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-nonbonded/nb"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte("padding_fraction: 0.1\nworkers: 2\nuse_padding: false\n"))
	require.NoError(t, err)
	want := DefaultConfig()
	want.PaddingFraction = 0.1
	want.Workers = 2
	want.UsePadding = false
	assert.Equal(t, want, cfg)
}

func TestParseConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "padding: 0.1\n"},
		{"padding range", "padding_fraction: 1.5\n"},
		{"negative workers", "workers: -1\n"},
		{"growth below one", "reorder_growth_factor: 0.5\n"},
		{"pair bits", "max_bits_for_pairs: 33\n"},
		{"wrong type", "initial_tiles_per_block: many\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, nb.ErrConfiguration)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sort_short_list: 128\nuniform_block_keys: true\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.SortShortList)
	assert.True(t, cfg.UniformBlockKeys)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialTilesPerBlock = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, nb.ErrConfiguration)
}
