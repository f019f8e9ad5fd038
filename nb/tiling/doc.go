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

// Package tiling partitions particles into fixed-size blocks, computes a
// periodic-aware bounding box for each block, and reorders blocks so that
// blocks of similar extent and location are processed together.
//
// Block i always holds particles [i*nb.TileSize, (i+1)*nb.TileSize). The
// reordering never moves particles; it produces a permutation of block
// indices (Order) and its inverse (Rank) that the neighbor list builder
// walks instead of the natural block order.
package tiling
