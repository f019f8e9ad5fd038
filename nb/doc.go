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

// Package nb holds the shared vocabulary of the short-range nonbonded
// interaction engine: particle geometry, periodic boxes and the minimum image
// convention, the packed tile and pair encodings, the error taxonomy, and the
// runtime back-end detection.
//
// The engine itself lives in the sub-packages:
//
//   - nb/device: worker pool and ordered launch queue (the "device")
//   - nb/contrib/sort: bucket + bitonic sort over fixed-size records
//   - nb/tiling: block bounding boxes and block reordering
//   - nb/neighbor: exclusion tiles, neighbor list builder, rebuild policy
//   - nb/kernel: fused kernel synthesis and cache
//   - nb/engine: the public facade tying the pieces together
//
// # Geometry
//
// Positions are gonum r3 vectors. Periodic boxes are given in reduced form:
// the first vector lies along x, the second in the xy plane, which is the
// form the minimum image code in this package assumes.
//
//	box := nb.CubicBox(3.0)
//	d := box.MinimumImage(nb.Vec3{X: 2.85})
//	// d.X == -0.15
package nb
