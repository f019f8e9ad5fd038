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

// Package engine is the short-range nonbonded engine. It owns one device,
// the neighbor structure built on it and the fused kernels evaluated over
// that structure.
//
// An engine is set up in two phases. Physics terms are registered first
// with AddInteraction, AddParameter, AddArgument, RequestExclusions and
// AddEnergyParameterDerivative. Initialize then fixes the particle count,
// validates the box and allocates every buffer. After that each step calls
// PrepareInteractions, which rebuilds the neighbor list only when particles
// have moved more than half the padding, and ComputeInteractions, which
// runs the fused kernel of the requested force groups.
//
//	e, _ := engine.New(engine.DefaultConfig())
//	defer e.Close()
//	_ = e.AddInteraction(kernel.Interaction{
//		Name:       "lj",
//		Source:     "s6 := pow(sigma1*sigma2/r2, 3)\nenergy = 4 * s6 * (s6 - 1)\ndEdR = -24 * s6 * (2*s6 - 1) * invR",
//		Cutoff:     1.0,
//		UsesCutoff: true,
//	})
//	_ = e.AddParameter(kernel.Parameter{Name: "sigma", Values: sigma})
//	_ = e.Initialize(len(pos), nb.Box{})
//	_ = e.PrepareInteractions(1, pos, nb.Box{})
//	res, _ := e.ComputeInteractions(1, true, true)
//
// Other force terms can reuse the neighbor structure through the read
// accessors (Tiles, InteractingAtoms, ExclusionFlags and so on) without
// going through the fused kernel.
//
// Sharded splits one system over several engines, each owning a disjoint
// range of tiles on its own device.
package engine
