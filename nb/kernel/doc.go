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

// Package kernel fuses pairwise interaction terms into one compute kernel.
//
// Each term is a fragment of Go statements that reads the pair distance
// (r, r2, invR), per-particle parameters (name1 for the first particle,
// name2 for the second) and shared arguments, and writes energy and dEdR.
// The fragments of every term in a set of force groups are renamed into
// private namespaces and spliced into a single function, which is rendered
// as gofmt'd Go source and then compiled into closures over a slot frame.
// The rendered source is what runs, so it is also what CompileError
// reports.
//
// Set NB_DEBUG_FUSION to print every synthesized source.
package kernel
