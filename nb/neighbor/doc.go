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

// Package neighbor builds the interacting-tile list over block pairs,
// maintains exclusion tiles, and decides when the list must be rebuilt.
//
// The list is built against a padded cutoff. As long as no particle moves
// more than half the padding after a build, every pair that has since come
// within the true cutoff is still covered by the list, so rebuilds can be
// skipped until that threshold is crossed.
package neighbor
