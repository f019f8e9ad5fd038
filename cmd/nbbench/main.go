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

// Command nbbench runs the nonbonded engine over a randomly generated
// system described in YAML.
//
// Usage:
//
//	nbbench run -c system.yaml --steps 100 --trace trace.db
//	nbbench source -c system.yaml --groups 0x3
//
// Every step displaces each particle by a random amount up to the
// configured displacement, prepares the neighbor list and evaluates forces
// and energy. The run prints one line per step and a summary; --trace also
// records the steps in a SQLite database.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
