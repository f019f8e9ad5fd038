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

package nb

import (
	"os"
	"strconv"
)

// DispatchLevel identifies the vector instruction set of the host the
// engine runs on. The engine does not emit vector code itself; the level
// decides how work is shaped (tile ordering, pair-list thresholds).
type DispatchLevel int

const (
	// DispatchScalar indicates no usable vector unit or NB_NO_SIMD set.
	DispatchScalar DispatchLevel = iota

	// DispatchSSE2 indicates 128-bit x86 vectors.
	DispatchSSE2

	// DispatchAVX2 indicates 256-bit x86 vectors.
	DispatchAVX2

	// DispatchAVX512 indicates 512-bit x86 vectors.
	DispatchAVX512

	// DispatchNEON indicates 128-bit ARM vectors.
	DispatchNEON

	// DispatchSVE indicates scalable ARM vectors.
	DispatchSVE
)

// String returns a human-readable name for the dispatch level.
func (d DispatchLevel) String() string {
	switch d {
	case DispatchScalar:
		return "scalar"
	case DispatchSSE2:
		return "sse2"
	case DispatchAVX2:
		return "avx2"
	case DispatchAVX512:
		return "avx512"
	case DispatchNEON:
		return "neon"
	case DispatchSVE:
		return "sve"
	default:
		return "unknown"
	}
}

// currentLevel and currentWidth are set by init() in dispatch_*.go files.
var (
	currentLevel DispatchLevel
	currentWidth int
)

// CurrentLevel returns the detected dispatch level.
func CurrentLevel() DispatchLevel {
	return currentLevel
}

// CurrentWidth returns the vector register width in bytes.
func CurrentWidth() int {
	return currentWidth
}

// Lanes returns the number of float64 lanes per vector register, the
// precision every kernel evaluates in.
func Lanes() int {
	return currentWidth / 8
}

// WideSIMD reports whether the back end is wide enough that diagonal tiles
// should be scheduled ahead of off-diagonal ones to keep lanes busy.
func WideSIMD() bool {
	return Lanes() >= 8
}

// DefaultPairListBits returns the largest interacting-atom count for which a
// tile is better evaluated as individual pairs on this back end. Narrow
// back ends waste fewer lanes on sparse tiles, so they divert fewer.
func DefaultPairListBits() int {
	switch {
	case Lanes() >= 8:
		return 4
	case Lanes() >= 4:
		return 3
	default:
		return 2
	}
}

// NoSimdEnv checks if the NB_NO_SIMD environment variable is set. When set,
// the scalar back end is used regardless of CPU capabilities.
func NoSimdEnv() bool {
	val := os.Getenv("NB_NO_SIMD")
	if val == "" {
		return false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return true
}

func setScalarMode() {
	currentLevel = DispatchScalar
	currentWidth = 16
}
