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
	"errors"
	"math"
	"testing"
)

func TestMinimumImageWrap(t *testing.T) {
	box := CubicBox(3.0)
	d := Delta(Vec3{X: 0.1}, Vec3{X: 2.95}, box, true)
	if math.Abs(d.X-0.15) > 1e-12 {
		t.Errorf("MinimumImage dx = %v, want 0.15", d.X)
	}
	raw := Delta(Vec3{X: 0.1}, Vec3{X: 2.95}, box, false)
	if math.Abs(raw.X+2.85) > 1e-12 {
		t.Errorf("non-periodic dx = %v, want -2.85", raw.X)
	}
}

func TestWrap(t *testing.T) {
	box := RectangularBox(2, 3, 4)
	tests := []struct {
		in, want Vec3
	}{
		{Vec3{X: -0.5, Y: 3.5, Z: 9}, Vec3{X: 1.5, Y: 0.5, Z: 1}},
		{Vec3{X: 1, Y: 1, Z: 1}, Vec3{X: 1, Y: 1, Z: 1}},
	}
	for _, tt := range tests {
		got := box.Wrap(tt.in)
		if math.Abs(got.X-tt.want.X) > 1e-12 || math.Abs(got.Y-tt.want.Y) > 1e-12 || math.Abs(got.Z-tt.want.Z) > 1e-12 {
			t.Errorf("Wrap(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTriclinicMinimumImage(t *testing.T) {
	box := Box{A: Vec3{X: 3}, B: Vec3{X: 1, Y: 3}, C: Vec3{X: 0.5, Y: 0.5, Z: 3}}
	if !box.IsTriclinic() {
		t.Fatal("box should be triclinic")
	}
	d := box.MinimumImage(Vec3{X: 1, Y: 2.9, Z: 0})
	if Dist2(d) > 1.0+1e-12 {
		t.Errorf("MinimumImage did not reduce: %v", d)
	}
}

func TestBoxValidate(t *testing.T) {
	tests := []struct {
		name    string
		box     Box
		cutoff  float64
		wantErr bool
	}{
		{"ok", CubicBox(3), 1.0, false},
		{"exactly twice", CubicBox(2), 1.0, false},
		{"zero", Box{}, 1.0, true},
		{"cutoff too large", CubicBox(3), 1.6, true},
		{"not reduced", Box{A: Vec3{X: 3, Y: 1}, B: Vec3{Y: 3}, C: Vec3{Z: 3}}, 1.0, true},
	}
	for _, tt := range tests {
		err := tt.box.Validate(tt.cutoff)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrNumerical) {
			t.Errorf("%s: error %v is not ErrNumerical", tt.name, err)
		}
	}
}

func TestTilePacking(t *testing.T) {
	tile := PackTile(7, 3)
	x, y := tile.Blocks()
	if x != 3 || y != 7 {
		t.Errorf("Blocks() = (%d,%d), want (3,7)", x, y)
	}
	if tile.IsDiagonal() {
		t.Error("(3,7) reported diagonal")
	}
	if !PackTile(4, 4).IsDiagonal() {
		t.Error("(4,4) not reported diagonal")
	}
}

func TestTileIndexRoundTrip(t *testing.T) {
	for _, numBlocks := range []int{1, 2, 5, 17} {
		total := NumTiles(numBlocks)
		for i := range total {
			tile := TileAt(i, numBlocks)
			x, y := tile.Blocks()
			if got := TileIndex(x, y, numBlocks); got != i {
				t.Errorf("numBlocks=%d: TileIndex(TileAt(%d)) = %d", numBlocks, i, got)
			}
		}
	}
}

func TestNumBlocks(t *testing.T) {
	tests := []struct{ n, want int }{{0, 0}, {1, 1}, {32, 1}, {33, 2}, {100, 4}}
	for _, tt := range tests {
		if got := NumBlocks(tt.n); got != tt.want {
			t.Errorf("NumBlocks(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := Configf("addInteraction", "bad %s", "thing")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Configf error does not match ErrConfiguration")
	}
	if errors.Is(err, ErrNumerical) {
		t.Errorf("Configf error matches ErrNumerical")
	}
	if KindOf(err) != KindConfiguration {
		t.Errorf("KindOf = %v, want configuration", KindOf(err))
	}
	capErr := &CapacityError{Buffer: "tiles", Needed: 10, Capacity: 4}
	if !errors.Is(capErr, ErrCapacity) {
		t.Errorf("CapacityError does not match ErrCapacity")
	}
}

func TestDispatchLevel(t *testing.T) {
	if CurrentWidth() < 16 {
		t.Errorf("CurrentWidth() = %d, want >= 16", CurrentWidth())
	}
	if CurrentLevel().String() == "unknown" {
		t.Errorf("CurrentLevel() has no name")
	}
	if DefaultPairListBits() <= 0 {
		t.Errorf("DefaultPairListBits() = %d", DefaultPairListBits())
	}
}

func TestLanesCountFloat64(t *testing.T) {
	defer func(level DispatchLevel, width int) {
		currentLevel, currentWidth = level, width
	}(currentLevel, currentWidth)

	tests := []struct {
		width, lanes, bits int
		wide               bool
	}{
		{16, 2, 2, false},
		{32, 4, 3, false},
		{64, 8, 4, true},
	}
	for _, tt := range tests {
		currentWidth = tt.width
		if got := Lanes(); got != tt.lanes {
			t.Errorf("width %d: Lanes() = %d, want %d", tt.width, got, tt.lanes)
		}
		if got := WideSIMD(); got != tt.wide {
			t.Errorf("width %d: WideSIMD() = %t, want %t", tt.width, got, tt.wide)
		}
		if got := DefaultPairListBits(); got != tt.bits {
			t.Errorf("width %d: DefaultPairListBits() = %d, want %d", tt.width, got, tt.bits)
		}
	}
}
