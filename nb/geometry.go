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
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is a position or displacement in three dimensions.
type Vec3 = r3.Vec

// minBoxFactor is the smallest allowed ratio of box width to cutoff.
// Slightly below 2 so that a box of exactly twice the cutoff is accepted.
const minBoxFactor = 1.999999

// Box describes a periodic cell by its three edge vectors in reduced form:
// A = (ax, 0, 0), B = (bx, by, 0), C = (cx, cy, cz).
type Box struct {
	A, B, C Vec3
}

// CubicBox returns a cubic box with edge length l.
func CubicBox(l float64) Box {
	return RectangularBox(l, l, l)
}

// RectangularBox returns an orthorhombic box with the given edge lengths.
func RectangularBox(x, y, z float64) Box {
	return Box{A: Vec3{X: x}, B: Vec3{Y: y}, C: Vec3{Z: z}}
}

// Size returns the diagonal of the box (ax, by, cz).
func (b Box) Size() Vec3 {
	return Vec3{X: b.A.X, Y: b.B.Y, Z: b.C.Z}
}

// IsTriclinic reports whether any off-diagonal component is non-zero.
func (b Box) IsTriclinic() bool {
	return b.B.X != 0 || b.C.X != 0 || b.C.Y != 0
}

// IsZero reports whether the box is entirely unset.
func (b Box) IsZero() bool {
	return b == Box{}
}

// Validate checks that the box is usable for periodic minimum image
// computations with the given cutoff. A degenerate box or a cutoff larger
// than half the box width makes the minimum image ill-defined.
func (b Box) Validate(cutoff float64) error {
	size := b.Size()
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return Numericalf("box", "periodic box has non-positive size %v", size)
	}
	if b.A.Y != 0 || b.A.Z != 0 || b.B.Z != 0 {
		return Numericalf("box", "periodic box vectors are not in reduced form")
	}
	if math.Abs(b.B.X) > 0.5*size.X || math.Abs(b.C.X) > 0.5*size.X || math.Abs(b.C.Y) > 0.5*size.Y {
		return Numericalf("box", "periodic box vectors are not in reduced form")
	}
	limit := minBoxFactor * cutoff
	if size.X < limit || size.Y < limit || size.Z < limit {
		return Numericalf("box", "periodic box size %v is less than twice the cutoff %g", size, cutoff)
	}
	return nil
}

// MinimumImage maps a displacement to its nearest periodic image.
func (b Box) MinimumImage(d Vec3) Vec3 {
	if b.IsTriclinic() {
		s := math.Round(d.Z / b.C.Z)
		d = r3.Sub(d, r3.Scale(s, b.C))
		s = math.Round(d.Y / b.B.Y)
		d = r3.Sub(d, r3.Scale(s, b.B))
		s = math.Round(d.X / b.A.X)
		d.X -= s * b.A.X
		return d
	}
	d.X -= b.A.X * math.Round(d.X/b.A.X)
	d.Y -= b.B.Y * math.Round(d.Y/b.B.Y)
	d.Z -= b.C.Z * math.Round(d.Z/b.C.Z)
	return d
}

// Wrap moves a position into the primary cell.
func (b Box) Wrap(p Vec3) Vec3 {
	if b.IsTriclinic() {
		s := math.Floor(p.Z / b.C.Z)
		p = r3.Sub(p, r3.Scale(s, b.C))
		s = math.Floor(p.Y / b.B.Y)
		p = r3.Sub(p, r3.Scale(s, b.B))
		s = math.Floor(p.X / b.A.X)
		p.X -= s * b.A.X
		return p
	}
	p.X -= b.A.X * math.Floor(p.X/b.A.X)
	p.Y -= b.B.Y * math.Floor(p.Y/b.B.Y)
	p.Z -= b.C.Z * math.Floor(p.Z/b.C.Z)
	return p
}

// Images returns the displacement d shifted by every combination of -1, 0
// and +1 box vectors. Used where the nearest image of a block center is not
// guaranteed to be the nearest image of every particle pair (triclinic
// boxes).
func (b Box) Images(d Vec3) [27]Vec3 {
	var out [27]Vec3
	n := 0
	for i := -1; i <= 1; i++ {
		for j := -1; j <= 1; j++ {
			for k := -1; k <= 1; k++ {
				s := r3.Add(r3.Scale(float64(i), b.A), r3.Scale(float64(j), b.B))
				s = r3.Add(s, r3.Scale(float64(k), b.C))
				out[n] = r3.Add(d, s)
				n++
			}
		}
	}
	return out
}

// String implements fmt.Stringer.
func (b Box) String() string {
	if !b.IsTriclinic() {
		return fmt.Sprintf("Box(%g x %g x %g)", b.A.X, b.B.Y, b.C.Z)
	}
	return fmt.Sprintf("Box(a=%v b=%v c=%v)", b.A, b.B, b.C)
}

// Delta returns the displacement from q to p, reduced to the nearest image
// when periodic is set.
func Delta(p, q Vec3, box Box, periodic bool) Vec3 {
	d := r3.Sub(p, q)
	if periodic {
		d = box.MinimumImage(d)
	}
	return d
}

// Dist2 is the squared length of v.
func Dist2(v Vec3) float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}
