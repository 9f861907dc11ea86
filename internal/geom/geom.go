/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package geom

// Geometry in the unit square of the edited image and the mapping between that
// square and a pixel viewport. Normalized values are float64 so that repeated
// drag deltas do not drift.

import "math"

// Pt is a 2D point.
type Pt struct{ X, Y float64 }

// Rect is an axis-aligned rectangle given by its min (X1,Y1) and max (X2,Y2) corners.
type Rect struct{ X1, Y1, X2, Y2 float64 }

func R(x1, y1, x2, y2 float64) Rect { return Rect{X1: x1, Y1: y1, X2: x2, Y2: y2} }

func (r Rect) W() float64 { return r.X2 - r.X1 }
func (r Rect) H() float64 { return r.Y2 - r.Y1 }

// Contains reports whether p lies inside r, edges included.
func (r Rect) Contains(p Pt) bool {
	return p.X >= r.X1 && p.Y >= r.Y1 && p.X <= r.X2 && p.Y <= r.Y2
}

// Canon swaps inverted coordinate pairs so that X1 <= X2 and Y1 <= Y2.
func (r Rect) Canon() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Clamp01 clamps every coordinate into [0,1].
func (r Rect) Clamp01() Rect {
	return Rect{X1: Clamp(r.X1, 0, 1), Y1: Clamp(r.Y1, 0, 1), X2: Clamp(r.X2, 0, 1), Y2: Clamp(r.Y2, 0, 1)}
}

// Degenerate reports a rectangle with no positive area.
func (r Rect) Degenerate() bool { return !(r.X1 < r.X2 && r.Y1 < r.Y2) }

// Shift translates r by (dx,dy) while keeping it inside the unit square and
// preserving its size: the delta is cut down to whatever room is left.
func (r Rect) Shift(dx, dy float64) Rect {
	dx = Clamp(dx, -r.X1, 1-r.X2)
	dy = Clamp(dy, -r.Y1, 1-r.Y2)
	return Rect{X1: r.X1 + dx, Y1: r.Y1 + dy, X2: r.X2 + dx, Y2: r.Y2 + dy}
}

// Union returns the minimal rect containing both.
func (r Rect) Union(o Rect) Rect {
	return Rect{X1: math.Min(r.X1, o.X1), Y1: math.Min(r.Y1, o.Y1), X2: math.Max(r.X2, o.X2), Y2: math.Max(r.Y2, o.Y2)}
}

// Clamp limits v to [lo,hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Viewport maps the unit square onto a W x H pixel area.
type Viewport struct{ W, H float64 }

func (v Viewport) ToPx(p Pt) Pt   { return Pt{X: p.X * v.W, Y: p.Y * v.H} }
func (v Viewport) ToNorm(p Pt) Pt { return Pt{X: p.X / v.W, Y: p.Y / v.H} }

// RectToPx converts a normalized rectangle into pixel space.
func (v Viewport) RectToPx(r Rect) Rect {
	return Rect{X1: r.X1 * v.W, Y1: r.Y1 * v.H, X2: r.X2 * v.W, Y2: r.Y2 * v.H}
}

// FloatRound rounds v to n decimal places deterministically.
func FloatRound(v float64, places int) float64 {
	if places < 0 {
		return v
	}
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
