/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package region defines the weighted prompt region model, its validation
// rules, the ordered RegionStore, and the export/import and backend wire
// encodings.
package region

import (
	"image/color"

	"gocouple/internal/geom"

	"github.com/google/uuid"
)

// Region is a normalized rectangle of the edited image with a prompt and a blend weight.
// Coordinates are in [0,1] with X1 < X2 and Y1 < Y2.
type Region struct {
	ID         string  `json:"id"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Weight     float64 `json:"weight"`
	Prompt     string  `json:"prompt"`
	ColorIndex int     `json:"colorIndex"`
}

// Rect returns the region's rectangle.
func (r Region) Rect() geom.Rect { return geom.R(r.X1, r.Y1, r.X2, r.Y2) }

// WithRect returns a copy of r with its coordinates replaced.
func (r Region) WithRect(rc geom.Rect) Region {
	r.X1, r.Y1, r.X2, r.Y2 = rc.X1, rc.Y1, rc.X2, rc.Y2
	return r
}

// DefaultWeight is used when a create request leaves the weight unset.
const DefaultWeight = 1.0

// Palette is the fixed color cycle used to tell regions apart.
var Palette = []color.RGBA{
	{R: 255, G: 0, B: 0, A: 255},     // red
	{R: 255, G: 165, B: 0, A: 255},   // orange
	{R: 255, G: 255, B: 0, A: 255},   // yellow
	{R: 0, G: 128, B: 0, A: 255},     // green
	{R: 0, G: 0, B: 255, A: 255},     // blue
	{R: 75, G: 0, B: 130, A: 255},    // indigo
	{R: 238, G: 130, B: 238, A: 255}, // violet
}

// PaletteNames holds the human-readable name of each Palette entry.
var PaletteNames = []string{"red", "orange", "yellow", "green", "blue", "indigo", "violet"}

// PaletteName returns the name of the palette entry for a color index.
func PaletteName(idx int) string {
	n := len(PaletteNames)
	return PaletteNames[((idx%n)+n)%n]
}

// PaletteColor returns the palette entry for a color index.
func PaletteColor(idx int) color.RGBA {
	n := len(Palette)
	return Palette[((idx%n)+n)%n]
}

// ChangeKind names the mutation that produced a change notification.
type ChangeKind int

const (
	ChangeCreate ChangeKind = iota
	ChangeUpdate
	ChangeDelete
	ChangeClearAll
	ChangeReplaceAll
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	case ChangeClearAll:
		return "clearAll"
	case ChangeReplaceAll:
		return "replaceAll"
	default:
		return "unknown"
	}
}

// Partial is a create request. A nil Rect means the full image, a nil Weight DefaultWeight.
type Partial struct {
	Rect   *geom.Rect
	Weight *float64
	Prompt string
}

// Patch is an update request; nil fields are left untouched.
type Patch struct {
	X1, Y1, X2, Y2 *float64
	Weight         *float64
	Prompt         *string
}

// PatchRect builds a patch that replaces all four coordinates.
func PatchRect(rc geom.Rect) Patch {
	return Patch{X1: &rc.X1, Y1: &rc.Y1, X2: &rc.X2, Y2: &rc.Y2}
}

// F returns a pointer to v, for building partials and patches inline.
func F(v float64) *float64 { return &v }

// S returns a pointer to s.
func S(s string) *string { return &s }

// IDGenerator produces region identifiers.
type IDGenerator func() string

// UUIDv7 is the default generator: time-sortable RFC 9562 identifiers.
func UUIDv7() IDGenerator {
	return func() string { return uuid.Must(uuid.NewV7()).String() }
}

// Clone copies a region slice so callers never share backing arrays.
func Clone(rs []Region) []Region {
	if rs == nil {
		return []Region{}
	}
	out := make([]Region, len(rs))
	copy(out, rs)
	return out
}
