/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gocouple/internal/region"
)

const (
	previewMaxPixels = 1024 * 1024
	previewMinPixels = 512 * 512
	minLineWidth     = 4
)

// Matte is the translucent backdrop every preview starts from.
var Matte = color.RGBA{R: 0, G: 0, B: 0, A: 64}

// PreviewSize scales a generation resolution into the preview range.
// Dimensions are halved (floor) while the area exceeds 1024² and doubled while it is below 512².
func PreviewSize(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	for w*h > previewMaxPixels {
		w, h = w/2, h/2
	}
	for w*h < previewMinPixels {
		w, h = w*2, h*2
	}
	return w, h
}

// LineWidth returns the outline width used for a preview of the given size.
func LineWidth(w, h int) int {
	return int(math.Max(float64(min(w, h))/128, minLineWidth))
}

// RenderPreview draws a mapping over a translucent matte sized by PreviewSize.
// Each tuple is outlined in its palette colour. An empty or malformed mapping yields the bare matte.
func RenderPreview(w, h int, ts []region.WireTuple) *image.RGBA {
	pw, ph := PreviewSize(w, h)
	img := image.NewRGBA(image.Rect(0, 0, pw, ph))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: Matte}, image.Point{}, draw.Src)
	if !validMapping(ts) {
		return img
	}
	lw := LineWidth(pw, ph)
	for i, t := range ts {
		x0 := int(float64(pw) * t[0])
		x1 := int(float64(pw) * t[1])
		y0 := int(float64(ph) * t[2])
		y1 := int(float64(ph) * t[3])
		strokeRect(img, x0, y0, x1, y1, lw, region.PaletteColor(i))
	}
	return img
}

func validMapping(ts []region.WireTuple) bool {
	if len(ts) == 0 {
		return false
	}
	for _, t := range ts {
		for _, v := range t {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// strokeRect draws an inset border of width lw, inclusive of both corners.
func strokeRect(img *image.RGBA, x0, y0, x1, y1, lw int, col color.RGBA) {
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	for i := 0; i < lw; i++ {
		if x0+i > x1-i || y0+i > y1-i {
			fillRect(img, x0+i, y0+i, x1-i, y1-i, col)
			return
		}
		for x := x0 + i; x <= x1-i; x++ {
			setClipped(img, x, y0+i, col)
			setClipped(img, x, y1-i, col)
		}
		for y := y0 + i; y <= y1-i; y++ {
			setClipped(img, x0+i, y, col)
			setClipped(img, x1-i, y, col)
		}
	}
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, col color.RGBA) {
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			setClipped(img, x, y, col)
		}
	}
}

func setClipped(img *image.RGBA, x, y int, col color.RGBA) {
	if image.Pt(x, y).In(img.Rect) {
		img.SetRGBA(x, y, col)
	}
}

// WritePNG encodes img to path, creating parent directories as needed.
func WritePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure out dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}
