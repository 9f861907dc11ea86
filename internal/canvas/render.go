/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"gocouple/internal/background"
	"gocouple/internal/geom"
	"gocouple/internal/region"
)

var (
	backdrop    = color.RGBA{R: 40, G: 40, B: 44, A: 255}
	gridColor   = color.NRGBA{R: 255, G: 255, B: 255, A: 40}
	selectColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	handleEdge  = color.RGBA{A: 255}
	labelColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	fillAlpha    = 64
	outlineWidth = 2
)

// Render paints the current view: background, guide grid, regions bottom to
// top with their labels, and the selection frame with its handles.
func (e *Editor) Render() *image.RGBA {
	e.mu.Lock()
	w, h := e.opts.Width, e.opts.Height
	vp := e.vp
	grid := e.opts.Grid
	hs := float64(e.opts.HandleSize)
	regions := region.Clone(e.regions)
	selected := e.selected
	mode, g := e.mode, e.g
	e.renders++
	e.mu.Unlock()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: backdrop}, image.Point{}, draw.Src)
	if e.bg != nil {
		if img := e.bg.Image(); img != nil {
			b := img.Bounds()
			x, y, fw, fh := background.Fit(float64(w), float64(h), float64(b.Dx()), float64(b.Dy()))
			r := image.Rect(int(x), int(y), int(x+fw), int(y+fh))
			draw.ApproxBiLinear.Scale(dst, r, img, b, draw.Over, nil)
		}
	}
	drawGrid(dst, grid)

	for _, r := range regions {
		rc := r.Rect()
		if (mode == ModeDragging || mode == ModeResizing) && r.ID == g.id {
			rc = g.preview
		}
		px := toImageRect(vp.RectToPx(rc))
		col := region.PaletteColor(r.ColorIndex)
		fill := color.NRGBA{R: col.R, G: col.G, B: col.B, A: fillAlpha}
		draw.Draw(dst, px, &image.Uniform{C: fill}, image.Point{}, draw.Over)
		strokeRect(dst, px, col, outlineWidth)
		drawLabel(dst, px, label(r))
	}
	if mode == ModeCreating {
		strokeRect(dst, toImageRect(vp.RectToPx(g.preview)), selectColor, 1)
	}
	for _, r := range regions {
		if r.ID != selected {
			continue
		}
		rc := r.Rect()
		if (mode == ModeDragging || mode == ModeResizing) && r.ID == g.id {
			rc = g.preview
		}
		pxr := vp.RectToPx(rc)
		strokeRect(dst, toImageRect(pxr).Inset(-outlineWidth), selectColor, 1)
		for _, hr := range HandleRects(pxr, hs) {
			ir := toImageRect(hr)
			draw.Draw(dst, ir, &image.Uniform{C: selectColor}, image.Point{}, draw.Src)
			strokeRect(dst, ir, handleEdge, 1)
		}
	}
	return dst
}

// RenderCount reports how many frames Render has produced.
func (e *Editor) RenderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders
}

func label(r region.Region) string {
	if r.Prompt == "" {
		return fmt.Sprintf("(%.2f)", r.Weight)
	}
	return fmt.Sprintf("%s (%.2f)", r.Prompt, r.Weight)
}

func toImageRect(r geom.Rect) image.Rectangle {
	return image.Rect(int(r.X1+0.5), int(r.Y1+0.5), int(r.X2+0.5), int(r.Y2+0.5))
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color, thick int) {
	if r.Empty() {
		return
	}
	u := &image.Uniform{C: c}
	t := min(thick, r.Dx(), r.Dy())
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), u, image.Point{}, draw.Over)
	draw.Draw(dst, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), u, image.Point{}, draw.Over)
	draw.Draw(dst, image.Rect(r.Min.X, r.Min.Y+t, r.Min.X+t, r.Max.Y-t), u, image.Point{}, draw.Over)
	draw.Draw(dst, image.Rect(r.Max.X-t, r.Min.Y+t, r.Max.X, r.Max.Y-t), u, image.Point{}, draw.Over)
}

func drawGrid(dst *image.RGBA, n int) {
	if n <= 1 {
		return
	}
	b := dst.Bounds()
	u := &image.Uniform{C: gridColor}
	for i := 1; i < n; i++ {
		x := b.Min.X + b.Dx()*i/n
		y := b.Min.Y + b.Dy()*i/n
		draw.Draw(dst, image.Rect(x, b.Min.Y, x+1, b.Max.Y), u, image.Point{}, draw.Over)
		draw.Draw(dst, image.Rect(b.Min.X, y, b.Max.X, y+1), u, image.Point{}, draw.Over)
	}
}

// drawLabel writes text in the region's top-left corner, clipped to the region.
func drawLabel(dst *image.RGBA, r image.Rectangle, text string) {
	face := basicfont.Face7x13
	inner := r.Inset(outlineWidth + 2)
	if inner.Dy() < face.Height || inner.Dx() < face.Advance {
		return
	}
	fit := inner.Dx() / face.Advance
	if rs := []rune(text); len(rs) > fit {
		text = string(rs[:fit])
	}
	clip, ok := dst.SubImage(inner).(*image.RGBA)
	if !ok {
		return
	}
	d := &font.Drawer{
		Dst:  clip,
		Src:  &image.Uniform{C: labelColor},
		Face: face,
		Dot:  fixed.P(inner.Min.X, inner.Min.Y+face.Ascent),
	}
	d.DrawString(text)
}
