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
	"image/color"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"
	"gocouple/internal/region"
)

// Layout sheet geometry in points.
const (
	sheetMargin  = 36.0
	sheetWidth   = 540.0
	legendLine   = 14.0
	legendHeader = 24.0
)

// WritePDF writes a one-page layout sheet for regions on a w×h canvas.
// The canvas is scaled to a fixed width with each region outlined in its palette colour,
// followed by a legend listing coordinates, weight and prompt in list order.
func WritePDF(path string, rs []region.Region, w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", w, h)
	}
	canvasW := sheetWidth
	canvasH := sheetWidth * float64(h) / float64(w)
	pageW := canvasW + 2*sheetMargin
	pageH := canvasH + 2*sheetMargin + legendHeader + legendLine*float64(len(rs)+1)

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: pageW, Ht: pageH},
	})
	pdf.SetTitle(fmt.Sprintf("Region layout %dx%d", w, h), false)
	pdf.SetAuthor("gocouple", false)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	// canvas frame
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.5)
	pdf.Rect(sheetMargin, sheetMargin, canvasW, canvasH, "D")

	pdf.SetFont("Helvetica", "", 9)
	for i, r := range rs {
		c := region.PaletteColor(r.ColorIndex)
		x := sheetMargin + r.X1*canvasW
		y := sheetMargin + r.Y1*canvasH
		rw := (r.X2 - r.X1) * canvasW
		rh := (r.Y2 - r.Y1) * canvasH

		setFillColor(pdf, c)
		pdf.SetAlpha(0.25, "Normal")
		pdf.Rect(x, y, rw, rh, "F")
		pdf.SetAlpha(1, "Normal")

		setDrawColor(pdf, c)
		pdf.SetLineWidth(2)
		pdf.Rect(x, y, rw, rh, "D")

		pdf.SetTextColor(0, 0, 0)
		pdf.Text(x+4, y+12, fmt.Sprintf("%d", i+1))
	}

	// legend
	ly := sheetMargin + canvasH + legendHeader
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Helvetica", "B", 10)
	pdf.Text(sheetMargin, ly, fmt.Sprintf("%d region(s) on %dx%d", len(rs), w, h))
	pdf.SetFont("Helvetica", "", 9)
	for i, r := range rs {
		ly += legendLine
		c := region.PaletteColor(r.ColorIndex)
		setFillColor(pdf, c)
		pdf.Rect(sheetMargin, ly-8, 8, 8, "F")
		line := fmt.Sprintf("%d. x %.2f-%.2f  y %.2f-%.2f  weight %.2f  %s",
			i+1, r.X1, r.X2, r.Y1, r.Y2, r.Weight, r.Prompt)
		pdf.Text(sheetMargin+14, ly, pdf.UnicodeTranslatorFromDescriptor("")(line))
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure out dir: %w", err)
		}
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func setDrawColor(pdf *gofpdf.Fpdf, c color.RGBA) {
	pdf.SetDrawColor(int(c.R), int(c.G), int(c.B))
}

func setFillColor(pdf *gofpdf.Fpdf, c color.RGBA) {
	pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
}
