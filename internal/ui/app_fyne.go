//go:build fyne && cgo

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	fstorage "fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/google/uuid"

	editor "gocouple/internal/canvas"
	applog "gocouple/internal/log"
	"gocouple/internal/mirror"
	"gocouple/internal/region"
	"gocouple/internal/session"
	"gocouple/internal/state"
	"gocouple/internal/version"
)

// nudgeStep is how far an arrow key moves the selected region, in normalized units.
const nudgeStep = 0.01

// Run opens the desktop window for a session and blocks until it is closed.
func Run(s *session.Session) error {
	if s == nil {
		return errors.New("ui: nil session")
	}
	l := applog.WithComponent("ui")
	l.Info("starting UI", slog.String("version", version.String()))

	fyneApp := app.NewWithID("gocouple")
	w := fyneApp.NewWindow("Regions")
	prefs := fyneApp.Preferences()
	winW := prefs.IntWithFallback("window.width", 1200)
	winH := prefs.IntWithFallback("window.height", 800)
	if winW < 800 {
		winW = 800
	}
	if winH < 600 {
		winH = 600
	}
	w.Resize(fyne.NewSize(float32(winW), float32(winH)))

	status := widget.NewLabel("Ready")
	rc := NewRegionCanvas(s.Editor)
	rc.OnError = func(err error) {
		l.Warn("canvas commit failed", slog.Any("err", err))
		status.SetText(err.Error())
	}

	// Region table on the right
	var rows []mirror.Row
	table := widget.NewTable(
		func() (int, int) { return len(rows) + 1, 7 },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.TableCellID, o fyne.CanvasObject) {
			o.(*widget.Label).SetText(cellText(rows, id.Row, id.Col))
		},
	)
	for col, wd := range []float32{32, 60, 60, 60, 60, 64, 220} {
		table.SetColumnWidth(col, wd)
	}

	promptEntry := widget.NewEntry()
	promptEntry.SetPlaceHolder("Prompt")
	weightEntry := widget.NewEntry()
	weightEntry.SetPlaceHolder("Weight")
	selectedID := ""
	loadSelection := func() {
		selectedID = s.Editor.Selected()
		if r, ok := s.Manager.Get(selectedID); ok {
			promptEntry.SetText(r.Prompt)
			weightEntry.SetText(strconv.FormatFloat(r.Weight, 'f', 2, 64))
			return
		}
		promptEntry.SetText("")
		weightEntry.SetText("")
	}
	table.OnSelected = func(id widget.TableCellID) {
		if id.Row < 1 || id.Row > len(rows) {
			return
		}
		if err := s.Editor.Select(rows[id.Row-1].ID); err != nil {
			status.SetText(err.Error())
			return
		}
		loadSelection()
	}
	applyBtn := widget.NewButton("Apply", func() {
		row := -1
		for i, r := range rows {
			if r.ID == selectedID {
				row = i
			}
		}
		if row < 0 {
			status.SetText(editor.ErrNoSelection.Error())
			return
		}
		weight := weightEntry.Text
		if err := s.Table.Edit(row, "prompt", promptEntry.Text); err != nil {
			status.SetText(err.Error())
			return
		}
		if weight != "" {
			if err := s.Table.Edit(row, "weight", weight); err != nil {
				status.SetText(err.Error())
			}
		}
	})
	rc.OnSelect = func() { loadSelection() }

	refreshTable := func() {
		rows = s.Table.Rows()
		table.Refresh()
		loadSelection()
		status.SetText(fmt.Sprintf("%d region(s), revision %d", len(rows), s.Manager.Revision()))
	}
	s.Manager.RegisterMirror(state.MirrorFunc(func([]region.Region, region.ChangeKind) {
		fyne.Do(refreshTable)
	}))
	refreshTable()

	// Toolbar actions
	importBtn := widget.NewButton("Import…", func() {
		dialog.ShowFileOpen(func(rd fyne.URIReadCloser, err error) {
			if err != nil || rd == nil {
				return
			}
			defer rd.Close()
			data, err := io.ReadAll(rd)
			if err == nil {
				err = s.Import(data)
			}
			if err != nil {
				dialog.ShowError(err, w)
			}
		}, w)
	})
	exportBtn := widget.NewButton("Export…", func() {
		fd := dialog.NewFileSave(func(wr fyne.URIWriteCloser, err error) {
			if err != nil || wr == nil {
				return
			}
			defer wr.Close()
			data, err := s.Export()
			if err == nil {
				_, err = wr.Write(data)
			}
			if err != nil {
				dialog.ShowError(err, w)
			}
		}, w)
		fd.SetFileName("regions.json")
		fd.SetFilter(fstorage.NewExtensionFileFilter([]string{".json"}))
		fd.Show()
	})
	bgBtn := widget.NewButton("Background…", func() {
		fd := dialog.NewFileOpen(func(rd fyne.URIReadCloser, err error) {
			if err != nil || rd == nil {
				return
			}
			defer rd.Close()
			data, err := io.ReadAll(rd)
			if err != nil {
				dialog.ShowError(err, w)
				return
			}
			status.SetText("Loading background…")
			s.Background.Load(context.Background(), data, func(err error) {
				fyne.Do(func() {
					if err != nil {
						status.SetText("Background: " + err.Error())
						return
					}
					bw, bh := s.Background.Size()
					status.SetText(fmt.Sprintf("Background %dx%d (%s)", bw, bh, s.Background.Format()))
				})
			})
		}, w)
		fd.SetFilter(fstorage.NewExtensionFileFilter([]string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}))
		fd.Show()
	})
	pasteBtn := widget.NewButton("Paste parameters", func() {
		found, err := s.ApplyInfotext(w.Clipboard().Content())
		switch {
		case err != nil:
			dialog.ShowError(err, w)
		case !found:
			status.SetText("No mapping in clipboard")
		}
	})
	clearBtn := widget.NewButton("Clear", func() {
		dialog.ShowConfirm("Clear", "Remove all regions?", func(ok bool) {
			if ok {
				_ = s.Manager.ClearAll()
			}
		}, w)
	})
	syncBtn := widget.NewButton("Sync now", func() {
		if s.Bridge == nil {
			status.SetText("Offline: no backend configured")
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err := s.Bridge.ForceSyncNow(ctx)
			fyne.Do(func() {
				if err != nil {
					l.Error("sync failed", slog.Any("err", err))
					status.SetText("Sync failed: " + err.Error())
					return
				}
				st := s.Bridge.Status()
				status.SetText(fmt.Sprintf("Synced revision %d", st.LastRevision))
			})
		}()
	})
	genBtn := widget.NewButton("Generate", func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			pushed, err := s.GenerationStarting(ctx, uuid.NewString())
			fyne.Do(func() {
				switch {
				case err != nil:
					status.SetText("Generation sync failed: " + err.Error())
				case pushed:
					status.SetText("Generation started with current regions")
				}
			})
		}()
	})

	topBar := container.NewHBox(importBtn, exportBtn, bgBtn, pasteBtn, clearBtn, syncBtn, genBtn)
	form := container.NewBorder(nil, nil, nil, applyBtn, container.NewGridWithColumns(2, promptEntry, weightEntry))
	right := container.NewBorder(nil, form, nil, nil, table)
	split := container.NewHSplit(rc, right)
	split.Offset = 0.6
	w.SetContent(container.NewBorder(topBar, status, nil, nil, split))

	w.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		var err error
		switch ev.Name {
		case fyne.KeyDelete, fyne.KeyBackspace:
			err = s.Editor.DeleteSelected()
		case fyne.KeyEscape:
			s.Editor.Cancel()
		case fyne.KeyLeft:
			err = s.Editor.NudgeSelected(-nudgeStep, 0)
		case fyne.KeyRight:
			err = s.Editor.NudgeSelected(nudgeStep, 0)
		case fyne.KeyUp:
			err = s.Editor.NudgeSelected(0, -nudgeStep)
		case fyne.KeyDown:
			err = s.Editor.NudgeSelected(0, nudgeStep)
		}
		if err != nil && !errors.Is(err, editor.ErrNoSelection) {
			status.SetText(err.Error())
		}
	})
	w.Canvas().AddShortcut(&desktop.CustomShortcut{KeyName: fyne.KeyV, Modifier: fyne.KeyModifierControl | fyne.KeyModifierShift}, func(fyne.Shortcut) {
		pasteBtn.OnTapped()
	})

	w.SetCloseIntercept(func() {
		sz := w.Canvas().Size()
		prefs.SetInt("window.width", int(sz.Width))
		prefs.SetInt("window.height", int(sz.Height))
		w.Close()
	})
	w.ShowAndRun()
	l.Info("UI closed")
	return nil
}

func cellText(rows []mirror.Row, row, col int) string {
	if row == 0 {
		return [...]string{"#", "x1", "x2", "y1", "y2", "weight", "prompt"}[col]
	}
	if row-1 >= len(rows) {
		return ""
	}
	r := rows[row-1]
	switch col {
	case 0:
		return strconv.Itoa(r.Index + 1)
	case 1:
		return strconv.FormatFloat(r.X1, 'f', 2, 64)
	case 2:
		return strconv.FormatFloat(r.X2, 'f', 2, 64)
	case 3:
		return strconv.FormatFloat(r.Y1, 'f', 2, 64)
	case 4:
		return strconv.FormatFloat(r.Y2, 'f', 2, 64)
	case 5:
		return strconv.FormatFloat(r.Weight, 'f', 2, 64)
	default:
		return r.Prompt
	}
}

// RegionCanvas hosts a canvas editor in a Fyne widget. Pointer events are
// converted from device independent units into editor pixels.
type RegionCanvas struct {
	widget.BaseWidget
	ed     *editor.Editor
	raster *canvas.Raster

	// pixel size of the last rendered frame
	pxW, pxH int
	last     fyne.Position
	pressed  bool

	OnError  func(error)
	OnSelect func()
}

// NewRegionCanvas wraps ed.
func NewRegionCanvas(ed *editor.Editor) *RegionCanvas {
	rc := &RegionCanvas{ed: ed}
	rc.pxW, rc.pxH = ed.Size()
	rc.raster = canvas.NewRaster(rc.generate)
	ed.SetOnRedraw(func() { fyne.Do(rc.raster.Refresh) })
	rc.ExtendBaseWidget(rc)
	return rc
}

func (rc *RegionCanvas) generate(w, h int) image.Image {
	if w > 0 && h > 0 {
		if cw, ch := rc.ed.Size(); cw != w || ch != h {
			rc.ed.Resize(w, h)
		}
		rc.pxW, rc.pxH = w, h
	}
	return rc.ed.Render()
}

// CreateRenderer implements fyne.Widget.
func (rc *RegionCanvas) CreateRenderer() fyne.WidgetRenderer {
	return widget.NewSimpleRenderer(rc.raster)
}

// MinSize keeps the canvas usable in a split.
func (rc *RegionCanvas) MinSize() fyne.Size { return fyne.NewSize(320, 320) }

// toPixels maps a widget position into the editor's pixel space.
func (rc *RegionCanvas) toPixels(pos fyne.Position) (float64, float64) {
	return scaleToPixels(pos, rc.Size(), rc.pxW, rc.pxH)
}

func scaleToPixels(pos fyne.Position, size fyne.Size, pxW, pxH int) (float64, float64) {
	if size.Width <= 0 || size.Height <= 0 {
		return float64(pos.X), float64(pos.Y)
	}
	return float64(pos.X) * float64(pxW) / float64(size.Width), float64(pos.Y) * float64(pxH) / float64(size.Height)
}

// MouseIn implements desktop.Hoverable.
func (rc *RegionCanvas) MouseIn(e *desktop.MouseEvent) { rc.MouseMoved(e) }

// MouseMoved implements desktop.Hoverable.
func (rc *RegionCanvas) MouseMoved(e *desktop.MouseEvent) {
	rc.last = e.Position
	rc.ed.PointerMove(rc.toPixels(e.Position))
}

// MouseOut implements desktop.Hoverable.
func (rc *RegionCanvas) MouseOut() {}

// MouseDown implements desktop.Mouseable.
func (rc *RegionCanvas) MouseDown(e *desktop.MouseEvent) {
	if e.Button != desktop.MouseButtonPrimary {
		return
	}
	rc.pressed = true
	rc.last = e.Position
	rc.ed.PointerDown(rc.toPixels(e.Position))
	if rc.OnSelect != nil {
		rc.OnSelect()
	}
}

// MouseUp implements desktop.Mouseable.
func (rc *RegionCanvas) MouseUp(e *desktop.MouseEvent) {
	if e.Button != desktop.MouseButtonPrimary {
		return
	}
	rc.release(e.Position)
}

// Dragged implements fyne.Draggable; moves during a press arrive here instead of MouseMoved.
func (rc *RegionCanvas) Dragged(e *fyne.DragEvent) {
	rc.last = e.Position
	rc.ed.PointerMove(rc.toPixels(e.Position))
}

// DragEnd implements fyne.Draggable.
func (rc *RegionCanvas) DragEnd() { rc.release(rc.last) }

func (rc *RegionCanvas) release(pos fyne.Position) {
	if !rc.pressed {
		return
	}
	rc.pressed = false
	x, y := rc.toPixels(pos)
	if err := rc.ed.PointerUp(x, y); err != nil && rc.OnError != nil {
		rc.OnError(err)
	}
	if rc.OnSelect != nil {
		rc.OnSelect()
	}
}
