/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package canvas implements the pointer-driven region editor: hit-testing,
// dragging, resizing by eight handles, creating by rubber band, and a
// software renderer for the resulting view.
package canvas

import (
	"errors"
	"log/slog"
	"sync"

	"gocouple/internal/background"
	"gocouple/internal/geom"
	applog "gocouple/internal/log"
	"gocouple/internal/region"
)

// ErrNoSelection is returned by operations that act on the selected region when there is none.
var ErrNoSelection = errors.New("canvas: no region selected")

// Mode is the interaction state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeHovering
	ModeDragging
	ModeResizing
	ModeCreating
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeHovering:
		return "hovering"
	case ModeDragging:
		return "dragging"
	case ModeResizing:
		return "resizing"
	case ModeCreating:
		return "creating"
	default:
		return "unknown"
	}
}

// Handle identifies one of the eight resize handles, clockwise from the top-left corner.
type Handle int

const (
	NoHandle Handle = iota - 1
	HandleNW
	HandleN
	HandleNE
	HandleE
	HandleSE
	HandleS
	HandleSW
	HandleW
)

var handleNames = [...]string{"nw", "n", "ne", "e", "se", "s", "sw", "w"}

func (h Handle) String() string {
	if h < HandleNW || h > HandleW {
		return "none"
	}
	return handleNames[h]
}

// Store is the part of state.Manager the editor commits through.
type Store interface {
	List() []region.Region
	Create(p region.Partial) (region.Region, error)
	Update(id string, p region.Patch) (region.Region, error)
	Delete(id string) error
}

// Options configures an Editor. Zero values take the defaults.
type Options struct {
	Width, Height int
	// MinSize is the smallest width or height a resize may leave, in normalized units.
	MinSize float64
	// CreateThreshold is the smallest rubber band (both axes, normalized) that creates a region.
	CreateThreshold float64
	// HandleSize is the edge length of a resize handle in pixels.
	HandleSize int
	// Grid is the number of guide divisions per axis; 0 draws none.
	Grid   int
	Logger *slog.Logger
}

const (
	DefaultMinSize         = 0.01
	DefaultCreateThreshold = 0.02
	DefaultHandleSize      = 8
)

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 768
	}
	if o.Height <= 0 {
		o.Height = 768
	}
	if o.MinSize <= 0 {
		o.MinSize = DefaultMinSize
	}
	if o.CreateThreshold <= 0 {
		o.CreateThreshold = DefaultCreateThreshold
	}
	if o.HandleSize <= 0 {
		o.HandleSize = DefaultHandleSize
	}
	if o.Grid < 0 {
		o.Grid = 0
	}
	if o.Logger == nil {
		o.Logger = applog.WithComponent("canvas")
	}
	return o
}

// gesture is the state of one press-move-release sequence.
type gesture struct {
	id      string
	handle  Handle
	start   geom.Pt
	origin  geom.Rect
	preview geom.Rect
}

// Editor keeps a mirrored copy of the region list and turns pointer input into
// single committed mutations. Intermediate frames only touch the local preview.
type Editor struct {
	mu       sync.Mutex
	store    Store
	bg       *background.Layer
	opts     Options
	vp       geom.Viewport
	regions  []region.Region
	selected string
	mode     Mode
	hoverID  string
	hoverH   Handle
	g        gesture
	renders  int
	redraw   func()
	log      *slog.Logger
}

// New builds an editor over store. bg may be nil.
func New(store Store, bg *background.Layer, opts Options) *Editor {
	opts = opts.withDefaults()
	e := &Editor{
		store:   store,
		bg:      bg,
		opts:    opts,
		vp:      geom.Viewport{W: float64(opts.Width), H: float64(opts.Height)},
		regions: store.List(),
		hoverH:  NoHandle,
		log:     opts.Logger,
	}
	if bg != nil {
		bg.SetOnChange(e.invalidate)
	}
	return e
}

// SetOnRedraw registers fn to run whenever the view needs repainting.
func (e *Editor) SetOnRedraw(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.redraw = fn
}

func (e *Editor) invalidate() {
	e.mu.Lock()
	fn := e.redraw
	e.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Resize changes the canvas size in pixels. A gesture in progress is kept.
func (e *Editor) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	e.mu.Lock()
	e.opts.Width, e.opts.Height = w, h
	e.vp = geom.Viewport{W: float64(w), H: float64(h)}
	e.mu.Unlock()
	e.invalidate()
}

// Size returns the canvas size in pixels.
func (e *Editor) Size() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opts.Width, e.opts.Height
}

// OnRegionsChanged refreshes the local copy. A selection or gesture whose
// region vanished is dropped.
func (e *Editor) OnRegionsChanged(rs []region.Region, kind region.ChangeKind) {
	e.mu.Lock()
	e.regions = rs
	if e.selected != "" && e.indexLocked(e.selected) < 0 {
		e.selected = ""
	}
	if e.g.id != "" && e.indexLocked(e.g.id) < 0 {
		e.log.Debug("gesture cancelled, region removed", slog.String("id", e.g.id), slog.String("kind", kind.String()))
		e.g = gesture{}
		e.mode = ModeIdle
	}
	if e.hoverID != "" && e.indexLocked(e.hoverID) < 0 {
		e.hoverID, e.hoverH = "", NoHandle
		if e.mode == ModeHovering {
			e.mode = ModeIdle
		}
	}
	e.mu.Unlock()
	e.invalidate()
}

// Mode returns the interaction state.
func (e *Editor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Hover returns the region and handle under the pointer, if any.
func (e *Editor) Hover() (string, Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hoverID, e.hoverH
}

// Selected returns the selected region id, or "".
func (e *Editor) Selected() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected
}

// Select makes id the selected region; "" clears the selection.
func (e *Editor) Select(id string) error {
	e.mu.Lock()
	if id != "" && e.indexLocked(id) < 0 {
		e.mu.Unlock()
		return &region.NotFoundError{ID: id}
	}
	e.selected = id
	e.mu.Unlock()
	e.invalidate()
	return nil
}

// Preview returns the rectangle currently shown for the region under a drag or
// resize, or the rubber band while creating.
func (e *Editor) Preview() (geom.Rect, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.mode {
	case ModeDragging, ModeResizing, ModeCreating:
		return e.g.preview, true
	}
	return geom.Rect{}, false
}

// Regions returns the editor's copy of the list.
func (e *Editor) Regions() []region.Region {
	e.mu.Lock()
	defer e.mu.Unlock()
	return region.Clone(e.regions)
}

// PointerMove updates hover state, or the preview during a gesture.
func (e *Editor) PointerMove(x, y float64) {
	e.mu.Lock()
	p := e.vp.ToNorm(geom.Pt{X: x, Y: y})
	switch e.mode {
	case ModeDragging, ModeResizing, ModeCreating:
		e.trackLocked(p)
	default:
		id, h := e.hitTestLocked(geom.Pt{X: x, Y: y})
		e.hoverID, e.hoverH = id, h
		if id != "" {
			e.mode = ModeHovering
		} else {
			e.mode = ModeIdle
		}
	}
	e.mu.Unlock()
	e.invalidate()
}

// PointerDown starts a gesture: a handle of the selected region starts a
// resize, a region body selects it and starts a drag, empty canvas clears
// the selection and starts a rubber band.
func (e *Editor) PointerDown(x, y float64) {
	e.mu.Lock()
	p := e.vp.ToNorm(geom.Pt{X: x, Y: y})
	id, h := e.hitTestLocked(geom.Pt{X: x, Y: y})
	switch {
	case id != "" && h != NoHandle:
		rc := e.regions[e.indexLocked(id)].Rect()
		e.g = gesture{id: id, handle: h, start: p, origin: rc, preview: rc}
		e.mode = ModeResizing
	case id != "":
		rc := e.regions[e.indexLocked(id)].Rect()
		e.selected = id
		e.g = gesture{id: id, handle: NoHandle, start: p, origin: rc, preview: rc}
		e.mode = ModeDragging
	default:
		e.selected = ""
		start := geom.Pt{X: geom.Clamp(p.X, 0, 1), Y: geom.Clamp(p.Y, 0, 1)}
		e.g = gesture{handle: NoHandle, start: start, preview: geom.Rect{X1: start.X, Y1: start.Y, X2: start.X, Y2: start.Y}}
		e.mode = ModeCreating
	}
	e.mu.Unlock()
	e.invalidate()
}

// PointerUp ends the gesture and commits at most one mutation.
func (e *Editor) PointerUp(x, y float64) error {
	e.mu.Lock()
	p := e.vp.ToNorm(geom.Pt{X: x, Y: y})
	mode := e.mode
	switch mode {
	case ModeDragging, ModeResizing, ModeCreating:
		e.trackLocked(p)
	default:
		e.mu.Unlock()
		return nil
	}
	g := e.g
	e.g = gesture{}
	id, h := e.hitTestLocked(geom.Pt{X: x, Y: y})
	e.hoverID, e.hoverH = id, h
	e.mode = ModeIdle
	if id != "" {
		e.mode = ModeHovering
	}
	threshold := e.opts.CreateThreshold
	e.mu.Unlock()

	var err error
	switch mode {
	case ModeDragging, ModeResizing:
		if g.preview != g.origin {
			_, err = e.store.Update(g.id, region.PatchRect(g.preview))
			e.log.Debug("region moved", slog.String("id", g.id), slog.String("mode", mode.String()), slog.Any("err", err))
		}
	case ModeCreating:
		rc := g.preview
		if rc.W() >= threshold && rc.H() >= threshold {
			var r region.Region
			r, err = e.store.Create(region.Partial{Rect: &rc})
			if err == nil {
				e.mu.Lock()
				e.selected = r.ID
				e.mu.Unlock()
				e.log.Debug("region created", slog.String("id", r.ID))
			}
		}
	}
	e.invalidate()
	return err
}

// Cancel abandons a gesture without committing anything.
func (e *Editor) Cancel() {
	e.mu.Lock()
	e.g = gesture{}
	e.mode = ModeIdle
	e.mu.Unlock()
	e.invalidate()
}

func (e *Editor) trackLocked(p geom.Pt) {
	dx, dy := p.X-e.g.start.X, p.Y-e.g.start.Y
	switch e.mode {
	case ModeDragging:
		e.g.preview = e.g.origin.Shift(dx, dy)
	case ModeResizing:
		e.g.preview = ResizeRect(e.g.origin, e.g.handle, dx, dy, e.opts.MinSize)
	case ModeCreating:
		end := geom.Pt{X: geom.Clamp(p.X, 0, 1), Y: geom.Clamp(p.Y, 0, 1)}
		e.g.preview = geom.Rect{X1: e.g.start.X, Y1: e.g.start.Y, X2: end.X, Y2: end.Y}.Canon()
	}
}

// ResizeRect moves the edges owned by h by (dx,dy). Edges stay inside the
// unit square and at least minSize apart; edges not owned by h never move.
func ResizeRect(r geom.Rect, h Handle, dx, dy, minSize float64) geom.Rect {
	left := h == HandleNW || h == HandleW || h == HandleSW
	right := h == HandleNE || h == HandleE || h == HandleSE
	top := h == HandleNW || h == HandleN || h == HandleNE
	bottom := h == HandleSW || h == HandleS || h == HandleSE
	if left {
		r.X1 = geom.Clamp(r.X1+dx, 0, max(0, r.X2-minSize))
	}
	if right {
		r.X2 = geom.Clamp(r.X2+dx, min(1, r.X1+minSize), 1)
	}
	if top {
		r.Y1 = geom.Clamp(r.Y1+dy, 0, max(0, r.Y2-minSize))
	}
	if bottom {
		r.Y2 = geom.Clamp(r.Y2+dy, min(1, r.Y1+minSize), 1)
	}
	return r
}

// hitTestLocked looks at the selected region's handles first, then at region
// bodies from the topmost (last) down. px is in canvas pixels.
func (e *Editor) hitTestLocked(px geom.Pt) (string, Handle) {
	if i := e.indexLocked(e.selected); i >= 0 {
		for h, hr := range HandleRects(e.vp.RectToPx(e.regions[i].Rect()), float64(e.opts.HandleSize)) {
			if hr.Contains(px) {
				return e.selected, Handle(h)
			}
		}
	}
	p := e.vp.ToNorm(px)
	for i := len(e.regions) - 1; i >= 0; i-- {
		if e.regions[i].Rect().Contains(p) {
			return e.regions[i].ID, NoHandle
		}
	}
	return "", NoHandle
}

// HandleRects returns the eight handle squares of a pixel rectangle in Handle order.
func HandleRects(r geom.Rect, size float64) [8]geom.Rect {
	hs := size / 2
	cx, cy := (r.X1+r.X2)/2, (r.Y1+r.Y2)/2
	sq := func(x, y float64) geom.Rect { return geom.R(x-hs, y-hs, x+hs, y+hs) }
	return [8]geom.Rect{
		sq(r.X1, r.Y1), // nw
		sq(cx, r.Y1),   // n
		sq(r.X2, r.Y1), // ne
		sq(r.X2, cy),   // e
		sq(r.X2, r.Y2), // se
		sq(cx, r.Y2),   // s
		sq(r.X1, r.Y2), // sw
		sq(r.X1, cy),   // w
	}
}

func (e *Editor) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range e.regions {
		if e.regions[i].ID == id {
			return i
		}
	}
	return -1
}

// DeleteSelected removes the selected region.
func (e *Editor) DeleteSelected() error {
	id := e.Selected()
	if id == "" {
		return ErrNoSelection
	}
	return e.store.Delete(id)
}

// NudgeSelected moves the selected region by (dx,dy) normalized units,
// keeping it inside the image.
func (e *Editor) NudgeSelected(dx, dy float64) error {
	e.mu.Lock()
	i := e.indexLocked(e.selected)
	if i < 0 {
		e.mu.Unlock()
		return ErrNoSelection
	}
	id, rc := e.selected, e.regions[i].Rect()
	e.mu.Unlock()
	next := rc.Shift(dx, dy)
	if next == rc {
		return nil
	}
	_, err := e.store.Update(id, region.PatchRect(next))
	return err
}
