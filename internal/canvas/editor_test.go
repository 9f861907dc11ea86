/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"gocouple/internal/geom"
	applog "gocouple/internal/log"
	"gocouple/internal/region"
	"gocouple/internal/state"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func newEditor(t *testing.T) (*state.Manager, *Editor) {
	t.Helper()
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("r%d", n)
	}
	m := state.New(state.WithStore(region.NewStore(region.WithIDGenerator(ids))), state.WithLogger(applog.Discard()))
	e := New(m, nil, Options{Width: 100, Height: 100, Logger: applog.Discard()})
	m.RegisterMirror(e)
	return m, e
}

func mustCreate(t *testing.T, m *state.Manager, rc geom.Rect) region.Region {
	t.Helper()
	r, err := m.Create(region.Partial{Rect: &rc})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestDragClampsAndCommitsOnce(t *testing.T) {
	m, e := newEditor(t)
	r := mustCreate(t, m, geom.R(0.6, 0.6, 0.9, 0.9))
	rev := m.Revision()

	e.PointerDown(75, 75)
	if e.Mode() != ModeDragging || e.Selected() != r.ID {
		t.Fatalf("expected drag of %s, mode=%v selected=%q", r.ID, e.Mode(), e.Selected())
	}
	e.PointerMove(150, 75)
	e.PointerMove(300, 75)
	pv, ok := e.Preview()
	if !ok || !near(pv.X2, 1) || !near(pv.X1, 0.7) || !near(pv.Y1, 0.6) {
		t.Fatalf("unexpected preview %+v", pv)
	}
	if m.Revision() != rev {
		t.Fatalf("intermediate frames must not commit")
	}
	if err := e.PointerUp(300, 75); err != nil {
		t.Fatalf("pointer up: %v", err)
	}
	if m.Revision() != rev+1 {
		t.Fatalf("expected exactly one commit, revision %d -> %d", rev, m.Revision())
	}
	got, _ := m.Get(r.ID)
	if !near(got.X1, 0.7) || !near(got.X2, 1) || !near(got.Rect().W(), 0.3) {
		t.Fatalf("unexpected committed rect %+v", got.Rect())
	}
}

func TestDragWithoutMovementCommitsNothing(t *testing.T) {
	m, e := newEditor(t)
	mustCreate(t, m, geom.R(0.1, 0.1, 0.5, 0.5))
	rev := m.Revision()
	e.PointerDown(30, 30)
	if err := e.PointerUp(30, 30); err != nil {
		t.Fatal(err)
	}
	if m.Revision() != rev {
		t.Fatalf("click on a region must not mutate it")
	}
	if e.Mode() != ModeHovering {
		t.Fatalf("mode after release over region = %v", e.Mode())
	}
}

func TestResizeClampsToMinSize(t *testing.T) {
	m, e := newEditor(t)
	r := mustCreate(t, m, geom.R(0.6, 0.6, 0.9, 0.9))
	if err := e.Select(r.ID); err != nil {
		t.Fatal(err)
	}
	e.PointerDown(90, 75) // east handle
	if e.Mode() != ModeResizing {
		t.Fatalf("expected resizing, got %v", e.Mode())
	}
	e.PointerMove(0, 10)
	pv, _ := e.Preview()
	if !near(pv.X2, 0.61) || !near(pv.X1, 0.6) || !near(pv.Y1, 0.6) || !near(pv.Y2, 0.9) {
		t.Fatalf("east handle should only move x2 down to min size, got %+v", pv)
	}
	if err := e.PointerUp(0, 10); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(r.ID)
	if got.Rect().W() < DefaultMinSize-eps {
		t.Fatalf("width below min size: %v", got.Rect().W())
	}
}

func TestResizeCornerClampsToUnitSquare(t *testing.T) {
	out := ResizeRect(geom.R(0.2, 0.2, 0.4, 0.4), HandleNW, -1, -1, 0.01)
	if out != geom.R(0, 0, 0.4, 0.4) {
		t.Fatalf("nw: %+v", out)
	}
	out = ResizeRect(geom.R(0.2, 0.2, 0.4, 0.4), HandleSE, 5, 5, 0.01)
	if out != geom.R(0.2, 0.2, 1, 1) {
		t.Fatalf("se: %+v", out)
	}
	out = ResizeRect(geom.R(0.2, 0.2, 0.4, 0.4), HandleN, 0.3, 0.3, 0.05)
	if !near(out.Y1, 0.35) || out.X1 != 0.2 || out.X2 != 0.4 {
		t.Fatalf("n: %+v", out)
	}
}

func TestHandlesTakePriority(t *testing.T) {
	m, e := newEditor(t)
	low := mustCreate(t, m, geom.R(0.2, 0.2, 0.5, 0.5))
	top := mustCreate(t, m, geom.R(0.4, 0.4, 0.8, 0.8))
	e.PointerMove(45, 45)
	if id, h := e.Hover(); id != top.ID || h != NoHandle {
		t.Fatalf("topmost body should win, got %q %v", id, h)
	}
	_ = e.Select(low.ID)
	e.PointerMove(50, 50)
	if id, h := e.Hover(); id != low.ID || h != HandleSE {
		t.Fatalf("selected handle should win, got %q %v", id, h)
	}
	e.PointerMove(99, 5)
	if id, _ := e.Hover(); id != "" || e.Mode() != ModeIdle {
		t.Fatalf("empty space should hover nothing, got %q mode=%v", id, e.Mode())
	}
}

func TestCreateThreshold(t *testing.T) {
	m, e := newEditor(t)
	e.PointerDown(10, 10)
	if e.Mode() != ModeCreating {
		t.Fatalf("mode = %v", e.Mode())
	}
	if err := e.PointerUp(11, 11); err != nil {
		t.Fatal(err)
	}
	if len(m.List()) != 0 {
		t.Fatalf("tiny rubber band created a region")
	}

	e.PointerDown(40, 30)
	e.PointerMove(20, 60)
	if err := e.PointerUp(20, 60); err != nil {
		t.Fatal(err)
	}
	l := m.List()
	if len(l) != 1 {
		t.Fatalf("expected one region, got %d", len(l))
	}
	if got := l[0].Rect(); !near(got.X1, 0.2) || !near(got.X2, 0.4) || !near(got.Y1, 0.3) || !near(got.Y2, 0.6) {
		t.Fatalf("unexpected rect %+v", got)
	}
	if e.Selected() != l[0].ID {
		t.Fatalf("new region should be selected")
	}
}

func TestEmptyClickDeselects(t *testing.T) {
	m, e := newEditor(t)
	r := mustCreate(t, m, geom.R(0, 0, 0.3, 0.3))
	_ = e.Select(r.ID)
	e.PointerDown(80, 80)
	_ = e.PointerUp(80, 80)
	if e.Selected() != "" {
		t.Fatalf("click on empty canvas should deselect")
	}
}

func TestSelectionDroppedWhenRegionDisappears(t *testing.T) {
	m, e := newEditor(t)
	r := mustCreate(t, m, geom.R(0, 0, 0.3, 0.3))
	_ = e.Select(r.ID)
	e.PointerDown(10, 10)
	if err := m.ClearAll(); err != nil {
		t.Fatal(err)
	}
	if e.Selected() != "" || e.Mode() != ModeIdle {
		t.Fatalf("selection or gesture survived clear: %q %v", e.Selected(), e.Mode())
	}
	if err := e.PointerUp(50, 50); err != nil {
		t.Fatalf("release after cancelled gesture: %v", err)
	}
	if err := e.Select("ghost"); !errors.Is(err, region.ErrNotFound) {
		t.Fatalf("select unknown: %v", err)
	}
}

func TestDeleteAndNudgeSelected(t *testing.T) {
	m, e := newEditor(t)
	if err := e.DeleteSelected(); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	r := mustCreate(t, m, geom.R(0.8, 0.1, 0.95, 0.2))
	_ = e.Select(r.ID)
	if err := e.NudgeSelected(0.1, 0); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(r.ID)
	if !near(got.X2, 1) || !near(got.X1, 0.85) {
		t.Fatalf("nudge should clamp at the edge, got %+v", got.Rect())
	}
	rev := m.Revision()
	if err := e.NudgeSelected(0.1, 0); err != nil || m.Revision() != rev {
		t.Fatalf("nudge against the edge should be a no-op")
	}
	if err := e.DeleteSelected(); err != nil {
		t.Fatal(err)
	}
	if len(m.List()) != 0 || e.Selected() != "" {
		t.Fatalf("delete selected failed")
	}
}

func TestRedrawCallback(t *testing.T) {
	m, e := newEditor(t)
	calls := 0
	e.SetOnRedraw(func() { calls++ })
	mustCreate(t, m, geom.R(0, 0, 1, 1))
	e.PointerMove(10, 10)
	if calls < 2 {
		t.Fatalf("expected redraws for mutation and hover, got %d", calls)
	}
}
