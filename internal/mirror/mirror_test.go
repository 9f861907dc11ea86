/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package mirror

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"

	applog "gocouple/internal/log"
	"gocouple/internal/region"
	"gocouple/internal/state"
)

func setup(t *testing.T) (*state.Manager, *Table, *Legacy) {
	t.Helper()
	m := state.New(state.WithLogger(applog.Discard()))
	tab := NewTable(m)
	leg := NewLegacy(m)
	m.RegisterMirror(tab)
	m.RegisterMirror(leg)
	return m, tab, leg
}

func TestTableFollowsManager(t *testing.T) {
	m, tab, _ := setup(t)
	_, _ = m.Create(region.Partial{Prompt: "a tree"})
	_, _ = m.Create(region.Partial{Prompt: "a river", Weight: region.F(0.5)})
	rows := tab.Rows()
	if len(rows) != 2 || rows[1].Prompt != "a river" || rows[1].Color != "orange" || rows[1].Index != 1 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
	var buf bytes.Buffer
	if err := tab.Render(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "weight") || !strings.Contains(out, "a river") || !strings.Contains(out, "0.50") {
		t.Fatalf("unexpected render:\n%s", out)
	}
}

func TestTableEditRoutesThroughManager(t *testing.T) {
	m, tab, leg := setup(t)
	_, _ = m.Create(region.Partial{})
	if err := tab.Edit(0, "x2", "0.5"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := tab.Edit(0, "Prompt", "moon"); err != nil {
		t.Fatalf("edit prompt: %v", err)
	}
	got := m.List()[0]
	if got.X2 != 0.5 || got.Prompt != "moon" {
		t.Fatalf("manager not updated: %+v", got)
	}
	if tab.Rows()[0].X2 != 0.5 {
		t.Fatalf("table not refreshed by notification")
	}
	if leg.JSON() != "[[0,0.5,0,1,1]]" {
		t.Fatalf("legacy = %s", leg.JSON())
	}
}

func TestTableEditErrors(t *testing.T) {
	m, tab, _ := setup(t)
	_, _ = m.Create(region.Partial{})
	if err := tab.Edit(3, "x1", "0"); err == nil {
		t.Fatalf("out of range row should fail")
	}
	if err := tab.Edit(0, "x1", "abc"); err == nil {
		t.Fatalf("non-numeric value should fail")
	}
	if err := tab.Edit(0, "color", "1"); err == nil {
		t.Fatalf("unknown column should fail")
	}
	if err := tab.Edit(0, "weight", "-1"); !errors.Is(err, region.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	changes := tab.Changes()
	if changes != 1 {
		t.Fatalf("failed edits should not notify, changes=%d", changes)
	}
}

func TestLegacySetKeepsPrompts(t *testing.T) {
	m, _, leg := setup(t)
	if leg.JSON() != "[]" || leg.Count() != 0 {
		t.Fatalf("unexpected initial legacy state %q %d", leg.JSON(), leg.Count())
	}
	_, _ = m.Create(region.Partial{Prompt: "left"})
	if err := leg.Set("[[0,0.5,0,1,1],[0.5,1,0,1,1]]"); err != nil {
		t.Fatalf("set: %v", err)
	}
	l := m.List()
	if len(l) != 2 || l[0].Prompt != "left" || l[1].Prompt != "" {
		t.Fatalf("unexpected list: %+v", l)
	}
	if leg.Count() != 2 {
		t.Fatalf("count = %d", leg.Count())
	}
	if err := leg.Set("[[0,2,0,1,1]]"); !errors.Is(err, region.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(m.List()) != 2 {
		t.Fatalf("rejected mapping changed state")
	}
}

func TestLegacyMarshalFailureKeepsTextAndLogs(t *testing.T) {
	m, _, leg := setup(t)
	_, _ = m.Create(region.Partial{Prompt: "kept"})
	before := leg.JSON()

	var buf bytes.Buffer
	leg.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	leg.OnRegionsChanged([]region.Region{{X2: 1, Y2: 1, Weight: math.NaN()}}, region.ChangeUpdate)

	if leg.JSON() != before || leg.Count() != 1 {
		t.Fatalf("unencodable list replaced the mapping: %q count=%d", leg.JSON(), leg.Count())
	}
	if !strings.Contains(buf.String(), "legacy mapping marshal failed") {
		t.Fatalf("marshal failure not logged: %q", buf.String())
	}
}
