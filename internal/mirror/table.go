/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package mirror holds the external views of the region list: the editable
// table and the legacy backend-format field.
package mirror

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"gocouple/internal/region"
)

// Editor is the part of state.Manager the table writes through.
type Editor interface {
	Update(id string, p region.Patch) (region.Region, error)
}

// Row is one table line.
type Row struct {
	Index  int
	ID     string
	X1, X2 float64
	Y1, Y2 float64
	Weight float64
	Prompt string
	Color  string
}

// Table mirrors the list as rows and routes cell edits back through the editor.
type Table struct {
	mu      sync.Mutex
	ed      Editor
	rows    []Row
	changes int
}

func NewTable(ed Editor) *Table { return &Table{ed: ed} }

func (t *Table) OnRegionsChanged(rs []region.Region, _ region.ChangeKind) {
	rows := make([]Row, len(rs))
	for i, r := range rs {
		rows[i] = Row{
			Index: i, ID: r.ID,
			X1: r.X1, X2: r.X2, Y1: r.Y1, Y2: r.Y2,
			Weight: r.Weight, Prompt: r.Prompt,
			Color: region.PaletteName(r.ColorIndex),
		}
	}
	t.mu.Lock()
	t.rows = rows
	t.changes++
	t.mu.Unlock()
}

// Rows returns a copy of the current rows.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Row(nil), t.rows...)
}

// Changes reports how many notifications the table has seen.
func (t *Table) Changes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changes
}

// Render writes the rows as an aligned text table.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tx1\tx2\ty1\ty2\tweight\tcolor\tprompt")
	for _, r := range t.Rows() {
		fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\n", r.Index, r.X1, r.X2, r.Y1, r.Y2, r.Weight, r.Color, r.Prompt)
	}
	return tw.Flush()
}

// Edit changes one cell. Numeric fields are parsed as floats; the change is
// applied through the editor and becomes visible once the notification arrives.
func (t *Table) Edit(row int, field, value string) error {
	t.mu.Lock()
	if row < 0 || row >= len(t.rows) {
		n := len(t.rows)
		t.mu.Unlock()
		return fmt.Errorf("table: row %d out of range (0..%d)", row, n-1)
	}
	id := t.rows[row].ID
	t.mu.Unlock()

	var p region.Patch
	field = strings.ToLower(strings.TrimSpace(field))
	if field == "prompt" {
		p.Prompt = region.S(value)
	} else {
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("table: %s: %w", field, err)
		}
		switch field {
		case "x1":
			p.X1 = &v
		case "x2":
			p.X2 = &v
		case "y1":
			p.Y1 = &v
		case "y2":
			p.Y2 = &v
		case "weight":
			p.Weight = &v
		default:
			return fmt.Errorf("table: unknown column %q", field)
		}
	}
	_, err := t.ed.Update(id, p)
	return err
}
