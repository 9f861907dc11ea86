/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package region

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"
)

// Entry is one element of the export/import format. Field order follows the
// backend convention: x pair before y pair.
type Entry struct {
	X1     float64 `json:"x1"`
	X2     float64 `json:"x2"`
	Y1     float64 `json:"y1"`
	Y2     float64 `json:"y2"`
	Weight float64 `json:"weight"`
	Prompt string  `json:"prompt,omitempty"`
}

// WireTuple is the backend mapping element: [x1, x2, y1, y2, weight].
type WireTuple [5]float64

// DefaultMapping is the two-column split offered when no usable mapping is available.
var DefaultMapping = []WireTuple{{0, 0.5, 0, 1, 1}, {0.5, 1, 0, 1, 1}}

// Export converts regions into export entries, preserving order.
func Export(rs []Region) []Entry {
	out := make([]Entry, len(rs))
	for i, r := range rs {
		out[i] = Entry{X1: r.X1, X2: r.X2, Y1: r.Y1, Y2: r.Y2, Weight: r.Weight, Prompt: r.Prompt}
	}
	return out
}

// ExportJSON renders regions in the human-readable export format.
func ExportJSON(rs []Region) ([]byte, error) {
	data, err := json.MarshalIndent(Export(rs), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return append(data, '\n'), nil
}

const entrySchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["x1", "x2", "y1", "y2"],
    "properties": {
      "x1": {"type": "number", "minimum": 0, "maximum": 1},
      "x2": {"type": "number", "minimum": 0, "maximum": 1},
      "y1": {"type": "number", "minimum": 0, "maximum": 1},
      "y2": {"type": "number", "minimum": 0, "maximum": 1},
      "weight": {"type": "number", "minimum": 0},
      "prompt": {"type": "string"}
    }
  }
}`

const wireSchema = `{
  "type": "array",
  "items": {
    "type": "array",
    "minItems": 5,
    "maxItems": 5,
    "items": {"type": "number"}
  }
}`

var (
	entrySchemaLoader = gojsonschema.NewStringLoader(entrySchema)
	wireSchemaLoader  = gojsonschema.NewStringLoader(wireSchema)
)

// ParseImportJSON decodes an export document into id-less regions ready for
// Store.ReplaceAll. Shape problems are reported as *ValidationError; ordering
// rules (x1 < x2, y1 < y2) are left to ReplaceAll.
func ParseImportJSON(data []byte) ([]Region, error) {
	if err := checkSchema(entrySchemaLoader, data); err != nil {
		return nil, err
	}
	var entries []struct {
		Entry
		Weight *float64 `json:"weight"`
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, invalid(-1, "document", err.Error())
	}
	out := make([]Region, len(entries))
	for i, e := range entries {
		w := DefaultWeight
		if e.Weight != nil {
			w = *e.Weight
		}
		out[i] = Region{X1: e.X1, Y1: e.Y1, X2: e.X2, Y2: e.Y2, Weight: w, Prompt: e.Prompt}
	}
	return out, nil
}

// ToWire converts regions into backend mapping tuples.
func ToWire(rs []Region) []WireTuple {
	out := make([]WireTuple, len(rs))
	for i, r := range rs {
		out[i] = WireTuple{r.X1, r.X2, r.Y1, r.Y2, r.Weight}
	}
	return out
}

// FromWire converts backend tuples into id-less regions.
func FromWire(ts []WireTuple) []Region {
	out := make([]Region, len(ts))
	for i, t := range ts {
		out[i] = Region{X1: t[0], X2: t[1], Y1: t[2], Y2: t[3], Weight: t[4]}
	}
	return out
}

// Prompts extracts the prompt column in list order.
func Prompts(rs []Region) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Prompt
	}
	return out
}

// MarshalWire renders tuples as the compact JSON array the backend expects.
func MarshalWire(ts []WireTuple) ([]byte, error) {
	if ts == nil {
		ts = []WireTuple{}
	}
	return json.Marshal(ts)
}

// ParseWireJSON decodes a backend mapping. Every element must be exactly five numbers.
func ParseWireJSON(data []byte) ([]WireTuple, error) {
	if err := checkSchema(wireSchemaLoader, data); err != nil {
		return nil, err
	}
	var ts []WireTuple
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, invalid(-1, "document", err.Error())
	}
	return ts, nil
}

func checkSchema(schema gojsonschema.JSONLoader, data []byte) error {
	res, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return invalid(-1, "document", err.Error())
	}
	if res.Valid() {
		return nil
	}
	first := res.Errors()[0]
	idx, field := splitField(first.Field())
	return invalid(idx, field, first.Description())
}

// splitField turns a schema path like "2.x1" into (2, "x1").
func splitField(path string) (int, string) {
	path = strings.TrimPrefix(path, "(root)")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return -1, "document"
	}
	head, rest, _ := strings.Cut(path, ".")
	if n, err := strconv.Atoi(head); err == nil {
		if rest == "" {
			rest = "entry"
		}
		return n, rest
	}
	return -1, path
}
