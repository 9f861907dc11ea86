/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package infotext reads and writes the mapping line carried in generation
// parameter text, so a pasted parameter block restores the regions.
package infotext

import (
	"fmt"
	"strings"

	"gocouple/internal/region"
)

// Key prefixes the mapping line.
const Key = "forge_couple_mapping"

// Extract finds the first line starting with "Key:" and decodes the JSON after
// the colon. found is false when no such line exists; err is set when the line
// exists but does not hold a valid mapping.
func Extract(params string) (ts []region.WireTuple, found bool, err error) {
	for _, line := range strings.Split(params, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, Key+":") {
			continue
		}
		_, payload, _ := strings.Cut(line, ":")
		ts, err = region.ParseWireJSON([]byte(strings.TrimSpace(payload)))
		if err != nil {
			return nil, true, fmt.Errorf("infotext: %w", err)
		}
		return ts, true, nil
	}
	return nil, false, nil
}

// Format renders the mapping line.
func Format(ts []region.WireTuple) string {
	data, err := region.MarshalWire(ts)
	if err != nil {
		data = []byte("[]")
	}
	return Key + ": " + string(data)
}

// Upsert replaces the mapping line in params, or appends one.
func Upsert(params string, ts []region.WireTuple) string {
	line := Format(ts)
	lines := strings.Split(params, "\n")
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), Key+":") {
			lines[i] = line
			return strings.Join(lines, "\n")
		}
	}
	if strings.TrimSpace(params) == "" {
		return line
	}
	return strings.TrimRight(params, "\n") + "\n" + line
}

// ParseField decodes the raw mapping field text. Blank text yields ok=false so
// the caller keeps its current state; undecodable text falls back to
// region.DefaultMapping.
func ParseField(text string) (ts []region.WireTuple, ok bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	ts, err := region.ParseWireJSON([]byte(text))
	if err != nil {
		return append([]region.WireTuple(nil), region.DefaultMapping...), true
	}
	return ts, true
}
