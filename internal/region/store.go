/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package region

import (
	"math"

	"gocouple/internal/geom"
)

// Store holds the ordered region list. It is not safe for concurrent use;
// state.Manager serializes access to it.
type Store struct {
	regions []Region
	newID   IDGenerator
	// created counts regions created since the last clear; it drives ColorIndex.
	created int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDGenerator replaces the default UUIDv7 generator.
func WithIDGenerator(g IDGenerator) StoreOption { return func(s *Store) { s.newID = g } }

func NewStore(opts ...StoreOption) *Store {
	s := &Store{newID: UUIDv7()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create fills defaults, assigns an id and a color index, and appends the region.
// Coordinates are clamped into the unit square and inverted pairs swapped.
func (s *Store) Create(p Partial) (Region, error) {
	rc := geom.R(0, 0, 1, 1)
	if p.Rect != nil {
		rc = *p.Rect
	}
	rc, err := normalizeRect(rc)
	if err != nil {
		return Region{}, err
	}
	w := DefaultWeight
	if p.Weight != nil {
		w = *p.Weight
	}
	if err := checkWeight(-1, w); err != nil {
		return Region{}, err
	}
	r := Region{
		ID:         s.newID(),
		Weight:     w,
		Prompt:     p.Prompt,
		ColorIndex: s.created % len(Palette),
	}.WithRect(rc)
	s.created++
	s.regions = append(s.regions, r)
	return r, nil
}

// Update applies patch to the region with the given id. The result is clamped
// and inverted pairs are swapped; a result with no area is rejected and the
// stored region is left as it was.
func (s *Store) Update(id string, patch Patch) (Region, error) {
	i := s.index(id)
	if i < 0 {
		return Region{}, &NotFoundError{ID: id}
	}
	r := s.regions[i]
	rc := r.Rect()
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&rc.X1, patch.X1)
	set(&rc.Y1, patch.Y1)
	set(&rc.X2, patch.X2)
	set(&rc.Y2, patch.Y2)
	rc, err := normalizeRect(rc)
	if err != nil {
		return Region{}, err
	}
	if patch.Weight != nil {
		if err := checkWeight(-1, *patch.Weight); err != nil {
			return Region{}, err
		}
		r.Weight = *patch.Weight
	}
	if patch.Prompt != nil {
		r.Prompt = *patch.Prompt
	}
	r = r.WithRect(rc)
	s.regions[i] = r
	return r, nil
}

// Remove deletes the region with the given id and reports whether it existed.
func (s *Store) Remove(id string) bool {
	i := s.index(id)
	if i < 0 {
		return false
	}
	s.regions = append(s.regions[:i], s.regions[i+1:]...)
	return true
}

// RemoveAll empties the list and restarts the color cycle.
func (s *Store) RemoveAll() {
	s.regions = nil
	s.created = 0
}

// List returns a copy of the ordered list.
func (s *Store) List() []Region { return Clone(s.regions) }

// Len returns the number of regions.
func (s *Store) Len() int { return len(s.regions) }

// Get returns the region with the given id.
func (s *Store) Get(id string) (Region, bool) {
	i := s.index(id)
	if i < 0 {
		return Region{}, false
	}
	return s.regions[i], true
}

// ReplaceAll swaps in a whole batch. Every region is validated strictly, with
// no clamping or swapping, and a single bad region rejects the batch. Missing
// ids are generated and color indices follow batch order.
func (s *Store) ReplaceAll(batch []Region) error {
	seen := make(map[string]struct{}, len(batch))
	for i, r := range batch {
		if err := ValidateStrict(i, r); err != nil {
			return err
		}
		if r.ID == "" {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			return invalid(i, "id", "duplicate id "+r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	next := make([]Region, len(batch))
	for i, r := range batch {
		if r.ID == "" {
			r.ID = s.freshID(seen)
		}
		r.ColorIndex = i % len(Palette)
		next[i] = r
	}
	s.regions = next
	s.created = len(next)
	return nil
}

func (s *Store) freshID(seen map[string]struct{}) string {
	for {
		id := s.newID()
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			return id
		}
	}
}

func (s *Store) index(id string) int {
	for i := range s.regions {
		if s.regions[i].ID == id {
			return i
		}
	}
	return -1
}

// ValidateStrict checks a region the way an import does: every coordinate
// finite and inside [0,1], both pairs strictly ordered, weight finite and non-negative.
func ValidateStrict(idx int, r Region) error {
	coords := []struct {
		name string
		v    float64
	}{{"x1", r.X1}, {"y1", r.Y1}, {"x2", r.X2}, {"y2", r.Y2}}
	for _, c := range coords {
		if math.IsNaN(c.v) || math.IsInf(c.v, 0) {
			return invalid(idx, c.name, "not a finite number")
		}
		if c.v < 0 || c.v > 1 {
			return invalid(idx, c.name, "outside [0,1]")
		}
	}
	if r.X1 >= r.X2 {
		return invalid(idx, "x1", "must be less than x2")
	}
	if r.Y1 >= r.Y2 {
		return invalid(idx, "y1", "must be less than y2")
	}
	return checkWeight(idx, r.Weight)
}

func normalizeRect(rc geom.Rect) (geom.Rect, error) {
	for _, v := range []float64{rc.X1, rc.Y1, rc.X2, rc.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return geom.Rect{}, invalid(-1, "rect", "not a finite number")
		}
	}
	rc = rc.Canon().Clamp01()
	if rc.Degenerate() {
		return geom.Rect{}, invalid(-1, "rect", "no area inside the image")
	}
	return rc, nil
}

func checkWeight(idx int, w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return invalid(idx, "weight", "not a finite number")
	}
	if w < 0 {
		return invalid(idx, "weight", "must not be negative")
	}
	return nil
}
