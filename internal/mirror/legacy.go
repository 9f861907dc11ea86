/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package mirror

import (
	"fmt"
	"log/slog"
	"sync"

	applog "gocouple/internal/log"
	"gocouple/internal/region"
)

// Replacer is the part of state.Manager the legacy field writes through.
type Replacer interface {
	List() []region.Region
	ReplaceAll(rs []region.Region) error
}

// Legacy keeps the list in the backend mapping format, the string older
// consumers read directly.
type Legacy struct {
	mu    sync.Mutex
	rep   Replacer
	json  string
	count int
	log   *slog.Logger
}

func NewLegacy(rep Replacer) *Legacy {
	return &Legacy{rep: rep, json: "[]", log: applog.WithComponent("mirror")}
}

// SetLogger replaces the component logger.
func (l *Legacy) SetLogger(lg *slog.Logger) {
	l.mu.Lock()
	l.log = lg
	l.mu.Unlock()
}

// OnRegionsChanged keeps the previous text when the list cannot be encoded.
func (l *Legacy) OnRegionsChanged(rs []region.Region, _ region.ChangeKind) {
	data, err := region.MarshalWire(region.ToWire(rs))
	if err != nil {
		l.mu.Lock()
		lg := l.log
		l.mu.Unlock()
		lg.Warn("legacy mapping marshal failed", slog.Int("regions", len(rs)), slog.Any("err", err))
		return
	}
	l.mu.Lock()
	l.json = string(data)
	l.count = len(rs)
	l.mu.Unlock()
}

// JSON returns the current mapping text.
func (l *Legacy) JSON() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.json
}

// Count returns the number of tuples in the mapping.
func (l *Legacy) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Set replaces the whole list from mapping text, as when a mapping is pasted
// into the field. Prompts are kept by position; surplus tuples get none.
func (l *Legacy) Set(text string) error {
	ts, err := region.ParseWireJSON([]byte(text))
	if err != nil {
		return fmt.Errorf("legacy mapping: %w", err)
	}
	next := region.FromWire(ts)
	cur := l.rep.List()
	for i := range next {
		if i < len(cur) {
			next[i].Prompt = cur[i].Prompt
		}
	}
	return l.rep.ReplaceAll(next)
}
