/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package state owns the canonical region list. Every mutation goes through
// Manager.Apply, which fans the new list out to registered mirrors and asks
// the sync scheduler for a backend push.
package state

import (
	"fmt"
	"log/slog"
	"sync"

	applog "gocouple/internal/log"
	"gocouple/internal/region"
)

// Mirror is a view that keeps a copy of the region list.
type Mirror interface {
	OnRegionsChanged(regions []region.Region, kind region.ChangeKind)
}

// MirrorFunc adapts a function to the Mirror interface.
type MirrorFunc func(regions []region.Region, kind region.ChangeKind)

func (f MirrorFunc) OnRegionsChanged(regions []region.Region, kind region.ChangeKind) {
	f(regions, kind)
}

// SyncScheduler receives a request for a (debounced) backend push after each user mutation.
type SyncScheduler interface {
	ScheduleSync()
}

// Mutation describes one change. Only the fields relevant to Kind are read:
// Partial for create, ID and Patch for update, ID for delete, Regions for replaceAll.
type Mutation struct {
	Kind    region.ChangeKind
	ID      string
	Partial region.Partial
	Patch   region.Patch
	Regions []region.Region
}

// Result reports the outcome of a successful mutation.
type Result struct {
	// Region is the created or updated region; zero for other kinds.
	Region   region.Region
	Revision uint64
}

// Manager is safe for concurrent use. Mirrors are called after the lock is
// released, on the mutating goroutine, before Apply returns.
type Manager struct {
	mu        sync.Mutex
	store     *region.Store
	revision  uint64
	userRev   uint64 // last revision not produced inside an absorption scope
	mirrors   []Mirror
	scheduler SyncScheduler
	// suppress counts active echo-absorption scopes.
	suppress int
	log      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore replaces the default store, e.g. one with a deterministic id generator.
func WithStore(s *region.Store) Option { return func(m *Manager) { m.store = s } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

func New(opts ...Option) *Manager {
	m := &Manager{}
	for _, o := range opts {
		o(m)
	}
	if m.store == nil {
		m.store = region.NewStore()
	}
	if m.log == nil {
		m.log = applog.WithComponent("state")
	}
	return m
}

// Apply performs a mutation. On success every mirror sees the new list in
// registration order and the scheduler is asked for a sync, unless the
// mutation runs inside an echo-absorption scope. On failure nothing changes
// and nobody is notified.
func (m *Manager) Apply(mu Mutation) (Result, error) {
	m.mu.Lock()
	res, err := m.applyLocked(mu)
	if err != nil {
		m.mu.Unlock()
		m.log.Debug("mutation rejected", slog.String("kind", mu.Kind.String()), slog.Any("err", err))
		return Result{}, err
	}
	m.revision++
	res.Revision = m.revision
	if m.suppress > 0 {
		m.mu.Unlock()
		m.log.Debug("mutation absorbed", slog.String("kind", mu.Kind.String()), slog.Uint64("rev", res.Revision))
		return res, nil
	}
	m.userRev = m.revision
	snapshot := m.store.List()
	mirrors := append([]Mirror(nil), m.mirrors...)
	sched := m.scheduler
	m.mu.Unlock()

	m.log.Debug("mutation applied", slog.String("kind", mu.Kind.String()), slog.Uint64("rev", res.Revision), slog.Int("regions", len(snapshot)))
	for _, mr := range mirrors {
		mr.OnRegionsChanged(region.Clone(snapshot), mu.Kind)
	}
	if sched != nil {
		sched.ScheduleSync()
	}
	return res, nil
}

func (m *Manager) applyLocked(mu Mutation) (Result, error) {
	switch mu.Kind {
	case region.ChangeCreate:
		r, err := m.store.Create(mu.Partial)
		return Result{Region: r}, err
	case region.ChangeUpdate:
		r, err := m.store.Update(mu.ID, mu.Patch)
		return Result{Region: r}, err
	case region.ChangeDelete:
		if !m.store.Remove(mu.ID) {
			return Result{}, &region.NotFoundError{ID: mu.ID}
		}
		return Result{}, nil
	case region.ChangeClearAll:
		m.store.RemoveAll()
		return Result{}, nil
	case region.ChangeReplaceAll:
		return Result{}, m.store.ReplaceAll(mu.Regions)
	default:
		return Result{}, fmt.Errorf("state: unknown mutation kind %d", int(mu.Kind))
	}
}

// Create adds a region.
func (m *Manager) Create(p region.Partial) (region.Region, error) {
	res, err := m.Apply(Mutation{Kind: region.ChangeCreate, Partial: p})
	return res.Region, err
}

// Update patches a region.
func (m *Manager) Update(id string, p region.Patch) (region.Region, error) {
	res, err := m.Apply(Mutation{Kind: region.ChangeUpdate, ID: id, Patch: p})
	return res.Region, err
}

// Delete removes a region; an unknown id yields *region.NotFoundError.
func (m *Manager) Delete(id string) error {
	_, err := m.Apply(Mutation{Kind: region.ChangeDelete, ID: id})
	return err
}

// ClearAll removes every region.
func (m *Manager) ClearAll() error {
	_, err := m.Apply(Mutation{Kind: region.ChangeClearAll})
	return err
}

// ReplaceAll swaps in a validated batch; one bad region rejects all of it.
func (m *Manager) ReplaceAll(rs []region.Region) error {
	_, err := m.Apply(Mutation{Kind: region.ChangeReplaceAll, Regions: rs})
	return err
}

// List returns a copy of the canonical list.
func (m *Manager) List() []region.Region {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.List()
}

// Get returns a copy of one region.
func (m *Manager) Get(id string) (region.Region, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get(id)
}

// Revision increments once per successful mutation.
func (m *Manager) Revision() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

// ChangedSince reports whether a mutation outside an echo-absorption scope
// happened after rev. Absorbed mutations advance Revision but not this.
func (m *Manager) ChangedSince(rev uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userRev > rev
}

// Snapshot returns the list together with the revision it belongs to.
func (m *Manager) Snapshot() ([]region.Region, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.List(), m.revision
}

// RegisterMirror adds a mirror; it does not receive the current list until the next change.
func (m *Manager) RegisterMirror(mr Mirror) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrors = append(m.mirrors, mr)
}

// UnregisterMirror removes the first registration of mr. Func mirrors cannot
// be compared and must be kept in a comparable wrapper to be removable.
func (m *Manager) UnregisterMirror(mr Mirror) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.mirrors {
		if sameMirror(e, mr) {
			m.mirrors = append(m.mirrors[:i], m.mirrors[i+1:]...)
			return true
		}
	}
	return false
}

func sameMirror(a, b Mirror) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// SetScheduler installs the sync scheduler; nil disables scheduling.
func (m *Manager) SetScheduler(s SyncScheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduler = s
}

// Absorbing runs fn with echo suppression on: mutations issued inside fn
// change the list but neither notify mirrors nor schedule a sync.
func (m *Manager) Absorbing(fn func() error) error {
	m.mu.Lock()
	m.suppress++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.suppress--
		m.mu.Unlock()
	}()
	return fn()
}

// AbsorbBackendState replaces the list with state the backend already holds.
func (m *Manager) AbsorbBackendState(rs []region.Region) error {
	return m.Absorbing(func() error { return m.ReplaceAll(rs) })
}
