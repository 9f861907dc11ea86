/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package bridge pushes the region list to the generation backend. Bursts of
// edits are coalesced by a debounce timer, a generation trigger forces an
// immediate push, and failed pushes are retried with exponential backoff.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	applog "gocouple/internal/log"
	"gocouple/internal/region"
)

// ErrTransport matches every *TransportError.
var ErrTransport = errors.New("bridge: transport failed")

// TransportError reports a push that failed on every attempt.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bridge: push failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *TransportError) Unwrap() error        { return e.Err }
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Payload is what a push sends: the backend mapping, the prompts in the same
// order, and the revision the list was captured at.
type Payload struct {
	Mapping  []region.WireTuple `json:"mapping"`
	Prompts  []string           `json:"prompts"`
	Revision uint64             `json:"revision,omitempty"`
}

// Snapshot is an immutable copy of the list at a revision.
type Snapshot struct {
	Regions  []region.Region
	Revision uint64
}

// Payload encodes the snapshot in the backend format.
func (s Snapshot) Payload() Payload {
	return Payload{Mapping: region.ToWire(s.Regions), Prompts: region.Prompts(s.Regions), Revision: s.Revision}
}

// Source provides the list to push. *state.Manager satisfies it.
type Source interface {
	List() []region.Region
	Revision() uint64
}

// snapshotter is implemented by sources that can hand out list and revision atomically.
type snapshotter interface {
	Snapshot() ([]region.Region, uint64)
}

// changeTracker is implemented by sources that can tell local edits apart
// from absorbed backend echoes.
type changeTracker interface {
	ChangedSince(rev uint64) bool
}

// Transport delivers a payload to the backend.
type Transport interface {
	Push(ctx context.Context, p Payload) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, p Payload) error

func (f TransportFunc) Push(ctx context.Context, p Payload) error { return f(ctx, p) }

// Options configures a Bridge. Zero values take the defaults.
type Options struct {
	// Debounce is the quiet period after the last ScheduleSync before a push. Default 100ms.
	Debounce time.Duration
	// MaxAttempts bounds tries per push, the first one included. Default 4.
	MaxAttempts int
	// BaseBackoff is the wait after the first failure, doubled after each further one. Default 200ms.
	BaseBackoff time.Duration
	// DedupWindow drops anonymous generation triggers closer together than this. Default 1s.
	DedupWindow time.Duration
	// EventMemory is how many generation event ids are remembered. Default 64.
	EventMemory int
	// PushTimeout bounds timer-driven pushes. Default 30s.
	PushTimeout time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 100 * time.Millisecond
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = time.Second
	}
	if o.EventMemory <= 0 {
		o.EventMemory = 64
	}
	if o.PushTimeout <= 0 {
		o.PushTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = applog.WithComponent("bridge")
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Status is a point-in-time view of the bridge.
type Status struct {
	// Pending is true while a debounced push is waiting for its timer.
	Pending  bool
	InFlight bool
	Pushes   int
	Failures int
	// LastRevision is the source revision of the last successful push.
	LastRevision uint64
	LastError    error
	LastSuccess  time.Time
	LastPushed   []region.WireTuple
}

// Bridge is safe for concurrent use.
type Bridge struct {
	src  Source
	tr   Transport
	opts Options
	log  *slog.Logger

	// push serializes pushes; at most one is in flight.
	push sync.Mutex

	mu       sync.Mutex
	timer    *time.Timer
	timerGen uint64
	closed   bool
	status   Status
	events   []string
	eventPos int
	// lastAccepted is when the last trigger, with or without an id, pushed.
	lastAccepted time.Time
}

// New wires a bridge between src and tr. It does not register itself as the
// source's scheduler; callers do that with state.Manager.SetScheduler.
func New(src Source, tr Transport, opts Options) *Bridge {
	opts = opts.withDefaults()
	return &Bridge{
		src:    src,
		tr:     tr,
		opts:   opts,
		log:    opts.Logger,
		events: make([]string, 0, opts.EventMemory),
	}
}

// ScheduleSync (re)starts the debounce timer. Calls arriving within the window
// collapse into one push of whatever the list holds when the timer fires.
func (b *Bridge) ScheduleSync() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timerGen++
	gen := b.timerGen
	b.status.Pending = true
	b.timer = time.AfterFunc(b.opts.Debounce, func() { b.fire(gen) })
}

func (b *Bridge) fire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.timerGen {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.status.Pending = false
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), b.opts.PushTimeout)
	defer cancel()
	if err := b.PushNow(ctx); err != nil {
		b.log.Debug("debounced push failed", slog.Any("err", err))
	}
}

// cancelPending stops a waiting debounce timer. A timer that already fired
// but has not taken the lock yet sees the bumped generation and does nothing.
func (b *Bridge) cancelPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.status.Pending
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
	b.status.Pending = false
	return was
}

// ForceSyncNow drops any pending debounced push and pushes immediately.
func (b *Bridge) ForceSyncNow(ctx context.Context) error {
	if b.cancelPending() {
		b.log.Debug("pending sync superseded by forced sync")
	}
	return b.PushNow(ctx)
}

// PushNow captures the list and sends it, retrying on failure. When the
// list moved on while the push was in flight another sync is scheduled.
func (b *Bridge) PushNow(ctx context.Context) error {
	b.push.Lock()
	defer b.push.Unlock()

	snap := b.snapshot()
	payload := snap.Payload()
	b.setInFlight(true)
	attempts, err := b.send(ctx, payload)
	b.setInFlight(false)

	b.mu.Lock()
	if err != nil {
		err = &TransportError{Attempts: attempts, Err: err}
		b.status.Failures++
		b.status.LastError = err
	} else {
		b.status.Pushes++
		b.status.LastError = nil
		b.status.LastRevision = snap.Revision
		b.status.LastSuccess = b.opts.Now()
		b.status.LastPushed = payload.Mapping
	}
	b.mu.Unlock()

	if err != nil {
		b.log.Warn("backend sync failed", slog.Int("attempts", attempts), slog.Uint64("rev", snap.Revision), slog.Any("err", err))
	} else {
		b.log.Debug("backend sync done", slog.Int("regions", len(snap.Regions)), slog.Uint64("rev", snap.Revision), slog.Int("attempts", attempts))
	}
	if b.changedSince(snap.Revision) {
		b.ScheduleSync()
	}
	return err
}

func (b *Bridge) changedSince(rev uint64) bool {
	if ct, ok := b.src.(changeTracker); ok {
		return ct.ChangedSince(rev)
	}
	return b.src.Revision() != rev
}

func (b *Bridge) snapshot() Snapshot {
	if s, ok := b.src.(snapshotter); ok {
		rs, rev := s.Snapshot()
		return Snapshot{Regions: rs, Revision: rev}
	}
	rev := b.src.Revision()
	return Snapshot{Regions: b.src.List(), Revision: rev}
}

func (b *Bridge) setInFlight(v bool) {
	b.mu.Lock()
	b.status.InFlight = v
	b.mu.Unlock()
}

// send tries the transport up to MaxAttempts times, waiting
// BaseBackoff * 2^attempt between tries. It gives up early when ctx is done.
func (b *Bridge) send(ctx context.Context, p Payload) (int, error) {
	var lastErr error
	for attempt := 0; attempt < b.opts.MaxAttempts; attempt++ {
		err := b.tr.Push(ctx, p)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return attempt + 1, lastErr
		}
		if attempt+1 < b.opts.MaxAttempts {
			wait := b.opts.BaseBackoff * (1 << uint(attempt))
			b.log.Warn("retrying push",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", b.opts.MaxAttempts),
				slog.Int64("backoff_ms", wait.Milliseconds()),
				slog.Any("err", err))
			select {
			case <-ctx.Done():
				return attempt + 1, lastErr
			case <-time.After(wait):
			}
		}
	}
	return b.opts.MaxAttempts, lastErr
}

// GenerationStarting is the forced-sync trigger fired when a generation run
// begins. Each event id triggers at most one push; triggers without an id
// are dropped when they follow the previous anonymous one within
// DedupWindow. It reports whether a push was made.
func (b *Bridge) GenerationStarting(ctx context.Context, eventID string) (bool, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false, nil
	}
	now := b.opts.Now()
	if eventID != "" {
		if b.seenLocked(eventID) {
			b.mu.Unlock()
			b.log.Debug("duplicate generation trigger", slog.String("event", eventID))
			return false, nil
		}
		b.rememberLocked(eventID)
	} else if !b.lastAccepted.IsZero() && now.Sub(b.lastAccepted) < b.opts.DedupWindow {
		b.mu.Unlock()
		b.log.Debug("generation trigger inside dedup window")
		return false, nil
	}
	b.lastAccepted = now
	b.mu.Unlock()
	return true, b.ForceSyncNow(ctx)
}

func (b *Bridge) seenLocked(id string) bool {
	for _, e := range b.events {
		if e == id {
			return true
		}
	}
	return false
}

func (b *Bridge) rememberLocked(id string) {
	if len(b.events) < b.opts.EventMemory {
		b.events = append(b.events, id)
		return
	}
	b.events[b.eventPos] = id
	b.eventPos = (b.eventPos + 1) % b.opts.EventMemory
}

// Status returns a copy of the current status.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.status
	if s.LastPushed != nil {
		s.LastPushed = append(make([]region.WireTuple, 0, len(s.LastPushed)), s.LastPushed...)
	}
	return s
}

// Close stops the debounce timer. Later ScheduleSync and GenerationStarting
// calls are ignored; a push already in flight finishes.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.timerGen++
	b.status.Pending = false
}
