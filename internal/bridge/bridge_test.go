/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	applog "gocouple/internal/log"
	"gocouple/internal/region"
	"gocouple/internal/state"
)

type fakeTransport struct {
	mu       sync.Mutex
	calls    int
	payloads []Payload
	failN    int // fail this many calls before succeeding; -1 fails forever
	gate     chan struct{}
}

func (f *fakeTransport) Push(ctx context.Context, p Payload) error {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	fail := f.failN != 0
	if f.failN > 0 {
		f.failN--
	}
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail {
		return errors.New("connection refused")
	}
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) snapshot() (int, []Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]Payload(nil), f.payloads...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func setup(t *testing.T, tr Transport, opts Options) (*state.Manager, *Bridge) {
	t.Helper()
	m := state.New(state.WithLogger(applog.Discard()))
	if opts.Logger == nil {
		opts.Logger = applog.Discard()
	}
	b := New(m, tr, opts)
	m.SetScheduler(b)
	t.Cleanup(b.Close)
	return m, b
}

func TestDebounceCoalescesBurst(t *testing.T) {
	tr := &fakeTransport{}
	m, b := setup(t, tr, Options{Debounce: 40 * time.Millisecond})
	for i := 0; i < 5; i++ {
		if _, err := m.Create(region.Partial{Prompt: "p"}); err != nil {
			t.Fatal(err)
		}
	}
	if !b.Status().Pending {
		t.Fatalf("expected a pending sync")
	}
	waitFor(t, "debounced push", func() bool { n, _ := tr.snapshot(); return n == 1 })
	time.Sleep(120 * time.Millisecond)
	n, ps := tr.snapshot()
	if n != 1 {
		t.Fatalf("expected exactly one push, got %d", n)
	}
	if len(ps[0].Mapping) != 5 || len(ps[0].Prompts) != 5 || ps[0].Revision != m.Revision() {
		t.Fatalf("push did not carry the final state: %+v", ps[0])
	}
	st := b.Status()
	if st.Pending || st.Pushes != 1 || st.LastRevision != m.Revision() || len(st.LastPushed) != 5 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestForceSyncCancelsPending(t *testing.T) {
	tr := &fakeTransport{}
	m, b := setup(t, tr, Options{Debounce: 50 * time.Millisecond})
	_, _ = m.Create(region.Partial{})
	if err := b.ForceSyncNow(context.Background()); err != nil {
		t.Fatalf("force: %v", err)
	}
	if b.Status().Pending {
		t.Fatalf("pending sync not cancelled")
	}
	time.Sleep(150 * time.Millisecond)
	if n, _ := tr.snapshot(); n != 1 {
		t.Fatalf("expected exactly one push, got %d", n)
	}
}

func TestClearAllPushesEmptyMapping(t *testing.T) {
	tr := &fakeTransport{}
	m, b := setup(t, tr, Options{Debounce: 20 * time.Millisecond})
	_ = m.AbsorbBackendState(region.FromWire(region.DefaultMapping))
	if err := m.ClearAll(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "push", func() bool { n, _ := tr.snapshot(); return n == 1 })
	_, ps := tr.snapshot()
	if len(ps[0].Mapping) != 0 || ps[0].Mapping == nil {
		t.Fatalf("expected empty non-nil mapping, got %#v", ps[0].Mapping)
	}
	if st := b.Status(); st.LastPushed == nil || len(st.LastPushed) != 0 {
		t.Fatalf("status should record the empty mapping: %#v", st.LastPushed)
	}
}

func TestRetryThenSucceed(t *testing.T) {
	tr := &fakeTransport{failN: 2}
	m, b := setup(t, tr, Options{MaxAttempts: 4, BaseBackoff: time.Millisecond})
	m.SetScheduler(nil)
	_, _ = m.Create(region.Partial{})
	if err := b.PushNow(context.Background()); err != nil {
		t.Fatalf("push: %v", err)
	}
	n, ps := tr.snapshot()
	if n != 3 || len(ps) != 1 {
		t.Fatalf("expected 3 calls and one delivered payload, got %d/%d", n, len(ps))
	}
	if st := b.Status(); st.Pushes != 1 || st.Failures != 0 || st.LastError != nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRetryExhaustionKeepsLastSuccess(t *testing.T) {
	tr := &fakeTransport{}
	m, b := setup(t, tr, Options{MaxAttempts: 3, BaseBackoff: time.Millisecond})
	m.SetScheduler(nil)
	_, _ = m.Create(region.Partial{})
	if err := b.PushNow(context.Background()); err != nil {
		t.Fatal(err)
	}
	good := b.Status()

	tr.mu.Lock()
	tr.failN = -1
	tr.mu.Unlock()
	_, _ = m.Create(region.Partial{})
	err := b.PushNow(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, ErrTransport) || te.Attempts != 3 {
		t.Fatalf("expected TransportError after 3 attempts, got %v", err)
	}
	st := b.Status()
	if st.Failures != 1 || st.LastError == nil {
		t.Fatalf("failure not recorded: %+v", st)
	}
	if st.LastRevision != good.LastRevision || len(st.LastPushed) != 1 {
		t.Fatalf("last successful push overwritten: %+v", st)
	}
}

func TestBackoffDoubles(t *testing.T) {
	tr := &fakeTransport{failN: -1}
	_, b := setup(t, tr, Options{MaxAttempts: 4, BaseBackoff: 10 * time.Millisecond})
	start := time.Now()
	_ = b.PushNow(context.Background())
	// 10 + 20 + 40 ms between four attempts.
	if el := time.Since(start); el < 70*time.Millisecond {
		t.Fatalf("backoff too short: %v", el)
	}
}

func TestCancelledContextStopsRetry(t *testing.T) {
	tr := &fakeTransport{failN: -1}
	_, b := setup(t, tr, Options{MaxAttempts: 10, BaseBackoff: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := b.PushNow(ctx)
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("retry loop ignored cancellation")
	}
	if n, _ := tr.snapshot(); n != 1 {
		t.Fatalf("expected a single attempt, got %d", n)
	}
}

func TestStalePushReschedules(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{gate: gate}
	m, b := setup(t, tr, Options{Debounce: 10 * time.Millisecond})
	m.SetScheduler(nil)
	_, _ = m.Create(region.Partial{Prompt: "first"})

	done := make(chan error, 1)
	go func() { done <- b.PushNow(context.Background()) }()
	waitFor(t, "push in flight", func() bool { return b.Status().InFlight })

	_, _ = m.Create(region.Partial{Prompt: "second"})
	tr.mu.Lock()
	tr.gate = nil
	tr.mu.Unlock()
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	waitFor(t, "follow-up push", func() bool { _, ps := tr.snapshot(); return len(ps) == 2 })
	_, ps := tr.snapshot()
	if len(ps[0].Mapping) != 1 || len(ps[1].Mapping) != 2 {
		t.Fatalf("unexpected payloads: %+v", ps)
	}
	if b.Status().LastRevision != m.Revision() {
		t.Fatalf("follow-up push did not catch up")
	}
}

func TestAbsorbDuringPushDoesNotReschedule(t *testing.T) {
	gate := make(chan struct{})
	tr := &fakeTransport{gate: gate}
	m, b := setup(t, tr, Options{Debounce: 10 * time.Millisecond})
	m.SetScheduler(nil)
	_, _ = m.Create(region.Partial{Prompt: "local"})

	done := make(chan error, 1)
	go func() { done <- b.PushNow(context.Background()) }()
	waitFor(t, "push in flight", func() bool { return b.Status().InFlight })

	if err := m.AbsorbBackendState(region.FromWire(region.DefaultMapping)); err != nil {
		t.Fatal(err)
	}
	tr.mu.Lock()
	tr.gate = nil
	tr.mu.Unlock()
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if n, _ := tr.snapshot(); n != 1 {
		t.Fatalf("absorbed backend state echoed back: %d pushes", n)
	}
}

func TestGenerationStartingDedup(t *testing.T) {
	tr := &fakeTransport{}
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	_, b := setup(t, tr, Options{DedupWindow: time.Second, EventMemory: 2, Now: clock})
	ctx := context.Background()

	steps := []struct {
		id      string
		advance time.Duration
		want    bool
	}{
		{"gen-1", 0, true},
		{"gen-1", 0, false},
		{"gen-2", 0, true},
		{"", 0, false}, // same generation seen by the observer path
		{"", 500 * time.Millisecond, false},
		{"", 2 * time.Second, true},
		{"gen-3", 0, true},
		{"gen-4", 0, true},
		{"gen-1", 0, true}, // evicted from the two-entry memory
	}
	pushes := 0
	for i, s := range steps {
		now = now.Add(s.advance)
		got, err := b.GenerationStarting(ctx, s.id)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != s.want {
			t.Fatalf("step %d (%q): triggered=%v want %v", i, s.id, got, s.want)
		}
		if got {
			pushes++
		}
	}
	if n, _ := tr.snapshot(); n != pushes {
		t.Fatalf("expected %d pushes, got %d", pushes, n)
	}
}

func TestAnonymousTriggerAfterIdentifiedOne(t *testing.T) {
	tr := &fakeTransport{}
	now := time.Unix(2000, 0)
	_, b := setup(t, tr, Options{DedupWindow: time.Second, Now: func() time.Time { return now }})
	ctx := context.Background()

	if ok, err := b.GenerationStarting(ctx, "evt-7"); err != nil || !ok {
		t.Fatalf("identified trigger: ok=%v err=%v", ok, err)
	}
	if ok, err := b.GenerationStarting(ctx, ""); err != nil || ok {
		t.Fatalf("anonymous trigger for the same generation: ok=%v err=%v", ok, err)
	}
	if n, _ := tr.snapshot(); n != 1 {
		t.Fatalf("expected 1 push, got %d", n)
	}
}

func TestCloseIgnoresSchedules(t *testing.T) {
	tr := &fakeTransport{}
	m, b := setup(t, tr, Options{Debounce: 10 * time.Millisecond})
	_, _ = m.Create(region.Partial{})
	b.Close()
	_, _ = m.Create(region.Partial{})
	if ok, _ := b.GenerationStarting(context.Background(), "x"); ok {
		t.Fatalf("closed bridge should ignore triggers")
	}
	time.Sleep(60 * time.Millisecond)
	if n, _ := tr.snapshot(); n != 0 {
		t.Fatalf("closed bridge pushed %d times", n)
	}
}

func TestTransportFuncAndSnapshotPayload(t *testing.T) {
	var got Payload
	tr := TransportFunc(func(_ context.Context, p Payload) error { got = p; return nil })
	snap := Snapshot{Regions: []region.Region{{X1: 0, Y1: 0.5, X2: 0.5, Y2: 1, Weight: 2, Prompt: "cat"}}, Revision: 7}
	if err := tr.Push(context.Background(), snap.Payload()); err != nil {
		t.Fatal(err)
	}
	if got.Revision != 7 || got.Prompts[0] != "cat" || got.Mapping[0] != (region.WireTuple{0, 0.5, 0.5, 1, 2}) {
		t.Fatalf("unexpected payload %+v", got)
	}
}
