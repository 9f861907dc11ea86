/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	applog "gocouple/internal/log"
)

func collect(t *testing.T, path string) (*Watcher, chan []byte) {
	t.Helper()
	ch := make(chan []byte, 16)
	w, err := New(path, func(b []byte) { ch <- b }, WithQuiet(30*time.Millisecond), WithLogger(applog.Discard()))
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, ch
}

func waitFor(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change")
		return nil
	}
}

func expectNone(t *testing.T, ch chan []byte, d time.Duration) {
	t.Helper()
	select {
	case b := <-ch:
		t.Fatalf("unexpected delivery: %q", b)
	case <-time.After(d):
	}
}

func TestWatcherDeliversContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatal(err)
	}
	w, ch := collect(t, path)
	if w.Path() != path {
		t.Fatalf("path = %s, want %s", w.Path(), path)
	}

	if err := os.WriteFile(path, []byte(`[{"x1":0,"x2":1,"y1":0,"y2":1}]`), 0o644); err != nil {
		t.Fatal(err)
	}
	got := waitFor(t, ch)
	if string(got) != `[{"x1":0,"x2":1,"y1":0,"y2":1}]` {
		t.Fatalf("got %q", got)
	}
}

func TestWatcherIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")
	_, ch := collect(t, path)

	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectNone(t, ch, 200*time.Millisecond)
}

func TestWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")
	_, ch := collect(t, path)

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte{'a' + byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got := waitFor(t, ch)
	if string(got) != "e" {
		t.Fatalf("got %q, want final contents", got)
	}
	expectNone(t, ch, 200*time.Millisecond)
}

func TestWatcherSkipsIdenticalContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.json")
	_, ch := collect(t, path)

	if err := os.WriteFile(path, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ch)
	if err := os.WriteFile(path, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectNone(t, ch, 200*time.Millisecond)
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	w, ch := collect(t, filepath.Join(t.TempDir(), "m.json"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = w.Close()
	expectNone(t, ch, 50*time.Millisecond)
}

func TestNewFailsForMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope", "m.json"), nil)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
