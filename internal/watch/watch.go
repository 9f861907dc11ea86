/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package watch re-reads a mapping file whenever it changes on disk.
package watch

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	applog "gocouple/internal/log"
)

// DefaultQuiet is how long the file must stay untouched before it is re-read.
const DefaultQuiet = 100 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithQuiet overrides the settle period.
func WithQuiet(d time.Duration) Option { return func(w *Watcher) { w.quiet = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Watcher) { w.log = l } }

// Watcher delivers the contents of one file each time it settles after a change.
// Identical consecutive contents are delivered once.
type Watcher struct {
	path     string
	onChange func([]byte)
	quiet    time.Duration
	log      *slog.Logger

	fw      *fsnotify.Watcher
	closeCh chan struct{}
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	last  []byte
}

// New watches path. The parent directory is watched so editors that replace
// the file by rename keep being followed.
func New(path string, onChange func([]byte), opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		path:     abs,
		onChange: onChange,
		quiet:    DefaultQuiet,
		log:      applog.WithComponent("watch"),
		fw:       fw,
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	go w.run()
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

// Close stops watching. Pending deliveries are dropped.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.fw.Close()
		<-w.done
		w.mu.Lock()
		w.gen++
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.schedule()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", slog.Any("err", err))
		case <-w.closeCh:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	gen := w.gen
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.quiet, func() { w.fire(gen) })
}

func (w *Watcher) fire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		// removed between event and read; the next create will trigger again
		w.log.Debug("read after change failed", slog.String("path", w.path), slog.Any("err", err))
		return
	}

	w.mu.Lock()
	if gen != w.gen || (w.last != nil && bytes.Equal(w.last, data)) {
		w.mu.Unlock()
		return
	}
	w.last = data
	w.mu.Unlock()

	w.log.Info("file changed", slog.String("path", w.path), slog.Int("bytes", len(data)))
	if w.onChange != nil {
		w.onChange(data)
	}
}
