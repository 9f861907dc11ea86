/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package session assembles one editing session: the manager, its mirrors,
// the canvas with its background, and the backend bridge.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"gocouple/internal/background"
	"gocouple/internal/bridge"
	"gocouple/internal/canvas"
	"gocouple/internal/config"
	"gocouple/internal/infotext"
	applog "gocouple/internal/log"
	"gocouple/internal/mirror"
	"gocouple/internal/region"
	"gocouple/internal/state"
)

// Session wires the components around one Manager.
type Session struct {
	Manager    *state.Manager
	Background *background.Layer
	Editor     *canvas.Editor
	Table      *mirror.Table
	Legacy     *mirror.Legacy
	// Bridge is nil when the session was built without a transport.
	Bridge *bridge.Bridge

	log *slog.Logger
}

// New builds a session from cfg. A nil transport leaves the session offline.
func New(cfg config.AppConfig, tr bridge.Transport) *Session {
	l := applog.WithComponent("session")
	m := state.New(state.WithLogger(applog.WithComponent("state")))
	bg := background.New(background.WithPixelBudget(cfg.Background.PixelBudget))
	ed := canvas.New(m, bg, canvas.Options{
		Width:           cfg.Canvas.Width,
		Height:          cfg.Canvas.Height,
		MinSize:         cfg.Canvas.MinSize,
		CreateThreshold: cfg.Canvas.CreateThreshold,
		Grid:            cfg.Canvas.Grid,
	})
	s := &Session{
		Manager:    m,
		Background: bg,
		Editor:     ed,
		Table:      mirror.NewTable(m),
		Legacy:     mirror.NewLegacy(m),
		log:        l,
	}
	m.RegisterMirror(s.Editor)
	m.RegisterMirror(s.Table)
	m.RegisterMirror(s.Legacy)
	if tr != nil {
		s.Bridge = bridge.New(m, tr, bridge.Options{
			Debounce:    cfg.Sync.Debounce(),
			MaxAttempts: cfg.Sync.MaxAttempts,
			BaseBackoff: cfg.Sync.Backoff(),
			DedupWindow: cfg.Sync.DedupWindow(),
		})
		m.SetScheduler(s.Bridge)
	}
	return s
}

// Import replaces the list with an exported JSON document.
func (s *Session) Import(data []byte) error {
	rs, err := region.ParseImportJSON(data)
	if err != nil {
		return err
	}
	if err := s.Manager.ReplaceAll(rs); err != nil {
		return err
	}
	s.log.Info("imported regions", slog.Int("count", len(rs)))
	return nil
}

// Export returns the list as an export JSON document.
func (s *Session) Export() ([]byte, error) {
	return region.ExportJSON(s.Manager.List())
}

// ApplyInfotext looks for a mapping line in pasted generation parameters and,
// when one is present, loads it through the legacy mirror.
func (s *Session) ApplyInfotext(params string) (bool, error) {
	ts, found, err := infotext.Extract(params)
	if err != nil || !found {
		return found, err
	}
	data, err := region.MarshalWire(ts)
	if err != nil {
		return true, err
	}
	if err := s.Legacy.Set(string(data)); err != nil {
		return true, err
	}
	return true, nil
}

// FetchFunc reads the state the backend currently holds.
type FetchFunc func(ctx context.Context) (bridge.Payload, error)

// Pull absorbs backend state without echoing it back, then refreshes the views directly.
func (s *Session) Pull(ctx context.Context, fetch FetchFunc) error {
	p, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch backend state: %w", err)
	}
	if len(p.Prompts) != 0 && len(p.Prompts) != len(p.Mapping) {
		return fmt.Errorf("backend state has %d prompts for %d regions", len(p.Prompts), len(p.Mapping))
	}
	rs := region.FromWire(p.Mapping)
	for i := range p.Prompts {
		rs[i].Prompt = p.Prompts[i]
	}
	if err := s.Manager.AbsorbBackendState(rs); err != nil {
		return err
	}
	s.refreshViews()
	s.log.Info("absorbed backend state", slog.Int("count", len(rs)), slog.Uint64("revision", s.Manager.Revision()))
	return nil
}

func (s *Session) refreshViews() {
	rs := s.Manager.List()
	s.Editor.OnRegionsChanged(rs, region.ChangeReplaceAll)
	s.Table.OnRegionsChanged(region.Clone(rs), region.ChangeReplaceAll)
	s.Legacy.OnRegionsChanged(region.Clone(rs), region.ChangeReplaceAll)
}

// GenerationStarting forwards a generation trigger to the bridge.
// Offline sessions report false.
func (s *Session) GenerationStarting(ctx context.Context, eventID string) (bool, error) {
	if s.Bridge == nil {
		return false, nil
	}
	return s.Bridge.GenerationStarting(ctx, eventID)
}

// Close stops the bridge timers.
func (s *Session) Close() {
	if s.Bridge != nil {
		s.Bridge.Close()
	}
}
