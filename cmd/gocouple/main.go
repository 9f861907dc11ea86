/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.design/x/clipboard"
	"gopkg.in/yaml.v3"

	"gocouple/internal/backend"
	"gocouple/internal/bridge"
	"gocouple/internal/config"
	"gocouple/internal/crash"
	"gocouple/internal/export"
	"gocouple/internal/infotext"
	applog "gocouple/internal/log"
	"gocouple/internal/mirror"
	"gocouple/internal/region"
	"gocouple/internal/session"
	"gocouple/internal/ui"
	"gocouple/internal/version"
	"gocouple/internal/watch"
)

func usage() {
	fmt.Println("gocouple: region mapping editor and sync")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  gocouple version|-v|--version               Show version")
	fmt.Println("  gocouple config                             Print the effective configuration")
	fmt.Println("  gocouple login <token>                      Store the backend token in the OS keychain")
	fmt.Println("  gocouple serve                              Run the reference backend (GCP_BACKEND_LISTEN, GCP_BACKEND_DSN)")
	fmt.Println("  gocouple validate <regions.json>            Check an exported region list")
	fmt.Println("  gocouple preview <WxH> <mapping> <out>      Render a mapping to .png or .pdf")
	fmt.Println("  gocouple paste [--push]                     Read generation parameters from the clipboard")
	fmt.Println("  gocouple push <regions.json>                Send a region list to the backend now")
	fmt.Println("  gocouple pull [--infotext]                  Print the backend's current list")
	fmt.Println("  gocouple stamp <params.txt> <regions.json>  Write the mapping line into saved generation parameters")
	fmt.Println("  gocouple watch <regions.json>               Push the file every time it changes")
	fmt.Println("  gocouple ui [<regions.json>]                Launch desktop UI (build with -tags fyne for full UI)")
}

func main() {
	applog.Init(applog.FromEnv())
	l := applog.WithComponent("cli")
	defer crash.Recover("", nil)

	args := os.Args
	l.Debug("start", slog.Int("args", len(args)))
	if len(args) < 2 {
		usage()
		return
	}
	if a := args[1]; a == "version" || a == "--version" || a == "-v" {
		fmt.Println("gocouple")
		fmt.Println(version.String())
		return
	}

	cfg, token, err := config.Load()
	if err != nil {
		l.Warn("config load failed, using defaults", slog.Any("err", err))
		cfg = config.Defaults()
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})
	l = applog.WithComponent("cli")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, token, args[1], args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		l.Error(args[1]+" failed", slog.Any("err", err))
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

// overridableKeys are the config keys an environment variable can override.
var overridableKeys = []string{
	"sync.debounce_ms", "sync.max_attempts", "sync.backoff_ms",
	"backend.base_url", "backend.timeout_ms", "backend.dsn", "backend.listen",
	"background.pixel_budget",
	"logging.level", "logging.format", "logging.source", "logging.file",
}

func run(ctx context.Context, cfg config.AppConfig, token, cmd string, args []string) error {
	l := applog.WithComponent("cli")
	switch cmd {
	case "serve":
		store, err := backend.Open(ctx, cfg.Backend.DSN)
		if err != nil {
			return err
		}
		defer store.Close()
		l.Info("backend store ready", slog.String("dialect", store.Dialect()))
		return backend.NewServer(store, token).ListenAndServe(ctx, cfg.Backend.Listen)

	case "validate":
		if len(args) < 1 {
			return errUsage
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		rs, err := parseChecked(data)
		if err != nil {
			return err
		}
		t := mirror.NewTable(nil)
		t.OnRegionsChanged(rs, region.ChangeReplaceAll)
		if err := t.Render(os.Stdout); err != nil {
			return err
		}
		fmt.Printf("%s: %d region(s) OK\n", args[0], len(rs))
		return nil

	case "config":
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		for _, key := range overridableKeys {
			if env, ok := config.EnvOverrideFor(key); ok {
				fmt.Printf("# %s overridden by %s\n", key, env)
			}
		}
		if token != "" {
			fmt.Println("# backend token: set (keychain)")
		}
		return nil

	case "login":
		if len(args) < 1 || strings.TrimSpace(args[0]) == "" {
			return errUsage
		}
		if err := config.Save(cfg, strings.TrimSpace(args[0])); err != nil {
			return err
		}
		fmt.Println("Backend token stored in the OS keychain")
		return nil

	case "preview":
		if len(args) < 3 {
			return errUsage
		}
		w, h, err := parseResolution(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		rs, err := loadMapping(data)
		if err != nil {
			return err
		}
		out := args[2]
		if strings.EqualFold(filepath.Ext(out), ".pdf") {
			err = export.WritePDF(out, rs, w, h)
		} else {
			err = export.WritePNG(out, export.RenderPreview(w, h, region.ToWire(rs)))
		}
		if err != nil {
			return err
		}
		fmt.Println("Wrote", out)
		return nil

	case "paste":
		if err := clipboard.Init(); err != nil {
			return fmt.Errorf("clipboard init: %w", err)
		}
		params := string(clipboard.Read(clipboard.FmtText))
		ts, found, err := infotext.Extract(params)
		if err != nil {
			return err
		}
		if !found && strings.HasPrefix(strings.TrimSpace(params), "[") {
			// a bare mapping field copied on its own
			ts, found = infotext.ParseField(params)
		}
		if !found {
			fmt.Println("No mapping in clipboard")
			return nil
		}
		rs := region.FromWire(ts)
		out, err := region.ExportJSON(rs)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		if len(args) > 0 && args[0] == "--push" {
			return pushOnce(ctx, cfg, token, rs)
		}
		return nil

	case "push":
		if len(args) < 1 {
			return errUsage
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		rs, err := parseChecked(data)
		if err != nil {
			return err
		}
		return pushOnce(ctx, cfg, token, rs)

	case "pull":
		c := backend.NewClient(cfg.Backend.BaseURL, token, cfg.Backend.Timeout())
		rec, err := c.Latest(ctx)
		if err != nil {
			return err
		}
		if len(args) > 0 && args[0] == "--infotext" {
			fmt.Println(infotext.Format(rec.Payload.Mapping))
			return nil
		}
		rs := payloadRegions(rec.Payload)
		out, err := region.ExportJSON(rs)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil

	case "stamp":
		if len(args) < 2 {
			return errUsage
		}
		params, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		rs, err := parseChecked(data)
		if err != nil {
			return err
		}
		stamped := infotext.Upsert(string(params), region.ToWire(rs))
		if err := os.WriteFile(args[0], []byte(stamped), 0o644); err != nil {
			return err
		}
		fmt.Println("Updated", args[0])
		return nil

	case "watch":
		if len(args) < 1 {
			return errUsage
		}
		return watchFile(ctx, cfg, token, args[0])

	case "ui":
		s := session.New(cfg, transportFor(cfg, token))
		defer s.Close()
		if len(args) > 0 {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := s.Import(data); err != nil {
				return err
			}
		}
		return ui.Run(s)
	}
	return errUsage
}

// transportFor returns the backend client, or nil when no backend is configured.
func transportFor(cfg config.AppConfig, token string) bridge.Transport {
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		return nil
	}
	return backend.NewClient(cfg.Backend.BaseURL, token, cfg.Backend.Timeout())
}

func pushOnce(ctx context.Context, cfg config.AppConfig, token string, rs []region.Region) error {
	tr := transportFor(cfg, token)
	if tr == nil {
		return errors.New("no backend configured (GCP_BACKEND_URL)")
	}
	s := session.New(cfg, tr)
	defer s.Close()
	if err := s.Manager.ReplaceAll(rs); err != nil {
		return err
	}
	if err := s.Bridge.ForceSyncNow(ctx); err != nil {
		return err
	}
	st := s.Bridge.Status()
	fmt.Printf("Pushed %d region(s) at revision %d\n", len(rs), st.LastRevision)
	return nil
}

func watchFile(ctx context.Context, cfg config.AppConfig, token, path string) error {
	l := applog.WithComponent("cli")
	tr := transportFor(cfg, token)
	if tr == nil {
		return errors.New("no backend configured (GCP_BACKEND_URL)")
	}
	s := session.New(cfg, tr)
	defer s.Close()

	if c, ok := tr.(*backend.Client); ok {
		if err := c.Health(ctx); err != nil {
			l.Warn("backend not reachable yet; changes will be retried", slog.Any("err", err))
		}
	}

	load := func(data []byte) {
		if err := s.Import(data); err != nil {
			l.Warn("mapping file rejected", slog.String("path", path), slog.Any("err", err))
		}
	}
	if data, err := os.ReadFile(path); err == nil {
		load(data)
	}
	w, err := watch.New(path, load)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Println("Watching", w.Path())
	<-ctx.Done()

	// flush whatever the last change scheduled
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if st := s.Bridge.Status(); st.Pending {
		return s.Bridge.ForceSyncNow(flushCtx)
	}
	return nil
}

// parseResolution reads "WxH".
func parseResolution(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: bad width", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: bad height", s)
	}
	return w, h, nil
}

// loadMapping accepts an exported region list or a bare backend mapping.
func loadMapping(data []byte) ([]region.Region, error) {
	rs, err := region.ParseImportJSON(data)
	if err == nil {
		return rs, checkRegions(rs)
	}
	ts, werr := region.ParseWireJSON(data)
	if werr != nil {
		return nil, fmt.Errorf("not a region list (%v) nor a mapping (%v)", err, werr)
	}
	rs = region.FromWire(ts)
	return rs, checkRegions(rs)
}

// parseChecked decodes an export document and applies the import rules the
// store would, so inverted or out-of-range boxes fail before any output.
func parseChecked(data []byte) ([]region.Region, error) {
	rs, err := region.ParseImportJSON(data)
	if err != nil {
		return nil, err
	}
	return rs, checkRegions(rs)
}

func checkRegions(rs []region.Region) error {
	for i, r := range rs {
		if err := region.ValidateStrict(i, r); err != nil {
			return err
		}
	}
	return nil
}

func payloadRegions(p bridge.Payload) []region.Region {
	rs := region.FromWire(p.Mapping)
	for i := range rs {
		if i < len(p.Prompts) {
			rs[i].Prompt = p.Prompts[i]
		}
	}
	return rs
}
