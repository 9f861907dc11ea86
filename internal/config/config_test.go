/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type memTokens struct{ m map[string]string }

func (s *memTokens) Get(service, key string) (string, error) {
	v, ok := s.m[service+"/"+key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}
func (s *memTokens) Set(service, key, value string) error {
	s.m[service+"/"+key] = value
	return nil
}
func (s *memTokens) Delete(service, key string) error {
	delete(s.m, service+"/"+key)
	return nil
}

// isolate points the config file at a temp dir and swaps the keyring for a map.
func isolate(t *testing.T) (string, *memTokens) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv(EnvConfigPath, path)
	ts := &memTokens{m: map[string]string{}}
	prev := SetTokenStore(ts)
	t.Cleanup(func() { SetTokenStore(prev) })
	return path, ts
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	isolate(t)
	cfg, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tok != "" {
		t.Fatalf("token = %q, want empty", tok)
	}
	if got, want := cfg.Sync.Debounce(), 100*time.Millisecond; got != want {
		t.Fatalf("Sync.Debounce() = %v, want %v", got, want)
	}
	if cfg.Background.PixelBudget != 1048576 {
		t.Fatalf("PixelBudget = %d, want 1048576", cfg.Background.PixelBudget)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path, ts := isolate(t)
	cfg := Defaults()
	cfg.Sync.DebounceMs = 250
	cfg.Canvas.Grid = -1
	cfg.Backend.BaseURL = "http://gen.local:9000"
	if err := Save(cfg, "s3cret"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if ts.m[keyringService+"/"+keyringToken] != "s3cret" {
		t.Fatalf("token not stored in keyring")
	}
	got, tok, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if tok != "s3cret" {
		t.Fatalf("token = %q, want s3cret", tok)
	}
	if got.Sync.DebounceMs != 250 || got.Canvas.Grid != -1 || got.Backend.BaseURL != "http://gen.local:9000" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path, _ := isolate(t)
	if err := os.WriteFile(path, []byte("sync: [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(); err == nil {
		t.Fatalf("expected parse error for broken yaml")
	}
}

func TestEnvOverridesSyncAndBackend(t *testing.T) {
	isolate(t)
	t.Setenv(EnvDebounceMs, "40")
	t.Setenv(EnvMaxAttempts, "junk")
	t.Setenv(EnvBackendURL, "https://example.test:8443")
	t.Setenv(EnvBackendDSN, "postgres://u:p@db/couple")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Sync.DebounceMs != 40 {
		t.Fatalf("DebounceMs = %d, want 40", cfg.Sync.DebounceMs)
	}
	if cfg.Sync.MaxAttempts != Defaults().Sync.MaxAttempts {
		t.Fatalf("junk env must be ignored, got MaxAttempts=%d", cfg.Sync.MaxAttempts)
	}
	if cfg.Backend.BaseURL != "https://example.test:8443" || cfg.Backend.DSN != "postgres://u:p@db/couple" {
		t.Fatalf("backend overrides not applied: %+v", cfg.Backend)
	}
	if env, ok := EnvOverrideFor("backend.dsn"); !ok || env != EnvBackendDSN {
		t.Fatalf("EnvOverrideFor(backend.dsn) = %q,%v", env, ok)
	}
	if _, ok := EnvOverrideFor("canvas.width"); ok {
		t.Fatalf("canvas.width has no env override")
	}
}

func TestMergeIncludesLogging(t *testing.T) {
	dst := Defaults()
	src := AppConfig{Logging: LoggingConfig{Level: " DEBUG ", Format: "json", Source: true, File: "/tmp/gcp.log"}}
	mergeInto(&dst, &src)
	if dst.Logging.Level != "debug" || dst.Logging.Format != "json" || !dst.Logging.Source || dst.Logging.File != "/tmp/gcp.log" {
		t.Fatalf("logging fields not merged correctly: %#v", dst.Logging)
	}
	if dst.Sync.DebounceMs != 100 {
		t.Fatalf("unset sync section must keep defaults, got %d", dst.Sync.DebounceMs)
	}
}

func TestEnvOverridesLogging(t *testing.T) {
	isolate(t)
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogFormat, "json")
	t.Setenv(EnvLogSource, "1")
	t.Setenv(EnvLogFile, "/var/log/gcp.log")
	cfg, _, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "error" || cfg.Logging.Format != "json" || !cfg.Logging.Source || cfg.Logging.File != "/var/log/gcp.log" {
		t.Fatalf("env overrides not applied to logging: %#v", cfg.Logging)
	}
}

func TestBackendTimeoutFallback(t *testing.T) {
	if got := (BackendConfig{}).Timeout(); got != 5*time.Second {
		t.Fatalf("Timeout() = %v, want 5s", got)
	}
}
