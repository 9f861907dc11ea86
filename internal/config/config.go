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
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type SyncConfig struct {
	DebounceMs    int `yaml:"debounce_ms"`
	MaxAttempts   int `yaml:"max_attempts"`
	BackoffMs     int `yaml:"backoff_ms"`
	DedupWindowMs int `yaml:"dedup_window_ms"`
}

type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
	// DSN selects the reference backend's store: postgres://... uses pgx, anything else sqlite.
	DSN    string `yaml:"dsn"`
	Listen string `yaml:"listen"`
	// Token is not stored on disk; it lives in the OS keychain.
}

type CanvasConfig struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	MinSize         float64 `yaml:"min_size"`
	CreateThreshold float64 `yaml:"create_threshold"`
	Grid            int     `yaml:"grid"`
}

type BackgroundConfig struct {
	PixelBudget int `yaml:"pixel_budget"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int              `yaml:"config_version"`
	Sync          SyncConfig       `yaml:"sync"`
	Backend       BackendConfig    `yaml:"backend"`
	Canvas        CanvasConfig     `yaml:"canvas"`
	Background    BackgroundConfig `yaml:"background"`
	Logging       LoggingConfig    `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Sync:          SyncConfig{DebounceMs: 100, MaxAttempts: 4, BackoffMs: 200, DedupWindowMs: 1000},
		Backend:       BackendConfig{BaseURL: "http://localhost:7860", TimeoutMs: 5000, DSN: "file::memory:?cache=shared", Listen: ":7860"},
		Canvas:        CanvasConfig{Width: 768, Height: 768, MinSize: 0.01, CreateThreshold: 0.02, Grid: 4},
		Background:    BackgroundConfig{PixelBudget: 1024 * 1024},
		Logging:       LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath       = "GCP_CONFIG"
	EnvDebounceMs       = "GCP_SYNC_DEBOUNCE_MS"
	EnvMaxAttempts      = "GCP_SYNC_MAX_ATTEMPTS"
	EnvBackoffMs        = "GCP_SYNC_BACKOFF_MS"
	EnvBackendURL       = "GCP_BACKEND_URL"
	EnvBackendTimeoutMs = "GCP_BACKEND_TIMEOUT_MS"
	EnvBackendDSN       = "GCP_BACKEND_DSN"
	EnvBackendListen    = "GCP_BACKEND_LISTEN"
	EnvPixelBudget      = "GCP_PIXEL_BUDGET"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "GCP_LOG_LEVEL"
	EnvLogFormat = "GCP_LOG_FORMAT"
	EnvLogSource = "GCP_LOG_SOURCE"
	EnvLogFile   = "GCP_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "GoCouple"
	keyringToken   = "backend_token"
)

// tokenStore abstracts keyring, so we can stub in tests.
var tokenStore TokenStore = osKeyring{}

type TokenStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements TokenStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// SetTokenStore swaps the keyring backend and returns the previous one.
func SetTokenStore(ts TokenStore) TokenStore {
	prev := tokenStore
	tokenStore = ts
	return prev
}

// ConfigPath returns the per-user config file path. GCP_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "GoCouple")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "GoCouple")
	default:
		base = filepath.Join(os.Getenv("HOME"), ".config", "gocouple")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
// The backend token comes from the keyring and is returned separately; a missing
// keyring entry yields an empty token.
func Load() (AppConfig, string, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, "", err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	}
	applyEnvOverrides(&cfg)
	tok, _ := tokenStore.Get(keyringService, keyringToken)
	return cfg, tok, nil
}

// Save writes the user config YAML and persists the token into the OS keyring (if non-empty).
func Save(cfg AppConfig, token string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if token != "" {
		if err := tokenStore.Set(keyringService, keyringToken, token); err != nil {
			return fmt.Errorf("store backend token: %w", err)
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// sync
	if src.Sync.DebounceMs > 0 {
		dst.Sync.DebounceMs = src.Sync.DebounceMs
	}
	if src.Sync.MaxAttempts > 0 {
		dst.Sync.MaxAttempts = src.Sync.MaxAttempts
	}
	if src.Sync.BackoffMs > 0 {
		dst.Sync.BackoffMs = src.Sync.BackoffMs
	}
	if src.Sync.DedupWindowMs > 0 {
		dst.Sync.DedupWindowMs = src.Sync.DedupWindowMs
	}
	// backend
	if strings.TrimSpace(src.Backend.BaseURL) != "" {
		dst.Backend.BaseURL = strings.TrimSpace(src.Backend.BaseURL)
	}
	if src.Backend.TimeoutMs > 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	if strings.TrimSpace(src.Backend.DSN) != "" {
		dst.Backend.DSN = strings.TrimSpace(src.Backend.DSN)
	}
	if strings.TrimSpace(src.Backend.Listen) != "" {
		dst.Backend.Listen = strings.TrimSpace(src.Backend.Listen)
	}
	// canvas
	if src.Canvas.Width > 0 {
		dst.Canvas.Width = src.Canvas.Width
	}
	if src.Canvas.Height > 0 {
		dst.Canvas.Height = src.Canvas.Height
	}
	if src.Canvas.MinSize > 0 {
		dst.Canvas.MinSize = src.Canvas.MinSize
	}
	if src.Canvas.CreateThreshold > 0 {
		dst.Canvas.CreateThreshold = src.Canvas.CreateThreshold
	}
	// grid: -1 turns the overlay off; 0 means "not set"
	if src.Canvas.Grid != 0 {
		dst.Canvas.Grid = src.Canvas.Grid
	}
	if src.Background.PixelBudget > 0 {
		dst.Background.PixelBudget = src.Background.PixelBudget
	}
	// logging
	if strings.TrimSpace(src.Logging.Level) != "" {
		dst.Logging.Level = strings.ToLower(strings.TrimSpace(src.Logging.Level))
	}
	if strings.TrimSpace(src.Logging.Format) != "" {
		dst.Logging.Format = strings.ToLower(strings.TrimSpace(src.Logging.Format))
	}
	dst.Logging.Source = src.Logging.Source
	if strings.TrimSpace(src.Logging.File) != "" {
		dst.Logging.File = strings.TrimSpace(src.Logging.File)
	}
}

func applyEnvOverrides(cfg *AppConfig) {
	envInt(EnvDebounceMs, &cfg.Sync.DebounceMs)
	envInt(EnvMaxAttempts, &cfg.Sync.MaxAttempts)
	envInt(EnvBackoffMs, &cfg.Sync.BackoffMs)
	envInt(EnvBackendTimeoutMs, &cfg.Backend.TimeoutMs)
	envInt(EnvPixelBudget, &cfg.Background.PixelBudget)
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendDSN)); v != "" {
		cfg.Backend.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendListen)); v != "" {
		cfg.Backend.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		lv := strings.ToLower(v)
		cfg.Logging.Source = lv == "1" || lv == "true" || lv == "on" || lv == "yes"
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// envInt overwrites *dst with a positive integer from the environment; junk is ignored.
func envInt(key string, dst *int) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	var env string
	switch key {
	case "sync.debounce_ms":
		env = EnvDebounceMs
	case "sync.max_attempts":
		env = EnvMaxAttempts
	case "sync.backoff_ms":
		env = EnvBackoffMs
	case "backend.base_url":
		env = EnvBackendURL
	case "backend.timeout_ms":
		env = EnvBackendTimeoutMs
	case "backend.dsn":
		env = EnvBackendDSN
	case "backend.listen":
		env = EnvBackendListen
	case "background.pixel_budget":
		env = EnvPixelBudget
	case "logging.level":
		env = EnvLogLevel
	case "logging.format":
		env = EnvLogFormat
	case "logging.source":
		env = EnvLogSource
	case "logging.file":
		env = EnvLogFile
	default:
		return "", false
	}
	if os.Getenv(env) != "" {
		return env, true
	}
	return "", false
}

func (s SyncConfig) Debounce() time.Duration { return time.Duration(s.DebounceMs) * time.Millisecond }
func (s SyncConfig) Backoff() time.Duration  { return time.Duration(s.BackoffMs) * time.Millisecond }
func (s SyncConfig) DedupWindow() time.Duration {
	return time.Duration(s.DedupWindowMs) * time.Millisecond
}

// Timeout returns the backend request timeout, falling back to the default when unset.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
