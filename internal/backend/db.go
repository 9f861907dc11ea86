/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"gocouple/internal/bridge"
	applog "gocouple/internal/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoMapping is returned by Latest before the first push.
var ErrNoMapping = errors.New("backend: no mapping stored")

// historyLimit bounds mapping_history.
const historyLimit = 100

// Record is the stored state of record.
type Record struct {
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   bridge.Payload `json:"payload"`
}

// Store keeps the latest mapping in SQLite (embedded) or Postgres.
type Store struct {
	db      *sql.DB
	dialect string
	log     *slog.Logger
}

// Open connects to dsn and applies migrations. postgres:// and postgresql://
// DSNs use pgx; anything else is handed to the SQLite driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	l := applog.WithOperation(applog.WithComponent("backend"), "store_open")
	driver, dialect := "sqlite", "sqlite"
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, dialect = "pgx", "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == "sqlite" {
		// In-memory databases live per connection; keep exactly one.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := &Store{db: db, dialect: dialect, log: l}
	if err := s.applyMigrations(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Info("store ready", slog.String("dialect", dialect))
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Dialect is "sqlite" or "postgres".
func (s *Store) Dialect() string { return s.dialect }

// q rewrites ? placeholders into $n for Postgres.
func (s *Store) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Replace swaps the stored mapping for p in one transaction and returns the
// new version. Readers never see a partially written mapping.
func (s *Store) Replace(ctx context.Context, p bridge.Payload) (int64, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(version) FROM mappings`).Scan(&cur); err != nil {
		return 0, fmt.Errorf("current version: %w", err)
	}
	next := cur.Int64 + 1
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `DELETE FROM mappings`); err != nil {
		return 0, fmt.Errorf("clear mappings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO mappings (id, version, payload, created_at) VALUES (?, ?, ?, ?)`), 1, next, string(data), now); err != nil {
		return 0, fmt.Errorf("insert mapping: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO mapping_history (version, regions, created_at) VALUES (?, ?, ?)`), next, len(p.Mapping), now); err != nil {
		return 0, fmt.Errorf("insert history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM mapping_history WHERE version <= ?`), next-historyLimit); err != nil {
		return 0, fmt.Errorf("trim history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("mapping replaced", slog.Int64("version", next), slog.Int("regions", len(p.Mapping)))
	return next, nil
}

// Latest returns the stored mapping or ErrNoMapping.
func (s *Store) Latest(ctx context.Context) (Record, error) {
	var (
		rec     Record
		payload string
		created string
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, payload, created_at FROM mappings ORDER BY version DESC LIMIT 1`).Scan(&rec.Version, &payload, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNoMapping
	}
	if err != nil {
		return Record{}, fmt.Errorf("select mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return Record{}, fmt.Errorf("decode mapping: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		rec.CreatedAt = t
	}
	return rec, nil
}

// HistoryEntry summarizes one accepted push.
type HistoryEntry struct {
	Version   int64  `json:"version"`
	Regions   int    `json:"regions"`
	CreatedAt string `json:"created_at"`
}

// History lists recent pushes, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT version, regions, created_at FROM mapping_history ORDER BY version DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.log.Warn("rows close", slog.Any("err", err))
		}
	}()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.Version, &h.Regions, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// applyMigrations applies embedded SQL migrations in filename order and
// records each one in schema_migrations.
func (s *Store) applyMigrations(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied := map[int64]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("select schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, fname := range files {
		version, err := parseVersion(fname)
		if err != nil {
			return err
		}
		if applied[version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join("migrations", fname))
		if err != nil {
			return err
		}
		sqlText := string(b)
		if strings.TrimSpace(sqlText) == "" {
			continue
		}
		s.log.Info("applying migration", slog.String("file", fname))
		if _, err := s.db.ExecContext(ctx, sqlText); err != nil {
			return fmt.Errorf("apply %s: %w", fname, err)
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := s.db.ExecContext(ctx, s.q(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`), version, fname, now); err != nil {
			return fmt.Errorf("record %s: %w", fname, err)
		}
	}
	return nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}
