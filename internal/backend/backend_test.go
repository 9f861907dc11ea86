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
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocouple/internal/bridge"
	"gocouple/internal/region"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.ToSlash(filepath.Join(t.TempDir(), "mapping.db"))
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreReplaceAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if s.Dialect() != "sqlite" {
		t.Fatalf("dialect = %q", s.Dialect())
	}
	if _, err := s.Latest(ctx); !errors.Is(err, ErrNoMapping) {
		t.Fatalf("expected ErrNoMapping, got %v", err)
	}
	p1 := bridge.Payload{Mapping: region.DefaultMapping, Prompts: []string{"a", "b"}, Revision: 3}
	v1, err := s.Replace(ctx, p1)
	if err != nil || v1 != 1 {
		t.Fatalf("replace: v=%d err=%v", v1, err)
	}
	p2 := bridge.Payload{Mapping: []region.WireTuple{{0, 1, 0, 1, 0.5}}, Prompts: []string{"all"}}
	v2, err := s.Replace(ctx, p2)
	if err != nil || v2 != 2 {
		t.Fatalf("replace: v=%d err=%v", v2, err)
	}
	rec, err := s.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Version != 2 || len(rec.Payload.Mapping) != 1 || rec.Payload.Prompts[0] != "all" || rec.CreatedAt.IsZero() {
		t.Fatalf("unexpected record %+v", rec)
	}
	hs, err := s.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hs) != 2 || hs[0].Version != 2 || hs[1].Regions != 2 {
		t.Fatalf("unexpected history %+v", hs)
	}
}

func TestStoreReopenKeepsMigrations(t *testing.T) {
	dsn := "file:" + filepath.ToSlash(filepath.Join(t.TempDir(), "mapping.db"))
	ctx := context.Background()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Replace(ctx, bridge.Payload{Mapping: region.DefaultMapping}); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	s, err = Open(ctx, dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if rec, err := s.Latest(ctx); err != nil || rec.Version != 1 {
		t.Fatalf("mapping lost on reopen: %+v %v", rec, err)
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := parseVersion("0002_mapping_history.sql"); err != nil || v != 2 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	if _, err := parseVersion("nounderscore.sql"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPlaceholderRewrite(t *testing.T) {
	s := &Store{dialect: "postgres"}
	if got := s.q("INSERT INTO t VALUES (?, ?)"); got != "INSERT INTO t VALUES ($1, $2)" {
		t.Fatalf("got %q", got)
	}
	s.dialect = "sqlite"
	if got := s.q("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite query rewritten: %q", got)
	}
}

func newTestServer(t *testing.T, token string) (*httptest.Server, *Store) {
	t.Helper()
	st := openTestStore(t)
	srv := httptest.NewServer(NewServer(st, token).Handler())
	t.Cleanup(srv.Close)
	return srv, st
}

func TestClientPushRoundTrip(t *testing.T) {
	srv, st := newTestServer(t, "s3cret")
	c := NewClient(srv.URL+"/", "s3cret", time.Second)
	ctx := context.Background()
	if err := c.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	p := bridge.Payload{Mapping: region.DefaultMapping, Prompts: []string{"left", "right"}, Revision: 9}
	if err := c.Push(ctx, p); err != nil {
		t.Fatalf("push: %v", err)
	}
	rec, err := c.Latest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if rec.Version != 1 || rec.Payload.Revision != 9 || rec.Payload.Prompts[1] != "right" || rec.Payload.Mapping[1] != region.DefaultMapping[1] {
		t.Fatalf("unexpected record %+v", rec)
	}
	if got, _ := st.Latest(ctx); got.Version != 1 {
		t.Fatalf("store not updated")
	}
	if err := c.Push(ctx, bridge.Payload{}); err != nil {
		t.Fatalf("push empty mapping: %v", err)
	}
	if rec, _ := c.Latest(ctx); len(rec.Payload.Mapping) != 0 || rec.Version != 2 {
		t.Fatalf("empty mapping not stored: %+v", rec)
	}
}

func TestClientAsBridgeTransport(t *testing.T) {
	srv, _ := newTestServer(t, "")
	var tr bridge.Transport = NewClient(srv.URL, "", time.Second)
	if err := tr.Push(context.Background(), bridge.Payload{Mapping: region.DefaultMapping}); err != nil {
		t.Fatalf("push: %v", err)
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, "tok")
	cases := []struct {
		name   string
		auth   string
		body   string
		status int
	}{
		{"no token", "", `{"mapping":[]}`, http.StatusUnauthorized},
		{"wrong token", "Bearer nope", `{"mapping":[]}`, http.StatusUnauthorized},
		{"bad json", "Bearer tok", `{"mapping":`, http.StatusBadRequest},
		{"short tuple", "Bearer tok", `{"mapping":[[0,1,0,1]]}`, http.StatusUnprocessableEntity},
		{"inverted", "Bearer tok", `{"mapping":[[0.6,0.4,0,1,1]]}`, http.StatusUnprocessableEntity},
		{"prompt count", "Bearer tok", `{"mapping":[[0,1,0,1,1]],"prompts":["a","b"]}`, http.StatusUnprocessableEntity},
		{"ok", "Bearer tok", `{"mapping":[[0,1,0,1,1]]}`, http.StatusOK},
	}
	for _, c := range cases {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/mapping", strings.NewReader(c.body))
		if c.auth != "" {
			req.Header.Set("Authorization", c.auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", c.name, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != c.status {
			t.Errorf("%s: status %d want %d", c.name, resp.StatusCode, c.status)
		}
	}
}

func TestServerLatestNotFoundAndReady(t *testing.T) {
	srv, _ := newTestServer(t, "")
	c := NewClient(srv.URL, "", time.Second)
	if _, err := c.Latest(context.Background()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404, got %v", err)
	}
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz = %d", resp.StatusCode)
	}
}
