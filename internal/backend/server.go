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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gocouple/internal/bridge"
	applog "gocouple/internal/log"
	"gocouple/internal/region"
	"gocouple/internal/version"
)

// maxBody caps request bodies.
const maxBody = 1 << 20

// Server is the reference mapping backend: it accepts pushes from the editor
// and serves the latest mapping back.
type Server struct {
	store *Store
	token string
	log   *slog.Logger
}

// NewServer builds a server over store. A non-empty token is required as a
// bearer token on the mapping endpoints.
func NewServer(store *Store, token string) *Server {
	return &Server{store: store, token: token, log: applog.WithComponent("backend")}
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(version.String()))
	})
	r.Route("/api/mapping", func(r chi.Router) {
		r.Use(s.withAuth)
		r.Post("/", s.postMapping)
		r.Get("/", s.getMapping)
		r.Get("/history", s.getHistory)
	})
	return r
}

func (s *Server) postMapping(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxBody {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("body too large"))
		return
	}
	var req struct {
		Mapping  json.RawMessage `json:"mapping"`
		Prompts  []string        `json:"prompts"`
		Revision uint64          `json:"revision"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	p, err := validatePayload(req.Mapping, req.Prompts)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	p.Revision = req.Revision
	v, err := s.store.Replace(r.Context(), p)
	if err != nil {
		s.log.Error("store mapping", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": v, "regions": len(p.Mapping)})
}

// validatePayload requires every tuple to be five numbers describing a valid
// region, and prompts to be absent or one per tuple.
func validatePayload(raw json.RawMessage, prompts []string) (bridge.Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("[]")
	}
	ts, err := region.ParseWireJSON(raw)
	if err != nil {
		return bridge.Payload{}, err
	}
	for i, r := range region.FromWire(ts) {
		if err := region.ValidateStrict(i, r); err != nil {
			return bridge.Payload{}, err
		}
	}
	if len(prompts) != 0 && len(prompts) != len(ts) {
		return bridge.Payload{}, fmt.Errorf("prompts: got %d, want %d", len(prompts), len(ts))
	}
	if ts == nil {
		ts = []region.WireTuple{}
	}
	if prompts == nil {
		prompts = make([]string, len(ts))
	}
	return bridge.Payload{Mapping: ts, Prompts: prompts}, nil
}

func (s *Server) getMapping(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Latest(r.Context())
	if errors.Is(err, ErrNoMapping) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	hs, err := s.store.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if hs == nil {
		hs = []HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, hs)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("backend listening", slog.String("addr", addr))
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// --- Helpers: auth, logging and JSON ---

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(strings.ToLower(auth), strings.ToLower(prefix)) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("missing bearer token"))
			return
		}
		token := strings.TrimSpace(auth[len(prefix):])
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("invalid token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("took", time.Since(start)),
			slog.String("req_id", middleware.GetReqID(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
