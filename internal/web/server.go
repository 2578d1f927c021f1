// Package web exposes monitor state over a small HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nettrail/fwmon/internal/daemon"
	"github.com/nettrail/fwmon/internal/domain"
)

// StatusSource yields a point-in-time view of the monitor counters.
type StatusSource interface {
	Snapshot() daemon.StatsSnapshot
}

// RecentSource yields recently displayed records, oldest first.
type RecentSource interface {
	Records() []domain.DisplayRecord
}

// Server serves monitor status and recent records over HTTP.
type Server struct {
	status StatusSource
	recent RecentSource
	logger *zap.Logger
	srv    *http.Server
}

// NewServer returns a server that listens on addr once started.
func NewServer(addr string, status StatusSource, recent RecentSource, logger *zap.Logger) *Server {
	s := &Server{status: status, recent: recent, logger: logger}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/recent", s.handleRecent).Methods("GET")
	return r
}

// Start serves in the background until Stop is called.
func (s *Server) Start() {
	go func() {
		s.logger.Info("web API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("web API server failed", zap.Error(err))
		}
	}()
}

// Stop shuts the server down, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.status.Snapshot())
}

func (s *Server) handleRecent(w http.ResponseWriter, _ *http.Request) {
	recs := s.recent.Records()
	if recs == nil {
		recs = []domain.DisplayRecord{}
	}
	s.writeJSON(w, map[string]any{
		"records": recs,
		"count":   len(recs),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
