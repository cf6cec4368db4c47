// Package api provides the read-only HTTP status API for TourneyPipe.
//
// It reports liveness, the setup sessions currently in progress and the most
// recently completed setups.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/store"
)

const (
	// DefaultSetupsLimit is used when /setups is called without a limit.
	DefaultSetupsLimit = 20
	// MaxSetupsLimit caps the limit query parameter.
	MaxSetupsLimit = 200
	shutdownTimeout = 5 * time.Second
)

// SessionLister reports active setup sessions. flow.Conductor satisfies it.
type SessionLister interface {
	ActiveSessions() []models.SessionInfo
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr      string
	StartedAt time.Time
	Version   string
}

// Option modifies Opts.
type Option func(*Opts)

// WithAddr sets the listen address, e.g. ":8080".
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStartedAt sets the process start time reported by /health.
func WithStartedAt(t time.Time) Option {
	return func(o *Opts) { o.StartedAt = t }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(o *Opts) { o.Version = v }
}

// Server serves the status endpoints.
type Server struct {
	sessions SessionLister
	setups   store.SetupRepo
	opts     Opts
	now      func() time.Time
}

// NewServer creates a server over the active session snapshot and the setup repository.
func NewServer(sessions SessionLister, setups store.SetupRepo, opts ...Option) *Server {
	o := Opts{Addr: ":8080", StartedAt: time.Now()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{sessions: sessions, setups: setups, opts: o, now: time.Now}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/setups", s.setupsHandler)
	mux.HandleFunc("/setups/{id}", s.setupHandler)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down API")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		<-errCh
		return nil
	}
}
