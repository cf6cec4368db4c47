package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
	"github.com/BTreeMap/TourneyPipe/internal/store"
)

// healthStatus is the /health payload.
type healthStatus struct {
	Version        string `json:"version,omitempty"`
	Uptime         string `json:"uptime"`
	ActiveSessions int    `json:"active_sessions"`
}

// allowGet rejects anything but GET and HEAD.
func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", http.MethodGet)
	slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	status := healthStatus{
		Version: s.opts.Version,
		Uptime:  s.now().Sub(s.opts.StartedAt).Round(time.Second).String(),
	}
	if s.sessions != nil {
		status.ActiveSessions = len(s.sessions.ActiveSessions())
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	sessions := []models.SessionInfo{}
	if s.sessions != nil {
		sessions = append(sessions, s.sessions.ActiveSessions()...)
	}
	slog.Debug("Server.sessionsHandler", "count", len(sessions))
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

func (s *Server) setupsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	limit := DefaultSetupsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, MaxSetupsLimit)
	}
	if s.setups == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("setup storage is not configured"))
		return
	}
	records, err := s.setups.ListSetups(limit)
	if err != nil {
		slog.Error("Server.setupsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list setups"))
		return
	}
	if records == nil {
		records = []models.SummaryRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

func (s *Server) setupHandler(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if s.setups == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("setup storage is not configured"))
		return
	}
	id := r.PathValue("id")
	rec, err := s.setups.GetSetup(id)
	if errors.Is(err, store.ErrSetupNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Setup not found"))
		return
	}
	if err != nil {
		slog.Error("Server.setupHandler: get failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load setup"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}
