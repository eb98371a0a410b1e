package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/brokerwatch/internal/metrics"
	"github.com/nerrad567/brokerwatch/internal/supervisor"
)

// Transition listing limits.
const (
	defaultTransitionLimit = 50
	maxTransitionLimit     = 1000
)

// healthCheckTimeout bounds all dependency checks of one /api/v1/health call.
const healthCheckTimeout = 3 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)

	// Prometheus scrape target and bare liveness check stay at the root.
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}
	r.Get("/health", s.handleLiveness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/status", s.handleStatus)
		r.Get("/transitions", s.handleTransitions)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleLiveness answers as long as the process serves HTTP.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleHealth runs every dependency check. Any failure makes the response
// 503 with status "degraded"; the failing components carry their error.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	components := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.HealthCheck(ctx); err != nil {
			components[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"components": components,
	})
}

// handleReady answers 200 only while the broker connection is up and the
// last probe did not flag it. Load balancers and orchestrators poll this.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	if st.State != supervisor.StateConnected || st.Disconnected {
		msg := "broker " + string(st.State)
		if st.Disconnected {
			msg += ", health probe failing"
		}
		writeError(w, r, ErrCodeNotConnected, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"since":  st.ConnectedAt,
	})
}

// handleStatus returns the supervisor snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

// handleTransitions lists journaled transitions, newest first.
// Query: limit (default 50, max 1000).
func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, r, ErrCodeNotFound, "transition journal is disabled")
		return
	}

	limit := defaultTransitionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTransitionLimit)
	}

	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing transitions", "error", err)
		writeError(w, r, ErrCodeInternal, "failed to list transitions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transitions": entries,
		"count":       len(entries),
	})
}
