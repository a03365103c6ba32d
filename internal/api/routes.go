// Package api provides the HTTP observability surface for the matview daemon.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/matview-io/matview/internal/metrics"
)

const (
	serviceName    = "matviewd"
	serviceVersion = "0.1.0-dev" // TODO: inject version at build time via ldflags

	healthCheckTimeout = 2 * time.Second
)

// HealthStatus represents the health check response structure.
type HealthStatus struct {
	Status      string `json:"status"`
	ServiceName string `json:"serviceName"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime,omitempty"`
	Database    string `json:"database,omitempty"`
}

// setupRoutes sets up all HTTP routes for the daemon server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth) // Liveness + database probe
	mux.Handle("GET /metrics", metrics.Handler())  // Prometheus exposition
	mux.HandleFunc("/", s.handleNotFound)          // Catch-all handler for 404 responses
}

// handleHealth returns health status including a bounded database probe.
//
// Response codes:
//   - 200 OK: Daemon is up and the database answers a ping
//   - 503 Service Unavailable: Database is unreachable (status "degraded")
//
// Orchestrators use this endpoint for both liveness and readiness; a
// daemon whose database is gone cannot execute view operations and
// should not be considered ready.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		duration := time.Since(s.startTime)
		uptime = duration.Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: serviceName,
		Version:     serviceVersion,
		Uptime:      uptime,
	}

	statusCode := http.StatusOK

	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.db.PingContext(ctx); err != nil {
			s.logger.Error("Database health check failed",
				"error", err.Error(),
			)

			health.Status = "degraded"
			health.Database = "down"
			statusCode = http.StatusServiceUnavailable
		} else {
			health.Database = "up"
		}
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("Failed to encode health response",
			"error", err.Error(),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			"error", err.Error(),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}
