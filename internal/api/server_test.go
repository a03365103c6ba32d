package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/matview-io/matview/internal/api/middleware"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) PingContext(_ context.Context) error {
	return p.err
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            defaultPort,
		Host:            "127.0.0.1",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		LogLevel:        slog.LevelError,
	}
}

// serve routes a request through the full middleware chain and mux.
func serve(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	return rec
}

func TestHealthEndpoint(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("healthy database", func(t *testing.T) {
		s := NewServer(testServerConfig(), &stubPinger{})
		s.startTime = time.Now().Add(-time.Minute)

		rec := serve(t, s, http.MethodGet, "/healthz")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var health HealthStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}

		if health.Status != "healthy" {
			t.Errorf("expected healthy status, got %q", health.Status)
		}

		if health.ServiceName != "matviewd" {
			t.Errorf("expected matviewd service name, got %q", health.ServiceName)
		}

		if health.Database != "up" {
			t.Errorf("expected database up, got %q", health.Database)
		}

		if health.Uptime == "" {
			t.Error("expected uptime to be reported")
		}

		if rec.Header().Get("X-Correlation-ID") == "" {
			t.Error("expected correlation ID header on response")
		}
	})

	t.Run("unreachable database degrades", func(t *testing.T) {
		s := NewServer(testServerConfig(), &stubPinger{err: errors.New("connection refused")})

		rec := serve(t, s, http.MethodGet, "/healthz")

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rec.Code)
		}

		var health HealthStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}

		if health.Status != "degraded" {
			t.Errorf("expected degraded status, got %q", health.Status)
		}

		if health.Database != "down" {
			t.Errorf("expected database down, got %q", health.Database)
		}
	})

	t.Run("nil pinger skips database probe", func(t *testing.T) {
		s := NewServer(testServerConfig(), nil)

		rec := serve(t, s, http.MethodGet, "/healthz")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}

		var health HealthStatus
		if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}

		if health.Database != "" {
			t.Errorf("expected no database field, got %q", health.Database)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testServerConfig(), &stubPinger{})

	rec := serve(t, s, http.MethodGet, "/metrics")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "matview_jobs_consumed_total") {
		t.Error("expected exposition to include matview_jobs_consumed_total")
	}
}

func TestUnknownRouteReturnsProblemDetail(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testServerConfig(), &stubPinger{})

	rec := serve(t, s, http.MethodGet, "/nope")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json content type, got %q", ct)
	}

	var problem ProblemDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode problem detail: %v", err)
	}

	if problem.Title != "Not Found" {
		t.Errorf("expected Not Found title, got %q", problem.Title)
	}

	if problem.Instance != "/nope" {
		t.Errorf("expected instance /nope, got %q", problem.Instance)
	}

	if problem.CorrelationID == "" {
		t.Error("expected correlation ID in problem detail")
	}
}

func TestCorrelationIDPropagation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	s := NewServer(testServerConfig(), &stubPinger{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "req-12345")

	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "req-12345" {
		t.Errorf("expected provided correlation ID to be echoed, got %q", got)
	}
}

func TestRecoveryMiddlewareCatchesPanics(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError + 1, // silence the expected panic log
	}))

	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("boom")
	})

	handler := middleware.Apply(panicking,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json content type, got %q", ct)
	}
}

func TestServerConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("defaults", func(t *testing.T) {
		cfg := LoadServerConfig()

		if cfg.Port != defaultPort {
			t.Errorf("expected default port %d, got %d", defaultPort, cfg.Port)
		}

		if cfg.Host != defaultHost {
			t.Errorf("expected default host %q, got %q", defaultHost, cfg.Host)
		}

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected default config to validate, got %v", err)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("MATVIEW_SERVER_PORT", "8125")
		t.Setenv("MATVIEW_SERVER_HOST", "127.0.0.1")
		t.Setenv("MATVIEW_SERVER_TIMEOUT", "5s")

		cfg := LoadServerConfig()

		if cfg.Address() != "127.0.0.1:8125" {
			t.Errorf("expected 127.0.0.1:8125, got %q", cfg.Address())
		}

		if cfg.ShutdownTimeout != 5*time.Second {
			t.Errorf("expected 5s shutdown timeout, got %v", cfg.ShutdownTimeout)
		}
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name    string
			mutate  func(*ServerConfig)
			wantErr error
		}{
			{"port zero", func(c *ServerConfig) { c.Port = 0 }, ErrInvalidPort},
			{"port too high", func(c *ServerConfig) { c.Port = 70000 }, ErrInvalidPort},
			{"empty host", func(c *ServerConfig) { c.Host = "" }, ErrEmptyHost},
			{"zero read timeout", func(c *ServerConfig) { c.ReadTimeout = 0 }, ErrInvalidReadTimeout},
			{"zero write timeout", func(c *ServerConfig) { c.WriteTimeout = 0 }, ErrInvalidWriteTimeout},
			{"zero shutdown timeout", func(c *ServerConfig) { c.ShutdownTimeout = 0 }, ErrInvalidShutdownTimeout},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cfg := testServerConfig()
				tt.mutate(cfg)

				if err := cfg.Validate(); !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			})
		}
	})
}
