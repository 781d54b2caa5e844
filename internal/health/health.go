// Package health exposes liveness, debug and metrics endpoints over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speak4all/coursefeed/internal/catalog"
	"github.com/speak4all/coursefeed/internal/connection"
	"github.com/speak4all/coursefeed/internal/router"
	"github.com/speak4all/coursefeed/internal/version"
)

// Config holds health server configuration.
type Config struct {
	Port        int    // Default: 9090
	MetricsPath string // Default: /metrics
}

// Server serves /healthz, /debug/channels and the metrics endpoint.
type Server struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Server
}

// New builds the server. db may be nil when journalling is disabled.
func New(cfg Config, cat catalog.Catalog, pool *connection.Pool, rt router.Router, db *pgxpool.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Port <= 0 {
		cfg.Port = 9090
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthzHandler(cat, pool, db))
	r.Get("/debug/channels", channelsHandler(cat, pool, rt))
	r.Handle(cfg.MetricsPath, promhttp.Handler())

	return &Server{
		cfg:    cfg,
		logger: logger,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: r,
		},
	}
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		s.logger.Info("health server listening", "addr", s.http.Addr, "metrics_path", s.cfg.MetricsPath)
		if err := s.http.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("health server error", "error", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func healthzHandler(cat catalog.Catalog, pool *connection.Pool, db *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Version    string         `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]any),
		}

		stats := pool.Stats()
		health.Components["connections"] = map[string]int{
			"channels":  stats.Channels,
			"connected": stats.Connected,
		}
		// A reconnecting feed is degraded, not dead: clients retry on a
		// fixed delay and catch up on their own.
		if stats.Connected < stats.Channels {
			health.Status = "degraded"
		}

		health.Components["catalog"] = map[string]int{
			"channels": len(cat.Channels()),
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal_db"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal_db"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}
}

func channelsHandler(cat catalog.Catalog, pool *connection.Pool, rt router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"catalog":   cat.Channels(),
			"connected": pool.ChannelIDs(),
			"routing":   rt.Stats(),
		})
	}
}
