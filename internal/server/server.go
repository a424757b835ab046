// Package server exposes the relay over HTTP: a liveness probe, the
// discovery documents, and the frontend and backend WebSocket routes.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/philsphicas/inspectrelay/internal/discovery"
	"github.com/philsphicas/inspectrelay/internal/relay"
)

// Config holds the inputs for New.
type Config struct {
	Relay   *relay.Relay
	Version string

	// PublicAddr, when set, is the authority advertised in target URLs
	// instead of the discovery request's Host header.
	PublicAddr string
	// Port is the listening port, used when neither PublicAddr nor a Host
	// header is available.
	Port int

	// AllowedOrigins enables CORS on the HTTP routes when non-empty.
	AllowedOrigins []string

	Logger *slog.Logger
}

// New builds the HTTP handler for the relay.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Proxy is up"))
	})

	r.Get("/json/version", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, logger, discovery.GetVersionInfo(cfg.Version))
	})

	list := func(w http.ResponseWriter, req *http.Request) {
		host := discovery.ResolveHost(cfg.PublicAddr, req.Host, cfg.Port)
		respondWithJSON(w, logger, discovery.ListTargets(cfg.Relay.Session().ID(), host))
	}
	r.Get("/json", list)
	r.Get("/json/list", list)

	r.Get("/targets/{targetId}", func(w http.ResponseWriter, req *http.Request) {
		cfg.Relay.ServeFrontend(w, req, chi.URLParam(req, "targetId"))
	})
	r.Get("/client", cfg.Relay.ServeBackend)

	return r
}

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Debug("write response failed", "error", err)
	}
}
