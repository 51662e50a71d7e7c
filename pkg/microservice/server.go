// Package microservice exposes the capture pipeline over HTTP: health, status,
// the latest published capture and a manual trigger.
package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/illmade-knight/go-captureflow/pkg/capturepipeline"
	"github.com/illmade-knight/go-captureflow/pkg/capturestore"
	"github.com/rs/zerolog"
)

// BaseConfig holds the service-level settings shared by every deployment.
type BaseConfig struct {
	LogLevel        string `yaml:"log_level"`
	HTTPPort        string `yaml:"http_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	ServiceName     string `yaml:"service_name"`
}

// Trigger runs captures on demand and reports on them.
type Trigger interface {
	Run(ctx context.Context) (capturepipeline.Report, error)
	Status() capturepipeline.Status
}

// CaptureServer serves the control endpoints. The store is optional; without
// one /captures/latest always answers 404.
type CaptureServer struct {
	logger     zerolog.Logger
	httpPort   string
	trigger    Trigger
	store      capturestore.Store
	runTimeout time.Duration

	httpServer *http.Server
	router     *chi.Mux
	actualAddr string
	mu         sync.RWMutex
}

// NewCaptureServer registers the routes. runTimeout bounds a manual capture
// and defaults to two minutes.
func NewCaptureServer(httpPort string, trigger Trigger, store capturestore.Store, runTimeout time.Duration, logger zerolog.Logger) (*CaptureServer, error) {
	if trigger == nil {
		return nil, errors.New("trigger cannot be nil")
	}
	if runTimeout <= 0 {
		runTimeout = 2 * time.Minute
	}
	s := &CaptureServer{
		logger:     logger.With().Str("component", "CaptureServer").Logger(),
		httpPort:   httpPort,
		trigger:    trigger,
		store:      store,
		runTimeout: runTimeout,
		router:     chi.NewRouter(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", HealthzHandler)

	s.router.Group(func(r chi.Router) {
		r.Use(requestLogger(s.logger))
		r.Get("/status", s.handleStatus)
		r.Get("/captures/latest", s.handleLatest)
		r.Post("/captures", s.handleTrigger)
	})

	s.httpServer = &http.Server{
		Addr:              httpPort,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start listens on the configured port and serves in a background goroutine.
func (s *CaptureServer) Start() error {
	listener, err := net.Listen("tcp", s.httpPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.httpPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server within ctx's deadline.
func (s *CaptureServer) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns ":<port>" for the address actually bound, which differs
// from the configured one when ":0" was requested.
func (s *CaptureServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.httpPort
	}
	return ":" + port
}

// Handler returns the router serving every endpoint.
func (s *CaptureServer) Handler() http.Handler {
	return s.router
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *CaptureServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.trigger.Status())
}

func (s *CaptureServer) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, capturestore.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	rec, err := s.store.Latest(r.Context())
	if err != nil {
		if errors.Is(err, capturestore.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		s.logger.Error().Err(err).Msg("Failed to read latest capture.")
		http.Error(w, "capture store unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleTrigger runs one capture. The run outlives a disconnecting client so a
// frame is never left half uploaded.
func (s *CaptureServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.runTimeout)
	defer cancel()

	rep, err := s.trigger.Run(ctx)
	switch {
	case errors.Is(err, capturepipeline.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		s.logger.Warn().Err(err).Str("run_id", rep.RunID).Msg("Manual capture failed.")
		s.writeJSON(w, http.StatusBadGateway, rep)
	default:
		s.writeJSON(w, http.StatusOK, rep)
	}
}

func (s *CaptureServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response.")
	}
}
