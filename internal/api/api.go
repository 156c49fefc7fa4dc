// Package api exposes the pipeline over HTTP: start a run, poll its state
// and fetch results.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/mail-pilot/internal/pipeline"
	"github.com/xaenox/mail-pilot/internal/source"
	"github.com/xaenox/mail-pilot/internal/storage"
)

const maxBodyBytes = 16 << 20

// Orchestrator is the part of the pipeline the API drives.
type Orchestrator interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Handle, error)
	Poll() pipeline.ProcessingState
	Result() (*pipeline.Result, error)
}

type Server struct {
	addr     string
	mux      *http.ServeMux
	server   *http.Server
	pipeline Orchestrator
	source   source.Source
	storage  storage.Storage
	lookback time.Duration
	logger   *zap.Logger
}

type Option func(*Server)

// WithSource sets where messages come from when a run request has none.
func WithSource(src source.Source, lookback time.Duration) Option {
	return func(s *Server) {
		s.source = src
		s.lookback = lookback
	}
}

// WithStorage enables the run history endpoints.
func WithStorage(st storage.Storage) Option {
	return func(s *Server) { s.storage = st }
}

func New(addr string, p Orchestrator, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{addr: addr, pipeline: p, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/runs", s.handleStartRun)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/results", s.handleResults)
	s.mux.HandleFunc("GET /api/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", zap.String("addr", s.addr))
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down API server")
		return s.server.Shutdown(shutdownCtx)
	}
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes a JSON request body into v.
func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}
