// Package api exposes the conversational assistant over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/GarayInvestments/HouseRenoAI-sub003/internal/ops"
)

// SessionDeleter removes a stored session by ID.
type SessionDeleter interface {
	Delete(id string) error
}

// ServerConfig carries the dependencies and knobs for the HTTP server.
type ServerConfig struct {
	Logger       *slog.Logger
	Orchestrator Conversationalist
	Registry     *ops.Registry
	Sessions     SessionDeleter

	// ReadyCheck is consulted by GET /ready; nil means always ready.
	ReadyCheck func() error

	// TrustProxy enables X-Real-IP / X-Forwarded-For for rate limiting.
	TrustProxy bool
	// RateRPS and RateBurst shape the per-IP token bucket. Zero values
	// pick sensible defaults.
	RateRPS   float64
	RateBurst int
}

// Server routes HTTP requests to the orchestration layer.
type Server struct {
	logger     *slog.Logger
	orch       Conversationalist
	registry   *ops.Registry
	sessions   SessionDeleter
	readyCheck func() error
	mux        http.Handler
}

// NewServer builds the routing table and middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Logger == nil {
		return nil, errors.New("api: logger is required")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("api: orchestrator is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("api: operation registry is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("api: session store is required")
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 60
	}

	s := &Server{
		logger:     cfg.Logger,
		orch:       cfg.Orchestrator,
		registry:   cfg.Registry,
		sessions:   cfg.Sessions,
		readyCheck: cfg.ReadyCheck,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /operations", s.handleOperations)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	limiter := newRateLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst)

	// Outermost first: Recovery -> RequestID -> Logging -> RateLimit.
	var handler http.Handler = mux
	middlewares := []func(http.Handler) http.Handler{
		recoveryMiddleware(cfg.Logger),
		requestIDMiddleware,
		loggingMiddleware(cfg.Logger),
		rateLimitMiddleware(limiter, cfg.TrustProxy, cfg.Logger),
	}
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}

	// Probes and metrics stay outside the stack so load balancers never
	// trip the rate limiter or flood the access log.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", s.handleHealth)
	top.HandleFunc("GET /ready", s.handleReady)
	top.Handle("GET /metrics", promhttp.Handler())
	top.Handle("/", handler)
	s.mux = top

	return s, nil
}

// Handler returns the root handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}
