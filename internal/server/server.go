// Package server sets up the HTTP router, middleware, and request handlers.
//
// This is the "wire-level demonstration surface" named alongside the core
// pipeline: a minimal OpenAI-compatible /v1/chat/completions route whose
// only job is to give internal/respproc and internal/backend something to
// run end-to-end against. It deliberately stays thin — one route, one
// dialect in, one dialect out — since dialect translation and multi-route
// ingress sit outside the processing core this gateway exists to exercise.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/relaycore/gateway/internal/backend"
	"github.com/relaycore/gateway/internal/config"
	"github.com/relaycore/gateway/internal/respproc"
)

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router chi.Router
	cfg    *config.Config
	log    *zap.Logger

	// connectors maps model names to the backend.Connector that handles
	// them. For example: "gemini-2.0-flash" -> GoogleConnector,
	// "claude-3-haiku-20240307" -> AnthropicConnector.
	connectors map[string]backend.Connector

	processor *respproc.ResponseProcessor
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(cfg *config.Config, connectors map[string]backend.Connector, processor *respproc.ResponseProcessor, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, connectors: connectors, processor: processor, log: log}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Content-Type", "X-Session-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	s.router = r
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
