// Package http provides the HTTP transport layer for the contactrelay agent.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	POST   /contacts
//	GET    /outbox
//	DELETE /outbox
//	POST   /flush
//	GET    /activity
//	GET    /activity/ws
//	GET    /endpoint
//	PUT    /endpoint
//	GET    /archive
//	POST   /archive/replay
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/snehjoshi/contactrelay/internal/activity"
	"github.com/snehjoshi/contactrelay/internal/archive"
	"github.com/snehjoshi/contactrelay/internal/config"
	"github.com/snehjoshi/contactrelay/internal/connectivity"
	"github.com/snehjoshi/contactrelay/internal/delivery"
	"github.com/snehjoshi/contactrelay/internal/metrics"
	"github.com/snehjoshi/contactrelay/internal/outbox"
	transportws "github.com/snehjoshi/contactrelay/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with contactrelay route wiring.
type Server struct {
	inner *http.Server
}

// Deps collects everything the transport needs. Archive may be nil
// (ephemeral storage mode); Registry may be nil (metrics disabled).
type Deps struct {
	Processor    *outbox.Processor
	Client       *delivery.Client
	Activity     *activity.Log
	Connectivity connectivity.Source
	Archive      *archive.Store
	Registry     *metrics.Registry
	AgentID      string
}

// New builds a Server. The caller is responsible for ListenAndServe / Shutdown.
func New(d Deps, cfg *config.Config) *Server {
	h := &Handler{
		proc:    d.Processor,
		client:  d.Client,
		log:     d.Activity,
		conn:    d.Connectivity,
		archive: d.Archive,
		agentID: d.AgentID,
	}
	if d.Registry != nil {
		h.flushCtr = func(result string) { d.Registry.Flushes.Inc(result) }
	}
	ws := &transportws.Handler{Log: d.Activity}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	// Submission
	mux.HandleFunc("POST /contacts", h.submitContact)

	// Outbox
	mux.HandleFunc("GET /outbox", h.listOutbox)
	mux.HandleFunc("DELETE /outbox", h.purgeOutbox)
	mux.HandleFunc("POST /flush", h.triggerFlush)

	// Activity
	mux.HandleFunc("GET /activity", h.listActivity)
	mux.Handle("GET /activity/ws", ws)

	// Endpoint configuration
	mux.HandleFunc("GET /endpoint", h.getEndpoint)
	mux.HandleFunc("PUT /endpoint", h.putEndpoint)

	// Abandoned-item archive
	mux.HandleFunc("GET /archive", h.listArchive)
	mux.HandleFunc("POST /archive/replay", h.replayArchive)

	// Build middleware chain: body cap → logging → auth → rate-limit.
	var handler http.Handler = mux
	handler = chain(handler,
		MaxBodyMiddleware,
		LoggingMiddleware(d.Registry),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(50, 100),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. "127.0.0.1:8384").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
