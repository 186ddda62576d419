// Package api exposes the lending program over HTTP: a JSON-RPC 2.0 endpoint
// for signed requests and queries, a websocket event stream, health and
// Prometheus metrics.
package api

import (
	"context"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"solana-lending-lab/internal/observability"
	"solana-lending-lab/internal/program"
	"solana-lending-lab/internal/storage"
)

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// withRequestID accepts a caller supplied id or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// Options configures a Server.
type Options struct {
	RateLimit    float64 // requests per second per client; 0 disables
	RateBurst    int
	MaxBodyBytes int64
	Logger       *log.Logger
}

// Server routes HTTP traffic to the RPC handler and the event hub.
type Server struct {
	router  chi.Router
	rpc     *RPCHandler
	hub     *Hub
	limiter *RateLimiter
}

// NewServer wires the routes. hub must be registered as a sink of p for
// subscribers to receive events.
func NewServer(p *program.Processor, hub *Hub, events storage.EventStore, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	s := &Server{
		rpc: NewRPCHandler(p, events, logger),
		hub: hub,
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
		s.limiter.logger = logger
	}

	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		if opts.MaxBodyBytes > 0 {
			r.Use(func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					req.Body = http.MaxBytesReader(w, req.Body, opts.MaxBodyBytes)
					next.ServeHTTP(w, req)
				})
			})
		}
		r.Post("/", s.rpc.ServeHTTP)
		r.Post("/rpc", s.rpc.ServeHTTP)
		if hub != nil {
			r.Get("/ws", hub.ServeHTTP)
		}
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// RateLimiter returns the limiter, or nil when rate limiting is disabled.
func (s *Server) RateLimiter() *RateLimiter { return s.limiter }
