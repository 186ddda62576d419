package api

import (
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"solana-lending-lab/internal/observability"
)

// idleTTL is how long an unused client limiter is kept.
const idleTTL = 5 * time.Minute

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client address.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*rateEntry
	clockNow func() time.Time
	logger   *log.Logger
}

// NewRateLimiter allows perSecond requests per client with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*rateEntry),
		clockNow:  time.Now,
		logger:    log.New(io.Discard, "", 0),
	}
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow(clientID(req)) {
			observability.RecordRateLimited()
			w.Header().Set("Retry-After", "1")
			writeJSON(r.logger, w, http.StatusTooManyRequests, errorResponse(nil,
				newRPCError(CodeInvalidRequest, http.StatusText(http.StatusTooManyRequests),
					ErrorData{Name: "RateLimited", Retryable: true, RequestID: RequestID(req.Context())})))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Allow consumes one token for id.
func (r *RateLimiter) Allow(id string) bool {
	now := r.clockNow()
	return r.obtainLimiter(id, now).AllowN(now, 1)
}

func (r *RateLimiter) obtainLimiter(id string, now time.Time) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.visitors[id]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(r.perSecond, r.burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Sweep drops limiters idle for longer than idleTTL.
func (r *RateLimiter) Sweep() int {
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, entry := range r.visitors {
		if now.Sub(entry.lastSeen) > idleTTL {
			delete(r.visitors, id)
			removed++
		}
	}
	return removed
}

// Run sweeps idle limiters until stop is closed.
func (r *RateLimiter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
