package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// requestLogger emits one structured log line per request.
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("remote_addr", r.RemoteAddr),
		)
	})
}

// TokenAuth checks a bearer token against the configured set. Issuing the
// tokens is the job of whatever sits in front of the API.
type TokenAuth struct {
	tokens [][]byte
	logger *slog.Logger
}

// NewTokenAuth creates the middleware. With no tokens every request passes.
func NewTokenAuth(tokens []string, logger *slog.Logger) *TokenAuth {
	a := &TokenAuth{logger: logger}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Enabled reports whether any token is configured.
func (a *TokenAuth) Enabled() bool { return len(a.tokens) > 0 }

func (a *TokenAuth) isValidToken(token string) bool {
	valid := 0
	for _, t := range a.tokens {
		valid |= subtle.ConstantTimeCompare([]byte(token), t)
	}
	return valid == 1
}

// Wrap rejects requests without a valid bearer token.
func (a *TokenAuth) Wrap(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !a.isValidToken(strings.TrimSpace(token)) {
			a.logger.Warn("rejected request without valid token",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, ErrUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimiter limits requests per client IP with token buckets.
type RateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*limiterEntry
	rate       rate.Limit
	burst      int
	maxEntries int
	idle       time.Duration
	logger     *slog.Logger
	stopChan   chan struct{}
	stopOnce   sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing reqPerMinute per IP with a
// burst of ten seconds worth of requests.
func NewRateLimiter(reqPerMinute float64, logger *slog.Logger) *RateLimiter {
	burst := int(reqPerMinute / 6)
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters:   make(map[string]*limiterEntry),
		rate:       rate.Limit(reqPerMinute / 60),
		burst:      burst,
		maxEntries: 10000,
		idle:       10 * time.Minute,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Stop stops the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.evictIdle(time.Now())
		case <-rl.stopChan:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.limiters, ip)
		}
	}
}

// Allow reports whether a request from ip may proceed.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()
	rl.mu.Lock()
	e, ok := rl.limiters[ip]
	if !ok {
		if len(rl.limiters) >= rl.maxEntries {
			rl.evictOldest()
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = e
	}
	e.lastSeen = now
	rl.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// evictOldest drops the least recently seen entry. Callers hold rl.mu.
func (rl *RateLimiter) evictOldest() {
	var oldestIP string
	var oldest time.Time
	for ip, e := range rl.limiters {
		if oldestIP == "" || e.lastSeen.Before(oldest) {
			oldestIP, oldest = ip, e.lastSeen
		}
	}
	delete(rl.limiters, oldestIP)
}

// RetryAfter estimates when ip may send its next request.
func (rl *RateLimiter) RetryAfter(ip string) time.Duration {
	rl.mu.Lock()
	e, ok := rl.limiters[ip]
	rl.mu.Unlock()
	if !ok {
		return 0
	}
	res := e.limiter.Reserve()
	delay := res.Delay()
	res.Cancel()
	return delay
}

// Wrap adds rate limiting to a handler. RemoteAddr has already been
// normalized by chi's RealIP middleware.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		if !rl.Allow(ip) {
			rl.logger.Warn("rate limited", slog.String("remote_addr", ip))
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.RetryAfter(ip).Seconds())+1))
			writeError(w, http.StatusTooManyRequests, ErrRateLimit, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimitBodySize wraps a handler with request body size limiting
func LimitBodySize(next http.Handler, maxBytes int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		next.ServeHTTP(w, r)
	})
}
