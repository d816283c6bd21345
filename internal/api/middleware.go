package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ShopMCP-Chain/internal/observability/metrics"
	"ShopMCP-Chain/internal/tools"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func observe(pattern string, next http.Handler) http.Handler {
	method, path, found := strings.Cut(pattern, " ")
	if !found {
		method, path = "ANY", pattern
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(path, method, rec.status, time.Since(started))
	})
}

const (
	limiterIdleTTL    = 30 * time.Minute
	limiterPruneEvery = 1024
)

type limiterEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// rateLimiter 为每个会话或客户端地址维护一个令牌桶，空闲条目在访问时顺带清理。
type rateLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
	calls   int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &rateLimiter{rps: rate.Limit(rps), burst: burst, entries: make(map[string]*limiterEntry)}
}

func (l *rateLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%limiterPruneEvery == 0 {
		for k, entry := range l.entries {
			if now.Sub(entry.last) > limiterIdleTTL {
				delete(l.entries, k)
			}
		}
	}
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = entry
	}
	entry.last = now
	return entry.limiter.AllowN(now, 1)
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(limiterKey(r), time.Now()) {
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, tools.ErrorBody{Code: "RATE_LIMITED", Category: "RATE_LIMITED", Message: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limiterKey(r *http.Request) string {
	if key := sessionKey(r); !key.Empty() {
		return "session:" + key.ID()
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
