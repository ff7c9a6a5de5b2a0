package httpx

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter is a per-identity token bucket limiter, adapted from
// gateway/middleware/ratelimit.go. None of the service routers in this
// module mount its Middleware, so no endpoint is rate limited.
type RateLimiter struct {
	perSecond float64
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{perSecond: perSecond, burst: burst, visitors: make(map[string]*rate.Limiter)}
}

func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		limiter := r.obtain(clientID(req))
		if !limiter.Allow() {
			WriteError(w, NewError(http.StatusTooManyRequests, KindTransient, "rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (r *RateLimiter) obtain(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.visitors[id]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(r.perSecond), r.burst)
	r.visitors[id] = l
	return l
}

func clientID(r *http.Request) string {
	if signer := strings.TrimSpace(r.Header.Get("X-Agent-Id")); signer != "" {
		return "agent:" + signer
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if parsed := net.ParseIP(strings.TrimSpace(strings.Split(ip, ",")[0])); parsed != nil {
			return parsed.String()
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
