package shield

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// maxClients bounds the number of tracked client buckets.
const maxClients = 10000

// ClientLimiter is a per-client-IP token bucket in front of the API. It
// protects the scraper from a single noisy caller, independently of the
// per-source pacing done further down. Idle clients age out of the table.
type ClientLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	clients *expirable.LRU[string, *rate.Limiter]
	exclude []string
}

// NewClientLimiter allows requests per window per client IP, with a burst of
// requests. Paths under any exclude prefix are never limited.
func NewClientLimiter(requests int, window time.Duration, exclude ...string) *ClientLimiter {
	if requests <= 0 {
		requests = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ClientLimiter{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		window:  window,
		clients: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, 2*window),
		exclude: exclude,
	}
}

// Allow reports whether client may make a request now.
func (cl *ClientLimiter) Allow(client string) bool {
	lim, ok := cl.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(cl.limit, cl.burst)
		cl.clients.Add(client, lim)
	}
	return lim.Allow()
}

// Middleware answers 429 with a JSON error once a client's budget is spent.
func (cl *ClientLimiter) Middleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(cl.window.Seconds()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range cl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := ClientIP(r)
		if cl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		GetLogger(r.Context()).Warn("ratelimit: request blocked", "ip", ip)
		w.Header().Set("Retry-After", retryAfter)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
	})
}

// ClientIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
