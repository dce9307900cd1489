package connectivity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a requests-per-window ceiling.
type RateLimit struct {
	Requests int           `yaml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" json:"window"`
}

// Valid reports whether the limit is usable.
func (l RateLimit) Valid() bool { return l.Requests > 0 && l.Window > 0 }

// interval is the minimum spacing between two requests.
func (l RateLimit) interval() time.Duration { return l.Window / time.Duration(l.Requests) }

// RateLimiter paces requests per source. Each source gets a token bucket
// refilling every Window/Requests with burst 1, so consecutive requests are
// spaced by at least that interval and no rolling window sees more than
// Requests calls.
type RateLimiter struct {
	mu        sync.Mutex
	def       RateLimit
	overrides map[string]RateLimit
	limiters  map[string]*rate.Limiter
}

// NewRateLimiter creates a limiter applying def to every source without
// an override.
func NewRateLimiter(def RateLimit) *RateLimiter {
	if !def.Valid() {
		def = RateLimit{Requests: 10, Window: time.Second}
	}
	return &RateLimiter{
		def:       def,
		overrides: make(map[string]RateLimit),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// SetLimit installs a per-source override. An invalid limit removes it.
func (rl *RateLimiter) SetLimit(source string, l RateLimit) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if l.Valid() {
		rl.overrides[source] = l
	} else {
		delete(rl.overrides, source)
		l = rl.def
	}
	if lim, ok := rl.limiters[source]; ok {
		lim.SetLimit(rate.Every(l.interval()))
	}
}

func (rl *RateLimiter) limiter(source string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	lim, ok := rl.limiters[source]
	if !ok {
		l, ok := rl.overrides[source]
		if !ok {
			l = rl.def
		}
		lim = rate.NewLimiter(rate.Every(l.interval()), 1)
		rl.limiters[source] = lim
	}
	return lim
}

// Wait blocks until a request to source is compliant or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, source string) error {
	return rl.limiter(source).Wait(ctx)
}

// Allow is the non-blocking variant: it consumes a slot and returns true
// only if a request may be sent right now.
func (rl *RateLimiter) Allow(source string) bool {
	return rl.limiter(source).Allow()
}
