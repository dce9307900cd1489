package connectivity

import (
	"sort"
	"sync"
	"time"
)

// BreakerSnapshot is the health view of one source's breaker.
type BreakerSnapshot struct {
	Source      string    `json:"source"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	NextAttempt time.Time `json:"next_attempt,omitempty"`
}

// BreakerSet holds one CircuitBreaker per source, created on first use
// with the shared options.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	opts     []BreakerOption
}

// NewBreakerSet creates an empty set; opts apply to every breaker it creates.
func NewBreakerSet(opts ...BreakerOption) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*CircuitBreaker),
		opts:     opts,
	}
}

// Get returns the breaker for source, creating it if needed.
func (s *BreakerSet) Get(source string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[source]
	if !ok {
		cb = NewCircuitBreaker(source, s.opts...)
		s.breakers[source] = cb
	}
	return cb
}

// IsOpen reports whether calls to source are currently blocked.
func (s *BreakerSet) IsOpen(source string) bool { return s.Get(source).IsOpen() }

// RecordSuccess reports a successful call to source.
func (s *BreakerSet) RecordSuccess(source string) { s.Get(source).RecordSuccess() }

// RecordFailure reports a failed call to source.
func (s *BreakerSet) RecordFailure(source string) { s.Get(source).RecordFailure() }

// Snapshot returns the state of every known breaker, sorted by source.
func (s *BreakerSet) Snapshot() []BreakerSnapshot {
	s.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		list = append(list, cb)
	}
	s.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
