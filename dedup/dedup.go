// CLAUDE:SUMMARY In-flight request suppression keyed by fingerprint, with a fixed expiry window.
// Package dedup suppresses concurrent duplicate fetches. A key is held from
// Acquire until its release func is called or the window elapses, whichever
// comes first, so a hung request can never pin a fingerprint forever.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInFlight is returned by Acquire when the key is already held.
var ErrInFlight = errors.New("dedup: request already in flight")

// DefaultWindow is the hold time applied when none is configured.
const DefaultWindow = 5 * time.Second

// Deduplicator is implemented by Memory and Redis.
type Deduplicator interface {
	// Acquire claims key. It returns ErrInFlight if another caller holds it.
	// The release func is idempotent and only frees the caller's own claim.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type hold struct {
	token   uint64
	expires time.Time
}

// Memory is a single-process Deduplicator.
type Memory struct {
	mu     sync.Mutex
	held   map[string]hold
	window time.Duration
	seq    uint64
	now    func() time.Time
}

// MemoryOption configures a Memory deduplicator.
type MemoryOption func(*Memory)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = fn }
}

// NewMemory creates an in-process deduplicator holding keys for window.
func NewMemory(window time.Duration, opts ...MemoryOption) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	m := &Memory{
		held:   make(map[string]hold),
		window: window,
		now:    time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Acquire implements Deduplicator.
func (m *Memory) Acquire(_ context.Context, key string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if h, ok := m.held[key]; ok && now.Before(h.expires) {
		return nil, ErrInFlight
	}
	m.sweep(now)
	m.seq++
	token := m.seq
	m.held[key] = hold{token: token, expires: now.Add(m.window)}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if h, ok := m.held[key]; ok && h.token == token {
				delete(m.held, key)
			}
		})
	}, nil
}

// InFlight returns the number of unexpired held keys.
func (m *Memory) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.now())
	return len(m.held)
}

// sweep drops expired holds. Must be called with mu held.
func (m *Memory) sweep(now time.Time) {
	for k, h := range m.held {
		if !now.Before(h.expires) {
			delete(m.held, k)
		}
	}
}
