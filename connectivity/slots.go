package connectivity

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Slots bounds concurrent fetches globally and per source. Waiters are
// served in FIFO order by the underlying weighted semaphores.
type Slots struct {
	global    *semaphore.Weighted
	perSource int64

	mu      sync.Mutex
	sources map[string]*semaphore.Weighted
}

// NewSlots creates limits of global concurrent fetches and perSource per
// source. Non-positive values mean unlimited.
func NewSlots(global, perSource int) *Slots {
	s := &Slots{sources: make(map[string]*semaphore.Weighted)}
	if global > 0 {
		s.global = semaphore.NewWeighted(int64(global))
	}
	if perSource > 0 {
		s.perSource = int64(perSource)
	}
	return s
}

func (s *Slots) source(id string) *semaphore.Weighted {
	if s.perSource == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sources[id]
	if !ok {
		sem = semaphore.NewWeighted(s.perSource)
		s.sources[id] = sem
	}
	return sem
}

// Acquire waits for a per-source slot and then a global slot. The returned
// release func frees both and is safe to call more than once.
func (s *Slots) Acquire(ctx context.Context, source string) (func(), error) {
	src := s.source(source)
	if src != nil {
		if err := src.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if s.global != nil {
		if err := s.global.Acquire(ctx, 1); err != nil {
			if src != nil {
				src.Release(1)
			}
			return nil, err
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			if s.global != nil {
				s.global.Release(1)
			}
			if src != nil {
				src.Release(1)
			}
		})
	}, nil
}
