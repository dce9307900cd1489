package source

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry errors.
var (
	ErrUnknownSource = errors.New("source: unknown source")
	ErrDuplicate     = errors.New("source: already registered")
	ErrNoCandidate   = errors.New("source: no active source serves target")
)

// Registry holds the known sources and orders them for fallback.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]*Source
	logger   *slog.Logger
	onChange []func([]*Source)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sources: make(map[string]*Source),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnChange registers fn to run with the full source list after every
// Register, Remove or Replace.
func (r *Registry) OnChange(fn func([]*Source)) {
	r.mu.Lock()
	r.onChange = append(r.onChange, fn)
	r.mu.Unlock()
}

// Register validates s and adds a copy of it.
func (r *Registry) Register(s *Source) error {
	c := s.Clone()
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	if _, ok := r.sources[c.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicate, c.ID)
	}
	r.sources[c.ID] = c
	r.mu.Unlock()

	r.logger.Info("source registered", "source", c.ID, "priority", c.Priority, "targets", c.Targets())
	r.notify()
	return nil
}

// Remove drops a source. It reports whether the source existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.sources[id]
	delete(r.sources, id)
	r.mu.Unlock()
	if ok {
		r.notify()
	}
	return ok
}

// Replace swaps the whole source set. Invalid entries are logged and
// skipped; the rest are installed atomically. It returns the number of
// sources installed.
func (r *Registry) Replace(all []*Source) int {
	next := make(map[string]*Source, len(all))
	for _, s := range all {
		c := s.Clone()
		if err := c.Validate(); err != nil {
			r.logger.Warn("source skipped", "source", s.ID, "error", err)
			continue
		}
		if _, dup := next[c.ID]; dup {
			r.logger.Warn("source skipped", "source", c.ID, "error", ErrDuplicate)
			continue
		}
		next[c.ID] = c
	}
	r.mu.Lock()
	r.sources = next
	r.mu.Unlock()

	r.logger.Info("sources replaced", "count", len(next))
	r.notify()
	return len(next)
}

// Get returns a copy of the source with the given ID.
func (r *Registry) Get(id string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns copies of all sources ordered by priority, then ID.
func (r *Registry) List() []*Source {
	r.mu.RLock()
	out := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s.Clone())
	}
	r.mu.RUnlock()
	sortByPriority(out)
	return out
}

// Candidates returns the sources to try for target, in order.
//
// The first entry is preferred when named (it must exist and be active),
// otherwise the highest-priority active source serving target. It is
// followed by every other active, fallback-eligible source serving target,
// by ascending priority.
func (r *Registry) Candidates(target, preferred string) ([]*Source, error) {
	all := r.List()

	var primary *Source
	if preferred != "" {
		for _, s := range all {
			if s.ID == preferred {
				primary = s
				break
			}
		}
		if primary == nil || !primary.Active {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, preferred)
		}
		if !primary.Supports(target) {
			return nil, fmt.Errorf("%w: %s on %s", ErrNoEndpoint, target, preferred)
		}
	} else {
		for _, s := range all {
			if s.Active && s.Supports(target) {
				primary = s
				break
			}
		}
		if primary == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoCandidate, target)
		}
	}

	out := []*Source{primary}
	for _, s := range all {
		if s.ID == primary.ID || !s.Active || !s.Fallback || !s.Supports(target) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *Registry) notify() {
	r.mu.RLock()
	hooks := append([]func([]*Source){}, r.onChange...)
	r.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	list := r.List()
	for _, fn := range hooks {
		fn(list)
	}
}

func sortByPriority(ss []*Source) {
	sort.Slice(ss, func(i, j int) bool {
		if ss[i].Priority != ss[j].Priority {
			return ss[i].Priority < ss[j].Priority
		}
		return ss[i].ID < ss[j].ID
	})
}
