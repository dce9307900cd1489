package scrape

import (
	"fmt"
	"time"

	"github.com/hazyhaar/mangafetch/connectivity"
	"github.com/hazyhaar/mangafetch/source"
)

// SourceHealth is the health view of one registered source.
type SourceHealth struct {
	Source      string    `json:"source"`
	Name        string    `json:"name"`
	Active      bool      `json:"active"`
	Priority    int       `json:"priority"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitzero"`
	NextAttempt time.Time `json:"next_attempt,omitzero"`
	Healthy     bool      `json:"healthy"`
}

// SourceHealth reports breaker state for every registered source in
// candidate order. A source is healthy when it is active and its breaker
// is closed.
func (s *Scraper) SourceHealth() []SourceHealth {
	list := s.registry.List()
	out := make([]SourceHealth, 0, len(list))
	for _, src := range list {
		snap := s.breakers.Get(src.ID).Snapshot()
		out = append(out, SourceHealth{
			Source:      src.ID,
			Name:        src.Name,
			Active:      src.Active,
			Priority:    src.Priority,
			State:       snap.State,
			Failures:    snap.Failures,
			LastFailure: snap.LastFailure,
			NextAttempt: snap.NextAttempt,
			Healthy:     src.Active && snap.State == connectivity.BreakerClosed.String(),
		})
	}
	return out
}

// ResetSource closes the breaker of one source, e.g. after an operator has
// confirmed it is back.
func (s *Scraper) ResetSource(id string) error {
	if _, ok := s.registry.Get(id); !ok {
		return fmt.Errorf("%w: %s", source.ErrUnknownSource, id)
	}
	s.breakers.Get(id).Reset()
	s.logger.Info("scrape: breaker reset", "source", id)
	return nil
}
