package scrape

import (
	"context"
	"errors"
	"net/http"

	"github.com/hazyhaar/mangafetch/connectivity"
	"github.com/hazyhaar/mangafetch/idgen"
	"github.com/hazyhaar/mangafetch/kit"
	"github.com/hazyhaar/mangafetch/source"
)

// ScrapeRequest is the transport form of a Scrape call.
type ScrapeRequest struct {
	Target      string            `json:"target"`
	Params      map[string]string `json:"params,omitempty"`
	Source      string            `json:"source,omitempty"`
	NoCache     bool              `json:"no_cache,omitempty"`
	NonBlocking bool              `json:"non_blocking,omitempty"`
}

type sourceRequest struct {
	Source string `json:"source"`
}

type abortResponse struct {
	Aborted int `json:"aborted"`
}

type healthResponse struct {
	Sources []SourceHealth `json:"sources"`
}

// middleware wraps every endpoint exposed over HTTP or MCP.
func (s *Scraper) middleware(name string) kit.Middleware {
	return kit.Chain(
		kit.Recovery(s.logger),
		kit.RequestID(idgen.Prefixed("req_", idgen.Default)),
		kit.Logging(s.logger, name),
	)
}

func (s *Scraper) scrapeEndpoint() kit.Endpoint {
	return s.middleware("scrape")(func(ctx context.Context, req any) (any, error) {
		r := req.(*ScrapeRequest)
		if r.Target == "" {
			return nil, errTargetRequired
		}
		return s.Scrape(ctx, r.Target, Options{
			Params:      r.Params,
			Source:      r.Source,
			NoCache:     r.NoCache,
			NonBlocking: r.NonBlocking,
		})
	})
}

func (s *Scraper) healthEndpoint() kit.Endpoint {
	return s.middleware("source_health")(func(ctx context.Context, req any) (any, error) {
		return &healthResponse{Sources: s.SourceHealth()}, nil
	})
}

func (s *Scraper) metricsEndpoint() kit.Endpoint {
	return s.middleware("metrics")(func(ctx context.Context, req any) (any, error) {
		m := s.Metrics()
		return &m, nil
	})
}

func (s *Scraper) abortEndpoint() kit.Endpoint {
	return s.middleware("abort_all")(func(ctx context.Context, req any) (any, error) {
		return &abortResponse{Aborted: s.AbortAll()}, nil
	})
}

func (s *Scraper) sourcesEndpoint() kit.Endpoint {
	return s.middleware("sources")(func(ctx context.Context, req any) (any, error) {
		return s.registry.List(), nil
	})
}

func (s *Scraper) resetEndpoint() kit.Endpoint {
	return s.middleware("reset_source")(func(ctx context.Context, req any) (any, error) {
		r := req.(*sourceRequest)
		if err := s.ResetSource(r.Source); err != nil {
			return nil, err
		}
		return s.healthOf(r.Source), nil
	})
}

func (s *Scraper) healthOf(id string) *SourceHealth {
	for _, h := range s.SourceHealth() {
		if h.Source == id {
			return &h
		}
	}
	return nil
}

var errTargetRequired = errors.New("scrape: target is required")

// StatusCode maps a Scrape error to an HTTP status. "No data right now"
// signals map to 409, 429 and 503 so clients know to retry later.
func StatusCode(err error) int {
	var open *connectivity.ErrCircuitOpen
	switch {
	case errors.Is(err, ErrDuplicateInFlight):
		return http.StatusConflict
	case errors.Is(err, connectivity.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrAllSourcesExhausted), errors.Is(err, ErrAborted), errors.As(err, &open):
		return http.StatusServiceUnavailable
	case errors.Is(err, source.ErrUnknownSource),
		errors.Is(err, source.ErrNoCandidate),
		errors.Is(err, source.ErrNoEndpoint):
		return http.StatusNotFound
	case errors.Is(err, source.ErrMissingParam), errors.Is(err, errTargetRequired):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
