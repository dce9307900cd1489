// CLAUDE:SUMMARY HTTP surface of the scraper: chi routes for scrape, health, metrics, sources, reset and abort.
package scrape

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mangafetch/kit"
)

// reserved query parameters on GET /scrape/{target}; everything else is
// passed to the source as a param.
const (
	qSource      = "source"
	qNoCache     = "no_cache"
	qNonBlocking = "non_blocking"
)

// Routes mounts the scraper API on r:
//
//	GET  /scrape/{target}?id=..&source=..&no_cache=1&non_blocking=1
//	POST /scrape                     JSON ScrapeRequest
//	GET  /health                     per-source breaker state
//	GET  /metrics                    counters
//	GET  /sources                    registered sources
//	POST /sources/{id}/reset         close a source's breaker
//	POST /abort                      cancel every in-flight call
func (s *Scraper) Routes(r chi.Router) {
	scrape := s.scrapeEndpoint()
	r.Get("/scrape/{target}", kit.HTTPHandler(scrape, decodeScrapeQuery, StatusCode))
	r.Post("/scrape", kit.HTTPHandler(scrape, decodeScrapeBody, StatusCode))
	r.Get("/health", kit.HTTPHandler(s.healthEndpoint(), noRequest, StatusCode))
	r.Get("/metrics", kit.HTTPHandler(s.metricsEndpoint(), noRequest, StatusCode))
	r.Get("/sources", kit.HTTPHandler(s.sourcesEndpoint(), noRequest, StatusCode))
	r.Post("/sources/{id}/reset", kit.HTTPHandler(s.resetEndpoint(), decodeSourceID, StatusCode))
	r.Post("/abort", kit.HTTPHandler(s.abortEndpoint(), noRequest, StatusCode))
}

// Handler returns a router serving Routes.
func (s *Scraper) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

func noRequest(*http.Request) (any, error) { return nil, nil }

func decodeScrapeQuery(r *http.Request) (any, error) {
	req := &ScrapeRequest{Target: chi.URLParam(r, "target")}
	q := r.URL.Query()
	var err error
	if req.NoCache, err = boolParam(q.Get(qNoCache)); err != nil {
		return nil, fmt.Errorf("%s: %w", qNoCache, err)
	}
	if req.NonBlocking, err = boolParam(q.Get(qNonBlocking)); err != nil {
		return nil, fmt.Errorf("%s: %w", qNonBlocking, err)
	}
	req.Source = q.Get(qSource)
	for k, v := range q {
		if k == qSource || k == qNoCache || k == qNonBlocking || len(v) == 0 {
			continue
		}
		if req.Params == nil {
			req.Params = make(map[string]string)
		}
		req.Params[k] = v[0]
	}
	return req, nil
}

func decodeScrapeBody(r *http.Request) (any, error) {
	var req ScrapeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func decodeSourceID(r *http.Request) (any, error) {
	return &sourceRequest{Source: chi.URLParam(r, "id")}, nil
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
