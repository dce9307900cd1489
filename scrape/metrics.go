package scrape

import (
	"sync/atomic"

	"github.com/hazyhaar/mangafetch/cache"
)

// Metrics is a point-in-time view of the scraper's counters.
type Metrics struct {
	Requests           int64 `json:"requests"`
	Succeeded          int64 `json:"succeeded"`
	CacheHits          int64 `json:"cache_hits"`
	CacheMisses        int64 `json:"cache_misses"`
	Duplicates         int64 `json:"duplicates"`
	Fetches            int64 `json:"fetches"`
	FetchFailures      int64 `json:"fetch_failures"`
	Retries            int64 `json:"retries"`
	Fallbacks          int64 `json:"fallbacks"`
	ExtractionFailures int64 `json:"extraction_failures"`
	FallbackPasses     int64 `json:"fallback_passes"` // extractions won by the fallback rule set
	BreakerSkips       int64 `json:"breaker_skips"`
	RateLimited        int64 `json:"rate_limited"`
	Exhausted          int64 `json:"exhausted"`
	Aborted            int64 `json:"aborted"`
	InFlight           int64 `json:"in_flight"`

	Cache   cache.Stats `json:"cache"`
	Sources int         `json:"sources"`
}

type counters struct {
	requests           atomic.Int64
	succeeded          atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	duplicates         atomic.Int64
	fetches            atomic.Int64
	fetchFailures      atomic.Int64
	retries            atomic.Int64
	fallbacks          atomic.Int64
	extractionFailures atomic.Int64
	fallbackPasses     atomic.Int64
	breakerSkips       atomic.Int64
	rateLimited        atomic.Int64
	exhausted          atomic.Int64
	aborted            atomic.Int64
	inFlight           atomic.Int64
}

func (c *counters) snapshot() Metrics {
	return Metrics{
		Requests:           c.requests.Load(),
		Succeeded:          c.succeeded.Load(),
		CacheHits:          c.cacheHits.Load(),
		CacheMisses:        c.cacheMisses.Load(),
		Duplicates:         c.duplicates.Load(),
		Fetches:            c.fetches.Load(),
		FetchFailures:      c.fetchFailures.Load(),
		Retries:            c.retries.Load(),
		Fallbacks:          c.fallbacks.Load(),
		ExtractionFailures: c.extractionFailures.Load(),
		FallbackPasses:     c.fallbackPasses.Load(),
		BreakerSkips:       c.breakerSkips.Load(),
		RateLimited:        c.rateLimited.Load(),
		Exhausted:          c.exhausted.Load(),
		Aborted:            c.aborted.Load(),
		InFlight:           c.inFlight.Load(),
	}
}
