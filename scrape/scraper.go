// CLAUDE:SUMMARY Fetch orchestrator: dedup, cache, candidate ordering, breaker/rate/slot gating, retry, extraction, fallback, abort-all.
// Package scrape is the entry point of mangafetch. A Scraper owns every
// piece of shared state (breakers, rate windows, slots, cache, in-flight
// set) and runs each Scrape call through them:
//
//	dedup -> cache -> for each candidate source:
//	    breaker -> rate limit -> slot -> fetch (retry) -> extract
//	-> cache -> result
//
// Transient failures are retried on the same source, then the next source
// is tried. Caller cancellation and AbortAll never count against a source.
package scrape

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/mangafetch/cache"
	"github.com/hazyhaar/mangafetch/connectivity"
	"github.com/hazyhaar/mangafetch/dbopen"
	"github.com/hazyhaar/mangafetch/dedup"
	"github.com/hazyhaar/mangafetch/extract"
	"github.com/hazyhaar/mangafetch/fetch"
	"github.com/hazyhaar/mangafetch/horosafe"
	"github.com/hazyhaar/mangafetch/idgen"
	"github.com/hazyhaar/mangafetch/source"
)

// Options tune a single Scrape call.
type Options struct {
	// Params fill endpoint placeholders; the rest become query parameters.
	Params map[string]string
	// Source names a preferred source to try first.
	Source string
	// NoCache skips the cache lookup. The result is still cached.
	NoCache bool
	// NonBlocking skips a rate-limited source instead of waiting.
	NonBlocking bool
}

// Result is the outcome of a successful Scrape.
type Result struct {
	Target       string           `json:"target"`
	Source       string           `json:"source"`
	Kind         extract.Kind     `json:"kind"`
	Records      []extract.Record `json:"records"`
	Cached       bool             `json:"cached"`
	Fingerprint  string           `json:"fingerprint"`
	URL          string           `json:"url"`
	Via          string           `json:"via"`
	UsedFallback bool             `json:"used_fallback"`
	FetchedAt    time.Time        `json:"fetched_at"`
}

func (r *Result) clone() *Result {
	c := *r
	c.Records = append([]extract.Record(nil), r.Records...)
	return &c
}

// Scraper orchestrates fetching across sources. It is safe for concurrent
// use; create one per process.
type Scraper struct {
	cfg      Config
	logger   *slog.Logger
	registry *source.Registry
	engine   *extract.Engine
	cache    *cache.Cache[*Result]
	dedup    dedup.Deduplicator
	limiter  *connectivity.RateLimiter
	breakers *connectivity.BreakerSet
	slots    *connectivity.Slots
	retry    connectivity.RetryPolicy
	fetchers map[source.FetcherKind]fetch.Fetcher
	stats    counters
	callID   idgen.Generator
	clock    func() time.Time

	store   *source.Store
	closers []func() error

	mu    sync.Mutex
	calls map[string]context.CancelCauseFunc
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// WithRegistry uses an existing registry instead of a new one.
func WithRegistry(r *source.Registry) Option {
	return func(s *Scraper) { s.registry = r }
}

// WithFetcher replaces the fetcher used for sources of kind k.
func WithFetcher(k source.FetcherKind, f fetch.Fetcher) Option {
	return func(s *Scraper) { s.fetchers[k] = f }
}

// WithDeduplicator replaces the configured dedup backend.
func WithDeduplicator(d dedup.Deduplicator) Option {
	return func(s *Scraper) { s.dedup = d }
}

// WithClock sets the clock used by breakers, the cache and extraction.
func WithClock(fn func() time.Time) Option {
	return func(s *Scraper) { s.clock = fn }
}

// New builds a Scraper from cfg. Inline sources are registered (or
// imported into the sources database when one is configured).
func New(cfg Config, opts ...Option) (*Scraper, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s := &Scraper{
		cfg:      cfg,
		logger:   slog.Default(),
		retry:    cfg.Network.Retry,
		fetchers: make(map[source.FetcherKind]fetch.Fetcher),
		callID:   idgen.Prefixed("scr_", idgen.UUIDv7()),
		calls:    make(map[string]context.CancelCauseFunc),
		clock:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = source.NewRegistry(source.WithLogger(s.logger))
	}

	s.engine = extract.NewEngine(
		extract.WithLogger(s.logger),
		extract.WithPlaceholderImage(cfg.Network.PlaceholderImage),
		extract.WithClock(s.clock))
	s.cache = cache.New[*Result](cfg.Cache.MaxEntries, cache.WithClock(s.clock))
	s.limiter = connectivity.NewRateLimiter(cfg.Network.RateLimit)
	s.breakers = connectivity.NewBreakerSet(
		connectivity.WithBreakerThreshold(cfg.Network.Breaker.Threshold),
		connectivity.WithBreakerResetTimeout(cfg.Network.Breaker.ResetTimeout),
		connectivity.WithBreakerClock(s.clock),
		connectivity.WithBreakerLogger(s.logger))
	s.slots = connectivity.NewSlots(cfg.Network.MaxConcurrent, cfg.Network.MaxPerSource)

	if s.dedup == nil {
		s.dedup = s.newDeduplicator()
	}
	s.initFetchers()

	s.registry.OnChange(s.applyRateLimits)
	s.applyRateLimits(s.registry.List())

	if err := s.loadSources(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Scraper) newDeduplicator() dedup.Deduplicator {
	if s.cfg.Dedup.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: s.cfg.Dedup.RedisAddr})
		s.closers = append(s.closers, rdb.Close)
		s.logger.Info("dedup: using redis", "addr", s.cfg.Dedup.RedisAddr)
		return dedup.NewRedis(rdb, s.cfg.Dedup.RedisPrefix, s.cfg.Dedup.Window)
	}
	return dedup.NewMemory(s.cfg.Dedup.Window, dedup.WithClock(s.clock))
}

func (s *Scraper) initFetchers() {
	validate := horosafe.ValidateURL
	if s.cfg.Network.AllowPrivate {
		validate = horosafe.CheckScheme
	}
	httpF := s.fetchers[source.FetcherHTTP]
	if httpF == nil {
		httpF = fetch.NewHTTP(fetch.HTTPConfig{
			Timeout:      s.cfg.Network.Timeout,
			MaxBytes:     s.cfg.Network.MaxBodyBytes,
			UserAgent:    s.cfg.Network.UserAgent,
			URLValidator: validate,
			Logger:       s.logger,
		})
		s.fetchers[source.FetcherHTTP] = httpF
	}
	browserF := s.fetchers[source.FetcherBrowser]
	if browserF == nil {
		b := fetch.NewBrowser(fetch.BrowserConfig{
			RemoteURL:        s.cfg.Browser.RemoteURL,
			ResourceBlocking: s.cfg.Browser.ResourceBlocking,
			Settle:           s.cfg.Browser.Settle,
			URLValidator:     validate,
			Logger:           s.logger,
		})
		s.closers = append(s.closers, b.Close)
		browserF = b
		s.fetchers[source.FetcherBrowser] = browserF
	}
	if s.fetchers[source.FetcherAuto] == nil {
		s.fetchers[source.FetcherAuto] = &fetch.Auto{HTTP: httpF, Browser: browserF, Logger: s.logger}
	}
}

func (s *Scraper) loadSources() error {
	if s.cfg.SourcesDB == "" {
		for _, src := range s.cfg.Sources {
			if err := s.registry.Register(src); err != nil {
				return err
			}
		}
		return nil
	}

	db, err := dbopen.Open(s.cfg.SourcesDB, dbopen.WithMkdirAll(), dbopen.WithBusyTimeout(5000))
	if err != nil {
		return err
	}
	// data_version is per connection; one connection keeps the watcher honest.
	db.SetMaxOpenConns(1)
	s.closers = append(s.closers, db.Close)
	s.store = source.NewStore(db)
	ctx := context.Background()
	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("scrape: init sources db: %w", err)
	}
	if len(s.cfg.Sources) > 0 {
		if err := s.store.Import(ctx, s.cfg.Sources); err != nil {
			return err
		}
	}
	return s.registry.Reload(ctx, s.store)
}

func (s *Scraper) applyRateLimits(all []*source.Source) {
	for _, src := range all {
		s.limiter.SetLimit(src.ID, src.RateLimit)
	}
}

// Registry returns the source registry.
func (s *Scraper) Registry() *source.Registry { return s.registry }

// SourcesDB returns the sources database, or nil when sources are inline.
func (s *Scraper) SourcesDB() *sql.DB {
	if s.store == nil {
		return nil
	}
	return s.store.DB
}

// Run starts the background loops (cache janitor, sources watcher) and
// blocks until ctx is cancelled.
func (s *Scraper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.cache.Run(ctx, s.cfg.Cache.SweepInterval)
	}()
	if s.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.registry.Watch(ctx, s.store, s.cfg.WatchInterval)
		}()
	}
	wg.Wait()
}

// Close aborts in-flight calls and releases the browser, Redis client and
// sources database.
func (s *Scraper) Close() error {
	s.AbortAll()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Scrape fetches target, trying sources in registry order until one yields
// records.
//
// It returns ErrDuplicateInFlight when the same request is already
// running, ErrAllSourcesExhausted when no source produced records,
// connectivity.ErrRateLimited when every source was skipped in
// non-blocking mode, and ErrAborted after AbortAll. A cancelled ctx is
// returned as ctx.Err().
func (s *Scraper) Scrape(ctx context.Context, target string, opts Options) (*Result, error) {
	s.stats.requests.Add(1)
	fp := Fingerprint(target, opts.Params, opts.Source)

	release, err := s.dedup.Acquire(ctx, fp)
	if errors.Is(err, dedup.ErrInFlight) {
		s.stats.duplicates.Add(1)
		s.logger.DebugContext(ctx, "scrape: duplicate in flight", "target", target, "fingerprint", fp)
		return nil, ErrDuplicateInFlight
	}
	if err != nil {
		return nil, fmt.Errorf("scrape: dedup: %w", err)
	}
	defer release()

	if !opts.NoCache {
		if hit, ok := s.cache.Get(fp); ok {
			s.stats.cacheHits.Add(1)
			res := hit.clone()
			res.Cached = true
			return res, nil
		}
		s.stats.cacheMisses.Add(1)
	}

	cands, err := s.registry.Candidates(target, opts.Source)
	if err != nil {
		return nil, err
	}

	ctx, id, done := s.track(ctx)
	defer done()
	s.stats.inFlight.Add(1)
	defer s.stats.inFlight.Add(-1)

	log := s.logger.With("call_id", id, "target", target, "fingerprint", fp[:16])
	rateLimited := 0
	for i, src := range cands {
		res, err := s.trySource(ctx, log.With("source", src.ID), src, target, opts)
		if err == nil {
			res.Target = target
			res.Fingerprint = fp
			s.cache.Set(fp, res, s.cfg.ttlFor(res.Kind))
			s.stats.succeeded.Add(1)
			return res.clone(), nil
		}
		if ctx.Err() != nil {
			return nil, s.cancelled(ctx)
		}
		if errors.Is(err, source.ErrMissingParam) {
			return nil, err
		}
		if errors.Is(err, connectivity.ErrRateLimited) {
			rateLimited++
		}
		if i+1 < len(cands) {
			s.stats.fallbacks.Add(1)
			log.WarnContext(ctx, "scrape: source failed, falling back",
				"source", src.ID, "next", cands[i+1].ID, "error", err)
		} else {
			log.WarnContext(ctx, "scrape: source failed", "source", src.ID, "error", err)
		}
	}

	if rateLimited == len(cands) {
		return nil, connectivity.ErrRateLimited
	}
	s.stats.exhausted.Add(1)
	log.WarnContext(ctx, "scrape: all sources exhausted", "candidates", len(cands))
	return nil, fmt.Errorf("%w: %s", ErrAllSourcesExhausted, target)
}

// trySource runs the retry loop against one source.
func (s *Scraper) trySource(ctx context.Context, log *slog.Logger, src *source.Source, target string, opts Options) (*Result, error) {
	resolved, err := src.Resolve(target, opts.Params)
	if err != nil {
		return nil, err
	}
	fetcher, ok := s.fetchers[src.Fetcher]
	if !ok {
		return nil, fmt.Errorf("scrape: no fetcher for kind %q", src.Fetcher)
	}
	cb := s.breakers.Get(src.ID)
	allowed, trial := cb.Admit()
	if !allowed {
		s.stats.breakerSkips.Add(1)
		return nil, &connectivity.ErrCircuitOpen{Source: src.ID}
	}
	if trial {
		log.InfoContext(ctx, "scrape: half-open trial")
		// Reported outcomes clear the trial; this only matters when the
		// call ends before reaching the source.
		defer cb.CancelTrial()
	}

	attempts := s.retry.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		doc, err := s.fetchOnce(ctx, fetcher, src.ID, resolved.URL, opts.NonBlocking)
		if err == nil {
			return s.extract(ctx, log, cb, src, resolved, doc)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, connectivity.ErrRateLimited) {
			s.stats.rateLimited.Add(1)
			return nil, err
		}

		s.stats.fetchFailures.Add(1)
		// Only classified transport failures say anything about the source.
		if !fetch.IsRetryable(err) {
			return nil, err
		}
		cb.RecordFailure()
		lastErr = err
		if cb.State() == connectivity.BreakerOpen {
			log.WarnContext(ctx, "scrape: breaker opened, abandoning source", "attempt", attempt, "error", err)
			return nil, err
		}
		if attempt == attempts {
			break
		}
		delay := s.retry.Delay(attempt)
		s.stats.retries.Add(1)
		log.WarnContext(ctx, "scrape: fetch failed, retrying",
			"attempt", attempt,
			"backoff_ms", delay.Milliseconds(),
			"error", err)
		if err := connectivity.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (s *Scraper) fetchOnce(ctx context.Context, f fetch.Fetcher, sourceID, url string, nonBlocking bool) (*fetch.Document, error) {
	if nonBlocking {
		if !s.limiter.Allow(sourceID) {
			return nil, connectivity.ErrRateLimited
		}
	} else if err := s.limiter.Wait(ctx, sourceID); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", connectivity.ErrRateLimited, err)
	}

	release, err := s.slots.Acquire(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	defer release()

	actx, cancel := context.WithTimeout(ctx, s.cfg.Network.Timeout)
	defer cancel()
	s.stats.fetches.Add(1)
	return f.Fetch(actx, &fetch.Request{URL: url, Source: sourceID})
}

func (s *Scraper) extract(ctx context.Context, log *slog.Logger, cb *connectivity.CircuitBreaker, src *source.Source, resolved *source.Resolved, doc *fetch.Document) (*Result, error) {
	out, err := s.engine.Extract(ctx, extract.Input{
		Body:   doc.Body,
		URL:    doc.URL,
		Source: src.ID,
		Kind:   resolved.Endpoint.Kind,
	}, resolved.Rules)
	if err != nil {
		// A document with no valid records means the markup drifted.
		s.stats.extractionFailures.Add(1)
		cb.RecordFailure()
		return nil, err
	}
	cb.RecordSuccess()
	if out.UsedFallback {
		s.stats.fallbackPasses.Add(1)
		log.InfoContext(ctx, "scrape: fallback rules matched", "records", len(out.Records))
	}
	if out.Skipped > 0 {
		log.DebugContext(ctx, "scrape: items skipped", "skipped", out.Skipped, "matched", out.Matched)
	}
	return &Result{
		Source:       src.ID,
		Kind:         resolved.Endpoint.Kind,
		Records:      out.Records,
		URL:          doc.URL,
		Via:          doc.Via,
		UsedFallback: out.UsedFallback,
		FetchedAt:    s.clock(),
	}, nil
}

// track registers ctx so AbortAll can cancel it.
func (s *Scraper) track(parent context.Context) (context.Context, string, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	id := s.callID()
	s.mu.Lock()
	s.calls[id] = cancel
	s.mu.Unlock()
	return ctx, id, func() {
		s.mu.Lock()
		delete(s.calls, id)
		s.mu.Unlock()
		cancel(nil)
	}
}

func (s *Scraper) cancelled(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrAborted) {
		s.stats.aborted.Add(1)
		return ErrAborted
	}
	return ctx.Err()
}

// AbortAll cancels every in-flight Scrape call. Aborted calls release
// their slots and return ErrAborted; no source is penalised. It returns
// the number of calls cancelled.
func (s *Scraper) AbortAll() int {
	s.mu.Lock()
	calls := s.calls
	s.calls = make(map[string]context.CancelCauseFunc)
	s.mu.Unlock()

	for _, cancel := range calls {
		cancel(ErrAborted)
	}
	if len(calls) > 0 {
		s.logger.Info("scrape: aborted in-flight calls", "count", len(calls))
	}
	return len(calls)
}

// Metrics returns the current counters.
func (s *Scraper) Metrics() Metrics {
	m := s.stats.snapshot()
	m.Cache = s.cache.Stats()
	m.Sources = len(s.registry.List())
	return m
}
