package scrape

import "errors"

// Signals returned by Scrape. ErrDuplicateInFlight and
// ErrAllSourcesExhausted mean "no data right now"; callers should offer a
// retry rather than treat them as faults.
var (
	ErrDuplicateInFlight   = errors.New("scrape: identical request already in flight")
	ErrAllSourcesExhausted = errors.New("scrape: all sources exhausted")
	ErrAborted             = errors.New("scrape: aborted")
)
