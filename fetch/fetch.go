// CLAUDE:SUMMARY Transport abstraction for source documents: HTTP (resty), headless browser (rod), and auto escalation.
// Package fetch retrieves raw source documents. Failures are classified
// as timeouts or transport failures so callers can decide whether to retry;
// caller cancellation is passed through unclassified.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel kinds for errors.Is.
var (
	ErrTimeout   = errors.New("fetch: timeout")
	ErrTransport = errors.New("fetch: transport failure")
)

// Error is a classified fetch failure.
type Error struct {
	Kind   error // ErrTimeout or ErrTransport
	URL    string
	Status int // HTTP status, 0 when no response was received
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v: %s: http %d", e.Kind, e.URL, e.Status)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// IsRetryable reports whether err is a timeout or transport failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport)
}

// Request describes one document to fetch.
type Request struct {
	URL    string
	Source string
	Accept string // optional Accept header override
}

// Document is a fetched payload.
type Document struct {
	URL         string // final URL after redirects
	Status      int
	ContentType string
	Body        []byte
	Via         string // "http" or "browser"
	Elapsed     time.Duration
}

// Fetcher retrieves documents. Implementations must honour ctx.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Document, error)
}

// classify maps a low-level error to a typed Error. A cancelled ctx is
// returned as ctx.Err() so callers can tell an abort from a failure.
func classify(ctx context.Context, url string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return &Error{Kind: ErrTimeout, URL: url, Err: err}
	}
	return &Error{Kind: ErrTransport, URL: url, Err: err}
}

func statusError(url string, status int) error {
	return &Error{Kind: ErrTransport, URL: url, Status: status, Err: fmt.Errorf("http %d", status)}
}
