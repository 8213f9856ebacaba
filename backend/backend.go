// Package backend defines the BackendAdapter interface consumed (not
// implemented in full) by HybridSource, per §1's scope: the paid
// backend's wire protocol, the free backend library, and the HTML
// parser are external collaborators. This package carries the
// interface, the symbol-conversion tables (§6, a core HybridSource
// responsibility), and minimal reference adapters sufficient to drive
// the collector end-to-end.
package backend

import (
	"context"

	"github.com/kkhwan1/bloomberg-data/quote"
)

// Result is what an Adapter returns on a call. Dispatched distinguishes
// a call that actually reached the remote (and must be charged, per
// §5's cancellation rule) from one rejected before any network request
// was sent.
type Result struct {
	Quote      quote.Quote
	Dispatched bool
}

// Adapter fetches one quote for a backend-native symbol. It is
// responsible for HTTP, parsing, and normalization; it MUST NOT touch
// cache, tracker, or breaker state — those are HybridSource's job.
type Adapter interface {
	FetchQuote(ctx context.Context, nativeSymbol string) (Result, error)
}

// Kind classifies adapter-level errors per §7's AdapterError sub-kinds.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindServer      Kind = "server"
	KindTransport   Kind = "transport"
	KindParse       Kind = "parse"
)

// Error wraps an adapter failure with its classification. Auth errors
// are not retried; the breaker counts them like any other failure and
// does not open early on them. RateLimited and Server are transient.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether this error is of a transient kind
// (rate limit, server, or transport). PaidAdapter's retry loop retries
// only 429 and 5xx statuses; a failed HTTP round trip is returned
// without a retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServer || e.Kind == KindTransport
}
