package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kkhwan1/bloomberg-data/quote"
	"golang.org/x/time/rate"
)

// ParseFunc extracts a Quote from a raw HTML page body. The real
// Bloomberg-page HTML parser is deliberately out of scope (§1); this
// package only needs the extension point so the adapter can be wired
// and tested end-to-end with a fixture parser.
type ParseFunc func(class quote.AssetClass, body []byte) (quote.Quote, error)

// PaidAdapter is a Bearer-authenticated JSON POST client returning raw
// HTML, per §1's wire-protocol description. Retries transport-level
// errors (5xx, 429) with exponential backoff, up to maxRetries times
// (three attempts in all by default); auth errors (401/403) are never
// retried.
type PaidAdapter struct {
	client   *http.Client
	endpoint string
	token    string
	class    quote.AssetClass
	parse    ParseFunc
	limiter  *rate.Limiter

	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewPaidAdapter constructs the paid adapter. rps bounds outbound
// request rate independent of the circuit breaker's failure
// accounting (§11 DOMAIN STACK: golang.org/x/time/rate).
func NewPaidAdapter(endpoint, token string, class quote.AssetClass, timeout time.Duration, rps float64, parse ParseFunc) *PaidAdapter {
	return &PaidAdapter{
		client:         &http.Client{Transport: NewTransport(DefaultPoolConfig()), Timeout: timeout},
		endpoint:       endpoint,
		token:          token,
		class:          class,
		parse:          parse,
		limiter:        rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries:     2,
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     8 * time.Second,
	}
}

// FetchQuote implements Adapter. Dispatched is false only when the
// call is rejected before any bytes cross the network (context already
// canceled, or the rate limiter's wait itself was canceled); every
// outcome beyond that point — including transport errors on an
// in-flight request — is Dispatched=true and must be charged by the
// caller (§5, §9 open-question decision).
func (a *PaidAdapter) FetchQuote(ctx context.Context, nativeSymbol string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Dispatched: false}, err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return Result{Dispatched: false}, err
	}

	var lastErr error
	backoff := a.initialBackoff
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		body, status, err := a.doRequest(ctx, nativeSymbol)
		if err != nil {
			return Result{Dispatched: true}, &Error{Kind: KindTransport, Err: err}
		}

		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return Result{Dispatched: true}, &Error{Kind: KindAuth, Err: fmt.Errorf("paid adapter: auth rejected (status %d)", status)}
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = &Error{Kind: KindRateLimited, Err: fmt.Errorf("paid adapter: transient status %d", status)}
			if status >= 500 {
				lastErr = &Error{Kind: KindServer, Err: fmt.Errorf("paid adapter: server status %d", status)}
			}
			if attempt == a.maxRetries {
				return Result{Dispatched: true}, lastErr
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Result{Dispatched: true}, ctx.Err()
			}
			backoff *= 2
			if backoff > a.maxBackoff {
				backoff = a.maxBackoff
			}
			continue
		case status >= 200 && status < 300:
			q, perr := a.parse(a.class, body)
			if perr != nil {
				return Result{Dispatched: true}, &Error{Kind: KindParse, Err: perr}
			}
			q.Symbol = nativeSymbol
			q.AssetClass = a.class
			q.Source = quote.SourcePaid
			return Result{Quote: q, Dispatched: true}, nil
		default:
			return Result{Dispatched: true}, &Error{Kind: KindServer, Err: fmt.Errorf("paid adapter: unexpected status %d", status)}
		}
	}
	return Result{Dispatched: true}, lastErr
}

func (a *PaidAdapter) doRequest(ctx context.Context, nativeSymbol string) ([]byte, int, error) {
	payload := fmt.Sprintf(`{"symbol":%q}`, nativeSymbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewBufferString(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
