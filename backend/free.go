package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kkhwan1/bloomberg-data/quote"
)

// FreeAdapter is a thin, no-auth, no-monetary-cost quote source. The
// real free-backend library is out of scope (§1); this is the minimal
// concrete client the HybridSource needs to exercise the cascade.
type FreeAdapter struct {
	client   *http.Client
	endpoint string
	class    quote.AssetClass
	parse    ParseFunc
}

// NewFreeAdapter constructs the free adapter.
func NewFreeAdapter(endpoint string, class quote.AssetClass, timeout time.Duration, parse ParseFunc) *FreeAdapter {
	return &FreeAdapter{
		client:   &http.Client{Transport: NewTransport(DefaultPoolConfig()), Timeout: timeout},
		endpoint: endpoint,
		class:    class,
		parse:    parse,
	}
}

// FetchQuote implements Adapter. Dispatched is false only when the
// request never reaches the network (building it fails before
// a.client.Do is called); every outcome beyond that point — rate
// limits, 5xx, unexpected statuses, parse failures — is Dispatched=true
// so HybridSource.Statistics() accounts for real free-backend outcomes
// the same way it does for the paid adapter.
func (a *FreeAdapter) FetchQuote(ctx context.Context, nativeSymbol string) (Result, error) {
	url := fmt.Sprintf("%s?symbol=%s", a.endpoint, nativeSymbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{Dispatched: true}, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Dispatched: true}, &Error{Kind: KindTransport, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Dispatched: true}, &Error{Kind: KindRateLimited, Err: fmt.Errorf("free adapter: rate limited")}
	case resp.StatusCode >= 500:
		return Result{Dispatched: true}, &Error{Kind: KindServer, Err: fmt.Errorf("free adapter: status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return Result{Dispatched: true}, &Error{Kind: KindServer, Err: fmt.Errorf("free adapter: unexpected status %d", resp.StatusCode)}
	}

	q, perr := a.parse(a.class, body)
	if perr != nil {
		return Result{Dispatched: true}, &Error{Kind: KindParse, Err: perr}
	}
	q.Symbol = nativeSymbol
	q.AssetClass = a.class
	q.Source = quote.SourceFree
	return Result{Quote: q, Dispatched: true}, nil
}
