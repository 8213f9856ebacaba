// Package hybrid composes Cache + CostTracker + per-backend
// CircuitBreaker + BackendAdapter(s) into the priority cascade: cache,
// then free backend(s), then the paid backend, gated by budget. It is
// the largest of the core components (§2: ~30% of the core).
package hybrid

import (
	"context"
	"sync"

	"github.com/kkhwan1/bloomberg-data/backend"
	"github.com/kkhwan1/bloomberg-data/breaker"
	"github.com/kkhwan1/bloomberg-data/cache"
	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/costtracker"
	"github.com/kkhwan1/bloomberg-data/quote"
	"github.com/rs/zerolog"
)

// ReasonKind classifies why GetQuote returned no quote, mirroring §7's
// error taxonomy (BudgetExhausted, CircuitOpen, AdapterError) without
// treating any of them as a Go error: absence of a quote is the
// observable outcome, not a failure (§9 Design Notes).
type ReasonKind string

const (
	ReasonBudgetExhausted ReasonKind = "BudgetExhausted"
	ReasonCircuitOpen     ReasonKind = "CircuitOpen"
	ReasonAdapterError    ReasonKind = "AdapterError"
	ReasonNotAvailable    ReasonKind = "NotAvailable"
)

// Result is the outcome of one GetQuote call. Quote is nil iff all
// sources were exhausted; Reason and Detail explain why.
type Result struct {
	Quote  *quote.Quote
	Reason ReasonKind
	Detail string
}

// freeSource pairs one free adapter with its own breaker. The Design
// Notes' second open question (an unused "Finnhub" backend) is
// resolved by making this a slice: a second free adapter drops in
// without any signature change.
type freeSource struct {
	adapter backend.Adapter
	cb      *breaker.Breaker
}

// Stats is the aggregated counters exposed by Statistics().
type Stats struct {
	CacheHits     int
	CacheMisses   int
	FreeAttempts  int
	FreeSuccesses int
	FreeFailures  int
	PaidAttempts  int
	PaidSuccesses int
	PaidFailures  int
}

// CacheHitRate returns hits / (hits + misses), or 0 if no lookups yet.
func (s Stats) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Source is the HybridSource.
type Source struct {
	cache   *cache.Cache
	tracker *costtracker.Tracker

	free []freeSource

	paidAdapter backend.Adapter
	paidBreaker *breaker.Breaker
	paidEnabled bool

	concurrency int
	clock       clock.Clock
	logger      zerolog.Logger

	statsMu sync.Mutex
	stats   Stats
}

// Option configures a Source at construction.
type Option func(*Source)

// WithConcurrency overrides the default bounded-concurrency fan-out
// width for GetQuotes (§4.4 suggests 5).
func WithConcurrency(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// New constructs a HybridSource. paidAdapter/paidBreaker may be nil if
// the paid backend is disabled (e.g. no BRIGHT_DATA_TOKEN configured);
// in that case the cascade degrades to cache + free only.
func New(
	c *cache.Cache,
	tracker *costtracker.Tracker,
	freeAdapters []backend.Adapter,
	freeBreakers []*breaker.Breaker,
	paidAdapter backend.Adapter,
	paidBreaker *breaker.Breaker,
	clk clock.Clock,
	logger zerolog.Logger,
	opts ...Option,
) *Source {
	free := make([]freeSource, 0, len(freeAdapters))
	for i, a := range freeAdapters {
		free = append(free, freeSource{adapter: a, cb: freeBreakers[i]})
	}

	s := &Source{
		cache:       c,
		tracker:     tracker,
		free:        free,
		paidAdapter: paidAdapter,
		paidBreaker: paidBreaker,
		paidEnabled: paidAdapter != nil,
		concurrency: 5,
		clock:       clk,
		logger:      logger.With().Str("component", "hybrid").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetQuote runs the priority cascade for a single symbol: cache, then
// each free adapter in order, then the paid adapter if budget allows.
func (s *Source) GetQuote(ctx context.Context, symbol string, class quote.AssetClass, forceFresh bool) Result {
	if !forceFresh {
		if q, found := s.cache.Get(ctx, class, symbol); found {
			s.statsMu.Lock()
			s.stats.CacheHits++
			s.statsMu.Unlock()
			return Result{Quote: &q}
		}
		s.statsMu.Lock()
		s.stats.CacheMisses++
		s.statsMu.Unlock()
	}

	var lastReason = ReasonNotAvailable
	var lastDetail string

	for _, fs := range s.free {
		native, err := backend.ToFree(class, symbol)
		if err != nil {
			continue // e.g. index has no free-backend form
		}

		var res backend.Result
		callErr := fs.cb.Call(func() error {
			var ferr error
			res, ferr = fs.adapter.FetchQuote(ctx, native)
			return ferr
		})

		if !res.Dispatched {
			// Either the breaker rejected (OPEN) or the adapter itself
			// never reached the network; neither is chargeable and
			// neither counts as an attempt against the free backend.
			if callErr == breaker.ErrOpen {
				lastReason, lastDetail = ReasonCircuitOpen, "free: "+fs.cb.Name()
			}
			continue
		}

		s.statsMu.Lock()
		s.stats.FreeAttempts++
		if callErr == nil {
			s.stats.FreeSuccesses++
		} else {
			s.stats.FreeFailures++
		}
		s.statsMu.Unlock()

		if callErr == nil {
			q := res.Quote
			q.Symbol, q.AssetClass = symbol, class
			q.CollectedAt = s.clock.Now()
			q.Source = quote.SourceFree
			s.cache.Set(ctx, class, symbol, q)
			return Result{Quote: &q}
		}
		lastReason, lastDetail = ReasonAdapterError, "free: "+callErr.Error()
	}

	if s.paidEnabled {
		if ok, reason := s.tracker.CanMakeRequest(); !ok {
			return Result{Reason: ReasonBudgetExhausted, Detail: reason}
		}

		native, err := backend.ToPaid(class, symbol)
		if err != nil {
			return Result{Reason: ReasonAdapterError, Detail: err.Error()}
		}

		var res backend.Result
		callErr := s.paidBreaker.Call(func() error {
			var ferr error
			res, ferr = s.paidAdapter.FetchQuote(ctx, native)
			return ferr
		})

		if res.Dispatched {
			success := callErr == nil
			if _, rerr := s.tracker.RecordRequest(string(class), symbol, success); rerr != nil {
				s.logger.Error().Err(rerr).Msg("failed to record paid request")
			}
			s.statsMu.Lock()
			s.stats.PaidAttempts++
			if success {
				s.stats.PaidSuccesses++
			} else {
				s.stats.PaidFailures++
			}
			s.statsMu.Unlock()
		}

		switch {
		case callErr == nil:
			q := res.Quote
			q.Symbol, q.AssetClass = symbol, class
			q.CollectedAt = s.clock.Now()
			q.Source = quote.SourcePaid
			s.cache.Set(ctx, class, symbol, q)
			return Result{Quote: &q}
		case callErr == breaker.ErrOpen:
			lastReason, lastDetail = ReasonCircuitOpen, "paid: "+s.paidBreaker.Name()
		default:
			lastReason, lastDetail = ReasonAdapterError, "paid: "+callErr.Error()
		}
	}

	return Result{Reason: lastReason, Detail: lastDetail}
}

// GetQuotes fans out per-symbol GetQuote calls with bounded
// concurrency. Result order is not significant; a single symbol's
// failure never cancels siblings.
func (s *Source) GetQuotes(ctx context.Context, symbols []string, class quote.AssetClass, forceFresh bool) map[string]Result {
	results := make(map[string]Result, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)

	for _, symbol := range symbols {
		symbol := symbol
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			r := s.GetQuote(ctx, symbol, class, forceFresh)
			mu.Lock()
			results[symbol] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Statistics returns aggregated per-backend counters and cache
// hit-rate.
func (s *Source) Statistics() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
