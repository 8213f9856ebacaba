package hybrid

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kkhwan1/bloomberg-data/backend"
	"github.com/kkhwan1/bloomberg-data/breaker"
	"github.com/kkhwan1/bloomberg-data/cache"
	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/costtracker"
	"github.com/kkhwan1/bloomberg-data/quote"
	"github.com/rs/zerolog"
)

// mockAdapter returns a fixed price on success or always fails.
type mockAdapter struct {
	fail  bool
	price float64
	calls int
}

func (m *mockAdapter) FetchQuote(ctx context.Context, nativeSymbol string) (backend.Result, error) {
	m.calls++
	if m.fail {
		return backend.Result{Dispatched: true}, errors.New("mock failure")
	}
	return backend.Result{
		Dispatched: true,
		Quote:      quote.Quote{Price: m.price},
	}, nil
}

func newHarness(t *testing.T, budget, unitCost float64) (*Source, *mockAdapter, *mockAdapter, *clock.Fake) {
	t.Helper()
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	c, err := cache.Open(filepath.Join(dir, "cache.db"), 60*time.Second, fc, zerolog.Nop())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	tracker := costtracker.New(filepath.Join(dir, "cost.json"), budget, unitCost, fc, zerolog.Nop())

	free := &mockAdapter{price: 100}
	paid := &mockAdapter{price: 101}

	freeBreaker := breaker.New("free", 5, 60*time.Second, fc)
	paidBreaker := breaker.New("paid", 3, 120*time.Second, fc)

	src := New(c, tracker,
		[]backend.Adapter{free}, []*breaker.Breaker{freeBreaker},
		paid, paidBreaker,
		fc, zerolog.Nop(),
	)
	return src, free, paid, fc
}

func TestCacheShortCircuit(t *testing.T) {
	src, free, _, _ := newHarness(t, 5.50, 0.0015)
	ctx := context.Background()

	r1 := src.GetQuote(ctx, "AAPL", quote.Stocks, false)
	if r1.Quote == nil || r1.Quote.Source != quote.SourceFree || r1.Quote.Price != 100 {
		t.Fatalf("expected first call to serve from free backend, got %+v", r1)
	}

	callsBefore := free.calls
	r2 := src.GetQuote(ctx, "AAPL", quote.Stocks, false)
	if r2.Quote == nil || r2.Quote.Source != quote.SourceCache {
		t.Fatalf("expected second call to serve from cache, got %+v", r2)
	}
	if free.calls != callsBefore {
		t.Fatalf("expected no additional free adapter call, calls=%d", free.calls)
	}
}

func TestFreeToPaidFallback(t *testing.T) {
	src, free, paid, _ := newHarness(t, 5.50, 0.0015)
	free.fail = true
	ctx := context.Background()

	r := src.GetQuote(ctx, "AAPL", quote.Stocks, false)
	if r.Quote == nil || r.Quote.Source != quote.SourcePaid || r.Quote.Price != 101 {
		t.Fatalf("expected paid fallback, got %+v", r)
	}
	if paid.calls != 1 {
		t.Fatalf("expected exactly one paid call, got %d", paid.calls)
	}

	stats := src.Statistics()
	if stats.FreeFailures != 1 {
		t.Fatalf("expected free breaker to record 1 failure, got %d", stats.FreeFailures)
	}
}

func TestBudgetExhaustionMidBatch(t *testing.T) {
	src, free, _, _ := newHarness(t, 0.003, 0.0015)
	free.fail = true
	ctx := context.Background()

	results := src.GetQuotes(ctx, []string{"A", "B", "C"}, quote.Stocks, false)

	paidCount, unavailableCount := 0, 0
	for _, r := range results {
		switch {
		case r.Quote != nil && r.Quote.Source == quote.SourcePaid:
			paidCount++
		case r.Quote == nil && r.Reason == ReasonBudgetExhausted:
			unavailableCount++
		}
	}
	if paidCount != 2 || unavailableCount != 1 {
		t.Fatalf("expected 2 paid + 1 budget-exhausted, got paid=%d unavailable=%d (%+v)", paidCount, unavailableCount, results)
	}
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c, _ := cache.Open(filepath.Join(dir, "cache.db"), 60*time.Second, fc, zerolog.Nop())
	defer c.Close()
	tracker := costtracker.New(filepath.Join(dir, "cost.json"), 5.50, 0.0015, fc, zerolog.Nop())

	free := &mockAdapter{fail: true}
	paid := &mockAdapter{price: 101}
	freeBreaker := breaker.New("free", 3, 5*time.Second, fc)
	paidBreaker := breaker.New("paid", 3, 120*time.Second, fc)

	src := New(c, tracker, []backend.Adapter{free}, []*breaker.Breaker{freeBreaker}, paid, paidBreaker, fc, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := src.GetQuote(ctx, "AAPL", quote.Stocks, true)
		if r.Quote == nil || r.Quote.Source != quote.SourcePaid {
			t.Fatalf("call %d: expected paid fallback, got %+v", i, r)
		}
	}
	if free.calls != 3 {
		t.Fatalf("expected 3 free attempts before trip, got %d", free.calls)
	}

	callsBefore := free.calls
	r := src.GetQuote(ctx, "AAPL", quote.Stocks, true)
	if free.calls != callsBefore {
		t.Fatal("expected free adapter NOT invoked while breaker OPEN")
	}
	if r.Quote == nil || r.Quote.Source != quote.SourcePaid {
		t.Fatalf("expected paid to still serve while free is open, got %+v", r)
	}

	fc.Advance(5 * time.Second)
	free.fail = false
	_ = src.GetQuote(ctx, "AAPL", quote.Stocks, true)
	if free.calls != callsBefore+1 {
		t.Fatalf("expected exactly one probe admitted, free.calls=%d want %d", free.calls, callsBefore+1)
	}
	if st := freeBreaker.Statistics().State; st != breaker.Closed {
		t.Fatalf("expected successful probe to close the free breaker, got %s", st)
	}
}
