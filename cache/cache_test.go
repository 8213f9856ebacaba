package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/metrics"
	"github.com/kkhwan1/bloomberg-data/quote"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *clock.Fake) {
	t.Helper()
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c, err := Open(filepath.Join(dir, "cache.db"), ttl, fc, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, fc
}

func TestSetThenGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	q := quote.Quote{Symbol: "AAPL", AssetClass: quote.Stocks, Price: 100}
	c.Set(ctx, quote.Stocks, "aapl", q)

	got, found := c.Get(ctx, quote.Stocks, "AAPL")
	if !found {
		t.Fatal("expected hit after Set")
	}
	if got.Price != 100 || got.Source != quote.SourceCache {
		t.Fatalf("unexpected quote: %+v", got)
	}
}

func TestGetExpiresAtBoundaryIsAMiss(t *testing.T) {
	c, fc := newTestCache(t, time.Minute)
	ctx := context.Background()

	c.Set(ctx, quote.Stocks, "AAPL", quote.Quote{Symbol: "AAPL", AssetClass: quote.Stocks, Price: 100})

	fc.Advance(59 * time.Second)
	if _, found := c.Get(ctx, quote.Stocks, "AAPL"); !found {
		t.Fatal("expected hit within TTL window")
	}

	fc.Advance(time.Second) // now exactly at expires_at
	if _, found := c.Get(ctx, quote.Stocks, "AAPL"); found {
		t.Fatal("expected miss at exactly expires_at")
	}
}

func TestHitCountMonotonicallyIncreases(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	c.Set(ctx, quote.Stocks, "AAPL", quote.Quote{Symbol: "AAPL", AssetClass: quote.Stocks, Price: 100})

	for i := 1; i <= 3; i++ {
		c.Get(ctx, quote.Stocks, "AAPL")
	}

	stats, err := c.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalHits != 3 {
		t.Fatalf("expected 3 total hits, got %d", stats.TotalHits)
	}
}

func TestClearExpiredIsIdempotent(t *testing.T) {
	c, fc := newTestCache(t, time.Minute)
	ctx := context.Background()
	c.Set(ctx, quote.Stocks, "AAPL", quote.Quote{Symbol: "AAPL", AssetClass: quote.Stocks, Price: 100})

	fc.Advance(2 * time.Minute)
	if n := c.ClearExpired(ctx); n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if n := c.ClearExpired(ctx); n != 0 {
		t.Fatalf("expected second sweep to remove 0, got %d", n)
	}
}

func TestKeyNormalizationIsCaseInsensitive(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	c.Set(ctx, quote.AssetClass("STOCKS"), "aapl", quote.Quote{Symbol: "AAPL", AssetClass: quote.Stocks, Price: 100})

	if _, found := c.Get(ctx, quote.Stocks, "AAPL"); !found {
		t.Fatal("expected case-insensitive identity to hit")
	}
}

func TestMetricsTrackHitsMissesAndSize(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	reg := metrics.New()
	c.SetMetrics(reg)

	c.Get(ctx, quote.Stocks, "AAPL") // miss: never set
	c.Set(ctx, quote.Stocks, "AAPL", quote.Quote{Symbol: "AAPL", AssetClass: quote.Stocks, Price: 100})
	c.Get(ctx, quote.Stocks, "AAPL") // hit

	if got := testutil.ToFloat64(reg.CacheMisses); got != 1 {
		t.Fatalf("CacheMisses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.CacheHits); got != 1 {
		t.Fatalf("CacheHits = %v, want 1", got)
	}

	if _, err := c.Statistics(ctx); err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if got := testutil.ToFloat64(reg.CacheSize); got != 1 {
		t.Fatalf("CacheSize = %v, want 1", got)
	}
}

func TestInvalidateRemovesEntry(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()
	c.Set(ctx, quote.Stocks, "AAPL", quote.Quote{Symbol: "AAPL", AssetClass: quote.Stocks, Price: 100})

	if !c.Invalidate(ctx, quote.Stocks, "AAPL") {
		t.Fatal("expected Invalidate to report removal")
	}
	if _, found := c.Get(ctx, quote.Stocks, "AAPL"); found {
		t.Fatal("expected miss after invalidate")
	}
}
