// Package cache implements the durable, TTL-bounded quote cache. It
// satisfies §4.2's storage discipline with a single SQLite file holding
// one table indexed on (asset_class, symbol) and on expires_at, giving
// both O(log n) point lookups and ordered range scans for the sweep.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/metrics"
	"github.com/kkhwan1/bloomberg-data/quote"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key     TEXT PRIMARY KEY,
	asset_class   TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	payload       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	hit_count     INTEGER NOT NULL DEFAULT 0,
	last_accessed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_class_symbol ON cache_entries(asset_class, symbol);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
`

// Cache is the durable (class, symbol) -> Quote store.
type Cache struct {
	db      *sql.DB
	ttl     time.Duration
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// SetMetrics attaches a metrics registry. Optional: a Cache with no
// registry attached simply skips the hit/miss/size updates.
func (c *Cache) SetMetrics(m *metrics.Registry) {
	c.metrics = m
}

// Stats mirrors §4.2's Statistics() report.
type Stats struct {
	TotalEntries   int
	ValidEntries   int
	ExpiredEntries int
	TotalHits      int
	AvgHitsPerEntry float64
	TopKeys        []TopKey
	TTL            time.Duration
}

// TopKey is one row of the top-N most-accessed keys.
type TopKey struct {
	CacheKey string
	HitCount int
}

// Open creates or opens the cache database at path and ensures the
// schema exists. Each write is a single autocommitted statement; no
// explicit BEGIN IMMEDIATE transaction is opened. Concurrent readers
// are supported by SQLite's own locking.
func Open(path string, ttl time.Duration, clk clock.Clock, logger zerolog.Logger) (*Cache, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cache: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: migrate schema: %w", err)
	}
	return &Cache{
		db:     db,
		ttl:    ttl,
		clock:  clk,
		logger: logger.With().Str("component", "cache").Logger(),
	}, nil
}

// Get looks up a quote by (class, symbol). A hit increments hit_count
// and last_accessed. An expired entry is deleted inline and reported as
// a miss. Any storage or deserialization error degrades to a miss
// (fail-open): the caller simply refetches.
func (c *Cache) Get(ctx context.Context, class quote.AssetClass, symbol string) (quote.Quote, bool) {
	key := quote.CacheKey(class, symbol)
	now := c.clock.Now()

	var payload string
	var expiresAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&payload, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		c.recordMiss()
		return quote.Quote{}, false
	case err != nil:
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed; degrading to miss")
		c.recordMiss()
		return quote.Quote{}, false
	}

	if now.Unix() >= expiresAt {
		if _, derr := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); derr != nil {
			c.logger.Warn().Err(derr).Str("key", key).Msg("failed to delete expired entry")
		}
		c.recordMiss()
		return quote.Quote{}, false
	}

	var q quote.Quote
	if err := json.Unmarshal([]byte(payload), &q); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache entry undeserializable; evicting")
		if _, derr := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); derr != nil {
			c.logger.Warn().Err(derr).Str("key", key).Msg("failed to delete corrupt entry")
		}
		c.recordMiss()
		return quote.Quote{}, false
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed = ? WHERE cache_key = ?`,
		now.Unix(), key,
	); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to record cache hit")
	}

	c.recordHit()
	q.Source = quote.SourceCache
	return q, true
}

func (c *Cache) recordHit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Cache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

// Set upserts a quote, resetting hit_count to 0 and stamping a fresh
// created_at/expires_at window. Storage errors are logged, not
// returned as fatal: the caller proceeds as though the write never
// happened.
func (c *Cache) Set(ctx context.Context, class quote.AssetClass, symbol string, q quote.Quote) {
	key := quote.CacheKey(class, symbol)
	now := c.clock.Now()

	payload, err := json.Marshal(q)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to serialize quote; cache write skipped")
		return
	}

	normClass := quote.NormalizeClass(string(class))
	normSymbol := quote.NormalizeSymbol(symbol)

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, asset_class, symbol, payload, created_at, expires_at, hit_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = 0,
			last_accessed = excluded.last_accessed
	`, key, normClass, normSymbol, string(payload), now.Unix(), now.Add(c.ttl).Unix(), now.Unix())
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed; treated as no-op")
	}
}

// Invalidate removes an entry explicitly, reporting whether a row was
// actually deleted.
func (c *Cache) Invalidate(ctx context.Context, class quote.AssetClass, symbol string) bool {
	key := quote.CacheKey(class, symbol)
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("invalidate failed")
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

// ClearExpired deletes every entry whose expires_at has passed,
// returning the number removed. This is the sweep the Scheduler runs
// hourly.
func (c *Cache) ClearExpired(ctx context.Context) int {
	now := c.clock.Now()
	res, err := c.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, now.Unix())
	if err != nil {
		c.logger.Warn().Err(err).Msg("sweep failed")
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

// Statistics reports counts, hit totals, and the top-5 most-accessed
// keys.
func (c *Cache) Statistics(ctx context.Context) (Stats, error) {
	now := c.clock.Now().Unix()

	var total, expired, hits int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&total); err != nil {
		return Stats{}, fmt.Errorf("cache: count entries: %w", err)
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE expires_at < ?`, now).Scan(&expired); err != nil {
		return Stats{}, fmt.Errorf("cache: count expired: %w", err)
	}
	if err := c.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(hit_count), 0) FROM cache_entries`).Scan(&hits); err != nil {
		return Stats{}, fmt.Errorf("cache: sum hits: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT cache_key, hit_count FROM cache_entries ORDER BY hit_count DESC LIMIT 5`)
	if err != nil {
		return Stats{}, fmt.Errorf("cache: top keys: %w", err)
	}
	defer rows.Close()

	var top []TopKey
	for rows.Next() {
		var tk TopKey
		if err := rows.Scan(&tk.CacheKey, &tk.HitCount); err != nil {
			return Stats{}, fmt.Errorf("cache: scan top key: %w", err)
		}
		top = append(top, tk)
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].HitCount > top[j].HitCount })

	valid := total - expired
	avg := 0.0
	if total > 0 {
		avg = float64(hits) / float64(total)
	}

	if c.metrics != nil {
		c.metrics.CacheSize.Set(float64(total))
	}

	return Stats{
		TotalEntries:    total,
		ValidEntries:    valid,
		ExpiredEntries:  expired,
		TotalHits:       hits,
		AvgHitsPerEntry: avg,
		TopKeys:         top,
		TTL:             c.ttl,
	}, nil
}

// Close releases the underlying storage handle.
func (c *Cache) Close() error {
	return c.db.Close()
}
