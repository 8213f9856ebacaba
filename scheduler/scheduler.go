// Package scheduler drives periodic collection and maintenance without
// external orchestrators: three jobs (collect, midnight budget reset,
// hourly cache sweep), plus dynamic symbol membership and a graceful
// lifecycle. Its ticker-loop shape is grounded on a health-polling
// loop built for an upstream-provider status monitor, generalized from
// a single poll-and-detect-transition job to three independently
// cadenced jobs sharing one scheduler.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kkhwan1/bloomberg-data/cache"
	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/costtracker"
	"github.com/kkhwan1/bloomberg-data/hybrid"
	"github.com/kkhwan1/bloomberg-data/metrics"
	"github.com/kkhwan1/bloomberg-data/quote"
	"github.com/kkhwan1/bloomberg-data/sink"
	"github.com/rs/zerolog"
)

const (
	sweepInterval = time.Hour
)

// trackedSymbol is one entry of the dynamic membership table.
type trackedSymbol struct {
	symbol string
	class  quote.AssetClass
}

// CollectionReport summarizes the outcome of one collection tick, for
// logging and for the CLI's one-shot exit-code decision (§6).
type CollectionReport struct {
	CorrelationID string
	StartedAt     time.Time
	Symbols       int
	Quotes        int
	Failed        int
}

// Scheduler is the collector's main timing loop.
type Scheduler struct {
	source  *hybrid.Source
	tracker *costtracker.Tracker
	cache   *cache.Cache
	sinks   []sink.Sink

	interval        time.Duration
	forceFresh      bool
	shutdownTimeout time.Duration

	clock  clock.Clock
	logger zerolog.Logger

	membersMu sync.RWMutex
	members   []trackedSymbol

	collecting sync.Mutex // held for the duration of any collection run

	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *metrics.Registry
}

// SetMetrics attaches a metrics registry. Optional: a Scheduler with no
// registry attached simply skips the duration/quote/failure updates.
func (s *Scheduler) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// New constructs a Scheduler for the given tracked symbols.
func New(
	source *hybrid.Source,
	tracker *costtracker.Tracker,
	c *cache.Cache,
	sinks []sink.Sink,
	interval time.Duration,
	forceFresh bool,
	clk clock.Clock,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		source:          source,
		tracker:         tracker,
		cache:           c,
		sinks:           sinks,
		interval:        interval,
		forceFresh:      forceFresh,
		shutdownTimeout: 30 * time.Second,
		clock:           clk,
		logger:          logger.With().Str("component", "scheduler").Logger(),
	}
}

// AddSymbol adds (or updates the class of) a tracked symbol. Effective
// at the next collection tick.
func (s *Scheduler) AddSymbol(symbol string, class quote.AssetClass) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	for i, m := range s.members {
		if m.symbol == symbol {
			s.members[i].class = class
			return
		}
	}
	s.members = append(s.members, trackedSymbol{symbol: symbol, class: class})
}

// RemoveSymbol removes a tracked symbol. Effective at the next
// collection tick.
func (s *Scheduler) RemoveSymbol(symbol string) {
	s.membersMu.Lock()
	defer s.membersMu.Unlock()

	for i, m := range s.members {
		if m.symbol == symbol {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) snapshotMembers() []trackedSymbol {
	s.membersMu.RLock()
	defer s.membersMu.RUnlock()
	out := make([]trackedSymbol, len(s.members))
	copy(out, s.members)
	return out
}

// Start installs the three jobs and begins scheduling.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(3)
	go s.collectionLoop(ctx)
	go s.budgetResetLoop(ctx)
	go s.sweepLoop(ctx)
}

// Stop cancels scheduling. If wait is true, it blocks (up to the
// graceful-shutdown timeout) until any in-flight collection concludes.
func (s *Scheduler) Stop(wait bool) {
	if s.cancel != nil {
		s.cancel()
	}
	if !wait {
		return
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn().Msg("graceful shutdown timed out waiting for in-flight work")
	}
}

// ForceCollection triggers an immediate one-shot collection outside
// the cadence and returns its report. If a collection is already
// in-flight, this call does not start a second, concurrent one and
// does not wait: it returns a zero CollectionReport at once.
func (s *Scheduler) ForceCollection(ctx context.Context) CollectionReport {
	return s.runCollection(ctx)
}

// ResetBudgetNow fires the daily budget-reset job immediately,
// independent of the midnight cadence (used by tests and the CLI).
func (s *Scheduler) ResetBudgetNow() {
	s.resetTrackerBudget()
}

// SweepNow fires the cache-sweep job immediately.
func (s *Scheduler) SweepNow(ctx context.Context) int {
	return s.cache.ClearExpired(ctx)
}

func (s *Scheduler) collectionLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCollection(ctx)
		}
	}
}

// runCollection executes exactly one collection, refusing to overlap
// with another in-flight run (tick-coalescing: a tick arriving while a
// run is active is simply dropped, never queued).
func (s *Scheduler) runCollection(ctx context.Context) CollectionReport {
	if !s.collecting.TryLock() {
		s.logger.Debug().Msg("collection tick skipped: previous run still active")
		return CollectionReport{}
	}
	defer s.collecting.Unlock()

	start := s.clock.Now()
	members := s.snapshotMembers()
	corrID := uuid.New().String()

	byClass := make(map[quote.AssetClass][]string)
	for _, m := range members {
		byClass[m.class] = append(byClass[m.class], m.symbol)
	}

	report := CollectionReport{CorrelationID: corrID, StartedAt: start, Symbols: len(members)}
	for class, symbols := range byClass {
		results := s.source.GetQuotes(ctx, symbols, class, s.forceFresh)
		for symbol, r := range results {
			if r.Quote == nil {
				report.Failed++
				s.logger.Info().Str("correlation_id", corrID).Str("symbol", symbol).Str("reason", string(r.Reason)).Str("detail", r.Detail).Msg("quote unavailable")
				continue
			}
			report.Quotes++
			for _, sk := range s.sinks {
				if err := sk.Write(*r.Quote); err != nil {
					s.logger.Error().Err(err).Str("correlation_id", corrID).Str("symbol", symbol).Msg("sink write failed")
				}
			}
		}
	}

	elapsed := s.clock.Now().Sub(start)
	s.logger.Info().
		Str("correlation_id", corrID).
		Int("symbols", report.Symbols).
		Int("quotes", report.Quotes).
		Int("failed", report.Failed).
		Dur("elapsed", elapsed).
		Msg("collection tick complete")

	if s.metrics != nil {
		s.metrics.CollectionDuration.Observe(elapsed.Seconds())
		s.metrics.CollectionQuotes.Add(float64(report.Quotes))
		s.metrics.CollectionFailed.Add(float64(report.Failed))
	}
	return report
}

func (s *Scheduler) budgetResetLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		wait := untilNextMidnight(s.clock.Now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.resetTrackerBudget()
		}
	}
}

func (s *Scheduler) resetTrackerBudget() {
	if err := s.tracker.Reset(true); err != nil {
		s.logger.Error().Err(err).Msg("daily budget reset failed")
		return
	}
	s.logger.Info().Msg("daily budget reset complete")
}

func untilNextMidnight(now time.Time) time.Duration {
	year, month, day := now.Date()
	next := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.cache.ClearExpired(ctx)
			s.logger.Debug().Int("removed", n).Msg("cache sweep complete")
		}
	}
}
