// Package costtracker enforces the monetary budget against the paid
// backend and reports spend statistics. It is the process-wide
// accountant: one instance, owned by the composition root, passed by
// reference to whatever needs it (§9 Design Notes — no singleton
// dunder pattern).
package costtracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/metrics"
	"github.com/rs/zerolog"
)

// AlertLevel classifies current spend against budget.
type AlertLevel string

const (
	AlertOK       AlertLevel = "ok"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
	AlertDanger   AlertLevel = "danger"
)

func levelFor(ratio float64) AlertLevel {
	switch {
	case ratio >= 0.95:
		return AlertDanger
	case ratio >= 0.80:
		return AlertCritical
	case ratio >= 0.50:
		return AlertWarning
	default:
		return AlertOK
	}
}

// DateCounter is the per-day accounting bucket.
type DateCounter struct {
	Count int     `json:"count"`
	Cost  float64 `json:"cost"`
}

// state is the JSON-persisted document. Typed maps throughout, per §9
// ("dynamic maps of heterogeneous config" — represent as typed maps, not
// free-form dicts).
type state struct {
	TotalRequests      int                        `json:"total_requests"`
	SuccessfulRequests int                        `json:"successful_requests"`
	FailedRequests     int                        `json:"failed_requests"`
	TotalCost          float64                    `json:"total_cost"`
	RequestsByDate     map[string]DateCounter     `json:"requests_by_date"`
	RequestsByAsset    map[string]map[string]int  `json:"requests_by_asset"`
	TrackingStart      time.Time                  `json:"tracking_start"`
	LastUpdated        time.Time                  `json:"last_updated"`
}

func newState(now time.Time) state {
	return state{
		RequestsByDate:  make(map[string]DateCounter),
		RequestsByAsset: make(map[string]map[string]int),
		TrackingStart:   now,
		LastUpdated:     now,
	}
}

// Accounting is the snapshot returned by RecordRequest.
type Accounting struct {
	TotalRequests int
	TotalCost     float64
	AlertLevel    AlertLevel
}

// StatsReport is the snapshot returned by Statistics.
type StatsReport struct {
	TotalRequests       int
	SuccessfulRequests  int
	FailedRequests      int
	TotalCost           float64
	Budget              float64
	UnitCost            float64
	UsageRatio          float64
	AlertLevel          AlertLevel
	RequestsByDate      map[string]DateCounter
	RequestsByAsset     map[string]map[string]int
	TrackingStart       time.Time
	LastUpdated         time.Time
	DailyAverageCost    float64
	DaysUntilExhaustion *float64
}

// Tracker is the process-wide CostTracker. All mutating operations are
// serialized by mu; read-only snapshots acquire the same mutex.
type Tracker struct {
	mu       sync.Mutex
	path     string
	budget   float64
	unitCost float64
	clock    clock.Clock
	logger   zerolog.Logger
	metrics  *metrics.Registry
	st       state
}

// SetMetrics attaches a metrics registry. Optional: a Tracker with no
// registry attached simply skips the gauge/counter updates.
func (t *Tracker) SetMetrics(m *metrics.Registry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
	t.reportMetricsLocked(levelFor(t.usageRatioLocked()))
}

// New constructs a Tracker bound to path, loading existing state if
// present. A missing file initializes empty; a corrupt file is logged
// and treated as empty — the tracker never aborts the process on a
// persistence read failure.
func New(path string, budget, unitCost float64, clk clock.Clock, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		path:     path,
		budget:   budget,
		unitCost: unitCost,
		clock:    clk,
		logger:   logger.With().Str("component", "costtracker").Logger(),
	}

	raw, err := os.ReadFile(path)
	switch {
	case err != nil:
		t.st = newState(clk.Now())
	default:
		var loaded state
		if jerr := json.Unmarshal(raw, &loaded); jerr != nil {
			t.logger.Warn().Err(jerr).Str("path", path).Msg("cost tracker state file is corrupt; starting empty")
			t.st = newState(clk.Now())
		} else {
			if loaded.RequestsByDate == nil {
				loaded.RequestsByDate = make(map[string]DateCounter)
			}
			if loaded.RequestsByAsset == nil {
				loaded.RequestsByAsset = make(map[string]map[string]int)
			}
			t.st = loaded
		}
	}
	return t
}

// CanMakeRequest reports whether the remaining budget covers one more
// unit cost. It never blocks and never mutates state.
func (t *Tracker) CanMakeRequest() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := t.budget - t.st.TotalCost
	if remaining+1e-9 >= t.unitCost {
		return true, ""
	}
	return false, fmt.Sprintf("remaining budget $%.4f is below unit cost $%.4f", remaining, t.unitCost)
}

// RecordRequest advances counters for one paid-backend attempt. Both
// success and failure advance spend by unitCost: the paid backend
// charges for transport, not for a usable response.
func (t *Tracker) RecordRequest(class, symbol string, success bool) (Accounting, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.st.TotalRequests++
	if success {
		t.st.SuccessfulRequests++
	} else {
		t.st.FailedRequests++
	}
	t.st.TotalCost += t.unitCost

	day := now.UTC().Format("2006-01-02")
	dc := t.st.RequestsByDate[day]
	dc.Count++
	dc.Cost += t.unitCost
	t.st.RequestsByDate[day] = dc

	byClass, ok := t.st.RequestsByAsset[class]
	if !ok {
		byClass = make(map[string]int)
		t.st.RequestsByAsset[class] = byClass
	}
	byClass[symbol]++

	t.st.LastUpdated = now

	acc := Accounting{
		TotalRequests: t.st.TotalRequests,
		TotalCost:     t.st.TotalCost,
		AlertLevel:    levelFor(t.usageRatioLocked()),
	}
	t.reportMetricsLocked(acc.AlertLevel)

	if err := t.persistLocked(); err != nil {
		t.logger.Error().Err(err).Msg("failed to persist cost tracker state; in-memory update stands")
		return acc, nil
	}
	return acc, nil
}

var allAlertLevels = []AlertLevel{AlertOK, AlertWarning, AlertCritical, AlertDanger}

// reportMetricsLocked pushes the current spend, usage ratio, and alert
// level onto the attached registry. Callers must hold t.mu.
func (t *Tracker) reportMetricsLocked(current AlertLevel) {
	if t.metrics == nil {
		return
	}
	t.metrics.CostSpend.Set(t.st.TotalCost)
	t.metrics.CostUsageRatio.Set(t.usageRatioLocked())
	for _, level := range allAlertLevels {
		v := 0.0
		if level == current {
			v = 1.0
		}
		t.metrics.CostAlertLevel.WithLabelValues(string(level)).Set(v)
	}
}

func (t *Tracker) usageRatioLocked() float64 {
	if t.budget <= 0 {
		return 1
	}
	ratio := t.st.TotalCost / t.budget
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// Statistics returns a full snapshot of counters, alert level, daily
// average spend, and an exhaustion prediction.
func (t *Tracker) Statistics() StatsReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	days := elapsedDays(t.st.TrackingStart, t.clock.Now())
	dailyAvg := t.st.TotalCost / float64(days)

	var exhaustion *float64
	remaining := t.budget - t.st.TotalCost
	if dailyAvg > 0 {
		d := remaining / dailyAvg
		exhaustion = &d
	}

	byDate := make(map[string]DateCounter, len(t.st.RequestsByDate))
	for k, v := range t.st.RequestsByDate {
		byDate[k] = v
	}
	byAsset := make(map[string]map[string]int, len(t.st.RequestsByAsset))
	for class, syms := range t.st.RequestsByAsset {
		cp := make(map[string]int, len(syms))
		for s, n := range syms {
			cp[s] = n
		}
		byAsset[class] = cp
	}

	return StatsReport{
		TotalRequests:       t.st.TotalRequests,
		SuccessfulRequests:  t.st.SuccessfulRequests,
		FailedRequests:      t.st.FailedRequests,
		TotalCost:           t.st.TotalCost,
		Budget:              t.budget,
		UnitCost:            t.unitCost,
		UsageRatio:          t.usageRatioLocked(),
		AlertLevel:          levelFor(t.usageRatioLocked()),
		RequestsByDate:      byDate,
		RequestsByAsset:     byAsset,
		TrackingStart:       t.st.TrackingStart,
		LastUpdated:         t.st.LastUpdated,
		DailyAverageCost:    dailyAvg,
		DaysUntilExhaustion: exhaustion,
	}
}

// elapsedDays is the number of tracking days, floored at 1.
func elapsedDays(start, now time.Time) int {
	d := int(now.Sub(start).Hours()/24) + 1
	if d < 1 {
		return 1
	}
	return d
}

// Reset zeroes all counters and rewrites persistence. It refuses
// without confirm=true.
func (t *Tracker) Reset(confirm bool) error {
	if !confirm {
		return fmt.Errorf("costtracker: Reset requires confirm=true")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.st = newState(t.clock.Now())
	t.reportMetricsLocked(levelFor(t.usageRatioLocked()))
	return t.persistLocked()
}

// persistLocked writes the state document atomically: write to a temp
// file in the same directory, then rename over the target. Callers
// must hold t.mu.
func (t *Tracker) persistLocked() error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("costtracker: create data dir: %w", err)
	}

	data, err := json.MarshalIndent(t.st, "", "  ")
	if err != nil {
		return fmt.Errorf("costtracker: marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cost_tracking-*.tmp")
	if err != nil {
		return fmt.Errorf("costtracker: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("costtracker: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("costtracker: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("costtracker: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		return fmt.Errorf("costtracker: rename temp file: %w", err)
	}
	return nil
}
