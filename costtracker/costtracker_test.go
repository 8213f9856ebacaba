package costtracker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func newTestTracker(t *testing.T, budget, unitCost float64) (*Tracker, *clock.Fake, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cost_tracking.json")
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(path, budget, unitCost, fc, zerolog.Nop()), fc, path
}

func TestRecordRequestAdvancesSpendByUnitCostRegardlessOfSuccess(t *testing.T) {
	tr, _, _ := newTestTracker(t, 5.50, 0.0015)

	before := tr.Statistics().TotalCost
	acc, err := tr.RecordRequest("stocks", "AAPL", true)
	if err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	if got, want := acc.TotalCost-before, 0.0015; abs(got-want) > 1e-9 {
		t.Fatalf("spend delta on success = %v, want %v", got, want)
	}

	before = tr.Statistics().TotalCost
	acc, err = tr.RecordRequest("stocks", "AAPL", false)
	if err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}
	if got, want := acc.TotalCost-before, 0.0015; abs(got-want) > 1e-9 {
		t.Fatalf("spend delta on failure = %v, want %v", got, want)
	}
}

func TestCanMakeRequestBoundary(t *testing.T) {
	tr, _, _ := newTestTracker(t, 0.0015, 0.0015)

	ok, _ := tr.CanMakeRequest()
	if !ok {
		t.Fatal("expected request admitted at remaining_budget == unit_cost")
	}

	if _, err := tr.RecordRequest("stocks", "AAPL", true); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}

	ok, reason := tr.CanMakeRequest()
	if ok {
		t.Fatal("expected next request denied once budget is exhausted")
	}
	if reason == "" {
		t.Fatal("expected a non-empty denial reason")
	}
}

func TestAlertLevelThresholds(t *testing.T) {
	cases := []struct {
		ratio float64
		want  AlertLevel
	}{
		{0.0, AlertOK},
		{0.49, AlertOK},
		{0.50, AlertWarning},
		{0.79, AlertWarning},
		{0.80, AlertCritical},
		{0.94, AlertCritical},
		{0.95, AlertDanger},
		{1.0, AlertDanger},
	}
	for _, c := range cases {
		if got := levelFor(c.ratio); got != c.want {
			t.Errorf("levelFor(%v) = %v, want %v", c.ratio, got, c.want)
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	tr, fc, path := newTestTracker(t, 5.50, 0.0015)

	for i := 0; i < 10; i++ {
		success := i < 7
		if _, err := tr.RecordRequest("stocks", "AAPL", success); err != nil {
			t.Fatalf("RecordRequest: %v", err)
		}
		fc.Advance(time.Minute)
	}
	s1 := tr.Statistics()

	reloaded := New(path, 5.50, 0.0015, fc, zerolog.Nop())
	s2 := reloaded.Statistics()

	if s1.TotalRequests != s2.TotalRequests ||
		s1.SuccessfulRequests != s2.SuccessfulRequests ||
		s1.FailedRequests != s2.FailedRequests ||
		abs(s1.TotalCost-s2.TotalCost) > 1e-9 {
		t.Fatalf("round trip mismatch: %+v vs %+v", s1, s2)
	}
}

func TestResetRequiresConfirm(t *testing.T) {
	tr, _, _ := newTestTracker(t, 5.50, 0.0015)
	if _, err := tr.RecordRequest("stocks", "AAPL", true); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}

	if err := tr.Reset(false); err == nil {
		t.Fatal("expected Reset(false) to refuse")
	}

	if err := tr.Reset(true); err != nil {
		t.Fatalf("Reset(true): %v", err)
	}
	stats := tr.Statistics()
	if stats.TotalRequests != 0 || stats.TotalCost != 0 {
		t.Fatalf("expected zeroed stats after reset, got %+v", stats)
	}
}

func TestCorruptStateFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cost_tracking.json")
	if err := writeFile(path, "{not json"); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	fc := clock.NewFake(time.Now())
	tr := New(path, 5.50, 0.0015, fc, zerolog.Nop())
	stats := tr.Statistics()
	if stats.TotalRequests != 0 {
		t.Fatalf("expected empty state from corrupt file, got %+v", stats)
	}
}

func TestMetricsTrackSpendAndAlertLevel(t *testing.T) {
	tr, _, _ := newTestTracker(t, 0.01, 0.005)
	reg := metrics.New()
	tr.SetMetrics(reg)

	if _, err := tr.RecordRequest("stocks", "AAPL", true); err != nil {
		t.Fatalf("RecordRequest: %v", err)
	}

	if got, want := testutil.ToFloat64(reg.CostSpend), 0.005; abs(got-want) > 1e-9 {
		t.Fatalf("CostSpend = %v, want %v", got, want)
	}
	if got, want := testutil.ToFloat64(reg.CostUsageRatio), 0.5; abs(got-want) > 1e-9 {
		t.Fatalf("CostUsageRatio = %v, want %v", got, want)
	}
	if got := testutil.ToFloat64(reg.CostAlertLevel.WithLabelValues(string(AlertWarning))); got != 1 {
		t.Fatalf("CostAlertLevel{warning} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.CostAlertLevel.WithLabelValues(string(AlertOK))); got != 0 {
		t.Fatalf("CostAlertLevel{ok} = %v, want 0 once warning is current", got)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
