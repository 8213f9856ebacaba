package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kkhwan1/bloomberg-data/clock"
	"github.com/kkhwan1/bloomberg-data/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestNthConsecutiveFailureOpensBreaker(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New("free", 3, 5*time.Second, fc)

	for i := 0; i < 2; i++ {
		err := b.Call(func() error { return errBoom })
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, Closed, b.Statistics().State, "breaker should stay closed before threshold")
	}

	err := b.Call(func() error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.Statistics().State, "Nth consecutive failure must open the breaker")
}

func TestOpenBreakerRejectsWithoutCallingFn(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New("free", 1, 5*time.Second, fc)

	_ = b.Call(func() error { return errBoom }) // opens

	called := false
	err := b.Call(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "wrapped function must not be invoked while OPEN")
}

func TestRecoveryWindowAdmitsExactlyOneProbe(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New("free", 1, 5*time.Second, fc)
	_ = b.Call(func() error { return errBoom }) // opens

	fc.Advance(4 * time.Second)
	err := b.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen, "probe not yet admitted before window elapses")

	fc.Advance(2 * time.Second) // total 6s elapsed

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callErr := b.Call(func() error {
				mu.Lock()
				admitted++
				mu.Unlock()
				time.Sleep(time.Millisecond)
				return nil
			})
			_ = callErr
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted, "exactly one probe should be admitted concurrently during HALF_OPEN")
	assert.Equal(t, Closed, b.Statistics().State, "a successful probe should close the breaker")
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New("paid", 1, 5*time.Second, fc)
	_ = b.Call(func() error { return errBoom }) // opens
	fc.Advance(5 * time.Second)

	err := b.Call(func() error { return errBoom }) // the single probe fails
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.Statistics().State, "a failed probe must reopen the breaker")
}

func TestMetricsTrackStateAndTransitions(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New("free", 1, 5*time.Second, fc)
	reg := metrics.New()
	b.SetMetrics(reg)

	if got := testutil.ToFloat64(reg.BreakerState.WithLabelValues("free")); got != float64(Closed) {
		t.Fatalf("BreakerState = %v, want CLOSED (%v)", got, float64(Closed))
	}

	_ = b.Call(func() error { return errBoom }) // opens

	if got := testutil.ToFloat64(reg.BreakerState.WithLabelValues("free")); got != float64(Open) {
		t.Fatalf("BreakerState = %v, want OPEN (%v)", got, float64(Open))
	}
	if got := testutil.ToFloat64(reg.BreakerTransitions.WithLabelValues("free")); got != 1 {
		t.Fatalf("BreakerTransitions = %v, want 1", got)
	}
}

func TestResetForcesClosed(t *testing.T) {
	fc := clock.NewFake(time.Now())
	b := New("free", 1, 5*time.Second, fc)
	_ = b.Call(func() error { return errBoom })
	require.Equal(t, Open, b.Statistics().State)

	b.Reset()
	assert.Equal(t, Closed, b.Statistics().State)
	assert.True(t, b.IsAvailable())
}
