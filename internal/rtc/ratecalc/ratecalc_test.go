package ratecalc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateCalculatorAccumulatesWithinWindow(t *testing.T) {
	r := NewRateCalculator()
	require.True(t, r.Update(100, 0))
	require.True(t, r.Update(200, 500))
	require.EqualValues(t, 300, r.Rate(999))
}

func TestRateCalculatorSlidesWindow(t *testing.T) {
	r := NewRateCalculator()
	require.True(t, r.Update(1000, 0))
	require.EqualValues(t, 1000, r.Rate(0))
	// advancing past the 1000ms window should evict the old sample
	require.EqualValues(t, 0, r.Rate(1001))
}

func TestRateCalculatorRejectsPastUpdates(t *testing.T) {
	r := NewRateCalculator()
	require.True(t, r.Update(500, 500))
	require.False(t, r.Update(100, -600)) // before the window floor
}

func TestIntervalBudgetRefillsAndCaps(t *testing.T) {
	b := NewIntervalBudget(1_000_000, 1000) // 1 Mbps, 1000ms window
	b.Update(0)
	require.EqualValues(t, 0, b.Remaining())

	b.Update(1000)
	require.EqualValues(t, b.Cap(), b.Remaining())

	// further elapsed time must not push the balance above the cap
	b.Update(5000)
	require.EqualValues(t, b.Cap(), b.Remaining())
}

func TestIntervalBudgetConsumeCanGoNegative(t *testing.T) {
	b := NewIntervalBudget(1_000_000, 1000)
	b.Update(0)
	b.Update(100) // refill ~12500 bytes
	require.True(t, b.HasBudget())
	b.Consume(20000)
	require.False(t, b.HasBudget())
	require.Less(t, b.Remaining(), int64(0))
}
