package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMonitorStartsAtPerfectScore(t *testing.T) {
	m := New()
	require.InDelta(t, 100, m.Score(), 0.01)
}

func TestUpdateDegradesScoreOnLoss(t *testing.T) {
	m := New()
	// 50% loss over 100 expected packets, no repairs
	for i := 0; i < historyLen; i++ {
		m.Update(int64(50*(i+1)), 0, 0, 100)
	}
	require.Less(t, m.Score(), 100.0)
}

func TestUpdateRepairCreditsScore(t *testing.T) {
	noRepair := New()
	withRepair := New()
	for i := 0; i < historyLen; i++ {
		noRepair.Update(int64(10*(i+1)), 0, 0, 100)
		withRepair.Update(int64(10*(i+1)), 0, 10, 100)
	}
	require.Greater(t, withRepair.Score(), noRepair.Score())
}

func TestThresholdTransitionFires(t *testing.T) {
	m := New()
	var transitions int
	m.SetThresholds([]int{5}, func(old, new_ int) { transitions++ })
	for i := 0; i < historyLen; i++ {
		m.Update(int64(90*(i+1)), 0, 0, 100) // heavy loss, should cross bucket 5
	}
	require.Greater(t, transitions, 0)
}
