package fetchsvc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIntervalEstimator_FallsBackToConfiguredWhenNoData(t *testing.T) {
	e := newIntervalEstimator()
	got := e.PollInterval(500 * time.Millisecond)
	require.Equal(t, 500*time.Millisecond, got)
}

func TestIntervalEstimator_ShrinksTowardMeasuredInterval(t *testing.T) {
	e := newIntervalEstimator()
	now := time.Now()
	e.Observe(now)
	e.Observe(now.Add(2 * time.Second))
	e.Observe(now.Add(4 * time.Second))

	got := e.PollInterval(10 * time.Second)
	require.Less(t, got, blockTimeVariance)
}

func TestIntervalEstimator_NeverBelowMinimum(t *testing.T) {
	e := newIntervalEstimator()
	now := time.Now()
	e.Observe(now)
	e.Observe(now.Add(time.Millisecond))

	got := e.PollInterval(time.Millisecond)
	require.GreaterOrEqual(t, got, minPollInterval)
}
