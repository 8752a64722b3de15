package health

import (
	"testing"
	"time"

	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestStatusClassification(t *testing.T) {
	now := time.Now()
	th := DefaultThresholds()

	require.Equal(t, model.HealthUnknown, Status(time.Time{}, now, th))
	require.Equal(t, model.HealthHealthy, Status(now.Add(-10*time.Minute), now, th))
	require.Equal(t, model.HealthStale, Status(now.Add(-20*time.Minute), now, th))
	require.Equal(t, model.HealthOffline, Status(now.Add(-90*time.Minute), now, th))
}

func TestScoreIsDeterministicAndMonotonic(t *testing.T) {
	offline := 60 * time.Minute

	s1 := Score(10*time.Minute, offline, 0, 0)
	s2 := Score(10*time.Minute, offline, 0, 0)
	require.Equal(t, s1, s2, "score must be a pure function of its inputs")

	// More staleness never increases score.
	require.GreaterOrEqual(t, Score(10*time.Minute, offline, 0, 0), Score(50*time.Minute, offline, 0, 0))
	// More install attempts never increases score.
	require.GreaterOrEqual(t, Score(0, offline, 1, 0), Score(0, offline, 4, 0))
	// More reboots never increases score.
	require.GreaterOrEqual(t, Score(0, offline, 0, 0.5), Score(0, offline, 0, 3))
}

func TestScorePenaltiesAreCapped(t *testing.T) {
	offline := 60 * time.Minute

	require.Equal(t, 0, Score(offline, offline, installCapAttempts+10, rebootCapPerDay+10))
}

func TestScoreNeverNegative(t *testing.T) {
	require.GreaterOrEqual(t, Score(time.Hour, time.Minute, 100, 100), 0)
}

func TestRebootRatePerDayFloorsAtOneDay(t *testing.T) {
	require.Equal(t, 3.0, RebootRatePerDay(3, time.Hour))
	require.Equal(t, 1.5, RebootRatePerDay(3, 48*time.Hour))
}
