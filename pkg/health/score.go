// Package health implements the periodic node scoring and alerting
// described in §4.8: a pure status/score function, plus three independent
// ticker loops that re-evaluate, snapshot, and prune.
//
// The three-independent-ticker shape is grounded on the teacher's own
// background-worker idiom (cmd/server/main.go's
// `go flexController.StartBackgroundSync(ctx)`), generalized to three
// loops instead of one since §4.8 names three distinct periods.
package health

import (
	"time"

	"github.com/mrveiss/pureboot/pkg/model"
)

// Thresholds controls the status-classification cutoffs (§4.8) and the
// score-penalty caps decided in SPEC_FULL.md's open-question decision #2.
type Thresholds struct {
	StaleAfter     time.Duration // default 15m
	OfflineAfter   time.Duration // default 60m
	ScoreThreshold int           // below this, low_health_score fires
}

// DefaultThresholds matches §4.8's stated defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleAfter:     15 * time.Minute,
		OfflineAfter:   60 * time.Minute,
		ScoreThreshold: 50,
	}
}

// Status implements §4.8's status classification: a pure function of
// now - last_seen_at, with a null last_seen_at (zero time.Time) mapping to
// unknown rather than participating in the age comparison at all.
func Status(lastSeenAt time.Time, now time.Time, t Thresholds) model.HealthStatus {
	if lastSeenAt.IsZero() {
		return model.HealthUnknown
	}
	age := now.Sub(lastSeenAt)
	switch {
	case age <= t.StaleAfter:
		return model.HealthHealthy
	case age <= t.OfflineAfter:
		return model.HealthStale
	default:
		return model.HealthOffline
	}
}

// Penalty caps from SPEC_FULL.md's open-question decision #2: staleness capped
// at 40, install-failure at 40, boot-instability at 20, summing to the
// spec's "at most 100" ceiling.
const (
	staleCapPoints      = 40
	installCapAttempts  = 5
	installCapPoints    = 40
	installPointsPerTry = 8
	rebootCapPerDay     = 4
	rebootCapPoints     = 20
	rebootPointsPerBoot = 5
)

// Score implements §4.8's scoring function: deterministic, monotonic in
// each input, with no I/O — directly unit-testable per §8 invariant 5.
//
// ageSinceSeen is clamped to [0, offlineAfter] before being scaled, so a
// node that has been gone for a week scores the same staleness penalty as
// one gone exactly offlineAfter: the cap is on the penalty, not the age.
func Score(ageSinceSeen time.Duration, offlineAfter time.Duration, installAttempts int, rebootRatePerDay float64) int {
	score := 100

	score -= stalenessPenalty(ageSinceSeen, offlineAfter)
	score -= installFailurePenalty(installAttempts)
	score -= bootInstabilityPenalty(rebootRatePerDay)

	if score < 0 {
		score = 0
	}
	return score
}

func stalenessPenalty(age, offlineAfter time.Duration) int {
	if offlineAfter <= 0 {
		return 0
	}
	if age < 0 {
		age = 0
	}
	if age > offlineAfter {
		age = offlineAfter
	}
	return int(float64(staleCapPoints) * float64(age) / float64(offlineAfter))
}

func installFailurePenalty(attempts int) int {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > installCapAttempts {
		attempts = installCapAttempts
	}
	pts := attempts * installPointsPerTry
	if pts > installCapPoints {
		pts = installCapPoints
	}
	return pts
}

func bootInstabilityPenalty(rebootRatePerDay float64) int {
	if rebootRatePerDay < 0 {
		rebootRatePerDay = 0
	}
	if rebootRatePerDay > rebootCapPerDay {
		rebootRatePerDay = rebootCapPerDay
	}
	pts := int(rebootRatePerDay * rebootPointsPerBoot)
	if pts > rebootCapPoints {
		pts = rebootCapPoints
	}
	return pts
}

// RebootRatePerDay estimates reboot frequency from the node's cumulative
// boot count and age, since the schema tracks no separate "reboots in the
// last N hours" counter — a coarser but deterministic stand-in that still
// satisfies §8 invariant 5 (monotonic in boot_count).
func RebootRatePerDay(bootCount int, age time.Duration) float64 {
	days := age.Hours() / 24
	if days < 1 {
		days = 1
	}
	return float64(bootCount) / days
}
