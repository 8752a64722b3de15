package health

import (
	"context"
	"log"
	"time"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/model"
)

// Config controls the monitor's ticker periods and score thresholds.
type Config struct {
	Thresholds        Thresholds
	EvaluateEvery     time.Duration // default 1m
	SnapshotEvery     time.Duration // default 5m
	RetentionSweepEvery time.Duration // default 24h
	SnapshotRetention time.Duration // default 30 * 24h
}

// DefaultConfig matches §4.8's stated periods.
func DefaultConfig() Config {
	return Config{
		Thresholds:          DefaultThresholds(),
		EvaluateEvery:       time.Minute,
		SnapshotEvery:       5 * time.Minute,
		RetentionSweepEvery: 24 * time.Hour,
		SnapshotRetention:   30 * 24 * time.Hour,
	}
}

// Monitor drives the three independent periodic tasks described in §4.8.
type Monitor struct {
	store  *store.Store
	cfg    Config
	logger *log.Logger
}

// New builds a Monitor. logger may be nil.
func New(st *store.Store, cfg Config, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{store: st, cfg: cfg, logger: logger}
}

// Run starts all three ticker loops and blocks until ctx is cancelled.
// Each loop is wrapped so a panic or error on one tick is logged and the
// loop continues, per §7's "background tasks never raise out of their
// loop."
func (m *Monitor) Run(ctx context.Context) {
	go m.loop(ctx, m.cfg.EvaluateEvery, m.evaluateOnce)
	go m.loop(ctx, m.cfg.SnapshotEvery, m.snapshotOnce)
	go m.loop(ctx, m.cfg.RetentionSweepEvery, m.pruneOnce)
	<-ctx.Done()
}

func (m *Monitor) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeTick(ctx, tick)
		}
	}
}

func (m *Monitor) safeTick(ctx context.Context, tick func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Printf("health: tick panicked, continuing: %v", r)
		}
	}()
	tick(ctx)
}

// evaluateOnce implements §4.8's every-minute re-evaluation: every
// non-retired node gets a fresh status/score, and a status crossing raises
// or resolves alerts.
func (m *Monitor) evaluateOnce(ctx context.Context) {
	nodes, err := m.store.AllNodesForHealthSweep(ctx)
	if err != nil {
		m.logger.Printf("health: evaluate: list nodes: %v", err)
		return
	}

	now := time.Now()
	for _, n := range nodes {
		if n.State == model.StateRetired {
			continue
		}
		m.evaluateNode(ctx, n, now)
	}
}

func (m *Monitor) evaluateNode(ctx context.Context, n *model.Node, now time.Time) {
	var age time.Duration
	if !n.LastSeenAt.IsZero() {
		age = now.Sub(n.LastSeenAt)
	}

	status := Status(n.LastSeenAt, now, m.cfg.Thresholds)
	rate := RebootRatePerDay(n.BootCount, now.Sub(n.CreatedAt))
	score := Score(age, m.cfg.Thresholds.OfflineAfter, n.InstallAttempts, rate)

	if status != n.HealthStatus || score != n.HealthScore {
		if err := m.store.UpdateNodeHealth(ctx, n.ID, status, score); err != nil {
			m.logger.Printf("health: update %s: %v", n.ID, err)
			return
		}
	}

	m.reconcileAlerts(ctx, n, status, score)
}

// reconcileAlerts raises/resolves the three alert types per §4.8's
// crossing rules: healthy->stale raises node_stale (warning), stale->
// offline raises node_offline (critical), score<threshold raises
// low_health_score; returning to healthy auto-resolves node_stale and
// node_offline.
func (m *Monitor) reconcileAlerts(ctx context.Context, n *model.Node, status model.HealthStatus, score int) {
	switch status {
	case model.HealthStale:
		m.raise(ctx, n.ID, model.AlertNodeStale, model.SeverityWarning, "node has not reported in over the stale threshold")
	case model.HealthOffline:
		m.raise(ctx, n.ID, model.AlertNodeOffline, model.SeverityCritical, "node has not reported in over the offline threshold")
		m.resolve(ctx, n.ID, model.AlertNodeStale)
	case model.HealthHealthy:
		m.resolve(ctx, n.ID, model.AlertNodeStale)
		m.resolve(ctx, n.ID, model.AlertNodeOffline)
	}

	if score < m.cfg.Thresholds.ScoreThreshold {
		m.raise(ctx, n.ID, model.AlertLowHealthScore, model.SeverityWarning, "node health score below configured threshold")
	} else {
		m.resolve(ctx, n.ID, model.AlertLowHealthScore)
	}
}

func (m *Monitor) raise(ctx context.Context, nodeID string, alertType model.AlertType, severity model.AlertSeverity, message string) {
	_, err := m.store.RaiseAlert(ctx, nodeID, alertType, severity, message, "")
	if err != nil && err != store.ErrDuplicate {
		m.logger.Printf("health: raise %s for %s: %v", alertType, nodeID, err)
	}
}

func (m *Monitor) resolve(ctx context.Context, nodeID string, alertType model.AlertType) {
	if err := m.store.ResolveActiveAlert(ctx, nodeID, alertType); err != nil {
		m.logger.Printf("health: resolve %s for %s: %v", alertType, nodeID, err)
	}
}

// snapshotOnce implements §4.8's every-five-minutes trend snapshot.
func (m *Monitor) snapshotOnce(ctx context.Context) {
	nodes, err := m.store.AllNodesForHealthSweep(ctx)
	if err != nil {
		m.logger.Printf("health: snapshot: list nodes: %v", err)
		return
	}

	now := time.Now()
	for _, n := range nodes {
		if n.State == model.StateRetired {
			continue
		}
		var secondsSinceSeen int64
		if !n.LastSeenAt.IsZero() {
			secondsSinceSeen = int64(now.Sub(n.LastSeenAt).Seconds())
		}
		snap := model.NodeHealthSnapshot{
			NodeID:           n.ID,
			Timestamp:        now,
			Status:           n.HealthStatus,
			Score:            n.HealthScore,
			SecondsSinceSeen: secondsSinceSeen,
			BootCount:        n.BootCount,
			InstallAttempts:  n.InstallAttempts,
			IP:               n.IP,
		}
		if err := m.store.RecordSnapshot(ctx, snap); err != nil {
			m.logger.Printf("health: snapshot %s: %v", n.ID, err)
		}
	}
}

// pruneOnce implements §4.8's daily retention sweep.
func (m *Monitor) pruneOnce(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.SnapshotRetention)
	n, err := m.store.PruneSnapshots(ctx, cutoff)
	if err != nil {
		m.logger.Printf("health: prune snapshots: %v", err)
		return
	}
	if n > 0 {
		m.logger.Printf("health: pruned %d snapshots older than %s", n, cutoff)
	}
}
