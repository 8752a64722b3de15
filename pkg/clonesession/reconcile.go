package clonesession

import (
	"context"
	"time"
)

// Run drives the stall-reconciliation loop until ctx is cancelled,
// mirroring the teacher's go func(ctx) background-worker shape
// (cmd/server/main.go's StartBackgroundSync). Every cfg.ReconcileEvery
// tick it fails any session that has sat in source_ready/cloning past
// cfg.StallTimeout without completing — §5's "timed reconciliation of
// long-running sessions across unreliable clients."
func (o *Orchestrator) Run(ctx context.Context) {
	interval := o.cfg.ReconcileEvery
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
			o.reconcileOnce(ctx)
		}
	}
}

func (o *Orchestrator) reconcileOnce(ctx context.Context) {
	sessions, err := o.store.ListCloneSessions(ctx)
	if err != nil {
		o.logger.Printf("clonesession: reconcile: list sessions: %v", err)
		return
	}

	now := time.Now()
	for _, cs := range sessions {
		if !stalled(cs, now, o.cfg.StallTimeout) {
			continue
		}
		o.logger.Printf("clonesession: %s stalled in %s, failing: %v", cs.ID, cs.Status, errStalled)
		if err := o.Complete(ctx, cs.ID, true, errStalled.Error()); err != nil {
			o.logger.Printf("clonesession: reconcile: fail stalled session %s: %v", cs.ID, err)
		}
	}
}
