package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mrveiss/pureboot/pkg/model"
)

// insertEvent is the execer-generic counterpart to insertStateLog, letting
// callers append a NodeEvent inside an existing transaction (or connection)
// instead of always opening one of their own.
func insertEvent(ctx context.Context, e execer, at time.Time, ev model.NodeEvent) error {
	_, err := e.ExecContext(ctx, `INSERT INTO node_events
		(node_id, event_type, status, message, progress, metadata, observed_ip, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.NodeID, string(ev.EventType), ev.Status, ev.Message, ev.Progress, ev.Metadata,
		ev.ObservedIP, at.UTC())
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// AppendEvent records a lifecycle event distinct from a state transition —
// a boot request, install progress tick, or heartbeat (§3 NodeEvent).
func (s *Store) AppendEvent(ctx context.Context, ev model.NodeEvent) error {
	return insertEvent(ctx, s.db, s.now(), ev)
}

// NodeEvents returns a node's recorded events, oldest first.
func (s *Store) NodeEvents(ctx context.Context, nodeID string) ([]model.NodeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, node_id, event_type, coalesce(status,''),
		coalesce(message,''), progress, coalesce(metadata,''), coalesce(observed_ip,''), created_at
		FROM node_events WHERE node_id = ? ORDER BY created_at`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node events: %w", err)
	}
	defer rows.Close()

	var out []model.NodeEvent
	for rows.Next() {
		var e model.NodeEvent
		if err := rows.Scan(&e.ID, &e.NodeID, &e.EventType, &e.Status, &e.Message, &e.Progress,
			&e.Metadata, &e.ObservedIP, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("node events: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
