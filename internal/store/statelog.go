package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mrveiss/pureboot/pkg/model"
)

// execer is satisfied by both *sql.Tx and *sql.Conn, letting helpers like
// insertStateLog run inside either a standard transaction or the raw
// connection Transition holds for its BEGIN IMMEDIATE block.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertStateLog(ctx context.Context, e execer, at time.Time, log model.NodeStateLog) error {
	_, err := e.ExecContext(ctx, `INSERT INTO node_state_log
		(node_id, from_state, to_state, triggered_by, user, comment, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.NodeID, string(log.FromState), string(log.ToState), string(log.TriggeredBy),
		log.User, log.Comment, log.Metadata, at.UTC())
	if err != nil {
		return fmt.Errorf("insert state log: %w", err)
	}
	return nil
}

// NodeHistory returns the full transition audit trail for a node, oldest
// first.
func (s *Store) NodeHistory(ctx context.Context, nodeID string) ([]model.NodeStateLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, node_id, from_state, to_state, triggered_by,
		coalesce(user,''), coalesce(comment,''), coalesce(metadata,''), created_at
		FROM node_state_log WHERE node_id = ? ORDER BY created_at`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node history: %w", err)
	}
	defer rows.Close()

	var out []model.NodeStateLog
	for rows.Next() {
		var l model.NodeStateLog
		if err := rows.Scan(&l.ID, &l.NodeID, &l.FromState, &l.ToState, &l.TriggeredBy,
			&l.User, &l.Comment, &l.Metadata, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("node history: scan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
