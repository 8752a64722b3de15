package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mrveiss/pureboot/pkg/eventbus"
	"github.com/mrveiss/pureboot/pkg/model"
)

// UpdateNodeHealth stores the latest score and status computed by
// pkg/health for a node. It does not itself raise or resolve alerts —
// callers decide that from the status and score they computed.
func (s *Store) UpdateNodeHealth(ctx context.Context, nodeID string, status model.HealthStatus, score int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET health_status = ?, health_score = ?, updated_at = ?
		WHERE id = ?`, string(status), score, s.now().UTC(), nodeID)
	if err != nil {
		return fmt.Errorf("update node health: %w", err)
	}
	return checkRowsAffected(res)
}

// RaiseAlert inserts a new active alert for (nodeID, alertType). The
// node_id/alert_type partial unique index rejects a second active alert of
// the same type for the same node; ErrDuplicate surfaces that case so
// callers can treat it as "already raised" rather than an error.
func (s *Store) RaiseAlert(ctx context.Context, nodeID string, alertType model.AlertType, severity model.AlertSeverity, message, details string) (*model.HealthAlert, error) {
	a := &model.HealthAlert{
		ID:        uuid.NewString(),
		NodeID:    nodeID,
		AlertType: alertType,
		Severity:  severity,
		Status:    model.AlertActive,
		Message:   message,
		Details:   details,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO health_alerts
		(id, node_id, alert_type, severity, status, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.NodeID, string(a.AlertType), string(a.Severity), string(a.Status), a.Message, a.Details, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("raise alert: %w", err)
	}
	s.publish(eventbus.TopicAlertCreated, a)
	return a, nil
}

// ResolveActiveAlert resolves the active alert of the given type for a
// node, if any. It is a no-op (no error) when none is active, since health
// re-evaluation calls this on every tick regardless of current state.
func (s *Store) ResolveActiveAlert(ctx context.Context, nodeID string, alertType model.AlertType) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE health_alerts SET status = ?, resolved_at = ?
		WHERE node_id = ? AND alert_type = ? AND status = ?`,
		string(model.AlertResolved), now, nodeID, string(alertType), string(model.AlertActive))
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(eventbus.TopicAlertResolved, map[string]string{"node_id": nodeID, "alert_type": string(alertType)})
	}
	return nil
}

// AcknowledgeAlert marks an active or resolved alert acknowledged by user.
func (s *Store) AcknowledgeAlert(ctx context.Context, id, user string) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE health_alerts SET status = ?, acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ?`, string(model.AlertAcknowledged), now, user, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	return checkRowsAffected(res)
}

// ListActiveAlerts returns every alert currently active, newest first.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]*model.HealthAlert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, node_id, alert_type, severity, status, message,
		coalesce(details,''), created_at, acknowledged_at, coalesce(acknowledged_by,''), resolved_at
		FROM health_alerts WHERE status = ? ORDER BY created_at DESC`, string(model.AlertActive))
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// NodeAlerts returns every alert ever raised for a node, newest first.
func (s *Store) NodeAlerts(ctx context.Context, nodeID string) ([]*model.HealthAlert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, node_id, alert_type, severity, status, message,
		coalesce(details,''), created_at, acknowledged_at, coalesce(acknowledged_by,''), resolved_at
		FROM health_alerts WHERE node_id = ? ORDER BY created_at DESC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node alerts: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

func scanAlertRows(rows *sql.Rows) ([]*model.HealthAlert, error) {
	var out []*model.HealthAlert
	for rows.Next() {
		var a model.HealthAlert
		var ackAt, resolvedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.NodeID, &a.AlertType, &a.Severity, &a.Status, &a.Message,
			&a.Details, &a.CreatedAt, &ackAt, &a.AcknowledgedBy, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if ackAt.Valid {
			a.AcknowledgedAt = &ackAt.Time
		}
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ErrActiveAlertExists is a separate sentinel, not an alias of ErrDuplicate.
// RaiseAlert never returns it: an already-active alert surfaces as
// ErrDuplicate, which is what pkg/health checks for.
var ErrActiveAlertExists = errors.New("store: active alert already exists")

// RecordSnapshot inserts a point-in-time health snapshot for a node.
func (s *Store) RecordSnapshot(ctx context.Context, snap model.NodeHealthSnapshot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO node_health_snapshots
		(node_id, timestamp, status, score, seconds_since_seen, boot_count, install_attempts, ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.NodeID, snap.Timestamp, string(snap.Status), snap.Score, snap.SecondsSinceSeen,
		snap.BootCount, snap.InstallAttempts, snap.IP)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// NodeSnapshots returns a node's snapshots within [since, now], oldest
// first, used to render health trend views.
func (s *Store) NodeSnapshots(ctx context.Context, nodeID string, since time.Time) ([]model.NodeHealthSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, node_id, timestamp, status, score,
		seconds_since_seen, boot_count, install_attempts, coalesce(ip,'')
		FROM node_health_snapshots WHERE node_id = ? AND timestamp >= ? ORDER BY timestamp`,
		nodeID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("node snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.NodeHealthSnapshot
	for rows.Next() {
		var snap model.NodeHealthSnapshot
		if err := rows.Scan(&snap.ID, &snap.NodeID, &snap.Timestamp, &snap.Status, &snap.Score,
			&snap.SecondsSinceSeen, &snap.BootCount, &snap.InstallAttempts, &snap.IP); err != nil {
			return nil, fmt.Errorf("node snapshots: scan: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes snapshots older than olderThan, implementing the
// configured retention window (SnapshotRetentionDays).
func (s *Store) PruneSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM node_health_snapshots WHERE timestamp < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// AllNodesForHealthSweep returns every node the health monitor needs to
// re-evaluate on its periodic tick.
func (s *Store) AllNodesForHealthSweep(ctx context.Context) ([]*model.Node, error) {
	return s.ListNodes(ctx)
}
