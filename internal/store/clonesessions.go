package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrveiss/pureboot/pkg/eventbus"
	"github.com/mrveiss/pureboot/pkg/model"
)

// ErrBytesNotMonotonic is returned when a progress update reports fewer
// bytes transferred than already recorded (§8 invariant: transfer progress
// never decreases).
var ErrBytesNotMonotonic = errors.New("store: bytes_transferred may not decrease")

// CreateCloneSessionParams carries the fields supplied when a clone
// session is requested (§4.6).
type CreateCloneSessionParams struct {
	SourceNodeID string
	TargetNodeID string
	Mode         model.CloneMode
	SourceDevice string
	TargetDevice string
}

// CreateCloneSession inserts a new session in CloneStatusPending.
func (s *Store) CreateCloneSession(ctx context.Context, p CreateCloneSessionParams) (*model.CloneSession, error) {
	cs := &model.CloneSession{
		ID:           uuid.NewString(),
		SourceNodeID: p.SourceNodeID,
		TargetNodeID: p.TargetNodeID,
		Mode:         p.Mode,
		SourceDevice: p.SourceDevice,
		TargetDevice: p.TargetDevice,
		Status:       model.CloneStatusPending,
		CreatedAt:    s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO clone_sessions
		(id, source_node_id, target_node_id, mode, source_device, target_device, status,
		 bytes_total, bytes_transferred, transfer_rate, created_at)
		VALUES (?, ?, nullif(?,''), ?, ?, nullif(?,''), ?, 0, 0, 0, ?)`,
		cs.ID, cs.SourceNodeID, cs.TargetNodeID, string(cs.Mode), cs.SourceDevice, cs.TargetDevice,
		string(cs.Status), cs.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create clone session: %w", err)
	}

	s.publish(eventbus.TopicCloneProgress, cs)
	return cs, nil
}

const cloneSessionColumns = `id, source_node_id, coalesce(target_node_id,''), mode, source_device,
	coalesce(target_device,''), coalesce(source_cert_pem,''), coalesce(source_key_pem,''),
	coalesce(target_cert_pem,''), coalesce(target_key_pem,''), coalesce(ca_pem,''),
	coalesce(transfer_mode,''), bytes_total, bytes_transferred, transfer_rate, status,
	coalesce(source_ip,''), coalesce(source_port,0), coalesce(error_message,''),
	created_at, started_at, completed_at`

func scanCloneSession(row rowScanner) (*model.CloneSession, error) {
	var cs model.CloneSession
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&cs.ID, &cs.SourceNodeID, &cs.TargetNodeID, &cs.Mode, &cs.SourceDevice, &cs.TargetDevice,
		&cs.SourceCertPEM, &cs.SourceKeyPEM, &cs.TargetCertPEM, &cs.TargetKeyPEM, &cs.CAPEM,
		&cs.TransferMode, &cs.BytesTotal, &cs.BytesTransferred, &cs.TransferRateBytesPerSec, &cs.Status,
		&cs.SourceIP, &cs.SourcePort, &cs.ErrorMessage, &cs.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		cs.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		cs.CompletedAt = &completedAt.Time
	}
	return &cs, nil
}

// GetCloneSession loads a clone session by ID.
func (s *Store) GetCloneSession(ctx context.Context, id string) (*model.CloneSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cloneSessionColumns+` FROM clone_sessions WHERE id = ?`, id)
	cs, err := scanCloneSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get clone session: %w", err)
	}
	return cs, nil
}

// ListCloneSessions returns every clone session, newest first.
func (s *Store) ListCloneSessions(ctx context.Context) ([]*model.CloneSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cloneSessionColumns+` FROM clone_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list clone sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.CloneSession
	for rows.Next() {
		cs, err := scanCloneSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list clone sessions: scan: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// SetCloneCredentials stores the per-role mutual-TLS material once
// pkg/clonepki has minted it for a session (§4.6 step 2: the `start`
// action). The session remains `pending` — issuing credentials and
// assigning the source's boot workflow is what "pending" already covers,
// the node just hasn't booted yet.
func (s *Store) SetCloneCredentials(ctx context.Context, id, sourceCert, sourceKey, targetCert, targetKey, caPEM string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clone_sessions SET source_cert_pem = ?, source_key_pem = ?,
		target_cert_pem = ?, target_key_pem = ?, ca_pem = ? WHERE id = ? AND status = ?`,
		sourceCert, sourceKey, targetCert, targetKey, caPEM, id, string(model.CloneStatusPending))
	if err != nil {
		return fmt.Errorf("set clone credentials: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkSourceReady records the source's self-reported listening endpoint
// and measured disk size, advancing pending -> source_ready (§4.6 step 3).
func (s *Store) MarkSourceReady(ctx context.Context, id, sourceIP string, sourcePort int, bytesTotal int64) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE clone_sessions SET status = ?, source_ip = ?, source_port = ?,
		bytes_total = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(model.CloneStatusSourceReady), sourceIP, sourcePort, bytesTotal, now, id, string(model.CloneStatusPending))
	if err != nil {
		return fmt.Errorf("mark source ready: %w", err)
	}
	return checkRowsAffected(res)
}

// StartCloneTransfer advances source_ready -> cloning once the target has
// begun streaming (§4.6 step 4).
func (s *Store) StartCloneTransfer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clone_sessions SET status = ? WHERE id = ? AND status = ?`,
		string(model.CloneStatusCloning), id, string(model.CloneStatusSourceReady))
	if err != nil {
		return fmt.Errorf("start clone transfer: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateCloneProgress records a progress tick. bytesTransferred must not be
// lower than what is already stored.
func (s *Store) UpdateCloneProgress(ctx context.Context, id string, bytesTransferred int64, rate float64) error {
	cs, err := s.GetCloneSession(ctx, id)
	if err != nil {
		return err
	}
	if bytesTransferred < cs.BytesTransferred {
		return ErrBytesNotMonotonic
	}
	_, err = s.db.ExecContext(ctx, `UPDATE clone_sessions SET bytes_transferred = ?, transfer_rate = ? WHERE id = ?`,
		bytesTransferred, rate, id)
	if err != nil {
		return fmt.Errorf("update clone progress: %w", err)
	}
	cs.BytesTransferred = bytesTransferred
	cs.TransferRateBytesPerSec = rate
	s.publish(eventbus.TopicCloneProgress, cs)
	return nil
}

// ErrCloneSessionTerminal is returned by CompleteCloneSession when the
// session has already reached completed/failed/cancelled (§7 Precondition:
// a terminal session cannot be completed a second time).
var ErrCloneSessionTerminal = errors.New("store: clone session already in a terminal state")

// CompleteCloneSession marks a session completed or failed. Per-role
// private keys are wiped from the row on termination (§4.9): once the
// session is over there is no legitimate re-fetch of key material left.
func (s *Store) CompleteCloneSession(ctx context.Context, id string, failed bool, errMsg string) error {
	cs, err := s.GetCloneSession(ctx, id)
	if err != nil {
		return err
	}
	switch cs.Status {
	case model.CloneStatusCompleted, model.CloneStatusFailed, model.CloneStatusCancelled:
		return ErrCloneSessionTerminal
	}

	status := model.CloneStatusCompleted
	if failed {
		status = model.CloneStatusFailed
	}
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE clone_sessions SET status = ?, error_message = ?, completed_at = ?,
		source_key_pem = '', target_key_pem = '' WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(status), errMsg, now, id,
		string(model.CloneStatusCompleted), string(model.CloneStatusFailed), string(model.CloneStatusCancelled))
	if err != nil {
		return fmt.Errorf("complete clone session: %w", err)
	}
	return checkRowsAffected(res)
}

// CancelCloneSession marks a pending or in-flight session cancelled and
// zeroes its per-role private keys, same as CompleteCloneSession.
func (s *Store) CancelCloneSession(ctx context.Context, id string) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE clone_sessions SET status = ?, completed_at = ?,
		source_key_pem = '', target_key_pem = '' WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(model.CloneStatusCancelled), now, id,
		string(model.CloneStatusCompleted), string(model.CloneStatusFailed), string(model.CloneStatusCancelled))
	if err != nil {
		return fmt.Errorf("cancel clone session: %w", err)
	}
	return checkRowsAffected(res)
}
