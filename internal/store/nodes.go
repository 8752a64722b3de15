package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mrveiss/pureboot/pkg/eventbus"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/nodestate"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a unique constraint (mac, serial) is violated.
var ErrDuplicate = errors.New("store: duplicate identifier")

// CreateNodeParams carries the fields the caller supplies when registering
// a node; derived fields (ID, State, timestamps) are filled in by Store.
type CreateNodeParams struct {
	MAC      string
	Serial   string
	Name     string
	IP       string
	Arch     model.Architecture
	Firmware model.FirmwareClass
	Vendor   string
	Model    string
	GroupID  string
}

// CreateNode inserts a new node in StateDiscovered and appends the initial
// state-log row in the same transaction.
func (s *Store) CreateNode(ctx context.Context, p CreateNodeParams) (*model.Node, error) {
	if p.MAC == "" && p.Serial == "" {
		return nil, fmt.Errorf("create node: mac or serial is required")
	}

	now := s.now().UTC()
	n := &model.Node{
		ID:             uuid.NewString(),
		MAC:            p.MAC,
		Serial:         p.Serial,
		Name:           p.Name,
		IP:             p.IP,
		Arch:           p.Arch,
		Firmware:       p.Firmware,
		Vendor:         p.Vendor,
		Model:          p.Model,
		GroupID:        p.GroupID,
		State:          model.StateDiscovered,
		StateChangedAt: now,
		HealthStatus:   model.HealthUnknown,
		HealthScore:    100,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create node: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO nodes
		(id, mac, serial, name, ip, arch, firmware, vendor, model, workflow_id, group_id, tags,
		 state, state_changed_at, health_status, health_score, boot_count, install_attempts,
		 last_install_error, last_seen_at, created_at, updated_at)
		VALUES (?, nullif(?,''), nullif(?,''), ?, ?, ?, ?, ?, ?, nullif(?,''), nullif(?,''), ?,
		 ?, ?, ?, ?, 0, 0, '', NULL, ?, ?)`,
		n.ID, n.MAC, n.Serial, n.Name, n.IP, string(n.Arch), string(n.Firmware), n.Vendor, n.Model,
		n.WorkflowID, n.GroupID, "[]",
		string(n.State), n.StateChangedAt, string(n.HealthStatus), n.HealthScore,
		n.CreatedAt, n.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create node: insert: %w", err)
	}

	if err := insertStateLog(ctx, tx, s.now(), model.NodeStateLog{
		NodeID:      n.ID,
		FromState:   "",
		ToState:     n.State,
		TriggeredBy: model.TriggeredBySystem,
		Comment:     "node discovered",
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create node: commit: %w", err)
	}

	s.publish(eventbus.TopicStateChanged, n)
	return n, nil
}

// GetNode loads a node by its internal ID.
func (s *Store) GetNode(ctx context.Context, id string) (*model.Node, error) {
	return s.scanNode(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
}

// GetNodeByMAC loads a node by its canonical MAC address.
func (s *Store) GetNodeByMAC(ctx context.Context, mac string) (*model.Node, error) {
	return s.scanNode(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE mac = ?`, mac)
}

// GetNodeBySerial loads a node by its board serial.
func (s *Store) GetNodeBySerial(ctx context.Context, serial string) (*model.Node, error) {
	return s.scanNode(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE serial = ?`, serial)
}

const nodeColumns = `id, coalesce(mac,''), coalesce(serial,''), name, ip, arch, firmware, vendor, model,
	coalesce(workflow_id,''), coalesce(group_id,''), tags, state, state_changed_at, health_status,
	health_score, boot_count, install_attempts, last_install_error, last_seen_at, created_at, updated_at`

func (s *Store) scanNode(ctx context.Context, query string, arg interface{}) (*model.Node, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	n, err := scanNodeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNodeRow(row rowScanner) (*model.Node, error) {
	var n model.Node
	var tagsJSON string
	var lastSeen sql.NullTime

	err := row.Scan(&n.ID, &n.MAC, &n.Serial, &n.Name, &n.IP, &n.Arch, &n.Firmware, &n.Vendor, &n.Model,
		&n.WorkflowID, &n.GroupID, &tagsJSON, &n.State, &n.StateChangedAt, &n.HealthStatus,
		&n.HealthScore, &n.BootCount, &n.InstallAttempts, &n.LastInstallError, &lastSeen,
		&n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		n.LastSeenAt = lastSeen.Time
	}
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &n.Tags)
	}
	return &n, nil
}

// ListNodes returns every node, ordered by creation time. Filtering by
// group/state is expected to be done by internal/api against the returned
// slice for the modest fleet sizes PureBoot targets (§1 scope).
func (s *Store) ListNodes(ctx context.Context) ([]*model.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []*model.Node
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list nodes: scan: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// TouchSeen records a contact from a node (boot request, heartbeat):
// updates ip and last_seen_at, and increments boot_count when fromBoot is
// true. It does not change state.
func (s *Store) TouchSeen(ctx context.Context, nodeID, ip string, fromBoot bool) error {
	now := s.now().UTC()
	bootIncrement := 0
	if fromBoot {
		bootIncrement = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET ip = ?, last_seen_at = ?, updated_at = ?, boot_count = boot_count + ? WHERE id = ?`,
		ip, now, now, bootIncrement, nodeID)
	if err != nil {
		return fmt.Errorf("touch seen: %w", err)
	}
	return checkRowsAffected(res)
}

// UpdateNodeFieldsParams carries the admin-editable node fields that are
// not part of the state machine or the boot-assignment check-and-set
// (§3 Node: "mutated by ... admin edits"). A nil pointer leaves the
// corresponding column untouched.
type UpdateNodeFieldsParams struct {
	Name    *string
	GroupID *string
	Tags    *[]string
}

// UpdateNodeFields applies whichever fields are non-nil and returns the
// updated node.
func (s *Store) UpdateNodeFields(ctx context.Context, nodeID string, p UpdateNodeFieldsParams) (*model.Node, error) {
	now := s.now().UTC()

	if p.Name != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE nodes SET name = ?, updated_at = ? WHERE id = ?`, *p.Name, now, nodeID); err != nil {
			return nil, fmt.Errorf("update node fields: name: %w", err)
		}
	}
	if p.GroupID != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE nodes SET group_id = nullif(?,''), updated_at = ? WHERE id = ?`, *p.GroupID, now, nodeID); err != nil {
			return nil, fmt.Errorf("update node fields: group: %w", err)
		}
	}
	if p.Tags != nil {
		tagsJSON, err := json.Marshal(*p.Tags)
		if err != nil {
			return nil, fmt.Errorf("update node fields: marshal tags: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE nodes SET tags = ?, updated_at = ? WHERE id = ?`, string(tagsJSON), now, nodeID); err != nil {
			return nil, fmt.Errorf("update node fields: tags: %w", err)
		}
	}

	return s.GetNode(ctx, nodeID)
}

// TransitionParams describes a requested node state change (§4.4).
type TransitionParams struct {
	NodeID      string
	To          model.NodeState
	TriggeredBy model.TriggeredBy
	User        string
	Comment     string
	Metadata    string
	Force       bool
}

// Transition moves a node to a new state inside a BEGIN IMMEDIATE
// transaction, validating the edge against pkg/nodestate, enforcing the
// install-retry ceiling, and appending the audit row — all atomically so
// concurrent requests never observe a torn update.
func (s *Store) Transition(ctx context.Context, p TransitionParams) (*model.Node, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("transition: conn: %w", err)
	}
	defer conn.Close()

	// SQLite has no row-level lock. BEGIN IMMEDIATE takes the write lock up
	// front instead of on first write, so two concurrent transitions on the
	// same node serialize here rather than one discovering a conflict after
	// it has already decided the edge was valid.
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, fmt.Errorf("transition: begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	row := conn.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, p.NodeID)
	n, err := scanNodeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodestate.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("transition: load: %w", err)
	}

	allowed := nodestate.ValidTransition(n.State, p.To) || (p.Force && nodestate.IsForceTarget(p.To))
	if !allowed {
		return nil, nodestate.ErrInvalidTransition
	}

	if n.State == model.StateInstallFailed && p.To == model.StatePending && !p.Force {
		if n.InstallAttempts >= nodestate.MaxInstallAttempts {
			return nil, nodestate.ErrRetryLimitExceeded
		}
	}

	from := n.State
	now := s.now().UTC()
	resetAttempts := nodestate.ResetsInstallAttempts(p.To, p.Force)

	if resetAttempts {
		_, err = conn.ExecContext(ctx, `UPDATE nodes SET state = ?, state_changed_at = ?, updated_at = ?,
			install_attempts = 0, last_install_error = '' WHERE id = ?`,
			string(p.To), now, now, p.NodeID)
	} else {
		_, err = conn.ExecContext(ctx, `UPDATE nodes SET state = ?, state_changed_at = ?, updated_at = ?
			WHERE id = ?`, string(p.To), now, now, p.NodeID)
	}
	if err != nil {
		return nil, fmt.Errorf("transition: update: %w", err)
	}

	if err := insertStateLog(ctx, conn, s.now(), model.NodeStateLog{
		NodeID:      p.NodeID,
		FromState:   from,
		ToState:     p.To,
		TriggeredBy: p.TriggeredBy,
		User:        p.User,
		Comment:     p.Comment,
		Metadata:    p.Metadata,
	}); err != nil {
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, fmt.Errorf("transition: commit: %w", err)
	}
	committed = true

	n.State = p.To
	n.StateChangedAt = now
	n.UpdatedAt = now
	if resetAttempts {
		n.InstallAttempts = 0
		n.LastInstallError = ""
	}
	s.publish(eventbus.TopicStateChanged, n)
	return n, nil
}

// RecordInstallFailure increments install_attempts, records the error, and
// applies pkg/nodestate's NextOnInstallFailure policy: after three failed
// attempts the node lands in install_failed rather than looping back to
// installing. Per §4.4's install-failure helper, an attempt that leaves
// the node in installing is recorded only as a NodeEvent — installing ->
// installing is not an edge of pkg/nodestate's transition graph, so no
// NodeStateLog row is written until the terminal installing ->
// install_failed transition on the third failure (§8 invariant 1).
func (s *Store) RecordInstallFailure(ctx context.Context, nodeID, errMsg string) (*model.Node, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record install failure: begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, nodeID)
	n, err := scanNodeRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nodestate.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record install failure: load: %w", err)
	}

	attempts := n.InstallAttempts + 1
	target, terminal := nodestate.NextOnInstallFailure(attempts)
	now := s.now().UTC()

	_, err = tx.ExecContext(ctx, `UPDATE nodes SET install_attempts = ?, last_install_error = ?,
		state = ?, state_changed_at = ?, updated_at = ? WHERE id = ?`,
		attempts, errMsg, string(target), now, now, nodeID)
	if err != nil {
		return nil, fmt.Errorf("record install failure: update: %w", err)
	}

	if terminal {
		if err := insertStateLog(ctx, tx, s.now(), model.NodeStateLog{
			NodeID:      nodeID,
			FromState:   n.State,
			ToState:     target,
			TriggeredBy: model.TriggeredBySystem,
			Comment:     fmt.Sprintf("install failure: %s", errMsg),
		}); err != nil {
			return nil, err
		}
	}

	if err := insertEvent(ctx, tx, s.now(), model.NodeEvent{
		NodeID:    nodeID,
		EventType: model.EventInstallFailed,
		Status:    string(target),
		Message:   errMsg,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record install failure: commit: %w", err)
	}

	n.InstallAttempts = attempts
	n.LastInstallError = errMsg
	n.State = target
	n.StateChangedAt = now
	n.UpdatedAt = now
	s.publish(eventbus.TopicStateChanged, n)
	return n, nil
}

// ErrBootAssignmentConflict is returned by AssignWorkflow when the node
// already carries a pending boot assignment (§4.6/§5: "exactly one active
// boot assignment per node").
var ErrBootAssignmentConflict = errors.New("store: node already has a pending boot assignment")

// AssignWorkflow gives a node a pending boot workflow, check-and-setting
// inside a BEGIN IMMEDIATE transaction so two concurrent assignments (e.g.
// a clone session start racing an operator-driven reinstall) can never
// both succeed. clear=true releases the assignment (workflow completed or
// the session was cancelled) regardless of the current value.
func (s *Store) AssignWorkflow(ctx context.Context, nodeID, workflowID string, clear bool) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("assign workflow: conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return fmt.Errorf("assign workflow: begin immediate: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	var current string
	err = conn.QueryRowContext(ctx, `SELECT coalesce(workflow_id,'') FROM nodes WHERE id = ?`, nodeID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("assign workflow: load: %w", err)
	}

	if !clear && current != "" {
		return ErrBootAssignmentConflict
	}

	now := s.now().UTC()
	newValue := workflowID
	if clear {
		newValue = ""
	}
	if _, err := conn.ExecContext(ctx, `UPDATE nodes SET workflow_id = nullif(?,''), updated_at = ? WHERE id = ?`,
		newValue, now, nodeID); err != nil {
		return fmt.Errorf("assign workflow: update: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return fmt.Errorf("assign workflow: commit: %w", err)
	}
	committed = true
	return nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
