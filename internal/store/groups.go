package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mrveiss/pureboot/pkg/model"
)

// CreateGroupParams carries the fields needed to create a DeviceGroup. Path
// and Depth are derived from the parent, not supplied by the caller.
type CreateGroupParams struct {
	Name          string
	ParentID      string
	WorkflowID    string
	AutoProvision *bool
}

// CreateGroup inserts a new device group, computing its materialized path
// and depth from its parent (root if ParentID is empty).
func (s *Store) CreateGroup(ctx context.Context, p CreateGroupParams) (*model.DeviceGroup, error) {
	g := &model.DeviceGroup{
		ID:            uuid.NewString(),
		Name:          p.Name,
		ParentID:      p.ParentID,
		WorkflowID:    p.WorkflowID,
		AutoProvision: p.AutoProvision,
	}

	if p.ParentID == "" {
		g.Path = "/" + g.Name
		g.Depth = 0
	} else {
		parent, err := s.GetGroup(ctx, p.ParentID)
		if err != nil {
			return nil, fmt.Errorf("create group: load parent: %w", err)
		}
		g.Path = parent.Path + "/" + g.Name
		g.Depth = parent.Depth + 1
	}

	var autoProv interface{}
	if g.AutoProvision != nil {
		autoProv = *g.AutoProvision
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO device_groups
		(id, name, parent_id, path, depth, workflow_id, auto_provision)
		VALUES (?, ?, nullif(?,''), ?, ?, nullif(?,''), ?)`,
		g.ID, g.Name, g.ParentID, g.Path, g.Depth, g.WorkflowID, autoProv)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create group: insert: %w", err)
	}
	return g, nil
}

// GetGroup loads a single device group by ID.
func (s *Store) GetGroup(ctx context.Context, id string) (*model.DeviceGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, coalesce(parent_id,''), path, depth,
		coalesce(workflow_id,''), auto_provision FROM device_groups WHERE id = ?`, id)
	g, err := scanGroupRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func scanGroupRow(row rowScanner) (*model.DeviceGroup, error) {
	var g model.DeviceGroup
	var autoProv sql.NullBool
	if err := row.Scan(&g.ID, &g.Name, &g.ParentID, &g.Path, &g.Depth, &g.WorkflowID, &autoProv); err != nil {
		return nil, err
	}
	if autoProv.Valid {
		v := autoProv.Bool
		g.AutoProvision = &v
	}
	return &g, nil
}

// ListGroups returns every device group ordered by path, so parents always
// precede their children.
func (s *Store) ListGroups(ctx context.Context) ([]*model.DeviceGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, coalesce(parent_id,''), path, depth,
		coalesce(workflow_id,''), auto_provision FROM device_groups ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var out []*model.DeviceGroup
	for rows.Next() {
		g, err := scanGroupRow(rows)
		if err != nil {
			return nil, fmt.Errorf("list groups: scan: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ErrGroupNotEmpty is returned by DeleteGroup when the group still has
// children or assigned nodes (§3 DeviceGroup invariant).
var ErrGroupNotEmpty = errors.New("store: group has children or assigned nodes")

// CountNodesInGroup reports how many nodes currently reference groupID.
func (s *Store) CountNodesInGroup(ctx context.Context, groupID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE group_id = ?`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count nodes in group: %w", err)
	}
	return n, nil
}

// DeleteGroup removes a device group, refusing when it has child groups or
// assigned nodes (§3 DeviceGroup: "deleting a group with children or
// assigned nodes is refused").
func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	g, err := s.GetGroup(ctx, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	var children int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_groups WHERE parent_id = ?`, id).Scan(&children); err != nil {
		return fmt.Errorf("delete group: count children: %w", err)
	}
	nodes, err := s.CountNodesInGroup(ctx, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if children > 0 || nodes > 0 {
		return ErrGroupNotEmpty
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM device_groups WHERE id = ?`, g.ID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return checkRowsAffected(res)
}

// Ancestors returns the ancestor groups of groupID (excluding the group
// itself) root-first, the order
// model.DeviceGroup.Effective expects.
func (s *Store) Ancestors(ctx context.Context, groupID string) ([]*model.DeviceGroup, error) {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	var chain []*model.DeviceGroup
	for g.ParentID != "" {
		parent, err := s.GetGroup(ctx, g.ParentID)
		if err != nil {
			return nil, fmt.Errorf("ancestors: %w", err)
		}
		chain = append([]*model.DeviceGroup{parent}, chain...)
		g = parent
	}
	return chain, nil
}

// ErrCyclicReparent is returned when reparenting a group under its own
// descendant would introduce a cycle in the hierarchy.
var ErrCyclicReparent = errors.New("store: reparenting would create a cycle")

// Reparent moves a group under a new parent, recomputing its own path and
// depth and cascading the path prefix rewrite to every descendant. It
// rejects moves that would make a group its own ancestor by checking the
// new parent's path does not already contain the group being moved.
func (s *Store) Reparent(ctx context.Context, groupID, newParentID string) error {
	g, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("reparent: %w", err)
	}

	var newPath string
	var newDepth int
	if newParentID == "" {
		newPath = "/" + g.Name
		newDepth = 0
	} else {
		newParent, err := s.GetGroup(ctx, newParentID)
		if err != nil {
			return fmt.Errorf("reparent: load new parent: %w", err)
		}
		if newParent.Path == g.Path || strings.HasPrefix(newParent.Path+"/", g.Path+"/") {
			return ErrCyclicReparent
		}
		newPath = newParent.Path + "/" + g.Name
		newDepth = newParent.Depth + 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reparent: begin: %w", err)
	}
	defer tx.Rollback()

	descendants, err := s.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("reparent: list: %w", err)
	}

	oldPrefix := g.Path
	depthDelta := newDepth - g.Depth

	for _, d := range descendants {
		if d.ID == groupID {
			continue
		}
		if !strings.HasPrefix(d.Path, oldPrefix+"/") {
			continue
		}
		rewritten := newPath + strings.TrimPrefix(d.Path, oldPrefix)
		if _, err := tx.ExecContext(ctx, `UPDATE device_groups SET path = ?, depth = depth + ? WHERE id = ?`,
			rewritten, depthDelta, d.ID); err != nil {
			return fmt.Errorf("reparent: rewrite descendant %s: %w", d.ID, err)
		}
	}

	var parentArg interface{}
	if newParentID != "" {
		parentArg = newParentID
	}
	if _, err := tx.ExecContext(ctx, `UPDATE device_groups SET parent_id = ?, path = ?, depth = ? WHERE id = ?`,
		parentArg, newPath, newDepth, groupID); err != nil {
		return fmt.Errorf("reparent: update self: %w", err)
	}

	return tx.Commit()
}
