package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrveiss/pureboot/pkg/model"
)

// CreateExecution inserts a new pending WorkflowExecution for a node
// (§4.7). The engine's Start call moves it to running and sets the first
// current_step_id.
func (s *Store) CreateExecution(ctx context.Context, nodeID, workflowID string) (*model.WorkflowExecution, error) {
	e := &model.WorkflowExecution{
		ID:         uuid.NewString(),
		NodeID:     nodeID,
		WorkflowID: workflowID,
		Status:     model.ExecutionPending,
		CreatedAt:  s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO workflow_executions
		(id, node_id, workflow_id, current_step_id, status, created_at, started_at, completed_at)
		VALUES (?, ?, ?, '', ?, ?, NULL, NULL)`,
		e.ID, e.NodeID, e.WorkflowID, string(e.Status), e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return e, nil
}

const executionColumns = `id, node_id, workflow_id, coalesce(current_step_id,''), status, created_at, started_at, completed_at`

func scanExecution(row rowScanner) (*model.WorkflowExecution, error) {
	var e model.WorkflowExecution
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&e.ID, &e.NodeID, &e.WorkflowID, &e.CurrentStepID, &e.Status,
		&e.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

// GetExecution loads one execution by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return e, nil
}

// ExecutionForNode returns the most recently created execution not yet in
// a terminal status for a node, or ErrNotFound if the node has none. The
// boot-instruction endpoint calls this before Engine.Start so a node
// polling its current step repeatedly resumes the same execution instead
// of starting a new one on every request.
func (s *Store) ExecutionForNode(ctx context.Context, nodeID string) (*model.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions
		WHERE node_id = ? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`,
		nodeID, string(model.ExecutionPending), string(model.ExecutionRunning))
	e, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("execution for node: %w", err)
	}
	return e, nil
}

// ActiveExecutions returns every execution not yet in a terminal status,
// used by the engine to rebuild its in-memory step timers on restart
// (§4.7's "timer is disposable, the deadline is not").
func (s *Store) ActiveExecutions(ctx context.Context) ([]*model.WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions
		WHERE status IN (?, ?) ORDER BY created_at`, string(model.ExecutionPending), string(model.ExecutionRunning))
	if err != nil {
		return nil, fmt.Errorf("active executions: %w", err)
	}
	defer rows.Close()

	var out []*model.WorkflowExecution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("active executions: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AdvanceExecution moves an execution to a new current step and, for
// running, sets started_at if it is not already set (first advance only).
func (s *Store) AdvanceExecution(ctx context.Context, id, stepID string, status model.ExecutionStatus) error {
	now := s.now().UTC()
	var res sql.Result
	var err error
	if status == model.ExecutionRunning {
		res, err = s.db.ExecContext(ctx, `UPDATE workflow_executions
			SET current_step_id = ?, status = ?, started_at = coalesce(started_at, ?)
			WHERE id = ?`, stepID, string(status), now, id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE workflow_executions
			SET current_step_id = ?, status = ? WHERE id = ?`, stepID, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("advance execution: %w", err)
	}
	return checkRowsAffected(res)
}

// FinishExecution marks an execution completed/failed/cancelled.
func (s *Store) FinishExecution(ctx context.Context, id string, status model.ExecutionStatus) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE workflow_executions SET status = ?, completed_at = ? WHERE id = ?`,
		string(status), now, id)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	return checkRowsAffected(res)
}

// AppendStepResult records one attempt of one step (§3 StepResult). The
// engine appends a StepStarted row when a step begins so the started_at
// timestamp it needs to rebuild timers on restart survives in the
// database rather than only in memory.
func (s *Store) AppendStepResult(ctx context.Context, r model.StepResult) (*model.StepResult, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO step_results
		(execution_id, step_id, attempt, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ExecutionID, r.StepID, r.Attempt, string(r.Outcome), r.Detail, now)
	if err != nil {
		return nil, fmt.Errorf("append step result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append step result: id: %w", err)
	}
	r.ID = id
	r.CreatedAt = now
	return &r, nil
}

// StepResults returns every attempt recorded for an execution, oldest
// first.
func (s *Store) StepResults(ctx context.Context, executionID string) ([]model.StepResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, execution_id, step_id, attempt, outcome,
		coalesce(detail,''), created_at FROM step_results WHERE execution_id = ? ORDER BY created_at`, executionID)
	if err != nil {
		return nil, fmt.Errorf("step results: %w", err)
	}
	defer rows.Close()

	var out []model.StepResult
	for rows.Next() {
		var r model.StepResult
		if err := rows.Scan(&r.ID, &r.ExecutionID, &r.StepID, &r.Attempt, &r.Outcome, &r.Detail, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("step results: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastStepAttempt returns the most recent attempt number recorded for
// (executionID, stepID), or 0 if the step has never been attempted.
func (s *Store) LastStepAttempt(ctx context.Context, executionID, stepID string) (int, error) {
	var attempt sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT max(attempt) FROM step_results
		WHERE execution_id = ? AND step_id = ?`, executionID, stepID).Scan(&attempt)
	if err != nil {
		return 0, fmt.Errorf("last step attempt: %w", err)
	}
	if !attempt.Valid {
		return 0, nil
	}
	return int(attempt.Int64), nil
}

// LastStepStart returns the created_at of the most recent StepStarted row
// for (executionID, stepID), used to rebuild a step's timeout deadline on
// process restart. ok is false if the step was never started.
func (s *Store) LastStepStart(ctx context.Context, executionID, stepID string) (t sql.NullTime, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM step_results
		WHERE execution_id = ? AND step_id = ? AND outcome = ?
		ORDER BY created_at DESC LIMIT 1`, executionID, stepID, string(model.StepStarted)).Scan(&t)
	if err == sql.ErrNoRows {
		return t, false, nil
	}
	if err != nil {
		return t, false, fmt.Errorf("last step start: %w", err)
	}
	return t, true, nil
}
