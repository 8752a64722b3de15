package model

import "time"

// ExecutionStatus is the lifecycle of a WorkflowExecution (§4.7).
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepOutcome records what happened on one attempt of one step.
type StepOutcome string

const (
	StepStarted StepOutcome = "started"
	StepSuccess StepOutcome = "success"
	StepFailed  StepOutcome = "failed"
	StepTimeout StepOutcome = "timeout"
	StepSkipped StepOutcome = "skipped"
)

// WorkflowExecution tracks one node's progress through a multi-step
// workflow (§3 WorkflowExecution, §4.7).
type WorkflowExecution struct {
	ID            string          `json:"id"`
	NodeID        string          `json:"node_id"`
	WorkflowID    string          `json:"workflow_id"`
	CurrentStepID string          `json:"current_step_id,omitempty"`
	Status        ExecutionStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// StepResult is one append-only attempt record for a step (§3 StepResult).
type StepResult struct {
	ID          int64       `json:"id"`
	ExecutionID string      `json:"execution_id"`
	StepID      string      `json:"step_id"`
	Attempt     int         `json:"attempt"`
	Outcome     StepOutcome `json:"outcome"`
	Detail      string      `json:"detail,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
