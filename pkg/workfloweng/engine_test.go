package workfloweng

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/eventbus"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/workflow"
)

const twoStepWorkflow = `
id: install_two_step
display_name: Two Step Install
method: image
steps:
  - id: mark_pending
    kind: script
    timeout_seconds: 0
    on_failure: fail
    next_state: pending
  - id: mark_installing
    kind: boot
    timeout_seconds: 5
    on_failure: retry
    max_retries: 1
    next_state: installing
`

func newTestEngine(t *testing.T) (*Engine, *store.Store, *model.Node) {
	t.Helper()
	bus := eventbus.New()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), bus)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two_step.yaml"), []byte(twoStepWorkflow), 0o644))
	catalog, err := workflow.NewCatalog(dir)
	require.NoError(t, err)

	n, err := st.CreateNode(context.Background(), store.CreateNodeParams{MAC: "AA:BB:CC:DD:EE:01"})
	require.NoError(t, err)

	return New(st, catalog, nil), st, n
}

func TestStartAdvancesThroughStepsOnSuccess(t *testing.T) {
	eng, st, n := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, n.ID, "install_two_step")
	require.NoError(t, err)
	require.Equal(t, model.ExecutionRunning, exec.Status)
	require.Equal(t, "mark_pending", exec.CurrentStepID)

	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_pending", true, "ok"))

	updated, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatePending, updated.State)

	exec, err = st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, "mark_installing", exec.CurrentStepID)
	require.Equal(t, model.ExecutionRunning, exec.Status)

	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_installing", true, "ok"))

	updated, err = st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateInstalling, updated.State)

	exec, err = st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionCompleted, exec.Status)
}

func TestDuplicateSuccessCallbackIsIdempotent(t *testing.T) {
	eng, _, n := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, n.ID, "install_two_step")
	require.NoError(t, err)

	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_pending", true, "ok"))
	// Replay of the same (execution, step) success callback must be a no-op.
	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_pending", true, "ok"))
}

func TestCallbackRejectsWrongStepMismatch(t *testing.T) {
	eng, _, n := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, n.ID, "install_two_step")
	require.NoError(t, err)

	err = eng.Callback(ctx, exec.ID, "mark_installing", false, "wrong step")
	require.ErrorIs(t, err, ErrStepMismatch)
}

func TestRetryPolicyReRunsStepUpToMaxRetries(t *testing.T) {
	eng, st, n := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, n.ID, "install_two_step")
	require.NoError(t, err)
	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_pending", true, "ok"))

	// mark_installing allows 1 retry; first failure should rerun it.
	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_installing", false, "boom"))
	exec, err = st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, "mark_installing", exec.CurrentStepID)
	require.Equal(t, model.ExecutionRunning, exec.Status)

	// Second failure exhausts retries and fails the execution.
	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_installing", false, "boom again"))
	exec, err = st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, model.ExecutionFailed, exec.Status)
}

func TestRebuildRearmsTimerWithoutDisturbingCurrentStep(t *testing.T) {
	eng, st, n := newTestEngine(t)
	ctx := context.Background()

	exec, err := eng.Start(ctx, n.ID, "install_two_step")
	require.NoError(t, err)
	require.NoError(t, eng.Callback(ctx, exec.ID, "mark_pending", true, "ok"))

	// Simulate a process restart with a fresh Engine sharing the same store:
	// no in-memory timer survives, so Rebuild must recompute the deadline
	// from the StepStarted row plus the step timeout and rearm it without
	// altering current state.
	fresh := New(st, eng.catalog, nil)
	require.NoError(t, fresh.Rebuild(ctx))

	updated, err := st.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, "mark_installing", updated.CurrentStepID)
	require.Equal(t, model.ExecutionRunning, updated.Status)
}
