package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrveiss/pureboot/pkg/eventbus"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/nodestate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	bus := eventbus.New()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), bus)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetNode(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, CreateNodeParams{MAC: "AA:BB:CC:DD:EE:FF"})
	require.NoError(t, err)
	assert.Equal(t, model.StateDiscovered, n.State)
	assert.Equal(t, 100, n.HealthScore)

	fetched, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.ID, fetched.ID)

	byMAC, err := st.GetNodeByMAC(ctx, "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, n.ID, byMAC.ID)

	history, err := st.NodeHistory(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.StateDiscovered, history[0].ToState)
}

func TestCreateNodeRejectsDuplicateMAC(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.CreateNode(ctx, CreateNodeParams{MAC: "11:22:33:44:55:66"})
	require.NoError(t, err)

	_, err = st.CreateNode(ctx, CreateNodeParams{MAC: "11:22:33:44:55:66"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCreateNodeRequiresMACOrSerial(t *testing.T) {
	st := newTestStore(t)
	_, err := st.CreateNode(context.Background(), CreateNodeParams{})
	assert.Error(t, err)
}

func TestTransitionValidatesEdges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, CreateNodeParams{MAC: "aa:aa:aa:aa:aa:aa"})
	require.NoError(t, err)

	updated, err := st.Transition(ctx, TransitionParams{NodeID: n.ID, To: model.StatePending, TriggeredBy: model.TriggeredByAdmin})
	require.NoError(t, err)
	assert.Equal(t, model.StatePending, updated.State)

	_, err = st.Transition(ctx, TransitionParams{NodeID: n.ID, To: model.StateActive, TriggeredBy: model.TriggeredByAdmin})
	assert.ErrorIs(t, err, nodestate.ErrInvalidTransition)
}

func TestTransitionForceToRetiredResetsInstallAttempts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, CreateNodeParams{MAC: "bb:bb:bb:bb:bb:bb"})
	require.NoError(t, err)

	_, err = st.Transition(ctx, TransitionParams{NodeID: n.ID, To: model.StateRetired, TriggeredBy: model.TriggeredByAdmin, Force: true})
	require.NoError(t, err)

	reloaded, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateRetired, reloaded.State)
	assert.Equal(t, 0, reloaded.InstallAttempts)
}

func TestRecordInstallFailureEscalatesToInstallFailedAfterThreeAttempts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, CreateNodeParams{MAC: "cc:cc:cc:cc:cc:cc"})
	require.NoError(t, err)
	_, err = st.Transition(ctx, TransitionParams{NodeID: n.ID, To: model.StatePending, TriggeredBy: model.TriggeredByAdmin})
	require.NoError(t, err)
	_, err = st.Transition(ctx, TransitionParams{NodeID: n.ID, To: model.StateInstalling, TriggeredBy: model.TriggeredByAdmin})
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		updated, err := st.RecordInstallFailure(ctx, n.ID, "boot timeout")
		require.NoError(t, err)
		assert.Equal(t, model.StateInstalling, updated.State)
		assert.Equal(t, i, updated.InstallAttempts)
	}

	final, err := st.RecordInstallFailure(ctx, n.ID, "boot timeout")
	require.NoError(t, err)
	assert.Equal(t, model.StateInstallFailed, final.State)
	assert.Equal(t, 3, final.InstallAttempts)
}

func TestGroupCreateAndReparent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	root, err := st.CreateGroup(ctx, CreateGroupParams{Name: "datacenter-a"})
	require.NoError(t, err)
	assert.Equal(t, "/datacenter-a", root.Path)

	child, err := st.CreateGroup(ctx, CreateGroupParams{Name: "rack-1", ParentID: root.ID})
	require.NoError(t, err)
	assert.Equal(t, "/datacenter-a/rack-1", child.Path)
	assert.Equal(t, 1, child.Depth)

	other, err := st.CreateGroup(ctx, CreateGroupParams{Name: "datacenter-b"})
	require.NoError(t, err)

	require.NoError(t, st.Reparent(ctx, child.ID, other.ID))
	moved, err := st.GetGroup(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "/datacenter-b/rack-1", moved.Path)
}

func TestReparentRejectsCycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	root, err := st.CreateGroup(ctx, CreateGroupParams{Name: "root"})
	require.NoError(t, err)
	child, err := st.CreateGroup(ctx, CreateGroupParams{Name: "child", ParentID: root.ID})
	require.NoError(t, err)

	err = st.Reparent(ctx, root.ID, child.ID)
	assert.ErrorIs(t, err, ErrCyclicReparent)
}

func TestCloneSessionLifecycleEnforcesMonotonicBytes(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	src, err := st.CreateNode(ctx, CreateNodeParams{MAC: "dd:dd:dd:dd:dd:dd"})
	require.NoError(t, err)

	cs, err := st.CreateCloneSession(ctx, CreateCloneSessionParams{
		SourceNodeID: src.ID, Mode: model.CloneModeDirect, SourceDevice: "/dev/sda",
	})
	require.NoError(t, err)
	assert.Equal(t, model.CloneStatusPending, cs.Status)

	require.NoError(t, st.MarkSourceReady(ctx, cs.ID, "10.0.0.5", 9000, 2048))
	require.NoError(t, st.StartCloneTransfer(ctx, cs.ID))

	require.NoError(t, st.UpdateCloneProgress(ctx, cs.ID, 1024, 100))
	err = st.UpdateCloneProgress(ctx, cs.ID, 512, 50)
	assert.ErrorIs(t, err, ErrBytesNotMonotonic)

	require.NoError(t, st.CompleteCloneSession(ctx, cs.ID, false, ""))
	final, err := st.GetCloneSession(ctx, cs.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CloneStatusCompleted, final.Status)
}

func TestAssignWorkflowRejectsConcurrentAssignment(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, CreateNodeParams{MAC: "ff:ff:ff:ff:ff:ff"})
	require.NoError(t, err)

	require.NoError(t, st.AssignWorkflow(ctx, n.ID, "clone_source_direct", false))

	err = st.AssignWorkflow(ctx, n.ID, "clone_target_direct", false)
	assert.ErrorIs(t, err, ErrBootAssignmentConflict)

	require.NoError(t, st.AssignWorkflow(ctx, n.ID, "", true))
	require.NoError(t, st.AssignWorkflow(ctx, n.ID, "clone_target_direct", false))

	reloaded, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "clone_target_direct", reloaded.WorkflowID)
}

func TestRaiseAlertRejectsDuplicateActiveAlert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, CreateNodeParams{MAC: "ee:ee:ee:ee:ee:ee"})
	require.NoError(t, err)

	_, err = st.RaiseAlert(ctx, n.ID, model.AlertNodeStale, model.SeverityWarning, "node stale", "")
	require.NoError(t, err)

	_, err = st.RaiseAlert(ctx, n.ID, model.AlertNodeStale, model.SeverityWarning, "node stale again", "")
	assert.ErrorIs(t, err, ErrDuplicate)

	require.NoError(t, st.ResolveActiveAlert(ctx, n.ID, model.AlertNodeStale))

	_, err = st.RaiseAlert(ctx, n.ID, model.AlertNodeStale, model.SeverityWarning, "node stale once more", "")
	assert.NoError(t, err)
}
