package clonesession

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/clonepki"
	"github.com/mrveiss/pureboot/pkg/model"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ca, err := clonepki.NewOrLoad(filepath.Join(t.TempDir(), "ca"), clonepki.KeyAlgorithmRSA)
	require.NoError(t, err)

	o := New(st, ca, Config{
		KeyAlgorithm:     clonepki.KeyAlgorithmRSA,
		ExpectedLifetime: time.Hour,
		StallTimeout:     10 * time.Minute,
		ReconcileEvery:   time.Minute,
	}, nil)
	return o, st
}

func createNodePair(t *testing.T, st *store.Store) (source, target *model.Node) {
	t.Helper()
	ctx := context.Background()
	source, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "aa:00:00:00:00:01"})
	require.NoError(t, err)
	target, err = st.CreateNode(ctx, store.CreateNodeParams{MAC: "aa:00:00:00:00:02"})
	require.NoError(t, err)
	return source, target
}

func TestFullSessionLifecycle(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()
	source, target := createNodePair(t, st)

	cs, err := o.Create(ctx, CreateParams{
		SourceNodeID: source.ID, TargetNodeID: target.ID,
		Mode: model.CloneModeDirect, SourceDevice: "/dev/sda", TargetDevice: "/dev/sda",
	})
	require.NoError(t, err)
	require.Equal(t, model.CloneStatusPending, cs.Status)

	cs, err = o.Start(ctx, cs.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cs.SourceCertPEM)
	require.NotEmpty(t, cs.TargetCertPEM)
	require.NotEmpty(t, cs.CAPEM)

	sourceNode, err := st.GetNode(ctx, source.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowSourceDirect, sourceNode.WorkflowID)

	cs, err = o.ReportSourceReady(ctx, cs.ID, "10.0.0.5", 9000, 1<<30)
	require.NoError(t, err)
	require.Equal(t, model.CloneStatusSourceReady, cs.Status)

	targetNode, err := st.GetNode(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowTargetDirect, targetNode.WorkflowID)

	require.NoError(t, o.ReportProgress(ctx, cs.ID, 1<<20, 1024))
	cs, err = st.GetCloneSession(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.CloneStatusCloning, cs.Status)

	require.NoError(t, o.Complete(ctx, cs.ID, false, ""))

	finalSession, err := st.GetCloneSession(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.CloneStatusCompleted, finalSession.Status)
	require.Empty(t, finalSession.SourceKeyPEM)
	require.Empty(t, finalSession.TargetKeyPEM)

	sourceNode, err = st.GetNode(ctx, source.ID)
	require.NoError(t, err)
	require.Empty(t, sourceNode.WorkflowID)
	targetNode, err = st.GetNode(ctx, target.ID)
	require.NoError(t, err)
	require.Empty(t, targetNode.WorkflowID)
}

func TestStartRejectsNonPendingSession(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()
	source, _ := createNodePair(t, st)

	cs, err := o.Create(ctx, CreateParams{SourceNodeID: source.ID, Mode: model.CloneModeDirect, SourceDevice: "/dev/sda"})
	require.NoError(t, err)
	_, err = o.Start(ctx, cs.ID)
	require.NoError(t, err)

	_, err = o.Start(ctx, cs.ID)
	require.Error(t, err)
}

func TestCancelReleasesBootAssignment(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ctx := context.Background()
	source, _ := createNodePair(t, st)

	cs, err := o.Create(ctx, CreateParams{SourceNodeID: source.ID, Mode: model.CloneModeDirect, SourceDevice: "/dev/sda"})
	require.NoError(t, err)
	_, err = o.Start(ctx, cs.ID)
	require.NoError(t, err)

	require.NoError(t, o.Cancel(ctx, cs.ID))

	finalSession, err := st.GetCloneSession(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.CloneStatusCancelled, finalSession.Status)

	sourceNode, err := st.GetNode(ctx, source.ID)
	require.NoError(t, err)
	require.Empty(t, sourceNode.WorkflowID)
}

func TestReconcileFailsStalledSession(t *testing.T) {
	o, st := newTestOrchestrator(t)
	o.cfg.StallTimeout = time.Millisecond
	ctx := context.Background()
	source, _ := createNodePair(t, st)

	cs, err := o.Create(ctx, CreateParams{SourceNodeID: source.ID, Mode: model.CloneModeDirect, SourceDevice: "/dev/sda"})
	require.NoError(t, err)
	_, err = o.Start(ctx, cs.ID)
	require.NoError(t, err)
	_, err = o.ReportSourceReady(ctx, cs.ID, "10.0.0.5", 9000, 1024)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	o.reconcileOnce(ctx)

	finalSession, err := st.GetCloneSession(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.CloneStatusFailed, finalSession.Status)
}
