package bootscript

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/workflow"
	"github.com/mrveiss/pureboot/pkg/workfloweng"
)

func newTestController(t *testing.T) (*Controller, *store.Store) {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(ctx, dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wfDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(wfDir, "ubuntu.yaml"), []byte(`
id: ubuntu-2404-server
method: image
image_url: http://${server}/images/ubuntu.img
kernel: http://${server}/files/ubuntu/vmlinuz
initrd: http://${server}/files/ubuntu/initrd
cmdline: ip=dhcp autoinstall
`), 0o644))
	catalog, err := workflow.NewCatalog(wfDir)
	require.NoError(t, err)

	cfg := Config{Server: "10.0.0.1", AutoRegister: true, InstallTimeout: time.Hour}
	engine := workfloweng.New(st, catalog, nil)
	return New(st, catalog, workflow.NewResolvedCache(time.Minute), engine, cfg), st
}

func TestHandleX86BootAutoRegistersUnknownMAC(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	resp, err := c.HandleX86Boot(ctx, "aa:bb:cc:dd:ee:ff", "10.0.0.50")
	require.NoError(t, err)
	require.Contains(t, resp.Body, "registered")

	n, err := st.GetNodeByMAC(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	require.Equal(t, model.StateDiscovered, n.State)
}

func TestHandleX86BootRendersAssignedWorkflow(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)
	_, err = st.Transition(ctx, store.TransitionParams{NodeID: n.ID, To: model.StatePending, TriggeredBy: model.TriggeredByAdmin})
	require.NoError(t, err)

	_, err = st.DB().ExecContext(ctx, `UPDATE nodes SET workflow_id = ? WHERE id = ?`, "ubuntu-2404-server", n.ID)
	require.NoError(t, err)

	resp, err := c.HandleX86Boot(ctx, "aa:bb:cc:dd:ee:ff", "10.0.0.50")
	require.NoError(t, err)
	require.Contains(t, resp.Body, "kernel http://10.0.0.1/files/ubuntu/vmlinuz")
	require.Contains(t, resp.Body, "ip=dhcp autoinstall")
}

func TestHandleX86BootUnknownMACWithAutoRegisterDisabled(t *testing.T) {
	c, _ := newTestController(t)
	c.cfg.AutoRegister = false
	ctx := context.Background()

	resp, err := c.HandleX86Boot(ctx, "11:22:33:44:55:66", "10.0.0.60")
	require.NoError(t, err)
	require.Contains(t, resp.Body, "auto-register disabled")
}

func TestHandlePiBootUnknownSerialAutoRegisters(t *testing.T) {
	c, st := newTestController(t)
	ctx := context.Background()

	action, err := c.HandlePiBoot(ctx, "1a2b3c4d", "", "10.0.0.70")
	require.NoError(t, err)
	require.Equal(t, "wait", action.Action)

	n, err := st.GetNodeBySerial(ctx, "1a2b3c4d")
	require.NoError(t, err)
	require.Equal(t, model.FirmwarePi, n.Firmware)
}

func TestReclassifyIfTimedOutFailsInstalling(t *testing.T) {
	c, st := newTestController(t)
	c.cfg.InstallTimeout = time.Millisecond
	ctx := context.Background()

	n, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "aa:11:22:33:44:55"})
	require.NoError(t, err)
	_, err = st.Transition(ctx, store.TransitionParams{NodeID: n.ID, To: model.StatePending, TriggeredBy: model.TriggeredByAdmin})
	require.NoError(t, err)
	_, err = st.Transition(ctx, store.TransitionParams{NodeID: n.ID, To: model.StateInstalling, TriggeredBy: model.TriggeredByAdmin})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	resp, err := c.HandleX86Boot(ctx, n.MAC, "10.0.0.80")
	require.NoError(t, err)
	require.Contains(t, resp.Body, "local boot")

	reloaded, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateInstalling, reloaded.State)
	require.Equal(t, 1, reloaded.InstallAttempts)
	require.Equal(t, "install timed out", reloaded.LastInstallError)
}
