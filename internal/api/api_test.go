package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/bootscript"
	"github.com/mrveiss/pureboot/pkg/clonepki"
	"github.com/mrveiss/pureboot/pkg/clonesession"
	"github.com/mrveiss/pureboot/pkg/health"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/workflow"
	"github.com/mrveiss/pureboot/pkg/workfloweng"
)

func newTestServer(t *testing.T) (http.Handler, *store.Store) {
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

	engine := workfloweng.New(st, catalog, nil)

	boot := bootscript.New(st, catalog, workflow.NewResolvedCache(time.Minute), engine, bootscript.Config{
		Server: "10.0.0.1", AutoRegister: true, InstallTimeout: time.Hour,
	})

	ca, err := clonepki.NewOrLoad(t.TempDir(), clonepki.KeyAlgorithmECDSA)
	require.NoError(t, err)
	clone := clonesession.New(st, ca, clonesession.Config{
		KeyAlgorithm: clonepki.KeyAlgorithmECDSA, ExpectedLifetime: time.Hour, StallTimeout: time.Hour,
	}, nil)

	r := NewRouter(Deps{
		Store: st, Boot: boot, Catalog: catalog, Clone: clone, Engine: engine,
		Thresholds: health.DefaultThresholds(),
	}, 0)
	return r, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestLivenessAndVersion(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetNode(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/nodes/", createNodeRequest{MAC: "aa:bb:cc:dd:ee:ff", Name: "node-1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.Success)

	data, err := json.Marshal(created.Data)
	require.NoError(t, err)
	var n model.Node
	require.NoError(t, json.Unmarshal(data, &n))
	require.Equal(t, "aa:bb:cc:dd:ee:ff", n.MAC)
	require.Equal(t, model.StateDiscovered, n.State)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/nodes/"+n.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateNodeRejectsMissingIdentifier(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/api/v1/nodes/", createNodeRequest{Name: "no-identifier"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchNodeStateTransition(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "11:22:33:44:55:66"})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPatch, "/api/v1/nodes/"+n.ID+"/state", patchNodeStateRequest{State: "pending"})
	require.Equal(t, http.StatusOK, rec.Code)

	n2, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatePending, n2.State)
}

func TestPatchNodeStateInvalidTransitionRejected(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "22:33:44:55:66:77"})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPatch, "/api/v1/nodes/"+n.ID+"/state", patchNodeStateRequest{State: "active"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportInstallLifecycle(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	n, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "33:44:55:66:77:88"})
	require.NoError(t, err)
	_, err = st.Transition(ctx, store.TransitionParams{NodeID: n.ID, To: model.StatePending, TriggeredBy: model.TriggeredByAdmin})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/report", reportRequest{MAC: n.MAC, Event: "install_started"})
	require.Equal(t, http.StatusOK, rec.Code)

	n2, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateInstalling, n2.State)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/report", reportRequest{MAC: n.MAC, Event: "install_complete"})
	require.Equal(t, http.StatusOK, rec.Code)

	n3, err := st.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateInstalled, n3.State)
}

func TestGroupHierarchyEffectiveSettings(t *testing.T) {
	h, _ := newTestServer(t)

	autoProv := true
	rec := doJSON(t, h, http.MethodPost, "/api/v1/groups/", createGroupRequest{
		Name: "datacenter-a", WorkflowID: "ubuntu-2404-server", AutoProvision: &autoProv,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	parent := decodeEnvelopeGroup(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/groups/", createGroupRequest{Name: "rack-1", ParentID: parent.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	child := decodeEnvelopeGroup(t, rec)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/groups/"+child.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    groupResponse
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "ubuntu-2404-server", resp.Data.EffectiveWorkflowID)
	require.True(t, resp.Data.EffectiveAutoProvision)
}

func decodeEnvelopeGroup(t *testing.T, rec *httptest.ResponseRecorder) model.DeviceGroup {
	t.Helper()
	var resp struct {
		Success bool              `json:"success"`
		Data    model.DeviceGroup `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data
}

func TestDeleteGroupRefusesWhenNotEmpty(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/groups/", createGroupRequest{Name: "datacenter-b"})
	require.Equal(t, http.StatusCreated, rec.Code)
	parent := decodeEnvelopeGroup(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/groups/", createGroupRequest{Name: "rack-1", ParentID: parent.ID})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/groups/"+parent.ID, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCloneSessionLifecycle(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	source, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "44:55:66:77:88:99"})
	require.NoError(t, err)
	target, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "55:66:77:88:99:aa"})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/clone-sessions/", createCloneSessionRequest{
		SourceNodeID: source.ID, TargetNodeID: target.ID, SourceDevice: "/dev/sda",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success bool               `json:"success"`
		Data    model.CloneSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	cs := resp.Data

	rec = doJSON(t, h, http.MethodPost, "/api/v1/clone-sessions/"+cs.ID+"/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/clone-sessions/"+cs.ID+"/certs?role=source", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var certsResp struct {
		Success bool       `json:"success"`
		Data    certBundle `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &certsResp))
	require.NotEmpty(t, certsResp.Data.CertPEM)
	require.NotEmpty(t, certsResp.Data.KeyPEM)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/clone-sessions/"+cs.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cancelled, err := st.GetCloneSession(ctx, cs.ID)
	require.NoError(t, err)
	require.Equal(t, model.CloneStatusCancelled, cancelled.Status)
}

func TestHealthSummaryAndAlerts(t *testing.T) {
	h, st := newTestServer(t)
	ctx := context.Background()

	_, err := st.CreateNode(ctx, store.CreateNodeParams{MAC: "66:77:88:99:aa:bb"})
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/health/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/health/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
