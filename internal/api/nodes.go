// Node registry endpoints: manual/Pi registration, listing, admin edits,
// state transitions, and the audit/event log reads (§4.4, §6).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/nodestate"
	"github.com/mrveiss/pureboot/pkg/validation"
)

type createNodeRequest struct {
	MAC      string `json:"mac"`
	Serial   string `json:"serial"`
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Arch     string `json:"arch"`
	Firmware string `json:"firmware"`
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	GroupID  string `json:"group_id"`
}

func (h *handlers) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.MAC == "" && req.Serial == "" {
		badRequest(w, "mac or serial is required")
		return
	}
	if req.MAC != "" {
		mac, err := validation.CanonicalizeMAC(req.MAC)
		if err != nil {
			badRequest(w, "invalid mac address")
			return
		}
		req.MAC = mac
	}
	if req.Serial != "" && !validation.ValidateSerial(req.Serial) {
		badRequest(w, "invalid serial")
		return
	}
	if req.Arch != "" && !validation.ValidateArch(req.Arch) {
		badRequest(w, "invalid arch")
		return
	}
	if req.Firmware != "" && !validation.ValidateFirmwareClass(req.Firmware) {
		badRequest(w, "invalid firmware class")
		return
	}

	n, err := h.Store.CreateNode(r.Context(), store.CreateNodeParams{
		MAC: req.MAC, Serial: req.Serial, Name: req.Name, IP: req.IP,
		Arch: model.Architecture(req.Arch), Firmware: model.FirmwareClass(req.Firmware),
		Vendor: req.Vendor, Model: req.Model, GroupID: req.GroupID,
	})
	if err != nil {
		writeStoreErr(h.log, w, "create node", err)
		return
	}
	created(w, n)
}

type registerPiRequest struct {
	Serial  string `json:"serial"`
	MAC     string `json:"mac"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Vendor  string `json:"vendor"`
	Model   string `json:"model"`
	GroupID string `json:"group_id"`
}

func (h *handlers) handleRegisterPi(w http.ResponseWriter, r *http.Request) {
	var req registerPiRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if !validation.ValidateSerial(req.Serial) {
		badRequest(w, "invalid serial")
		return
	}

	n, err := h.Store.CreateNode(r.Context(), store.CreateNodeParams{
		Serial: req.Serial, MAC: req.MAC, Name: req.Name, IP: req.IP,
		Arch: model.ArchAarch64, Firmware: model.FirmwarePi,
		Vendor: req.Vendor, Model: req.Model, GroupID: req.GroupID,
	})
	if err != nil {
		writeStoreErr(h.log, w, "register pi", err)
		return
	}
	created(w, n)
}

func (h *handlers) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.Store.ListNodes(r.Context())
	if err != nil {
		writeStoreErr(h.log, w, "list nodes", err)
		return
	}
	ok(w, nodes)
}

func (h *handlers) handleGetNode(w http.ResponseWriter, r *http.Request) {
	n, err := h.Store.GetNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(h.log, w, "get node", err)
		return
	}
	ok(w, n)
}

type patchNodeRequest struct {
	Name    *string   `json:"name"`
	GroupID *string   `json:"group_id"`
	Tags    *[]string `json:"tags"`
}

func (h *handlers) handlePatchNode(w http.ResponseWriter, r *http.Request) {
	var req patchNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	n, err := h.Store.UpdateNodeFields(r.Context(), chi.URLParam(r, "id"), store.UpdateNodeFieldsParams{
		Name: req.Name, GroupID: req.GroupID, Tags: req.Tags,
	})
	if err != nil {
		writeStoreErr(h.log, w, "patch node", err)
		return
	}
	ok(w, n)
}

type patchNodeStateRequest struct {
	State   string `json:"state"`
	Comment string `json:"comment"`
	Force   bool   `json:"force"`
	User    string `json:"user"`
}

func (h *handlers) handlePatchNodeState(w http.ResponseWriter, r *http.Request) {
	var req patchNodeStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.State == "" {
		badRequest(w, "state is required")
		return
	}
	if !nodestate.IsValidState(model.NodeState(req.State)) {
		badRequest(w, "unknown state")
		return
	}

	n, err := h.Store.Transition(r.Context(), store.TransitionParams{
		NodeID: chi.URLParam(r, "id"), To: model.NodeState(req.State),
		TriggeredBy: model.TriggeredByAdmin, User: req.User, Comment: req.Comment, Force: req.Force,
	})
	if err != nil {
		writeStoreErr(h.log, w, "patch node state", err)
		return
	}
	ok(w, n)
}

func (h *handlers) handleNodeHistory(w http.ResponseWriter, r *http.Request) {
	logRows, err := h.Store.NodeHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(h.log, w, "node history", err)
		return
	}
	ok(w, logRows)
}

func (h *handlers) handleNodeEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Store.NodeEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreErr(h.log, w, "node events", err)
		return
	}
	ok(w, events)
}

type callbackRequest struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Success     bool   `json:"success"`
	Detail      string `json:"detail"`
}

// handleNodeCallback processes a workflow execution step's reported
// outcome (§4.7). The node ID in the path is informational only — the
// execution/step pair in the body is what the engine validates against.
func (h *handlers) handleNodeCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.ExecutionID == "" || req.StepID == "" {
		badRequest(w, "execution_id and step_id are required")
		return
	}

	if err := h.Engine.Callback(r.Context(), req.ExecutionID, req.StepID, req.Success, req.Detail); err != nil {
		writeStoreErr(h.log, w, "node callback", err)
		return
	}
	okMessage(w, nil, "callback processed")
}
