// Device group hierarchy endpoints: creation, listing, effective-setting
// resolution, reparenting, and deletion (§3 DeviceGroup, §6, S6).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/model"
)

type createGroupRequest struct {
	Name          string `json:"name"`
	ParentID      string `json:"parent_id"`
	WorkflowID    string `json:"workflow_id"`
	AutoProvision *bool  `json:"auto_provision"`
}

func (h *handlers) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Name == "" {
		badRequest(w, "name is required")
		return
	}

	g, err := h.Store.CreateGroup(r.Context(), store.CreateGroupParams{
		Name: req.Name, ParentID: req.ParentID, WorkflowID: req.WorkflowID, AutoProvision: req.AutoProvision,
	})
	if err != nil {
		writeStoreErr(h.log, w, "create group", err)
		return
	}
	created(w, g)
}

func (h *handlers) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.Store.ListGroups(r.Context())
	if err != nil {
		writeStoreErr(h.log, w, "list groups", err)
		return
	}
	ok(w, groups)
}

type groupResponse struct {
	*model.DeviceGroup
	EffectiveWorkflowID    string `json:"effective_workflow_id,omitempty"`
	EffectiveAutoProvision bool   `json:"effective_auto_provision"`
}

func (h *handlers) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	g, err := h.Store.GetGroup(ctx, id)
	if err != nil {
		writeStoreErr(h.log, w, "get group", err)
		return
	}
	ancestors, err := h.Store.Ancestors(ctx, id)
	if err != nil {
		writeStoreErr(h.log, w, "get group: ancestors", err)
		return
	}
	wfID, autoProv := g.Effective(ancestors)

	ok(w, groupResponse{DeviceGroup: g, EffectiveWorkflowID: wfID, EffectiveAutoProvision: autoProv})
}

type reparentGroupRequest struct {
	ParentID string `json:"parent_id"`
}

func (h *handlers) handleReparentGroup(w http.ResponseWriter, r *http.Request) {
	var req reparentGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.Store.Reparent(r.Context(), id, req.ParentID); err != nil {
		writeStoreErr(h.log, w, "reparent group", err)
		return
	}
	g, err := h.Store.GetGroup(r.Context(), id)
	if err != nil {
		writeStoreErr(h.log, w, "reparent group: reload", err)
		return
	}
	ok(w, g)
}

func (h *handlers) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteGroup(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreErr(h.log, w, "delete group", err)
		return
	}
	okMessage(w, nil, "group deleted")
}
