// Peer-to-peer disk-clone rendezvous endpoints (§4.6, §6). Every handler
// here is a thin adapter over pkg/clonesession.Orchestrator; the state
// machine and the boot-assignment check-and-set both live there.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrveiss/pureboot/pkg/clonesession"
	"github.com/mrveiss/pureboot/pkg/model"
)

type createCloneSessionRequest struct {
	SourceNodeID string `json:"source_node_id"`
	TargetNodeID string `json:"target_node_id"`
	Mode         string `json:"mode"`
	SourceDevice string `json:"source_device"`
	TargetDevice string `json:"target_device"`
}

func (h *handlers) handleCreateCloneSession(w http.ResponseWriter, r *http.Request) {
	var req createCloneSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.SourceNodeID == "" || req.SourceDevice == "" {
		badRequest(w, "source_node_id and source_device are required")
		return
	}
	mode := model.CloneMode(req.Mode)
	if mode == "" {
		mode = model.CloneModeDirect
	}

	cs, err := h.Clone.Create(r.Context(), clonesession.CreateParams{
		SourceNodeID: req.SourceNodeID, TargetNodeID: req.TargetNodeID, Mode: mode,
		SourceDevice: req.SourceDevice, TargetDevice: req.TargetDevice,
	})
	if err != nil {
		writeStoreErr(h.log, w, "create clone session", err)
		return
	}
	created(w, cs)
}

func (h *handlers) handleListCloneSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Store.ListCloneSessions(r.Context())
	if err != nil {
		writeStoreErr(h.log, w, "list clone sessions", err)
		return
	}
	ok(w, sessions)
}

func (h *handlers) handleGetCloneSession(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Store.GetCloneSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeClonesessionErr(h.log, w, "get clone session", err)
		return
	}
	ok(w, cs)
}

// certBundle is the dedicated response DTO for the certs endpoint: the
// model's PEM fields are json:"-" everywhere else, since a session listing
// or plain GET must never leak key material.
type certBundle struct {
	Role    string `json:"role"`
	CertPEM string `json:"cert_pem"`
	KeyPEM  string `json:"key_pem"`
	CAPEM   string `json:"ca_pem"`
}

func (h *handlers) handleCloneSessionCerts(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Store.GetCloneSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeClonesessionErr(h.log, w, "clone session certs", err)
		return
	}

	role := r.URL.Query().Get("role")
	switch role {
	case "source":
		ok(w, certBundle{Role: role, CertPEM: cs.SourceCertPEM, KeyPEM: cs.SourceKeyPEM, CAPEM: cs.CAPEM})
	case "target":
		ok(w, certBundle{Role: role, CertPEM: cs.TargetCertPEM, KeyPEM: cs.TargetKeyPEM, CAPEM: cs.CAPEM})
	default:
		badRequest(w, "role must be 'source' or 'target'")
	}
}

func (h *handlers) handleCloneSessionStart(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Clone.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeClonesessionErr(h.log, w, "start clone session", err)
		return
	}
	ok(w, cs)
}

type sourceReadyRequest struct {
	SourceIP   string `json:"source_ip"`
	SourcePort int    `json:"source_port"`
	BytesTotal int64  `json:"bytes_total"`
}

func (h *handlers) handleCloneSessionSourceReady(w http.ResponseWriter, r *http.Request) {
	var req sourceReadyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	cs, err := h.Clone.ReportSourceReady(r.Context(), chi.URLParam(r, "id"), req.SourceIP, req.SourcePort, req.BytesTotal)
	if err != nil {
		writeClonesessionErr(h.log, w, "clone session source ready", err)
		return
	}
	ok(w, cs)
}

type progressRequest struct {
	BytesTransferred int64   `json:"bytes_transferred"`
	RateBytesPerSec  float64 `json:"rate_bytes_per_sec"`
}

func (h *handlers) handleCloneSessionProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if err := h.Clone.ReportProgress(r.Context(), chi.URLParam(r, "id"), req.BytesTransferred, req.RateBytesPerSec); err != nil {
		writeClonesessionErr(h.log, w, "clone session progress", err)
		return
	}
	okMessage(w, nil, "progress recorded")
}

func (h *handlers) handleCloneSessionComplete(w http.ResponseWriter, r *http.Request) {
	if err := h.Clone.Complete(r.Context(), chi.URLParam(r, "id"), false, ""); err != nil {
		writeClonesessionErr(h.log, w, "complete clone session", err)
		return
	}
	okMessage(w, nil, "clone session completed")
}

type failCloneSessionRequest struct {
	Error string `json:"error"`
}

func (h *handlers) handleCloneSessionFailed(w http.ResponseWriter, r *http.Request) {
	var req failCloneSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.Clone.Complete(r.Context(), chi.URLParam(r, "id"), true, req.Error); err != nil {
		writeClonesessionErr(h.log, w, "fail clone session", err)
		return
	}
	okMessage(w, nil, "clone session marked failed")
}

func (h *handlers) handleCloneSessionCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Clone.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeClonesessionErr(h.log, w, "cancel clone session", err)
		return
	}
	okMessage(w, nil, "clone session cancelled")
}
