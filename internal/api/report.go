// POST /api/v1/report is the generic node-initiated status channel: boot
// agents and install scripts post lifecycle events here instead of calling
// the narrower state-transition endpoint directly (§4.4, §6, S2).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/validation"
)

type reportRequest struct {
	MAC      string `json:"mac"`
	Serial   string `json:"serial"`
	Event    string `json:"event"`
	Status   string `json:"status"`
	Message  string `json:"message"`
	Progress *int   `json:"progress"`
	Metadata string `json:"metadata"`
}

func (h *handlers) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.Event == "" {
		badRequest(w, "event is required")
		return
	}

	ctx := r.Context()
	var n *model.Node
	var err error
	switch {
	case req.MAC != "":
		mac, cerr := validation.CanonicalizeMAC(req.MAC)
		if cerr != nil {
			badRequest(w, "invalid mac address")
			return
		}
		n, err = h.Store.GetNodeByMAC(ctx, mac)
	case req.Serial != "":
		n, err = h.Store.GetNodeBySerial(ctx, req.Serial)
	default:
		badRequest(w, "mac or serial is required")
		return
	}
	if err != nil {
		writeStoreErr(h.log, w, "report: find node", err)
		return
	}

	ip := clientIP(r)
	if err := h.Store.TouchSeen(ctx, n.ID, ip, false); err != nil {
		writeStoreErr(h.log, w, "report: touch seen", err)
		return
	}
	if err := h.Store.AppendEvent(ctx, model.NodeEvent{
		NodeID: n.ID, EventType: model.NodeEventType(req.Event), Status: req.Status,
		Message: req.Message, Progress: req.Progress, Metadata: req.Metadata, ObservedIP: ip,
	}); err != nil {
		writeStoreErr(h.log, w, "report: append event", err)
		return
	}

	switch model.NodeEventType(req.Event) {
	case model.EventInstallStarted:
		if n.State == model.StatePending {
			if _, err := h.Store.Transition(ctx, store.TransitionParams{
				NodeID: n.ID, To: model.StateInstalling, TriggeredBy: model.TriggeredByNodeReport,
				Comment: "install started",
			}); err != nil {
				writeStoreErr(h.log, w, "report: transition installing", err)
				return
			}
		}
	case model.EventInstallFailed:
		if n.State == model.StateInstalling {
			if _, err := h.Store.RecordInstallFailure(ctx, n.ID, req.Message); err != nil {
				writeStoreErr(h.log, w, "report: record install failure", err)
				return
			}
		}
	case model.EventInstallComplete:
		if _, err := h.Store.Transition(ctx, store.TransitionParams{
			NodeID: n.ID, To: model.StateInstalled, TriggeredBy: model.TriggeredByNodeReport,
			Comment: "install complete",
		}); err != nil {
			writeStoreErr(h.log, w, "report: transition installed", err)
			return
		}
	}

	okMessage(w, nil, "report accepted")
}
