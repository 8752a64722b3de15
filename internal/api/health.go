// Health monitoring read/acknowledge endpoints (§4.8, §6). Evaluation,
// scoring, and snapshotting all happen on pkg/health.Monitor's ticker
// loops; these handlers only read what has already been computed.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mrveiss/pureboot/pkg/model"
)

type healthSummary struct {
	Total       int `json:"total"`
	Healthy     int `json:"healthy"`
	Stale       int `json:"stale"`
	Offline     int `json:"offline"`
	Unknown     int `json:"unknown"`
	ActiveAlerts int `json:"active_alerts"`
}

func (h *handlers) handleHealthSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodes, err := h.Store.AllNodesForHealthSweep(ctx)
	if err != nil {
		writeStoreErr(h.log, w, "health summary: nodes", err)
		return
	}

	var s healthSummary
	s.Total = len(nodes)
	for _, n := range nodes {
		switch n.HealthStatus {
		case model.HealthHealthy:
			s.Healthy++
		case model.HealthStale:
			s.Stale++
		case model.HealthOffline:
			s.Offline++
		default:
			s.Unknown++
		}
	}

	alerts, err := h.Store.ListActiveAlerts(ctx)
	if err != nil {
		writeStoreErr(h.log, w, "health summary: alerts", err)
		return
	}
	s.ActiveAlerts = len(alerts)

	ok(w, s)
}

func (h *handlers) handleHealthAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.Store.ListActiveAlerts(r.Context())
	if err != nil {
		writeStoreErr(h.log, w, "list health alerts", err)
		return
	}
	ok(w, alerts)
}

type acknowledgeAlertRequest struct {
	User string `json:"user"`
}

func (h *handlers) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var req acknowledgeAlertRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.Store.AcknowledgeAlert(r.Context(), chi.URLParam(r, "id"), req.User); err != nil {
		writeStoreErr(h.log, w, "acknowledge alert", err)
		return
	}
	okMessage(w, nil, "alert acknowledged")
}

type nodeHealthResponse struct {
	Status    model.HealthStatus          `json:"status"`
	Score     int                         `json:"score"`
	Alerts    []*model.HealthAlert        `json:"alerts"`
	Snapshots []model.NodeHealthSnapshot  `json:"snapshots"`
}

// handleNodeHealth returns a node's current classification plus its
// alert history and the last seven days of trend snapshots.
func (h *handlers) handleNodeHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	n, err := h.Store.GetNode(ctx, id)
	if err != nil {
		writeStoreErr(h.log, w, "node health: node", err)
		return
	}
	alerts, err := h.Store.NodeAlerts(ctx, id)
	if err != nil {
		writeStoreErr(h.log, w, "node health: alerts", err)
		return
	}
	snapshots, err := h.Store.NodeSnapshots(ctx, id, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		writeStoreErr(h.log, w, "node health: snapshots", err)
		return
	}

	ok(w, nodeHealthResponse{
		Status: n.HealthStatus, Score: n.HealthScore, Alerts: alerts, Snapshots: snapshots,
	})
}
