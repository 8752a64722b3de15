// Package api is PureBoot's HTTP surface (§6): a chi router wiring the node
// registry, boot-instruction controller, clone-session orchestrator,
// workflow execution engine, and health monitor behind the REST contract
// external tooling (iPXE scripts, Pi clients, operator UIs) depends on.
//
// The teacher's own handler-layer files (RegisterGeneratedRoutes,
// pkg/handlers/legacy's LegacyHandler) were not present in the retrieved
// pack — only cmd/server/main.go's router/middleware/shutdown wiring
// survived. Route registration and the envelope shape here are therefore
// written directly against §6/§7 rather than adapted from a teacher
// handler file; the router setup, middleware stack, and /health pattern
// below are grounded on that main.go.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/nodestate"
	"github.com/mrveiss/pureboot/pkg/workfloweng"
)

// envelope is the success-response shape every JSON endpoint uses (§6).
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// errorBody is the shape of every 4xx/5xx JSON response (§6).
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func created(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: data})
}

func okMessage(w http.ResponseWriter, data interface{}, message string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func fail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func badRequest(w http.ResponseWriter, detail string) { fail(w, http.StatusBadRequest, detail) }

// writeStoreErr maps the handful of sentinel errors internal/store and its
// collaborators return onto the §7 error taxonomy. Anything unrecognized is
// a Fatal error (500): the handler asked for something reasonable and the
// failure is internal, not a client mistake.
func writeStoreErr(logger *log.Logger, w http.ResponseWriter, context string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, nodestate.ErrNodeNotFound):
		fail(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicate):
		fail(w, http.StatusConflict, "already exists")
	case errors.Is(err, store.ErrBootAssignmentConflict):
		fail(w, http.StatusConflict, "node already has a pending boot assignment")
	case errors.Is(err, store.ErrCyclicReparent):
		fail(w, http.StatusConflict, "reparenting would create a cycle")
	case errors.Is(err, store.ErrGroupNotEmpty):
		fail(w, http.StatusConflict, "group still has child groups or assigned nodes")
	case errors.Is(err, store.ErrBytesNotMonotonic):
		fail(w, http.StatusBadRequest, "bytes_transferred may not decrease")
	case errors.Is(err, store.ErrCloneSessionTerminal):
		fail(w, http.StatusBadRequest, "clone session already in a terminal state")
	case errors.Is(err, nodestate.ErrInvalidTransition):
		fail(w, http.StatusBadRequest, "invalid state transition")
	case errors.Is(err, nodestate.ErrRetryLimitExceeded):
		fail(w, http.StatusBadRequest, "install retry limit exceeded; retry with force")
	case errors.Is(err, workfloweng.ErrStepMismatch), errors.Is(err, workfloweng.ErrUnknownStep):
		fail(w, http.StatusConflict, err.Error())
	default:
		logger.Printf("api: %s: %v", context, err)
		fail(w, http.StatusInternalServerError, "internal error")
	}
}

// writeClonesessionErr additionally recognizes the plain fmt.Errorf-wrapped
// "not pending"/"not streaming" precondition failures Orchestrator returns,
// which carry no sentinel to errors.Is against.
func writeClonesessionErr(logger *log.Logger, w http.ResponseWriter, context string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		fail(w, http.StatusNotFound, "clone session not found")
		return
	}
	if msg := err.Error(); strings.Contains(msg, "not pending") || strings.Contains(msg, "not streaming") {
		fail(w, http.StatusBadRequest, msg)
		return
	}
	writeStoreErr(logger, w, context, err)
}
