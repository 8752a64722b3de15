// Read-only workflow catalog endpoints (§4.3, §6). The catalog is loaded
// from disk at startup and is never mutated through the API; the running
// process does not reload it.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *handlers) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	ok(w, h.Catalog.List())
}

func (h *handlers) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, found := h.Catalog.Get(chi.URLParam(r, "id"))
	if !found {
		fail(w, http.StatusNotFound, "workflow not found")
		return
	}
	ok(w, wf)
}
