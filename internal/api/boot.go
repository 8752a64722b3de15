// Per-MAC and per-serial boot-instruction endpoints (§4.5, §6). Both
// handlers are thin adapters over pkg/bootscript.Controller — the endpoint
// itself holds no state and does no dispatch logic of its own.
package api

import (
	"net/http"

	"github.com/mrveiss/pureboot/pkg/validation"
)

func (h *handlers) handleBootX86(w http.ResponseWriter, r *http.Request) {
	mac := r.URL.Query().Get("mac")
	if !validation.ValidateMAC(mac) {
		badRequest(w, "missing or invalid mac parameter")
		return
	}

	resp, err := h.Boot.HandleX86Boot(r.Context(), mac, clientIP(r))
	if err != nil {
		h.log.Printf("api: boot x86: %v", err)
		fail(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(resp.Body))
}

func (h *handlers) handleBootPi(w http.ResponseWriter, r *http.Request) {
	serial := r.URL.Query().Get("serial")
	if !validation.ValidateSerial(serial) {
		badRequest(w, "missing or invalid serial parameter")
		return
	}
	mac := r.URL.Query().Get("mac")

	action, err := h.Boot.HandlePiBoot(r.Context(), serial, mac, clientIP(r))
	if err != nil {
		h.log.Printf("api: boot pi: %v", err)
		fail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// clientIP prefers the value middleware.RealIP already resolved onto
// r.RemoteAddr (set via X-Forwarded-For/X-Real-IP when present).
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
