package api

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/bootscript"
	"github.com/mrveiss/pureboot/pkg/clonesession"
	"github.com/mrveiss/pureboot/pkg/health"
	"github.com/mrveiss/pureboot/pkg/workflow"
	"github.com/mrveiss/pureboot/pkg/workfloweng"
)

// Version is the build-time service version reported on /api/v1/version.
// Overridden at link time in release builds the same way the teacher
// leaves its own service metadata constant-but-overridable.
var Version = "dev"

// Deps bundles every collaborator the router's handlers need. All fields
// except Logger are required.
type Deps struct {
	Store      *store.Store
	Boot       *bootscript.Controller
	Catalog    *workflow.Catalog
	Clone      *clonesession.Orchestrator
	Engine     *workfloweng.Engine
	Thresholds health.Thresholds
	Logger     *log.Logger
}

// handlers holds Deps plus the one derived field (logger defaulted) every
// handler file's methods close over.
type handlers struct {
	Deps
	log *log.Logger
}

// NewRouter builds the chi router serving every endpoint in §6, wired the
// same way the teacher's cmd/server/main.go wires RegisterGeneratedRoutes:
// request-scoped middleware first, then one route group per resource.
func NewRouter(d Deps, readTimeout time.Duration) http.Handler {
	if d.Logger == nil {
		d.Logger = log.Default()
	}
	h := &handlers{Deps: d, log: d.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if readTimeout > 0 {
		r.Use(middleware.Timeout(readTimeout))
	}

	r.Get("/health", h.handleLiveness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/version", h.handleVersion)

		r.Get("/boot", h.handleBootX86)
		r.Get("/boot/pi", h.handleBootPi)

		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", h.handleListNodes)
			r.Post("/", h.handleCreateNode)
			r.Post("/register-pi", h.handleRegisterPi)

			r.Get("/{id}", h.handleGetNode)
			r.Patch("/{id}", h.handlePatchNode)
			r.Patch("/{id}/state", h.handlePatchNodeState)
			r.Get("/{id}/history", h.handleNodeHistory)
			r.Get("/{id}/events", h.handleNodeEvents)
			r.Get("/{id}/health", h.handleNodeHealth)
			r.Post("/{id}/callback", h.handleNodeCallback)
		})

		r.Post("/report", h.handleReport)

		r.Route("/groups", func(r chi.Router) {
			r.Get("/", h.handleListGroups)
			r.Post("/", h.handleCreateGroup)
			r.Get("/{id}", h.handleGetGroup)
			r.Patch("/{id}", h.handleReparentGroup)
			r.Delete("/{id}", h.handleDeleteGroup)
		})

		r.Get("/workflows", h.handleListWorkflows)
		r.Get("/workflows/{id}", h.handleGetWorkflow)

		r.Route("/clone-sessions", func(r chi.Router) {
			r.Get("/", h.handleListCloneSessions)
			r.Post("/", h.handleCreateCloneSession)
			r.Get("/{id}", h.handleGetCloneSession)
			r.Get("/{id}/certs", h.handleCloneSessionCerts)
			r.Post("/{id}/start", h.handleCloneSessionStart)
			r.Post("/{id}/source-ready", h.handleCloneSessionSourceReady)
			r.Post("/{id}/progress", h.handleCloneSessionProgress)
			r.Post("/{id}/complete", h.handleCloneSessionComplete)
			r.Post("/{id}/failed", h.handleCloneSessionFailed)
			r.Post("/{id}/cancel", h.handleCloneSessionCancel)
		})

		r.Route("/health", func(r chi.Router) {
			r.Get("/summary", h.handleHealthSummary)
			r.Get("/alerts", h.handleHealthAlerts)
			r.Post("/alerts/{id}/acknowledge", h.handleAcknowledgeAlert)
		})
	})

	return r
}

func (h *handlers) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pureboot"})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"status": "ok"})
}

func (h *handlers) handleVersion(w http.ResponseWriter, r *http.Request) {
	ok(w, map[string]string{"version": Version})
}
