// Package clonesession drives the peer-to-peer disk-clone rendezvous
// (§4.6): two nodes are issued mutually-authenticated, session-scoped
// certificates and complementary boot workflows, and the controller only
// ever sees their progress reports — never the bulk transfer itself.
//
// No component of the teacher does two-node rendezvous, so Orchestrator
// is newly written; its shape is grounded on the teacher's own
// background-worker idiom (cmd/server/main.go's
// `go flexController.StartBackgroundSync(ctx)`) for the stall-reconciler
// loop, and on openshift-hypershift's CertCfg signing idiom (via
// pkg/clonepki) for the certificate issuance step.
package clonesession

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/clonepki"
	"github.com/mrveiss/pureboot/pkg/model"
)

// clone workflow IDs the orchestrator assigns to source/target nodes; the
// catalog must carry entries with these IDs (§4.6 step 2).
const (
	WorkflowSourceDirect = "clone_source_direct"
	WorkflowTargetDirect = "clone_target_direct"
)

// Config controls certificate and reconciliation policy.
type Config struct {
	KeyAlgorithm     clonepki.KeyAlgorithm
	ExpectedLifetime time.Duration // fed into clonepki as the session's expected lifetime
	StallTimeout     time.Duration // §4.6 reconciliation: time in source_ready/cloning before a session is failed
	ReconcileEvery   time.Duration
}

// Orchestrator is the session controller described in §4.6.
type Orchestrator struct {
	store  *store.Store
	ca     *clonepki.CA
	cfg    Config
	logger *log.Logger
}

// New builds an Orchestrator. logger may be nil, in which case the
// reconciler logs to the standard logger.
func New(st *store.Store, ca *clonepki.CA, cfg Config, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{store: st, ca: ca, cfg: cfg, logger: logger}
}

// CreateParams describes an operator's request to set up a clone session
// (§4.6 step 1).
type CreateParams struct {
	SourceNodeID string
	TargetNodeID string
	Mode         model.CloneMode
	SourceDevice string
	TargetDevice string
}

// Create inserts the session in CloneStatusPending. Start must be called
// separately to issue certificates and assign the source's boot workflow.
func (o *Orchestrator) Create(ctx context.Context, p CreateParams) (*model.CloneSession, error) {
	return o.store.CreateCloneSession(ctx, store.CreateCloneSessionParams{
		SourceNodeID: p.SourceNodeID,
		TargetNodeID: p.TargetNodeID,
		Mode:         p.Mode,
		SourceDevice: p.SourceDevice,
		TargetDevice: p.TargetDevice,
	})
}

// Start issues per-role leaf certificates and assigns the source node's
// pending boot workflow (§4.6 step 2). The target, if preassigned, is not
// booted yet — that happens once the source reports ready.
func (o *Orchestrator) Start(ctx context.Context, sessionID string) (*model.CloneSession, error) {
	cs, err := o.store.GetCloneSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("clonesession: start: %w", err)
	}
	if cs.Status != model.CloneStatusPending {
		return nil, fmt.Errorf("clonesession: start: session %s is %s, not pending", sessionID, cs.Status)
	}

	source, target, err := o.ca.IssueSessionCerts(sessionID, o.cfg.KeyAlgorithm, o.cfg.ExpectedLifetime)
	if err != nil {
		return nil, fmt.Errorf("clonesession: start: issue certs: %w", err)
	}

	if err := o.store.SetCloneCredentials(ctx, sessionID, source.CertPEM, source.KeyPEM, target.CertPEM, target.KeyPEM, source.CAPEM); err != nil {
		return nil, fmt.Errorf("clonesession: start: set credentials: %w", err)
	}

	if err := o.store.AssignWorkflow(ctx, cs.SourceNodeID, WorkflowSourceDirect, false); err != nil {
		return nil, fmt.Errorf("clonesession: start: assign source workflow: %w", err)
	}

	return o.store.GetCloneSession(ctx, sessionID)
}

// ReportSourceReady records the source's self-reported listening endpoint
// and measured disk size (§4.6 step 3). If the session already has a
// preassigned target, that target's boot workflow is assigned now.
func (o *Orchestrator) ReportSourceReady(ctx context.Context, sessionID, sourceIP string, sourcePort int, bytesTotal int64) (*model.CloneSession, error) {
	cs, err := o.store.GetCloneSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("clonesession: source ready: %w", err)
	}
	if cs.Status != model.CloneStatusPending {
		return nil, fmt.Errorf("clonesession: source ready: session %s is %s, not pending", sessionID, cs.Status)
	}

	if err := o.store.MarkSourceReady(ctx, sessionID, sourceIP, sourcePort, bytesTotal); err != nil {
		return nil, fmt.Errorf("clonesession: source ready: %w", err)
	}

	if cs.TargetNodeID != "" {
		if err := o.store.AssignWorkflow(ctx, cs.TargetNodeID, WorkflowTargetDirect, false); err != nil {
			return nil, fmt.Errorf("clonesession: source ready: assign target workflow: %w", err)
		}
	}

	return o.store.GetCloneSession(ctx, sessionID)
}

// ReportProgress records a periodic transfer tick from the target (§4.6
// step 4). The first report transitions source_ready -> cloning.
func (o *Orchestrator) ReportProgress(ctx context.Context, sessionID string, bytesTransferred int64, rateBytesPerSec float64) error {
	cs, err := o.store.GetCloneSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("clonesession: progress: %w", err)
	}
	if cs.Status == model.CloneStatusSourceReady {
		if err := o.store.StartCloneTransfer(ctx, sessionID); err != nil {
			return fmt.Errorf("clonesession: progress: start transfer: %w", err)
		}
	} else if cs.Status != model.CloneStatusCloning {
		return fmt.Errorf("clonesession: progress: session %s is %s, not streaming", sessionID, cs.Status)
	}

	if err := o.store.UpdateCloneProgress(ctx, sessionID, bytesTransferred, rateBytesPerSec); err != nil {
		return fmt.Errorf("clonesession: progress: %w", err)
	}
	return nil
}

// Complete finalizes a session as completed or failed (§4.6 step 5) and
// releases both nodes' boot assignments.
func (o *Orchestrator) Complete(ctx context.Context, sessionID string, failed bool, errMsg string) error {
	cs, err := o.store.GetCloneSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("clonesession: complete: %w", err)
	}
	if err := o.store.CompleteCloneSession(ctx, sessionID, failed, errMsg); err != nil {
		return fmt.Errorf("clonesession: complete: %w", err)
	}
	o.releaseAssignments(ctx, cs)
	return nil
}

// Cancel is valid from pending, source_ready, or cloning (§4.6 step 5).
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	cs, err := o.store.GetCloneSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("clonesession: cancel: %w", err)
	}
	if err := o.store.CancelCloneSession(ctx, sessionID); err != nil {
		return fmt.Errorf("clonesession: cancel: %w", err)
	}
	o.releaseAssignments(ctx, cs)
	return nil
}

func (o *Orchestrator) releaseAssignments(ctx context.Context, cs *model.CloneSession) {
	if err := o.store.AssignWorkflow(ctx, cs.SourceNodeID, "", true); err != nil {
		o.logger.Printf("clonesession: release source assignment for %s: %v", cs.SourceNodeID, err)
	}
	if cs.TargetNodeID != "" {
		if err := o.store.AssignWorkflow(ctx, cs.TargetNodeID, "", true); err != nil {
			o.logger.Printf("clonesession: release target assignment for %s: %v", cs.TargetNodeID, err)
		}
	}
}

// stalled reports whether a session sitting in source_ready or cloning
// has gone past cfg.StallTimeout since StartedAt (set when the source
// reported ready). Progress reports do not reset this clock.
func stalled(cs *model.CloneSession, now time.Time, timeout time.Duration) bool {
	if cs.Status != model.CloneStatusSourceReady && cs.Status != model.CloneStatusCloning {
		return false
	}
	if cs.StartedAt == nil {
		return false
	}
	return now.Sub(*cs.StartedAt) > timeout
}

var errStalled = errors.New("clonesession: rendezvous stalled")
