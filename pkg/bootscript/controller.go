// Package bootscript answers the per-MAC and per-serial boot-instruction
// questions (§4.5): given an observed network boot attempt, it joins the
// node registry, the workflow catalog, and the install-timeout
// reclassifier to decide what a chain-loaded bootloader should do next.
//
// The composition mirrors the teacher's own BootScriptController, which
// joined pkg/client, pkg/resources/node, and pkg/clients/hsm to answer the
// same kind of question for Cray XName-addressed nodes.
package bootscript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrveiss/pureboot/internal/store"
	"github.com/mrveiss/pureboot/pkg/model"
	"github.com/mrveiss/pureboot/pkg/validation"
	"github.com/mrveiss/pureboot/pkg/workflow"
	"github.com/mrveiss/pureboot/pkg/workfloweng"
)

// Config controls Controller's registration and timeout policy.
type Config struct {
	Server         string // hostname or IP clients use to reach this controller
	AutoRegister   bool
	InstallTimeout time.Duration
}

// Controller is the composed boot-instruction handler.
type Controller struct {
	store   *store.Store
	catalog *workflow.Catalog
	cache   *workflow.ResolvedCache
	engine  *workfloweng.Engine
	cfg     Config
}

// New builds a Controller. cache may be nil to disable rendered-script
// caching. engine may be nil, in which case a workflow declaring Steps is
// reported as an error response instead of being driven (every pack
// workflow descriptor is single-shot unless Steps is populated, so this
// only matters once a multi-step descriptor is loaded).
func New(st *store.Store, catalog *workflow.Catalog, cache *workflow.ResolvedCache, engine *workfloweng.Engine, cfg Config) *Controller {
	return &Controller{store: st, catalog: catalog, cache: cache, engine: engine, cfg: cfg}
}

// Response is a rendered boot instruction and the content type it must be
// served with.
type Response struct {
	ContentType string
	Body        string
}

// HandleX86Boot implements §4.5 for the iPXE-chainloading client family
// (GET /api/v1/boot?mac=...).
func (c *Controller) HandleX86Boot(ctx context.Context, rawMAC, ip string) (Response, error) {
	mac, err := validation.CanonicalizeMAC(rawMAC)
	if err != nil {
		return c.errorResponse("invalid MAC address"), nil
	}

	n, err := c.store.GetNodeByMAC(ctx, mac)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if !c.cfg.AutoRegister {
			return c.localBootResponse("unknown node, auto-register disabled"), nil
		}
		n, err = c.store.CreateNode(ctx, store.CreateNodeParams{MAC: mac, IP: ip})
		if err != nil {
			return Response{}, fmt.Errorf("bootscript: register node: %w", err)
		}
		return c.localBootResponse("node registered; awaiting workflow assignment"), nil
	case err != nil:
		return Response{}, fmt.Errorf("bootscript: lookup node: %w", err)
	}

	if err := c.store.TouchSeen(ctx, n.ID, ip, true); err != nil {
		return Response{}, fmt.Errorf("bootscript: touch seen: %w", err)
	}

	n, err = c.reclassifyIfTimedOut(ctx, n)
	if err != nil {
		return Response{}, err
	}

	return c.dispatch(ctx, n)
}

// PiAction is the JSON body returned to MAC-less Pi clients.
type PiAction struct {
	Action      string `json:"action"`
	Kernel      string `json:"kernel,omitempty"`
	Initrd      string `json:"initrd,omitempty"`
	Cmdline     string `json:"cmdline,omitempty"`
	NFSServer   string `json:"nfs_server,omitempty"`
	NFSPath     string `json:"nfs_path,omitempty"`
	Message     string `json:"message,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// HandlePiBoot implements §4.5 for Pi clients identified by board serial
// (GET /api/v1/boot/pi?serial=...).
func (c *Controller) HandlePiBoot(ctx context.Context, serial, mac, ip string) (PiAction, error) {
	if !validation.ValidateSerial(serial) {
		return PiAction{Action: "local_boot", Message: "invalid serial"}, nil
	}

	n, err := c.store.GetNodeBySerial(ctx, serial)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if !c.cfg.AutoRegister {
			return PiAction{Action: "local_boot", Message: "unknown node, auto-register disabled"}, nil
		}
		_, err = c.store.CreateNode(ctx, store.CreateNodeParams{
			Serial: serial, MAC: mac, IP: ip, Arch: model.ArchAarch64, Firmware: model.FirmwarePi,
		})
		if err != nil {
			return PiAction{}, fmt.Errorf("bootscript: register pi node: %w", err)
		}
		return PiAction{Action: "wait", Message: "node registered; awaiting workflow assignment"}, nil
	case err != nil:
		return PiAction{}, fmt.Errorf("bootscript: lookup pi node: %w", err)
	}

	if err := c.store.TouchSeen(ctx, n.ID, ip, true); err != nil {
		return PiAction{}, fmt.Errorf("bootscript: touch seen: %w", err)
	}

	n, err = c.reclassifyIfTimedOut(ctx, n)
	if err != nil {
		return PiAction{}, err
	}

	dr, err := c.dispatchWithWorkflow(ctx, n)
	if err != nil {
		return PiAction{}, err
	}
	return piActionFromWorkflowState(n, dr), nil
}

// reclassifyIfTimedOut applies the install-timeout reclassifier (§4.5
// step 4): a node stuck in installing past InstallTimeout is treated as a
// failed install before any response is chosen.
func (c *Controller) reclassifyIfTimedOut(ctx context.Context, n *model.Node) (*model.Node, error) {
	if n.State != model.StateInstalling {
		return n, nil
	}
	if time.Since(n.StateChangedAt) < c.cfg.InstallTimeout {
		return n, nil
	}
	updated, err := c.store.RecordInstallFailure(ctx, n.ID, "install timed out")
	if err != nil {
		return nil, fmt.Errorf("bootscript: reclassify timeout: %w", err)
	}
	if c.cache != nil {
		c.cache.InvalidateNode(n.ID)
	}
	return updated, nil
}

// dispatchResult carries dispatchWithWorkflow's rendered Response plus the
// context a Pi client needs to translate the same decision into a JSON
// PiAction: the resolved workflow, and — for a multi-step workflow — the
// step currently in flight and its callback URL.
type dispatchResult struct {
	Response Response
	Workflow *model.Workflow
	Step     *model.WorkflowStep
	Callback string
}

// dispatch implements §4.5 step 5.
func (c *Controller) dispatch(ctx context.Context, n *model.Node) (Response, error) {
	dr, err := c.dispatchWithWorkflow(ctx, n)
	return dr.Response, err
}

// dispatchWithWorkflow is dispatch plus the resolved workflow, when one was
// involved, so Pi clients can pick a concrete action (deploy_image vs
// nfs_boot) instead of interpreting rendered iPXE text.
func (c *Controller) dispatchWithWorkflow(ctx context.Context, n *model.Node) (dispatchResult, error) {
	switch n.State {
	case model.StatePending:
		if n.WorkflowID == "" {
			return dispatchResult{Response: c.localBootResponse("pending, no workflow assigned yet")}, nil
		}
		return c.renderWorkflow(ctx, n)
	case model.StateInstallFailed:
		return dispatchResult{Response: c.errorResponse(fmt.Sprintf("install failed: %s", n.LastInstallError))}, nil
	default:
		return dispatchResult{Response: c.localBootResponse(fmt.Sprintf("state %s: local boot", n.State))}, nil
	}
}

func (c *Controller) renderWorkflow(ctx context.Context, n *model.Node) (dispatchResult, error) {
	wf, ok := c.catalog.Get(n.WorkflowID)
	if !ok {
		return dispatchResult{Response: c.errorResponse(fmt.Sprintf("workflow %q not found", n.WorkflowID))}, nil
	}

	if len(wf.Steps) > 0 {
		return c.renderStepped(ctx, n, wf)
	}

	cacheKey := workflow.Key(n.ID, wf.ID)
	if c.cache != nil {
		if rendered, ok := c.cache.Get(cacheKey); ok {
			return dispatchResult{Response: Response{ContentType: "text/plain; charset=utf-8", Body: rendered}, Workflow: wf}, nil
		}
	}

	resolved := workflow.ResolveWorkflow(*wf, workflow.Context{
		Server: c.cfg.Server,
		NodeID: n.ID,
		MAC:    n.MAC,
		IP:     n.IP,
		Serial: n.Serial,
	})

	var buf bytes.Buffer
	err := installTemplate.Execute(&buf, installTemplateData{
		Kernel:      resolved.Kernel,
		Initrd:      resolved.Initrd,
		Cmdline:     resolved.Cmdline,
		CallbackURL: fmt.Sprintf("http://%s/api/v1/nodes/%s/callback", c.cfg.Server, n.ID),
	})
	if err != nil {
		return dispatchResult{Workflow: wf}, fmt.Errorf("bootscript: render workflow %s: %w", wf.ID, err)
	}

	rendered := buf.String()
	if c.cache != nil {
		c.cache.Set(cacheKey, rendered, n.ID, wf.ID)
	}
	return dispatchResult{Response: Response{ContentType: "text/plain; charset=utf-8", Body: rendered}, Workflow: wf}, nil
}

// renderStepped drives a workflow that declares Steps through
// pkg/workfloweng instead of rendering a single-shot script (§4.7): it
// resumes the node's in-flight WorkflowExecution, starting one via
// Engine.Start if none exists yet, and renders the script for whichever
// step the execution currently sits on. Rendered scripts are never cached,
// since the current step (and so the script) changes as the execution
// advances.
func (c *Controller) renderStepped(ctx context.Context, n *model.Node, wf *model.Workflow) (dispatchResult, error) {
	if c.engine == nil {
		return dispatchResult{
			Response: c.errorResponse(fmt.Sprintf("workflow %q has steps but no execution engine is configured", wf.ID)),
			Workflow: wf,
		}, nil
	}

	exec, err := c.store.ExecutionForNode(ctx, n.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		exec, err = c.engine.Start(ctx, n.ID, wf.ID)
		if err != nil {
			return dispatchResult{Workflow: wf}, fmt.Errorf("bootscript: start execution: %w", err)
		}
	case err != nil:
		return dispatchResult{Workflow: wf}, fmt.Errorf("bootscript: load execution: %w", err)
	}

	if exec.Status != model.ExecutionRunning || exec.CurrentStepID == "" {
		return dispatchResult{
			Response: c.localBootResponse(fmt.Sprintf("workflow %s: execution %s", wf.ID, exec.Status)),
			Workflow: wf,
		}, nil
	}

	step, ok := stepByID(wf, exec.CurrentStepID)
	if !ok {
		return dispatchResult{
			Response: c.errorResponse(fmt.Sprintf("workflow %q: unknown step %q", wf.ID, exec.CurrentStepID)),
			Workflow: wf,
		}, nil
	}

	callbackURL := fmt.Sprintf("http://%s/api/v1/nodes/%s/callback?execution_id=%s&step_id=%s",
		c.cfg.Server, n.ID, exec.ID, step.ID)

	return dispatchResult{Response: c.renderStep(step, callbackURL), Workflow: wf, Step: &step, Callback: callbackURL}, nil
}

func stepByID(wf *model.Workflow, stepID string) (model.WorkflowStep, bool) {
	for _, s := range wf.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return model.WorkflowStep{}, false
}

func (c *Controller) renderStep(step model.WorkflowStep, callbackURL string) Response {
	var buf bytes.Buffer
	switch step.Kind {
	case model.StepBoot:
		_ = installTemplate.Execute(&buf, installTemplateData{
			Kernel: step.Kernel, Initrd: step.Initrd, Cmdline: step.Cmdline, CallbackURL: callbackURL,
		})
	case model.StepScript:
		_ = stepScriptTemplate.Execute(&buf, stepScriptTemplateData{ScriptURL: step.ScriptURL, CallbackURL: callbackURL})
	case model.StepReboot:
		_ = stepRebootTemplate.Execute(&buf, stepCallbackTemplateData{CallbackURL: callbackURL})
	case model.StepCloudInit:
		_ = stepCloudInitTemplate.Execute(&buf, stepCallbackTemplateData{CallbackURL: callbackURL})
	case model.StepWait:
		_ = localBootTemplate.Execute(&buf, messageTemplateData{Message: fmt.Sprintf("waiting %ds", step.WaitSeconds)})
	default:
		_ = errorTemplate.Execute(&buf, messageTemplateData{Message: fmt.Sprintf("unknown step kind %q", step.Kind)})
	}
	return Response{ContentType: "text/plain; charset=utf-8", Body: buf.String()}
}

func (c *Controller) localBootResponse(message string) Response {
	var buf bytes.Buffer
	_ = localBootTemplate.Execute(&buf, messageTemplateData{Message: message})
	return Response{ContentType: "text/plain; charset=utf-8", Body: buf.String()}
}

func (c *Controller) errorResponse(message string) Response {
	var buf bytes.Buffer
	_ = errorTemplate.Execute(&buf, messageTemplateData{Message: message})
	return Response{ContentType: "text/plain; charset=utf-8", Body: buf.String()}
}

// piActionFromWorkflowState translates a dispatchResult into the §6 Pi JSON
// shape. A workflow with Steps always yields "install" (or "wait" for a
// StepWait step) carrying a callback_url, since a Pi client driving a
// multi-step workflow must report back to pkg/workfloweng.Engine.Callback
// to advance; a single-shot workflow keeps the original deploy_image/
// nfs_boot mapping.
func piActionFromWorkflowState(n *model.Node, dr dispatchResult) PiAction {
	wf := dr.Workflow
	resp := dr.Response

	switch n.State {
	case model.StatePending:
		if wf == nil {
			return PiAction{Action: "wait", Message: resp.Body}
		}
		if dr.Step != nil {
			if dr.Step.Kind == model.StepWait {
				return PiAction{Action: "wait", Message: resp.Body, CallbackURL: dr.Callback}
			}
			return PiAction{
				Action:      "install",
				Kernel:      dr.Step.Kernel,
				Initrd:      dr.Step.Initrd,
				Cmdline:     dr.Step.Cmdline,
				Message:     resp.Body,
				CallbackURL: dr.Callback,
			}
		}
		switch wf.Method {
		case model.MethodNFS:
			return PiAction{Action: "nfs_boot", NFSServer: wf.NFSServer, NFSPath: wf.NFSPath}
		default:
			return PiAction{Action: "deploy_image", Kernel: wf.Kernel, Initrd: wf.Initrd, Cmdline: wf.Cmdline}
		}
	case model.StateInstallFailed:
		return PiAction{Action: "wait", Message: resp.Body}
	default:
		return PiAction{Action: "local_boot", Message: resp.Body}
	}
}
