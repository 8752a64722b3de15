package workflow

import (
	"strings"

	"github.com/mrveiss/pureboot/pkg/model"
)

// Context carries the per-node values substituted into a workflow's
// template strings.
type Context struct {
	Server string
	NodeID string
	MAC    string
	IP     string
	Serial string
}

func (c Context) value(token string) (string, bool) {
	switch token {
	case "server":
		return c.Server, true
	case "node_id":
		return c.NodeID, true
	case "mac":
		return c.MAC, true
	case "ip":
		return c.IP, true
	case "serial":
		return c.Serial, true
	default:
		return "", false
	}
}

// Resolve substitutes ${server}, ${node_id}, ${mac}, ${ip}, and ${serial}
// tokens in s with values from ctx. A token naming an empty field is left
// as the literal, unresolved placeholder rather than substituted with an
// empty string or causing an error — an operator scanning rendered output
// for stray "${...}" gets a diagnostic cue instead of a silently wrong
// script. This is why Resolve is a manual token-replace pass rather than
// text/template: template execution fails closed on fields it can't find,
// which is the opposite behavior from what's needed here.
func Resolve(s string, ctx Context) string {
	var b strings.Builder
	b.Grow(len(s))

	for {
		start := strings.Index(s, "${")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start

		b.WriteString(s[:start])
		token := s[start+2 : end]
		if v, ok := ctx.value(token); ok && v != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}

	return b.String()
}

// ResolveWorkflow returns a copy of wf with every template-bearing string
// field resolved against ctx.
func ResolveWorkflow(wf model.Workflow, ctx Context) model.Workflow {
	out := wf
	out.ImageURL = Resolve(wf.ImageURL, ctx)
	out.Kernel = Resolve(wf.Kernel, ctx)
	out.Initrd = Resolve(wf.Initrd, ctx)
	out.Cmdline = Resolve(wf.Cmdline, ctx)
	out.NFSServer = Resolve(wf.NFSServer, ctx)
	out.NFSPath = Resolve(wf.NFSPath, ctx)

	if len(wf.Steps) > 0 {
		steps := make([]model.WorkflowStep, len(wf.Steps))
		for i, step := range wf.Steps {
			steps[i] = step
			steps[i].Kernel = Resolve(step.Kernel, ctx)
			steps[i].Initrd = Resolve(step.Initrd, ctx)
			steps[i].Cmdline = Resolve(step.Cmdline, ctx)
			steps[i].ScriptURL = Resolve(step.ScriptURL, ctx)
		}
		out.Steps = steps
	}

	return out
}
