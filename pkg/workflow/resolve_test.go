package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrveiss/pureboot/pkg/model"
)

func TestResolveSubstitutesKnownTokens(t *testing.T) {
	ctx := Context{Server: "10.0.0.1", NodeID: "abc", MAC: "aa:bb:cc:dd:ee:ff", IP: "10.0.0.50", Serial: "1a2b3c4d"}
	out := Resolve("http://${server}/images/${node_id}.img", ctx)
	assert.Equal(t, "http://10.0.0.1/images/abc.img", out)
}

func TestResolveLeavesUnknownOrEmptyTokensLiteral(t *testing.T) {
	ctx := Context{Server: "10.0.0.1"}
	out := Resolve("${server} ${mac} ${bogus}", ctx)
	assert.Equal(t, "10.0.0.1 ${mac} ${bogus}", out)
}

func TestResolveWorkflowRewritesAllFields(t *testing.T) {
	wf := model.Workflow{
		ID:      "img",
		Method:  model.MethodImage,
		Kernel:  "http://${server}/vmlinuz",
		Initrd:  "http://${server}/initrd",
		Cmdline: "root=${node_id}",
		Steps: []model.WorkflowStep{
			{ID: "boot1", Kind: model.StepBoot, Kernel: "http://${server}/vmlinuz2"},
		},
	}
	ctx := Context{Server: "10.0.0.1", NodeID: "node-1"}

	out := ResolveWorkflow(wf, ctx)
	assert.Equal(t, "http://10.0.0.1/vmlinuz", out.Kernel)
	assert.Equal(t, "http://10.0.0.1/initrd", out.Initrd)
	assert.Equal(t, "root=node-1", out.Cmdline)
	assert.Equal(t, "http://10.0.0.1/vmlinuz2", out.Steps[0].Kernel)
}
