package model

// InstallMethod names how a workflow provisions a node.
type InstallMethod string

const (
	MethodImage  InstallMethod = "image"
	MethodNFS    InstallMethod = "nfs"
	MethodDeploy InstallMethod = "deploy"
)

// Workflow is a declarative provisioning or helper recipe, loaded from a
// descriptor file by pkg/workflow and immutable at runtime (§3 Workflow,
// §4.3).
type Workflow struct {
	ID          string        `yaml:"id" json:"id"`
	DisplayName string        `yaml:"display_name" json:"display_name"`
	Method      InstallMethod `yaml:"method" json:"method"`
	Arch        Architecture  `yaml:"arch,omitempty" json:"arch,omitempty"`
	Firmware    FirmwareClass `yaml:"firmware,omitempty" json:"firmware,omitempty"`

	// image/deploy method fields
	ImageURL string `yaml:"image_url,omitempty" json:"image_url,omitempty"`
	Kernel   string `yaml:"kernel,omitempty" json:"kernel,omitempty"`
	Initrd   string `yaml:"initrd,omitempty" json:"initrd,omitempty"`
	Cmdline  string `yaml:"cmdline,omitempty" json:"cmdline,omitempty"`

	// nfs method fields
	NFSServer string `yaml:"nfs_server,omitempty" json:"nfs_server,omitempty"`
	NFSPath   string `yaml:"nfs_path,omitempty" json:"nfs_path,omitempty"`

	// Steps drives pkg/workfloweng for multi-step install workflows. A
	// workflow with no steps is a single-shot boot-script workflow
	// resolved directly by pkg/bootscript.
	Steps []WorkflowStep `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// StepKind enumerates the kinds of steps a WorkflowStep may represent
// (§4.7).
type StepKind string

const (
	StepBoot      StepKind = "boot"
	StepScript    StepKind = "script"
	StepReboot    StepKind = "reboot"
	StepWait      StepKind = "wait"
	StepCloudInit StepKind = "cloud_init"
)

// FailurePolicy controls what the execution engine does when a step fails
// or times out.
type FailurePolicy string

const (
	PolicyFail    FailurePolicy = "fail"
	PolicyRetry   FailurePolicy = "retry"
	PolicySkip    FailurePolicy = "skip"
	PolicyRollback FailurePolicy = "rollback"
)

// WorkflowStep is one ordered step of a multi-step workflow.
type WorkflowStep struct {
	ID             string        `yaml:"id" json:"id"`
	Kind           StepKind      `yaml:"kind" json:"kind"`
	TimeoutSeconds int           `yaml:"timeout_seconds" json:"timeout_seconds"`
	OnFailure      FailurePolicy `yaml:"on_failure" json:"on_failure"`
	MaxRetries     int           `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelaySeconds int        `yaml:"retry_delay_seconds,omitempty" json:"retry_delay_seconds,omitempty"`
	NextState      NodeState     `yaml:"next_state,omitempty" json:"next_state,omitempty"`
	RollbackStepID string        `yaml:"rollback_step_id,omitempty" json:"rollback_step_id,omitempty"`
	WaitSeconds    int           `yaml:"wait_seconds,omitempty" json:"wait_seconds,omitempty"`

	// Boot step fields, resolved the same way a single-shot workflow is.
	Kernel  string `yaml:"kernel,omitempty" json:"kernel,omitempty"`
	Initrd  string `yaml:"initrd,omitempty" json:"initrd,omitempty"`
	Cmdline string `yaml:"cmdline,omitempty" json:"cmdline,omitempty"`

	// Script step fields.
	ScriptURL string `yaml:"script_url,omitempty" json:"script_url,omitempty"`
}
