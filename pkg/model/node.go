// Package model holds the persisted domain types shared across PureBoot's
// subsystems: nodes and their lifecycle, device groups, workflows, clone
// sessions, and health records. The package has no behavior of its own —
// transitions, scoring, and persistence live in the packages that operate
// on these types.
package model

import "time"

// NodeState is one of the fixed lifecycle states enforced by pkg/nodestate.
type NodeState string

const (
	StateDiscovered     NodeState = "discovered"
	StatePending        NodeState = "pending"
	StateInstalling     NodeState = "installing"
	StateInstallFailed  NodeState = "install_failed"
	StateInstalled      NodeState = "installed"
	StateActive         NodeState = "active"
	StateReprovision    NodeState = "reprovision"
	StateDeprovisioning NodeState = "deprovisioning"
	StateMigrating      NodeState = "migrating"
	StateRetired        NodeState = "retired"
)

// Architecture is the CPU architecture reported or assumed for a node.
type Architecture string

const (
	ArchX86_64  Architecture = "x86_64"
	ArchAarch64 Architecture = "aarch64"
)

// FirmwareClass selects which bootloader a node chain-loads.
type FirmwareClass string

const (
	FirmwareBIOS FirmwareClass = "bios"
	FirmwareUEFI FirmwareClass = "uefi"
	FirmwarePi   FirmwareClass = "pi"
)

// HealthStatus is the coarse liveness classification computed by pkg/health.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "healthy"
	HealthStale   HealthStatus = "stale"
	HealthOffline HealthStatus = "offline"
	HealthUnknown HealthStatus = "unknown"
)

// Node is the central registry row. It is keyed by MAC for Ethernet-capable
// clients, or by an 8-hex board serial for MAC-less Pi clients (at most one
// of MAC/Serial is empty).
type Node struct {
	ID       string `json:"id"`
	MAC      string `json:"mac,omitempty"`
	Serial   string `json:"serial,omitempty"`
	Name     string `json:"name,omitempty"`
	IP       string `json:"ip,omitempty"`
	Arch     Architecture  `json:"arch,omitempty"`
	Firmware FirmwareClass `json:"firmware,omitempty"`
	Vendor   string `json:"vendor,omitempty"`
	Model    string `json:"model,omitempty"`

	WorkflowID string   `json:"workflow_id,omitempty"`
	GroupID    string   `json:"group_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`

	State         NodeState `json:"state"`
	StateChangedAt time.Time `json:"state_changed_at"`

	HealthStatus HealthStatus `json:"health_status"`
	HealthScore  int          `json:"health_score"`
	BootCount    int          `json:"boot_count"`

	InstallAttempts  int    `json:"install_attempts"`
	LastInstallError string `json:"last_install_error,omitempty"`

	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Identifier returns the MAC if present, otherwise the board serial. Every
// node has at least one of the two set.
func (n *Node) Identifier() string {
	if n.MAC != "" {
		return n.MAC
	}
	return n.Serial
}

// TriggeredBy identifies who or what caused a state transition or event.
type TriggeredBy string

const (
	TriggeredByAdmin      TriggeredBy = "admin"
	TriggeredBySystem     TriggeredBy = "system"
	TriggeredByNodeReport TriggeredBy = "node_report"
)

// NodeStateLog is an append-only record of a single state transition.
type NodeStateLog struct {
	ID          int64       `json:"id"`
	NodeID      string      `json:"node_id"`
	FromState   NodeState   `json:"from_state"`
	ToState     NodeState   `json:"to_state"`
	TriggeredBy TriggeredBy `json:"triggered_by"`
	User        string      `json:"user,omitempty"`
	Comment     string      `json:"comment,omitempty"`
	Metadata    string      `json:"metadata,omitempty"` // opaque JSON
	CreatedAt   time.Time   `json:"created_at"`
}

// NodeEventType enumerates the lifecycle events distinct from state
// transitions (§3 NodeEvent).
type NodeEventType string

const (
	EventBootStarted     NodeEventType = "boot_started"
	EventInstallStarted  NodeEventType = "install_started"
	EventInstallProgress NodeEventType = "install_progress"
	EventInstallComplete NodeEventType = "install_complete"
	EventInstallFailed   NodeEventType = "install_failed"
	EventFirstBoot       NodeEventType = "first_boot"
	EventHeartbeat       NodeEventType = "heartbeat"
)

// NodeEvent is an append-only lifecycle event.
type NodeEvent struct {
	ID         int64         `json:"id"`
	NodeID     string        `json:"node_id"`
	EventType  NodeEventType `json:"event_type"`
	Status     string        `json:"status,omitempty"`
	Message    string        `json:"message,omitempty"`
	Progress   *int          `json:"progress,omitempty"`
	Metadata   string        `json:"metadata,omitempty"`
	ObservedIP string        `json:"observed_ip,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
