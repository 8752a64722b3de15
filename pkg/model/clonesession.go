package model

import "time"

// CloneMode selects how the source serves its disk image.
type CloneMode string

const (
	CloneModeDirect CloneMode = "direct"
	CloneModeStaged CloneMode = "staged"
)

// CloneSessionStatus is the clone rendezvous state machine (§4.6).
type CloneSessionStatus string

const (
	CloneStatusPending      CloneSessionStatus = "pending"
	CloneStatusSourceReady  CloneSessionStatus = "source_ready"
	CloneStatusCloning      CloneSessionStatus = "cloning"
	CloneStatusCompleted    CloneSessionStatus = "completed"
	CloneStatusFailed       CloneSessionStatus = "failed"
	CloneStatusCancelled    CloneSessionStatus = "cancelled"
)

// CloneSession pairs a source and target node for a peer-to-peer disk copy
// (§3 CloneSession).
type CloneSession struct {
	ID           string             `json:"id"`
	SourceNodeID string             `json:"source_node_id"`
	TargetNodeID string             `json:"target_node_id,omitempty"`
	Mode         CloneMode          `json:"mode"`
	SourceDevice string             `json:"source_device"`
	TargetDevice string             `json:"target_device,omitempty"`

	SourceCertPEM string `json:"-"`
	SourceKeyPEM  string `json:"-"`
	TargetCertPEM string `json:"-"`
	TargetKeyPEM  string `json:"-"`
	CAPEM         string `json:"ca_pem,omitempty"`

	TransferMode      string  `json:"transfer_mode,omitempty"`
	BytesTotal        int64   `json:"bytes_total"`
	BytesTransferred  int64   `json:"bytes_transferred"`
	TransferRateBytesPerSec float64 `json:"transfer_rate_bytes_per_sec"`

	Status        CloneSessionStatus `json:"status"`
	SourceIP      string             `json:"source_ip,omitempty"`
	SourcePort    int                `json:"source_port,omitempty"`
	ErrorMessage  string             `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
