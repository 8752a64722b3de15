package model

import "time"

// AlertSeverity classifies a HealthAlert.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus is the lifecycle of a HealthAlert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// AlertType enumerates the alert kinds raised by pkg/health.
type AlertType string

const (
	AlertNodeStale       AlertType = "node_stale"
	AlertNodeOffline     AlertType = "node_offline"
	AlertLowHealthScore  AlertType = "low_health_score"
)

// HealthAlert records a raised health condition for a node. At most one
// alert with status=active exists per (NodeID, AlertType) — see §8
// invariant 2.
type HealthAlert struct {
	ID             string      `json:"id"`
	NodeID         string      `json:"node_id"`
	AlertType      AlertType   `json:"alert_type"`
	Severity       AlertSeverity `json:"severity"`
	Status         AlertStatus `json:"status"`
	Message        string      `json:"message"`
	Details        string      `json:"details,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`
}

// NodeHealthSnapshot is a periodic point-in-time row used for trending
// (§3 NodeHealthSnapshot).
type NodeHealthSnapshot struct {
	ID              int64        `json:"id"`
	NodeID          string       `json:"node_id"`
	Timestamp       time.Time    `json:"timestamp"`
	Status          HealthStatus `json:"status"`
	Score           int          `json:"score"`
	SecondsSinceSeen int64       `json:"seconds_since_seen"`
	BootCount       int          `json:"boot_count"`
	InstallAttempts int          `json:"install_attempts"`
	IP              string       `json:"ip,omitempty"`
}
