package model

// DeviceGroup is a hierarchical container of nodes with a materialized
// path and inheritable defaults (§3 DeviceGroup).
type DeviceGroup struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ParentID       string `json:"parent_id,omitempty"`
	Path           string `json:"path"`
	Depth          int    `json:"depth"`
	WorkflowID     string `json:"workflow_id,omitempty"`
	AutoProvision  *bool  `json:"auto_provision,omitempty"`
}

// Effective resolves a group's inherited settings by walking up the chain
// represented by ancestors, ordered root-first. The child (last element, or
// g itself if ancestors is empty) wins when a setting is explicitly set.
func (g *DeviceGroup) Effective(ancestors []*DeviceGroup) (workflowID string, autoProvision bool) {
	chain := append(append([]*DeviceGroup{}, ancestors...), g)
	for _, node := range chain {
		if node.WorkflowID != "" {
			workflowID = node.WorkflowID
		}
		if node.AutoProvision != nil {
			autoProvision = *node.AutoProvision
		}
	}
	return workflowID, autoProvision
}
