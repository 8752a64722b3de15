// Package nodestate defines the node lifecycle graph (§4.4). It holds no
// persistence or I/O of its own — internal/store calls into it to validate
// an edge before committing a transition, which keeps the graph rules
// testable as pure functions.
package nodestate

import "github.com/mrveiss/pureboot/pkg/model"

// edges is the fixed directed transition graph. Any (from, to) pair not
// present here, and not a forced transition to retired, is rejected.
var edges = map[model.NodeState][]model.NodeState{
	model.StateDiscovered:     {model.StatePending},
	model.StatePending:        {model.StateInstalling},
	model.StateInstalling:     {model.StateInstalled, model.StateInstallFailed},
	model.StateInstallFailed:  {model.StatePending},
	model.StateInstalled:      {model.StateActive},
	model.StateActive:         {model.StateReprovision, model.StateDeprovisioning, model.StateMigrating},
	model.StateReprovision:    {model.StatePending},
	model.StateDeprovisioning: {model.StateRetired},
	model.StateMigrating:      {model.StateActive},
}

// ValidTransition reports whether to is reachable from from along a graph
// edge. It does not account for the admin force-to-retired escape hatch;
// callers that allow force should check IsForceTarget separately.
func ValidTransition(from, to model.NodeState) bool {
	for _, candidate := range edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsForceTarget reports whether to is a state reachable from any state via
// an administrator's forced transition (today, only retired).
func IsForceTarget(to model.NodeState) bool {
	return to == model.StateRetired
}

// ResetsInstallAttempts reports whether landing on to via the given edge
// should reset a node's install_attempts counter and clear
// last_install_error, per §4.4: "if target is installed or force is true,
// reset install_attempts".
func ResetsInstallAttempts(to model.NodeState, force bool) bool {
	return to == model.StateInstalled || force
}

// States returns every known node state, used by validation and the API
// surface to reject unknown state names.
func States() []model.NodeState {
	return []model.NodeState{
		model.StateDiscovered,
		model.StatePending,
		model.StateInstalling,
		model.StateInstallFailed,
		model.StateInstalled,
		model.StateActive,
		model.StateReprovision,
		model.StateDeprovisioning,
		model.StateMigrating,
		model.StateRetired,
	}
}

// IsValidState reports whether s is a known node state.
func IsValidState(s model.NodeState) bool {
	for _, known := range States() {
		if known == s {
			return true
		}
	}
	return false
}
