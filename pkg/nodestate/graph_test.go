package nodestate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrveiss/pureboot/pkg/model"
)

func TestValidTransition(t *testing.T) {
	assert.True(t, ValidTransition(model.StateDiscovered, model.StatePending))
	assert.True(t, ValidTransition(model.StateInstalling, model.StateInstalled))
	assert.True(t, ValidTransition(model.StateInstalling, model.StateInstallFailed))
	assert.False(t, ValidTransition(model.StateDiscovered, model.StateActive))
	assert.False(t, ValidTransition(model.StateRetired, model.StatePending))
}

func TestIsForceTarget(t *testing.T) {
	assert.True(t, IsForceTarget(model.StateRetired))
	assert.False(t, IsForceTarget(model.StatePending))
}

func TestResetsInstallAttempts(t *testing.T) {
	assert.True(t, ResetsInstallAttempts(model.StateInstalled, false))
	assert.True(t, ResetsInstallAttempts(model.StatePending, true))
	assert.False(t, ResetsInstallAttempts(model.StatePending, false))
}

func TestNextOnInstallFailure(t *testing.T) {
	state, terminal := NextOnInstallFailure(1)
	assert.Equal(t, model.StateInstalling, state)
	assert.False(t, terminal)

	state, terminal = NextOnInstallFailure(2)
	assert.Equal(t, model.StateInstalling, state)
	assert.False(t, terminal)

	state, terminal = NextOnInstallFailure(3)
	assert.Equal(t, model.StateInstallFailed, state)
	assert.True(t, terminal)
}

func TestIsValidStateAcceptsEveryKnownState(t *testing.T) {
	for _, s := range States() {
		assert.True(t, IsValidState(s))
	}
	assert.False(t, IsValidState(model.NodeState("bogus")))
}
