package nodestate

import "github.com/mrveiss/pureboot/pkg/model"

// MaxInstallAttempts is the number of install failures tolerated while a
// node stays in installing before it is pushed to install_failed (§4.4
// install-failure helper), and the attempt count at or above which
// install_failed -> pending is refused without force (§4.4 transition
// service contract).
const MaxInstallAttempts = 3

// NextOnInstallFailure returns the state a node should land in after an
// install failure is recorded, given the attempt count after incrementing.
func NextOnInstallFailure(attemptsAfterIncrement int) (state model.NodeState, terminal bool) {
	if attemptsAfterIncrement >= MaxInstallAttempts {
		return model.StateInstallFailed, true
	}
	return model.StateInstalling, false
}
