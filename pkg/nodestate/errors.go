package nodestate

import "errors"

// ErrInvalidTransition is returned when the requested (from, to) pair is
// not an edge of the transition graph and is not a forced retirement.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrRetryLimitExceeded is returned for install_failed -> pending when
// install_attempts >= 3 and force is false.
var ErrRetryLimitExceeded = errors.New("install retry limit exceeded")

// ErrNodeNotFound is returned when the node a transition targets does not
// exist.
var ErrNodeNotFound = errors.New("node not found")
