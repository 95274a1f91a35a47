package refresh

import (
	"errors"
)

// ErrLockTimeout is returned when the refresh lock stays held by another
// caller for every attempt of the wait policy and no stale record can be served.
var ErrLockTimeout = errors.New("timed out waiting for refresh lock")

// State is a step of a single GetOrRefresh call.
type State string

const (
	StateIdle     State = "idle"
	StateLockWait State = "lock_wait"
	StateFetching State = "fetching"
	StateUpdating State = "updating"
	StateError    State = "error"
)

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}
