package rpma

import "github.com/pmemlab/rpma/internal/fabric"

// Op identifies the kind of a completed remote operation.
type Op int

const (
	OpRead Op = iota + 1
)

func (o Op) String() string {
	if o == OpRead {
		return "read"
	}

	return "unknown"
}

// Status reports the outcome of a completed operation.
type Status int

const (
	StatusSuccess Status = iota
	StatusRemoteAccessError
	StatusUnknownError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRemoteAccessError:
		return "remote-access-error"
	default:
		return "unknown-error"
	}
}

// Completion reports the outcome of one previously submitted operation.
// It is delivered once per flagged operation, in the order operations
// finished, and never for unflagged ones.
type Completion struct {
	// OpContext is the opaque caller token supplied at submission time.
	OpContext any
	Op        Op
	Status    Status
}

func statusFromFabric(s fabric.Status) Status {
	switch s {
	case fabric.StatusSuccess:
		return StatusSuccess
	case fabric.StatusRemoteAccessErr:
		return StatusRemoteAccessError
	default:
		return StatusUnknownError
	}
}
