// Package mapping translates between the global node identity (UID) and the
// (rank, machine) pair under which a process was spawned. The mapping is a
// total bijection over the declared ranges and is immutable for the lifetime
// of a run.
package mapping

import (
	"github.com/pkg/errors"
)

// ErrInvalidIdentity is returned when a rank, machine ID, or UID falls
// outside the declared ranges.
var ErrInvalidIdentity = errors.New("invalid identity")

// Mapping is a bijection between UIDs and (rank, machine) pairs.
type Mapping interface {
	// GetUID returns the global UID of the process with the given rank on
	// the given machine.
	GetUID(rank, machineID int) (int, error)

	// GetRankMachine is the inverse of GetUID.
	GetRankMachine(uid int) (rank, machineID int, err error)

	// NProcs returns the total number of processes in the run.
	NProcs() int

	// ProcsPerMachine returns the number of processes on each machine.
	ProcsPerMachine() int
}
