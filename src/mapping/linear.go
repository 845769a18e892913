package mapping

import (
	"github.com/pkg/errors"
)

// Linear maps UIDs to (rank, machine) pairs by laying machines out
// contiguously: uid = machineID*procsPerMachine + rank. A machine may be
// designated as the global-service machine, which hosts the orchestrator
// role in federated variants.
type Linear struct {
	nMachines            int
	procsPerMachine      int
	globalServiceMachine int
}

// NewLinear creates a Linear mapping over nMachines machines with
// procsPerMachine processes each. Machine 0 is the global-service machine.
func NewLinear(nMachines, procsPerMachine int) *Linear {
	return &Linear{
		nMachines:       nMachines,
		procsPerMachine: procsPerMachine,
	}
}

// NewLinearWithServiceMachine is like NewLinear but marks a specific machine
// as the global-service machine.
func NewLinearWithServiceMachine(nMachines, procsPerMachine, globalServiceMachine int) *Linear {
	return &Linear{
		nMachines:            nMachines,
		procsPerMachine:      procsPerMachine,
		globalServiceMachine: globalServiceMachine,
	}
}

// GetUID implements the Mapping interface.
func (l *Linear) GetUID(rank, machineID int) (int, error) {
	if rank < 0 || rank >= l.procsPerMachine {
		return 0, errors.Wrapf(ErrInvalidIdentity, "rank %d out of range [0,%d)", rank, l.procsPerMachine)
	}
	if machineID < 0 || machineID >= l.nMachines {
		return 0, errors.Wrapf(ErrInvalidIdentity, "machine %d out of range [0,%d)", machineID, l.nMachines)
	}
	return machineID*l.procsPerMachine + rank, nil
}

// GetRankMachine implements the Mapping interface.
func (l *Linear) GetRankMachine(uid int) (int, int, error) {
	if uid < 0 || uid >= l.NProcs() {
		return 0, 0, errors.Wrapf(ErrInvalidIdentity, "uid %d out of range [0,%d)", uid, l.NProcs())
	}
	return uid % l.procsPerMachine, uid / l.procsPerMachine, nil
}

// NProcs implements the Mapping interface.
func (l *Linear) NProcs() int {
	return l.nMachines * l.procsPerMachine
}

// ProcsPerMachine implements the Mapping interface.
func (l *Linear) ProcsPerMachine() int {
	return l.procsPerMachine
}

// GlobalServiceMachine returns the machine hosting orchestrator roles.
func (l *Linear) GlobalServiceMachine() int {
	return l.globalServiceMachine
}
