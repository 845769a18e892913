// Package cluster manages groups of node processes on one machine: spawning
// one process per rank, joining them, and restarting the whole group with a
// bumped seed when a run is flagged as diverged.
package cluster

import (
	"io/ioutil"
	"os"
	"path/filepath"
)

// earlyStopFile is the flag file name, relative to the log directory.
const earlyStopFile = "early_stop"

// EarlyStopFlag is a cross-process boolean backed by a file in the log
// directory. Any process in the group can raise it; the controller reads it
// after joining the group to decide whether to restart. Only the controller
// resets it, at the start of every attempt, so a raise can never be lost to
// a concurrent reset.
type EarlyStopFlag struct {
	path string
}

// NewEarlyStopFlag returns the flag for a log directory.
func NewEarlyStopFlag(logDir string) *EarlyStopFlag {
	return &EarlyStopFlag{
		path: filepath.Join(logDir, earlyStopFile),
	}
}

// Reset lowers the flag. Resetting a lowered flag is a no-op.
func (f *EarlyStopFlag) Reset() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Raise raises the flag. Raising it twice is harmless.
func (f *EarlyStopFlag) Raise() error {
	return ioutil.WriteFile(f.path, []byte("1"), 0644)
}

// Raised reports whether the flag is up.
func (f *EarlyStopFlag) Raised() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Path returns the backing file, for processes that want to raise the flag
// without constructing an EarlyStopFlag.
func (f *EarlyStopFlag) Path() string {
	return f.path
}
