// Package agent spawns and supervises coding-agent subprocesses. Each
// process is wrapped in a record tracking lifecycle status, exit state,
// timing, and last activity; stdout can run in hybrid mode where JSON
// lines interleaved with free-form terminal output are parsed out and
// forwarded to the coalescer.
package agent

import (
	"errors"
	"os"
	"time"
)

// Status is the lifecycle state of a managed process. Terminal states
// are sticky.
type Status string

// Process status constants
const (
	StatusBusy        Status = "busy"
	StatusTerminating Status = "terminating"
	StatusCompleted   Status = "completed"
	StatusCrashed     Status = "crashed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCrashed
}

// ErrNoPID is returned when the OS did not hand back a pid at spawn.
var ErrNoPID = errors.New("agent: process started without a pid")

// ErrNotFound is returned for unknown process ids.
var ErrNotFound = errors.New("agent: process not found")

// checkSpawned validates the handle the OS returned at spawn. A nil
// process must not be dereferenced; a nonsense pid gets killed.
func checkSpawned(proc *os.Process) error {
	if proc == nil {
		return ErrNoPID
	}
	if proc.Pid <= 0 {
		_ = proc.Kill()
		return ErrNoPID
	}
	return nil
}

// Snapshot is a point-in-time copy of a process record.
type Snapshot struct {
	ID           string
	Status       Status
	PID          int
	ExitCode     *int
	Signal       *string
	StartedAt    time.Time
	EndedAt      *time.Time
	LastActivity time.Time
}

// Stats aggregates manager-level counters.
type Stats struct {
	Spawned         int
	Completed       int
	Crashed         int
	Active          int
	AverageDuration time.Duration
}
