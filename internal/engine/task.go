// Package engine is the single-process task broker that runs coding
// agents against issues and specs. It is a cooperative dispatcher over
// OS subprocesses, not a distributed scheduler: one FIFO queue with
// priorities, a concurrency cap, dependency gating, and head-of-queue
// retries.
package engine

import (
	"errors"
	"time"
)

// TaskKind classifies what a task operates on.
type TaskKind string

// Task kind constants
const (
	TaskIssue  TaskKind = "issue"
	TaskSpec   TaskKind = "spec"
	TaskCustom TaskKind = "custom"
)

// TaskConfig carries per-task execution limits.
type TaskConfig struct {
	Timeout    time.Duration
	MaxRetries int
	Env        []string
}

// Task is one unit of agent work. Priority 0 is highest; dependencies
// name other task ids that must complete successfully first.
type Task struct {
	ID           string
	Kind         TaskKind
	EntityID     string
	Prompt       string
	WorkDir      string
	Command      []string
	Priority     int
	Dependencies []string
	Config       TaskConfig
	CreatedAt    time.Time
}

// TaskState is the coarse lifecycle position of a task.
type TaskState string

// Task state constants
const (
	StateQueued    TaskState = "queued"
	StateRunning   TaskState = "running"
	StateCompleted TaskState = "completed"
	StateUnknown   TaskState = "unknown"
)

// Result is the terminal outcome of a task. Intermediate retry
// failures are not recorded; only the final attempt lands here.
type Result struct {
	TaskID      string
	Success     bool
	ExitCode    int
	Output      string
	Error       string
	Metadata    map[string]any
	Attempts    int
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Errors surfaced by the engine.
var (
	ErrShutdown     = errors.New("engine: shutting down")
	ErrTaskExists   = errors.New("engine: task id already known")
	ErrTaskNotFound = errors.New("engine: task not found")
)

// Metrics is a point-in-time snapshot of engine counters.
type Metrics struct {
	MaxConcurrent    int
	Running          int
	AvailableSlots   int
	Queued           int
	Completed        int
	Failed           int
	AverageDuration  time.Duration
	SuccessRate      float64
	Throughput       float64 // completions per minute since start
	ProcessesSpawned int
	ProcessesActive  int
}
