package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/coalescer"
)

// Defaults for termination grace and post-exit record retention.
const (
	defaultGrace        = 3 * time.Second
	defaultCleanupDelay = 5 * time.Second
)

// maxOutputLine bounds the stdout scanner; agent tool output can carry
// whole files in one JSON line.
const maxOutputLine = 4 << 20

// SpawnOptions configures one subprocess.
type SpawnOptions struct {
	Argv    []string
	Dir     string
	Env     []string
	Timeout time.Duration

	// Coalescer, when set, enables hybrid output: stdout lines that
	// look like JSON objects are parsed as session updates and pushed;
	// everything else is ignored here and left to the terminal viewer.
	Coalescer *coalescer.Coalescer

	// OnStderr receives raw stderr lines for debug logging.
	OnStderr func(line string)
}

type process struct {
	id  string
	cmd *exec.Cmd

	mu           sync.Mutex
	status       Status
	pid          int
	exitCode     *int
	signal       *string
	startedAt    time.Time
	endedAt      *time.Time
	lastActivity time.Time
	forceKilled  bool
	timedOut     bool

	timeoutTimer *time.Timer
	done         chan struct{}
}

func (p *process) snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		ID:           p.id,
		Status:       p.status,
		PID:          p.pid,
		ExitCode:     p.exitCode,
		Signal:       p.signal,
		StartedAt:    p.startedAt,
		EndedAt:      p.endedAt,
		LastActivity: p.lastActivity,
	}
}

// Manager owns all live process records.
type Manager struct {
	log zerolog.Logger

	// Grace is how long a signalled process gets before force kill.
	Grace time.Duration
	// CleanupDelay is how long finished records stay queryable.
	CleanupDelay time.Duration

	mu        sync.Mutex
	procs     map[string]*process
	spawned   int
	completed int
	crashed   int
	totalTime time.Duration
	wg        sync.WaitGroup
}

// NewManager creates a process manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:          log.With().Str("component", "procman").Logger(),
		Grace:        defaultGrace,
		CleanupDelay: defaultCleanupDelay,
		procs:        make(map[string]*process),
	}
}

// Spawn starts the process and begins supervising it. The returned id
// addresses the record in Get, Terminate, and Wait.
func (m *Manager) Spawn(ctx context.Context, opts SpawnOptions) (string, error) {
	if len(opts.Argv) == 0 {
		return "", fmt.Errorf("agent: empty argv")
	}
	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...) // #nosec G204 -- argv comes from operator config
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("agent: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("agent: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("agent: spawn %s: %w", opts.Argv[0], err)
	}
	if err := checkSpawned(cmd.Process); err != nil {
		return "", err
	}

	now := time.Now()
	p := &process{
		id:           uuid.NewString(),
		cmd:          cmd,
		status:       StatusBusy,
		pid:          cmd.Process.Pid,
		startedAt:    now,
		lastActivity: now,
		done:         make(chan struct{}),
	}

	m.mu.Lock()
	m.procs[p.id] = p
	m.spawned++
	m.mu.Unlock()

	if opts.Timeout > 0 {
		p.timeoutTimer = time.AfterFunc(opts.Timeout, func() {
			m.log.Warn().Str("id", p.id).Dur("timeout", opts.Timeout).Msg("process timed out")
			p.mu.Lock()
			p.timedOut = true
			p.mu.Unlock()
			m.signalAndReap(p)
		})
	}

	// Streams must drain before Wait runs: Wait closes the pipes, and
	// draining first also orders the coalescer Flush after every Push.
	ioDone := make(chan struct{}, 2)
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		defer func() { ioDone <- struct{}{} }()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), maxOutputLine)
		for scanner.Scan() {
			m.touch(p)
			if opts.Coalescer != nil {
				pushHybridLine(opts.Coalescer, scanner.Bytes())
			}
		}
	}()
	go func() {
		defer m.wg.Done()
		defer func() { ioDone <- struct{}{} }()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), maxOutputLine)
		for scanner.Scan() {
			m.touch(p)
			if opts.OnStderr != nil {
				opts.OnStderr(scanner.Text())
			}
		}
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		<-ioDone
		<-ioDone
		m.reap(p, opts.Coalescer)
	}()

	m.log.Info().Str("id", p.id).Int("pid", p.pid).Strs("argv", opts.Argv).Msg("spawned")
	return p.id, nil
}

func (m *Manager) touch(p *process) {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

// reap waits for exit, classifies the result, updates totals, and
// schedules record removal.
func (m *Manager) reap(p *process, c *coalescer.Coalescer) {
	err := p.cmd.Wait()

	if c != nil {
		c.Flush()
	}

	p.mu.Lock()
	if p.timeoutTimer != nil {
		p.timeoutTimer.Stop()
	}
	now := time.Now()
	p.endedAt = &now

	exitCode := 0
	var sigName *string
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				s := ws.Signal().String()
				sigName = &s
			}
		} else {
			exitCode = -1
		}
	}
	p.exitCode = &exitCode
	p.signal = sigName

	wasTerminating := p.status == StatusTerminating
	forceKilled := p.forceKilled
	switch {
	case p.timedOut:
		// A blown timeout is a failure even when the process obeyed
		// the graceful signal.
		p.status = StatusCrashed
	case wasTerminating && !forceKilled:
		// Acknowledged the graceful signal within the grace period.
		p.status = StatusCompleted
	case exitCode == 0 && sigName == nil:
		p.status = StatusCompleted
	default:
		p.status = StatusCrashed
	}
	final := p.status
	duration := now.Sub(p.startedAt)
	p.mu.Unlock()

	close(p.done)

	m.mu.Lock()
	if final == StatusCompleted {
		m.completed++
	} else {
		m.crashed++
	}
	m.totalTime += duration
	m.mu.Unlock()

	m.log.Info().Str("id", p.id).Str("status", string(final)).
		Int("exit_code", exitCode).Dur("duration", duration).Msg("process exited")

	time.AfterFunc(m.CleanupDelay, func() {
		m.mu.Lock()
		delete(m.procs, p.id)
		m.mu.Unlock()
	})
}

// Terminate gracefully stops a busy process: signal, grace period,
// force kill. Returns ErrNotFound for unknown ids; terminating an
// already-terminal process is a no-op.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	p, ok := m.procs[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.signalAndReap(p)
	return nil
}

// signalAndReap drives busy → terminating → force kill if the grace
// period elapses. The reap goroutine assigns the final status.
func (m *Manager) signalAndReap(p *process) {
	p.mu.Lock()
	if p.status != StatusBusy {
		p.mu.Unlock()
		return
	}
	p.status = StatusTerminating
	p.mu.Unlock()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		m.log.Debug().Str("id", p.id).Err(err).Msg("signal failed, process may have exited")
	}

	select {
	case <-p.done:
		return
	case <-time.After(m.Grace):
	}

	p.mu.Lock()
	p.forceKilled = true
	p.mu.Unlock()
	m.log.Warn().Str("id", p.id).Msg("grace elapsed, force killing")
	_ = p.cmd.Process.Kill()
}

// Get returns a snapshot of the process record.
func (m *Manager) Get(id string) (Snapshot, error) {
	m.mu.Lock()
	p, ok := m.procs[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.snapshot(), nil
}

// Wait blocks until the process exits or the context is done, and
// returns the final snapshot.
func (m *Manager) Wait(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	p, ok := m.procs[id]
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-p.done:
		return p.snapshot(), nil
	}
}

// Stats returns aggregate counters. Average duration covers finished
// processes only.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{
		Spawned:   m.spawned,
		Completed: m.completed,
		Crashed:   m.crashed,
	}
	for _, p := range m.procs {
		if !p.snapshotStatus().IsTerminal() {
			st.Active++
		}
	}
	if finished := m.completed + m.crashed; finished > 0 {
		st.AverageDuration = m.totalTime / time.Duration(finished)
	}
	return st
}

func (p *process) snapshotStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Shutdown terminates every live process and waits for supervision
// goroutines to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var live []*process
	for _, p := range m.procs {
		live = append(live, p)
	}
	m.mu.Unlock()
	for _, p := range live {
		m.signalAndReap(p)
	}
	m.wg.Wait()
}
