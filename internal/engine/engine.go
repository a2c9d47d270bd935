package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/sudocode-ai/sudocode/internal/agent"
	"github.com/sudocode-ai/sudocode/internal/coalescer"
	"github.com/sudocode-ai/sudocode/internal/eventbus"
)

// DefaultMaxConcurrent caps simultaneous agent subprocesses.
const DefaultMaxConcurrent = 3

// retryBaseDelay seeds the exponential backoff between retry attempts.
const retryBaseDelay = 500 * time.Millisecond

type queued struct {
	task    *Task
	attempt int
	bo      *backoff.ExponentialBackOff
}

type runningTask struct {
	task      *Task
	procID    string
	attempt   int
	startedAt time.Time
	cancelled bool
}

// Engine dispatches tasks to agent subprocesses under a concurrency
// cap. Queue order is FIFO within equal priority; retries jump to the
// head regardless of priority.
type Engine struct {
	procs *agent.Manager
	bus   *eventbus.Bus
	log   zerolog.Logger

	maxConcurrent int
	sem           *semaphore.Weighted

	mu        sync.Mutex
	queue     []*queued
	running   map[string]*runningTask
	completed map[string]*Result
	waiters   map[string][]chan *Result
	known     map[string]bool
	closed    bool

	startedAt      time.Time
	completedCount int
	failedCount    int
	totalDuration  time.Duration

	wg sync.WaitGroup

	taskCounter  metric.Int64Counter
	durationHist metric.Float64Histogram
}

// New creates an engine over the process manager. maxConcurrent <= 0
// uses the default cap.
func New(procs *agent.Manager, bus *eventbus.Bus, maxConcurrent int, log zerolog.Logger) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	meter := otel.Meter("sudocode/engine")
	taskCounter, _ := meter.Int64Counter("engine.tasks.finished",
		metric.WithDescription("Tasks finished, by outcome"))
	durationHist, _ := meter.Float64Histogram("engine.task.duration",
		metric.WithDescription("Task wall time in seconds"), metric.WithUnit("s"))

	return &Engine{
		procs:         procs,
		bus:           bus,
		log:           log.With().Str("component", "engine").Logger(),
		maxConcurrent: maxConcurrent,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		running:       make(map[string]*runningTask),
		completed:     make(map[string]*Result),
		waiters:       make(map[string][]chan *Result),
		known:         make(map[string]bool),
		startedAt:     time.Now(),
		taskCounter:   taskCounter,
		durationHist:  durationHist,
	}
}

// Submit enqueues a task and kicks the dispatcher.
func (e *Engine) Submit(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("engine: task id required")
	}
	if len(task.Command) == 0 {
		return fmt.Errorf("engine: task %s has no command", task.ID)
	}
	if task.Kind == "" {
		task.Kind = TaskCustom
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrShutdown
	}
	if e.known[task.ID] {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	e.known[task.ID] = true
	e.enqueueLocked(&queued{task: task, attempt: 1})
	e.mu.Unlock()

	e.emit(eventbus.EventExecutionCreated, task.ID, nil)
	go e.dispatch()
	return nil
}

// enqueueLocked inserts after the last entry of equal or higher
// priority, keeping FIFO order within each priority band.
func (e *Engine) enqueueLocked(q *queued) {
	idx := len(e.queue)
	for i := len(e.queue) - 1; i >= 0; i-- {
		if e.queue[i].task.Priority <= q.task.Priority {
			break
		}
		idx = i
	}
	e.queue = append(e.queue, nil)
	copy(e.queue[idx+1:], e.queue[idx:])
	e.queue[idx] = q
}

// dispatch drains the queue in a single pass bounded by the snapshot
// size, so a queue full of dependency-pending tasks cannot livelock.
func (e *Engine) dispatch() {
	e.mu.Lock()
	bound := len(e.queue)
	e.mu.Unlock()

	for i := 0; i < bound; i++ {
		if !e.sem.TryAcquire(1) {
			return
		}
		e.mu.Lock()
		if e.closed || len(e.queue) == 0 {
			e.mu.Unlock()
			e.sem.Release(1)
			return
		}
		q := e.queue[0]
		e.queue = e.queue[1:]

		failedDep := ""
		pendingDep := false
		for _, dep := range q.task.Dependencies {
			res, done := e.completed[dep]
			switch {
			case done && !res.Success:
				failedDep = dep
			case !done:
				pendingDep = true
			}
			if failedDep != "" {
				break
			}
		}

		if failedDep != "" {
			e.mu.Unlock()
			e.sem.Release(1)
			now := time.Now()
			e.finish(q.task, &Result{
				TaskID:      q.task.ID,
				Success:     false,
				Error:       fmt.Sprintf("dependency %s failed", failedDep),
				Attempts:    q.attempt,
				StartedAt:   now,
				CompletedAt: now,
			})
			continue
		}
		if pendingDep {
			e.queue = append(e.queue, q)
			e.mu.Unlock()
			e.sem.Release(1)
			continue
		}

		rt := &runningTask{task: q.task, attempt: q.attempt, startedAt: time.Now()}
		e.running[q.task.ID] = rt
		e.mu.Unlock()

		e.wg.Add(1)
		go e.run(q, rt)
	}
}

// run executes one attempt: spawn, pump output through a coalescer,
// await exit, then either retry at the head of the queue or record the
// terminal result.
func (e *Engine) run(q *queued, rt *runningTask) {
	defer e.wg.Done()

	task := q.task
	var outMu sync.Mutex
	var messages []string
	c := coalescer.New(func(r coalescer.Record) {
		if r.Type == coalescer.RecordMessage {
			outMu.Lock()
			messages = append(messages, r.Text)
			outMu.Unlock()
		}
	}, e.log)

	argv := append([]string{}, task.Command...)
	if task.Prompt != "" {
		argv = append(argv, task.Prompt)
	}

	e.emit(eventbus.EventExecutionStarted, task.ID, map[string]any{"attempt": q.attempt})

	procID, err := e.procs.Spawn(context.Background(), agent.SpawnOptions{
		Argv:      argv,
		Dir:       task.WorkDir,
		Env:       task.Config.Env,
		Timeout:   task.Config.Timeout,
		Coalescer: c,
	})

	var snap agent.Snapshot
	if err == nil {
		e.mu.Lock()
		rt.procID = procID
		e.mu.Unlock()
		snap, err = e.procs.Wait(context.Background(), procID)
	}

	e.mu.Lock()
	cancelled := rt.cancelled
	closed := e.closed
	delete(e.running, task.ID)
	e.mu.Unlock()
	e.sem.Release(1)

	outMu.Lock()
	output := strings.Join(messages, "\n")
	outMu.Unlock()

	now := time.Now()
	result := &Result{
		TaskID:      task.ID,
		Attempts:    q.attempt,
		Output:      output,
		StartedAt:   rt.startedAt,
		CompletedAt: now,
		Duration:    now.Sub(rt.startedAt),
	}
	switch {
	case err != nil:
		result.Error = err.Error()
		result.ExitCode = -1
	case cancelled:
		result.Error = "cancelled"
		if snap.ExitCode != nil {
			result.ExitCode = *snap.ExitCode
		}
	default:
		if snap.ExitCode != nil {
			result.ExitCode = *snap.ExitCode
		}
		result.Success = snap.Status == agent.StatusCompleted
		if !result.Success {
			result.Error = fmt.Sprintf("process %s with exit code %d", snap.Status, result.ExitCode)
		}
	}

	if !result.Success && !cancelled && !closed && q.attempt <= task.Config.MaxRetries {
		e.scheduleRetry(q)
		return
	}
	e.finish(task, result)
}

// scheduleRetry re-pushes the task at the head of the queue after a
// backoff delay. No completed-map entry is written for the failed
// attempt; only terminal outcomes are recorded.
func (e *Engine) scheduleRetry(q *queued) {
	if q.bo == nil {
		q.bo = backoff.NewExponentialBackOff()
		q.bo.InitialInterval = retryBaseDelay
		q.bo.MaxElapsedTime = 0
	}
	delay := q.bo.NextBackOff()
	q.attempt++
	e.log.Warn().Str("task", q.task.ID).Int("attempt", q.attempt).
		Dur("delay", delay).Msg("retrying task")

	time.AfterFunc(delay, func() {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			now := time.Now()
			e.finish(q.task, &Result{TaskID: q.task.ID, Error: ErrShutdown.Error(),
				Attempts: q.attempt, StartedAt: now, CompletedAt: now})
			return
		}
		// Retries bypass priority ordering entirely.
		e.queue = append([]*queued{q}, e.queue...)
		e.mu.Unlock()
		e.dispatch()
	})
}

// finish records the terminal result, wakes waiters, and re-runs the
// dispatcher to fill the freed slot.
func (e *Engine) finish(task *Task, result *Result) {
	e.mu.Lock()
	e.completed[task.ID] = result
	if result.Success {
		e.completedCount++
	} else {
		e.failedCount++
	}
	e.totalDuration += result.Duration
	ws := e.waiters[task.ID]
	delete(e.waiters, task.ID)
	e.mu.Unlock()

	for _, w := range ws {
		w <- result
	}

	outcome := "completed"
	event := eventbus.EventExecutionCompleted
	if !result.Success {
		outcome = "failed"
		event = eventbus.EventExecutionFailed
	}
	e.emit(event, task.ID, map[string]any{
		"exit_code": result.ExitCode,
		"error":     result.Error,
		"attempts":  result.Attempts,
	})
	e.taskCounter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
	e.durationHist.Record(context.Background(), result.Duration.Seconds())

	e.log.Info().Str("task", task.ID).Bool("success", result.Success).
		Dur("duration", result.Duration).Msg("task finished")
	go e.dispatch()
}

func (e *Engine) emit(name, taskID string, extra map[string]any) {
	if e.bus == nil {
		return
	}
	p := eventbus.NewPayload("execution")
	p.ID = taskID
	p.Extra = extra
	e.bus.Publish(name, p)
}

// Cancel stops a running task (graceful then forceful) or removes a
// queued one. Waiters observe a failed result.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	if rt, ok := e.running[id]; ok {
		rt.cancelled = true
		procID := rt.procID
		e.mu.Unlock()
		e.emit(eventbus.EventExecutionCancelled, id, nil)
		if procID != "" {
			return e.procs.Terminate(procID)
		}
		return nil
	}
	for i, q := range e.queue {
		if q.task.ID == id {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			e.mu.Unlock()
			now := time.Now()
			e.emit(eventbus.EventExecutionCancelled, id, nil)
			e.finish(q.task, &Result{TaskID: id, Error: "cancelled",
				Attempts: q.attempt, StartedAt: now, CompletedAt: now})
			return nil
		}
	}
	e.mu.Unlock()
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// State reports where the task currently is. O(1).
func (e *Engine) State(id string) TaskState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.completed[id]; ok {
		return StateCompleted
	}
	if _, ok := e.running[id]; ok {
		return StateRunning
	}
	if e.known[id] {
		return StateQueued
	}
	return StateUnknown
}

// Await blocks until the task finishes. Resolves immediately when the
// result is already recorded.
func (e *Engine) Await(ctx context.Context, id string) (*Result, error) {
	e.mu.Lock()
	if res, ok := e.completed[id]; ok {
		e.mu.Unlock()
		return res, nil
	}
	if !e.known[id] {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	ch := make(chan *Result, 1)
	e.waiters[id] = append(e.waiters[id], ch)
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res, nil
	}
}

// Shutdown stops accepting tasks, fails everything still queued, and
// waits for in-flight tasks to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	drained := e.queue
	e.queue = nil
	e.mu.Unlock()

	for _, q := range drained {
		now := time.Now()
		e.finish(q.task, &Result{TaskID: q.task.ID, Error: ErrShutdown.Error(),
			Attempts: q.attempt, StartedAt: now, CompletedAt: now})
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Metrics returns a snapshot of engine and process-manager counters.
func (e *Engine) Metrics() Metrics {
	procStats := e.procs.Stats()

	e.mu.Lock()
	defer e.mu.Unlock()
	m := Metrics{
		MaxConcurrent:    e.maxConcurrent,
		Running:          len(e.running),
		AvailableSlots:   e.maxConcurrent - len(e.running),
		Queued:           len(e.queue),
		Completed:        e.completedCount,
		Failed:           e.failedCount,
		ProcessesSpawned: procStats.Spawned,
		ProcessesActive:  procStats.Active,
	}
	finished := e.completedCount + e.failedCount
	if finished > 0 {
		m.AverageDuration = e.totalDuration / time.Duration(finished)
		m.SuccessRate = float64(e.completedCount) / float64(finished)
	}
	if mins := time.Since(e.startedAt).Minutes(); mins > 0 {
		m.Throughput = float64(finished) / mins
	}
	return m
}
