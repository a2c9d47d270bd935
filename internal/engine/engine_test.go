package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode-ai/sudocode/internal/agent"
)

func newEngine(t *testing.T, maxConcurrent int) *Engine {
	t.Helper()
	procs := agent.NewManager(zerolog.Nop())
	procs.Grace = 500 * time.Millisecond
	procs.CleanupDelay = 100 * time.Millisecond
	e := New(procs, nil, maxConcurrent, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
		procs.Shutdown()
	})
	return e
}

func shTask(id, script string) *Task {
	return &Task{ID: id, Kind: TaskCustom, Command: []string{"sh", "-c", script}}
}

func TestTaskCompletes(t *testing.T) {
	e := newEngine(t, 1)
	ctx := context.Background()

	require.NoError(t, e.Submit(shTask("t1", "exit 0")))
	res, err := e.Await(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, StateCompleted, e.State("t1"))
}

func TestTaskFailureRecorded(t *testing.T) {
	e := newEngine(t, 1)

	require.NoError(t, e.Submit(shTask("t1", "exit 7")))
	res, err := e.Await(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 7, res.ExitCode)
	assert.NotEmpty(t, res.Error)
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	e := newEngine(t, 1)
	marker := filepath.Join(t.TempDir(), "marker")

	task := shTask("t1", "test -f "+marker+" || { touch "+marker+"; exit 1; }")
	task.Config.MaxRetries = 2
	require.NoError(t, e.Submit(task))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := e.Await(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
}

func TestRetriesExhaustedRecordsFailure(t *testing.T) {
	e := newEngine(t, 1)

	task := shTask("t1", "exit 1")
	task.Config.MaxRetries = 1
	require.NoError(t, e.Submit(task))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := e.Await(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
}

func TestDependencyCascade(t *testing.T) {
	e := newEngine(t, 2)
	ctx := context.Background()

	require.NoError(t, e.Submit(shTask("a", "exit 1")))
	taskB := shTask("b", "exit 0")
	taskB.Dependencies = []string{"a"}
	require.NoError(t, e.Submit(taskB))
	taskC := shTask("c", "exit 0")
	taskC.Dependencies = []string{"b"}
	require.NoError(t, e.Submit(taskC))

	resB, err := e.Await(ctx, "b")
	require.NoError(t, err)
	assert.False(t, resB.Success)
	assert.Contains(t, resB.Error, "dependency a failed")

	resC, err := e.Await(ctx, "c")
	require.NoError(t, err)
	assert.False(t, resC.Success)
	assert.Contains(t, resC.Error, "dependency b failed")

	// Only the root task ever spawned a process.
	assert.Equal(t, 1, e.Metrics().ProcessesSpawned)
}

func TestDependencyWaitsForCompletion(t *testing.T) {
	e := newEngine(t, 2)
	ctx := context.Background()

	out := filepath.Join(t.TempDir(), "order")
	require.NoError(t, e.Submit(shTask("a", "sleep 0.3; echo a >> "+out)))
	taskB := shTask("b", "echo b >> "+out)
	taskB.Dependencies = []string{"a"}
	require.NoError(t, e.Submit(taskB))

	res, err := e.Await(ctx, "b")
	require.NoError(t, err)
	require.True(t, res.Success)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strings.Fields(string(data)))
}

func TestPriorityOrdering(t *testing.T) {
	e := newEngine(t, 1)
	ctx := context.Background()

	out := filepath.Join(t.TempDir(), "order")
	// The blocker occupies the single slot while the queue builds up.
	require.NoError(t, e.Submit(shTask("blocker", "sleep 0.3")))

	low := shTask("low", "echo low >> "+out)
	low.Priority = 5
	require.NoError(t, e.Submit(low))
	high := shTask("high", "echo high >> "+out)
	high.Priority = 0
	require.NoError(t, e.Submit(high))

	_, err := e.Await(ctx, "low")
	require.NoError(t, err)
	_, err = e.Await(ctx, "high")
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low"}, strings.Fields(string(data)))
}

func TestCancelQueuedTask(t *testing.T) {
	e := newEngine(t, 1)
	ctx := context.Background()

	require.NoError(t, e.Submit(shTask("blocker", "sleep 5")))
	require.NoError(t, e.Submit(shTask("victim", "exit 0")))

	require.NoError(t, e.Cancel("victim"))
	res, err := e.Await(ctx, "victim")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "cancelled", res.Error)

	require.NoError(t, e.Cancel("blocker"))
}

func TestCancelRunningTask(t *testing.T) {
	e := newEngine(t, 1)
	ctx := context.Background()

	require.NoError(t, e.Submit(shTask("t1", "sleep 30")))
	require.Eventually(t, func() bool { return e.State("t1") == StateRunning },
		5*time.Second, 20*time.Millisecond)

	require.NoError(t, e.Cancel("t1"))
	res, err := e.Await(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "cancelled", res.Error)
}

func TestOutputCollectedFromCoalescer(t *testing.T) {
	e := newEngine(t, 1)
	ctx := context.Background()

	script := `echo '{"kind":"agent_message_chunk","text":"hello "}'
echo '{"kind":"agent_message_chunk","text":"there"}'
echo plain-noise`
	require.NoError(t, e.Submit(shTask("t1", script)))
	res, err := e.Await(ctx, "t1")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "hello there", res.Output)
}

func TestDuplicateTaskRejected(t *testing.T) {
	e := newEngine(t, 1)
	require.NoError(t, e.Submit(shTask("t1", "exit 0")))
	err := e.Submit(shTask("t1", "exit 0"))
	assert.ErrorIs(t, err, ErrTaskExists)
}

func TestShutdownDrainsQueue(t *testing.T) {
	e := newEngine(t, 1)
	ctx := context.Background()

	require.NoError(t, e.Submit(shTask("running", "sleep 0.3")))
	require.NoError(t, e.Submit(shTask("queued", "exit 0")))

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, e.Shutdown(shutdownCtx))

	res, err := e.Await(ctx, "queued")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "shutting down")

	// The in-flight task finished normally.
	res, err = e.Await(ctx, "running")
	require.NoError(t, err)
	assert.True(t, res.Success)

	assert.ErrorIs(t, e.Submit(shTask("late", "exit 0")), ErrShutdown)
}

func TestMetricsSnapshot(t *testing.T) {
	e := newEngine(t, 4)
	ctx := context.Background()

	require.NoError(t, e.Submit(shTask("ok", "exit 0")))
	require.NoError(t, e.Submit(shTask("bad", "exit 1")))
	_, err := e.Await(ctx, "ok")
	require.NoError(t, err)
	_, err = e.Await(ctx, "bad")
	require.NoError(t, err)

	m := e.Metrics()
	assert.Equal(t, 4, m.MaxConcurrent)
	assert.Equal(t, 1, m.Completed)
	assert.Equal(t, 1, m.Failed)
	assert.InDelta(t, 0.5, m.SuccessRate, 0.01)
	assert.Equal(t, 2, m.ProcessesSpawned)
}
