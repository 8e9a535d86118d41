// File: internal/registry/registry_test.go
package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nulltrace0/webagentd/api/schemas"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(20, zaptest.NewLogger(t))
}

func TestCreateAndGet(t *testing.T) {
	r := newTestRegistry(t)
	task := r.Create("find cat pictures")

	assert.NotEmpty(t, task.ID())
	assert.Equal(t, schemas.StatusQueued, task.Status())

	got, ok := r.Get(task.ID())
	require.True(t, ok)
	assert.Same(t, task, got)

	_, ok = r.Get("no-such-id")
	assert.False(t, ok)
}

func TestSnapshotReflectsProgress(t *testing.T) {
	r := newTestRegistry(t)
	task := r.Create("find cat pictures")

	task.SetStatus(schemas.StatusProcessing)
	task.SetCurrentStep(&schemas.StepDescriptor{Index: 0, Action: schemas.ActionNavigate, Description: "Going to https://example.com"})
	task.AppendStep(schemas.StepRecord{Action: schemas.ActionNavigate, Outcome: schemas.OutcomeOK, Verdict: schemas.VerdictOK})
	task.IncRetry()

	snap := task.Snapshot()
	assert.Equal(t, schemas.StatusProcessing, snap.Status)
	assert.Equal(t, 1, snap.StepsExecuted)
	assert.Equal(t, 20, snap.TotalSteps)
	assert.Equal(t, 1, snap.RetryCount)
	assert.Nil(t, snap.CurrentStep, "AppendStep clears the in-flight descriptor")
}

func TestFinalScreenshotSurvivesFinish(t *testing.T) {
	r := newTestRegistry(t)
	task := r.Create("find cat pictures")

	task.SetFinalScreenshot("aGVsbG8=")
	require.True(t, task.Finish(schemas.StatusCompleted, "done", true))
	assert.Equal(t, "aGVsbG8=", task.Snapshot().FinalScreenshot)

	// Terminal tasks refuse late artifacts.
	task.SetFinalScreenshot("bGF0ZQ==")
	assert.Equal(t, "aGVsbG8=", task.Snapshot().FinalScreenshot)
}

func TestStepIndicesAreContiguous(t *testing.T) {
	r := newTestRegistry(t)
	task := r.Create("goal")

	for i := 0; i < 3; i++ {
		task.AppendStep(schemas.StepRecord{Action: schemas.ActionPress, Outcome: schemas.OutcomeError})
	}
	steps := task.Steps()
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i, step.Index)
	}
}

func TestTerminalTasksAreImmutable(t *testing.T) {
	r := newTestRegistry(t)
	task := r.Create("goal")

	require.True(t, task.Finish(schemas.StatusCompleted, "done", true))

	assert.False(t, task.SetStatus(schemas.StatusPlanning))
	assert.False(t, task.AppendStep(schemas.StepRecord{Action: schemas.ActionPress}))
	assert.False(t, task.Finish(schemas.StatusFailed, "again", false))

	snap := task.Snapshot()
	assert.Equal(t, schemas.StatusCompleted, snap.Status)
	assert.True(t, snap.Success)
	assert.Equal(t, "done", snap.Verification)
	assert.Zero(t, snap.StepsExecuted)
}

func TestDeleteCancelsTask(t *testing.T) {
	r := newTestRegistry(t)
	task := r.Create("goal")

	ctx, cancel := context.WithCancel(context.Background())
	task.BindCancel(cancel)

	require.True(t, r.Delete(task.ID()))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("delete should cancel the task context")
	}

	_, ok := r.Get(task.ID())
	assert.False(t, ok)
	assert.False(t, r.Delete(task.ID()))
}

func TestCountActive(t *testing.T) {
	r := newTestRegistry(t)
	a := r.Create("a")
	b := r.Create("b")
	r.Create("c")

	a.Finish(schemas.StatusCompleted, "", true)
	b.Finish(schemas.StatusFailed, "", false)

	assert.Equal(t, 1, r.CountActive())
}

func TestCleanupKeepsRecentTerminalTasks(t *testing.T) {
	r := newTestRegistry(t)

	var terminal []*Task
	for i := 0; i < 5; i++ {
		task := r.Create("done")
		task.Finish(schemas.StatusCompleted, "", true)
		terminal = append(terminal, task)
	}
	active := r.Create("running")

	removed := r.Cleanup(2)
	assert.Equal(t, 3, removed)

	// The three oldest terminal tasks are gone, newest two remain.
	for _, task := range terminal[:3] {
		_, ok := r.Get(task.ID())
		assert.False(t, ok)
	}
	for _, task := range terminal[3:] {
		_, ok := r.Get(task.ID())
		assert.True(t, ok)
	}
	_, ok := r.Get(active.ID())
	assert.True(t, ok, "active tasks survive cleanup")

	assert.Zero(t, r.Cleanup(2), "second cleanup has nothing to do")
}

func TestConcurrentMutation(t *testing.T) {
	r := newTestRegistry(t)
	task := r.Create("goal")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.AppendStep(schemas.StepRecord{Action: schemas.ActionPress, Outcome: schemas.OutcomeOK})
			task.IncRetry()
			_ = task.Snapshot()
		}()
	}
	wg.Wait()

	snap := task.Snapshot()
	assert.Equal(t, 10, snap.StepsExecuted)
	assert.Equal(t, 10, snap.RetryCount)
}
