// File: internal/registry/task.go

// Package registry tracks task records: creation, status transitions, step
// history and cleanup. Terminal tasks are immutable.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/api/schemas"
)

// Task is one tracked automation task. All mutators are safe for concurrent
// use; once the task reaches a terminal status further mutation is refused.
type Task struct {
	id          string
	description string
	totalSteps  int
	createdAt   time.Time
	logger      *zap.Logger

	mu           sync.Mutex
	status       schemas.TaskStatus
	steps        []schemas.StepRecord
	retryCount   int
	current      *schemas.StepDescriptor
	verification string
	success      bool
	finalShot    string
	cancel       context.CancelFunc
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Description returns the task goal as submitted.
func (t *Task) Description() string { return t.description }

// Status returns the current status.
func (t *Task) Status() schemas.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus transitions the task. Transitions out of a terminal status are
// refused and logged.
func (t *Task) SetStatus(status schemas.TaskStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		t.logger.Warn("Refusing status change on terminal task",
			zap.String("task_id", t.id),
			zap.String("current", string(t.status)),
			zap.String("requested", string(status)))
		return false
	}
	t.status = status
	return true
}

// AppendStep records one executed attempt. Indices are assigned contiguously.
func (t *Task) AppendStep(rec schemas.StepRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		t.logger.Warn("Refusing step append on terminal task", zap.String("task_id", t.id))
		return false
	}
	rec.Index = len(t.steps)
	t.steps = append(t.steps, rec)
	t.current = nil
	return true
}

// Steps returns a copy of the executed history.
func (t *Task) Steps() []schemas.StepRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]schemas.StepRecord, len(t.steps))
	copy(out, t.steps)
	return out
}

// IncRetry bumps the cumulative retry counter and returns the new value.
func (t *Task) IncRetry() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retryCount++
	return t.retryCount
}

// SetCurrentStep publishes the step now in flight for the status surface.
func (t *Task) SetCurrentStep(desc *schemas.StepDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.current = desc
}

// SetFinalScreenshot stores the base64 screenshot captured during final
// verification so the status surface can serve it as the task artifact.
func (t *Task) SetFinalScreenshot(b64 string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.finalShot = b64
}

// Finish moves the task to a terminal status with its verification outcome.
// Returns false if the task already finished.
func (t *Task) Finish(status schemas.TaskStatus, verification string, success bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		t.logger.Warn("Refusing second terminal transition",
			zap.String("task_id", t.id),
			zap.String("current", string(t.status)),
			zap.String("requested", string(status)))
		return false
	}
	t.status = status
	t.verification = verification
	t.success = success
	t.current = nil
	return true
}

// BindCancel attaches the engine's cancel function for this task's run.
func (t *Task) BindCancel(cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancel = cancel
}

// Cancel requests cancellation of the running task. The engine observes the
// context and finalizes the status.
func (t *Task) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns an atomic read-only copy for the API surface.
func (t *Task) Snapshot() schemas.Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := schemas.Snapshot{
		TaskID:          t.id,
		Description:     t.description,
		Status:          t.status,
		StepsExecuted:   len(t.steps),
		TotalSteps:      t.totalSteps,
		RetryCount:      t.retryCount,
		Verification:    t.verification,
		Success:         t.success,
		FinalScreenshot: t.finalShot,
		CreatedAt:       t.createdAt,
	}
	if t.current != nil {
		current := *t.current
		snap.CurrentStep = &current
	}
	return snap
}
