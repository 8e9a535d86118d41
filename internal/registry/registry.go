// File: internal/registry/registry.go
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nulltrace0/webagentd/api/schemas"
)

// Registry is the in-memory task store.
type Registry struct {
	maxSteps int
	logger   *zap.Logger

	mu    sync.RWMutex
	tasks map[string]*Task
	order []string // creation order, for cleanup
}

// New creates an empty Registry. maxSteps is recorded on each task as its
// step budget for the status surface.
func New(maxSteps int, logger *zap.Logger) *Registry {
	return &Registry{
		maxSteps: maxSteps,
		logger:   logger.Named("registry"),
		tasks:    make(map[string]*Task),
	}
}

// Create registers a new queued task and returns it.
func (r *Registry) Create(description string) *Task {
	t := &Task{
		id:          uuid.NewString(),
		description: description,
		totalSteps:  r.maxSteps,
		createdAt:   time.Now().UTC(),
		status:      schemas.StatusQueued,
		logger:      r.logger,
	}

	r.mu.Lock()
	r.tasks[t.id] = t
	r.order = append(r.order, t.id)
	r.mu.Unlock()

	r.logger.Info("Task created",
		zap.String("task_id", t.id),
		zap.String("description", description))
	return t
}

// Get looks a task up by id.
func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Delete cancels and removes a task. Returns false if the id is unknown.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		delete(r.tasks, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	t.Cancel()
	r.logger.Info("Task deleted", zap.String("task_id", id))
	return true
}

// CountActive returns the number of tasks that are not yet terminal.
func (r *Registry) CountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.tasks {
		if !t.Status().Terminal() {
			n++
		}
	}
	return n
}

// Snapshots returns snapshots of every task in creation order.
func (r *Registry) Snapshots() []schemas.Snapshot {
	r.mu.RLock()
	ids := append([]string{}, r.order...)
	r.mu.RUnlock()

	out := make([]schemas.Snapshot, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.Get(id); ok {
			out = append(out, t.Snapshot())
		}
	}
	return out
}

// Cleanup removes terminal tasks, keeping the keepLastN most recently created
// ones. Active tasks are never removed. Returns the number removed.
func (r *Registry) Cleanup(keepLastN int) int {
	if keepLastN < 0 {
		keepLastN = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var terminal []string
	for _, id := range r.order {
		if t, ok := r.tasks[id]; ok && t.Status().Terminal() {
			terminal = append(terminal, id)
		}
	}
	if len(terminal) <= keepLastN {
		return 0
	}

	evict := terminal[:len(terminal)-keepLastN]
	evicted := make(map[string]struct{}, len(evict))
	for _, id := range evict {
		delete(r.tasks, id)
		evicted[id] = struct{}{}
	}

	kept := r.order[:0]
	for _, id := range r.order {
		if _, gone := evicted[id]; !gone {
			kept = append(kept, id)
		}
	}
	r.order = kept

	r.logger.Info("Cleaned up finished tasks",
		zap.Int("removed", len(evict)),
		zap.Int("kept", keepLastN))
	return len(evict)
}
