// File: internal/engine/engine.go

// Package engine drives tasks through the observe, plan, act, verify loop
// until the goal is met or a budget runs out.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nulltrace0/webagentd/api/schemas"
	"github.com/nulltrace0/webagentd/internal/config"
	"github.com/nulltrace0/webagentd/internal/prompt"
	"github.com/nulltrace0/webagentd/internal/registry"
)

// ActionRunner is the slice of the dispatcher the engine needs.
type ActionRunner interface {
	Invoke(ctx context.Context, kind schemas.ActionKind, payload map[string]any) ([]byte, error)
	PageInfo(ctx context.Context) (schemas.PageInfo, error)
	Query(ctx context.Context, selector string) (string, error)
	CaptureScreenshot(ctx context.Context) (string, error)
}

// Observer captures page snapshots for planning and verification.
type Observer interface {
	Observe(ctx context.Context) schemas.Observation
}

// StepPlanner produces the next action for a task.
type StepPlanner interface {
	Next(ctx context.Context, task string, obs schemas.Observation, history []schemas.StepRecord) (schemas.Plan, error)
}

// OutcomeVerifier judges step and task outcomes.
type OutcomeVerifier interface {
	CheckStep(ctx context.Context, action, expected string, obs schemas.Observation) (schemas.StepVerification, error)
	Final(ctx context.Context, task, url, title, dom, screenshot string) (schemas.StepVerification, error)
}

// Engine executes tasks. Concurrency is bounded by a weighted semaphore; the
// default of one matches an agent driving a single browser tab.
type Engine struct {
	cfg      config.EngineConfig
	actions  ActionRunner
	observer Observer
	planner  StepPlanner
	verifier OutcomeVerifier
	logger   *zap.Logger
	sem      *semaphore.Weighted
	workers  sync.WaitGroup
}

// New creates an Engine.
func New(cfg config.EngineConfig, actions ActionRunner, observer Observer, planner StepPlanner, verifier OutcomeVerifier, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		actions:  actions,
		observer: observer,
		planner:  planner,
		verifier: verifier,
		logger:   logger.Named("engine"),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
	}
}

// Submit starts a worker for the task. The worker waits for a concurrency
// slot; cancelling the task (or ctx) while queued finishes it as cancelled.
func (e *Engine) Submit(ctx context.Context, task *registry.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	task.BindCancel(cancel)

	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		defer cancel()

		if err := e.sem.Acquire(taskCtx, 1); err != nil {
			task.Finish(schemas.StatusCancelled, "cancelled before execution started", false)
			return
		}
		defer e.sem.Release(1)
		e.run(taskCtx, task)
	}()
}

// Wait blocks until every submitted task has finished. Used during shutdown
// after the base context is cancelled.
func (e *Engine) Wait() {
	e.workers.Wait()
}

// run is the reactive loop for one task.
func (e *Engine) run(ctx context.Context, task *registry.Task) {
	log := e.logger.With(zap.String("task_id", task.ID()))
	log.Info("Task execution started", zap.String("goal", task.Description()))

	consecutiveFailures := 0
	var lastFailure string

	for {
		if ctx.Err() != nil {
			e.finishCancelled(task, log)
			return
		}

		if consecutiveFailures > 0 {
			task.SetStatus(schemas.StatusReplanning)
		} else {
			task.SetStatus(schemas.StatusPlanning)
		}

		obs := e.observer.Observe(ctx)
		if ctx.Err() != nil {
			e.finishCancelled(task, log)
			return
		}

		plan, err := e.planner.Next(ctx, task.Description(), obs, task.Steps())
		if err != nil {
			if ctx.Err() != nil {
				e.finishCancelled(task, log)
				return
			}
			consecutiveFailures++
			task.IncRetry()
			lastFailure = err.Error()
			log.Warn("Planning failed",
				zap.Int("consecutive_failures", consecutiveFailures),
				zap.Error(err))
			if consecutiveFailures > e.cfg.MaxRetries {
				task.Finish(schemas.StatusFailed, fmt.Sprintf("planning failed after %d retries: %s", e.cfg.MaxRetries, lastFailure), false)
				return
			}
			continue
		}

		if plan.Done {
			e.finalize(ctx, task, log)
			return
		}

		if len(task.Steps()) >= e.cfg.MaxSteps {
			log.Warn("Step budget exhausted", zap.Int("max_steps", e.cfg.MaxSteps))
			task.Finish(schemas.StatusFailed, "step_budget_exhausted", false)
			return
		}

		rec, cancelled := e.executeStep(ctx, task, plan, consecutiveFailures)
		if cancelled {
			e.finishCancelled(task, log)
			return
		}
		task.AppendStep(rec)

		if rec.Verdict == schemas.VerdictOK {
			consecutiveFailures = 0
			continue
		}

		consecutiveFailures++
		task.IncRetry()
		if rec.Error != "" {
			lastFailure = rec.Error
		} else {
			lastFailure = rec.VerdictText
		}
		log.Warn("Step did not succeed",
			zap.String("action", string(rec.Action)),
			zap.String("outcome", string(rec.Outcome)),
			zap.Int("consecutive_failures", consecutiveFailures))

		if consecutiveFailures > e.cfg.MaxRetries {
			task.Finish(schemas.StatusFailed, fmt.Sprintf("retry budget exhausted: %s", lastFailure), false)
			return
		}
	}
}

// executeStep dispatches one planned action and verifies its outcome. The
// returned record covers the whole attempt; cancelled is true when the task
// context died mid-step.
func (e *Engine) executeStep(ctx context.Context, task *registry.Task, plan schemas.Plan, attempt int) (schemas.StepRecord, bool) {
	task.SetStatus(schemas.StatusProcessing)
	task.SetCurrentStep(&schemas.StepDescriptor{
		Index:       len(task.Steps()),
		Action:      plan.Action,
		Description: prompt.DescribeStep(plan.Action, plan.Payload),
	})

	rec := schemas.StepRecord{
		Action:    plan.Action,
		Payload:   plan.Payload,
		Rationale: plan.Reasoning,
		StartedAt: time.Now().UTC(),
		Attempt:   attempt,
	}

	_, err := e.actions.Invoke(ctx, plan.Action, plan.Payload)
	if err != nil {
		rec.EndedAt = time.Now().UTC()
		if ctx.Err() != nil {
			return rec, true
		}
		rec.Error = err.Error()
		rec.Verdict = schemas.VerdictRetry
		if schemas.CodeOf(err) == schemas.ErrCodeActionTimeout {
			rec.Outcome = schemas.OutcomeTimeout
		} else {
			rec.Outcome = schemas.OutcomeError
		}
		return rec, false
	}
	rec.Outcome = schemas.OutcomeOK

	// Let the page settle before judging the result. Typing needs longer for
	// autocomplete and debounced inputs.
	settle := e.cfg.SettleDelay
	if plan.Action == schemas.ActionType || plan.Action == schemas.ActionSmartType {
		settle = e.cfg.TypeSettleDelay
	}
	if !sleepCtx(ctx, settle) {
		rec.EndedAt = time.Now().UTC()
		return rec, true
	}

	task.SetStatus(schemas.StatusVerifying)
	if !sleepCtx(ctx, e.cfg.VerificationDelay) {
		rec.EndedAt = time.Now().UTC()
		return rec, true
	}

	obs := e.observer.Observe(ctx)
	if ctx.Err() != nil {
		rec.EndedAt = time.Now().UTC()
		return rec, true
	}

	verdict, err := e.verifier.CheckStep(ctx, prompt.DescribeAction(plan.Action, plan.Payload), plan.ExpectedOutcome, obs)
	rec.EndedAt = time.Now().UTC()
	if err != nil {
		if ctx.Err() != nil {
			return rec, true
		}
		// The action itself ran; a verification failure burns a retry unit
		// and feeds back into replanning.
		rec.Verdict = schemas.VerdictRetry
		rec.VerdictText = fmt.Sprintf("verification unavailable: %s", err)
		return rec, false
	}

	rec.Verdict = verdict.Verdict()
	rec.VerdictText = verdict.Message
	return rec, false
}

// finalize runs the whole-task verification after the planner reported the
// goal met.
func (e *Engine) finalize(ctx context.Context, task *registry.Task, log *zap.Logger) {
	task.SetStatus(schemas.StatusVerifying)
	if !sleepCtx(ctx, e.cfg.VerificationDelay) {
		e.finishCancelled(task, log)
		return
	}

	info, err := e.actions.PageInfo(ctx)
	if err != nil {
		log.Warn("Final page info unavailable", zap.Error(err))
	}
	dom, err := e.actions.Query(ctx, "body")
	if err != nil {
		log.Warn("Final DOM capture unavailable", zap.Error(err))
	}
	if len(dom) > e.cfg.DOMContentLimit {
		dom = dom[:e.cfg.DOMContentLimit]
	}
	var shot string
	if e.cfg.FinalScreenshot {
		shot, err = e.actions.CaptureScreenshot(ctx)
		if err != nil {
			log.Debug("Final screenshot unavailable", zap.Error(err))
			shot = ""
		} else {
			task.SetFinalScreenshot(shot)
		}
	}
	if ctx.Err() != nil {
		e.finishCancelled(task, log)
		return
	}

	verdict, err := e.verifier.Final(ctx, task.Description(), info.URL, info.Title, dom, shot)
	if err != nil {
		if ctx.Err() != nil {
			e.finishCancelled(task, log)
			return
		}
		task.Finish(schemas.StatusFailed, fmt.Sprintf("final verification failed: %s", err), false)
		return
	}

	if verdict.Success {
		log.Info("Task completed", zap.Float64("confidence", verdict.Confidence))
		task.Finish(schemas.StatusCompleted, verdict.Message, true)
	} else {
		log.Info("Task failed final verification", zap.String("message", verdict.Message))
		task.Finish(schemas.StatusFailed, verdict.Message, false)
	}
}

func (e *Engine) finishCancelled(task *registry.Task, log *zap.Logger) {
	if task.Finish(schemas.StatusCancelled, "task cancelled", false) {
		log.Info("Task cancelled")
	}
}

// sleepCtx sleeps for d unless ctx dies first. Returns false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
