// api/schemas/tasks.go
package schemas

import "time"

// TaskStatus tracks a task through its lifecycle. Terminal statuses admit no
// further mutation of the task record.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"     // Accepted, engine worker not yet running.
	StatusPlanning   TaskStatus = "planning"   // Asking the model for the next step.
	StatusProcessing TaskStatus = "processing" // An action is in flight to the agent.
	StatusVerifying  TaskStatus = "verifying"  // Judging the outcome of the last action.
	StatusReplanning TaskStatus = "replanning" // Retrying with failure context.
	StatusCompleted  TaskStatus = "completed"  // Final verification passed.
	StatusFailed     TaskStatus = "failed"     // Budgets exhausted or final verification failed.
	StatusCancelled  TaskStatus = "cancelled"  // Client request or shutdown.
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether an engine worker is currently driving the task.
func (s TaskStatus) Active() bool {
	switch s {
	case StatusPlanning, StatusProcessing, StatusVerifying, StatusReplanning:
		return true
	}
	return false
}

// StepOutcome classifies how a dispatched action ended.
type StepOutcome string

const (
	OutcomeOK      StepOutcome = "ok"
	OutcomeError   StepOutcome = "error"
	OutcomeTimeout StepOutcome = "timeout"
)

// Verdict is the verifier's judgement of a step or of the whole task.
type Verdict string

const (
	VerdictOK    Verdict = "ok"
	VerdictRetry Verdict = "retry"
	VerdictFail  Verdict = "fail"
)

// StepRecord is one entry in a task's ordered history. Indices are contiguous
// from 0; retried attempts occupy their own index with Attempt counting the
// consecutive-failure depth at the time the step ran.
type StepRecord struct {
	Index       int            `json:"index"`
	Action      ActionKind     `json:"action"`
	Payload     map[string]any `json:"payload,omitempty"`
	Rationale   string         `json:"rationale,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Outcome     StepOutcome    `json:"outcome"`
	Error       string         `json:"error,omitempty"`
	Verdict     Verdict        `json:"verdict,omitempty"`
	VerdictText string         `json:"verdict_text,omitempty"`
	Attempt     int            `json:"attempt"`
}

// StepDescriptor is the compact current-step view exposed on the status
// surface while a task is running.
type StepDescriptor struct {
	Index       int        `json:"index"`
	Action      ActionKind `json:"action"`
	Description string     `json:"description"`
}

// Snapshot is an atomic, read-only copy of a task record served to clients.
// FinalScreenshot is the base64 PNG captured at final verification, when the
// capture policy is enabled and the capture succeeded.
type Snapshot struct {
	TaskID          string          `json:"task_id"`
	Description     string          `json:"description"`
	Status          TaskStatus      `json:"status"`
	StepsExecuted   int             `json:"steps_executed"`
	TotalSteps      int             `json:"total_steps"`
	RetryCount      int             `json:"retry_count"`
	CurrentStep     *StepDescriptor `json:"current_step,omitempty"`
	Verification    string          `json:"verification,omitempty"`
	Success         bool            `json:"success"`
	FinalScreenshot string          `json:"final_screenshot,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
