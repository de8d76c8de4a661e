package executor

import (
	"github.com/lukaizhi5559/command-service-sub000/internal/session"
)

// ActionType names what a step physically does.
type ActionType string

const (
	ActionShell     ActionType = "shell"
	ActionBrowser   ActionType = "browser"
	ActionFindClick ActionType = "find_click"
	ActionTypeText  ActionType = "type_text"
	ActionKeyPress  ActionType = "key_press"
	ActionWait      ActionType = "wait"
)

// StepAction is the executable payload of a step.
type StepAction struct {
	Type ActionType `json:"type"`

	// shell
	Command string `json:"command,omitempty"`

	// browser
	SessionID string          `json:"sessionId,omitempty"`
	Browser   *session.Action `json:"browser,omitempty"`

	// find_click
	TargetLabel string `json:"targetLabel,omitempty"`

	// type_text
	Text string `json:"text,omitempty"`

	// key_press
	Key string `json:"key,omitempty"`

	// wait
	WaitMs int `json:"waitMs,omitempty"`
}

// VerificationKind selects the post-action check.
type VerificationKind string

const (
	VerifyNone           VerificationKind = "none"
	VerifyElementVisible VerificationKind = "element_visible"
	VerifyCustom         VerificationKind = "custom"
)

// Step is one unit of a plan. Immutable once the plan is issued.
type Step struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Action      StepAction `json:"action"`

	Verification        VerificationKind `json:"verification"`
	VerificationContext string           `json:"verificationContext,omitempty"`

	AlternativeLabel string `json:"alternativeLabel,omitempty"`
	AlternativeRole  string `json:"alternativeRole,omitempty"`
	KeyboardShortcut string `json:"keyboardShortcut,omitempty"`

	WaitAfterMs int  `json:"waitAfter,omitempty"`
	MaxRetries  *int `json:"maxRetries,omitempty"`
}

// Plan is an ordered sequence of steps produced externally and consumed
// read-only here.
type Plan struct {
	PlanID            string `json:"planId"`
	OriginalCommand   string `json:"originalCommand,omitempty"`
	Steps             []Step `json:"steps"`
	TotalTimeoutMs    int    `json:"totalTimeout,omitempty"`
	MaxRetriesPerStep int    `json:"maxRetriesPerStep,omitempty"`
	TargetOS          string `json:"targetOS,omitempty"`
	TargetApp         string `json:"targetApp,omitempty"`
}

// StepStatus is the terminal status of one step.
type StepStatus string

const (
	StepSuccess      StepStatus = "success"
	StepSuccessRetry StepStatus = "success_retry"
	StepFailed       StepStatus = "failed"
)

// StepResult records one step's outcome. Never mutated after creation: a
// rerun produces a new result. Retries always equals execution attempts
// minus one, and success_retry implies Retries >= 1 with a non-empty Method.
type StepResult struct {
	StepID          string     `json:"stepId"`
	Status          StepStatus `json:"status"`
	Method          string     `json:"method,omitempty"`
	Retries         int        `json:"retries"`
	ExecutionTimeMs int64      `json:"executionTime"`
}

// PlanStatus is the terminal status of a plan run.
type PlanStatus string

const (
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// Summary aggregates per-step outcomes. Completed runs report the success
// breakdown; failed runs report completed/failed counts. TotalSteps always
// equals len(plan.Steps) regardless of how many ran.
type Summary struct {
	TotalSteps   int `json:"totalSteps"`
	Successful   int `json:"successful,omitempty"`
	WithRetries  int `json:"withRetries,omitempty"`
	TotalRetries int `json:"totalRetries,omitempty"`
	Completed    int `json:"completed,omitempty"`
	Failed       int `json:"failed,omitempty"`
}

// PlanResult is the terminal artifact returned to the caller.
type PlanResult struct {
	PlanID      string       `json:"planId"`
	Status      PlanStatus   `json:"status"`
	Steps       []StepResult `json:"steps"`
	TotalTimeMs int64        `json:"totalTime"`
	Summary     Summary      `json:"summary"`
}

// CompletionRatio is completed steps over total steps.
func (r PlanResult) CompletionRatio() float64 {
	if r.Summary.TotalSteps == 0 {
		return 0
	}
	completed := r.Summary.Completed
	if r.Status == PlanCompleted {
		completed = r.Summary.Successful
	}
	return float64(completed) / float64(r.Summary.TotalSteps)
}

// DefaultPartialSuccessThreshold is the completion ratio at which a failed
// plan is still worth reporting as a partial success. A product policy
// choice, not a derived invariant; callers may override it via config.
const DefaultPartialSuccessThreshold = 0.70

// PartialSuccess reports whether a failed plan cleared the threshold.
func (r PlanResult) PartialSuccess(threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultPartialSuccessThreshold
	}
	return r.Status == PlanFailed && r.CompletionRatio() >= threshold
}
