package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
)

func planOf(steps ...Step) Plan {
	return Plan{PlanID: "plan-1", Steps: steps}
}

func keyStep(id string) Step {
	return Step{
		ID:           id,
		Action:       StepAction{Type: ActionKeyPress, Key: "Return"},
		Verification: VerifyNone,
	}
}

func TestExecutePlan_AllSuccess(t *testing.T) {
	e := newTestExecutor(&fakePerformer{}, nil, nil, nil, nil)
	pe := NewPlanExecutor(e, time.Minute, nil)

	res := pe.ExecutePlan(context.Background(), planOf(keyStep("s1"), keyStep("s2"), keyStep("s3")))

	assert.Equal(t, PlanCompleted, res.Status)
	assert.Len(t, res.Steps, 3)
	assert.Equal(t, 3, res.Summary.TotalSteps)
	assert.Equal(t, 3, res.Summary.Successful)
	assert.Equal(t, 0, res.Summary.WithRetries)
	assert.Equal(t, 0, res.Summary.TotalRetries)
}

func TestExecutePlan_FailureAbortsRemainingSteps(t *testing.T) {
	// Step 3's verification never passes; steps 4 and 5 must not run.
	failing := Step{
		ID:                  "s3",
		Action:              StepAction{Type: ActionFindClick, TargetLabel: "ghost"},
		Verification:        VerifyElementVisible,
		VerificationContext: "ghost",
		MaxRetries:          intPtr(1),
	}
	r := &fakeResolver{outcomes: []resolveOutcome{
		{err: locator.ErrNotFound}, {err: locator.ErrNotFound},
	}}
	p := &fakePerformer{}
	e := newTestExecutor(p, r, nil, nil, nil)
	pe := NewPlanExecutor(e, time.Minute, nil)

	res := pe.ExecutePlan(context.Background(), planOf(
		keyStep("s1"), keyStep("s2"), failing, keyStep("s4"), keyStep("s5"),
	))

	require.Equal(t, PlanFailed, res.Status)
	assert.Len(t, res.Steps, 3, "steps after the failure never run")
	assert.Equal(t, 5, res.Summary.TotalSteps, "totalSteps reflects the issued plan, not what ran")
	assert.Equal(t, 2, res.Summary.Completed)
	assert.Equal(t, 1, res.Summary.Failed)

	assert.InDelta(t, 0.4, res.CompletionRatio(), 1e-9)
	assert.False(t, res.PartialSuccess(DefaultPartialSuccessThreshold),
		"2 of 5 is below the partial-success threshold")
}

func TestExecutePlan_PartialSuccessThreshold(t *testing.T) {
	res := PlanResult{
		Status:  PlanFailed,
		Summary: Summary{TotalSteps: 5, Completed: 4, Failed: 1},
	}
	assert.InDelta(t, 0.8, res.CompletionRatio(), 1e-9)
	assert.True(t, res.PartialSuccess(DefaultPartialSuccessThreshold))
	assert.False(t, res.PartialSuccess(0.9), "threshold is tunable")
}

func TestExecutePlan_DeadlineStopsFurtherSteps(t *testing.T) {
	// The first step outlives the plan deadline. It is not killed mid
	// flight, but the second step must never start.
	p := &fakePerformer{delay: 80 * time.Millisecond}
	e := newTestExecutor(p, nil, nil, nil, nil)
	pe := NewPlanExecutor(e, time.Minute, nil)

	plan := planOf(keyStep("s1"), keyStep("s2"))
	plan.TotalTimeoutMs = 20

	res := pe.ExecutePlan(context.Background(), plan)

	assert.Equal(t, PlanFailed, res.Status)
	assert.Len(t, res.Steps, 1)
	assert.Equal(t, StepSuccess, res.Steps[0].Status, "the in-flight step runs to completion")
	assert.Equal(t, 1, res.Summary.Completed)
	assert.Equal(t, 2, res.Summary.TotalSteps)
	assert.Equal(t, 1, p.calls, "the second step never started")
}

func TestExecutePlan_AssignsPlanID(t *testing.T) {
	e := newTestExecutor(&fakePerformer{}, nil, nil, nil, nil)
	pe := NewPlanExecutor(e, time.Minute, nil)

	res := pe.ExecutePlan(context.Background(), Plan{Steps: []Step{keyStep("s1")}})
	assert.NotEmpty(t, res.PlanID)
}

func TestExecutePlan_StepRetriesCountedInSummary(t *testing.T) {
	// First step needs one retry; plan still completes.
	p := &fakePerformer{errs: []error{NewFailure(ExecutionFailure, "exit status 1")}}
	e := newTestExecutor(p, nil, nil, nil, nil)
	pe := NewPlanExecutor(e, time.Minute, nil)

	res := pe.ExecutePlan(context.Background(), planOf(keyStep("s1"), keyStep("s2")))

	assert.Equal(t, PlanCompleted, res.Status)
	assert.Equal(t, 1, res.Summary.WithRetries)
	assert.Equal(t, 1, res.Summary.TotalRetries)
	assert.Equal(t, 2, res.Summary.Successful)
}

func intPtr(v int) *int { return &v }
