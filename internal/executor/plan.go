package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lukaizhi5559/command-service-sub000/internal/observability"
)

// PlanExecutor runs an ordered sequence of steps under one overall deadline.
// Steps never reorder and never overlap: each step's preconditions are the
// visible side effects of the previous one.
type PlanExecutor struct {
	steps          *StepExecutor
	defaultTimeout time.Duration
	logger         *observability.Logger
}

func NewPlanExecutor(steps *StepExecutor, defaultTimeout time.Duration, logger *observability.Logger) *PlanExecutor {
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Minute
	}
	return &PlanExecutor{
		steps:          steps,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// ExecutePlan runs the plan to a terminal PlanResult. The sequential step
// loop races the plan deadline; a deadline firing mid-step does not kill
// that step's underlying work, but no further step starts. Steps completed
// before an abort are always preserved in the result.
func (p *PlanExecutor) ExecutePlan(ctx context.Context, plan Plan) PlanResult {
	start := time.Now()

	planID := plan.PlanID
	if planID == "" {
		planID = uuid.New().String()
	}

	timeout := time.Duration(plan.TotalTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	results := make([]StepResult, 0, len(plan.Steps))
	aborted := false

	for _, step := range plan.Steps {
		expired := false
		select {
		case <-deadline.C:
			expired = true
		case <-ctx.Done():
			expired = true
		default:
		}
		if expired {
			aborted = true
			break
		}

		res := p.steps.ExecuteStep(ctx, planID, step, plan.MaxRetriesPerStep)
		results = append(results, res)

		if res.Status == StepFailed {
			aborted = true
			break
		}
	}

	result := aggregate(planID, plan, results, aborted)
	result.TotalTimeMs = time.Since(start).Milliseconds()

	if p.logger != nil {
		completed := result.Summary.Completed
		if result.Status == PlanCompleted {
			completed = result.Summary.Successful
		}
		p.logger.LogPlan(planID, string(result.Status), completed, result.Summary.TotalSteps, time.Since(start))
	}
	return result
}

func aggregate(planID string, plan Plan, results []StepResult, aborted bool) PlanResult {
	total := len(plan.Steps)

	successful := 0
	withRetries := 0
	totalRetries := 0
	failed := 0
	for _, r := range results {
		totalRetries += r.Retries
		switch r.Status {
		case StepSuccess, StepSuccessRetry:
			successful++
			if r.Status == StepSuccessRetry {
				withRetries++
			}
		case StepFailed:
			failed++
		}
	}

	if !aborted && successful == total {
		return PlanResult{
			PlanID: planID,
			Status: PlanCompleted,
			Steps:  results,
			Summary: Summary{
				TotalSteps:   total,
				Successful:   successful,
				WithRetries:  withRetries,
				TotalRetries: totalRetries,
			},
		}
	}

	return PlanResult{
		PlanID: planID,
		Status: PlanFailed,
		Steps:  results,
		Summary: Summary{
			TotalSteps: total,
			Completed:  successful,
			Failed:     failed,
		},
	}
}
