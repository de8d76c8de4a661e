package executor

import (
	"context"
	"errors"
	"time"

	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/input"
	"github.com/lukaizhi5559/command-service-sub000/internal/observability"
)

// Performer executes a step's action against the concrete actuators. It
// returns a *Failure for classified errors so the executor can decide
// whether another attempt is allowed.
type Performer interface {
	Perform(ctx context.Context, action StepAction) error
}

// StepExecutor runs one step at a time: execute, settle, verify, and on
// verification failure walk the ranked alternative strategies until retries
// are exhausted.
type StepExecutor struct {
	performer Performer
	capturer  display.Capturer
	verifier  VisionVerifier
	resolver  ElementResolver
	injector  input.Injector

	defaultMaxRetries int
	retryBackoff      time.Duration
	stepTimeout       time.Duration
	logger            *observability.Logger
}

func NewStepExecutor(
	performer Performer,
	capturer display.Capturer,
	verifier VisionVerifier,
	resolver ElementResolver,
	injector input.Injector,
	defaultMaxRetries int,
	retryBackoff time.Duration,
	logger *observability.Logger,
) *StepExecutor {
	if defaultMaxRetries < 0 {
		defaultMaxRetries = 0
	}
	if retryBackoff <= 0 {
		retryBackoff = 500 * time.Millisecond
	}
	return &StepExecutor{
		performer:         performer,
		capturer:          capturer,
		verifier:          verifier,
		resolver:          resolver,
		injector:          injector,
		defaultMaxRetries: defaultMaxRetries,
		retryBackoff:      retryBackoff,
		stepTimeout:       30 * time.Second,
		logger:            logger,
	}
}

// WithStepTimeout caps how long a single step may spend across all of its
// attempts. Zero disables the cap.
func (e *StepExecutor) WithStepTimeout(d time.Duration) *StepExecutor {
	e.stepTimeout = d
	return e
}

// ExecuteStep runs one step to a terminal result. planMaxRetries applies
// when the step carries no override. Retries in the result always equals
// execution attempts minus one.
func (e *StepExecutor) ExecuteStep(ctx context.Context, planID string, step Step, planMaxRetries int) StepResult {
	start := time.Now()

	if e.stepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	maxRetries := e.defaultMaxRetries
	if planMaxRetries > 0 {
		maxRetries = planMaxRetries
	}
	if step.MaxRetries != nil {
		maxRetries = *step.MaxRetries
	}

	result := e.run(ctx, step, maxRetries)
	result.StepID = step.ID
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	if e.logger != nil {
		e.logger.LogStep(planID, step.ID, string(result.Status), result.Method, result.Retries)
	}
	return result
}

func (e *StepExecutor) run(ctx context.Context, step Step, maxRetries int) StepResult {
	attempts := 1
	err := e.performer.Perform(ctx, step.Action)
	if err == nil {
		e.settle(ctx, step)
		if e.checkStep(ctx, step) != verdictFail {
			return StepResult{Status: StepSuccess, Retries: 0}
		}
	} else if fatal(err) {
		return StepResult{Status: StepFailed, Retries: 0}
	}

	strategies := e.buildStrategies(step)
	next := 0

	for attempts-1 < maxRetries {
		select {
		case <-ctx.Done():
			return StepResult{Status: StepFailed, Retries: attempts - 1}
		case <-time.After(e.retryBackoff):
		}

		attempts++
		method := "retry"
		var attemptErr error

		if next < len(strategies) {
			s := strategies[next]
			next++
			method = s.name
			attemptErr = s.run(ctx)
		} else {
			attemptErr = e.performer.Perform(ctx, step.Action)
		}

		if attemptErr != nil {
			if fatal(attemptErr) {
				return StepResult{Status: StepFailed, Retries: attempts - 1}
			}
			continue
		}

		e.settle(ctx, step)
		if e.checkStep(ctx, step) != verdictFail {
			return StepResult{Status: StepSuccessRetry, Method: method, Retries: attempts - 1}
		}
	}

	return StepResult{Status: StepFailed, Retries: attempts - 1}
}

// settle waits the step's configured time between action and verification so
// the UI can catch up.
func (e *StepExecutor) settle(ctx context.Context, step Step) {
	if step.WaitAfterMs <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(step.WaitAfterMs) * time.Millisecond):
	}
}

// fatal reports whether an action error forbids further attempts. Policy
// rejections and boundary violations are terminal no matter how many retries
// remain.
func fatal(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return !f.Retryable()
	}
	return false
}
