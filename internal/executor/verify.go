package executor

import (
	"context"
	"errors"

	"github.com/expr-lang/expr"

	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
	"github.com/lukaizhi5559/command-service-sub000/internal/vision"
)

// VisionVerifier is the subset of the vision client used for verification.
type VisionVerifier interface {
	Verify(ctx context.Context, snap *display.Snapshot, prompt, stepDescription string, hints vision.Context) *vision.VerifyResponse
}

// ElementResolver locates an element by label for element_visible checks and
// the alternative-strategy search.
type ElementResolver interface {
	Resolve(ctx context.Context, label string, win locator.WindowContext) (*locator.Target, error)
}

type verdict int

const (
	verdictPass verdict = iota
	verdictFail
	verdictInconclusive
)

// checkStep evaluates the step's verification rule against a fresh snapshot.
// Capture or service outages yield verdictInconclusive: verification is a
// safety net, not a hard gate, and the detector may be transiently down.
func (e *StepExecutor) checkStep(ctx context.Context, step Step) verdict {
	switch step.Verification {
	case "", VerifyNone:
		return verdictPass
	case VerifyElementVisible:
		return e.checkElementVisible(ctx, step.VerificationContext)
	case VerifyCustom:
		return e.checkCustom(ctx, step)
	default:
		return verdictInconclusive
	}
}

func (e *StepExecutor) checkElementVisible(ctx context.Context, label string) verdict {
	if label == "" {
		return verdictInconclusive
	}
	_, err := e.resolver.Resolve(ctx, label, locator.WindowContext{})
	if err == nil {
		return verdictPass
	}
	if errors.Is(err, locator.ErrNotFound) || errors.Is(err, locator.ErrLowConfidence) {
		return verdictFail
	}
	// Capture failed or the detector was unreachable.
	return verdictInconclusive
}

// checkCustom sends the screen to the visual verifier and, when the step
// carries an expression, evaluates it over the verifier's facts. The
// expression sees: verified (bool), confidence (float), reasoning (string).
func (e *StepExecutor) checkCustom(ctx context.Context, step Step) verdict {
	snap, err := e.capturer.Capture(ctx)
	if err != nil {
		return verdictInconclusive
	}

	resp := e.verifier.Verify(ctx, snap, step.Description, step.Description, vision.Context{})
	if resp.Verified == nil {
		return verdictInconclusive
	}

	if step.VerificationContext == "" {
		if *resp.Verified {
			return verdictPass
		}
		return verdictFail
	}

	return evalCheckExpr(step.VerificationContext, map[string]any{
		"verified":   *resp.Verified,
		"confidence": resp.Confidence,
		"reasoning":  resp.Reasoning,
	})
}

// evalCheckExpr compiles and runs a boolean check expression. A malformed
// expression is a plan-authoring bug, not a screen mismatch, so it degrades
// to inconclusive instead of failing the step.
func evalCheckExpr(src string, env map[string]any) verdict {
	program, err := expr.Compile(src, expr.Env(env), expr.AsBool())
	if err != nil {
		return verdictInconclusive
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return verdictInconclusive
	}
	if pass, ok := out.(bool); ok && pass {
		return verdictPass
	}
	return verdictFail
}
