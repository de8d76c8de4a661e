package skills

import (
	"context"
	"strings"
	"time"

	"github.com/lukaizhi5559/command-service-sub000/internal/actuator"
	"github.com/lukaizhi5559/command-service-sub000/internal/executor"
	"github.com/lukaizhi5559/command-service-sub000/internal/governance"
	"github.com/lukaizhi5559/command-service-sub000/internal/input"
	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
	"github.com/lukaizhi5559/command-service-sub000/internal/session"
)

// Performer maps plan step actions onto the same actuators the skill
// handlers use, so a step and a direct skill call go through identical
// policy and execution paths.
type Performer struct {
	validator *governance.Validator
	runner    *actuator.Runner
	sessions  *session.Registry
	resolver  executor.ElementResolver
	injector  input.Injector
}

func NewPerformer(
	validator *governance.Validator,
	runner *actuator.Runner,
	sessions *session.Registry,
	resolver executor.ElementResolver,
	injector input.Injector,
) *Performer {
	return &Performer{
		validator: validator,
		runner:    runner,
		sessions:  sessions,
		resolver:  resolver,
		injector:  injector,
	}
}

func (p *Performer) Perform(ctx context.Context, action executor.StepAction) error {
	switch action.Type {
	case executor.ActionShell:
		return p.performShell(ctx, action.Command)
	case executor.ActionBrowser:
		return p.performBrowser(ctx, action)
	case executor.ActionFindClick:
		return p.performFindClick(ctx, action.TargetLabel)
	case executor.ActionTypeText:
		if err := p.injector.TypeText(ctx, action.Text); err != nil {
			return executor.NewFailure(executor.ExecutionFailure, "%s", err.Error())
		}
		return nil
	case executor.ActionKeyPress:
		if err := p.injector.KeyPress(ctx, action.Key); err != nil {
			return executor.NewFailure(executor.ExecutionFailure, "%s", err.Error())
		}
		return nil
	case executor.ActionWait:
		select {
		case <-ctx.Done():
			return executor.NewFailure(executor.TimeoutExceeded, "%s", ctx.Err().Error())
		case <-time.After(time.Duration(action.WaitMs) * time.Millisecond):
			return nil
		}
	default:
		return executor.NewFailure(executor.ExecutionFailure, "unsupported action type %s", string(action.Type))
	}
}

func (p *Performer) performShell(ctx context.Context, command string) error {
	cls := p.validator.Validate(command)
	if !cls.Allowed {
		return executor.NewFailure(executor.PolicyRejection, "%s", cls.Reason)
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return executor.NewFailure(executor.ExecutionFailure, "empty command")
	}

	res := p.runner.Run(ctx, actuator.Request{Cmd: fields[0], Args: fields[1:]})
	if res.OK {
		return nil
	}
	return classifyRunError(res)
}

func (p *Performer) performBrowser(ctx context.Context, action executor.StepAction) error {
	if action.Browser == nil {
		return executor.NewFailure(executor.ExecutionFailure, "browser step carries no action")
	}
	sessionID := action.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	if _, err := p.sessions.Act(ctx, sessionID, *action.Browser); err != nil {
		return executor.NewFailure(executor.ExecutionFailure, "%s", err.Error())
	}
	return nil
}

func (p *Performer) performFindClick(ctx context.Context, label string) error {
	target, err := p.resolver.Resolve(ctx, label, locator.WindowContext{})
	if err != nil {
		return executor.NewFailure(executor.ExecutionFailure, "%s", err.Error())
	}
	if err := p.injector.Click(ctx, target.X, target.Y, ""); err != nil {
		return executor.NewFailure(executor.ExecutionFailure, "%s", err.Error())
	}
	return nil
}

// classifyRunError folds an actuator result into the failure taxonomy.
// Boundary violations are terminal; timeouts are terminal at step level;
// everything else is an ordinary execution failure the retry loop may take
// another pass at.
func classifyRunError(res actuator.Result) error {
	msg := res.Error
	switch {
	case strings.Contains(msg, "escapes permitted roots"),
		strings.Contains(msg, "not in the allowlist"),
		strings.Contains(msg, "danger-tools opt-in"),
		strings.Contains(msg, "dangerous script"):
		return executor.NewFailure(executor.SecurityBoundaryViolation, "%s", msg)
	case strings.Contains(msg, "timed out"):
		return executor.NewFailure(executor.TimeoutExceeded, "%s", msg)
	default:
		return executor.NewFailure(executor.ExecutionFailure, "%s", msg)
	}
}
