package executor

import (
	"context"

	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
)

// strategy is one ranked fallback tried after a verification failure. The
// retry policy stays data-driven: strategies are assembled per step and
// consumed in order until one re-passes verification or the list runs out.
type strategy struct {
	name string
	run  func(ctx context.Context) error
}

func (e *StepExecutor) buildStrategies(step Step) []strategy {
	var out []strategy

	if step.AlternativeLabel != "" {
		label := step.AlternativeLabel
		out = append(out, strategy{
			name: "alternative_label",
			run: func(ctx context.Context) error {
				return e.clickByLabel(ctx, label)
			},
		})
	}

	if step.AlternativeRole != "" {
		role := step.AlternativeRole
		out = append(out, strategy{
			name: "alternative_role",
			run: func(ctx context.Context) error {
				return e.clickByLabel(ctx, role)
			},
		})
	}

	if step.KeyboardShortcut != "" {
		combo := step.KeyboardShortcut
		out = append(out, strategy{
			name: "keyboard_shortcut",
			run: func(ctx context.Context) error {
				return e.injector.KeyPress(ctx, combo)
			},
		})
	}

	if step.Action.Type == ActionTypeText {
		action := step.Action
		out = append(out, strategy{
			name: "focus_nudge",
			run: func(ctx context.Context) error {
				// Nudge focus forward before typing again; the target
				// field may simply never have received focus.
				if err := e.injector.KeyPress(ctx, "Tab"); err != nil {
					return err
				}
				return e.performer.Perform(ctx, action)
			},
		})
	}

	return out
}

func (e *StepExecutor) clickByLabel(ctx context.Context, label string) error {
	target, err := e.resolver.Resolve(ctx, label, locator.WindowContext{})
	if err != nil {
		return err
	}
	return e.injector.Click(ctx, target.X, target.Y, "")
}
