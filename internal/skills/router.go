package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lukaizhi5559/command-service-sub000/internal/actuator"
	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/executor"
	"github.com/lukaizhi5559/command-service-sub000/internal/governance"
	"github.com/lukaizhi5559/command-service-sub000/internal/input"
	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
	"github.com/lukaizhi5559/command-service-sub000/internal/observability"
	"github.com/lukaizhi5559/command-service-sub000/internal/session"
	"github.com/lukaizhi5559/command-service-sub000/internal/vision"
)

// Request is the inbound envelope from the transport layer.
type Request struct {
	Skill string          `json:"skill"`
	Args  json.RawMessage `json:"args"`
}

// Response is the normalized result envelope. No handler panics or returns a
// bare error to the transport: every failure is structured.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Health is the skill-independent status report used by orchestration
// tooling.
type Health struct {
	Skills            []string `json:"skills"`
	ValidatorEnabled  bool     `json:"validatorEnabled"`
	AllowedCategories []string `json:"allowedCategories"`
	Sessions          int      `json:"sessions"`
	UptimeSeconds     int64    `json:"uptimeSeconds"`
}

// AuditSink records validator verdicts and plan outcomes; satisfied by
// store.AuditStore.
type AuditSink interface {
	RecordValidation(command string, cls governance.Classification) error
	RecordPlanResult(res executor.PlanResult) error
}

// Router is the single entry point mapping a {skill, args} request to a
// concrete actuator.
type Router struct {
	validator *governance.Validator
	runner    *actuator.Runner
	sessions  *session.Registry
	resolver  executor.ElementResolver
	injector  input.Injector
	capturer  display.Capturer
	verifier  executor.VisionVerifier
	cache     *vision.ObservationCache
	audit     AuditSink
	logger    *observability.Logger

	validatorEnabled  bool
	allowedCategories []string
}

func NewRouter(
	validator *governance.Validator,
	runner *actuator.Runner,
	sessions *session.Registry,
	resolver executor.ElementResolver,
	injector input.Injector,
	capturer display.Capturer,
	verifier executor.VisionVerifier,
	cache *vision.ObservationCache,
	audit AuditSink,
	logger *observability.Logger,
	validatorEnabled bool,
	allowedCategories []string,
) *Router {
	return &Router{
		validator:         validator,
		runner:            runner,
		sessions:          sessions,
		resolver:          resolver,
		injector:          injector,
		capturer:          capturer,
		verifier:          verifier,
		cache:             cache,
		audit:             audit,
		logger:            logger,
		validatorEnabled:  validatorEnabled,
		allowedCategories: allowedCategories,
	}
}

// Dispatch routes one request. Unknown skills produce a structured failure,
// never a crash.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	kind, ok := ParseKind(req.Skill)
	if !ok {
		return failure("unknown skill %q", req.Skill)
	}

	resp := r.dispatch(ctx, kind, req.Args)
	if r.logger != nil {
		r.logger.LogSkill(req.Skill, resp.OK, resp.Error)
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, kind Kind, args json.RawMessage) Response {
	switch kind {
	case KindShellRun:
		return r.shellRun(ctx, args)
	case KindBrowserAct:
		return r.browserAct(ctx, args)
	case KindUIFindAndClick:
		return r.findAndClick(ctx, args)
	case KindUIMoveMouse:
		return r.moveMouse(ctx, args)
	case KindUIClick:
		return r.click(ctx, args)
	case KindUITypeText:
		return r.typeText(ctx, args)
	case KindUIWaitFor:
		return r.waitFor(ctx, args)
	case KindUIScreenVerify:
		return r.screenVerify(ctx, args)
	default:
		return failure("skill %v has no handler", kind)
	}
}

// HealthReport summarizes registered skills and policy flags.
func (r *Router) HealthReport() Health {
	sessions := 0
	if r.sessions != nil {
		sessions = r.sessions.Count()
	}
	return Health{
		Skills:            Names(),
		ValidatorEnabled:  r.validatorEnabled,
		AllowedCategories: r.allowedCategories,
		Sessions:          sessions,
		UptimeSeconds:     int64(observability.Uptime().Seconds()),
	}
}

// --- handlers ---

type shellArgs struct {
	Cmd       string            `json:"cmd"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Stdin     string            `json:"stdin,omitempty"`
	// Confirmed acknowledges a requires-confirmation classification.
	Confirmed bool `json:"confirmed,omitempty"`
}

type shellResult struct {
	Classification governance.Classification `json:"classification"`
	Result         *actuator.Result          `json:"result,omitempty"`
}

func (r *Router) shellRun(ctx context.Context, raw json.RawMessage) Response {
	var args shellArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid shell.run args: %v", err)
	}

	command := args.Cmd
	for _, a := range args.Args {
		command += " " + a
	}

	cls := r.validator.Validate(command)
	if r.audit != nil {
		_ = r.audit.RecordValidation(command, cls)
	}
	if !cls.Allowed {
		// A policy rejection is terminal for this action and surfaced
		// verbatim; it is never downgraded or retried.
		return Response{
			OK:    false,
			Data:  shellResult{Classification: cls},
			Error: cls.Reason,
		}
	}
	if cls.RequiresConfirmation && !args.Confirmed {
		return Response{
			OK:    false,
			Data:  shellResult{Classification: cls},
			Error: fmt.Sprintf("category '%s' requires confirmation", cls.Category),
		}
	}

	res := r.runner.Run(ctx, actuator.Request{
		Cmd:       args.Cmd,
		Args:      args.Args,
		Cwd:       args.Cwd,
		Env:       args.Env,
		TimeoutMs: args.TimeoutMs,
		Stdin:     args.Stdin,
	})
	return Response{
		OK:    res.OK,
		Data:  shellResult{Classification: cls, Result: &res},
		Error: res.Error,
	}
}

type browserArgs struct {
	SessionID string `json:"sessionId"`
	session.Action
}

func (r *Router) browserAct(ctx context.Context, raw json.RawMessage) Response {
	var args browserArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid browser.act args: %v", err)
	}
	if args.SessionID == "" {
		args.SessionID = "default"
	}

	out, err := r.sessions.Act(ctx, args.SessionID, args.Action)
	if err != nil {
		return failure("browser action failed: %v", err)
	}
	return Response{OK: true, Data: map[string]string{"result": out}}
}

type findClickArgs struct {
	Label       string `json:"label"`
	WindowTitle string `json:"windowTitle,omitempty"`
	ActiveApp   string `json:"activeApp,omitempty"`
	IntentType  string `json:"intentType,omitempty"`
	Button      string `json:"button,omitempty"`
}

func (r *Router) findAndClick(ctx context.Context, raw json.RawMessage) Response {
	var args findClickArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid ui.findAndClick args: %v", err)
	}
	if args.Label == "" {
		return failure("label is required")
	}

	target, err := r.resolver.Resolve(ctx, args.Label, locator.WindowContext{
		WindowTitle: args.WindowTitle,
		ActiveApp:   args.ActiveApp,
		IntentType:  args.IntentType,
	})
	if err != nil {
		return failure("could not locate %q: %v", args.Label, err)
	}

	if err := r.injector.Click(ctx, target.X, target.Y, args.Button); err != nil {
		return failure("click failed: %v", err)
	}
	return Response{OK: true, Data: target}
}

type pointArgs struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Button string `json:"button,omitempty"`
}

func (r *Router) moveMouse(ctx context.Context, raw json.RawMessage) Response {
	var args pointArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid ui.moveMouse args: %v", err)
	}
	if err := r.injector.MoveMouse(ctx, args.X, args.Y); err != nil {
		return failure("move failed: %v", err)
	}
	return Response{OK: true}
}

func (r *Router) click(ctx context.Context, raw json.RawMessage) Response {
	var args pointArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid ui.click args: %v", err)
	}
	if err := r.injector.Click(ctx, args.X, args.Y, args.Button); err != nil {
		return failure("click failed: %v", err)
	}
	return Response{OK: true}
}

type typeTextArgs struct {
	Text string `json:"text"`
}

func (r *Router) typeText(ctx context.Context, raw json.RawMessage) Response {
	var args typeTextArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid ui.typeText args: %v", err)
	}
	if args.Text == "" {
		return failure("text is required")
	}
	if err := r.injector.TypeText(ctx, args.Text); err != nil {
		return failure("typing failed: %v", err)
	}
	return Response{OK: true}
}

type waitForArgs struct {
	Condition string `json:"condition"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	PollMs    int    `json:"pollMs,omitempty"`
}

// waitFor polls the visual verifier until the condition holds or the timeout
// expires. Polling may serve from the short-lived observation cache; click
// targeting never does.
func (r *Router) waitFor(ctx context.Context, raw json.RawMessage) Response {
	var args waitForArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid ui.waitFor args: %v", err)
	}
	if args.Condition == "" {
		return failure("condition is required")
	}

	timeout := time.Duration(args.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	poll := time.Duration(args.PollMs) * time.Millisecond
	if poll <= 0 {
		poll = time.Second
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		resp := r.observe(ctx, args.Condition)
		if resp != nil && resp.Verified != nil && *resp.Verified {
			return Response{OK: true, Data: resp}
		}

		select {
		case <-ctx.Done():
			return failure("wait canceled: %v", ctx.Err())
		case <-deadline.C:
			return failure("condition %q not met within %s", args.Condition, timeout)
		case <-time.After(poll):
		}
	}
}

func (r *Router) observe(ctx context.Context, condition string) *vision.VerifyResponse {
	if r.cache != nil {
		if resp, ok := r.cache.Get(condition); ok {
			return resp
		}
	}
	snap, err := r.capturer.Capture(ctx)
	if err != nil {
		return nil
	}
	resp := r.verifier.Verify(ctx, snap, condition, "", vision.Context{})
	if r.cache != nil {
		r.cache.Put(condition, resp)
	}
	return resp
}

type screenVerifyArgs struct {
	Prompt          string `json:"prompt"`
	StepDescription string `json:"stepDescription,omitempty"`
}

func (r *Router) screenVerify(ctx context.Context, raw json.RawMessage) Response {
	var args screenVerifyArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return failure("invalid ui.screen.verify args: %v", err)
	}
	if args.Prompt == "" {
		return failure("prompt is required")
	}

	snap, err := r.capturer.Capture(ctx)
	if err != nil {
		return failure("screen capture failed: %v", err)
	}

	resp := r.verifier.Verify(ctx, snap, args.Prompt, args.StepDescription, vision.Context{})
	return Response{OK: true, Data: resp}
}

func failure(format string, args ...any) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}
