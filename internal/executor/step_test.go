package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
	"github.com/lukaizhi5559/command-service-sub000/internal/vision"
)

// --- fakes ---

type fakePerformer struct {
	errs  []error // consumed per call; nil past the end
	calls int
	delay time.Duration
}

func (f *fakePerformer) Perform(ctx context.Context, action StepAction) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.calls++
	if f.calls-1 < len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

type fakeCapturer struct {
	err error
}

func (f *fakeCapturer) Capture(ctx context.Context) (*display.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &display.Snapshot{Width: 1280, Height: 800, ResizeRatio: 1, PixelScale: 1}, nil
}

type fakeVerifier struct {
	verified   *bool
	confidence float64
}

func (f *fakeVerifier) Verify(ctx context.Context, snap *display.Snapshot, prompt, stepDescription string, hints vision.Context) *vision.VerifyResponse {
	return &vision.VerifyResponse{Success: true, Verified: f.verified, Confidence: f.confidence}
}

type resolveOutcome struct {
	target *locator.Target
	err    error
}

type fakeResolver struct {
	outcomes []resolveOutcome // consumed per call; found past the end
	labels   []string
}

func (f *fakeResolver) Resolve(ctx context.Context, label string, win locator.WindowContext) (*locator.Target, error) {
	f.labels = append(f.labels, label)
	i := len(f.labels) - 1
	if i < len(f.outcomes) {
		return f.outcomes[i].target, f.outcomes[i].err
	}
	return &locator.Target{X: 100, Y: 100, Confidence: 0.9}, nil
}

type fakeInjector struct {
	keys   []string
	clicks int
}

func (f *fakeInjector) MoveMouse(ctx context.Context, x, y int) error { return nil }
func (f *fakeInjector) Click(ctx context.Context, x, y int, button string) error {
	f.clicks++
	return nil
}
func (f *fakeInjector) TypeText(ctx context.Context, text string) error { return nil }
func (f *fakeInjector) KeyPress(ctx context.Context, combo string) error {
	f.keys = append(f.keys, combo)
	return nil
}

func newTestExecutor(p *fakePerformer, r *fakeResolver, v *fakeVerifier, c *fakeCapturer, inj *fakeInjector) *StepExecutor {
	if r == nil {
		r = &fakeResolver{}
	}
	if v == nil {
		v = &fakeVerifier{}
	}
	if c == nil {
		c = &fakeCapturer{}
	}
	if inj == nil {
		inj = &fakeInjector{}
	}
	return NewStepExecutor(p, c, v, r, inj, 2, time.Millisecond, nil)
}

// --- tests ---

func TestExecuteStep_FirstAttemptSuccess(t *testing.T) {
	e := newTestExecutor(&fakePerformer{}, nil, nil, nil, nil)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:           "s1",
		Action:       StepAction{Type: ActionKeyPress, Key: "Return"},
		Verification: VerifyNone,
	}, 0)

	assert.Equal(t, StepSuccess, res.Status)
	assert.Equal(t, 0, res.Retries)
	assert.Empty(t, res.Method, "a clean first attempt never reports a method")
}

func TestExecuteStep_VerifiedFirstAttemptIsNeverSuccessRetry(t *testing.T) {
	r := &fakeResolver{} // every resolve finds the element
	e := newTestExecutor(&fakePerformer{}, r, nil, nil, nil)

	step := Step{
		ID:                  "s1",
		Action:              StepAction{Type: ActionFindClick, TargetLabel: "Save"},
		Verification:        VerifyElementVisible,
		VerificationContext: "Saved dialog",
	}

	// Running the same already-passing step twice is idempotent.
	for i := 0; i < 2; i++ {
		res := e.ExecuteStep(context.Background(), "p1", step, 3)
		assert.Equal(t, StepSuccess, res.Status)
		assert.Equal(t, 0, res.Retries)
	}
}

func TestExecuteStep_AlternativeLabelRecovers(t *testing.T) {
	r := &fakeResolver{outcomes: []resolveOutcome{
		{err: locator.ErrNotFound}, // verification after primary attempt
		{target: &locator.Target{X: 10, Y: 20, Confidence: 0.8}}, // alternative label lookup
		// subsequent verification resolves fine (default outcome)
	}}
	inj := &fakeInjector{}
	e := newTestExecutor(&fakePerformer{}, r, nil, nil, inj)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:                  "s1",
		Action:              StepAction{Type: ActionFindClick, TargetLabel: "OK"},
		Verification:        VerifyElementVisible,
		VerificationContext: "confirmation banner",
		AlternativeLabel:    "Confirm",
	}, 3)

	assert.Equal(t, StepSuccessRetry, res.Status)
	assert.Equal(t, "alternative_label", res.Method)
	assert.GreaterOrEqual(t, res.Retries, 1, "success_retry implies at least one retry")
	assert.Equal(t, 1, inj.clicks)
	assert.Equal(t, "Confirm", r.labels[1])
}

func TestExecuteStep_KeyboardShortcutFallback(t *testing.T) {
	// Verification keeps failing until the shortcut strategy runs.
	r := &fakeResolver{outcomes: []resolveOutcome{
		{err: locator.ErrNotFound}, // verify after primary
	}}
	inj := &fakeInjector{}
	e := newTestExecutor(&fakePerformer{}, r, nil, nil, inj)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:                  "s1",
		Action:              StepAction{Type: ActionKeyPress, Key: "Return"},
		Verification:        VerifyElementVisible,
		VerificationContext: "save sheet",
		KeyboardShortcut:    "cmd+s",
	}, 2)

	assert.Equal(t, StepSuccessRetry, res.Status)
	assert.Equal(t, "keyboard_shortcut", res.Method)
	assert.Contains(t, inj.keys, "cmd+s")
}

func TestExecuteStep_FocusNudgeForTextEntry(t *testing.T) {
	r := &fakeResolver{outcomes: []resolveOutcome{
		{err: locator.ErrNotFound}, // verify after primary typing
	}}
	inj := &fakeInjector{}
	p := &fakePerformer{}
	e := newTestExecutor(p, r, nil, nil, inj)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:                  "s1",
		Action:              StepAction{Type: ActionTypeText, Text: "hello"},
		Verification:        VerifyElementVisible,
		VerificationContext: "hello in the field",
	}, 2)

	assert.Equal(t, StepSuccessRetry, res.Status)
	assert.Equal(t, "focus_nudge", res.Method)
	assert.Contains(t, inj.keys, "Tab")
	assert.Equal(t, 2, p.calls, "focus nudge re-performs the typing action")
}

func TestExecuteStep_ExhaustsRetries(t *testing.T) {
	// Element never appears.
	r := &fakeResolver{outcomes: []resolveOutcome{
		{err: locator.ErrNotFound}, {err: locator.ErrNotFound},
		{err: locator.ErrNotFound}, {err: locator.ErrNotFound},
	}}
	e := newTestExecutor(&fakePerformer{}, r, nil, nil, nil)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:                  "s1",
		Action:              StepAction{Type: ActionFindClick, TargetLabel: "ghost"},
		Verification:        VerifyElementVisible,
		VerificationContext: "ghost",
	}, 2)

	assert.Equal(t, StepFailed, res.Status)
	assert.Equal(t, 2, res.Retries, "retries equals execution attempts minus one")
}

func TestExecuteStep_FatalFailureIsNeverRetried(t *testing.T) {
	p := &fakePerformer{errs: []error{
		NewFailure(PolicyRejection, "blocked: rm -rf /"),
	}}
	e := newTestExecutor(p, nil, nil, nil, nil)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:     "s1",
		Action: StepAction{Type: ActionShell, Command: "rm -rf /"},
	}, 5)

	assert.Equal(t, StepFailed, res.Status)
	assert.Equal(t, 0, res.Retries)
	assert.Equal(t, 1, p.calls)
}

func TestExecuteStep_RetryableExecutionFailure(t *testing.T) {
	p := &fakePerformer{errs: []error{
		NewFailure(ExecutionFailure, "exit status 1"),
	}}
	e := newTestExecutor(p, nil, nil, nil, nil)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:           "s1",
		Action:       StepAction{Type: ActionShell, Command: "flaky"},
		Verification: VerifyNone,
	}, 2)

	assert.Equal(t, StepSuccessRetry, res.Status)
	assert.Equal(t, 1, res.Retries)
}

func TestExecuteStep_CaptureOutageDefaultsToPass(t *testing.T) {
	// Snapshot failures mean "cannot verify", not "failed": the detector
	// may be transiently down and verification is advisory.
	c := &fakeCapturer{err: errors.New("no display")}
	v := &fakeVerifier{}
	e := newTestExecutor(&fakePerformer{}, nil, v, c, nil)

	res := e.ExecuteStep(context.Background(), "p1", Step{
		ID:           "s1",
		Action:       StepAction{Type: ActionKeyPress, Key: "Return"},
		Verification: VerifyCustom,
	}, 2)

	assert.Equal(t, StepSuccess, res.Status)
	assert.Equal(t, 0, res.Retries)
}

func TestEvalCheckExpr(t *testing.T) {
	env := map[string]any{"verified": true, "confidence": 0.9, "reasoning": ""}

	assert.Equal(t, verdictPass, evalCheckExpr("verified && confidence > 0.8", env))
	assert.Equal(t, verdictFail, evalCheckExpr("confidence > 0.95", env))
	// Malformed expressions degrade to inconclusive, not failure.
	assert.Equal(t, verdictInconclusive, evalCheckExpr("verified &&", env))
}
