package skills

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaizhi5559/command-service-sub000/internal/actuator"
	"github.com/lukaizhi5559/command-service-sub000/internal/display"
	"github.com/lukaizhi5559/command-service-sub000/internal/governance"
	"github.com/lukaizhi5559/command-service-sub000/internal/locator"
	"github.com/lukaizhi5559/command-service-sub000/internal/vision"
	"github.com/lukaizhi5559/command-service-sub000/pkg/config"
)

// --- fakes ---

type fakeResolver struct {
	target *locator.Target
	err    error
	labels []string
}

func (f *fakeResolver) Resolve(ctx context.Context, label string, win locator.WindowContext) (*locator.Target, error) {
	f.labels = append(f.labels, label)
	if f.err != nil {
		return nil, f.err
	}
	if f.target != nil {
		return f.target, nil
	}
	return &locator.Target{X: 50, Y: 60, Confidence: 0.9}, nil
}

type fakeInjector struct {
	moves  int
	clicks int
	typed  []string
	keys   []string
	err    error
}

func (f *fakeInjector) MoveMouse(ctx context.Context, x, y int) error {
	f.moves++
	return f.err
}

func (f *fakeInjector) Click(ctx context.Context, x, y int, button string) error {
	f.clicks++
	return f.err
}

func (f *fakeInjector) TypeText(ctx context.Context, text string) error {
	f.typed = append(f.typed, text)
	return f.err
}

func (f *fakeInjector) KeyPress(ctx context.Context, combo string) error {
	f.keys = append(f.keys, combo)
	return f.err
}

type fakeCapturer struct {
	err      error
	captures int
}

func (f *fakeCapturer) Capture(ctx context.Context) (*display.Snapshot, error) {
	f.captures++
	if f.err != nil {
		return nil, f.err
	}
	return &display.Snapshot{Width: 1280, Height: 800, ResizeRatio: 1, PixelScale: 1}, nil
}

type fakeVerifier struct {
	verdicts []*bool // consumed per call; last value repeats
	calls    int
}

func (f *fakeVerifier) Verify(ctx context.Context, snap *display.Snapshot, prompt, stepDescription string, hints vision.Context) *vision.VerifyResponse {
	f.calls++
	var v *bool
	if len(f.verdicts) > 0 {
		i := f.calls - 1
		if i >= len(f.verdicts) {
			i = len(f.verdicts) - 1
		}
		v = f.verdicts[i]
	}
	return &vision.VerifyResponse{Success: true, Verified: v, Confidence: 0.9}
}

func boolPtr(v bool) *bool { return &v }

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		ValidationEnabled: true,
		AllowedCategories: []string{"open_app", "system_info", "file_read", "file_write", "network", "process_control"},
	}
}

func newTestRouter(resolver *fakeResolver, injector *fakeInjector, capturer *fakeCapturer, verifier *fakeVerifier) *Router {
	if resolver == nil {
		resolver = &fakeResolver{}
	}
	if injector == nil {
		injector = &fakeInjector{}
	}
	if capturer == nil {
		capturer = &fakeCapturer{}
	}
	if verifier == nil {
		verifier = &fakeVerifier{verdicts: []*bool{boolPtr(true)}}
	}
	cfg := testSecurity()
	validator := governance.NewValidator(cfg, nil)
	runner := actuator.NewRunner(false)
	return NewRouter(validator, runner, nil, resolver, injector, capturer, verifier,
		vision.NewObservationCache(time.Second), nil, nil, cfg.ValidationEnabled, cfg.AllowedCategories)
}

func dispatch(t *testing.T, r *Router, skill string, args any) Response {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return r.Dispatch(context.Background(), Request{Skill: skill, Args: raw})
}

// --- tests ---

func TestDispatch_UnknownSkill(t *testing.T) {
	r := newTestRouter(nil, nil, nil, nil)

	resp := r.Dispatch(context.Background(), Request{Skill: "ui.teleport", Args: json.RawMessage(`{}`)})

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown skill")
	assert.Contains(t, resp.Error, "ui.teleport")
}

func TestDispatch_ShellRunBlockedCommand(t *testing.T) {
	r := newTestRouter(nil, nil, nil, nil)

	resp := dispatch(t, r, "shell.run", shellArgs{Cmd: "rm", Args: []string{"-rf", "/"}})

	require.False(t, resp.OK)
	data, ok := resp.Data.(shellResult)
	require.True(t, ok)
	assert.False(t, data.Classification.Allowed)
	assert.Equal(t, governance.RiskCritical, data.Classification.RiskLevel)
	assert.Nil(t, data.Result, "a rejected command never reaches the process actuator")
	assert.Equal(t, data.Classification.Reason, resp.Error, "the rejection reason is surfaced verbatim")
}

func TestDispatch_ShellRunRequiresConfirmation(t *testing.T) {
	r := newTestRouter(nil, nil, nil, nil)

	// file_write requires confirmation.
	resp := dispatch(t, r, "shell.run", shellArgs{Cmd: "touch", Args: []string{"notes.txt"}})
	require.False(t, resp.OK)
	assert.Contains(t, resp.Error, "requires confirmation")

	confirmed := dispatch(t, r, "shell.run", shellArgs{
		Cmd: "touch", Args: []string{"notes.txt"}, Cwd: t.TempDir(), Confirmed: true,
	})
	data, ok := confirmed.Data.(shellResult)
	require.True(t, ok)
	assert.True(t, data.Classification.Allowed)
	require.NotNil(t, data.Result, "the confirmed command runs")
}

func TestDispatch_ShellRunSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix tools")
	}
	r := newTestRouter(nil, nil, nil, nil)

	resp := dispatch(t, r, "shell.run", shellArgs{Cmd: "pwd"})

	require.True(t, resp.OK)
	data, ok := resp.Data.(shellResult)
	require.True(t, ok)
	assert.Equal(t, governance.CategoryFileRead, data.Classification.Category)
	require.NotNil(t, data.Result)
	assert.NotEmpty(t, data.Result.Stdout)
	assert.Equal(t, 0, data.Result.ExitCode)
}

func TestDispatch_FindAndClick(t *testing.T) {
	resolver := &fakeResolver{target: &locator.Target{X: 120, Y: 240, Confidence: 0.85}}
	injector := &fakeInjector{}
	r := newTestRouter(resolver, injector, nil, nil)

	resp := dispatch(t, r, "ui.findAndClick", findClickArgs{Label: "Save"})

	require.True(t, resp.OK)
	assert.Equal(t, 1, injector.clicks)
	assert.Equal(t, []string{"Save"}, resolver.labels)
}

func TestDispatch_FindAndClickNotFound(t *testing.T) {
	resolver := &fakeResolver{err: locator.ErrNotFound}
	injector := &fakeInjector{}
	r := newTestRouter(resolver, injector, nil, nil)

	resp := dispatch(t, r, "ui.findAndClick", findClickArgs{Label: "ghost"})

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "ghost")
	assert.Equal(t, 0, injector.clicks, "no click without a resolved target")
}

func TestDispatch_FindAndClickRequiresLabel(t *testing.T) {
	r := newTestRouter(nil, nil, nil, nil)

	resp := dispatch(t, r, "ui.findAndClick", findClickArgs{})

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "label is required")
}

func TestDispatch_MouseAndKeyboard(t *testing.T) {
	injector := &fakeInjector{}
	r := newTestRouter(nil, injector, nil, nil)

	assert.True(t, dispatch(t, r, "ui.moveMouse", pointArgs{X: 10, Y: 20}).OK)
	assert.True(t, dispatch(t, r, "ui.click", pointArgs{X: 10, Y: 20, Button: "right"}).OK)
	assert.True(t, dispatch(t, r, "ui.typeText", typeTextArgs{Text: "hello"}).OK)

	assert.Equal(t, 1, injector.moves)
	assert.Equal(t, 1, injector.clicks)
	assert.Equal(t, []string{"hello"}, injector.typed)

	resp := dispatch(t, r, "ui.typeText", typeTextArgs{})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "text is required")
}

func TestDispatch_ScreenVerify(t *testing.T) {
	verifier := &fakeVerifier{verdicts: []*bool{boolPtr(true)}}
	r := newTestRouter(nil, nil, nil, verifier)

	resp := dispatch(t, r, "ui.screen.verify", screenVerifyArgs{Prompt: "the save dialog is open"})

	require.True(t, resp.OK)
	out, ok := resp.Data.(*vision.VerifyResponse)
	require.True(t, ok)
	require.NotNil(t, out.Verified)
	assert.True(t, *out.Verified)
}

func TestDispatch_ScreenVerifyCaptureFailure(t *testing.T) {
	capturer := &fakeCapturer{err: errors.New("no display")}
	r := newTestRouter(nil, nil, capturer, nil)

	resp := dispatch(t, r, "ui.screen.verify", screenVerifyArgs{Prompt: "anything"})

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "screen capture failed")
}

func TestDispatch_WaitForEventuallyMet(t *testing.T) {
	// First poll says no, second says yes.
	verifier := &fakeVerifier{verdicts: []*bool{boolPtr(false), boolPtr(true)}}
	capturer := &fakeCapturer{}
	r := newTestRouter(nil, nil, capturer, verifier)
	r.cache = vision.NewObservationCache(time.Millisecond)

	resp := dispatch(t, r, "ui.waitFor", waitForArgs{
		Condition: "the download finished",
		TimeoutMs: 2000,
		PollMs:    10,
	})

	require.True(t, resp.OK)
	assert.GreaterOrEqual(t, verifier.calls, 2)
}

func TestDispatch_WaitForTimesOut(t *testing.T) {
	verifier := &fakeVerifier{verdicts: []*bool{boolPtr(false)}}
	r := newTestRouter(nil, nil, nil, verifier)
	r.cache = vision.NewObservationCache(time.Millisecond)

	resp := dispatch(t, r, "ui.waitFor", waitForArgs{
		Condition: "a window that never appears",
		TimeoutMs: 40,
		PollMs:    10,
	})

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "not met within")
}

func TestDispatch_WaitForServesFromCache(t *testing.T) {
	verifier := &fakeVerifier{verdicts: []*bool{boolPtr(true)}}
	capturer := &fakeCapturer{}
	r := newTestRouter(nil, nil, capturer, verifier)

	// Warm the cache, then ask again: the second wait needs no capture.
	require.True(t, dispatch(t, r, "ui.waitFor", waitForArgs{Condition: "c", TimeoutMs: 500}).OK)
	captures := capturer.captures
	require.True(t, dispatch(t, r, "ui.waitFor", waitForArgs{Condition: "c", TimeoutMs: 500}).OK)

	assert.Equal(t, captures, capturer.captures)
	assert.Equal(t, 1, verifier.calls)
}

func TestHealthReport(t *testing.T) {
	r := newTestRouter(nil, nil, nil, nil)

	h := r.HealthReport()

	assert.Equal(t, Names(), h.Skills)
	assert.True(t, h.ValidatorEnabled)
	assert.Contains(t, h.AllowedCategories, "open_app")
	assert.Equal(t, 0, h.Sessions)
	assert.GreaterOrEqual(t, h.UptimeSeconds, int64(0))
}

func TestParseKind(t *testing.T) {
	for _, name := range Names() {
		k, ok := ParseKind(name)
		require.True(t, ok, name)
		assert.Equal(t, name, k.String())
	}

	_, ok := ParseKind("shell.exec")
	assert.False(t, ok)
}
