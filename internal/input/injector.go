package input

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Injector drives the OS input layer. Coordinates are logical (unscaled)
// display pixels, as the injection utilities expect.
type Injector interface {
	MoveMouse(ctx context.Context, x, y int) error
	Click(ctx context.Context, x, y int, button string) error
	TypeText(ctx context.Context, text string) error
	KeyPress(ctx context.Context, combo string) error
}

// New returns the injector for the current platform: cliclick on macOS,
// xdotool elsewhere.
func New() Injector {
	if runtime.GOOS == "darwin" {
		return &CliclickInjector{}
	}
	return &XdotoolInjector{}
}

// XdotoolInjector shells out to xdotool for X11 desktops.
type XdotoolInjector struct{}

func (i *XdotoolInjector) MoveMouse(ctx context.Context, x, y int) error {
	return runTool(ctx, "xdotool", "mousemove", strconv.Itoa(x), strconv.Itoa(y))
}

func (i *XdotoolInjector) Click(ctx context.Context, x, y int, button string) error {
	if button == "" {
		button = "1"
	}
	if err := i.MoveMouse(ctx, x, y); err != nil {
		return err
	}
	return runTool(ctx, "xdotool", "click", button)
}

func (i *XdotoolInjector) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("text is required")
	}
	return runTool(ctx, "xdotool", "type", "--delay", "12", text)
}

func (i *XdotoolInjector) KeyPress(ctx context.Context, combo string) error {
	if combo == "" {
		return fmt.Errorf("key is required")
	}
	return runTool(ctx, "xdotool", "key", combo)
}

// CliclickInjector shells out to cliclick on macOS.
type CliclickInjector struct{}

func (i *CliclickInjector) MoveMouse(ctx context.Context, x, y int) error {
	return runTool(ctx, "cliclick", fmt.Sprintf("m:%d,%d", x, y))
}

func (i *CliclickInjector) Click(ctx context.Context, x, y int, button string) error {
	op := "c"
	if button == "3" || button == "right" {
		op = "rc"
	}
	return runTool(ctx, "cliclick", fmt.Sprintf("%s:%d,%d", op, x, y))
}

func (i *CliclickInjector) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return fmt.Errorf("text is required")
	}
	return runTool(ctx, "cliclick", "t:"+text)
}

func (i *CliclickInjector) KeyPress(ctx context.Context, combo string) error {
	if combo == "" {
		return fmt.Errorf("key is required")
	}
	// cliclick presses single keys; combos fall back to an AppleScript
	// keystroke so shortcuts like "cmd+s" work.
	if strings.Contains(combo, "+") {
		return keystrokeAppleScript(ctx, combo)
	}
	return runTool(ctx, "cliclick", "kp:"+combo)
}

func keystrokeAppleScript(ctx context.Context, combo string) error {
	parts := strings.Split(combo, "+")
	key := parts[len(parts)-1]
	var mods []string
	for _, m := range parts[:len(parts)-1] {
		switch strings.ToLower(m) {
		case "cmd", "command":
			mods = append(mods, "command down")
		case "shift":
			mods = append(mods, "shift down")
		case "alt", "option":
			mods = append(mods, "option down")
		case "ctrl", "control":
			mods = append(mods, "control down")
		}
	}
	script := fmt.Sprintf(`tell application "System Events" to keystroke %q`, key)
	if len(mods) > 0 {
		script += " using {" + strings.Join(mods, ", ") + "}"
	}
	return runTool(ctx, "osascript", "-e", script)
}

func runTool(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return fmt.Errorf("%s is not installed", name)
		}
		return fmt.Errorf("%s failed: %v (%s)", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}
