package actuator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"
)

const (
	// maxCapturedBytes caps each of stdout/stderr. Output past the cap is
	// dropped and a truncation marker appended.
	maxCapturedBytes = 1 << 20 // 1MB
	truncationMarker = "\n... (output truncated) ..."

	// killGracePeriod is how long a timed-out process gets between SIGTERM
	// and SIGKILL.
	killGracePeriod = 3 * time.Second
)

// Request describes one child-process invocation. Args is always passed as a
// discrete argv array; no shell string is ever assembled from it.
type Request struct {
	Cmd       string            `json:"cmd"`
	Args      []string          `json:"args,omitempty"`
	Cwd       string            `json:"cwd,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMs int               `json:"timeoutMs,omitempty"`
	Stdin     string            `json:"stdin,omitempty"`
}

// Result is the structured outcome of a Run call. Process-level failures are
// reported here, never as a Go error: Error is set with ExitCode -1 only for
// spawn failures, timeouts, and policy rejections that prevented the run.
type Result struct {
	OK            bool   `json:"ok"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExitCode      int    `json:"exitCode"`
	ExecutionTime int64  `json:"executionTime"`
	Error         string `json:"error,omitempty"`
}

// allowedCommands is the allowlist of safe utility base names.
var allowedCommands = map[string]bool{
	"echo": true, "ls": true, "cat": true, "head": true, "tail": true,
	"grep": true, "find": true, "wc": true, "file": true, "stat": true,
	"pwd": true, "which": true, "uname": true, "sw_vers": true,
	"uptime": true, "whoami": true, "hostname": true, "date": true,
	"df": true, "du": true, "ps": true, "top": true, "sysctl": true,
	"system_profiler": true, "open": true, "xdg-open": true,
	"touch": true, "mkdir": true, "cp": true, "mv": true, "rm": true,
	"ln": true, "tee": true, "curl": true, "wget": true, "ping": true,
	"dig": true, "nslookup": true, "netstat": true, "ifconfig": true,
	"kill": true, "killall": true, "pkill": true, "osascript": true,
	"screencapture": true, "scrot": true, "xdotool": true, "cliclick": true,
	"sh": true, "bash": true, "zsh": true, "python3": true, "node": true,
	"git": true, "defaults": true, "sleep": true,
}

// dangerCommands are additionally gated behind the AllowDangerTools opt-in.
var dangerCommands = map[string]bool{
	"diskutil": true, "hdiutil": true, "fdisk": true,
	"shutdown": true, "reboot": true, "halt": true,
	"pmset": true, "systemsetup": true,
}

// shellInterpreters may receive a script body via -c; the body gets scanned
// instead of the argv elements, since piping and redirection are meaningless
// outside a shell.
var shellInterpreters = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true,
}

var scriptPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(?i)\b(sudo|doas|su)\b`), "privilege escalation in script"},
	{regexp.MustCompile(`(?i)\bdd\b.*\bof=/dev/`), "raw write to a block device"},
	{regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`(?i):\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
}

var scriptRecursiveDelete = regexp.MustCompile(`(?i)\brm\s+(-[a-z]+\s+)*-?[a-z]*[rf][a-z]*\s+(/\S*)`)

// userWritableRoots are path prefixes a script may recursively delete under.
var userWritableRoots = []string{"/Users/", "/home/", "/tmp/", "/private/tmp/", "/var/tmp/"}

// Runner executes vetted commands as child processes.
type Runner struct {
	// AllowDangerTools opts in to the disk/power management utilities.
	AllowDangerTools bool
	// PermittedRoots are the directories a request's cwd must resolve under.
	PermittedRoots []string
}

func NewRunner(allowDangerTools bool) *Runner {
	home, _ := os.UserHomeDir()
	roots := []string{os.TempDir(), "/tmp"}
	if home != "" {
		roots = append([]string{home}, roots...)
	}
	return &Runner{
		AllowDangerTools: allowDangerTools,
		PermittedRoots:   roots,
	}
}

// Run spawns the request as a child process, enforcing the allowlist, cwd
// containment, the wall-clock timeout, and the output cap. It always returns
// a structured Result; the error return is reserved for programmer mistakes
// (nil receiver, empty command).
func (r *Runner) Run(ctx context.Context, req Request) Result {
	start := time.Now()

	base := filepath.Base(req.Cmd)
	if req.Cmd == "" {
		return failed(start, "empty command")
	}
	if !allowedCommands[base] && !dangerCommands[base] {
		return failed(start, fmt.Sprintf("command '%s' is not in the allowlist", base))
	}
	if dangerCommands[base] && !r.AllowDangerTools {
		return failed(start, fmt.Sprintf("command '%s' requires the danger-tools opt-in", base))
	}

	if shellInterpreters[base] {
		if reason := scanScript(scriptBody(req.Args)); reason != "" {
			return failed(start, "dangerous script: "+reason)
		}
	}

	if req.Cwd != "" {
		ok, err := r.cwdPermitted(req.Cwd)
		if err != nil {
			return failed(start, fmt.Sprintf("invalid cwd: %v", err))
		}
		if !ok {
			return failed(start, fmt.Sprintf("cwd '%s' escapes permitted roots", req.Cwd))
		}
	}

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cmd := exec.Command(req.Cmd, req.Args...)
	cmd.Dir = req.Cwd
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	stdout := newCappedBuffer(maxCapturedBytes)
	stderr := newCappedBuffer(maxCapturedBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return failed(start, fmt.Sprintf("spawn failed: %v", err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	timedOut := false

	select {
	case waitErr = <-done:
	case <-ctx.Done():
		timedOut = true
		terminate(cmd, done)
	case <-timer.C:
		timedOut = true
		terminate(cmd, done)
	}

	res := Result{
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		ExecutionTime: time.Since(start).Milliseconds(),
	}

	if timedOut {
		res.OK = false
		res.ExitCode = -1
		res.Error = fmt.Sprintf("command timed out after %s", timeout)
		return res
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			res.Error = waitErr.Error()
			return res
		}
		res.ExitCode = -1
		res.Error = waitErr.Error()
		return res
	}

	res.OK = true
	res.ExitCode = 0
	return res
}

// terminate sends SIGTERM, waits out the grace period, then SIGKILLs.
func terminate(cmd *exec.Cmd, done chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(killGracePeriod):
		_ = cmd.Process.Kill()
		<-done
	}
}

func (r *Runner) cwdPermitted(cwd string) (bool, error) {
	abs, err := filepath.Abs(cwd)
	if err != nil {
		return false, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return false, err
	}
	for _, root := range r.PermittedRoots {
		rootResolved, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootResolved, resolved)
		if err != nil {
			continue
		}
		if rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)) {
			return true, nil
		}
	}
	return false, nil
}

// scriptBody extracts the script passed to a shell interpreter's -c flag,
// falling back to joining all args.
func scriptBody(args []string) string {
	for i, a := range args {
		if a == "-c" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return strings.Join(args, " ")
}

// scanScript checks a shell script body against the narrower
// dangerous-script table. Returns the reason of the first hit, or "".
func scanScript(script string) string {
	for _, p := range scriptPatterns {
		if p.re.MatchString(script) {
			return p.reason
		}
	}
	for _, m := range scriptRecursiveDelete.FindAllStringSubmatch(script, -1) {
		target := m[len(m)-1]
		if !underUserRoot(target) {
			return "recursive delete outside user-writable roots"
		}
	}
	return ""
}

func underUserRoot(path string) bool {
	for _, root := range userWritableRoots {
		if strings.HasPrefix(path, root) {
			return true
		}
	}
	return false
}

func failed(start time.Time, msg string) Result {
	return Result{
		OK:            false,
		ExitCode:      -1,
		Error:         msg,
		ExecutionTime: time.Since(start).Milliseconds(),
	}
}

// cappedBuffer is a bytes.Buffer that stops growing at cap and appends the
// truncation marker exactly once.
type cappedBuffer struct {
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func newCappedBuffer(cap int) *cappedBuffer {
	return &cappedBuffer{cap: cap}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.truncated {
		return len(p), nil
	}
	remaining := b.cap - b.buf.Len()
	if len(p) <= remaining {
		return b.buf.Write(p)
	}
	b.buf.Write(p[:remaining])
	b.buf.WriteString(truncationMarker)
	b.truncated = true
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
