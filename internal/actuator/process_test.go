package actuator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Echo(t *testing.T) {
	r := NewRunner(false)

	res := r.Run(context.Background(), Request{Cmd: "echo", Args: []string{"hello"}})
	require.True(t, res.OK, "error: %s", res.Error)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestRun_AllowlistRejection(t *testing.T) {
	r := NewRunner(false)

	res := r.Run(context.Background(), Request{Cmd: "/usr/bin/nmap", Args: []string{"-sS", "target"}})
	assert.False(t, res.OK)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Error, "not in the allowlist")
}

func TestRun_DangerToolGate(t *testing.T) {
	r := NewRunner(false)
	res := r.Run(context.Background(), Request{Cmd: "diskutil", Args: []string{"list"}})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "danger-tools opt-in")
}

func TestRun_ScriptScan(t *testing.T) {
	r := NewRunner(false)

	cases := map[string]string{
		"sudo rm x":          "privilege escalation",
		"dd if=a of=/dev/sd": "block device",
		"rm -rf /usr/local":  "recursive delete outside user-writable roots",
	}
	for script, wantReason := range cases {
		res := r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", script}})
		assert.False(t, res.OK, "script %q", script)
		assert.Contains(t, res.Error, wantReason, "script %q", script)
	}

	// Piping inside a script is legal; it only has meaning under a shell.
	res := r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "echo hi | tr a-z A-Z"}})
	require.True(t, res.OK, "error: %s", res.Error)
	assert.Equal(t, "HI\n", res.Stdout)

	// Recursive delete under a user-writable root is allowed through the
	// scan (the path may not exist; non-zero exit is fine).
	res = r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "rm -rf /tmp/agentd-test-scratch"}})
	assert.NotContains(t, res.Error, "recursive delete")
}

func TestRun_CwdContainment(t *testing.T) {
	r := NewRunner(false)

	res := r.Run(context.Background(), Request{Cmd: "pwd", Cwd: "/etc"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "escapes permitted roots")

	res = r.Run(context.Background(), Request{Cmd: "pwd", Cwd: t.TempDir()})
	assert.True(t, res.OK, "error: %s", res.Error)
}

func TestRun_Timeout(t *testing.T) {
	r := NewRunner(false)

	res := r.Run(context.Background(), Request{
		Cmd:       "sh",
		Args:      []string{"-c", "echo before; sleep 30"},
		TimeoutMs: 300,
	})
	assert.False(t, res.OK)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Error, "timed out")
	// Output captured before the timeout is preserved.
	assert.Contains(t, res.Stdout, "before")
}

func TestRun_NonZeroExit(t *testing.T) {
	r := NewRunner(false)

	res := r.Run(context.Background(), Request{Cmd: "sh", Args: []string{"-c", "exit 3"}})
	assert.False(t, res.OK)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRun_OutputCap(t *testing.T) {
	r := NewRunner(false)

	// Emit ~2MB; the buffer caps at 1MB plus the marker.
	res := r.Run(context.Background(), Request{
		Cmd:  "sh",
		Args: []string{"-c", "yes x | head -c 2097152"},
	})
	assert.LessOrEqual(t, len(res.Stdout), maxCapturedBytes+len(truncationMarker))
	assert.True(t, strings.HasSuffix(res.Stdout, truncationMarker))
}

func TestRun_Stdin(t *testing.T) {
	r := NewRunner(false)

	res := r.Run(context.Background(), Request{Cmd: "cat", Stdin: "piped input"})
	require.True(t, res.OK, "error: %s", res.Error)
	assert.Equal(t, "piped input", res.Stdout)
}
