package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// waitDelay bounds how long Wait lingers on pipes after the process is killed.
const waitDelay = 2 * time.Second

// Runner starts external commands. It exists so that sources can be tested
// without nvidia-smi installed.
type Runner interface {
	// Output runs a one-shot command to completion and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
	// Stream starts a long-running command. The returned reader yields its
	// stdout; wait reaps the process after the reader is drained. Canceling
	// ctx kills the process.
	Stream(ctx context.Context, name string, args ...string) (stdout io.ReadCloser, wait func() error, err error)
}

// ExecRunner runs commands with os/exec. Stderr of streaming commands is
// discarded.
type ExecRunner struct{}

// Output implements Runner.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Stream implements Runner.
func (ExecRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = waitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe for %s: %w", name, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to spawn %s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout, cmd.Wait, nil
}
