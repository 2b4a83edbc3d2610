// Package shell executes raw command lines through the user's shell after
// they have cleared the safety pipeline.
package shell

import (
	"context"
	"fmt"
	"time"

	"github.com/cnc-n3r4/isaac/internal/enforce"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

// DefaultTimeout bounds a shell run when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Adapter runs a command line and reports its outcome.
type Adapter interface {
	Run(ctx context.Context, command string, stdin string) (*envelope.Envelope, error)
}

// Local runs command lines through a local shell binary with enforce limits.
type Local struct {
	// Shell is the shell binary, e.g. /bin/sh or /bin/bash.
	Shell string
	// Dir is the working directory for spawned commands.
	Dir string
	// Limits bounds each run. A zero Timeout falls back to DefaultTimeout.
	Limits enforce.Limits
}

// NewLocal builds a local adapter over the given shell binary.
func NewLocal(shellBin string) *Local {
	if shellBin == "" {
		shellBin = "/bin/sh"
	}
	return &Local{
		Shell:  shellBin,
		Limits: enforce.Limits{Timeout: DefaultTimeout},
	}
}

// Run executes the command line via `shell -c`. Failures of the command
// itself come back as error envelopes, not Go errors; a Go error means the
// shell could not be spawned at all.
func (l *Local) Run(ctx context.Context, command string, stdin string) (*envelope.Envelope, error) {
	limits := l.Limits
	if limits.Timeout == 0 {
		limits.Timeout = DefaultTimeout
	}

	capture, err := enforce.Run(ctx, limits, []string{l.Shell, "-c", command}, stdin, l.Dir)
	if err != nil {
		return nil, fmt.Errorf("spawn shell: %w", err)
	}
	return FromCapture(command, capture), nil
}

// FromCapture converts an enforced capture into the wire envelope shape.
func FromCapture(command string, capture enforce.Capture) *envelope.Envelope {
	if capture.TimedOut {
		return envelope.Errorf(envelope.CodeTimeout, "command timed out after %s", capture.Duration.Round(time.Millisecond)).
			WithHint("raise the timeout or narrow the command")
	}
	if capture.ExitCode != 0 {
		env := envelope.Errorf(envelope.CodeExecutionError, "command exited with status %d", capture.ExitCode)
		if capture.Stderr != "" {
			env = env.WithHint(capture.Stderr)
		}
		return env.WithMeta("exit_code", capture.ExitCode)
	}
	env := envelope.Text(capture.Stdout).
		WithMeta("exit_code", capture.ExitCode).
		WithMeta("duration_ms", capture.Duration.Milliseconds())
	if capture.Truncated {
		env = env.WithMeta("truncated", true)
	}
	return env
}
