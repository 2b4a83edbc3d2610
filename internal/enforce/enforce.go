// Package enforce runs subprocesses under manifest-declared resource limits:
// wall-clock timeout, output capture cap, and an optional binary allow-list.
package enforce

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cnc-n3r4/isaac/internal/manifest"
)

// Limits bounds one subprocess run.
type Limits struct {
	// Timeout is the wall-clock limit. Zero means no timeout.
	Timeout time.Duration
	// MaxOutputBytes caps captured stdout and stderr, each. Zero means
	// unbounded capture.
	MaxOutputBytes int
	// AllowedBinaries, when non-empty, restricts which executables may be
	// spawned. Matching is by base name or full path.
	AllowedBinaries []string
}

// FromManifest derives limits from a plugin manifest.
func FromManifest(m *manifest.Manifest) Limits {
	return Limits{
		Timeout:         m.Timeout(),
		MaxOutputBytes:  m.MaxOutputBytes(),
		AllowedBinaries: m.Security.AllowedBinaries,
	}
}

// Capture is the outcome of an enforced run.
type Capture struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	TimedOut  bool
	Duration  time.Duration
}

// Validation errors for executable values.
var (
	ErrEmptyBinary     = errors.New("binary value is empty")
	ErrUnsafeBinary    = errors.New("binary value contains unsafe characters")
	ErrBinaryNotListed = errors.New("binary not in allow-list")
)

var (
	shellMetachars = regexp.MustCompile("[;&|`$<>\"']")
	controlChars   = regexp.MustCompile(`[\r\n\x00]`)
	bareName       = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
)

// CheckBinary validates an executable value against the limits. Values with
// shell metacharacters, control characters, or option-injection dashes are
// always rejected; with a non-empty allow-list the binary must also appear
// in it.
func (l Limits) CheckBinary(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ErrEmptyBinary
	}
	if controlChars.MatchString(trimmed) || shellMetachars.MatchString(trimmed) {
		return ErrUnsafeBinary
	}
	isPath := strings.ContainsAny(trimmed, "/\\") || strings.HasPrefix(trimmed, ".") || strings.HasPrefix(trimmed, "~")
	if !isPath {
		if strings.HasPrefix(trimmed, "-") {
			return ErrUnsafeBinary
		}
		if !bareName.MatchString(trimmed) {
			return ErrUnsafeBinary
		}
	}
	if len(l.AllowedBinaries) == 0 {
		return nil
	}
	base := filepath.Base(trimmed)
	for _, allowed := range l.AllowedBinaries {
		if trimmed == allowed || base == filepath.Base(allowed) {
			return nil
		}
	}
	return ErrBinaryNotListed
}

// Run executes argv under the limits. The first argv element is validated
// with CheckBinary. A run that exceeds the timeout is killed and reported
// with TimedOut set; output past MaxOutputBytes is dropped and reported
// with Truncated set. A non-zero exit is not an error, it is a Capture.
func Run(ctx context.Context, limits Limits, argv []string, stdin string, dir string) (Capture, error) {
	if len(argv) == 0 {
		return Capture{}, ErrEmptyBinary
	}
	if err := limits.CheckBinary(argv[0]); err != nil {
		return Capture{}, err
	}

	if limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = os.Environ()

	stdout := newLimitedBuffer(limits.MaxOutputBytes)
	stderr := newLimitedBuffer(limits.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	capture := Capture{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  elapsed,
	}

	if ctx.Err() == context.DeadlineExceeded {
		capture.TimedOut = true
		capture.ExitCode = -1
		return capture, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			capture.ExitCode = exitErr.ExitCode()
			return capture, nil
		}
		// Spawn failure: binary missing, permission denied, and the like.
		return capture, err
	}
	return capture, nil
}

// limitedBuffer captures writes up to max bytes and drops the rest. Writes
// always report full success so the child process never sees a pipe error.
type limitedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if b.max > 0 && len(p) > b.max-len(b.buf) {
		b.buf = append(b.buf, p[:b.max-len(b.buf)]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *limitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
