// Package dispatch routes meta commands to their plugin handlers. The
// dispatcher resolves the trigger against the manifest registry, binds and
// validates arguments, then spawns the handler under enforced limits with a
// JSON payload on stdin and a single JSON envelope expected on stdout.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cnc-n3r4/isaac/internal/enforce"
	"github.com/cnc-n3r4/isaac/internal/manifest"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

// Resolver is the registry surface the dispatcher needs.
type Resolver interface {
	Resolve(trigger string) (*manifest.Manifest, bool)
}

// Session carries per-invocation context handed to handlers.
type Session struct {
	ID         string `json:"id"`
	WorkingDir string `json:"working_dir,omitempty"`
	Device     string `json:"device,omitempty"`
}

// payload is the JSON document written to a handler's stdin.
type payload struct {
	Args    map[string]any `json:"args"`
	Session Session        `json:"session"`
	Stdin   *envelope.Blob `json:"stdin,omitempty"`
}

// Dispatcher executes meta commands against the plugin catalog.
type Dispatcher struct {
	registry Resolver
	logger   *slog.Logger
}

// New builds a dispatcher over a manifest resolver.
func New(registry Resolver, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Dispatch runs one meta command line, e.g. "/weather --location Paris".
// Pipeline input, if any, arrives as a blob. Every failure mode is an
// error envelope; a Go error is never returned to keep the pipe engine's
// short-circuit logic uniform.
func (d *Dispatcher) Dispatch(ctx context.Context, line string, input *envelope.Blob, session Session) *envelope.Envelope {
	tokens, err := SplitArgs(strings.TrimSpace(line))
	if err != nil {
		return envelope.Errorf(envelope.CodeParseError, "cannot parse command: %v", err)
	}
	if len(tokens) == 0 {
		return envelope.Errorf(envelope.CodeUnknownCommand, "empty command")
	}

	trigger := strings.ToLower(tokens[0])
	m, ok := d.registry.Resolve(trigger)
	if !ok {
		return envelope.Errorf(envelope.CodeUnknownCommand, "no plugin registered for %s", trigger).
			WithHint("run /help to list available commands")
	}

	args, err := ParseArgs(m, tokens[1:])
	if err != nil {
		return envelope.Errorf(envelope.CodeInvalidArgument, "%v", err).
			WithHint(usage(m))
	}

	if input != nil && !m.Stdin {
		// Handlers that do not declare stdin never see pipeline input.
		input = nil
	}

	doc, err := json.Marshal(payload{Args: args, Session: session, Stdin: input})
	if err != nil {
		return envelope.Errorf(envelope.CodeExecutionError, "encode handler payload: %v", err)
	}

	limits := enforce.FromManifest(m)
	argv := []string{m.Runtime.Interpreter, m.EntryPath()}
	d.logger.Debug("dispatching plugin", "plugin", m.Name, "trigger", trigger)

	capture, err := enforce.Run(ctx, limits, argv, string(doc), m.Dir)
	if err != nil {
		return envelope.Errorf(envelope.CodeExecutionError, "spawn handler for %s: %v", m.Name, err)
	}
	if capture.TimedOut {
		return envelope.Errorf(envelope.CodeTimeout, "%s timed out after %dms", m.Name, m.Security.Resources.TimeoutMs).
			WithHint("raise security.resources.timeout_ms in the plugin manifest")
	}
	if capture.ExitCode != 0 {
		env := envelope.Errorf(envelope.CodeExecutionError, "%s exited with status %d", m.Name, capture.ExitCode)
		if capture.Stderr != "" {
			env = env.WithHint(strings.TrimSpace(capture.Stderr))
		}
		return env
	}

	var out envelope.Envelope
	if err := json.Unmarshal([]byte(capture.Stdout), &out); err != nil {
		return envelope.Errorf(envelope.CodeExecutionError, "%s emitted malformed envelope", m.Name).
			WithHint("handlers must print a single JSON envelope on stdout")
	}
	if out.Kind == "" {
		out.Kind = envelope.Kind(m.Stdout.Type)
	}
	if capture.Truncated {
		out.WithMeta("truncated", true)
	}
	return &out
}

func usage(m *manifest.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "usage: %s", m.Triggers[0])
	for _, a := range m.Args {
		if a.Required {
			fmt.Fprintf(&b, " --%s <%s>", a.Name, a.Type)
		} else {
			fmt.Fprintf(&b, " [--%s <%s>]", a.Name, a.Type)
		}
	}
	return b.String()
}
