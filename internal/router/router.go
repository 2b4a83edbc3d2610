// Package router ties the pieces together: every input line is classified,
// squeezed through the safety tiers, and sent to the right executor, whether
// that is the plugin dispatcher, pipeline engine, shell adapter, or the
// device queue.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cnc-n3r4/isaac/internal/ai"
	"github.com/cnc-n3r4/isaac/internal/audit"
	"github.com/cnc-n3r4/isaac/internal/classify"
	"github.com/cnc-n3r4/isaac/internal/dispatch"
	"github.com/cnc-n3r4/isaac/internal/pipeline"
	"github.com/cnc-n3r4/isaac/internal/queue"
	"github.com/cnc-n3r4/isaac/internal/remote"
	"github.com/cnc-n3r4/isaac/internal/shell"
	"github.com/cnc-n3r4/isaac/internal/tier"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

// ErrExit is returned when the operator asks to leave the session.
var ErrExit = errors.New("session exit requested")

// Confirmer asks the operator a yes/no question before a risky command
// runs. A false answer or an error both count as a decline.
type Confirmer interface {
	Confirm(prompt string) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(prompt string) (bool, error)

func (f ConfirmerFunc) Confirm(prompt string) (bool, error) { return f(prompt) }

// Queue is the store surface the router needs for device routing.
type Queue interface {
	Enqueue(commandText, commandType, targetDevice string, metadata map[string]string) (int64, error)
	Get(id int64) (queue.Command, error)
	MarkSyncing(id int64) error
	MarkDone(id int64) error
	MarkFailed(id int64, cause string, final bool) error
}

// PipelineRunner executes piped command lines.
type PipelineRunner interface {
	Run(ctx context.Context, line string, session dispatch.Session) envelope.Blob
}

// Options wires a Router.
type Options struct {
	Mode       classify.Mode
	Validator  *tier.Validator
	Dispatcher pipeline.MetaDispatcher
	Pipeline   PipelineRunner
	Shell      shell.Adapter
	Assessor   ai.Assessor
	Translator ai.Translator
	Queue      Queue
	Channel    remote.Channel // optional: immediate delivery attempts
	Confirmer  Confirmer
	Trail      *audit.Trail
	Session    dispatch.Session
	Logger     *slog.Logger
}

// Router routes one input line end to end.
type Router struct {
	opts   Options
	logger *slog.Logger
}

// New builds a router. Validator, Dispatcher, Pipeline, Shell, and
// Confirmer are required; Assessor, Translator, Queue, and Channel may be
// nil, degrading the matching feature.
func New(opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = classify.ModeInternal
	}
	if opts.Trail == nil {
		opts.Trail, _ = audit.NewTrail(audit.Config{Enabled: false})
	}
	return &Router{opts: opts, logger: opts.Logger.With("component", "router")}
}

// Route processes one line. The returned envelope is always usable; ErrExit
// is the only error, signalling the caller to end the session.
func (r *Router) Route(ctx context.Context, line string) (*envelope.Envelope, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return envelope.Text(""), nil
	}

	// Pipelines bypass single-command classification; each segment is
	// executed by its own engine.
	if pipeline.HasUnquotedPipe(trimmed) && !strings.HasPrefix(trimmed, classify.DeviceMarker) {
		blob := r.opts.Pipeline.Run(ctx, trimmed, r.opts.Session)
		return blob.ToEnvelope(), nil
	}

	cls, err := classify.Classify(trimmed, r.opts.Mode)
	if err != nil {
		var parseErr *classify.ParseError
		switch {
		case errors.Is(err, classify.ErrForceExternal):
			return envelope.Errorf(envelope.CodeNotAllowed, "%v", err), nil
		case errors.As(err, &parseErr):
			return envelope.Errorf(envelope.CodeParseError, "%v", err), nil
		default:
			return envelope.Errorf(envelope.CodeParseError, "cannot classify input: %v", err), nil
		}
	}
	r.record(audit.EventClassification, trimmed, map[string]any{
		"kind": string(cls.Kind), "trigger": cls.Trigger, "device": cls.TargetDevice,
	})

	switch cls.Kind {
	case classify.KindMeta:
		return r.routeMeta(ctx, cls)
	case classify.KindDeviceRouted:
		return r.routeDevice(ctx, cls), nil
	case classify.KindNaturalLanguage:
		return r.routeNatural(ctx, cls)
	default:
		return r.routeShell(ctx, cls.NormalizedCommand)
	}
}

func (r *Router) routeMeta(ctx context.Context, cls classify.Classification) (*envelope.Envelope, error) {
	switch cls.Trigger {
	case "exit", "quit":
		return envelope.Text("bye"), ErrExit
	case "f", "force":
		// Forced execution skips the tier pipeline entirely. The classifier
		// already guaranteed this is an internal session.
		forced := strings.TrimSpace(strings.TrimPrefix(
			strings.TrimPrefix(cls.NormalizedCommand, "/force"), "/f"))
		if forced == "" {
			return envelope.Errorf(envelope.CodeInvalidArgument, "nothing to force: usage /f <command>"), nil
		}
		r.record(audit.EventExecStart, forced, map[string]any{"forced": true})
		env := r.execShell(ctx, forced)
		return env, nil
	}
	env := r.opts.Dispatcher.Dispatch(ctx, cls.NormalizedCommand, nil, r.opts.Session)
	return env, nil
}

func (r *Router) routeDevice(ctx context.Context, cls classify.Classification) *envelope.Envelope {
	if r.opts.Queue == nil {
		return envelope.Errorf(envelope.CodeQueueIOError, "device routing is not configured")
	}
	meta := map[string]string{}
	if r.opts.Session.ID != "" {
		meta["session"] = r.opts.Session.ID
	}
	if r.opts.Session.Device != "" {
		meta["origin"] = r.opts.Session.Device
	}
	id, err := r.opts.Queue.Enqueue(cls.NormalizedCommand, queue.TypeDeviceRouted, cls.TargetDevice, meta)
	if err != nil {
		return envelope.Errorf(envelope.CodeQueueIOError, "cannot queue command: %v", err)
	}
	r.record(audit.EventQueueEnqueue, cls.NormalizedCommand, map[string]any{
		"id": id, "device": cls.TargetDevice,
	})

	if r.opts.Channel != nil && r.opts.Channel.Available(ctx) && r.deliverNow(ctx, id) {
		r.record(audit.EventQueueSync, cls.NormalizedCommand, map[string]any{"id": id, "immediate": true})
		return envelope.Text(fmt.Sprintf("Command routed to %s", cls.TargetDevice)).
			WithMeta("queue_id", id)
	}
	return envelope.Text(fmt.Sprintf("Command queued for %s (#%d)", cls.TargetDevice, id)).
		WithMeta("queue_id", id)
}

// deliverNow attempts best-effort immediate delivery of a just-queued row.
// The row is durable either way; any failure leaves it for the sync worker.
// The stored row supplies queued_at so the wire document matches what the
// worker would send later.
func (r *Router) deliverNow(ctx context.Context, id int64) bool {
	row, err := r.opts.Queue.Get(id)
	if err != nil {
		return false
	}
	if err := r.opts.Queue.MarkSyncing(id); err != nil {
		return false
	}
	err = r.opts.Channel.Deliver(ctx, remote.Delivery{
		ID:           row.ID,
		CommandText:  row.CommandText,
		TargetDevice: row.TargetDevice,
		QueuedAt:     row.QueuedAt,
		Metadata:     row.Metadata,
	})
	if err != nil {
		_ = r.opts.Queue.MarkFailed(id, err.Error(), false)
		return false
	}
	return r.opts.Queue.MarkDone(id) == nil
}

func (r *Router) routeNatural(ctx context.Context, cls classify.Classification) (*envelope.Envelope, error) {
	if r.opts.Translator == nil {
		return envelope.Errorf(envelope.CodeExecutionError, "natural-language routing needs an AI provider").
			WithHint("set ai.enabled and ai.api_key in the configuration"), nil
	}
	translated, err := r.opts.Translator.Translate(ctx, cls.NormalizedCommand, shellName(r.opts.Shell))
	if err != nil {
		return envelope.Errorf(envelope.CodeExecutionError, "translation failed: %v", err), nil
	}
	r.logger.Debug("translated query", "query", cls.NormalizedCommand, "command", translated)
	env, routeErr := r.routeShell(ctx, translated)
	if env != nil {
		env = env.WithMeta("translated_from", cls.NormalizedCommand)
	}
	return env, routeErr
}

func (r *Router) routeShell(ctx context.Context, command string) (*envelope.Envelope, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return envelope.Text(""), nil
	}

	switch fields[0] {
	case "cd":
		return r.changeDir(fields), nil
	case "exit", "quit":
		return envelope.Text("use /exit to leave the session"), nil
	}

	decision := r.opts.Validator.Decide(command)
	r.record(audit.EventTierDecision, command, map[string]any{
		"tier": decision.Tier, "action": string(decision.Action), "corrected": decision.Corrected,
	})

	switch decision.Action {
	case tier.ActionAutoRun:
		return r.execAudited(ctx, command), nil

	case tier.ActionAutoCorrect:
		env := r.execAudited(ctx, decision.Corrected)
		return env.WithMeta("corrected_from", command), nil

	case tier.ActionConfirm:
		target := command
		prompt := fmt.Sprintf("Run %q?", command)
		if decision.Corrected != "" {
			target = decision.Corrected
			prompt = fmt.Sprintf("Did you mean %q?", decision.Corrected)
		}
		if !r.confirm(prompt, target) {
			return r.cancelled(target), nil
		}
		env := r.execAudited(ctx, target)
		if decision.Corrected != "" {
			env = env.WithMeta("corrected_from", command)
		}
		return env, nil

	case tier.ActionLockdown:
		r.record(audit.EventCancellation, command, map[string]any{"reason": "lockdown"})
		return envelope.Errorf(envelope.CodeLockdown, "%s is locked down and will not run", fields[0]).
			WithHint("destructive commands must be run outside this session on purpose"), nil

	default: // tier.ActionAIValidate
		return r.validateAndRun(ctx, command), nil
	}
}

func (r *Router) validateAndRun(ctx context.Context, command string) *envelope.Envelope {
	decision := ai.Decision{
		Status:    ai.StatusNeedsConfirm,
		Rationale: "no risk assessor available",
	}
	if r.opts.Assessor != nil {
		got, err := r.opts.Assessor.Assess(ctx, ai.Request{Command: command, Shell: shellName(r.opts.Shell)})
		if err != nil {
			// Unreachable assessor degrades to a confirmation, never to a
			// silent run.
			r.logger.Warn("risk assessment failed", "error", err)
			decision.Rationale = "risk assessment unavailable: " + err.Error()
		} else {
			decision = got
		}
	}
	r.record(audit.EventValidationDecision, command, map[string]any{
		"status": string(decision.Status), "rationale": decision.Rationale,
	})

	switch decision.Status {
	case ai.StatusSafe:
		return r.execAudited(ctx, command)
	case ai.StatusDeny:
		env := envelope.Errorf(envelope.CodeNotAllowed, "command denied: %s", decision.Rationale)
		if decision.SuggestedAlternative != "" {
			env = env.WithHint("try instead: " + decision.SuggestedAlternative)
		}
		return env
	default:
		prompt := fmt.Sprintf("Run %q? (%s)", command, decision.Rationale)
		if !r.confirm(prompt, command) {
			return r.cancelled(command)
		}
		return r.execAudited(ctx, command)
	}
}

func (r *Router) confirm(prompt, command string) bool {
	ok, err := r.opts.Confirmer.Confirm(prompt)
	if err != nil {
		r.logger.Warn("confirmation failed, treating as decline", "error", err)
		ok = false
	}
	r.record(audit.EventConfirmation, command, map[string]any{"approved": ok})
	return ok
}

func (r *Router) cancelled(command string) *envelope.Envelope {
	r.record(audit.EventCancellation, command, nil)
	return envelope.Text("Cancelled.").WithMeta("cancelled", true)
}

func (r *Router) execAudited(ctx context.Context, command string) *envelope.Envelope {
	r.record(audit.EventExecStart, command, nil)
	env := r.execShell(ctx, command)
	r.record(audit.EventExecResult, command, map[string]any{
		"ok": env.OK, "error_code": env.ErrorCode(),
	})
	return env
}

func (r *Router) execShell(ctx context.Context, command string) *envelope.Envelope {
	env, err := r.opts.Shell.Run(ctx, command, "")
	if err != nil {
		return envelope.Errorf(envelope.CodeExecutionError, "%v", err)
	}
	return env
}

// changeDir handles cd in-process so the working directory sticks for the
// rest of the session.
func (r *Router) changeDir(fields []string) *envelope.Envelope {
	local, ok := r.opts.Shell.(*shell.Local)
	if !ok {
		return envelope.Errorf(envelope.CodeNotAllowed, "cd is not supported on this adapter")
	}
	target := ""
	if len(fields) > 1 {
		target = fields[1]
	}
	if target == "" || target == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return envelope.Errorf(envelope.CodeExecutionError, "cannot resolve home directory: %v", err)
		}
		target = home
	}
	if !filepath.IsAbs(target) {
		base := local.Dir
		if base == "" {
			base, _ = os.Getwd()
		}
		target = filepath.Join(base, target)
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return envelope.Errorf(envelope.CodeInvalidArgument, "cd: %s is not a directory", target)
	}
	local.Dir = filepath.Clean(target)
	return envelope.Text("").WithMeta("cwd", local.Dir)
}

func shellName(adapter shell.Adapter) string {
	if local, ok := adapter.(*shell.Local); ok {
		return local.Shell
	}
	return "/bin/sh"
}

func (r *Router) record(eventType audit.EventType, command string, payload map[string]any) {
	r.opts.Trail.Record(eventType, r.opts.Session.ID, command, payload)
}
