// Package pipeline chains command segments with typed blobs. Each segment's
// output blob becomes the next segment's input; the first error blob stops
// the chain and is returned as-is.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cnc-n3r4/isaac/internal/dispatch"
	"github.com/cnc-n3r4/isaac/internal/shell"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

// HasUnquotedPipe reports whether the line contains a pipe character outside
// quotes, meaning the line must run through the pipeline engine.
func HasUnquotedPipe(line string) bool {
	var quote rune
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '|':
			return true
		}
	}
	return false
}

// SplitSegments divides a line on unquoted pipes and trims each segment.
func SplitSegments(line string) []string {
	var segments []string
	var current strings.Builder
	var quote rune
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			current.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			current.WriteRune(r)
		case r == '|':
			segments = append(segments, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	segments = append(segments, strings.TrimSpace(current.String()))
	return segments
}

// MetaDispatcher runs one plugin command segment.
type MetaDispatcher interface {
	Dispatch(ctx context.Context, line string, input *envelope.Blob, session dispatch.Session) *envelope.Envelope
}

// Engine executes pipelines mixing plugin and shell segments.
type Engine struct {
	dispatcher MetaDispatcher
	shell      shell.Adapter
	logger     *slog.Logger
}

// NewEngine builds a pipeline engine over the two segment executors.
func NewEngine(dispatcher MetaDispatcher, sh shell.Adapter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dispatcher: dispatcher,
		shell:      sh,
		logger:     logger.With("component", "pipeline"),
	}
}

// Run executes a full pipeline line. Segments starting with "/" dispatch as
// plugin commands; everything else runs through the shell with the prior
// blob's content on stdin. The first failing segment short-circuits: later
// segments never run and the error blob is returned unchanged.
func (e *Engine) Run(ctx context.Context, line string, session dispatch.Session) envelope.Blob {
	segments := SplitSegments(line)
	var current *envelope.Blob

	for i, segment := range segments {
		if segment == "" {
			return envelope.ErrorBlob("empty pipeline segment", line)
		}
		blob := e.runSegment(ctx, segment, current, session)
		if blob.IsError() {
			e.logger.Debug("pipeline short-circuit",
				"segment", segment, "position", i, "total", len(segments))
			return blob
		}
		current = &blob
	}
	return *current
}

func (e *Engine) runSegment(ctx context.Context, segment string, input *envelope.Blob, session dispatch.Session) envelope.Blob {
	if strings.HasPrefix(segment, "/") {
		env := e.dispatcher.Dispatch(ctx, segment, input, session)
		return envelope.FromEnvelope(env, segment)
	}

	var stdin string
	if input != nil {
		stdin = input.Content
	}
	env, err := e.shell.Run(ctx, segment, stdin)
	if err != nil {
		return envelope.ErrorBlob(err.Error(), segment)
	}
	return envelope.FromEnvelope(env, segment)
}
