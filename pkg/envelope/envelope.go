// Package envelope defines the normalized result and pipe data shapes that
// cross component boundaries: every dispatch, pipeline stage, and shell
// execution produces exactly one Envelope, and pipeline stages exchange Blobs.
package envelope

import (
	"fmt"
	"time"
)

// Kind classifies the payload carried by an Envelope or Blob.
type Kind string

const (
	KindText   Kind = "text"
	KindJSON   Kind = "json"
	KindBinary Kind = "binary"
	KindError  Kind = "error"
)

// Error codes used across the dispatch pipeline.
const (
	CodeUnknownCommand  = "UNKNOWN_COMMAND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotAllowed      = "NOT_ALLOWED"
	CodeTimeout         = "TIMEOUT"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeParseError      = "PARSE_ERROR"
	CodeQueueIOError    = "QUEUE_IO_ERROR"
	CodeLockdown        = "LOCKDOWN"
)

// ErrorInfo describes a failed invocation.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Envelope is the normalized output of every dispatcher invocation and
// pipeline run. Handlers emit exactly one Envelope on stdout.
type Envelope struct {
	OK     bool           `json:"ok"`
	Kind   Kind           `json:"kind"`
	Stdout string         `json:"stdout,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
	Error  *ErrorInfo     `json:"error,omitempty"`
}

// Text returns a successful text envelope.
func Text(stdout string) *Envelope {
	return &Envelope{OK: true, Kind: KindText, Stdout: stdout}
}

// Errorf returns a failed envelope with the given code and formatted message.
func Errorf(code, format string, args ...any) *Envelope {
	return &Envelope{
		OK:   false,
		Kind: KindError,
		Error: &ErrorInfo{
			Code:    code,
			Message: fmt.Sprintf(format, args...),
		},
	}
}

// WithMeta sets a metadata key on the envelope, allocating the map if needed.
func (e *Envelope) WithMeta(key string, value any) *Envelope {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}

// WithHint sets the error hint. No-op on successful envelopes.
func (e *Envelope) WithHint(hint string) *Envelope {
	if e.Error != nil {
		e.Error.Hint = hint
	}
	return e
}

// ErrorCode returns the error code, or "" for successful envelopes.
func (e *Envelope) ErrorCode() string {
	if e == nil || e.Error == nil {
		return ""
	}
	return e.Error.Code
}

// Blob is the pipe engine's wire unit. An error-kind Blob is terminal:
// once produced, no further pipeline stage executes.
type Blob struct {
	Kind    Kind           `json:"kind"`
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// IsError reports whether the blob is terminal.
func (b Blob) IsError() bool {
	return b.Kind == KindError
}

// TextBlob wraps plain text output with provenance metadata.
func TextBlob(content, sourceCommand string) Blob {
	return Blob{
		Kind:    KindText,
		Content: content,
		Meta:    blobMeta(sourceCommand, len(content)),
	}
}

// ErrorBlob wraps a stage failure. The failing command identity rides in the
// metadata so pipeline short-circuits stay attributable.
func ErrorBlob(content, sourceCommand string) Blob {
	b := Blob{
		Kind:    KindError,
		Content: content,
		Meta:    blobMeta(sourceCommand, len(content)),
	}
	b.Meta["failed_command"] = sourceCommand
	return b
}

// FromEnvelope converts a stage's Envelope into the Blob handed to the next
// stage.
func FromEnvelope(env *Envelope, sourceCommand string) Blob {
	if env == nil {
		return ErrorBlob("stage produced no result", sourceCommand)
	}
	if !env.OK {
		msg := "command failed"
		if env.Error != nil && env.Error.Message != "" {
			msg = env.Error.Message
		}
		blob := ErrorBlob(msg, sourceCommand)
		if env.Error != nil {
			blob.Meta["error_code"] = env.Error.Code
		}
		return blob
	}
	kind := env.Kind
	if kind == "" {
		kind = KindText
	}
	blob := Blob{
		Kind:    kind,
		Content: env.Stdout,
		Meta:    blobMeta(sourceCommand, len(env.Stdout)),
	}
	for k, v := range env.Meta {
		blob.Meta[k] = v
	}
	return blob
}

// ToEnvelope converts the pipeline's final Blob back to the caller-facing
// Envelope shape.
func (b Blob) ToEnvelope() *Envelope {
	if b.IsError() {
		code := CodeExecutionError
		if c, ok := b.Meta["error_code"].(string); ok && c != "" {
			code = c
		}
		env := &Envelope{
			OK:   false,
			Kind: KindError,
			Meta: b.Meta,
			Error: &ErrorInfo{
				Code:    code,
				Message: b.Content,
			},
		}
		return env
	}
	return &Envelope{OK: true, Kind: b.Kind, Stdout: b.Content, Meta: b.Meta}
}

func blobMeta(sourceCommand string, size int) map[string]any {
	return map[string]any{
		"source_command": sourceCommand,
		"timestamp":      time.Now().UTC().Format(time.RFC3339Nano),
		"size":           size,
	}
}
