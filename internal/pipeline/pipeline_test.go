package pipeline

import (
	"context"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/cnc-n3r4/isaac/internal/dispatch"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

func TestHasUnquotedPipe(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"ls | wc -l", true},
		{"ls", false},
		{`grep "a | b" file`, false},
		{"grep 'x|y' file | sort", true},
		{`echo "|"`, false},
	}
	for _, tt := range tests {
		if got := HasUnquotedPipe(tt.line); got != tt.want {
			t.Errorf("HasUnquotedPipe(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestSplitSegments(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"a | b | c", []string{"a", "b", "c"}},
		{"only", []string{"only"}},
		{`grep "a|b" f | sort`, []string{`grep "a|b" f`, "sort"}},
		{"a |", []string{"a", ""}},
	}
	for _, tt := range tests {
		if got := SplitSegments(tt.line); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitSegments(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

// fakeDispatcher records calls and maps trigger words to canned envelopes.
type fakeDispatcher struct {
	calls   []string
	inputs  []*envelope.Blob
	results map[string]*envelope.Envelope
}

func (f *fakeDispatcher) Dispatch(_ context.Context, line string, input *envelope.Blob, _ dispatch.Session) *envelope.Envelope {
	f.calls = append(f.calls, line)
	f.inputs = append(f.inputs, input)
	if env, ok := f.results[strings.Fields(line)[0]]; ok {
		return env
	}
	return envelope.Errorf(envelope.CodeUnknownCommand, "no plugin for %s", line)
}

// fakeShell echoes a transform of its stdin, or fails on command "boom".
type fakeShell struct {
	calls []string
}

func (f *fakeShell) Run(_ context.Context, command string, stdin string) (*envelope.Envelope, error) {
	f.calls = append(f.calls, command)
	if command == "boom" {
		return envelope.Errorf(envelope.CodeExecutionError, "command exited with status 1"), nil
	}
	return envelope.Text(command + "<" + stdin), nil
}

func newTestEngine() (*Engine, *fakeDispatcher, *fakeShell) {
	d := &fakeDispatcher{results: map[string]*envelope.Envelope{
		"/fetch": envelope.Text("fetched data"),
	}}
	sh := &fakeShell{}
	return NewEngine(d, sh, slog.New(slog.DiscardHandler)), d, sh
}

func TestRunChainsBlobs(t *testing.T) {
	engine, d, sh := newTestEngine()
	blob := engine.Run(context.Background(), "/fetch | sort | wc -l", dispatch.Session{})
	if blob.IsError() {
		t.Fatalf("pipeline failed: %s", blob.Content)
	}
	if len(d.calls) != 1 || d.calls[0] != "/fetch" {
		t.Errorf("dispatcher calls = %v", d.calls)
	}
	if len(sh.calls) != 2 {
		t.Fatalf("shell calls = %v", sh.calls)
	}
	// Second shell segment must have received the first's output as stdin.
	if blob.Content != "wc -l<sort<fetched data" {
		t.Errorf("final content = %q", blob.Content)
	}
	if blob.Meta["source_command"] != "wc -l" {
		t.Errorf("source_command = %v", blob.Meta["source_command"])
	}
}

func TestRunShortCircuits(t *testing.T) {
	engine, d, sh := newTestEngine()
	blob := engine.Run(context.Background(), "sort | boom | /fetch | wc", dispatch.Session{})
	if !blob.IsError() {
		t.Fatal("expected error blob")
	}
	if blob.Meta["failed_command"] != "boom" {
		t.Errorf("failed_command = %v", blob.Meta["failed_command"])
	}
	// Nothing after the failing segment may run.
	if len(sh.calls) != 2 {
		t.Errorf("shell calls = %v, want [sort boom]", sh.calls)
	}
	if len(d.calls) != 0 {
		t.Errorf("dispatcher calls = %v, want none", d.calls)
	}
}

func TestRunUnknownPluginShortCircuits(t *testing.T) {
	engine, _, sh := newTestEngine()
	blob := engine.Run(context.Background(), "/missing | sort", dispatch.Session{})
	if !blob.IsError() {
		t.Fatal("expected error blob")
	}
	if blob.Meta["error_code"] != envelope.CodeUnknownCommand {
		t.Errorf("error_code = %v", blob.Meta["error_code"])
	}
	if len(sh.calls) != 0 {
		t.Errorf("shell ran after failed plugin segment: %v", sh.calls)
	}
}

func TestRunPluginReceivesBlob(t *testing.T) {
	engine, d, _ := newTestEngine()
	engine.Run(context.Background(), "ls | /fetch", dispatch.Session{})
	if len(d.inputs) != 1 || d.inputs[0] == nil {
		t.Fatal("plugin segment did not receive input blob")
	}
	if d.inputs[0].Content != "ls<" {
		t.Errorf("input blob content = %q", d.inputs[0].Content)
	}
}

func TestRunEmptySegment(t *testing.T) {
	engine, _, _ := newTestEngine()
	blob := engine.Run(context.Background(), "ls | | wc", dispatch.Session{})
	if !blob.IsError() {
		t.Fatal("expected error blob for empty segment")
	}
}
