package dispatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cnc-n3r4/isaac/internal/manifest"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr bool
	}{
		{"plain words", "a b c", []string{"a", "b", "c"}, false},
		{"double quotes", `say "hello world"`, []string{"say", "hello world"}, false},
		{"single quotes", "grep 'a | b'", []string{"grep", "a | b"}, false},
		{"empty quoted token", `x "" y`, []string{"x", "", "y"}, false},
		{"collapsed spaces", "  a   b  ", []string{"a", "b"}, false},
		{"empty line", "", nil, false},
		{"unterminated quote", `say "oops`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitArgs(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SplitArgs(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitArgs(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Decode([]byte(`name: report
version: 1.0.0
summary: Build a report
triggers: ["/report"]
args:
  - name: location
    type: string
    required: true
  - name: days
    type: int
  - name: verbose
    type: bool
  - name: units
    type: enum
    enum: [metric, imperial]
  - name: tag
    type: string
    pattern: "^[a-z]+$"
runtime: {entry: run.sh}
`), ".")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestParseArgs(t *testing.T) {
	m := testManifest(t)
	tests := []struct {
		name    string
		tokens  []string
		want    map[string]any
		wantErr string
	}{
		{
			name:   "flags",
			tokens: []string{"--location", "Paris", "--days", "3"},
			want:   map[string]any{"location": "Paris", "days": 3},
		},
		{
			name:   "equals form",
			tokens: []string{"--location=Oslo", "--units=metric"},
			want:   map[string]any{"location": "Oslo", "units": "metric"},
		},
		{
			name:   "bool flag without value",
			tokens: []string{"--location", "Rome", "--verbose"},
			want:   map[string]any{"location": "Rome", "verbose": true},
		},
		{
			name:   "positional fills declared order",
			tokens: []string{"Tokyo", "5"},
			want:   map[string]any{"location": "Tokyo", "days": 5},
		},
		{
			name:    "missing required",
			tokens:  []string{"--days", "2"},
			wantErr: "required argument missing",
		},
		{
			name:    "undeclared flag",
			tokens:  []string{"--location", "x", "--bogus", "1"},
			wantErr: "not declared",
		},
		{
			name:    "bad int",
			tokens:  []string{"--location", "x", "--days", "soon"},
			wantErr: "not an integer",
		},
		{
			name:    "enum rejects stray value",
			tokens:  []string{"--location", "x", "--units", "kelvin"},
			wantErr: "not in",
		},
		{
			name:    "pattern mismatch",
			tokens:  []string{"--location", "x", "--tag", "UPPER"},
			wantErr: "does not match pattern",
		},
		{
			name:    "excess positional",
			tokens:  []string{"a", "1", "true", "metric", "tag", "extra"},
			wantErr: "unexpected positional",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(m, tt.tokens)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseArgs() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseArgs() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseArgs() = %v, want %v", got, tt.want)
			}
		})
	}
}

// writeHandlerPlugin installs a live plugin whose handler is a shell script.
func writeHandlerPlugin(t *testing.T, root, name, yamlBody, script string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.Filename), []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "run.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
}

func testDispatcher(t *testing.T, root string) *Dispatcher {
	t.Helper()
	r := manifest.NewRegistry([]string{root}, slog.New(slog.DiscardHandler))
	if err := r.Load(); err != nil {
		t.Fatal(err)
	}
	return New(r, slog.New(slog.DiscardHandler))
}

func TestDispatchRoundTrip(t *testing.T) {
	root := t.TempDir()
	// The handler reads the JSON payload and echoes the location arg back
	// inside a well-formed envelope.
	writeHandlerPlugin(t, root, "report", `name: report
version: 1.0.0
summary: Build a report
triggers: ["/report"]
args:
  - name: location
    type: string
    required: true
runtime: {entry: run.sh}
`, `#!/bin/sh
loc=$(sed 's/.*"location":"\([^"]*\)".*/\1/')
printf '{"ok":true,"kind":"text","stdout":"report for %s"}' "$loc"
`)

	d := testDispatcher(t, root)
	env := d.Dispatch(context.Background(), "/report --location Paris", nil, Session{ID: "s1"})
	if !env.OK {
		t.Fatalf("OK = false, error = %+v", env.Error)
	}
	if env.Stdout != "report for Paris" {
		t.Errorf("Stdout = %q", env.Stdout)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := testDispatcher(t, t.TempDir())
	env := d.Dispatch(context.Background(), "/nope", nil, Session{})
	if env.OK {
		t.Fatal("OK = true for unknown trigger")
	}
	if got := env.ErrorCode(); got != envelope.CodeUnknownCommand {
		t.Errorf("ErrorCode() = %q, want %q", got, envelope.CodeUnknownCommand)
	}
}

func TestDispatchInvalidArgument(t *testing.T) {
	root := t.TempDir()
	writeHandlerPlugin(t, root, "report", `name: report
version: 1.0.0
summary: Build a report
triggers: ["/report"]
args:
  - name: days
    type: int
    required: true
runtime: {entry: run.sh}
`, "#!/bin/sh\nexit 0\n")

	d := testDispatcher(t, root)
	env := d.Dispatch(context.Background(), "/report --days soon", nil, Session{})
	if got := env.ErrorCode(); got != envelope.CodeInvalidArgument {
		t.Errorf("ErrorCode() = %q, want %q", got, envelope.CodeInvalidArgument)
	}
	if env.Error.Hint == "" || !strings.Contains(env.Error.Hint, "usage:") {
		t.Errorf("hint = %q, want usage string", env.Error.Hint)
	}
}

func TestDispatchMalformedHandlerOutput(t *testing.T) {
	root := t.TempDir()
	writeHandlerPlugin(t, root, "bad", `name: bad
version: 1.0.0
summary: Emits junk
triggers: ["/bad"]
runtime: {entry: run.sh}
`, "#!/bin/sh\necho 'this is not json'\n")

	d := testDispatcher(t, root)
	env := d.Dispatch(context.Background(), "/bad", nil, Session{})
	if got := env.ErrorCode(); got != envelope.CodeExecutionError {
		t.Errorf("ErrorCode() = %q, want %q", got, envelope.CodeExecutionError)
	}
	if !strings.Contains(env.Error.Message, "malformed envelope") {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestDispatchHandlerTimeout(t *testing.T) {
	root := t.TempDir()
	writeHandlerPlugin(t, root, "slow", `name: slow
version: 1.0.0
summary: Sleeps forever
triggers: ["/slow"]
security:
  resources:
    timeout_ms: 200
runtime: {entry: run.sh}
`, "#!/bin/sh\nsleep 10\n")

	d := testDispatcher(t, root)
	env := d.Dispatch(context.Background(), "/slow", nil, Session{})
	if got := env.ErrorCode(); got != envelope.CodeTimeout {
		t.Errorf("ErrorCode() = %q, want %q", got, envelope.CodeTimeout)
	}
}

func TestDispatchHandlerNonZeroExit(t *testing.T) {
	root := t.TempDir()
	writeHandlerPlugin(t, root, "fail", `name: fail
version: 1.0.0
summary: Always fails
triggers: ["/fail"]
runtime: {entry: run.sh}
`, "#!/bin/sh\necho 'boom' >&2\nexit 2\n")

	d := testDispatcher(t, root)
	env := d.Dispatch(context.Background(), "/fail", nil, Session{})
	if got := env.ErrorCode(); got != envelope.CodeExecutionError {
		t.Errorf("ErrorCode() = %q, want %q", got, envelope.CodeExecutionError)
	}
	if !strings.Contains(env.Error.Hint, "boom") {
		t.Errorf("hint = %q, want stderr passthrough", env.Error.Hint)
	}
}

func TestDispatchStdinGating(t *testing.T) {
	root := t.TempDir()
	// Handler reports whether the payload carried a stdin blob.
	script := `#!/bin/sh
if grep -q '"stdin"' ; then
  printf '{"ok":true,"kind":"text","stdout":"got stdin"}'
else
  printf '{"ok":true,"kind":"text","stdout":"no stdin"}'
fi
`
	writeHandlerPlugin(t, root, "sink", `name: sink
version: 1.0.0
summary: Accepts stdin
triggers: ["/sink"]
stdin: true
runtime: {entry: run.sh}
`, script)
	writeHandlerPlugin(t, root, "deaf", `name: deaf
version: 1.0.0
summary: Ignores stdin
triggers: ["/deaf"]
runtime: {entry: run.sh}
`, script)

	d := testDispatcher(t, root)
	blob := envelope.TextBlob("piped", "echo piped")

	env := d.Dispatch(context.Background(), "/sink", &blob, Session{})
	if env.Stdout != "got stdin" {
		t.Errorf("stdin-declaring plugin got %q", env.Stdout)
	}
	env = d.Dispatch(context.Background(), "/deaf", &blob, Session{})
	if env.Stdout != "no stdin" {
		t.Errorf("non-stdin plugin got %q, blob should be withheld", env.Stdout)
	}
}
