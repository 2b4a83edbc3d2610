package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cnc-n3r4/isaac/internal/ai"
	"github.com/cnc-n3r4/isaac/internal/classify"
	"github.com/cnc-n3r4/isaac/internal/dispatch"
	"github.com/cnc-n3r4/isaac/internal/pipeline"
	"github.com/cnc-n3r4/isaac/internal/queue"
	"github.com/cnc-n3r4/isaac/internal/remote"
	"github.com/cnc-n3r4/isaac/internal/tier"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

type fakeShell struct {
	mu   sync.Mutex
	runs []string
}

func (f *fakeShell) Run(_ context.Context, command string, _ string) (*envelope.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, command)
	return envelope.Text("ran: " + command), nil
}

func (f *fakeShell) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.runs))
	copy(out, f.runs)
	return out
}

type fakeDispatcher struct {
	lines []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, line string, _ *envelope.Blob, _ dispatch.Session) *envelope.Envelope {
	f.lines = append(f.lines, line)
	if strings.HasPrefix(line, "/status") {
		return envelope.Text("all good")
	}
	return envelope.Errorf(envelope.CodeUnknownCommand, "no plugin registered for %s", strings.Fields(line)[0])
}

type fakeAssessor struct {
	calls    int
	decision ai.Decision
	err      error
}

func (f *fakeAssessor) Assess(context.Context, ai.Request) (ai.Decision, error) {
	f.calls++
	return f.decision, f.err
}

type fakeTranslator struct {
	command string
	err     error
}

func (f *fakeTranslator) Translate(context.Context, string, string) (string, error) {
	return f.command, f.err
}

type fakeQueue struct {
	rows    map[int64]string // id -> status
	entries map[int64]queue.Command
	nextID  int64
	failErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{rows: map[int64]string{}, entries: map[int64]queue.Command{}}
}

func (f *fakeQueue) Enqueue(commandText, commandType, targetDevice string, meta map[string]string) (int64, error) {
	if f.failErr != nil {
		return 0, f.failErr
	}
	f.nextID++
	f.rows[f.nextID] = "pending"
	f.entries[f.nextID] = queue.Command{
		ID:           f.nextID,
		CommandText:  commandText,
		CommandType:  commandType,
		TargetDevice: targetDevice,
		QueuedAt:     time.Now().UTC(),
		Metadata:     meta,
	}
	return f.nextID, nil
}

func (f *fakeQueue) Get(id int64) (queue.Command, error) {
	cmd, ok := f.entries[id]
	if !ok {
		return queue.Command{}, errors.New("no such row")
	}
	return cmd, nil
}

func (f *fakeQueue) MarkSyncing(id int64) error { f.rows[id] = "syncing"; return nil }
func (f *fakeQueue) MarkDone(id int64) error    { f.rows[id] = "done"; return nil }
func (f *fakeQueue) MarkFailed(id int64, _ string, final bool) error {
	if final {
		f.rows[id] = "failed"
	} else {
		f.rows[id] = "pending"
	}
	return nil
}

type fakeChannel struct {
	online    bool
	deliverFn func(remote.Delivery) error
	delivered []remote.Delivery
}

func (f *fakeChannel) Available(context.Context) bool { return f.online }
func (f *fakeChannel) Deliver(_ context.Context, d remote.Delivery) error {
	if f.deliverFn != nil {
		if err := f.deliverFn(d); err != nil {
			return err
		}
	}
	f.delivered = append(f.delivered, d)
	return nil
}

type harness struct {
	router     *Router
	shell      *fakeShell
	dispatcher *fakeDispatcher
	assessor   *fakeAssessor
	queue      *fakeQueue
	channel    *fakeChannel
	confirmed  []string
	answer     bool
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		shell:      &fakeShell{},
		dispatcher: &fakeDispatcher{},
		assessor:   &fakeAssessor{decision: ai.Decision{Status: ai.StatusSafe}},
		queue:      newFakeQueue(),
		channel:    &fakeChannel{},
		answer:     true,
	}
	opts := Options{
		Mode:       classify.ModeInternal,
		Validator:  tier.NewValidator(nil),
		Dispatcher: h.dispatcher,
		Shell:      h.shell,
		Assessor:   h.assessor,
		Queue:      h.queue,
		Channel:    h.channel,
		Confirmer: ConfirmerFunc(func(prompt string) (bool, error) {
			h.confirmed = append(h.confirmed, prompt)
			return h.answer, nil
		}),
		Session: dispatch.Session{ID: "test-session"},
		Logger:  slog.New(slog.DiscardHandler),
	}
	opts.Pipeline = pipeline.NewEngine(h.dispatcher, h.shell, opts.Logger)
	if mutate != nil {
		mutate(&opts)
	}
	h.router = New(opts)
	return h
}

func (h *harness) route(t *testing.T, line string) *envelope.Envelope {
	t.Helper()
	env, err := h.router.Route(context.Background(), line)
	if err != nil {
		t.Fatalf("Route(%q) error = %v", line, err)
	}
	return env
}

func TestTier1RunsWithoutAssessment(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "ls -la")
	if !env.OK || env.Stdout != "ran: ls -la" {
		t.Fatalf("env = %+v", env)
	}
	if h.assessor.calls != 0 {
		t.Errorf("assessor called %d times for tier-1 command", h.assessor.calls)
	}
	if len(h.confirmed) != 0 {
		t.Errorf("confirmation prompted for tier-1 command")
	}
}

func TestTier3ConsultsAssessorExactlyOnce(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "git push origin main")
	if !env.OK {
		t.Fatalf("env = %+v", env)
	}
	if h.assessor.calls != 1 {
		t.Errorf("assessor calls = %d, want 1", h.assessor.calls)
	}
	if len(h.shell.commands()) != 1 {
		t.Errorf("shell runs = %v", h.shell.commands())
	}
}

func TestDenyNeverExecutes(t *testing.T) {
	h := newHarness(t, nil)
	h.assessor.decision = ai.Decision{
		Status:               ai.StatusDeny,
		Rationale:            "pushes to a protected branch",
		SuggestedAlternative: "git push origin feature",
	}
	env := h.route(t, "git push origin main")
	if env.OK {
		t.Fatal("denied command reported ok")
	}
	if got := env.ErrorCode(); got != envelope.CodeNotAllowed {
		t.Errorf("ErrorCode() = %q", got)
	}
	if !strings.Contains(env.Error.Hint, "git push origin feature") {
		t.Errorf("hint = %q", env.Error.Hint)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("shell ran despite deny: %v", h.shell.commands())
	}
}

func TestNeedsConfirmPromptsThenRuns(t *testing.T) {
	h := newHarness(t, nil)
	h.assessor.decision = ai.Decision{Status: ai.StatusNeedsConfirm, Rationale: "network write"}
	env := h.route(t, "git push")
	if !env.OK {
		t.Fatalf("env = %+v", env)
	}
	if len(h.confirmed) != 1 || !strings.Contains(h.confirmed[0], "network write") {
		t.Errorf("prompts = %v", h.confirmed)
	}
}

func TestDeclineCancelsWithoutSideEffect(t *testing.T) {
	h := newHarness(t, nil)
	h.answer = false
	h.assessor.decision = ai.Decision{Status: ai.StatusNeedsConfirm, Rationale: "risky"}
	env := h.route(t, "git push")
	if !env.OK || env.Stdout != "Cancelled." {
		t.Fatalf("env = %+v", env)
	}
	if env.Meta["cancelled"] != true {
		t.Errorf("meta = %v", env.Meta)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("declined command ran: %v", h.shell.commands())
	}
	if len(h.queue.rows) != 0 {
		t.Errorf("declined command queued: %v", h.queue.rows)
	}
}

func TestAssessorFailureDegradesToConfirm(t *testing.T) {
	h := newHarness(t, nil)
	h.assessor.err = errors.New("api down")
	env := h.route(t, "git push")
	if !env.OK {
		t.Fatalf("env = %+v", env)
	}
	// Must have prompted, never silently run.
	if len(h.confirmed) != 1 {
		t.Fatalf("prompts = %v", h.confirmed)
	}
}

func TestNoAssessorDegradesToConfirm(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Assessor = nil })
	h.route(t, "git push")
	if len(h.confirmed) != 1 {
		t.Errorf("prompts = %v, want exactly one", h.confirmed)
	}
}

func TestLockdownBlocks(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "rm -rf /")
	if env.OK {
		t.Fatal("lockdown command reported ok")
	}
	if got := env.ErrorCode(); got != envelope.CodeLockdown {
		t.Errorf("ErrorCode() = %q", got)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("lockdown command ran: %v", h.shell.commands())
	}
	if h.assessor.calls != 0 {
		t.Errorf("assessor consulted for lockdown")
	}
}

func TestTypoAutoCorrect(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "greep TODO main.go")
	if !env.OK {
		t.Fatalf("env = %+v", env)
	}
	runs := h.shell.commands()
	if len(runs) != 1 || runs[0] != "grep TODO main.go" {
		t.Errorf("runs = %v", runs)
	}
	if env.Meta["corrected_from"] != "greep TODO main.go" {
		t.Errorf("meta = %v", env.Meta)
	}
}

func TestTypoOfRiskyVerbConfirms(t *testing.T) {
	h := newHarness(t, nil)
	h.route(t, "gti status")
	if len(h.confirmed) != 1 || !strings.Contains(h.confirmed[0], "git status") {
		t.Fatalf("prompts = %v", h.confirmed)
	}
	runs := h.shell.commands()
	if len(runs) != 1 || runs[0] != "git status" {
		t.Errorf("runs = %v", runs)
	}
}

func TestMetaDispatch(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "/status --verbose")
	if !env.OK || env.Stdout != "all good" {
		t.Fatalf("env = %+v", env)
	}
	if len(h.dispatcher.lines) != 1 || h.dispatcher.lines[0] != "/status --verbose" {
		t.Errorf("dispatcher lines = %v", h.dispatcher.lines)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("meta command hit the shell: %v", h.shell.commands())
	}
}

func TestUnknownMetaCommand(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "/frobnicate")
	if got := env.ErrorCode(); got != envelope.CodeUnknownCommand {
		t.Errorf("ErrorCode() = %q", got)
	}
}

func TestExitTrigger(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.router.Route(context.Background(), "/exit")
	if !errors.Is(err, ErrExit) {
		t.Errorf("Route(/exit) error = %v, want ErrExit", err)
	}
}

func TestForceBypassesTiers(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "/f rm -rf ./scratch")
	if !env.OK {
		t.Fatalf("env = %+v", env)
	}
	runs := h.shell.commands()
	if len(runs) != 1 || runs[0] != "rm -rf ./scratch" {
		t.Errorf("runs = %v", runs)
	}
	if h.assessor.calls != 0 || len(h.confirmed) != 0 {
		t.Error("forced run still consulted the safety pipeline")
	}
}

func TestForceRejectedExternally(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Mode = classify.ModeExternal })
	env := h.route(t, "/f rm -rf ./scratch")
	if got := env.ErrorCode(); got != envelope.CodeNotAllowed {
		t.Errorf("ErrorCode() = %q, want %q", got, envelope.CodeNotAllowed)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("external force ran: %v", h.shell.commands())
	}
}

func TestDeviceRoutingQueuesWhenOffline(t *testing.T) {
	h := newHarness(t, nil)
	h.channel.online = false
	env := h.route(t, "!laptop uptime")
	if !env.OK {
		t.Fatalf("env = %+v", env)
	}
	if !strings.Contains(env.Stdout, "queued") {
		t.Errorf("Stdout = %q", env.Stdout)
	}
	if h.queue.rows[1] != "pending" || h.queue.entries[1].CommandText != "uptime" {
		t.Errorf("queue = %v %v", h.queue.rows, h.queue.entries)
	}
	if len(h.channel.delivered) != 0 {
		t.Errorf("offline channel delivered %v", h.channel.delivered)
	}
}

func TestDeviceRoutingImmediateDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.channel.online = true
	env := h.route(t, "!laptop uptime")
	if !strings.Contains(env.Stdout, "routed to laptop") {
		t.Errorf("Stdout = %q", env.Stdout)
	}
	if h.queue.rows[1] != "done" {
		t.Errorf("row status = %q, want done", h.queue.rows[1])
	}
	if len(h.channel.delivered) != 1 || h.channel.delivered[0].CommandText != "uptime" {
		t.Errorf("delivered = %v", h.channel.delivered)
	}
	// The wire document carries the stored enqueue time, not a zero value.
	if h.channel.delivered[0].QueuedAt.IsZero() {
		t.Error("delivered QueuedAt is zero")
	}
	if h.channel.delivered[0].TargetDevice != "laptop" {
		t.Errorf("TargetDevice = %q", h.channel.delivered[0].TargetDevice)
	}
}

func TestDeviceRoutingDeliveryFailureKeepsRow(t *testing.T) {
	h := newHarness(t, nil)
	h.channel.online = true
	h.channel.deliverFn = func(remote.Delivery) error { return errors.New("relay 500") }
	env := h.route(t, "!laptop uptime")
	if !env.OK || !strings.Contains(env.Stdout, "queued") {
		t.Fatalf("env = %+v", env)
	}
	if h.queue.rows[1] != "pending" {
		t.Errorf("row status = %q, want pending for sync worker", h.queue.rows[1])
	}
}

func TestDeviceRoutingQueueIOError(t *testing.T) {
	h := newHarness(t, nil)
	h.queue.failErr = errors.New("disk full")
	env := h.route(t, "!laptop uptime")
	if got := env.ErrorCode(); got != envelope.CodeQueueIOError {
		t.Errorf("ErrorCode() = %q", got)
	}
}

func TestMalformedDeviceRoute(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "!laptop")
	if got := env.ErrorCode(); got != envelope.CodeParseError {
		t.Errorf("ErrorCode() = %q, want %q", got, envelope.CodeParseError)
	}
}

func TestNaturalLanguageTranslatesThenTiers(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Translator = &fakeTranslator{command: "ls -la"}
	})
	env := h.route(t, "isaac show me the files here")
	if !env.OK {
		t.Fatalf("env = %+v", env)
	}
	runs := h.shell.commands()
	if len(runs) != 1 || runs[0] != "ls -la" {
		t.Errorf("runs = %v", runs)
	}
	if env.Meta["translated_from"] != "show me the files here" {
		t.Errorf("meta = %v", env.Meta)
	}
}

func TestNaturalLanguageTranslatedCommandStillTiered(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Translator = &fakeTranslator{command: "rm -rf /tmp/things"}
	})
	env := h.route(t, "isaac clean up tmp things")
	if got := env.ErrorCode(); got != envelope.CodeLockdown {
		t.Errorf("ErrorCode() = %q, want lockdown for translated rm", got)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("translated lockdown command ran: %v", h.shell.commands())
	}
}

func TestNaturalLanguageWithoutTranslator(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "isaac do something")
	if env.OK {
		t.Fatal("env.OK = true without translator")
	}
	if !strings.Contains(env.Error.Message, "AI provider") {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestPipelineShortCircuitViaRouter(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "/missing | sort")
	if env.OK {
		t.Fatal("pipeline with failing head reported ok")
	}
	if got := env.ErrorCode(); got != envelope.CodeUnknownCommand {
		t.Errorf("ErrorCode() = %q", got)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("segments after failure ran: %v", h.shell.commands())
	}
}

func TestBareExitHints(t *testing.T) {
	h := newHarness(t, nil)
	env := h.route(t, "exit")
	if !strings.Contains(env.Stdout, "/exit") {
		t.Errorf("Stdout = %q, want hint to /exit", env.Stdout)
	}
	if len(h.shell.commands()) != 0 {
		t.Errorf("bare exit hit the shell")
	}
}
