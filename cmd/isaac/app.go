package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cnc-n3r4/isaac/internal/ai"
	"github.com/cnc-n3r4/isaac/internal/audit"
	"github.com/cnc-n3r4/isaac/internal/classify"
	"github.com/cnc-n3r4/isaac/internal/config"
	"github.com/cnc-n3r4/isaac/internal/dispatch"
	"github.com/cnc-n3r4/isaac/internal/manifest"
	"github.com/cnc-n3r4/isaac/internal/pipeline"
	"github.com/cnc-n3r4/isaac/internal/queue"
	"github.com/cnc-n3r4/isaac/internal/remote"
	"github.com/cnc-n3r4/isaac/internal/router"
	"github.com/cnc-n3r4/isaac/internal/shell"
	"github.com/cnc-n3r4/isaac/internal/tier"
	"github.com/cnc-n3r4/isaac/pkg/envelope"
)

// app owns the wired component graph for one CLI invocation.
type app struct {
	cfg      *config.Config
	registry *manifest.Registry
	watcher  *manifest.Watcher
	store    *queue.Store
	worker   *queue.Worker
	channel  remote.Channel
	trail    *audit.Trail
	router   *router.Router
	stdin    *bufio.Reader
	logger   *slog.Logger
}

// newApp loads configuration and wires every component. interactive
// controls whether confirmations can be answered from stdin and whether
// the manifest watcher runs.
func newApp(interactive bool) (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	registry := manifest.NewRegistry(cfg.PluginPaths, logger)
	if err := registry.Load(); err != nil {
		return nil, err
	}

	trail, err := audit.NewTrail(audit.Config{
		Enabled: cfg.Audit.Enabled,
		Output:  cfg.Audit.Output,
	})
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Queue.Path), 0o700); err != nil {
		logger.Warn("cannot create queue directory", "error", err)
	}
	store, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		_ = trail.Close()
		return nil, err
	}

	var channel remote.Channel
	if cfg.Remote.Enabled {
		httpChannel, err := remote.NewHTTPChannel(cfg.Remote.URL)
		if err != nil {
			_ = store.Close()
			_ = trail.Close()
			return nil, err
		}
		channel = httpChannel
	}

	var assessor ai.Assessor
	var translator ai.Translator
	if cfg.AI.Enabled {
		client, err := ai.NewClient(cfg.AI.Provider, cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Model)
		if err != nil {
			logger.Warn("AI provider unavailable, risky commands will require confirmation", "error", err)
		} else {
			assessor = client
			translator = client
		}
	}

	cwd, _ := os.Getwd()
	session := dispatch.Session{
		ID:         uuid.NewString(),
		Device:     cfg.Device,
		WorkingDir: cwd,
	}
	trail.Record(audit.EventRegistryLoad, session.ID, "", map[string]any{
		"plugins": registry.Len(),
		"paths":   cfg.PluginPaths,
	})
	localShell := shell.NewLocal(cfg.Shell)
	dispatcher := dispatch.New(registry, logger)
	engine := pipeline.NewEngine(dispatcher, localShell, logger)

	a := &app{
		cfg:      cfg,
		registry: registry,
		store:    store,
		channel:  channel,
		trail:    trail,
		stdin:    bufio.NewReader(os.Stdin),
		logger:   logger,
	}

	var confirmer router.Confirmer
	if interactive {
		confirmer = router.ConfirmerFunc(a.promptYesNo)
	} else {
		// Non-interactive sessions decline anything that needs a human.
		confirmer = router.ConfirmerFunc(func(string) (bool, error) { return false, nil })
	}

	a.router = router.New(router.Options{
		Mode:       classify.Mode(cfg.Mode),
		Validator:  tier.NewValidator(cfg.TierOverrides),
		Dispatcher: dispatcher,
		Pipeline:   engine,
		Shell:      localShell,
		Assessor:   assessor,
		Translator: translator,
		Queue:      store,
		Channel:    channel,
		Confirmer:  confirmer,
		Trail:      trail,
		Session:    session,
		Logger:     logger,
	})

	if interactive {
		watcher, err := manifest.NewWatcher(registry, logger)
		if err != nil {
			logger.Warn("manifest watcher unavailable", "error", err)
		} else {
			a.watcher = watcher
		}
	}
	return a, nil
}

// startWorker launches the background sync worker when a relay is
// configured.
func (a *app) startWorker(ctx context.Context) {
	if a.channel == nil {
		return
	}
	a.worker = queue.NewWorker(a.store, a.channel, queue.WorkerConfig{
		PollInterval: a.cfg.Queue.PollInterval,
		BatchSize:    a.cfg.Queue.BatchSize,
		RetryCeiling: a.cfg.Queue.RetryCeiling,
		StaleTimeout: a.cfg.Queue.StaleTimeout,
	}, a.logger)
	a.worker.Start(ctx)
}

// newSyncWorker builds a worker for one-shot sync passes.
func newSyncWorker(a *app) *queue.Worker {
	return queue.NewWorker(a.store, a.channel, queue.WorkerConfig{
		PollInterval: a.cfg.Queue.PollInterval,
		BatchSize:    a.cfg.Queue.BatchSize,
		RetryCeiling: a.cfg.Queue.RetryCeiling,
		StaleTimeout: a.cfg.Queue.StaleTimeout,
	}, a.logger)
}

func (a *app) close() {
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	_ = a.store.Close()
	_ = a.trail.Close()
}

// promptYesNo asks on the terminal and reads one line from stdin.
func (a *app) promptYesNo(prompt string) (bool, error) {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", prompt)
	line, err := a.stdin.ReadString('\n')
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// render prints an envelope for a human.
func render(env *envelope.Envelope) {
	if env == nil {
		return
	}
	if env.OK {
		if env.Stdout != "" {
			fmt.Print(env.Stdout)
			if !strings.HasSuffix(env.Stdout, "\n") {
				fmt.Println()
			}
		}
		if env.Meta["truncated"] == true {
			fmt.Fprintln(os.Stderr, "(output truncated)")
		}
		return
	}
	code := env.ErrorCode()
	msg := ""
	if env.Error != nil {
		msg = env.Error.Message
	}
	fmt.Fprintf(os.Stderr, "error[%s]: %s\n", code, msg)
	if env.Error != nil && env.Error.Hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", env.Error.Hint)
	}
}
