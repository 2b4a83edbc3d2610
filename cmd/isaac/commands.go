package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cnc-n3r4/isaac/internal/router"
)

func buildReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.startWorker(ctx)

			fmt.Fprintf(os.Stderr, "isaac %s - %d plugins loaded, /exit to leave\n", version, a.registry.Len())
			for {
				fmt.Fprint(os.Stderr, "isaac> ")
				// Read through the shared reader so confirmation prompts
				// and the REPL never fight over buffered stdin.
				line, err := a.stdin.ReadString('\n')
				if err != nil {
					return nil
				}
				env, routeErr := a.router.Route(ctx, strings.TrimRight(line, "\n"))
				render(env)
				if errors.Is(routeErr, router.ErrExit) || ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

func buildRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <command line>",
		Short: "Run one line through the safety pipeline",
		Long: `Run classifies and executes a single line exactly like the REPL would.
Commands that would require interactive confirmation are declined; exit
status 1 reports any error envelope.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, routeErr := a.router.Route(ctx, strings.Join(args, " "))
			render(env)
			if errors.Is(routeErr, router.ErrExit) {
				return nil
			}
			if env != nil && !env.OK {
				return fmt.Errorf("command failed: %s", env.ErrorCode())
			}
			return nil
		},
	}
}

func buildPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect the plugin catalog",
	}
	cmd.AddCommand(buildPluginsListCmd(), buildPluginsReloadCmd())
	return cmd
}

func buildPluginsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tTRIGGERS\tSUMMARY")
			for _, m := range a.registry.Manifests() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					m.Name, m.Version, strings.Join(m.Keys(), " "), m.Summary)
			}
			return w.Flush()
		},
	}
}

func buildPluginsReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Rescan plugin roots and validate manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.registry.Load(); err != nil {
				return err
			}
			fmt.Printf("%d plugins loaded\n", a.registry.Len())
			return nil
		},
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("isaac %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func buildQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the device command queue",
	}
	cmd.AddCommand(buildQueueStatusCmd(), buildQueueSyncCmd())
	return cmd
}

func buildQueueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.store.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("pending: %d\nsyncing: %d\ndone: %d\nfailed: %d\n",
				stats.Pending, stats.Syncing, stats.Done, stats.Failed)
			if !stats.LastSynced.IsZero() {
				fmt.Printf("last synced: %s\n", stats.LastSynced.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func buildQueueSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass against the relay now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.close()
			if a.channel == nil {
				return fmt.Errorf("remote relay is not configured (set remote.enabled and remote.url)")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if pruned, err := a.store.PruneDone(a.cfg.Queue.Retention); err == nil && pruned > 0 {
				fmt.Printf("pruned %d delivered commands\n", pruned)
			}
			worker := newSyncWorker(a)
			n, err := worker.SyncOnce(ctx)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("relay is unreachable")
			}
			fmt.Printf("delivered %d commands\n", n)
			return nil
		},
	}
}
