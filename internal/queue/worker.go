package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/cnc-n3r4/isaac/internal/backoff"
	"github.com/cnc-n3r4/isaac/internal/remote"
)

// WorkerConfig tunes the background sync loop.
type WorkerConfig struct {
	// PollInterval is the idle delay between sync passes.
	PollInterval time.Duration
	// BatchSize caps commands taken per pass.
	BatchSize int
	// RetryCeiling is the attempt count after which a command is parked
	// as failed.
	RetryCeiling int
	// StaleTimeout returns crash-orphaned syncing rows to pending.
	StaleTimeout time.Duration
	// Backoff stretches the delay between passes after failed deliveries.
	Backoff backoff.Policy
	// DeliveryBackoff paces consecutive failed deliveries inside one pass.
	DeliveryBackoff backoff.Policy
}

// DefaultWorkerConfig mirrors the documented queue defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:    5 * time.Second,
		BatchSize:       10,
		RetryCeiling:    8,
		StaleTimeout:    5 * time.Minute,
		Backoff:         backoff.SyncPolicy(),
		DeliveryBackoff: backoff.DeliveryPolicy(),
	}
}

// Worker drains the queue to a remote channel in the background.
type Worker struct {
	store   *Store
	channel remote.Channel
	cfg     WorkerConfig
	logger  *slog.Logger
	done    chan struct{}
	stopped chan struct{}
}

// NewWorker builds a sync worker; call Start to begin draining.
func NewWorker(store *Store, channel remote.Channel, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWorkerConfig().BatchSize
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = DefaultWorkerConfig().RetryCeiling
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = DefaultWorkerConfig().StaleTimeout
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.SyncPolicy()
	}
	if cfg.DeliveryBackoff == (backoff.Policy{}) {
		cfg.DeliveryBackoff = backoff.DeliveryPolicy()
	}
	return &Worker{
		store:   store,
		channel: channel,
		cfg:     cfg,
		logger:  logger.With("component", "sync_worker"),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the poll loop. Stop waits for the in-flight pass to end.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop signals the loop and waits for it to exit.
func (w *Worker) Stop() {
	close(w.done)
	<-w.stopped
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.stopped)
	// Failed deliveries stretch the next pass up to the backoff ceiling;
	// a clean pass snaps back to the poll interval. An offline channel is
	// simply re-checked at the plain interval without engaging backoff.
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-time.After(w.nextDelay(failures)):
		}

		res, err := w.syncPass(ctx)
		if err != nil {
			w.logger.Warn("sync pass failed", "error", err, "consecutive_failures", failures+1)
		}
		failures = nextFailures(failures, res, err)
	}
}

// nextDelay is the wait before the next pass: the poll interval while the
// queue is healthy, the shared backoff once deliveries fail.
func (w *Worker) nextDelay(failures int) time.Duration {
	if failures <= 0 {
		return w.cfg.PollInterval
	}
	return backoff.Compute(w.cfg.Backoff, failures)
}

// nextFailures folds one pass outcome into the shared failure counter. A
// pass error grows it by one, each failed delivery grows it by one, and a
// clean or offline pass resets it to the floor.
func nextFailures(failures int, res passResult, err error) int {
	switch {
	case err != nil:
		return failures + 1
	case res.offline:
		return 0
	case res.failed > 0:
		return failures + res.failed
	default:
		return 0
	}
}

// passResult summarizes one sync pass.
type passResult struct {
	delivered int
	failed    int
	offline   bool
}

// SyncOnce runs a single sync pass. It returns the number of commands
// delivered, or -1 when the channel was unavailable and nothing was tried.
func (w *Worker) SyncOnce(ctx context.Context) (int, error) {
	res, err := w.syncPass(ctx)
	if err != nil {
		return res.delivered, err
	}
	if res.offline {
		return -1, nil
	}
	return res.delivered, nil
}

func (w *Worker) syncPass(ctx context.Context) (passResult, error) {
	var res passResult
	if n, err := w.store.ResetStaleSyncing(w.cfg.StaleTimeout); err != nil {
		return res, err
	} else if n > 0 {
		w.logger.Info("recovered stale syncing rows", "rows", n)
	}

	if !w.channel.Available(ctx) {
		res.offline = true
		return res, nil
	}

	batch, err := w.store.DequeuePending(w.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	// A failed delivery blocks the rest of its device's batch, so commands
	// always reach a device in queued_at order.
	blocked := make(map[string]struct{})
	for _, cmd := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, skip := blocked[cmd.TargetDevice]; skip {
			continue
		}
		if err := w.store.MarkSyncing(cmd.ID); err != nil {
			return res, err
		}
		err := w.channel.Deliver(ctx, remote.Delivery{
			ID:           cmd.ID,
			CommandText:  cmd.CommandText,
			TargetDevice: cmd.TargetDevice,
			QueuedAt:     cmd.QueuedAt,
			Metadata:     cmd.Metadata,
		})
		if err != nil {
			res.failed++
			blocked[cmd.TargetDevice] = struct{}{}
			final := cmd.RetryCount+1 >= w.cfg.RetryCeiling
			if markErr := w.store.MarkFailed(cmd.ID, err.Error(), final); markErr != nil {
				return res, markErr
			}
			w.logger.Warn("delivery failed",
				"id", cmd.ID, "device", cmd.TargetDevice,
				"attempt", cmd.RetryCount+1, "parked", final, "error", err)
			if err := backoff.Sleep(ctx, w.cfg.DeliveryBackoff, res.failed); err != nil {
				return res, err
			}
			continue
		}
		if err := w.store.MarkDone(cmd.ID); err != nil {
			return res, err
		}
		res.delivered++
	}
	if res.delivered > 0 {
		w.logger.Info("sync pass complete", "delivered", res.delivered, "batch", len(batch))
	}
	return res, nil
}
