package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"curio/internal/capture"
	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/extraction"
	"curio/internal/jobqueue"
	"curio/internal/logging"
	"curio/internal/normalization"
	"curio/internal/notifications"
	"curio/internal/preflight"
	"curio/internal/semantic"
	"curio/internal/services/llm"
	"curio/internal/stage"
	"curio/internal/transcription"
)

// Daemon coordinates the background services and enforces single-instance
// execution via a lock file in the data directory.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      entrystore.Gateway
	queue      jobqueue.Queue
	notifier   notifications.Service
	dispatcher *jobqueue.Dispatcher
	scanner    *capture.Scanner

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Entries      map[entry.State]int
	Queue        jobqueue.Stats
	LockFilePath string
}

// New constructs a daemon with the four stage workers registered and the
// watch-folder scanner prepared. The store and queue remain owned by the
// caller; the daemon never closes them.
func New(cfg *config.Config, store entrystore.Gateway, queue jobqueue.Queue, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || queue == nil {
		return nil, errors.New("daemon requires config, store, and queue")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewService(cfg)

	var gateway semantic.Gateway
	if cfg.SemanticGateway() {
		gateway = llm.NewClient(llm.Config{
			APIKey:         cfg.Semantic.APIKey,
			BaseURL:        cfg.Semantic.BaseURL,
			Model:          cfg.Semantic.Model,
			Referer:        cfg.Semantic.Referer,
			Title:          cfg.Semantic.Title,
			TimeoutSeconds: cfg.Semantic.TimeoutSeconds,
		})
	}

	poll := time.Duration(cfg.Workflow.QueuePollInterval) * time.Second
	dispatcher := jobqueue.NewDispatcher(queue, poll, logger)
	register := func(jobType jobqueue.Type, s stage.Stage) {
		dispatcher.Register(jobType, stage.NewWorker(s, store, queue, logger))
	}
	transcriber := transcription.NewCommandTranscriber(cfg.Transcription)
	register(jobqueue.TypeTranscribeEntry, transcription.NewStage(store, transcriber, cfg.Transcription, logger))
	register(jobqueue.TypeExtractEntry, extraction.NewStage(store, cfg.Extraction, logger))
	register(jobqueue.TypeNormalizeEntry, normalization.NewStage(store, cfg.Normalization))
	register(jobqueue.TypeSemanticEnrich, semantic.NewStage(store, gateway, cfg.Semantic, logger))
	dispatcher.SetObserver(&pipelineObserver{store: store, notifier: notifier, logger: logger})

	listener := &captureListener{notifier: notifier, logger: logger}
	scanner := capture.NewScanner(store, queue, cfg.Ingest, listener, logger)

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		queue:      queue,
		notifier:   notifier,
		dispatcher: dispatcher,
		scanner:    scanner,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, runs preflight, and launches the
// dispatcher and scanner.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curio daemon instance is already running")
	}

	if failed := preflight.Failed(preflight.RunAll(ctx, d.cfg)); len(failed) > 0 {
		_ = d.lock.Unlock()
		details := make([]string, 0, len(failed))
		for _, check := range failed {
			details = append(details, fmt.Sprintf("%s: %s", check.Name, check.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(details, "; "))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.dispatcher.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := d.scanner.Start(runCtx); err != nil {
		d.dispatcher.Stop()
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start scanner: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("curio daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()),
	)
	return nil
}

// Stop halts the scanner and dispatcher and releases the daemon lock.
// New captures stop first so in-flight jobs can drain.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.scanner.Stop()
	d.dispatcher.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("curio daemon stopped")
}

// Close stops the daemon. Store and queue handles stay open for the caller.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Status reports current runtime counters.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	status := Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
	}
	entries, err := d.store.StatsByIngestState(ctx)
	if err != nil {
		return status, fmt.Errorf("entry stats: %w", err)
	}
	status.Entries = entries
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		return status, fmt.Errorf("queue stats: %w", err)
	}
	status.Queue = stats
	return status, nil
}

// TestNotification sends a test message using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) error {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return errors.New("ntfy topic not configured")
	}
	return d.notifier.TestNotification(ctx)
}
