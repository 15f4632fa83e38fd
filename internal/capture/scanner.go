package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"curio/internal/config"
	"curio/internal/entry"
	"curio/internal/entrystore"
	"curio/internal/fingerprint"
	"curio/internal/jobqueue"
	"curio/internal/logging"
)

// Listener is notified when a new entry is captured.
type Listener interface {
	EntryCaptured(ctx context.Context, record entry.Entry)
}

// Scanner polls watch roots, fingerprints new files in incoming/, and
// turns accepted captures into entries with their first stage job queued.
type Scanner struct {
	store    entrystore.Gateway
	queue    jobqueue.Enqueuer
	guard    *fingerprint.Guard
	roots    []config.WatchRoot
	interval time.Duration
	listener Listener
	logger   *slog.Logger

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewScanner wires a scanner over the configured watch roots. listener may
// be nil.
func NewScanner(store entrystore.Gateway, queue jobqueue.Enqueuer, cfg config.Ingest, listener Listener, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scanner{
		store:    store,
		queue:    queue,
		guard:    fingerprint.NewGuard(store),
		roots:    cfg.WatchRoots,
		interval: interval,
		listener: listener,
		logger:   logging.NewComponentLogger(logger, "capture"),
	}
}

// Start launches the polling loop.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scanner already running")
	}
	for _, root := range s.roots {
		if err := EnsureLayout(root.Path); err != nil {
			return err
		}
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop halts polling and waits for the in-flight scan to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scanner) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.ScanOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ScanOnce sweeps every watch root's incoming/ directory a single time.
func (s *Scanner) ScanOnce(ctx context.Context) {
	for _, root := range s.roots {
		if ctx.Err() != nil {
			return
		}
		s.scanRoot(ctx, root)
	}
}

func (s *Scanner) scanRoot(ctx context.Context, root config.WatchRoot) {
	incoming := filepath.Join(root.Path, DirIncoming)
	dirents, err := os.ReadDir(incoming)
	if err != nil {
		s.logger.Error("failed to read watch root",
			logging.Error(err),
			logging.String("watch_root", root.Name),
		)
		return
	}
	for _, dirent := range dirents {
		if ctx.Err() != nil {
			return
		}
		if dirent.IsDir() || skipFile(dirent.Name()) {
			continue
		}
		s.captureFile(ctx, root, filepath.Join(incoming, dirent.Name()))
	}
}

// skipFile filters dotfiles and in-flight copies still being written.
func skipFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".part", ".tmp", ".crdownload", ".swp":
		return true
	}
	return false
}

func (s *Scanner) captureFile(ctx context.Context, root config.WatchRoot, path string) {
	channel := "watch:" + root.Name
	logger := s.logger.With(
		logging.String("watch_root", root.Name),
		logging.String("path", path),
	)

	fp, algo, err := fingerprint.ComputeFile(path)
	if err != nil {
		logger.Error("failed to fingerprint capture", logging.Error(err))
		return
	}

	decision, err := s.guard.Evaluate(ctx, fp, channel)
	if err != nil {
		logger.Error("fingerprint guard failed", logging.Error(err))
		return
	}
	if !decision.ShouldProcess {
		// Already captured. Park the duplicate so the next sweep does
		// not reconsider it.
		if _, err := RollFile(path, DirFailed); err != nil {
			logger.Error("failed to park duplicate capture", logging.Error(err))
			return
		}
		logger.Info("skipped duplicate capture",
			logging.String(logging.FieldEventType, "capture_skipped"),
			logging.String("reason", decision.Reason),
			logging.String("existing_entry_id", decision.ExistingEntryID),
		)
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error("capture file vanished before processing", logging.Error(err))
		return
	}

	processingPath, err := RollFile(path, DirProcessing)
	if err != nil {
		logger.Error("failed to move capture into processing", logging.Error(err))
		return
	}

	record, err := s.store.CreateEntry(ctx, entry.NewParams{
		SourceType:    sourceTypeFor(root.Lane),
		SourceChannel: channel,
		SourcePath:    processingPath,
		Metadata: map[string]any{
			entry.MetadataKeyFingerprint:     fp,
			entry.MetadataKeyFingerprintAlgo: algo,
			"original_path":                  path,
			"file_size":                      info.Size(),
		},
	})
	if err != nil {
		// A concurrent producer won the unique-fingerprint race. Park
		// the file like any other duplicate.
		if _, rollErr := RollFile(processingPath, DirFailed); rollErr != nil {
			logger.Error("failed to park raced capture", logging.Error(rollErr))
		}
		logger.Error("failed to create entry", logging.Error(err))
		return
	}
	logger = logger.With(logging.String(logging.FieldEntryID, record.EntryID))

	if _, err := s.store.RecordCaptureEvent(ctx, record.EntryID, "file_moved", map[string]any{
		"from": path,
		"to":   processingPath,
	}); err != nil {
		logger.Error("failed to record file move", logging.Error(err))
	}

	queuedStatus, jobType := laneRoute(root.Lane)
	if _, err := s.store.UpdatePipelineStatus(ctx, record.EntryID, queuedStatus); err != nil {
		logger.Error("failed to queue entry", logging.Error(err))
		return
	}

	correlationID := uuid.NewString()
	if _, err := s.queue.Enqueue(ctx, jobType, jobqueue.Payload{
		jobqueue.PayloadEntryID:       record.EntryID,
		jobqueue.PayloadCorrelationID: correlationID,
		jobqueue.PayloadSourcePath:    processingPath,
		jobqueue.PayloadFingerprint:   fp,
	}); err != nil {
		logger.Error("failed to enqueue stage job", logging.Error(err))
		return
	}

	logger.Info("captured file",
		logging.String(logging.FieldEventType, "entry_captured"),
		logging.String(logging.FieldPipelineStatus, string(queuedStatus)),
		logging.String(logging.FieldCorrelationID, correlationID),
	)
	if s.listener != nil {
		s.listener.EntryCaptured(ctx, record)
	}
}

func sourceTypeFor(lane string) string {
	if lane == "audio" {
		return "voice"
	}
	return "document"
}

func laneRoute(lane string) (entry.Status, jobqueue.Type) {
	if lane == "audio" {
		return entry.StatusQueuedForTranscription, jobqueue.TypeTranscribeEntry
	}
	return entry.StatusQueuedForExtraction, jobqueue.TypeExtractEntry
}
