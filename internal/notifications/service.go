package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curio/internal/config"
	"curio/internal/entry"
)

const userAgent = "Curio-Go/0.1.0"

// Service is the notification surface exposed to the daemon.
type Service interface {
	NotifyEntryCaptured(ctx context.Context, record entry.Entry) error
	NotifyPipelineCompleted(ctx context.Context, record entry.Entry) error
	NotifyPipelineFailed(ctx context.Context, record entry.Entry, stage, code string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notifier backed by ntfy when a topic is configured,
// and a no-op otherwise.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		captured:  cfg.Notifications.Captured,
		processed: cfg.Notifications.Processed,
		errors:    cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	captured  bool
	processed bool
	errors    bool
}

func (n *ntfyService) NotifyEntryCaptured(ctx context.Context, record entry.Entry) error {
	if !n.captured {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Curio - Captured",
		message: fmt.Sprintf("Captured %s from %s", entryLabel(record), record.SourceChannel),
		tags:    []string{"curio", "capture", record.SourceType},
	})
}

func (n *ntfyService) NotifyPipelineCompleted(ctx context.Context, record entry.Entry) error {
	if !n.processed {
		return nil
	}
	return n.send(ctx, payload{
		title:   "Curio - Processed",
		message: fmt.Sprintf("Processed %s", entryLabel(record)),
		tags:    []string{"curio", "pipeline", "completed"},
	})
}

func (n *ntfyService) NotifyPipelineFailed(ctx context.Context, record entry.Entry, stage, code string) error {
	if !n.errors {
		return nil
	}
	return n.send(ctx, payload{
		title:    "Curio - Failed",
		message:  fmt.Sprintf("%s failed for %s (%s)", stage, entryLabel(record), code),
		tags:     []string{"curio", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:   "Curio - Test",
		message: "Notifications are working.",
		tags:    []string{"curio", "test"},
	})
}

// entryLabel prefers the display title and falls back to the entry id.
func entryLabel(record entry.Entry) string {
	if title := strings.TrimSpace(record.DisplayTitle); title != "" {
		return title
	}
	return record.EntryID
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyEntryCaptured(context.Context, entry.Entry) error { return nil }
func (noopService) NotifyPipelineCompleted(context.Context, entry.Entry) error {
	return nil
}
func (noopService) NotifyPipelineFailed(context.Context, entry.Entry, string, string) error {
	return nil
}
func (noopService) TestNotification(context.Context) error { return nil }
