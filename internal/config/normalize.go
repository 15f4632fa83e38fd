package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeIngest(); err != nil {
		return err
	}
	c.normalizeStore()
	c.normalizeSemantic()
	c.normalizeWorkflow()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	if strings.TrimSpace(c.Store.SQLitePath) != "" {
		if expanded, err := expandPath(c.Store.SQLitePath); err == nil {
			c.Store.SQLitePath = expanded
		}
	}
}

func (c *Config) normalizeIngest() error {
	if c.Ingest.PollInterval <= 0 {
		c.Ingest.PollInterval = defaultPollIntervalSeconds
	}
	if c.Ingest.MinFreeSpaceGiB < 0 {
		c.Ingest.MinFreeSpaceGiB = 0
	}
	roots := make([]WatchRoot, 0, len(c.Ingest.WatchRoots))
	for i, root := range c.Ingest.WatchRoots {
		root.Name = strings.TrimSpace(root.Name)
		root.Path = strings.TrimSpace(root.Path)
		if root.Path == "" {
			return fmt.Errorf("ingest.watch_roots[%d].path must be set", i)
		}
		expanded, err := expandPath(root.Path)
		if err != nil {
			return fmt.Errorf("ingest.watch_roots[%d].path: %w", i, err)
		}
		root.Path = expanded
		if root.Name == "" {
			root.Name = strings.ToLower(strings.ReplaceAll(strings.TrimLeft(root.Path, "/"), "/", "_"))
		}
		root.Lane = strings.ToLower(strings.TrimSpace(root.Lane))
		if root.Lane == "" {
			lower := strings.ToLower(root.Name)
			if strings.Contains(lower, "audio") || strings.Contains(lower, "voice") {
				root.Lane = "audio"
			} else {
				root.Lane = "document"
			}
		}
		roots = append(roots, root)
	}
	c.Ingest.WatchRoots = roots
	return nil
}

func (c *Config) normalizeSemantic() {
	c.Semantic.APIKey = strings.TrimSpace(c.Semantic.APIKey)
	if c.Semantic.APIKey == "" {
		if value, ok := os.LookupEnv("CURIO_SEMANTIC_API_KEY"); ok {
			c.Semantic.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Semantic.APIKey = strings.TrimSpace(value)
		}
	}
	c.Semantic.BaseURL = strings.TrimSpace(c.Semantic.BaseURL)
	if c.Semantic.BaseURL == "" {
		c.Semantic.BaseURL = defaultSemanticBaseURL
	}
	c.Semantic.Model = strings.TrimSpace(c.Semantic.Model)
	if c.Semantic.Model == "" {
		c.Semantic.Model = defaultSemanticModel
	}
	if c.Semantic.TimeoutSeconds <= 0 {
		c.Semantic.TimeoutSeconds = defaultSemanticTimeoutSec
	}
	if c.Semantic.MaxRetryAttempts <= 0 {
		c.Semantic.MaxRetryAttempts = defaultSemanticMaxAttempts
	}
	if c.Semantic.RetryBackoffMs < 0 {
		c.Semantic.RetryBackoffMs = defaultSemanticBackoffMs
	}
	if c.Semantic.MaxPreviewChars <= 0 {
		c.Semantic.MaxPreviewChars = defaultSemanticPreviewChars
	}
	if c.Semantic.MaxDeepChars <= 0 {
		c.Semantic.MaxDeepChars = defaultSemanticDeepChars
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.QueuePollInterval <= 0 {
		c.Workflow.QueuePollInterval = defaultQueuePollSeconds
	}
	if c.Workflow.QueueLeaseSeconds <= 0 {
		c.Workflow.QueueLeaseSeconds = defaultQueueLeaseSeconds
	}
	if c.Workflow.QueueMaxAttempts <= 0 {
		c.Workflow.QueueMaxAttempts = defaultQueueMaxAttempts
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}
