package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateNormalization(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite", "memory":
		return nil
	default:
		return fmt.Errorf("store.backend must be \"sqlite\" or \"memory\", got %q", c.Store.Backend)
	}
}

func (c *Config) validateIngest() error {
	seen := make(map[string]struct{}, len(c.Ingest.WatchRoots))
	for i, root := range c.Ingest.WatchRoots {
		if _, dup := seen[root.Name]; dup {
			return fmt.Errorf("ingest.watch_roots[%d]: duplicate name %q", i, root.Name)
		}
		seen[root.Name] = struct{}{}
		switch root.Lane {
		case "audio", "document":
		default:
			return fmt.Errorf("ingest.watch_roots[%d].lane must be \"audio\" or \"document\", got %q", i, root.Lane)
		}
	}
	if c.Ingest.PollInterval <= 0 {
		return errors.New("ingest.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateNormalization() error {
	if c.Normalization.MaxChars <= 0 {
		return errors.New("normalization.max_chars must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval": c.Workflow.QueuePollInterval,
		"workflow.queue_lease_seconds": c.Workflow.QueueLeaseSeconds,
		"workflow.queue_max_attempts":  c.Workflow.QueueMaxAttempts,
	}); err != nil {
		return err
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
