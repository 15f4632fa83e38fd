package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"curio/internal/config"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	// openStores is replaceable in tests.
	openStores func(cfg *config.Config) (entrystore.Gateway, jobqueue.Queue, error)
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		openStores: func(cfg *config.Config) (entrystore.Gateway, jobqueue.Queue, error) {
			store, err := entrystore.Open(cfg)
			if err != nil {
				return nil, nil, err
			}
			queue, err := jobqueue.OpenSQLite(cfg)
			if err != nil {
				_ = store.Close()
				return nil, nil, err
			}
			return store, queue, nil
		},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStores opens the entry store and job queue for the duration of fn.
func (c *commandContext) withStores(fn func(cfg *config.Config, store entrystore.Gateway, queue jobqueue.Queue) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, queue, err := c.openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	defer queue.Close()
	return fn(cfg, store, queue)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
