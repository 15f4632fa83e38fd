// Command curiod runs the curio capture and pipeline daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"curio/internal/config"
	"curio/internal/daemon"
	"curio/internal/entrystore"
	"curio/internal/jobqueue"
	"curio/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := entrystore.Open(cfg)
	if err != nil {
		logger.Error("open entry store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	queue, err := jobqueue.OpenSQLite(cfg)
	if err != nil {
		logger.Error("open job queue", logging.Error(err))
		os.Exit(1)
	}
	defer queue.Close()

	d, err := daemon.New(cfg, store, queue, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "curiod: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("curiod shutting down")
	d.Stop()
}
