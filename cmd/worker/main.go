// Package main is the entry point for the lotledger background worker.
// It periodically reports expiring batches and reorder candidates, checks
// that the ledger reproduces batch quantities, and purges idempotency keys.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"lotledger/internal/app"
	"lotledger/internal/config"
	"lotledger/pkg/logger"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	once := flag.Bool("once", false, "run a single scan and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Development,
		Service:     "lotledger-worker",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Infow("starting lotledger worker", "interval", cfg.Worker.ScanInterval)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize application", "error", err)
	}
	defer application.Close()

	if application.Pool == nil {
		log.Warn("worker is running on the in-memory store; it only sees its own process state")
	}

	scanner := app.NewScanner(application)
	if *once {
		if _, err := scanner.ScanOnce(ctx); err != nil {
			log.Errorw("scan failed", "error", err)
			application.Close()
			os.Exit(1)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner.Run(ctx, cfg.Worker.ScanInterval)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()

	wg.Wait()
	log.Info("worker stopped")
}
