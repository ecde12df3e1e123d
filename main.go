package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dagscan/dag-indexer/internal/config"
	"github.com/dagscan/dag-indexer/internal/events"
	"github.com/dagscan/dag-indexer/internal/feed"
	"github.com/dagscan/dag-indexer/internal/indexer"
	"github.com/dagscan/dag-indexer/internal/server"
	"github.com/dagscan/dag-indexer/internal/store"
	"github.com/dagscan/dag-indexer/pkg"
	"go.uber.org/zap"
)

var (
	flagconf string
)

func init() {
	flag.StringVar(&flagconf, "conf", "./config.yaml", "config path, eg: -conf config.yaml")
}

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(flagconf)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, _ := pkg.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	// Open the index store
	st, err := store.New(cfg.Store, logger)
	if err != nil {
		logger.Fatal("Error opening store", zap.Error(err))
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Fatal("Store::Close", zap.Error(err))
		}
	}()

	// Resume the feed from the last durably applied point
	syncState, err := st.SyncState()
	if err != nil {
		logger.Fatal("Error reading sync state", zap.Error(err))
	}
	nodeFeed := feed.NewClient(cfg.Feed, logger, syncState.LastBlueScore, cfg.Indexer.EventBuf)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start ingestion pipeline
	pub := events.NewPublisher(logger)
	pipeline := indexer.NewPipeline(cfg, logger, st, nodeFeed, pub)
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		if err := pipeline.Run(ctx); err != nil {
			logger.Error("pipeline stopped", zap.Error(err))
			sigCh <- syscall.SIGTERM
		}
	}()

	// Start HTTP server
	httpServer := server.NewServer(cfg.Server, logger, st, nodeFeed)
	httpServer.Run()

	// Wait for signal
	<-sigCh
	logger.Info("Shutting down...")

	// Shutdown context
	cancel()
	<-pipelineDone

	// Shutdown HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Error shutting down HTTP server", zap.Error(err))
	}
}
