package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/autopay-hq/autopay-engine/pkg/chainclient"
	"github.com/autopay-hq/autopay-engine/pkg/config"
	"github.com/autopay-hq/autopay-engine/pkg/engine"
	"github.com/autopay-hq/autopay-engine/pkg/health"
	"github.com/autopay-hq/autopay-engine/pkg/logger"
	"github.com/autopay-hq/autopay-engine/pkg/store"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	stdLogger := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to the chain: the client serves as gas oracle, balance
	// oracle, payment executor and transfer event source
	chain, err := chainclient.New(ctx, cfg.RPCURL, cfg.TokenAddress, cfg.PrivateKey, stdLogger)
	if err != nil {
		log.Fatalf("Failed to connect to chain: %v", err)
	}
	defer chain.Close()

	// Track chain liveness for the readiness endpoint
	go chain.WatchHeads(ctx)

	// Schedule storage: the indexing service when configured, otherwise
	// a process-local store
	var orders store.OrderStore
	if cfg.IndexerEndpoint != "" {
		orders = store.NewIndexerClient(cfg.IndexerEndpoint, stdLogger)
	} else {
		stdLogger.Notice("No indexer endpoint configured, using in-memory schedule store")
		orders = store.NewMemoryStore()
	}

	eng := engine.New(cfg, engine.Collaborators{
		Orders:   orders,
		Gas:      chain,
		Balance:  chain,
		Executor: chain,
		Events:   chain,
	}, stdLogger)

	// Start health monitoring server
	healthServer := health.NewServer(cfg.MetricsPort, eng, chain, stdLogger)
	go healthServer.Start()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		stdLogger.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Start the engine, blocks until the context is cancelled
	stdLogger.Notice("Starting the payment engine...")
	eng.Start(ctx)
}
