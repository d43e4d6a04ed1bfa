// Command indexer runs the paymaster indexer's ingestion pipeline: one
// chain listener per active chain, the lifecycle bus consumer, and the
// fusion processor, all under a panic-recovering supervisor.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/paymaster-labs/pm-indexer/internal/bus"
	"github.com/paymaster-labs/pm-indexer/internal/cache"
	"github.com/paymaster-labs/pm-indexer/internal/chain"
	"github.com/paymaster-labs/pm-indexer/internal/config"
	"github.com/paymaster-labs/pm-indexer/internal/fusion"
	"github.com/paymaster-labs/pm-indexer/internal/merge"
	"github.com/paymaster-labs/pm-indexer/internal/metrics"
	"github.com/paymaster-labs/pm-indexer/internal/storage"
	"github.com/paymaster-labs/pm-indexer/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("indexer: load config: %v", err)
	}
	log.Printf("Starting %s", cfg.General.IndexerName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := cache.NewClient(cfg.Storage.RedisURL)
	if err != nil {
		log.Fatalf("indexer: connect redis: %v", err)
	}
	defer redisClient.Close()

	storageWriter, err := storage.NewWriter(ctx, cfg.Storage.TimescaleDBURL)
	if err != nil {
		log.Fatalf("indexer: connect timescale: %v", err)
	}
	defer storageWriter.Close()

	m := metrics.New()
	storageWriter.SetMetrics(m)

	mergeCoordinator := merge.New(redisClient)
	mergeCoordinator.SetMetrics(m)

	chainLogs := make(chan chain.ChainLog, 100)

	sup := supervisor.New()

	for name, chainCfg := range cfg.Chains {
		if !chainCfg.Active {
			log.Printf("indexer: chain %s is inactive, skipping", name)
			continue
		}

		provider, err := chain.Dial(chainCfg.RPCURL)
		if err != nil {
			log.Fatalf("indexer: dial chain %s: %v", name, err)
		}

		listener := chain.New(chainCfg, provider, redisClient, chainLogs)
		listener.SetMetrics(m)

		taskName := "chain-listener:" + name
		sup.Go(ctx, taskName, listener.Run)
	}

	busConsumer := bus.New(cfg.Storage, mergeCoordinator, storageWriter)
	sup.Go(ctx, "bus-consumer", busConsumer.Run)

	processor := fusion.New(cfg.Chains, mergeCoordinator, storageWriter, chainLogs)
	processor.SetMetrics(m)
	sup.Go(ctx, "fusion-processor", processor.Run)

	sup.Wait()
	log.Println("indexer: shut down")
	os.Exit(0)
}
