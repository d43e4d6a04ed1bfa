// Command api runs the indexer's read-only HTTP lookup facade.
package main

import (
	"context"
	"log"

	"github.com/paymaster-labs/pm-indexer/internal/config"
	"github.com/paymaster-labs/pm-indexer/internal/httpapi"
	"github.com/paymaster-labs/pm-indexer/internal/metrics"
	"github.com/paymaster-labs/pm-indexer/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("api: load config: %v", err)
	}

	storageReader, err := storage.NewWriter(context.Background(), cfg.Storage.TimescaleDBURL)
	if err != nil {
		log.Fatalf("api: connect timescale: %v", err)
	}
	defer storageReader.Close()

	m := metrics.New()

	srv := httpapi.New(storageReader, m, cfg.APIHost, cfg.APIPort)
	srv.Start()
}
