package bus

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/segmentio/kafka-go"

	"github.com/paymaster-labs/pm-indexer/internal/config"
	"github.com/paymaster-labs/pm-indexer/internal/model"
)

// MergeCoordinator is the subset of merge.Coordinator the consumer needs.
type MergeCoordinator interface {
	UpdatePolicy(ctx context.Context, userOpHash string, partial model.PolicyData) error
}

// StorageWriter is the subset of storage.Writer the consumer needs.
type StorageWriter interface {
	UpsertUserOpFact(ctx context.Context, fact model.UserOpFact) error
}

// Consumer reads UserOpMessage records off the lifecycle bus and dispatches
// them to the Merge Coordinator and Storage Writer, per spec.md §4.4.
type Consumer struct {
	reader  *kafka.Reader
	merge   MergeCoordinator
	storage StorageWriter
}

// New builds a consumer bound to the configured broker, topics and group.
func New(cfg config.StorageConfig, merge MergeCoordinator, storage StorageWriter) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{cfg.KafkaBroker},
		GroupTopics: cfg.KafkaTopics,
		GroupID: cfg.KafkaGroupID,
	})
	return &Consumer{reader: reader, merge: merge, storage: storage}
}

// Run reads messages until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			log.Printf("bus: read failed: %v", err)
			continue
		}
		c.handle(ctx, m.Value)
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		log.Printf("bus: %v", err)
		return
	}

	if partial, ok := msg.PolicyPartial(); ok {
		if err := c.merge.UpdatePolicy(ctx, msg.UserOpHash, partial); err != nil {
			log.Printf("bus: update policy for %s: %v", msg.UserOpHash, err)
		}
	}

	if err := c.storage.UpsertUserOpFact(ctx, msg.ToFact()); err != nil {
		log.Printf("bus: upsert %s: %v", msg.UserOpHash, err)
	}
}
