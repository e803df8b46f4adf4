// Package agent ingests sample batches published by remote probe agents.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/czerwonk/latency_lab/engine"
)

// DefaultTopic is the topic agents publish their batches to.
const DefaultTopic = "latency-samples"

// retryDelay is waited after a failed read before trying again.
const retryDelay = time.Second

// Ingester accepts sample batches, usually an *engine.Engine.
type Ingester interface {
	IngestBatch(ctx context.Context, batch []engine.RawSample) engine.BatchResult
}

// Config configures the consumer.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads JSON encoded sample batches from a Kafka topic. Every
// message value is a JSON array of samples.
type Consumer struct {
	reader   messageReader
	ingester Ingester
}

// NewConsumer creates a consumer reading from cfg.Topic.
func NewConsumer(cfg Config, ing Ingester) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	log.Infof("Consuming agent samples from %s on %v", cfg.Topic, cfg.Brokers)

	return &Consumer{reader: r, ingester: ing}, nil
}

// Run consumes messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			log.Errorf("could not read agent message: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retryDelay):
			}
			continue
		}

		res, err := c.handle(ctx, msg)
		if err != nil {
			log.Warnf("discarding agent message at offset %d: %v", msg.Offset, err)
			continue
		}
		if res.Rejected > 0 {
			log.Warnf("agent batch at offset %d: %d accepted, %d rejected (first: %s)",
				msg.Offset, res.Accepted, res.Rejected, res.Rejections[0].Reason)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) (engine.BatchResult, error) {
	var batch []engine.RawSample
	if err := json.Unmarshal(msg.Value, &batch); err != nil {
		return engine.BatchResult{}, fmt.Errorf("invalid batch: %w", err)
	}

	return c.ingester.IngestBatch(ctx, batch), nil
}
