// Package queue carries workflow executions over Kafka. Messages are keyed
// by pin id so every pin lands on one partition and is executed by a single
// consumer of the group at a time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"pincollector/internal/workflow"
)

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(broker, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		// Dispatch is called inline by submissions; do not hold messages
		// back waiting for a batch to fill.
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Dispatch publishes pinID for execution.
func (p *Producer) Dispatch(ctx context.Context, pinID string) error {
	const op = "queue.Dispatch"

	err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(pinID), Value: []byte(pinID)})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// messageReader is the part of *kafka.Reader the consumer relies on.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	log    *zap.Logger
	reader messageReader
	// retryDelay is the pause before a message whose execution failed with
	// a redeliverable error is handed to the handler again.
	retryDelay time.Duration
}

func NewConsumer(log *zap.Logger, broker, topic, group string) *Consumer {
	return &Consumer{
		log: log,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{broker},
			Topic:   topic,
			GroupID: group,
		}),
		retryDelay: time.Second,
	}
}

// Run feeds messages to handle until ctx is canceled. A message is
// committed once handle succeeds or fails with an error that redelivery
// cannot fix; redeliverable failures are retried in place, keeping the
// partition ordered.
func (c *Consumer) Run(ctx context.Context, handle workflow.Handler) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			c.log.Error("error reading message", zap.Error(err))
			continue
		}

		pinID := string(msg.Value)
		if !c.execute(ctx, handle, pinID) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("error committing message", zap.String("pin_id", pinID), zap.Error(err))
		}
	}
}

// execute runs handle for pinID until the message may be committed. It
// returns false when ctx is canceled first.
func (c *Consumer) execute(ctx context.Context, handle workflow.Handler, pinID string) bool {
	for {
		err := handle(ctx, pinID)
		if ctx.Err() != nil {
			return false
		}
		if err == nil {
			return true
		}
		if !workflow.Redeliverable(err) {
			c.log.Error("workflow execution failed, dropping message",
				zap.String("pin_id", pinID), zap.Error(err))
			return true
		}
		c.log.Warn("workflow execution failed, retrying",
			zap.String("pin_id", pinID), zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay):
		}
	}
}
