package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storefront-triage/internal/config"
	"storefront-triage/internal/schema"

	"github.com/segmentio/kafka-go"
)

// Consumer reads security events from Kafka and feeds them into the buffer.
type Consumer struct {
	reader    *kafka.Reader
	buffer    *Buffer
	validator *schema.Validator
	logger    *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	consumed atomic.Int64
	rejected atomic.Int64
}

// NewConsumer creates a Kafka consumer for the given topic configuration.
func NewConsumer(cfg config.KafkaConfig, buffer *Buffer, validator *schema.Validator, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("eventlog: at least one kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("eventlog: kafka topic is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		reader:    reader,
		buffer:    buffer,
		validator: validator,
		logger:    logger.With("component", "event-consumer"),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start begins consuming in a goroutine. Use Stop to shut down.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("eventlog: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop()
	}()

	c.logger.Info("event consumer started")
	return nil
}

func (c *Consumer) consumeLoop() {
	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		c.handleMessage(msg)

		if err := c.reader.CommitMessages(c.ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("failed to commit offset", "error", err, "offset", msg.Offset)
		}
	}
}

// handleMessage decodes and validates one event. Malformed messages are
// logged and dropped; they are still committed so the partition keeps
// moving.
func (c *Consumer) handleMessage(msg kafka.Message) {
	var event schema.SecurityEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.rejected.Add(1)
		c.logger.Warn("dropping malformed event message",
			"error", err, "offset", msg.Offset)
		return
	}

	if err := c.validator.ValidateEvent(&event); err != nil {
		c.rejected.Add(1)
		c.logger.Warn("dropping invalid event",
			"error", err, "event_id", event.ID, "type", event.Type)
		return
	}

	if err := c.buffer.Add(event); err != nil {
		c.rejected.Add(1)
		c.logger.Debug("dropping duplicate event", "event_id", event.ID)
		return
	}

	c.consumed.Add(1)
}

// Stats returns consumed and rejected message counts.
func (c *Consumer) Stats() (consumed, rejected int64) {
	return c.consumed.Load(), c.rejected.Load()
}

// Stop cancels the consume loop and closes the reader.
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.reader.Close()
}
