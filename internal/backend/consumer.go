package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/sensor-telemetry/pkg/metrics"
	"procodus.dev/sensor-telemetry/pkg/mq"
)

const defaultReadyTimeout = 30 * time.Second

// Consumer feeds JSON payloads from a RabbitMQ queue through the Ingestor.
type Consumer struct {
	logger       *slog.Logger
	client       mq.ClientInterface
	ingestor     *Ingestor
	metrics      *metrics.MQMetrics
	queue        string
	readyTimeout time.Duration
	done         chan struct{}
	startOnce    sync.Once
	started      bool
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger   *slog.Logger
	Client   mq.ClientInterface
	Ingestor *Ingestor

	// Queue labels metrics; it does not change what Client consumes.
	Queue string

	// ReadyTimeout bounds how long Start waits for the broker connection.
	ReadyTimeout time.Duration

	Metrics *metrics.MQMetrics
}

// NewConsumer creates a new Consumer instance. The consumer takes ownership
// of the client and closes it on Stop.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}

	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}

	return &Consumer{
		logger:       cfg.Logger,
		client:       cfg.Client,
		ingestor:     cfg.Ingestor,
		metrics:      cfg.Metrics,
		queue:        cfg.Queue,
		readyTimeout: readyTimeout,
		done:         make(chan struct{}),
	}, nil
}

// Start waits for the broker connection and begins consuming in the
// background. Processing stops when ctx is canceled or the delivery channel
// closes.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	if err := c.waitReady(ctx); err != nil {
		return err
	}

	deliveries, err := c.client.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started, waiting for messages")

	c.startOnce.Do(func() {
		c.started = true
		go c.processMessages(ctx, deliveries)
	})

	return nil
}

func (c *Consumer) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for !c.client.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("mq client not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.ConsumeDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
	}

	payload, err := DecodePayload(delivery.Body)
	if err != nil {
		c.logger.Error("dropping malformed message", "error", err)
		c.ingestor.Rejected(SourceAMQP, "malformed")
		c.consumeFailed("malformed")
		// Redelivery would fail the same way.
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	reading, err := c.ingestor.Ingest(ctx, SourceAMQP, payload)
	if err != nil {
		c.logger.Error("failed to store reading from queue", "error", err)
		c.consumeFailed("store")
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}

	if c.metrics != nil {
		c.metrics.MessagesConsumed.WithLabelValues(c.queue).Inc()
	}
	c.logger.Debug("reading consumed", "id", reading.ID)
}

func (c *Consumer) consumeFailed(reason string) {
	if c.metrics != nil {
		c.metrics.ConsumptionFailures.WithLabelValues(c.queue, reason).Inc()
	}
}

// Stop closes the MQ client and waits for in-flight processing to finish.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	if c.started {
		<-c.done
	}

	c.logger.Info("consumer stopped")
	return nil
}
