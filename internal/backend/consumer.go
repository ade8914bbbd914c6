package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/mq"
)

const (
	consumeRetryInterval = 500 * time.Millisecond
	consumeStartTimeout  = 30 * time.Second
)

// AlertSink persists decoded alerts.
type AlertSink interface {
	SaveAlert(ctx context.Context, alert *RiskAlert) (bool, error)
}

// Consumer reads risk alerts from RabbitMQ and stores them.
type Consumer struct {
	logger       *slog.Logger
	sink         AlertSink
	mqClient     mq.ClientInterface
	metrics      *metrics.BackendMetrics
	startTimeout time.Duration

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var errConsumerStopped = errors.New("consumer stopped")

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger   *slog.Logger
	Sink     AlertSink
	MQClient mq.ClientInterface

	// StartTimeout bounds how long Start waits for the broker. Zero means 30s.
	StartTimeout time.Duration

	// Metrics is optional.
	Metrics *metrics.BackendMetrics
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Sink == nil {
		return nil, errors.New("alert sink cannot be nil")
	}

	if cfg.MQClient == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = consumeStartTimeout
	}

	return &Consumer{
		logger:       cfg.Logger,
		sink:         cfg.Sink,
		mqClient:     cfg.MQClient,
		metrics:      cfg.Metrics,
		startTimeout: timeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Start subscribes to the queue, waiting for the client to connect, and
// processes deliveries in the background until ctx ends or Stop is called.
// A deliveries channel closed by a broker reconnect is resubscribed.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	deliveries, err := c.subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.stop:
		c.mu.Unlock()
		return fmt.Errorf("failed to start consuming: %w", errConsumerStopped)
	default:
	}
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already started")
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("consumer started, waiting for messages")

	go c.processMessages(ctx, deliveries)

	return nil
}

func (c *Consumer) subscribe(ctx context.Context) (<-chan amqp.Delivery, error) {
	deadline := time.NewTimer(c.startTimeout)
	defer deadline.Stop()

	for {
		deliveries, err := c.mqClient.Consume()
		if err == nil {
			return deliveries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.stop:
			return nil, errConsumerStopped
		case <-deadline.C:
			return nil, err
		case <-time.After(consumeRetryInterval):
		}
	}
}

func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case <-c.stop:
			c.logger.Info("consumer stopping, ending message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil || c.stopping() {
					return
				}

				c.logger.Warn("deliveries channel closed, resubscribing")
				var err error
				deliveries, err = c.subscribe(ctx)
				if err != nil {
					c.logger.Error("failed to resubscribe, stopping message processing", "error", err)
					return
				}
				c.logger.Info("consumer resubscribed")
				continue
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery stores one alert. Malformed bodies are dropped; store
// failures are requeued.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	alert, err := decodeAlert(delivery.Body)
	if err != nil {
		c.logger.Error("failed to decode risk alert", "message_id", delivery.MessageId, "error", err)
		c.count("malformed")
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	inserted, err := c.sink.SaveAlert(ctx, alert)
	if err != nil {
		c.logger.Error("failed to save risk alert",
			"patient_id", alert.PatientID,
			"entry_id", alert.EntryID,
			"error", err,
		)
		c.count("error")
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}

	if !inserted {
		c.count("duplicate")
		c.logger.Debug("risk alert already stored", "patient_id", alert.PatientID, "entry_id", alert.EntryID)
		return
	}

	c.count("stored")
	c.logger.Info("risk alert stored",
		"patient_id", alert.PatientID,
		"entry_id", alert.EntryID,
		"label", alert.Label,
	)
}

func (c *Consumer) count(status string) {
	if c.metrics != nil {
		c.metrics.AlertsStored.WithLabelValues(status).Inc()
	}
}

func (c *Consumer) stopping() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Stop closes the MQ client and waits for processing to finish. It returns
// immediately when processing was never started.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	c.mu.Lock()
	c.stopOnce.Do(func() { close(c.stop) })
	running := c.running
	c.mu.Unlock()

	if err := c.mqClient.Close(); err != nil {
		c.logger.Warn("failed to close mq client", "error", err)
	}

	if !running {
		c.logger.Info("consumer stopped")
		return nil
	}

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		return errors.New("timed out waiting for message processing to stop")
	}

	c.logger.Info("consumer stopped")
	return nil
}
