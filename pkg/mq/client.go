// Package mq provides a RabbitMQ client that keeps its connection alive and
// publishes with broker confirmations.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/health-dashboard/pkg/metrics"
)

const (
	// Delay before dialing again after a lost connection.
	reconnectDelay = 5 * time.Second

	// Delay before reopening the channel after a channel exception.
	reInitDelay = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
	maxRetryAttempts  = 5

	// ContentTypeProtobuf marks bodies encoded with protocol buffers.
	ContentTypeProtobuf = "application/x-protobuf"
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	errNacked             = errors.New("message not acknowledged by broker")
)

// Message is one publishing.
type Message struct {
	Body        []byte
	ContentType string
	// MessageID lets consumers drop redeliveries.
	MessageID string
	Headers   amqp.Table
}

// ClientConfig holds the configuration for the Client.
type ClientConfig struct {
	Logger *slog.Logger
	URL    string
	Queue  string

	// Durable declares a queue that survives broker restarts and publishes
	// persistent messages.
	Durable bool

	// Metrics is optional.
	Metrics *metrics.MQMetrics
}

// Client owns one connection and one confirm-mode channel to a single queue.
// It reconnects in the background until Close is called.
type Client struct {
	mu              sync.Mutex
	logger          *slog.Logger
	queue           string
	durable         bool
	metrics         *metrics.MQMetrics
	connection      *amqp.Connection
	channel         *amqp.Channel
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	ready           bool
	done            chan struct{}
	closeOnce       sync.Once
}

// NewClient creates a Client and starts connecting in the background.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mq client config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	c := &Client{
		logger:  cfg.Logger.With("queue", cfg.Queue),
		queue:   cfg.Queue,
		durable: cfg.Durable,
		metrics: cfg.Metrics,
		done:    make(chan struct{}),
	}
	go c.handleReconnect(cfg.URL)
	return c, nil
}

// Queue returns the queue name.
func (c *Client) Queue() string {
	return c.queue
}

// Ready reports whether the channel is usable.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *Client) setReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()

	if c.metrics != nil {
		if ready {
			c.metrics.Connected.Set(1)
		} else {
			c.metrics.Connected.Set(0)
		}
	}
}

func (c *Client) handleReconnect(addr string) {
	for {
		c.setReady(false)
		c.logger.Info("attempting to connect")

		if c.metrics != nil {
			c.metrics.ReconnectAttempts.Inc()
		}

		conn, err := c.connect(addr)
		if err != nil {
			c.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := c.handleReInit(conn); done {
			return
		}
	}
}

func (c *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.connection = conn
	c.notifyConnClose = make(chan *amqp.Error, 1)
	c.connection.NotifyClose(c.notifyConnClose)
	c.mu.Unlock()

	c.logger.Info("connected")
	return conn, nil
}

// handleReInit reopens the channel until the connection drops or the client
// is closed. It returns true on Close.
func (c *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		c.setReady(false)

		if err := c.init(conn); err != nil {
			c.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-c.done:
				return true
			case <-c.notifyConnClose:
				c.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-c.done:
			return true
		case <-c.notifyConnClose:
			c.logger.Info("connection closed, reconnecting")
			return false
		case <-c.notifyChanClose:
			c.logger.Info("channel closed, re-running init")
		}
	}
}

func (c *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		c.queue,
		c.durable, // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,
	); err != nil {
		return err
	}

	c.mu.Lock()
	c.channel = ch
	c.notifyChanClose = make(chan *amqp.Error, 1)
	c.notifyConfirm = make(chan amqp.Confirmation, 1)
	c.channel.NotifyClose(c.notifyChanClose)
	c.channel.NotifyPublish(c.notifyConfirm)
	c.mu.Unlock()

	c.setReady(true)
	c.logger.Info("client init done")
	return nil
}

// Publish sends msg and waits for the broker confirmation. While the client
// is disconnected it retries with exponential backoff, giving up after
// maxRetryAttempts.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.PublishDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			c.logger.Error("maximum retry attempts exceeded", "attempts", attempt)
			c.fail("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		err := c.publishConfirmed(ctx, msg)
		if err == nil {
			if c.metrics != nil {
				c.metrics.Published.WithLabelValues(c.queue).Inc()
			}
			if attempt > 0 {
				c.logger.Info("publish confirmed after retries", "attempts", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			c.fail("context_canceled")
			return ctx.Err()
		}

		c.logger.Warn("publish failed, retrying", "error", err, "backoff", backoff, "attempt", attempt)

		select {
		case <-ctx.Done():
			c.fail("context_canceled")
			return ctx.Err()
		case <-c.done:
			c.fail("shutdown")
			return errShutdown
		case <-time.After(backoff):
		}

		backoff *= backoffMultiplier
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) publishConfirmed(ctx context.Context, msg Message) error {
	if err := c.PublishUnconfirmed(ctx, msg); err != nil {
		return err
	}

	c.mu.Lock()
	confirms := c.notifyConfirm
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case confirm := <-confirms:
		if !confirm.Ack {
			return errNacked
		}
		return nil
	}
}

// PublishUnconfirmed sends msg without waiting for the broker.
func (c *Client) PublishUnconfirmed(ctx context.Context, msg Message) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return errNotConnected
	}
	ch := c.channel
	c.mu.Unlock()

	contentType := msg.ContentType
	if contentType == "" {
		contentType = ContentTypeProtobuf
	}

	mode := amqp.Transient
	if c.durable {
		mode = amqp.Persistent
	}

	return ch.PublishWithContext(
		ctx,
		"",      // exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: mode,
			MessageId:    msg.MessageID,
			Headers:      msg.Headers,
			Timestamp:    time.Now().UTC(),
			Body:         msg.Body,
		},
	)
}

// Consume starts delivering queue messages. Every delivery must be acked or
// nacked by the caller.
func (c *Client) Consume() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return nil, errNotConnected
	}
	ch := c.channel
	c.mu.Unlock()

	if err := ch.Qos(1, 0, false); err != nil {
		return nil, err
	}

	return ch.Consume(
		c.queue,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
}

// Close stops reconnecting and closes the channel and connection. It returns
// errAlreadyClosed when there was no live connection to close.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return errAlreadyClosed
	}
	c.ready = false

	if c.metrics != nil {
		c.metrics.Connected.Set(0)
	}

	if err := c.channel.Close(); err != nil {
		return err
	}
	return c.connection.Close()
}

func (c *Client) fail(reason string) {
	if c.metrics != nil {
		c.metrics.PublishFailures.WithLabelValues(c.queue, reason).Inc()
	}
}
