package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ridedispatch/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrReject marks a message that must not be redelivered.
var ErrReject = errors.New("message rejected")

// Handler processes one message body. nil acks the message, an error
// wrapping ErrReject drops it and any other error requeues it.
type Handler func(ctx context.Context, body []byte) error

type Config struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
	MaxRetries int
	RetryDelay time.Duration
}

// RabbitMQ publishes to and consumes from a single durable work queue bound
// to a direct exchange.
type RabbitMQ struct {
	config *Config
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *logger.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRabbitMQ connects with exponential backoff and declares the topology.
func NewRabbitMQ(ctx context.Context, config *Config, log *logger.Logger) (*RabbitMQ, error) {
	mq := &RabbitMQ{
		config: config,
		logger: log.WithField("component", "rabbitmq"),
	}

	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	delay := config.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = mq.connect(); err == nil {
			mq.logger.WithFields(logger.Fields{
				"attempt": attempt,
				"queue":   config.Queue,
			}).Info("Connected to RabbitMQ")
			return mq, nil
		}

		mq.logger.WithError(err).WithFields(logger.Fields{
			"attempt":     attempt,
			"max_retries": maxRetries,
			"retry_in":    delay.String(),
		}).Warn("RabbitMQ connection attempt failed")

		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = nextDelay(delay)
	}

	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", maxRetries, err)
}

func nextDelay(d time.Duration) time.Duration {
	d = time.Duration(float64(d) * 1.5)
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}

func (mq *RabbitMQ) connect() error {
	conn, err := amqp.Dial(mq.config.URL)
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareTopology(ch, mq.config); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	mq.mu.Lock()
	mq.conn = conn
	mq.ch = ch
	mq.mu.Unlock()

	return nil
}

func declareTopology(ch *amqp.Channel, config *Config) error {
	if err := ch.ExchangeDeclare(config.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", config.Exchange, err)
	}
	if _, err := ch.QueueDeclare(config.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", config.Queue, err)
	}
	if err := ch.QueueBind(config.Queue, config.RoutingKey, config.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", config.Queue, err)
	}
	return nil
}

// Publish sends a persistent JSON message to the work queue.
func (mq *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	mq.mu.RLock()
	ch, closed := mq.ch, mq.closed
	mq.mu.RUnlock()

	if closed || ch == nil {
		return errors.New("rabbitmq channel not available")
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := ch.PublishWithContext(publishCtx, mq.config.Exchange, mq.config.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Consume delivers queued messages to handler until ctx is done. It uses its
// own channel so prefetch does not throttle publishing.
func (mq *RabbitMQ) Consume(ctx context.Context, consumer string, handler Handler) error {
	mq.mu.RLock()
	conn := mq.conn
	mq.mu.RUnlock()
	if conn == nil {
		return errors.New("rabbitmq connection not available")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	prefetch := mq.config.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(mq.config.Queue, consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", mq.config.Queue, err)
	}

	mq.logger.WithField("queue", mq.config.Queue).Info("Consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer channel for %s closed", mq.config.Queue)
			}
			mq.settle(msg, handler(ctx, msg.Body))
		}
	}
}

func (mq *RabbitMQ) settle(msg amqp.Delivery, handlerErr error) {
	ack, requeue := disposition(handlerErr)
	var err error
	if ack {
		err = msg.Ack(false)
	} else {
		mq.logger.WithError(handlerErr).WithField("requeue", requeue).Warn("Message not processed")
		err = msg.Nack(false, requeue)
	}
	if err != nil {
		mq.logger.WithError(err).Error("Failed to settle message")
	}
}

func disposition(err error) (ack, requeue bool) {
	switch {
	case err == nil:
		return true, false
	case errors.Is(err, ErrReject):
		return false, false
	default:
		return false, true
	}
}

func (mq *RabbitMQ) Ping(ctx context.Context) error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	if mq.closed || mq.conn == nil || mq.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.closed {
		return nil
	}
	mq.closed = true

	if mq.ch != nil {
		_ = mq.ch.Close()
	}
	if mq.conn != nil {
		return mq.conn.Close()
	}
	return nil
}
