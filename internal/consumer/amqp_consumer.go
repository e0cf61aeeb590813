package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/giobyte8/thumbcache/internal/models"
	"github.com/giobyte8/thumbcache/internal/telemetry"
)

// AMQPConfig describes the broker topology the consumer binds to.
type AMQPConfig struct {
	AMQPUri  string
	Exchange string

	ThumbsGenQueueName string
	ThumbsDelQueueName string

	// Workers is the number of deliveries handled concurrently per
	// queue. It is also the channel prefetch. Zero means one.
	Workers int
}

// publisher is the part of an AMQP channel used to send replies.
type publisher interface {
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
}

// binding ties a queue to the handler serving its messages.
type binding struct {
	queue  string
	tag    string
	label  string
	handle handlerFunc
}

type AMQPConsumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	publisher publisher
	config    AMQPConfig
	processor ThumbsProcessor
	telemetry *telemetry.TelemetrySvc

	workers sync.WaitGroup
}

// NewAMQPConsumer validates config. No connection is made until Start.
func NewAMQPConsumer(
	config AMQPConfig,
	processor ThumbsProcessor,
	telemetry *telemetry.TelemetrySvc,
) (*AMQPConsumer, error) {
	required := []struct{ value, name string }{
		{config.AMQPUri, "URI"},
		{config.Exchange, "exchange"},
		{config.ThumbsGenQueueName, "thumbs generation queue name"},
		{config.ThumbsDelQueueName, "thumbs delete queue name"},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("AMQP %s cannot be empty in config", r.name)
		}
	}
	if config.Workers < 0 {
		return nil, fmt.Errorf("AMQP workers cannot be negative, got %d", config.Workers)
	}
	if config.Workers == 0 {
		config.Workers = 1
	}

	return &AMQPConsumer{
		config:    config,
		processor: processor,
		telemetry: telemetry,
	}, nil
}

func (c *AMQPConsumer) bindings() []binding {
	return []binding{
		{c.config.ThumbsGenQueueName, "thumbcache-gen", "thumbs gen", c.handleGenRequest},
		{c.config.ThumbsDelQueueName, "thumbcache-del", "thumbs del", c.handleDelRequest},
	}
}

// Start connects to the broker, declares the topology and launches
// the workers of every queue.
func (c *AMQPConsumer) Start(ctx context.Context) error {
	slog.Debug("AMQP - Initializing AMQP Consumer", "workers", c.config.Workers)

	if err := c.connect(); err != nil {
		return err
	}

	for _, b := range c.bindings() {
		msgs, err := c.declare(b)
		if err != nil {
			c.closeAll()
			return err
		}

		for i := 0; i < c.config.Workers; i++ {
			c.workers.Add(1)
			go func() {
				defer c.workers.Done()
				c.consume(ctx, b.label, msgs, b.handle)
			}()
		}
	}

	return nil
}

// Stop cancels the subscriptions, waits for in-flight messages and
// closes the connection.
func (c *AMQPConsumer) Stop() {
	slog.Info("AMQP - Stopping AMQP Consumer...")

	if c.channel != nil {
		for _, b := range c.bindings() {
			if err := c.channel.Cancel(b.tag, false); err != nil {
				slog.Warn("AMQP - Failed to cancel consumer", "consumer", b.label, "error", err)
			}
		}
	}
	c.workers.Wait()

	c.closeAll()
	slog.Info("AMQP - AMQP Consumer stopped")
}

func (c *AMQPConsumer) connect() error {
	var err error
	c.conn, err = amqp.Dial(c.config.AMQPUri)
	if err != nil {
		return fmt.Errorf("AMQP - Connection to broker failed: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.closeAll()
		return fmt.Errorf("AMQP - Failed to open channel: %w", err)
	}
	c.publisher = c.channel

	// Unacked deliveries per consumer, one per worker
	if err := c.channel.Qos(c.config.Workers, 0, false); err != nil {
		c.closeAll()
		return fmt.Errorf("AMQP - Failed to set prefetch: %w", err)
	}

	err = c.channel.ExchangeDeclare(
		c.config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		c.closeAll()
		return fmt.Errorf("AMQP - Failed to declare exchange: %w", err)
	}
	return nil
}

// declare creates the durable queue of b, binds it to the exchange
// under its own name and subscribes to it.
func (c *AMQPConsumer) declare(b binding) (<-chan amqp.Delivery, error) {
	_, err := c.channel.QueueDeclare(
		b.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("AMQP - Failed to declare %s queue: %w", b.queue, err)
	}

	if err := c.channel.QueueBind(b.queue, b.queue, c.config.Exchange, false, nil); err != nil {
		return nil, fmt.Errorf("AMQP - Failed to bind %s queue: %w", b.queue, err)
	}

	msgs, err := c.channel.Consume(
		b.queue,
		b.tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("AMQP - Failed to create %s queue consumer: %w", b.queue, err)
	}
	return msgs, nil
}

func (c *AMQPConsumer) closeAll() {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			slog.Error("AMQP - Failed to close channel", "error", err)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			slog.Error("AMQP - Failed to close connection", "error", err)
		}
	}
	slog.Debug("AMQP - Connection closed")
}

func (c *AMQPConsumer) consume(
	ctx context.Context,
	label string,
	msgs <-chan amqp.Delivery,
	handle handlerFunc,
) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				slog.Info(
					"AMQP - Message channel closed. goroutine exiting",
					"consumer", label,
				)
				return
			}

			c.handleDelivery(ctx, label, msg, handle)

		case <-ctx.Done():
			slog.Info(
				"AMQP - Context done signal received, stopping consumption goroutine...",
				"consumer", label,
			)
			return
		}
	}
}

// handleDelivery runs handle on msg, replies when the sender asked for
// it and settles the delivery. Failed messages are not requeued.
func (c *AMQPConsumer) handleDelivery(
	ctx context.Context,
	label string,
	msg amqp.Delivery,
	handle handlerFunc,
) {
	resp, err := handle(ctx, msg.Body)

	if resp != nil && msg.ReplyTo != "" {
		if replyErr := c.reply(ctx, msg, resp); replyErr != nil {
			slog.Error(
				"AMQP - Failed to publish reply",
				"consumer", label,
				"replyTo", msg.ReplyTo,
				"error", replyErr,
			)
		}
	}

	if err != nil {
		slog.Error(
			"AMQP - Failed to process message",
			"consumer", label,
			"error", err,
			"message", string(msg.Body),
		)

		if nackErr := msg.Nack(false, false); nackErr != nil {
			slog.Error(
				"AMQP - Failed to nack message",
				"consumer", label,
				"error", nackErr,
			)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		slog.Error(
			"AMQP - Failed to acknowledge message",
			"consumer", label,
			"error", err,
		)
	}
}

func (c *AMQPConsumer) reply(
	ctx context.Context,
	msg amqp.Delivery,
	resp *models.ThumbResponse,
) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	// Default exchange routes straight to the reply queue
	return c.publisher.PublishWithContext(
		ctx,
		"",
		msg.ReplyTo,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: msg.CorrelationId,
			Body:          body,
		},
	)
}
