// Package bus implements the gateway's message bus client: a durable
// broker publisher and a single-queue consumer with manual ack/nack and a
// prefetch of one.
package bus

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/subugoe/operandi-go/pkg/metrics"
	"github.com/subugoe/operandi-go/pkg/types"
)

// Client owns one AMQP connection and channel, shared by a Publisher and
// Consumer built on top of it.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to the broker at uri and opens a channel with prefetch
// one, so deliveries reach the handler serially.
func Dial(uri string) (*Client, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set amqp qos: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable amqp publisher confirms: %w", err)
	}
	return &Client{conn: conn, channel: ch}, nil
}

// Close tears down the channel and connection.
func (c *Client) Close() error {
	if err := c.channel.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// declareQueue idempotently declares a durable queue and samples its
// current depth.
func (c *Client) declareQueue(queue string) error {
	q, err := c.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	metrics.QueueDepth.WithLabelValues(queue).Set(float64(q.Messages))
	return nil
}

// Publisher publishes to a single queue, waiting for broker confirmation.
type Publisher struct {
	client *Client
	queue  string
}

// NewPublisher idempotently declares queue and returns a bound publisher.
func NewPublisher(client *Client, queue string) (*Publisher, error) {
	if err := client.declareQueue(queue); err != nil {
		return nil, err
	}
	return &Publisher{client: client, queue: queue}, nil
}

// Publish sends payload and blocks until the broker acknowledges it. A
// broker NACK surfaces types.ErrPublishRejected.
func (p *Publisher) Publish(payload []byte) error {
	confirmation, err := p.client.channel.PublishWithDeferredConfirm(
		"", p.queue, false, false,
		amqp.Publishing{ContentType: "application/json", Body: payload, DeliveryMode: amqp.Persistent},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	ok, err := confirmation.WaitContext(context.Background())
	if err != nil {
		return fmt.Errorf("wait for publish confirm on %s: %w", p.queue, err)
	}
	if !ok {
		return fmt.Errorf("%w: queue %s", types.ErrPublishRejected, p.queue)
	}
	return nil
}

// Handler processes one delivery. It owns the obligation to ack or nack;
// a handler that does neither leaves the message in-flight until
// connection loss requeues it.
type Handler func(delivery amqp.Delivery)

// Consumer binds a Handler to a single queue and runs it serially.
type Consumer struct {
	client   *Client
	queue    string
	handler  Handler
	consumer string
}

// NewConsumer idempotently declares queue and binds handler, ready for Run.
func NewConsumer(client *Client, queue, consumerTag string, handler Handler) (*Consumer, error) {
	if err := client.declareQueue(queue); err != nil {
		return nil, err
	}
	return &Consumer{client: client, queue: queue, handler: handler, consumer: consumerTag}, nil
}

// Run consumes deliveries serially until the channel is closed or stop is
// closed.
func (c *Consumer) Run(stop <-chan struct{}) error {
	deliveries, err := c.client.channel.Consume(c.queue, c.consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume from %s: %w", c.queue, err)
	}
	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handler(delivery)
		case <-stop:
			return nil
		}
	}
}

// Close shuts down the channel this consumer was built on, causing Run to
// return once the in-flight delivery (if any) is handled.
func (c *Consumer) Close() error {
	return c.client.channel.Close()
}
