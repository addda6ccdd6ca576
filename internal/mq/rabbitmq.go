package mq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tunefile/apiserver/config"
)

// RabbitMQClient is a Backend for a RabbitMQ broker. Each channel maps to
// a durable queue shared by the API server and its consumers.
type RabbitMQClient struct {
	conn            *amqp.Connection
	channel         *amqp.Channel
	queueDurable    bool
	queueAutoDelete bool
	prefetchCount   int
}

// NewRabbitMQClient dials the broker and opens a channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}
	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("setting rabbitmq qos: %w", err)
		}
	}
	return &RabbitMQClient{
		conn:            conn,
		channel:         ch,
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
		prefetchCount:   cfg.PrefetchCount,
	}, nil
}

// Publish enqueues a JSON event on the named channel.
func (c *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if err := c.declareQueue(channel); err != nil {
		return "", err
	}
	headers := amqp.Table{}
	for k, v := range attrs {
		headers[k] = v
	}
	id, err := newMessageID()
	if err != nil {
		return "", err
	}
	err = c.channel.PublishWithContext(ctx, "", channel, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   id,
		Headers:     headers,
		Body:        data,
	})
	if err != nil {
		return "", fmt.Errorf("publishing to %q: %w", channel, err)
	}
	return id, nil
}

// Subscribe consumes events from the named channel until ctx is cancelled.
// A handler error nacks the delivery back onto the queue.
func (c *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if err := c.declareQueue(channel); err != nil {
		return err
	}
	tag, err := newMessageID()
	if err != nil {
		return err
	}
	deliveries, err := c.channel.Consume(channel, "tunefile-"+tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming from %q: %w", channel, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %q closed", channel)
			}
			msg := Message{
				ID:         d.MessageId,
				Data:       d.Body,
				Attributes: headersToAttributes(d.Headers),
			}
			if err := handler(ctx, msg); err != nil {
				// requeue for another attempt
				_ = d.Nack(false, true)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close releases the channel and connection.
func (c *RabbitMQClient) Close() error {
	if err := c.channel.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

func (c *RabbitMQClient) declareQueue(name string) error {
	_, err := c.channel.QueueDeclare(name, c.queueDurable, c.queueAutoDelete, false, false, nil)
	if err != nil {
		return fmt.Errorf("declaring queue %q: %w", name, err)
	}
	return nil
}

func newMessageID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	return attrs
}
