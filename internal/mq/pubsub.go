package mq

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/tunefile/apiserver/config"
)

// PubSubClient is a Backend for Google Cloud Pub/Sub. Channels map to
// topics, and each consumer reads from a per-channel subscription.
type PubSubClient struct {
	client             *pubsub.Client
	subscriptionSuffix string
}

// NewPubSubClient connects to Pub/Sub in the configured project.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to pubsub: %w", err)
	}
	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}
	return &PubSubClient{client: client, subscriptionSuffix: suffix}, nil
}

// Publish sends an event to the channel's topic, creating it on first use.
func (c *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	topic, err := c.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publishing to %q: %w", channel, err)
	}
	return id, nil
}

// Subscribe receives events from the channel's subscription until ctx is
// cancelled. A handler error nacks the message for redelivery.
func (c *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if _, err := c.ensureTopic(ctx, channel); err != nil {
		return err
	}
	sub, err := c.ensureSubscription(ctx, channel)
	if err != nil {
		return err
	}
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := Message{
			ID:         m.ID,
			Data:       m.Data,
			Attributes: m.Attributes,
		}
		if err := handler(ctx, msg); err != nil {
			m.Nack()
			return
		}
		m.Ack()
	})
}

// Close releases the Pub/Sub client.
func (c *PubSubClient) Close() error {
	return c.client.Close()
}

func (c *PubSubClient) ensureTopic(ctx context.Context, channel string) (*pubsub.Topic, error) {
	topic := c.client.Topic(channel)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking topic %q: %w", channel, err)
	}
	if !exists {
		topic, err = c.client.CreateTopic(ctx, channel)
		if err != nil {
			return nil, fmt.Errorf("creating topic %q: %w", channel, err)
		}
	}
	return topic, nil
}

func (c *PubSubClient) ensureSubscription(ctx context.Context, channel string) (*pubsub.Subscription, error) {
	name := channel + c.subscriptionSuffix
	sub := c.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking subscription %q: %w", name, err)
	}
	if !exists {
		sub, err = c.client.CreateSubscription(ctx, name, pubsub.SubscriptionConfig{
			Topic: c.client.Topic(channel),
		})
		if err != nil {
			return nil, fmt.Errorf("creating subscription %q: %w", name, err)
		}
	}
	return sub, nil
}
