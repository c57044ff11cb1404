// Package pubsub publishes run events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

var _ crawler.Publisher = (*Publisher)(nil)

// topicPublisher is the subset of *pubsub.Publisher used here.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// Publisher keeps one Pub/Sub publisher per topic.
type Publisher struct {
	newTopic func(topic string) topicPublisher

	mu     sync.Mutex
	topics map[string]topicPublisher
}

// New creates a Publisher on an open client.
func New(client *pubsub.Client) *Publisher {
	return &Publisher{
		newTopic: func(topic string) topicPublisher { return client.Publisher(topic) },
		topics:   make(map[string]topicPublisher),
	}
}

// Publish marshals the payload to JSON, attaches the trace context and a
// profile_id attribute for run events, and waits for the server ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	if event, ok := payload.(crawler.RunEvent); ok {
		msg.Attributes["event_type"] = "run.finished"
		msg.Attributes["profile_id"] = event.ProfileID
		msg.Attributes["status"] = string(event.Status)
	}

	id, err := p.publisher(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes and stops every topic publisher.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range p.topics {
		t.Stop()
		delete(p.topics, name)
	}
}

func (p *Publisher) publisher(topic string) topicPublisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[topic]
	if !ok {
		t = p.newTopic(topic)
		p.topics[topic] = t
	}
	return t
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
