// Package memory contains an in-memory publisher for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

var _ crawler.Publisher = (*Publisher)(nil)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// RunEvents returns the run events published to topic.
func (p *Publisher) RunEvents(topic string) []crawler.RunEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []crawler.RunEvent
	for _, m := range p.messages {
		if event, ok := m.Payload.(crawler.RunEvent); ok && m.Topic == topic {
			out = append(out, event)
		}
	}
	return out
}
