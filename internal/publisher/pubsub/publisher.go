// Package pubsub announces finished crawl runs on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes JSON payloads to Pub/Sub topics.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New dials Pub/Sub for projectID with application default credentials.
func New(ctx context.Context, projectID string) (*Publisher, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *pubsub.Client) *Publisher {
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}
}

// Publish marshals the payload to JSON and publishes it to topic, waiting for
// the server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	if strings.TrimSpace(topic) == "" {
		return "", fmt.Errorf("pubsub topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

func (p *Publisher) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	p.mu.Lock()
	for _, t := range p.topics {
		t.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
