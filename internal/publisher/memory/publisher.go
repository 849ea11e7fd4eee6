// Package memory keeps completion events in process. It backs runs without a
// Pub/Sub topic and the app tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	ID      string
	Topic   string
	Payload any
}

// Publisher implements forum.Publisher over a slice.
type Publisher struct {
	mu      sync.Mutex
	log     []Message
	failure error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.failure = err
	p.mu.Unlock()
}

// Publish appends the payload and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.failure)
	}
	msg := Message{
		ID:      fmt.Sprintf("memory-%d", len(p.log)+1),
		Topic:   topic,
		Payload: payload,
	}
	p.log = append(p.log, msg)
	return msg.ID, nil
}

// Messages returns a snapshot of every publish so far.
func (p *Publisher) Messages() []Message {
	return p.filter(func(Message) bool { return true })
}

// OnTopic returns the publishes sent to topic.
func (p *Publisher) OnTopic(topic string) []Message {
	return p.filter(func(m Message) bool { return m.Topic == topic })
}

func (p *Publisher) filter(keep func(Message) bool) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, 0, len(p.log))
	for _, m := range p.log {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
