// Package memory records published page commits in-process.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/housing-harvester/internal/harvest"
)

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
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

// FailWith makes every later Publish return err. A nil err restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.err)
	}
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

// Commits returns the page commits published to topic, in publish order.
func (p *Publisher) Commits(topic string) []harvest.PageCommit {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []harvest.PageCommit
	for _, msg := range p.messages {
		if commit, ok := msg.Payload.(harvest.PageCommit); ok && msg.Topic == topic {
			out = append(out, commit)
		}
	}
	return out
}
