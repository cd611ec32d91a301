// Package memory keeps published check events in process, for tests and for
// running without a broker.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

// Publisher records the JSON encoding of every payload, exactly as the
// Pub/Sub publisher would put it on the wire.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message
}

// Message is one recorded publish.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes payload and returns a sequential message id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// CheckEvents decodes the messages sent to topic as check events.
func (p *Publisher) CheckEvents(topic string) ([]analyzer.CheckEvent, error) {
	var events []analyzer.CheckEvent
	for _, msg := range p.Messages() {
		if msg.Topic != topic {
			continue
		}
		var ev analyzer.CheckEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msg.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
