package events

import (
	"context"
	"sync"
)

// MessageSink pushes finished assistant text to the chat transport.
type MessageSink interface {
	Deliver(ctx context.Context, conversationID string, text string) error
}

type MessageSinkFunc func(ctx context.Context, conversationID string, text string) error

func (f MessageSinkFunc) Deliver(ctx context.Context, conversationID string, text string) error {
	return f(ctx, conversationID, text)
}

// NullMessageSink drops everything.
type NullMessageSink struct{}

func (NullMessageSink) Deliver(context.Context, string, string) error { return nil }

// Delivery is one captured Deliver call.
type Delivery struct {
	ConversationID string
	Text           string
}

// CollectingMessageSink keeps deliveries in memory.
type CollectingMessageSink struct {
	mu         sync.Mutex
	deliveries []Delivery
}

func (c *CollectingMessageSink) Deliver(_ context.Context, conversationID string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, Delivery{ConversationID: conversationID, Text: text})
	return nil
}

func (c *CollectingMessageSink) Deliveries() []Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Delivery, len(c.deliveries))
	copy(out, c.deliveries)
	return out
}

var _ MessageSink = (*CollectingMessageSink)(nil)
var _ MessageSink = NullMessageSink{}
var _ MessageSink = MessageSinkFunc(nil)
