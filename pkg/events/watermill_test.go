package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return nil
	}
}

func TestWatermillSinkRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := NewInMemoryPubSub()
	defer func() { _ = ps.Close() }()
	ch, err := ps.Subscribe(ctx, TopicEvents)
	require.NoError(t, err)

	sink := NewWatermillSink(ps, "")
	ev := NewToolCallExecutionResultEvent(NewMetadata("conv-1", 2), ToolResult{ID: "call_1", Name: "get_invoice", Result: `{"id":"1"}`, Success: true})
	require.NoError(t, sink.PublishEvent(ev))

	msg := receive(t, ch)
	require.Equal(t, "conv-1", msg.Metadata.Get(MetadataConversationID))

	decoded, err := NewEventFromJson(msg.Payload)
	require.NoError(t, err)
	res, ok := decoded.(*EventToolCallExecutionResult)
	require.True(t, ok)
	require.Equal(t, "get_invoice", res.ToolResult.Name)
	require.Equal(t, 2, res.Metadata().Round)
}

func TestWatermillMessageSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps := NewInMemoryPubSub()
	defer func() { _ = ps.Close() }()
	ch, err := ps.Subscribe(ctx, TopicMessages)
	require.NoError(t, err)

	sink := NewWatermillMessageSink(ps, "")
	require.NoError(t, sink.Deliver(ctx, "conv-9", "hello there"))

	msg := receive(t, ch)
	require.Equal(t, "hello there", string(msg.Payload))
	require.Equal(t, "conv-9", msg.Metadata.Get(MetadataConversationID))
}

type failingSink struct{ calls int }

func (f *failingSink) PublishEvent(Event) error {
	f.calls++
	return errors.New("boom")
}

type recordingSink struct{ got []Event }

func (r *recordingSink) PublishEvent(e Event) error {
	r.got = append(r.got, e)
	return nil
}

func TestPublishEventToContextIgnoresSinkErrors(t *testing.T) {
	f := &failingSink{}
	r := &recordingSink{}
	ctx := WithEventSinks(context.Background(), f)
	ctx = WithEventSinks(ctx, r)

	PublishEventToContext(ctx, NewTextEvent(NewMetadata("c", 1), "hi"))
	require.Equal(t, 1, f.calls)
	require.Len(t, r.got, 1)
	require.Equal(t, EventTypeText, r.got[0].Type())

	// no sinks is a no-op
	PublishEventToContext(context.Background(), NewTextEvent(NewMetadata("c", 1), "hi"))
}

func TestCollectingMessageSink(t *testing.T) {
	c := &CollectingMessageSink{}
	require.NoError(t, c.Deliver(context.Background(), "a", "one"))
	require.NoError(t, c.Deliver(context.Background(), "a", "two"))
	require.Equal(t, []Delivery{{"a", "one"}, {"a", "two"}}, c.Deliveries())
}
