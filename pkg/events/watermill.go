package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	TopicEvents   = "agent.events"
	TopicMessages = "chat.messages"

	MetadataConversationID = "conversation_id"
)

// NewInMemoryPubSub returns a gochannel pub/sub suitable for wiring sinks and
// subscribers inside one process.
func NewInMemoryPubSub() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NopLogger{})
}

// WatermillSink publishes events as JSON messages on a topic.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	if topic == "" {
		topic = TopicEvents
	}
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

func (w *WatermillSink) PublishEvent(event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal event to JSON")
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if id := event.Metadata().ConversationID; id != "" {
		msg.Metadata.Set(MetadataConversationID, id)
	}

	if err := w.publisher.Publish(w.topic, msg); err != nil {
		log.Error().Err(err).Str("topic", w.topic).Msg("Failed to publish event to watermill")
		return err
	}

	log.Trace().Str("topic", w.topic).Str("event_type", string(event.Type())).Msg("Published event to watermill")
	return nil
}

var _ EventSink = (*WatermillSink)(nil)

// WatermillMessageSink delivers assistant text as watermill messages. The
// payload is the raw text; the conversation id travels in the metadata.
type WatermillMessageSink struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillMessageSink(publisher message.Publisher, topic string) *WatermillMessageSink {
	if topic == "" {
		topic = TopicMessages
	}
	return &WatermillMessageSink{publisher: publisher, topic: topic}
}

func (w *WatermillMessageSink) Deliver(ctx context.Context, conversationID string, text string) error {
	msg := message.NewMessage(watermill.NewUUID(), []byte(text))
	msg.Metadata.Set(MetadataConversationID, conversationID)
	msg.SetContext(ctx)
	if err := w.publisher.Publish(w.topic, msg); err != nil {
		return errors.Wrapf(err, "could not deliver message for conversation %s", conversationID)
	}
	return nil
}

var _ MessageSink = (*WatermillMessageSink)(nil)
