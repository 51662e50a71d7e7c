package publish

import (
	"context"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// Attribute keys set on every Pub/Sub message.
const (
	AttrTopic  = "topic"
	AttrRetain = "retain"
)

// PubsubBus publishes capture events to a single Google Pub/Sub topic. The
// logical topic and the retain flag travel as message attributes because
// Pub/Sub has neither hierarchical topics nor retained messages.
type PubsubBus struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewPubsubBus verifies that topicID exists before returning.
func NewPubsubBus(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubsubBus, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &PubsubBus{
		topic:  topic,
		logger: logger.With().Str("component", "PubsubBus").Str("topic_id", topicID).Logger(),
	}, nil
}

// Publish sends payload and blocks until the server has assigned a message ID.
func (b *PubsubBus) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	result := b.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			AttrTopic:  topic,
			AttrRetain: strconv.FormatBool(retain),
		},
	})
	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	b.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	return nil
}

// Stop flushes any pending messages for the topic.
func (b *PubsubBus) Stop() {
	b.topic.Stop()
}
