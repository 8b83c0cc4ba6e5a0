// Package pubsub publishes artifacts as JSON messages to a Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/tvivaldelli/signal-daily-digest/internal/delivery"
	"github.com/tvivaldelli/signal-daily-digest/internal/digest"
)

// Channel implements delivery.Channel on a topic handle.
type Channel struct {
	topic *pubsub.Topic
}

// New wraps topic. The caller owns the client and stops the topic on shutdown.
func New(topic *pubsub.Topic) (*Channel, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &Channel{topic: topic}, nil
}

// Name implements delivery.Channel.
func (*Channel) Name() string { return "pubsub" }

// Send publishes the artifact and waits for the server ack.
func (c *Channel) Send(ctx context.Context, artifact digest.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"category":     artifact.Category,
			"generated_at": artifact.GeneratedAt.UTC().Format(time.RFC3339),
		},
	}
	if runID := delivery.RunID(ctx); runID != "" {
		msg.Attributes["run_id"] = runID
	}
	if _, err := c.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}
