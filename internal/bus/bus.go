// Package bus carries pipeline events between the dispatcher, the worker
// and downstream consumers.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/oslsr/kestrel/internal/domain"
)

// New creates the event bus named by cfg.Type: "channel" (in-process,
// the default) or "nats".
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it on topic.
func PublishJSON(ctx context.Context, b domain.EventBus, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, topic, payload)
}

// PublishJSONWithID is PublishJSON with a caller-chosen message ID.
func PublishJSONWithID(ctx context.Context, b domain.EventBus, id, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.PublishWithID(ctx, id, topic, payload)
}

// Decode unmarshals the payload of msg into v.
func Decode(msg *domain.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload in message %s: %w", msg.Topic, msg.ID, err)
	}
	return nil
}
