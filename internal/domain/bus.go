package domain

import "context"

// Pipeline topics. Evaluation jobs flow in on TopicEvaluationRequested;
// everything else is an outcome for downstream consumers.
const (
	TopicEvaluationRequested = "kestrel.evaluation.requested"
	TopicEvaluationFailed    = "kestrel.evaluation.failed"
	TopicDetectionComputed   = "kestrel.detection.computed"
	TopicDetectionAlert      = "kestrel.detection.alert"
	TopicEnumeratorStatus    = "kestrel.enumerator.status"
)

// EventBus moves pipeline events between components. The community tier
// runs an in-process channel bus, the pro tier NATS.
type EventBus interface {
	// Publish sends payload on topic under a generated message ID.
	Publish(ctx context.Context, topic string, payload []byte) error

	// PublishWithID is Publish with a caller-chosen message ID, used for
	// job identities.
	PublishWithID(ctx context.Context, id string, topic string, payload []byte) error

	// Subscribe delivers every message on topic to handler until the
	// subscription is cancelled or ctx ends.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the bus envelope around a JSON payload.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription is a live registration on one topic.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	Type string // "channel" or "nats"

	// channel bus
	ChannelBufferSize int

	// nats bus
	NATSUrl           string
	NATSToken         string
	NATSQueueGroup    string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}
