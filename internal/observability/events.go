package observability

import "context"

// EventEnvelope wraps every event published to the events exchange.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	RequestID string      `json:"request_id,omitempty"`
	TraceID   string      `json:"trace_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// EventPublisher is the outbound broker dependency. The rabbitmq package
// provides the real implementation and a noop fallback.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

var defaultPublisher EventPublisher

// SetPublisher installs the process-wide event publisher.
func SetPublisher(publisher EventPublisher) {
	defaultPublisher = publisher
}

// PublishEvent sends an envelope through the installed publisher. Without a
// publisher it is a no-op; publish failures are counted, not returned as
// fatal to callers that fire-and-forget.
func PublishEvent(ctx context.Context, routingKey string, envelope EventEnvelope) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, envelope)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
