package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Publisher matches the rabbitmq publisher without importing it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter publishes audit envelopes for user-visible chat actions
// (message sent, conversation opened, marked read).
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
}

// AuditEnvelope is the wire format consumed by the audit pipeline.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload carries the action and its subject.
type AuditPayload struct {
	Action          string `json:"action"`
	ConversationKey string `json:"conversation_key,omitempty"`
	PeerID          string `json:"peer_id,omitempty"`
}

// NewAuditEmitter builds an emitter bound to one routing key.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
	}
}

// Emit publishes one audit event. Failures are logged; audit loss never
// blocks the user action that triggered it.
func (e *AuditEmitter) Emit(ctx context.Context, action, conversationKey, peerID, requestID, userID string) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Action:          action,
			ConversationKey: conversationKey,
			PeerID:          peerID,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn("audit publish failed", zap.String("action", action), zap.Error(err))
	}
}
