// Package chat implements the direct-messaging core: conversation identity,
// the message store adapter with its inbox projection, and the per-session
// conversation window manager. It is independent of the HTTP/WS surface.
package chat

import "errors"

var (
	// ErrInvalidParticipants is returned for a self-conversation or a
	// missing participant id.
	ErrInvalidParticipants = errors.New("invalid participants")

	// ErrEmptyContent is returned when a message body is empty after
	// trimming. Nothing is written.
	ErrEmptyContent = errors.New("empty message content")

	// ErrStoreUnavailable wraps any underlying persistence failure.
	// Callers decide whether to retry; the store never retries a write.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned when a conversation or window no longer
	// exists. Stale live-stream callbacks treat it as a benign no-op.
	ErrNotFound = errors.New("not found")
)
