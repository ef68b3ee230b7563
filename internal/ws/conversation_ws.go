package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/kdsun75/comprj/internal/chat"
	"github.com/kdsun75/comprj/internal/middleware"
	"github.com/kdsun75/comprj/internal/models"
	"github.com/kdsun75/comprj/internal/observability"
)

// StoreReader is the read-side store surface the websocket handshake needs;
// message delivery itself goes through the hub's live feed.
type StoreReader interface {
	GetConversation(ctx context.Context, key string) (models.Conversation, error)
}

// ConversationWSHandler streams one conversation's messages to a client.
type ConversationWSHandler struct {
	hub       *Hub
	store     StoreReader
	jwtSecret string
}

// NewConversationWSHandler constructs a ConversationWSHandler.
func NewConversationWSHandler(hub *Hub, store StoreReader, jwtSecret string) *ConversationWSHandler {
	return &ConversationWSHandler{hub: hub, store: store, jwtSecret: jwtSecret}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, checks membership, upgrades the connection and
// registers the client on its conversation room; the room's live stream
// seeds it with the current message window.
func (h *ConversationWSHandler) Handle(c *gin.Context) {
	key := c.Param("key")

	ctx, span := otel.Tracer("comprj/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	claims, err := claimsFromRequest(c, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conv, err := h.store.GetConversation(ctx, key)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	if !conv.HasParticipant(claims.Subject) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.Subject,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddConversationClient(key, conn, info)

	observability.IncWSActive("conversation")
	observability.IncWSEvent("conversation", "ws_connect")
	publishWSLifecycle(ctx, "conversation", key, info, "ws_connect", "")

	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveConversationClient(key, conn)
			observability.DecWSActive("conversation")
			observability.IncWSEvent("conversation", "ws_disconnect")
			publishWSLifecycle(ctx, "conversation", key, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("conversation", "ws_error")
					publishWSLifecycle(ctx, "conversation", key, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}

func claimsFromRequest(c *gin.Context, secret string) (*middleware.Claims, error) {
	token := c.GetHeader("Authorization")
	if token != "" {
		if len(token) > 7 && (token[:7] == "Bearer " || token[:7] == "bearer ") {
			token = token[7:]
		}
	} else {
		token = c.Query("token")
	}
	return middleware.VerifyToken(secret, token)
}

func publishWSLifecycle(ctx context.Context, kind string, resourceID string, info ConnInfo, event string, reason string) {
	durationMS := int64(0)
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kind,
				"resource_id": resourceID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}
