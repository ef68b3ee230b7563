package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"github.com/kdsun75/comprj/internal/observability"
)

// InboxWSHandler streams a user's inbox listing and unread total.
type InboxWSHandler struct {
	hub       *Hub
	jwtSecret string
}

// NewInboxWSHandler constructs an InboxWSHandler.
func NewInboxWSHandler(hub *Hub, jwtSecret string) *InboxWSHandler {
	return &InboxWSHandler{hub: hub, jwtSecret: jwtSecret}
}

// Handle authenticates, upgrades and registers the client on its own inbox
// room; the room's subscriptions seed it with the current unread total and
// inbox listing.
func (h *InboxWSHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("comprj/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	claims, err := claimsFromRequest(c, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	userID := claims.Subject

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddInboxClient(userID, conn, info)

	observability.IncWSActive("inbox")
	observability.IncWSEvent("inbox", "ws_connect")
	publishWSLifecycle(ctx, "inbox", userID, info, "ws_connect", "")

	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveInboxClient(userID, conn)
			observability.DecWSActive("inbox")
			observability.IncWSEvent("inbox", "ws_disconnect")
			publishWSLifecycle(ctx, "inbox", userID, info, "ws_disconnect", closeReason)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("inbox", "ws_error")
					publishWSLifecycle(ctx, "inbox", userID, info, "ws_error", closeReason)
				}
				return
			}
		}
	}()
}
