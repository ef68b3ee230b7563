package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kdsun75/comprj/internal/models"
	"github.com/kdsun75/comprj/internal/observability"
)

// LiveFeed is the store-side subscription surface the hub bridges onto
// websocket rooms. Every subscription delivers its current state
// synchronously before returning, then re-delivers on change.
type LiveFeed interface {
	StreamMessages(ctx context.Context, key string, fn func([]models.Message)) (func(), error)
	SubscribeInbox(ctx context.Context, userID string, fn func([]models.InboxRow)) (func(), error)
	SubscribeTotalUnread(ctx context.Context, userID string, fn func(int)) (func(), error)
}

// client wraps a websocket connection with a write lock; broadcasts and
// late-join seeding run on different goroutines.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) send(event models.ChatEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

type conversationRoom struct {
	clients map[*websocket.Conn]*client
	window  []models.Message
	cancel  func()
}

type inboxRoom struct {
	clients map[*websocket.Conn]*client
	rows    []models.InboxRow
	total   int
	cancel  func()
}

// Hub maintains active websocket rooms: one per conversation key and one per
// user inbox. The first connection in a room opens the matching store
// subscription; the last one out closes it. Each room caches the latest
// delivered state, so clients joining a live room are seeded without another
// store read and without racing a concurrent append.
type Hub struct {
	feed   LiveFeed
	logger *zap.Logger

	mu         sync.RWMutex
	convRooms  map[string]*conversationRoom
	inboxRooms map[string]*inboxRoom
}

// NewHub creates an empty hub over the given live feed.
func NewHub(feed LiveFeed, logger *zap.Logger) *Hub {
	return &Hub{
		feed:       feed,
		logger:     logger,
		convRooms:  make(map[string]*conversationRoom),
		inboxRooms: make(map[string]*inboxRoom),
	}
}

// AddConversationClient registers a websocket connection to a conversation
// room. The first member starts the room's message stream, which seeds every
// member through the broadcast path; later members are seeded from the
// room's cached window.
func (h *Hub) AddConversationClient(key string, conn *websocket.Conn, info ConnInfo) {
	cl := &client{conn: conn, info: info}

	h.mu.Lock()
	room, ok := h.convRooms[key]
	if !ok {
		room = &conversationRoom{clients: make(map[*websocket.Conn]*client)}
		h.convRooms[key] = room
	}
	room.clients[conn] = cl
	live := room.cancel != nil
	window := room.window
	h.mu.Unlock()

	if live {
		if err := cl.send(models.ChatEvent{Type: "snapshot", Messages: window}); err != nil {
			h.dropConversationClient(key, cl, err)
		}
		return
	}

	// Subscribe outside the hub lock; the feed delivers on the caller's and
	// the sender's goroutines and both re-enter the hub.
	cancel, err := h.feed.StreamMessages(context.Background(), key, func(msgs []models.Message) {
		h.broadcastConversationWindow(key, msgs)
	})
	if err != nil {
		h.logger.Warn("conversation stream failed", zap.String("conversation", key), zap.Error(err))
		return
	}
	h.mu.Lock()
	room, ok = h.convRooms[key]
	if !ok || room.cancel != nil {
		h.mu.Unlock()
		cancel()
		return
	}
	room.cancel = cancel
	h.mu.Unlock()
}

// RemoveConversationClient removes a conversation websocket connection and
// tears the room's subscription down once it empties.
func (h *Hub) RemoveConversationClient(key string, conn *websocket.Conn) {
	h.mu.Lock()
	var cancel func()
	if room, ok := h.convRooms[key]; ok {
		delete(room.clients, conn)
		if len(room.clients) == 0 {
			cancel = room.cancel
			delete(h.convRooms, key)
		}
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Hub) broadcastConversationWindow(key string, msgs []models.Message) {
	h.mu.Lock()
	room, ok := h.convRooms[key]
	if !ok {
		h.mu.Unlock()
		return
	}
	room.window = msgs
	clients := make([]*client, 0, len(room.clients))
	for _, cl := range room.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	event := models.ChatEvent{Type: "snapshot", Messages: msgs}
	for _, cl := range clients {
		if err := cl.send(event); err != nil {
			h.logger.Warn("websocket write error", zap.String("conversation", key), zap.Error(err))
			h.dropConversationClient(key, cl, err)
		}
	}
}

func (h *Hub) dropConversationClient(key string, cl *client, err error) {
	cl.conn.Close()
	h.RemoveConversationClient(key, cl.conn)
	h.publishWSError("conversation", key, cl.info, err)
}

// AddInboxClient registers a websocket connection to a user's inbox room.
// The first member starts the unread-total and inbox-listing subscriptions;
// later members are seeded from the room's cached state.
func (h *Hub) AddInboxClient(userID string, conn *websocket.Conn, info ConnInfo) {
	cl := &client{conn: conn, info: info}

	h.mu.Lock()
	room, ok := h.inboxRooms[userID]
	if !ok {
		room = &inboxRoom{clients: make(map[*websocket.Conn]*client)}
		h.inboxRooms[userID] = room
	}
	room.clients[conn] = cl
	live := room.cancel != nil
	total := room.total
	rows := room.rows
	h.mu.Unlock()

	if live {
		if err := cl.send(models.ChatEvent{Type: "unread_total", UnreadTotal: total}); err != nil {
			h.dropInboxClient(userID, cl, err)
			return
		}
		if err := cl.send(models.ChatEvent{Type: "inbox", Inbox: rows}); err != nil {
			h.dropInboxClient(userID, cl, err)
		}
		return
	}

	cancelTotal, err := h.feed.SubscribeTotalUnread(context.Background(), userID, func(total int) {
		h.broadcastUnreadTotal(userID, total)
	})
	if err != nil {
		h.logger.Warn("unread subscription failed", zap.String("user", userID), zap.Error(err))
		return
	}
	cancelInbox, err := h.feed.SubscribeInbox(context.Background(), userID, func(rows []models.InboxRow) {
		h.broadcastInbox(userID, rows)
	})
	if err != nil {
		h.logger.Warn("inbox subscription failed", zap.String("user", userID), zap.Error(err))
		cancelTotal()
		return
	}
	cancel := func() {
		cancelTotal()
		cancelInbox()
	}
	h.mu.Lock()
	room, ok = h.inboxRooms[userID]
	if !ok || room.cancel != nil {
		h.mu.Unlock()
		cancel()
		return
	}
	room.cancel = cancel
	h.mu.Unlock()
}

// RemoveInboxClient removes an inbox websocket connection.
func (h *Hub) RemoveInboxClient(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	var cancel func()
	if room, ok := h.inboxRooms[userID]; ok {
		delete(room.clients, conn)
		if len(room.clients) == 0 {
			cancel = room.cancel
			delete(h.inboxRooms, userID)
		}
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *Hub) broadcastUnreadTotal(userID string, total int) {
	clients := h.snapshotInboxRoom(userID, func(room *inboxRoom) { room.total = total })
	event := models.ChatEvent{Type: "unread_total", UnreadTotal: total}
	for _, cl := range clients {
		if err := cl.send(event); err != nil {
			h.logger.Warn("websocket write error", zap.String("user", userID), zap.Error(err))
			h.dropInboxClient(userID, cl, err)
		}
	}
}

func (h *Hub) broadcastInbox(userID string, rows []models.InboxRow) {
	clients := h.snapshotInboxRoom(userID, func(room *inboxRoom) { room.rows = rows })
	event := models.ChatEvent{Type: "inbox", Inbox: rows}
	for _, cl := range clients {
		if err := cl.send(event); err != nil {
			h.logger.Warn("websocket write error", zap.String("user", userID), zap.Error(err))
			h.dropInboxClient(userID, cl, err)
		}
	}
}

func (h *Hub) snapshotInboxRoom(userID string, update func(*inboxRoom)) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.inboxRooms[userID]
	if !ok {
		return nil
	}
	update(room)
	clients := make([]*client, 0, len(room.clients))
	for _, cl := range room.clients {
		clients = append(clients, cl)
	}
	return clients
}

func (h *Hub) dropInboxClient(userID string, cl *client, err error) {
	cl.conn.Close()
	h.RemoveInboxClient(userID, cl.conn)
	h.publishWSError("inbox", userID, cl.info, err)
}

func (h *Hub) publishWSError(kind string, resourceID string, info ConnInfo, err error) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": resourceID,
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	_ = observability.PublishEvent(context.Background(), wsRoutingKey(kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload:   payload,
	})
	observability.IncWSEvent(kind, "ws_error")
}

func wsRoutingKey(kind string) string {
	if kind == "inbox" {
		return "ws_events.inbox"
	}
	return "ws_events.conversations"
}
