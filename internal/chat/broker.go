package chat

import (
	"sync"

	"github.com/kdsun75/comprj/internal/models"
)

// broker is the in-process fan-out behind the store's live subscriptions:
// appended messages go to per-conversation subscribers, inbox mutations
// raise a per-user change signal. Handlers run on the publishing goroutine.
type broker struct {
	mu        sync.RWMutex
	nextID    int64
	convSubs  map[string]map[int64]func(models.Message)
	inboxSubs map[string]map[int64]func()
}

func newBroker() *broker {
	return &broker{
		convSubs:  make(map[string]map[int64]func(models.Message)),
		inboxSubs: make(map[string]map[int64]func()),
	}
}

// subscribeMessages registers a handler for new messages in a conversation.
// The returned func cancels the subscription and is safe to call twice.
func (b *broker) subscribeMessages(key string, fn func(models.Message)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if _, ok := b.convSubs[key]; !ok {
		b.convSubs[key] = make(map[int64]func(models.Message))
	}
	b.convSubs[key][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.convSubs[key]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.convSubs, key)
			}
		}
	}
}

// subscribeInbox registers a handler fired whenever any of the user's inbox
// rows change.
func (b *broker) subscribeInbox(userID string, fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if _, ok := b.inboxSubs[userID]; !ok {
		b.inboxSubs[userID] = make(map[int64]func())
	}
	b.inboxSubs[userID][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.inboxSubs[userID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.inboxSubs, userID)
			}
		}
	}
}

func (b *broker) publishMessage(key string, msg models.Message) {
	b.mu.RLock()
	handlers := make([]func(models.Message), 0, len(b.convSubs[key]))
	for _, fn := range b.convSubs[key] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

func (b *broker) signalInbox(userID string) {
	b.mu.RLock()
	handlers := make([]func(), 0, len(b.inboxSubs[userID]))
	for _, fn := range b.inboxSubs[userID] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn()
	}
}
