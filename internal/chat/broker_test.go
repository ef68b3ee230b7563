package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kdsun75/comprj/internal/models"
)

func TestBrokerFansOutToConversationSubscribers(t *testing.T) {
	b := newBroker()

	var first, second []models.Message
	b.subscribeMessages("a_b", func(msg models.Message) { first = append(first, msg) })
	b.subscribeMessages("a_b", func(msg models.Message) { second = append(second, msg) })
	b.subscribeMessages("a_c", func(msg models.Message) { t.Fatal("wrong conversation") })

	b.publishMessage("a_b", models.Message{ID: 1, Content: "hi"})

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
	assert.Equal(t, "hi", first[0].Content)
}

func TestBrokerCancelStopsDelivery(t *testing.T) {
	b := newBroker()

	count := 0
	cancel := b.subscribeMessages("a_b", func(models.Message) { count++ })

	b.publishMessage("a_b", models.Message{ID: 1})
	cancel()
	b.publishMessage("a_b", models.Message{ID: 2})

	assert.Equal(t, 1, count)

	// cancelling twice is fine
	cancel()
}

func TestBrokerDropsEmptyRooms(t *testing.T) {
	b := newBroker()

	cancel := b.subscribeMessages("a_b", func(models.Message) {})
	cancel()

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Empty(t, b.convSubs)
}

func TestBrokerInboxSignalPerUser(t *testing.T) {
	b := newBroker()

	signals := 0
	cancel := b.subscribeInbox("user-a", func() { signals++ })
	defer cancel()

	b.signalInbox("user-a")
	b.signalInbox("user-b")
	b.signalInbox("user-a")

	assert.Equal(t, 2, signals)
}
