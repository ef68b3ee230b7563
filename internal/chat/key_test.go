package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKeyOrdersParticipants(t *testing.T) {
	key, err := ConversationKey("user-b", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "user-a_user-b", key)

	reverse, err := ConversationKey("user-a", "user-b")
	require.NoError(t, err)
	assert.Equal(t, key, reverse)
}

func TestConversationKeyRejectsSelf(t *testing.T) {
	_, err := ConversationKey("user-a", "user-a")
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestConversationKeyRejectsEmpty(t *testing.T) {
	_, err := ConversationKey("", "user-a")
	assert.ErrorIs(t, err, ErrInvalidParticipants)

	_, err = ConversationKey("user-a", "")
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestSplitKeyRoundTrip(t *testing.T) {
	key, err := ConversationKey("zed", "amy")
	require.NoError(t, err)

	a, b, ok := SplitKey(key)
	require.True(t, ok)
	assert.Equal(t, "amy", a)
	assert.Equal(t, "zed", b)
}

func TestSplitKeyMalformed(t *testing.T) {
	_, _, ok := SplitKey("no-separator")
	assert.False(t, ok)
}
