package chat

import "strings"

// ConversationKey derives the stable identifier for the conversation between
// two users. The pair is sorted before joining, so the key is independent of
// argument order. A user cannot converse with themselves.
func ConversationKey(userID, peerID string) (string, error) {
	if userID == "" || peerID == "" || userID == peerID {
		return "", ErrInvalidParticipants
	}
	if peerID < userID {
		userID, peerID = peerID, userID
	}
	return userID + "_" + peerID, nil
}

// SplitKey returns the two participants encoded in a conversation key.
func SplitKey(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, "_")
	if !ok || a == "" || b == "" {
		return "", "", false
	}
	return a, b, true
}
