// Package conversation derives the deterministic identity of a direct
// conversation from its two participants.
package conversation

import (
	"channels/backend/internal/models"
	"fmt"
	"strings"
)

const (
	directPrefix = "direct:"
	separator    = "_"

	// RoomPrefix starts the name of every conversation room.
	RoomPrefix = "conversation:"
)

// ID returns the order-independent identifier for the pair a, b.
func ID(a, b string) (string, error) {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return "", fmt.Errorf("%w: both participant ids are required", models.ErrInvalidArgument)
	}
	if b < a {
		a, b = b, a
	}
	return a + separator + b, nil
}

// ChannelName is the unique channel lookup key for a direct conversation.
func ChannelName(a, b string) (string, error) {
	id, err := ID(a, b)
	if err != nil {
		return "", err
	}
	return directPrefix + id, nil
}

// Room is the socket room used for delivery receipts of a conversation.
func Room(a, b string) (string, error) {
	id, err := ID(a, b)
	if err != nil {
		return "", err
	}
	return RoomPrefix + id, nil
}

// Other returns the participant of conversation id that is not userID. ok is
// false when userID is not part of the pair.
func Other(id, userID string) (string, bool) {
	if userID == "" {
		return "", false
	}
	var other string
	switch {
	case strings.HasPrefix(id, userID+separator):
		other = strings.TrimPrefix(id, userID+separator)
	case strings.HasSuffix(id, separator+userID):
		other = strings.TrimSuffix(id, separator+userID)
	default:
		return "", false
	}
	if want, err := ID(userID, other); err != nil || want != id {
		return "", false
	}
	return other, true
}
