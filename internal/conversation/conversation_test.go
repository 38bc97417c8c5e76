package conversation_test

import (
	"channels/backend/internal/conversation"
	"channels/backend/internal/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_Deterministic(t *testing.T) {
	ab, err := conversation.ID("alice", "bob")
	require.NoError(t, err)
	ba, err := conversation.ID("bob", "alice")
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Equal(t, "alice_bob", ab)
}

func TestID_Empty(t *testing.T) {
	tests := []struct{ a, b string }{
		{"", "bob"},
		{"alice", ""},
		{"  ", "bob"},
	}
	for _, tt := range tests {
		_, err := conversation.ID(tt.a, tt.b)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
	}
}

func TestChannelNameAndRoom(t *testing.T) {
	name, err := conversation.ChannelName("u2", "u1")
	require.NoError(t, err)
	assert.Equal(t, "direct:u1_u2", name)

	room, err := conversation.Room("u1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "conversation:u1_u2", room)

	_, err = conversation.ChannelName("", "u1")
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestOther(t *testing.T) {
	id, err := conversation.ID("bob", "alice")
	require.NoError(t, err)

	other, ok := conversation.Other(id, "alice")
	require.True(t, ok)
	assert.Equal(t, "bob", other)

	other, ok = conversation.Other(id, "bob")
	require.True(t, ok)
	assert.Equal(t, "alice", other)

	tests := []struct{ id, user string }{
		{id, "carol"},
		{id, ""},
		{"bob_alice", "alice"},
		{"alice_", "alice"},
		{"alice", "alice"},
	}
	for _, tt := range tests {
		_, ok := conversation.Other(tt.id, tt.user)
		assert.False(t, ok, "%s as %s", tt.id, tt.user)
	}
}
