package formatter_test

import (
	"channels/backend/internal/formatter"
	"channels/backend/internal/models"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = formatter.Sender{ID: "alice", Name: "Alice"}

func TestFormat_RequiresChannel(t *testing.T) {
	_, err := formatter.Format(&models.SendPayload{Message: "hi"}, alice, formatter.Overrides{})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestFormat_ChannelFallbacks(t *testing.T) {
	m, err := formatter.Format(&models.SendPayload{GroupID: "g1", Message: "x"}, alice, formatter.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "g1", m.ChannelID)

	m, err = formatter.Format(&models.SendPayload{SessionID: "s1", Message: "x"}, alice, formatter.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "s1", m.ChannelID)
}

func TestFormat_Defaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m, err := formatter.Format(&models.SendPayload{
		ChannelID: "c1",
		TempID:    "t1",
		Message:   "  hello  ",
		Metadata:  map[string]any{"trace": "abc", "version": "custom"},
	}, alice, formatter.Overrides{Now: now})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "hello", m.Message)
	assert.Equal(t, models.TypeText, m.MessageType)
	assert.Equal(t, models.StatusQueued, m.Status)
	assert.False(t, m.IsRead)
	assert.Equal(t, now, m.CreatedAt)
	assert.Equal(t, m.CreatedAt, m.UpdatedAt)
	assert.Equal(t, "t1", m.TempID)
	assert.Equal(t, "abc", m.Metadata["trace"])
	assert.Equal(t, "custom", m.Metadata["version"])
	assert.Equal(t, "unknown", m.Metadata["device"])
	assert.Equal(t, now.Format(time.RFC3339Nano), m.Metadata["timestamp"])
	assert.Empty(t, m.Attachments)
}

func TestFormat_Overrides(t *testing.T) {
	m, err := formatter.Format(&models.SendPayload{ChannelID: "c1", Message: "x", ReceiverID: "bob"},
		alice, formatter.Overrides{ID: "fixed", Status: models.StatusPersisted})
	require.NoError(t, err)
	assert.Equal(t, "fixed", m.ID)
	assert.Equal(t, models.StatusPersisted, m.Status)
	require.NotNil(t, m.ReceiverID)
	assert.Equal(t, "bob", *m.ReceiverID)

	g, err := formatter.Format(&models.SendPayload{GroupID: "g", Message: "x", ReceiverID: "bob"},
		alice, formatter.Overrides{IsGroup: true})
	require.NoError(t, err)
	assert.True(t, g.IsGroup)
	assert.Nil(t, g.ReceiverID)
}

func TestFormat_TruncatesRuneSafe(t *testing.T) {
	long := strings.Repeat("ж", 10005)
	m, err := formatter.Format(&models.SendPayload{ChannelID: "c", Message: long}, alice, formatter.Overrides{})
	require.NoError(t, err)
	assert.Equal(t, 10000, len([]rune(m.Message)))
}

func TestFormat_TypeDetection(t *testing.T) {
	tests := []struct {
		name string
		p    models.SendPayload
		want models.MessageType
	}{
		{"image attachment", models.SendPayload{Attachments: []models.Attachment{{URL: "https://cdn/x/cat.png"}}, Message: "look"}, models.TypeImage},
		{"video attachment", models.SendPayload{Attachments: []models.Attachment{{URL: "https://cdn/clip.mp4"}}}, models.TypeVideo},
		{"explicit audio mime", models.SendPayload{Attachments: []models.Attachment{{URL: "u", MimeType: "audio/ogg"}}}, models.TypeAudio},
		{"unknown attachment", models.SendPayload{Attachments: []models.Attachment{{URL: "https://cdn/notes"}}}, models.TypeFile},
		{"link", models.SendPayload{Message: "https://example.com/page?q=1"}, models.TypeLink},
		{"link with text", models.SendPayload{Message: "see https://example.com"}, models.TypeText},
		{"emoji", models.SendPayload{Emoji: "🎉"}, models.TypeEmoji},
		{"reply", models.SendPayload{Message: "yes", ReplyTo: "m1"}, models.TypeReply},
		{"reaction in content", models.SendPayload{Content: &models.MessageContent{Reaction: "+1"}}, models.TypeReaction},
		{"system", models.SendPayload{Message: "joined", System: true}, models.TypeSystem},
		{"poll", models.SendPayload{Poll: map[string]any{"q": "?"}}, models.TypePoll},
		{"location", models.SendPayload{Location: map[string]any{"lat": 1.0}}, models.TypeLocation},
		{"contact", models.SendPayload{Contact: map[string]any{"name": "x"}}, models.TypeContact},
		{"explicit type", models.SendPayload{Message: "x", MessageType: models.TypeSystem}, models.TypeSystem},
		{"invalid explicit type", models.SendPayload{Message: "x", MessageType: "sticker"}, models.TypeText},
		{"plain", models.SendPayload{Message: "hello"}, models.TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.p
			p.ChannelID = "c"
			m, err := formatter.Format(&p, alice, formatter.Overrides{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.MessageType)
		})
	}
}

func TestFormat_Attachments(t *testing.T) {
	m, err := formatter.Format(&models.SendPayload{
		ChannelID: "c",
		Attachments: []models.Attachment{
			{URL: "https://cdn.example.com/files/report.pdf?sig=1"},
			{ID: "keep", URL: "::not a url", Size: 10},
		},
	}, alice, formatter.Overrides{})
	require.NoError(t, err)
	require.Len(t, m.Attachments, 2)

	first := m.Attachments[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "report.pdf", first.Filename)
	assert.Equal(t, "application/pdf", first.MimeType)
	assert.Equal(t, m.ID, first.MessageID)
	assert.Equal(t, 0, first.Position)

	second := m.Attachments[1]
	assert.Equal(t, "keep", second.ID)
	assert.Equal(t, "", second.Filename)
	assert.Equal(t, "application/octet-stream", second.MimeType)
	assert.Equal(t, 1, second.Position)

	assert.Equal(t, models.TypeFile, m.MessageType)
	assert.Equal(t, "report.pdf", m.Message)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "Team", formatter.SanitizeName("  <b>Team</b> "))
	assert.Len(t, []rune(formatter.SanitizeName(strings.Repeat("a", 300))), 100)
}
