package models

import (
	"bytes"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// MessageType classifies the payload of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeFile     MessageType = "file"
	TypeEmoji    MessageType = "emoji"
	TypeReply    MessageType = "reply"
	TypeReaction MessageType = "reaction"
	TypeSystem   MessageType = "system"
	TypePoll     MessageType = "poll"
	TypeLocation MessageType = "location"
	TypeContact  MessageType = "contact"
	TypeLink     MessageType = "link"
)

var knownTypes = map[MessageType]struct{}{
	TypeText: {}, TypeImage: {}, TypeVideo: {}, TypeAudio: {}, TypeFile: {},
	TypeEmoji: {}, TypeReply: {}, TypeReaction: {}, TypeSystem: {}, TypePoll: {},
	TypeLocation: {}, TypeContact: {}, TypeLink: {},
}

// Valid reports whether t is one of the enumerated message types.
func (t MessageType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// MessageStatus only moves forward: queued, then persisted.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "queued"
	StatusPersisted MessageStatus = "persisted"
)

// MessageContent is the structured payload of a message.
type MessageContent struct {
	Text     string           `json:"text,omitempty"`
	Blocks   []map[string]any `json:"blocks,omitempty"`
	ReplyTo  string           `json:"replyTo,omitempty"`
	Emoji    string           `json:"emoji,omitempty"`
	Reaction string           `json:"reaction,omitempty"`
	System   string           `json:"system,omitempty"`
	Poll     map[string]any   `json:"poll,omitempty"`
	Location map[string]any   `json:"location,omitempty"`
	Contact  map[string]any   `json:"contact,omitempty"`
}

// UnmarshalJSON accepts either a bare string (treated as text) or an object.
func (c *MessageContent) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = MessageContent{Text: s}
		return nil
	}
	type alias MessageContent
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*c = MessageContent(a)
	return nil
}

// Attachment is a file reference carried by a message. Position keeps the
// client-supplied order.
type Attachment struct {
	ID        string            `gorm:"primaryKey;type:varchar(64)" json:"id"`
	MessageID string            `gorm:"type:varchar(64);index;not null" json:"messageId,omitempty"`
	Position  int               `gorm:"not null;default:0" json:"-"`
	URL       string            `gorm:"type:text" json:"url"`
	Filename  string            `gorm:"type:varchar(512)" json:"filename,omitempty"`
	MimeType  string            `gorm:"type:varchar(255);not null" json:"mimeType"`
	Size      int64             `json:"size"`
	Meta      datatypes.JSONMap `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"-"`
}

// Message is the canonical record produced by the formatter and stored by the worker.
// A message counts as already persisted when any of ID, TempID or
// ClientMessageID matches an existing row from the same sender.
type Message struct {
	ID              string  `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ClientMessageID string  `gorm:"type:varchar(128);index" json:"clientMessageId,omitempty"`
	TempID          string  `gorm:"type:varchar(128);index" json:"tempId,omitempty"`
	ChannelID       string  `gorm:"type:varchar(64);not null;index:idx_messages_channel_created,priority:1" json:"channelId"`
	SenderID        string  `gorm:"type:varchar(64);not null;index" json:"senderId"`
	SenderName      string  `gorm:"type:varchar(255)" json:"senderName,omitempty"`
	ReceiverID      *string `gorm:"type:varchar(64)" json:"receiverId"`
	IsGroup         bool    `gorm:"not null;default:false" json:"isGroup"`

	MessageType MessageType       `gorm:"type:varchar(16);not null" json:"messageType"`
	Message     string            `gorm:"type:text" json:"message"`
	Content     MessageContent    `gorm:"type:text;serializer:json" json:"content"`
	Attachments []Attachment      `gorm:"foreignKey:MessageID" json:"attachments"`
	Metadata    datatypes.JSONMap `json:"metadata"`

	Status      MessageStatus `gorm:"type:varchar(16);not null" json:"status"`
	IsRead      bool          `gorm:"not null;default:false" json:"isRead"`
	CreatedAt   time.Time     `gorm:"index:idx_messages_channel_created,priority:2" json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
	PersistedAt *time.Time    `json:"persistedAt,omitempty"`
}

// Clone returns a deep copy of m. Nested maps and attachments are not shared.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.ReceiverID != nil {
		r := *m.ReceiverID
		cp.ReceiverID = &r
	}
	if m.PersistedAt != nil {
		t := *m.PersistedAt
		cp.PersistedAt = &t
	}
	cp.Content.Poll = cloneMap(m.Content.Poll)
	cp.Content.Location = cloneMap(m.Content.Location)
	cp.Content.Contact = cloneMap(m.Content.Contact)
	if m.Content.Blocks != nil {
		cp.Content.Blocks = make([]map[string]any, len(m.Content.Blocks))
		for i, b := range m.Content.Blocks {
			cp.Content.Blocks[i] = cloneMap(b)
		}
	}
	cp.Metadata = cloneMap(m.Metadata)
	if m.Attachments != nil {
		cp.Attachments = make([]Attachment, len(m.Attachments))
		for i, a := range m.Attachments {
			a.Meta = cloneMap(a.Meta)
			cp.Attachments[i] = a
		}
	}
	return &cp
}

func cloneMap[M ~map[string]any](src M) M {
	if src == nil {
		return nil
	}
	dst := make(M, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
