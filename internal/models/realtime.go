package models

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventUserConnect      = "user:connect"
	EventMessageSend      = "message:send"
	EventDirectHistory    = "direct:history"
	EventMessageRead      = "message:read"
	EventGroupCreate      = "group:create"
	EventGroupMessageSend = "group:message:send"
	EventGroupHistory     = "group:history"
	EventGroupRead        = "group:read"
	EventGroupDelete      = "group:delete"
	EventTypingStart      = "typing:start"
	EventTypingStop       = "typing:stop"
	EventStatusUpdate     = "user:status:update"
	EventRoomJoin         = "room:join"
)

// Outbound event names.
const (
	EventUserConnected    = "user:connected"
	EventMessageReceive   = "message:receive"
	EventMessageAck       = "message:ack"
	EventMessageUnread    = "message:unread"
	EventMessageDelivered = "message:delivered"
	EventMessagePersisted = "message:persisted"
	EventMessageError     = "message:error"
	EventReadConfirm      = "message:read:confirm"

	EventGroupCreateSuccess    = "group:create:success"
	EventGroupCreateError      = "group:create:error"
	EventGroupMessageReceive   = "group:message:receive"
	EventGroupMessageAck       = "group:message:ack"
	EventGroupMessageUnread    = "group:message:unread"
	EventGroupMessageDelivered = "group:message:delivered"
	EventGroupMessagePersisted = "group:message:persisted"
	EventGroupMessageError     = "group:message:error"
	EventGroupReadConfirm      = "group:read:confirm"
	EventGroupDeleteSuccess    = "group:delete:success"
	EventGroupDeleteError      = "group:delete:error"

	EventStopTyping      = "stop-typing"
	EventUserOnline      = "user:online"
	EventUserOffline     = "user:offline"
	EventStatusChanged   = "user:status:changed"
	EventStatusError     = "user:status:error"
	EventUserDeactivated = "user:deactivated"
	EventError           = "error"
)

// ClientEvent is a frame received from a socket.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is a frame sent to a socket.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SendPayload is the body of message:send and group:message:send.
type SendPayload struct {
	ChannelID       string          `json:"channelId,omitempty"`
	GroupID         string          `json:"groupId,omitempty"`
	SessionID       string          `json:"sessionId,omitempty"`
	ReceiverID      string          `json:"receiverId,omitempty"`
	TempID          string          `json:"tempId,omitempty"`
	ClientMessageID string          `json:"clientMessageId,omitempty"`
	MessageType     MessageType     `json:"messageType,omitempty"`
	Message         string          `json:"message,omitempty"`
	Content         *MessageContent `json:"content,omitempty"`
	Attachments     []Attachment    `json:"attachments,omitempty"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	Device          string          `json:"device,omitempty"`
	Client          string          `json:"client,omitempty"`

	Emoji    string         `json:"emoji,omitempty"`
	ReplyTo  string         `json:"replyTo,omitempty"`
	Reaction string         `json:"reaction,omitempty"`
	System   bool           `json:"system,omitempty"`
	Poll     map[string]any `json:"poll,omitempty"`
	Location map[string]any `json:"location,omitempty"`
	Contact  map[string]any `json:"contact,omitempty"`
}

type GroupCreatePayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members"`
}

type HistoryPayload struct {
	ReceiverID string `json:"receiverId,omitempty"`
	ChannelID  string `json:"channelId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

type ReadPayload struct {
	ChannelID  string `json:"channelId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	Type           string `json:"type,omitempty"`
}

type StatusPayload struct {
	Status PresenceStatus `json:"status"`
}

type UserConnectPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type GroupDeletePayload struct {
	GroupID string `json:"groupId"`
}

type RoomJoinPayload struct {
	ChannelID string `json:"channelId"`
}

// ReceiveEvent is the optimistic broadcast of a message before it is stored.
type ReceiveEvent struct {
	*Message
	Optimistic bool `json:"optimistic"`
}

type AckEvent struct {
	ID        string        `json:"id"`
	TempID    string        `json:"tempId,omitempty"`
	ChannelID string        `json:"channelId"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type UnreadEvent struct {
	ChannelID   string `json:"channelId"`
	UserID      string `json:"userId"`
	UnreadCount int    `json:"unreadCount"`
}

type DeliveredEvent struct {
	ID        string `json:"id"`
	TempID    string `json:"tempId,omitempty"`
	ChannelID string `json:"channelId"`
}

// PersistedEvent is published by the worker after a successful commit and
// sent to the sender by the delivery handlers.
type PersistedEvent struct {
	ID              string         `json:"id"`
	TempID          string         `json:"tempId,omitempty"`
	ClientMessageID string         `json:"clientMessageId,omitempty"`
	ChannelID       string         `json:"channelId"`
	SenderID        string         `json:"senderId"`
	IsGroup         bool           `json:"isGroup"`
	MessageType     MessageType    `json:"messageType"`
	UnreadUpdates   []UnreadUpdate `json:"unreadUpdates,omitempty"`
	Status          MessageStatus  `json:"status"`
	PersistedAt     *time.Time     `json:"persistedAt,omitempty"`
}

// UnreadUpdate is the counter value of one participant after an increment.
type UnreadUpdate struct {
	UserID      string `json:"userId"`
	UnreadCount int    `json:"unreadCount"`
}

type DeactivatedEvent struct {
	UserIDs []string  `json:"userIds"`
	At      time.Time `json:"at"`
}

type ErrorEvent struct {
	TempID  string `json:"tempId,omitempty"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type ReadConfirmEvent struct {
	ChannelID   string `json:"channelId"`
	UnreadCount int    `json:"unreadCount"`
}

type HistoryEvent struct {
	ChannelID string    `json:"channelId"`
	Messages  []Message `json:"messages"`
}

type PresenceEvent struct {
	UserID   string         `json:"userId"`
	Status   PresenceStatus `json:"status"`
	LastSeen time.Time      `json:"lastSeen"`
}

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	Type           string `json:"type,omitempty"`
}
