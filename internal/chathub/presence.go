package chathub

import (
	"channels/backend/internal/conversation"
	"channels/backend/internal/formatter"
	"channels/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// handleUserConnect resolves the user by name and rebinds the connection to it.
func (m *ManagerService) handleUserConnect(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.UserConnectPayload](raw)
	if err != nil {
		m.sendError(c, models.EventError, "", err)
		return
	}
	name := formatter.SanitizeName(p.UserName)
	if strings.TrimSpace(name) == "" {
		m.sendError(c, models.EventError, "", fmt.Errorf("%w: userName is required", models.ErrInvalidArgument))
		return
	}
	u, err := m.Storage.GetOrCreateUserByName(ctx, name)
	if err != nil {
		m.sendError(c, models.EventError, "", err)
		return
	}

	if old := c.UserID(); old != u.ID {
		m.rebind(c, old, u.ID, u.Name)
	}
	c.Send(models.ServerEvent{Event: models.EventUserConnected, Data: map[string]any{
		"userId":      u.ID,
		"userName":    u.Name,
		"onlineUsers": m.Presence.OnlineUsers(),
	}})
}

func (m *ManagerService) rebind(c Client, oldID, newID, name string) {
	// Rooms are left and the identity switched together so a pending
	// attachUser for oldID cannot join the connection back.
	m.mux.Lock()
	for r := range m.memberOf[c.ID()] {
		m.leaveLocked(c.ID(), r)
	}
	c.SetUser(newID, name)
	m.joinLocked(c, userRoom(newID))
	m.mux.Unlock()

	if m.Presence.Disconnect(oldID, c.ID()) {
		m.Broadcast(models.EventUserOffline, models.PresenceEvent{UserID: oldID, Status: models.StatusOffline})
	}
	if m.Presence.Connect(newID, c.ID()) {
		rec, _ := m.Presence.Get(newID)
		m.Broadcast(models.EventUserOnline, models.PresenceEvent{UserID: newID, Status: rec.Status, LastSeen: rec.LastSeen})
	}
	m.metrics.SetOnlineUsers(m.Presence.Count())
	m.log.Debug("connection rebound", zap.String("conn_id", c.ID()), zap.String("from", oldID), zap.String("to", newID))

	m.attachUser(c, newID, name)
}

// handleTyping relays typing:start and typing:stop to the other connections
// in the conversation room. Nothing is stored.
func (m *ManagerService) handleTyping(ctx context.Context, c Client, event string, raw json.RawMessage) {
	p, err := decode[models.TypingPayload](raw)
	if err != nil || p.ConversationID == "" {
		return
	}
	room, ok := m.typingRoom(ctx, c, p.ConversationID)
	if !ok {
		return
	}
	m.EmitToRoom(room, event, models.TypingEvent{
		ConversationID: p.ConversationID,
		UserID:         c.UserID(),
		UserName:       c.UserName(),
		Type:           p.Type,
	}, c.ID())
}

// typingRoom resolves id as the pair id of a direct conversation the caller
// is part of, or else as a channel the caller belongs to.
func (m *ManagerService) typingRoom(ctx context.Context, c Client, id string) (string, bool) {
	if other, ok := conversation.Other(id, c.UserID()); ok {
		room, err := conversation.Room(c.UserID(), other)
		if err != nil {
			return "", false
		}
		m.joinConn(c, room)
		m.joinUser(other, room)
		return room, true
	}
	room := channelRoom(id)
	if !m.InRoom(c.ID(), room) {
		if err := m.isMember(ctx, id, c.UserID()); err != nil {
			return "", false
		}
		m.joinConn(c, room)
	}
	return room, true
}

func (m *ManagerService) handleStatusUpdate(c Client, raw json.RawMessage) {
	p, err := decode[models.StatusPayload](raw)
	if err != nil {
		m.sendError(c, models.EventStatusError, "", err)
		return
	}
	rec, err := m.Presence.SetStatus(c.UserID(), p.Status)
	if err != nil {
		m.sendError(c, models.EventStatusError, "", err)
		return
	}
	m.Broadcast(models.EventStatusChanged, models.PresenceEvent{
		UserID:   rec.UserID,
		Status:   rec.Status,
		LastSeen: rec.LastSeen,
	})
}
