package chathub

import (
	"channels/backend/internal/config"
	"channels/backend/internal/formatter"
	"channels/backend/internal/models"
	"channels/backend/internal/queue"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

func (m *ManagerService) handleGroupCreate(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.GroupCreatePayload](raw)
	if err != nil {
		m.sendError(c, models.EventGroupCreateError, "", err)
		return
	}
	g, err := m.Storage.CreateGroup(ctx, c.UserID(), formatter.SanitizeName(p.Name), p.Description, p.Members)
	if err != nil {
		m.sendError(c, models.EventGroupCreateError, "", err)
		return
	}

	room := channelRoom(g.ID)
	for _, part := range g.Participants {
		m.joinUser(part.UserID, room)
	}
	m.EmitToRoom(room, models.EventGroupCreateSuccess, g, "")
}

func (m *ManagerService) handleGroupSend(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.SendPayload](raw)
	if err != nil {
		m.sendError(c, models.EventGroupMessageError, "", err)
		return
	}
	if err := m.SendGroup(ctx, c, p); err != nil {
		m.sendError(c, models.EventGroupMessageError, p.TempID, err)
	}
}

// SendGroup delivers a group message. Membership is checked before anything
// is broadcast, cached or enqueued.
func (m *ManagerService) SendGroup(ctx context.Context, c Client, p *models.SendPayload) error {
	groupID := p.GroupID
	if groupID == "" {
		groupID = p.ChannelID
	}
	if groupID == "" {
		return fmt.Errorf("%w: groupId is required", models.ErrInvalidArgument)
	}
	sender := c.UserID()
	if err := m.checkGroupMember(ctx, groupID, sender); err != nil {
		return err
	}
	if m.Queue == nil {
		return models.ErrQueueUnavailable
	}
	p.GroupID = groupID

	msg, err := formatter.Format(p, formatter.Sender{ID: sender, Name: c.UserName()}, formatter.Overrides{IsGroup: true})
	if err != nil {
		return err
	}

	room := channelRoom(groupID)
	m.joinConn(c, room)
	m.EmitToRoom(room, models.EventGroupMessageReceive, models.ReceiveEvent{Message: msg, Optimistic: true}, "")
	c.Send(models.ServerEvent{Event: models.EventGroupMessageAck, Data: models.AckEvent{
		ID:        msg.ID,
		TempID:    msg.TempID,
		ChannelID: groupID,
		Status:    msg.Status,
		CreatedAt: msg.CreatedAt,
	}})
	m.metrics.MessageSent(true)

	opts := &queue.JobOptions{Attempts: config.GroupJobAttempts, Backoff: config.GroupJobBackoff}
	if _, err := m.Queue.Add(ctx, config.PersistJobName, msg, opts); err != nil {
		m.log.Warn("enqueue group message failed", zap.String("message_id", msg.ID), zap.Error(err))
		m.appendFallback(ctx, msg)
	}
	if err := m.Cache.Append(ctx, msg); err != nil {
		m.log.Warn("cache append failed", zap.String("channel_id", groupID), zap.Error(err))
	}

	m.EmitToRoom(room, models.EventGroupMessageDelivered, models.DeliveredEvent{
		ID: msg.ID, TempID: msg.TempID, ChannelID: groupID,
	}, "")
	return nil
}

func groupOf(channelID, groupID string) string {
	if groupID != "" {
		return groupID
	}
	return channelID
}

func (m *ManagerService) checkGroupMember(ctx context.Context, groupID, userID string) error {
	if err := m.isMember(ctx, groupID, userID); err != nil {
		return err
	}
	return m.requireKind(ctx, groupID, true)
}

func (m *ManagerService) handleGroupHistory(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.HistoryPayload](raw)
	if err != nil {
		m.sendError(c, models.EventGroupMessageError, "", err)
		return
	}
	groupID := groupOf(p.ChannelID, p.GroupID)
	if err := m.checkGroupMember(ctx, groupID, c.UserID()); err != nil {
		m.sendError(c, models.EventGroupMessageError, "", err)
		return
	}
	c.Send(models.ServerEvent{Event: models.EventGroupHistory, Data: models.HistoryEvent{
		ChannelID: groupID,
		Messages:  m.history(ctx, groupID, p.Limit),
	}})
}

func (m *ManagerService) handleGroupRead(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.ReadPayload](raw)
	if err != nil {
		m.sendError(c, models.EventGroupMessageError, "", err)
		return
	}
	groupID := groupOf(p.ChannelID, p.GroupID)
	if err := m.checkGroupMember(ctx, groupID, c.UserID()); err != nil {
		m.sendError(c, models.EventGroupMessageError, "", err)
		return
	}
	if err := m.Storage.ResetUnread(ctx, groupID, c.UserID()); err != nil {
		m.sendError(c, models.EventGroupMessageError, "", err)
		return
	}
	c.Send(models.ServerEvent{Event: models.EventGroupReadConfirm, Data: models.ReadConfirmEvent{ChannelID: groupID}})
}

func (m *ManagerService) handleGroupDelete(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.GroupDeletePayload](raw)
	if err != nil {
		m.sendError(c, models.EventGroupDeleteError, "", err)
		return
	}
	members, _ := m.Storage.ParticipantIDs(ctx, p.GroupID)
	if err := m.Storage.SoftDeleteGroup(ctx, p.GroupID, c.UserID()); err != nil {
		m.sendError(c, models.EventGroupDeleteError, "", err)
		return
	}
	m.forgetMembership(p.GroupID, members)
	m.forgetKind(p.GroupID)
	if err := m.Cache.Drop(ctx, p.GroupID); err != nil {
		m.log.Warn("cache drop failed", zap.String("channel_id", p.GroupID), zap.Error(err))
	}
	if Cache(m.Fallback) != m.Cache {
		_ = m.Fallback.Drop(ctx, p.GroupID)
	}

	room := channelRoom(p.GroupID)
	m.EmitToRoom(room, models.EventGroupDeleteSuccess, models.GroupDeletePayload{GroupID: p.GroupID}, "")
	m.closeRoom(room)
}

func (m *ManagerService) handleRoomJoin(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.RoomJoinPayload](raw)
	if err != nil {
		m.sendError(c, models.EventError, "", err)
		return
	}
	if err := m.isMember(ctx, p.ChannelID, c.UserID()); err != nil {
		m.sendError(c, models.EventError, "", err)
		return
	}
	m.joinConn(c, channelRoom(p.ChannelID))
}
