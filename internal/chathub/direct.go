package chathub

import (
	"channels/backend/internal/config"
	"channels/backend/internal/conversation"
	"channels/backend/internal/formatter"
	"channels/backend/internal/metrics"
	"channels/backend/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

func (m *ManagerService) handleDirectSend(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.SendPayload](raw)
	if err != nil {
		m.sendError(c, models.EventMessageError, "", err)
		return
	}
	if err := m.SendDirect(ctx, c, p); err != nil {
		m.sendError(c, models.EventMessageError, p.TempID, err)
	}
}

// SendDirect runs the direct delivery pipeline: broadcast first, then
// persist. A failure after the broadcast does not undo earlier steps.
func (m *ManagerService) SendDirect(ctx context.Context, c Client, p *models.SendPayload) error {
	if m.Queue == nil {
		return models.ErrQueueUnavailable
	}
	sender := c.UserID()

	channelID, receiverID, err := m.resolveDirect(ctx, sender, p.ChannelID, p.ReceiverID, true)
	if err != nil {
		return err
	}
	p.ChannelID = channelID

	room := channelRoom(channelID)
	m.joinUser(sender, room)
	var convRoom string
	if receiverID != "" {
		m.joinUser(receiverID, room)
		convRoom, _ = conversation.Room(sender, receiverID)
		m.joinUser(sender, convRoom)
		m.joinUser(receiverID, convRoom)
	}

	msg, err := formatter.Format(p, formatter.Sender{ID: sender, Name: c.UserName()}, formatter.Overrides{ReceiverID: receiverID})
	if err != nil {
		return err
	}

	m.EmitToRoom(room, models.EventMessageReceive, models.ReceiveEvent{Message: msg, Optimistic: true}, "")
	c.Send(models.ServerEvent{Event: models.EventMessageAck, Data: models.AckEvent{
		ID:        msg.ID,
		TempID:    msg.TempID,
		ChannelID: msg.ChannelID,
		Status:    msg.Status,
		CreatedAt: msg.CreatedAt,
	}})
	m.metrics.MessageSent(false)

	if _, err := m.Queue.Add(ctx, config.PersistJobName, msg, nil); err != nil {
		m.log.Warn("enqueue failed, persisting inline", zap.String("message_id", msg.ID), zap.Error(err))
		m.persistInline(ctx, msg)
	}

	if err := m.Cache.Append(ctx, msg); err != nil {
		m.log.Warn("cache append failed", zap.String("channel_id", channelID), zap.Error(err))
	}

	if convRoom != "" {
		m.EmitToRoom(convRoom, models.EventMessageDelivered, models.DeliveredEvent{
			ID: msg.ID, TempID: msg.TempID, ChannelID: channelID,
		}, "")
	}

	c.Send(models.ServerEvent{Event: models.EventMessagePersisted, Data: models.PersistedEvent{
		ID:              msg.ID,
		TempID:          msg.TempID,
		ClientMessageID: msg.ClientMessageID,
		ChannelID:       msg.ChannelID,
		SenderID:        msg.SenderID,
		MessageType:     msg.MessageType,
		Status:          msg.Status,
	}})
	return nil
}

// persistInline stores msg without the queue. Errors are logged only; the
// message is kept in the in-process store either way.
func (m *ManagerService) persistInline(ctx context.Context, msg *models.Message) {
	m.metrics.JobProcessed(metrics.OutcomeInline)
	if m.Persister != nil {
		if _, err := m.Persister.Persist(ctx, msg.Clone()); err != nil {
			m.log.Error("inline persist failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	m.appendFallback(ctx, msg)
}

func (m *ManagerService) appendFallback(ctx context.Context, msg *models.Message) {
	if Cache(m.Fallback) == m.Cache {
		return
	}
	if err := m.Fallback.Append(ctx, msg); err != nil {
		m.log.Warn("fallback append failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

// resolveDirect finds the channel of a direct conversation. With only a
// receiver the channel is looked up by the pair and, when create is set,
// created on first use. With a channel id the sender must already belong to
// it and it must not be a group.
func (m *ManagerService) resolveDirect(ctx context.Context, sender, channelID, receiverID string, create bool) (string, string, error) {
	if channelID == "" {
		if receiverID == "" {
			return "", "", fmt.Errorf("%w: channelId or receiverId is required", models.ErrInvalidArgument)
		}
		if receiverID == sender {
			return "", "", fmt.Errorf("%w: cannot message yourself", models.ErrInvalidArgument)
		}
		find := m.Storage.FindDirectChannel
		if create {
			find = m.Storage.GetOrCreateDirectChannel
		}
		ch, err := find(ctx, sender, receiverID)
		if err != nil {
			return "", "", err
		}
		return ch.ID, receiverID, nil
	}

	if err := m.isMember(ctx, channelID, sender); err != nil {
		return "", "", err
	}
	if err := m.requireKind(ctx, channelID, false); err != nil {
		return "", "", err
	}
	if receiverID == "" {
		ids, err := m.Storage.ParticipantIDs(ctx, channelID)
		if err == nil && len(ids) == 2 {
			for _, id := range ids {
				if id != sender {
					receiverID = id
				}
			}
		}
	}
	return channelID, receiverID, nil
}

func (m *ManagerService) handleDirectHistory(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.HistoryPayload](raw)
	if err != nil {
		m.sendError(c, models.EventMessageError, "", err)
		return
	}
	channelID, _, err := m.resolveDirect(ctx, c.UserID(), p.ChannelID, p.ReceiverID, false)
	if errors.Is(err, models.ErrNotFound) && p.ChannelID == "" {
		c.Send(models.ServerEvent{Event: models.EventDirectHistory, Data: models.HistoryEvent{Messages: []models.Message{}}})
		return
	}
	if err != nil {
		m.sendError(c, models.EventMessageError, "", err)
		return
	}
	c.Send(models.ServerEvent{Event: models.EventDirectHistory, Data: models.HistoryEvent{
		ChannelID: channelID,
		Messages:  m.history(ctx, channelID, p.Limit),
	}})
}

// history prefers the database and falls back to the recent-message caches.
func (m *ManagerService) history(ctx context.Context, channelID string, limit int) []models.Message {
	if limit <= 0 || limit > config.HistoryLimit {
		limit = config.HistoryLimit
	}
	msgs, err := m.Storage.History(ctx, channelID, limit)
	if err == nil && len(msgs) > 0 {
		return msgs
	}
	if err != nil {
		m.log.Warn("history query failed, using cache", zap.String("channel_id", channelID), zap.Error(err))
	}
	if cached, err := m.Cache.Recent(ctx, channelID, limit); err == nil && len(cached) > 0 {
		return cached
	}
	fallback, _ := m.Fallback.Recent(ctx, channelID, limit)
	return fallback
}

func (m *ManagerService) handleDirectRead(ctx context.Context, c Client, raw json.RawMessage) {
	p, err := decode[models.ReadPayload](raw)
	if err != nil {
		m.sendError(c, models.EventMessageError, "", err)
		return
	}
	channelID, _, err := m.resolveDirect(ctx, c.UserID(), p.ChannelID, p.ReceiverID, false)
	if err != nil {
		m.sendError(c, models.EventMessageError, "", err)
		return
	}
	if err := m.Storage.ResetUnread(ctx, channelID, c.UserID()); err != nil {
		m.sendError(c, models.EventMessageError, "", err)
		return
	}
	c.Send(models.ServerEvent{Event: models.EventReadConfirm, Data: models.ReadConfirmEvent{ChannelID: channelID}})
}

func (m *ManagerService) sendError(c Client, event, tempID string, err error) {
	details := err.Error()
	if !isClientError(err) {
		m.log.Error("event failed", zap.String("event", event), zap.String("user_id", c.UserID()), zap.Error(err))
	}
	c.Send(models.ServerEvent{Event: event, Data: models.ErrorEvent{
		TempID:  tempID,
		Error:   errorCode(err),
		Details: details,
	}})
}

func isClientError(err error) bool {
	return errors.Is(err, models.ErrInvalidArgument) ||
		errors.Is(err, models.ErrNotMember) ||
		errors.Is(err, models.ErrForbidden) ||
		errors.Is(err, models.ErrNotFound) ||
		errors.Is(err, models.ErrGroupTooSmall)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, models.ErrNotMember):
		return "not_member"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrGroupTooSmall):
		return "group_too_small"
	case errors.Is(err, models.ErrQueueUnavailable):
		return "queue_unavailable"
	}
	return "internal"
}
