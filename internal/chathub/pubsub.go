package chathub

import (
	"channels/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// StartPubSubListener subscribes the hub to events published by the
// persistence worker and the sweeper. It returns once both subscriptions are
// live; delivery continues until the bus is closed.
func (m *ManagerService) StartPubSubListener(ctx context.Context) error {
	if m.Bus == nil {
		return nil
	}
	if err := m.Bus.Subscribe(ctx, models.EventMessagePersisted, m.onPersisted); err != nil {
		return fmt.Errorf("listen %s: %w", models.EventMessagePersisted, err)
	}
	if err := m.Bus.Subscribe(ctx, models.EventUserDeactivated, m.onDeactivated); err != nil {
		return fmt.Errorf("listen %s: %w", models.EventUserDeactivated, err)
	}
	m.log.Info("pubsub listener started")
	return nil
}

// onPersisted forwards the final confirmation to the channel room and the new
// unread counters to each affected user.
func (m *ManagerService) onPersisted(_ context.Context, payload []byte) {
	var evt models.PersistedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		m.log.Warn("bad persisted event", zap.Error(err))
		return
	}

	persisted, unread := models.EventMessagePersisted, models.EventMessageUnread
	if evt.IsGroup {
		persisted, unread = models.EventGroupMessagePersisted, models.EventGroupMessageUnread
	}
	m.EmitToRoom(channelRoom(evt.ChannelID), persisted, evt, "")
	for _, u := range evt.UnreadUpdates {
		m.EmitToUser(u.UserID, unread, models.UnreadEvent{
			ChannelID:   evt.ChannelID,
			UserID:      u.UserID,
			UnreadCount: u.UnreadCount,
		})
	}
}

func (m *ManagerService) onDeactivated(_ context.Context, payload []byte) {
	var evt models.DeactivatedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		m.log.Warn("bad deactivation event", zap.Error(err))
		return
	}
	m.Broadcast(models.EventUserDeactivated, evt)
}
