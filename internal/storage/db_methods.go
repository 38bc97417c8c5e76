package storage

import (
	"channels/backend/internal/config"
	"channels/backend/internal/conversation"
	"channels/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PersistResult reports the outcome of PersistMessage.
type PersistResult struct {
	Duplicate     bool
	ExistingID    string
	PersistedAt   time.Time
	UnreadUpdates []models.UnreadUpdate
}

var errDuplicate = errors.New("message already persisted")

// GetOrCreateDirectChannel resolves the channel of a direct conversation,
// creating it on first use. Concurrent callers converge on one row.
func (s *Service) GetOrCreateDirectChannel(ctx context.Context, a, b string) (*models.Channel, error) {
	name, err := conversation.ChannelName(a, b)
	if err != nil {
		return nil, err
	}
	var ch models.Channel
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := models.Channel{ID: uuid.NewString(), Name: name, IsActive: true}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&candidate).Error; err != nil {
			return err
		}
		if err := tx.Where("name = ?", name).Take(&ch).Error; err != nil {
			return err
		}
		members := []models.ChannelParticipant{
			{ChannelID: ch.ID, UserID: a, Role: models.RoleMember, IsActive: true},
			{ChannelID: ch.ID, UserID: b, Role: models.RoleMember, IsActive: true},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
	if err != nil {
		return nil, fmt.Errorf("resolve direct channel: %w", err)
	}
	return &ch, nil
}

// FindDirectChannel looks up the direct channel of a and b without creating it.
func (s *Service) FindDirectChannel(ctx context.Context, a, b string) (*models.Channel, error) {
	name, err := conversation.ChannelName(a, b)
	if err != nil {
		return nil, err
	}
	var ch models.Channel
	err = s.DB.WithContext(ctx).
		Where("name = ? AND is_active = ? AND deleted_at IS NULL", name, true).
		Take(&ch).Error
	if err != nil {
		return nil, notFound(err, models.ErrNotFound)
	}
	return &ch, nil
}

func (s *Service) GetChannel(ctx context.Context, channelID string) (*models.Channel, error) {
	var ch models.Channel
	err := s.DB.WithContext(ctx).
		Where("id = ? AND is_active = ? AND deleted_at IS NULL", channelID, true).
		Take(&ch).Error
	if err != nil {
		return nil, notFound(err, models.ErrNotFound)
	}
	return &ch, nil
}

// CreateGroup creates a group owned by ownerID. members may contain the
// owner and duplicates; both are ignored.
func (s *Service) CreateGroup(ctx context.Context, ownerID, title, description string, members []string) (*models.Channel, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", models.ErrInvalidArgument)
	}
	seen := map[string]bool{ownerID: true}
	others := make([]string, 0, len(members))
	for _, m := range members {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		others = append(others, m)
	}
	if len(others)+1 < config.MinGroupMembers {
		return nil, models.ErrGroupTooSmall
	}
	if title == "" {
		title = config.DefaultGroupName
	}

	id := uuid.NewString()
	ch := models.Channel{
		ID:          id,
		Name:        "group:" + id,
		Title:       title,
		Description: description,
		IsGroup:     true,
		OwnerID:     ownerID,
		IsActive:    true,
	}
	ch.Participants = append(ch.Participants, models.ChannelParticipant{
		ChannelID: id, UserID: ownerID, Role: models.RoleOwner, IsActive: true,
	})
	for _, m := range others {
		ch.Participants = append(ch.Participants, models.ChannelParticipant{
			ChannelID: id, UserID: m, Role: models.RoleMember, IsActive: true,
		})
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&ch).Error; err != nil {
			return err
		}
		return tx.Create(&ch.Participants).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &ch, nil
}

// SoftDeleteGroup deactivates a group. Only its owner may do so.
func (s *Service) SoftDeleteGroup(ctx context.Context, groupID, userID string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch models.Channel
		if err := tx.Where("id = ? AND is_group = ? AND is_active = ? AND deleted_at IS NULL", groupID, true, true).
			Take(&ch).Error; err != nil {
			return notFound(err, models.ErrNotFound)
		}
		var n int64
		if err := tx.Model(&models.ChannelParticipant{}).
			Where("channel_id = ? AND user_id = ? AND is_active = ?", groupID, userID, true).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return models.ErrNotMember
		}
		if ch.OwnerID != userID {
			return models.ErrForbidden
		}
		now := time.Now().UTC()
		if err := tx.Model(&models.Channel{}).Where("id = ?", groupID).
			Updates(map[string]interface{}{"is_active": false, "deleted_at": now}).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChannelParticipant{}).Where("channel_id = ?", groupID).
			Update("is_active", false).Error
	})
}

// GetParticipant returns the active membership of userID in an active channel.
func (s *Service) GetParticipant(ctx context.Context, channelID, userID string) (*models.ChannelParticipant, error) {
	var p models.ChannelParticipant
	err := s.DB.WithContext(ctx).Model(&models.ChannelParticipant{}).
		Select("channel_participants.*").
		Joins("JOIN channels ON channels.id = channel_participants.channel_id").
		Where("channel_participants.channel_id = ? AND channel_participants.user_id = ?", channelID, userID).
		Where("channel_participants.is_active = ? AND channels.is_active = ? AND channels.deleted_at IS NULL", true, true).
		Take(&p).Error
	if err != nil {
		return nil, notFound(err, models.ErrNotMember)
	}
	return &p, nil
}

func (s *Service) ParticipantIDs(ctx context.Context, channelID string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.ChannelParticipant{}).
		Where("channel_id = ? AND is_active = ?", channelID, true).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

func (s *Service) ChannelsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.ChannelParticipant{}).
		Joins("JOIN channels ON channels.id = channel_participants.channel_id").
		Where("channel_participants.user_id = ? AND channel_participants.is_active = ?", userID, true).
		Where("channels.is_active = ? AND channels.deleted_at IS NULL", true).
		Pluck("channel_participants.channel_id", &ids).Error
	return ids, err
}

// ResetUnread zeroes the counter and records the read time.
func (s *Service) ResetUnread(ctx context.Context, channelID, userID string) error {
	res := s.DB.WithContext(ctx).Model(&models.ChannelParticipant{}).
		Where("channel_id = ? AND user_id = ? AND is_active = ?", channelID, userID, true).
		Updates(map[string]interface{}{
			"unread_count": 0,
			"last_read_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrNotMember
	}
	return nil
}

func (s *Service) UnreadCount(ctx context.Context, channelID, userID string) (int, error) {
	p, err := s.GetParticipant(ctx, channelID, userID)
	if err != nil {
		return 0, err
	}
	return p.UnreadCount, nil
}

// History returns up to limit of the newest messages, oldest first.
func (s *Service) History(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > config.HistoryLimit {
		limit = config.HistoryLimit
	}
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Preload("Attachments", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		Where("channel_id = ?", channelID).
		Order("created_at desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// PersistMessage stores m, its attachments and the unread increments of the
// other participants in one transaction. A message already stored under the
// same id, or the same sender with the same tempId or clientMessageId, is
// reported as a duplicate and nothing is written.
func (s *Service) PersistMessage(ctx context.Context, m *models.Message) (*PersistResult, error) {
	res := &PersistResult{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conds := []string{"id = ?"}
		args := []interface{}{m.ID}
		if m.TempID != "" {
			conds = append(conds, "(sender_id = ? AND temp_id = ?)")
			args = append(args, m.SenderID, m.TempID)
		}
		if m.ClientMessageID != "" {
			conds = append(conds, "(sender_id = ? AND client_message_id = ?)")
			args = append(args, m.SenderID, m.ClientMessageID)
		}
		var existing models.Message
		err := tx.Select("id").Where(strings.Join(conds, " OR "), args...).Take(&existing).Error
		if err == nil {
			res.ExistingID = existing.ID
			return errDuplicate
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		m.Status = models.StatusPersisted
		m.PersistedAt = &now
		m.UpdatedAt = now
		if err := tx.Omit(clause.Associations).Create(m).Error; err != nil {
			return err
		}
		if len(m.Attachments) > 0 {
			for i := range m.Attachments {
				m.Attachments[i].MessageID = m.ID
				m.Attachments[i].Position = i
				if m.Attachments[i].ID == "" {
					m.Attachments[i].ID = uuid.NewString()
				}
			}
			if err := tx.Create(&m.Attachments).Error; err != nil {
				return err
			}
		}

		others := tx.Model(&models.ChannelParticipant{}).
			Where("channel_id = ? AND user_id <> ? AND is_active = ?", m.ChannelID, m.SenderID, true).
			Session(&gorm.Session{})
		if err := others.
			UpdateColumn("unread_count", gorm.Expr("unread_count + ?", 1)).Error; err != nil {
			return err
		}
		if err := others.
			Select("user_id, unread_count").
			Order("user_id").
			Scan(&res.UnreadUpdates).Error; err != nil {
			return err
		}
		res.PersistedAt = now
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return &PersistResult{Duplicate: true, ExistingID: res.ExistingID}, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
