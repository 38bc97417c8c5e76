package storage

import (
	"channels/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Storage interface {
	Ping(ctx context.Context) error

	EnsureUser(ctx context.Context, userID, name string) error
	GetOrCreateUserByName(ctx context.Context, name string) (*models.User, error)
	TouchUser(ctx context.Context, userID string, status models.PresenceStatus) error
	DeactivateInactiveUsers(ctx context.Context, cutoff time.Time) ([]string, error)

	GetOrCreateDirectChannel(ctx context.Context, a, b string) (*models.Channel, error)
	FindDirectChannel(ctx context.Context, a, b string) (*models.Channel, error)
	GetChannel(ctx context.Context, channelID string) (*models.Channel, error)
	CreateGroup(ctx context.Context, ownerID, title, description string, members []string) (*models.Channel, error)
	SoftDeleteGroup(ctx context.Context, groupID, userID string) error

	GetParticipant(ctx context.Context, channelID, userID string) (*models.ChannelParticipant, error)
	ParticipantIDs(ctx context.Context, channelID string) ([]string, error)
	ChannelsForUser(ctx context.Context, userID string) ([]string, error)
	ResetUnread(ctx context.Context, channelID, userID string) error
	UnreadCount(ctx context.Context, channelID, userID string) (int, error)

	History(ctx context.Context, channelID string, limit int) ([]models.Message, error)
	PersistMessage(ctx context.Context, m *models.Message) (*PersistResult, error)
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Open connects to PostgreSQL through lib/pq.
func Open(dsn string, debug bool) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if debug {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DriverName: "postgres",
		DSN:        dsn,
	}), cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates every table the pipeline uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Channel{},
		&models.ChannelParticipant{},
		&models.Message{},
		&models.Attachment{},
	)
}

func (s *Service) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// EnsureUser inserts the user on first contact and leaves existing rows alone.
func (s *Service) EnsureUser(ctx context.Context, userID, name string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", models.ErrInvalidArgument)
	}
	if name == "" {
		name = userID
	}
	user := models.User{ID: userID, Name: name, IsActive: true}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&user).Error
}

// GetOrCreateUserByName returns the user with this name, creating it when
// absent. A user deactivated by the inactivity sweep is reactivated; a
// deleted one is refused.
func (s *Service) GetOrCreateUserByName(ctx context.Context, name string) (*models.User, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", models.ErrInvalidArgument)
	}
	var user models.User
	err := s.DB.WithContext(ctx).
		Where("name = ?", name).
		Attrs(models.User{IsActive: true}).
		FirstOrCreate(&user, models.User{Name: name}).Error
	if err != nil {
		return nil, err
	}
	if user.DeletedAt != nil {
		return nil, models.ErrForbidden
	}
	if !user.IsActive {
		if err := s.DB.WithContext(ctx).Model(&user).Update("is_active", true).Error; err != nil {
			return nil, err
		}
	}
	return &user, nil
}

func (s *Service) TouchUser(ctx context.Context, userID string, status models.PresenceStatus) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"status":    status,
			"last_seen": time.Now().UTC(),
		}).Error
}

// DeactivateInactiveUsers flips is_active for users not seen since cutoff and
// for their channel memberships. It returns the affected user ids.
func (s *Service) DeactivateInactiveUsers(ctx context.Context, cutoff time.Time) ([]string, error) {
	var ids []string
	cutoff = cutoff.UTC()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).
			Where("is_active = ? AND deleted_at IS NULL AND last_seen < ?", true, cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&models.User{}).
			Where("id IN ?", ids).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChannelParticipant{}).
			Where("user_id IN ?", ids).
			Update("is_active", false).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
