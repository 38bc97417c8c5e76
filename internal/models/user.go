package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PresenceStatus is the user-selected availability shown to other users.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Selectable reports whether a client may switch to the status explicitly.
// Offline is derived from the connection set and cannot be requested.
func (s PresenceStatus) Selectable() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	}
	return false
}

// User is a chat participant. Read queries must filter on IsActive and DeletedAt.
type User struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name      string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Status    PresenceStatus `gorm:"type:varchar(16);not null;default:offline" json:"status"`
	LastSeen  time.Time      `gorm:"index" json:"lastSeen"`
	IsActive  bool           `gorm:"not null;default:true" json:"isActive"`
	DeletedAt *time.Time     `gorm:"index" json:"deletedAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// BeforeCreate generates an ID and seeds LastSeen for new rows.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = time.Now().UTC()
	}
	if u.Status == "" {
		u.Status = StatusOffline
	}
	return
}
