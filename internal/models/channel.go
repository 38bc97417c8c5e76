package models

import "time"

// ParticipantRole is the role a user holds inside a channel.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

// Channel is either a direct conversation between exactly two users or a group.
// Direct channels are looked up by Name, which is derived from the sorted pair
// of participant ids, so both sides converge on the same row.
type Channel struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Title       string     `gorm:"type:varchar(255)" json:"title,omitempty"`
	Description string     `gorm:"type:text" json:"description,omitempty"`
	IsGroup     bool       `gorm:"not null;default:false;index" json:"isGroup"`
	OwnerID     string     `gorm:"type:varchar(64)" json:"ownerId,omitempty"`
	IsActive    bool       `gorm:"not null;default:true" json:"isActive"`
	DeletedAt   *time.Time `gorm:"index" json:"deletedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	Participants []ChannelParticipant `gorm:"foreignKey:ChannelID" json:"participants,omitempty"`
}

// ChannelParticipant links a user to a channel and carries the per-user unread counter.
// UnreadCount is only ever changed with in-place SQL arithmetic.
type ChannelParticipant struct {
	ChannelID   string          `gorm:"primaryKey;type:varchar(64)" json:"channelId"`
	UserID      string          `gorm:"primaryKey;type:varchar(64);index" json:"userId"`
	Role        ParticipantRole `gorm:"type:varchar(16);not null;default:member" json:"role"`
	UnreadCount int             `gorm:"not null;default:0" json:"unreadCount"`
	IsActive    bool            `gorm:"not null;default:true" json:"isActive"`
	LastReadAt  *time.Time      `json:"lastReadAt,omitempty"`
	JoinedAt    time.Time       `gorm:"autoCreateTime" json:"joinedAt"`
}
