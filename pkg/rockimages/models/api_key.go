package models

import (
	"time"

	"gorm.io/gorm"
)

// APIKey represents an API key for scripted uploads and searches
type APIKey struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	UserID      uint           `gorm:"not null;index" json:"user_id"`
	KeyHash     string         `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix   string         `gorm:"not null" json:"key_prefix"` // First few chars for identification
	Description string         `json:"description"`
	LastUsedAt  *time.Time     `json:"last_used_at"`

	// Relationships
	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
