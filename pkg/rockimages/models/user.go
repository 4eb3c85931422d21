package models

import "time"

// User represents an account that can belong to organizations
type User struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`

	// Relationships
	OrganizationMemberships []OrganizationMembership `gorm:"foreignKey:UserID" json:"-"`
	APIKeys                 []APIKey                 `gorm:"foreignKey:UserID" json:"-"`
}
