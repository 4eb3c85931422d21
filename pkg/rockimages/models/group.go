package models

import "time"

// Group is an organization-scoped tag applied to files.
// Names are not unique; two groups may share a name and differ by color.
type Group struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	OrganizationID uint      `gorm:"not null;index" json:"organization_id"`
	Name           string    `gorm:"not null" json:"name"`
	Color          string    `gorm:"not null" json:"color"`

	// Relationships
	Organization Organization `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName keeps the table clear of the GROUP keyword
func (Group) TableName() string {
	return "org_groups"
}
