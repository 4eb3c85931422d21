package models

import "time"

// OrgRole represents a user's role within an organization
type OrgRole string

const (
	OrgRoleOwner  OrgRole = "owner"
	OrgRoleEditor OrgRole = "editor"
	OrgRoleViewer OrgRole = "viewer"
)

// Valid reports whether r is one of the three membership roles.
func (r OrgRole) Valid() bool {
	switch r {
	case OrgRoleOwner, OrgRoleEditor, OrgRoleViewer:
		return true
	}
	return false
}

// Visibility controls whether non-members can browse an organization
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Organization is the tenant that owns groups and files.
// Its owner is recorded in OwnerID and also holds an owner membership row;
// authorization only ever looks at memberships.
type Organization struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Name        string     `gorm:"not null" json:"name"`
	Slug        string     `gorm:"uniqueIndex;not null" json:"slug"`
	Description string     `json:"description"`
	Visibility  Visibility `gorm:"type:varchar(10);not null;default:'public'" json:"visibility"`
	OwnerID     uint       `gorm:"not null;index" json:"owner_id"`

	// Relationships
	Owner   User                     `gorm:"foreignKey:OwnerID" json:"-"`
	Members []OrganizationMembership `gorm:"foreignKey:OrganizationID" json:"-"`
	Groups  []Group                  `gorm:"foreignKey:OrganizationID" json:"-"`
}

// OrganizationMembership assigns a user a role in an organization.
// A user holds at most one membership per organization.
type OrganizationMembership struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	OrganizationID uint      `gorm:"not null;uniqueIndex:idx_org_user" json:"organization_id"`
	UserID         uint      `gorm:"not null;uniqueIndex:idx_org_user;index" json:"user_id"`
	Role           OrgRole   `gorm:"type:varchar(10);not null;default:'viewer'" json:"role"`

	// Relationships
	Organization Organization `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"-"`
	User         User         `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}
