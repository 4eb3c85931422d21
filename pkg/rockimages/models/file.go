package models

import (
	"strings"
	"time"

	"github.com/rockimages/rockimages/pkg/rockimages/storage"
	"gorm.io/datatypes"
)

// FileKind distinguishes still images from videos
type FileKind string

const (
	FileKindImage FileKind = "image"
	FileKindVideo FileKind = "video"
)

// KindForMime classifies a MIME type: anything under video/ is a video,
// everything else is treated as an image.
func KindForMime(mimeType string) FileKind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "video/") {
		return FileKindVideo
	}
	return FileKindImage
}

// File is a media asset in an organization's catalog.
// Deleted rows are never returned by listings or search.
type File struct {
	ID              uint            `gorm:"primarykey" json:"id"`
	CreatedAt       time.Time       `gorm:"index:idx_files_org_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	OrganizationID  uint            `gorm:"not null;index:idx_files_org_created,priority:1" json:"organization_id"`
	UploaderID      uint            `gorm:"not null;index" json:"uploader_id"`
	OriginalName    string          `gorm:"not null" json:"original_name"`
	DisplayName     string          `gorm:"not null" json:"display_name"`
	MimeType        string          `gorm:"not null" json:"mime_type"`
	Kind            FileKind        `gorm:"type:varchar(10);not null" json:"kind"`
	OriginalLocator storage.Locator `gorm:"type:varchar(255);not null;index" json:"original_locator"`
	PreviewLocator  storage.Locator `gorm:"type:varchar(255);not null;index" json:"preview_locator"`
	SizeBytes       int64           `gorm:"not null" json:"size_bytes"`
	ShootDate       *datatypes.Date `json:"shoot_date"`
	LocationText    string          `gorm:"not null;default:''" json:"location_text"`
	Deleted         bool            `gorm:"not null;default:false;index" json:"-"`

	// Relationships
	Organization Organization `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"-"`
	Uploader     User         `gorm:"foreignKey:UploaderID" json:"-"`
}

// FileGroup associates a file with a group of the same organization
type FileGroup struct {
	FileID  uint `gorm:"primaryKey;autoIncrement:false" json:"file_id"`
	GroupID uint `gorm:"primaryKey;autoIncrement:false;index" json:"group_id"`

	// Relationships
	File  File  `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"-"`
	Group Group `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the join table name
func (FileGroup) TableName() string {
	return "file_groups"
}
