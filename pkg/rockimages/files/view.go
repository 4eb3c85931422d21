package files

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"gorm.io/gorm"
)

// DateLayout is the wire format of shoot dates.
const DateLayout = "2006-01-02"

// GroupRef is the group projection embedded in file views.
type GroupRef struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// View is the projection of a file returned to clients.
type View struct {
	ID             uint            `json:"id"`
	OrganizationID uint            `json:"organization_id"`
	DisplayName    string          `json:"display_name"`
	OriginalName   string          `json:"original_name"`
	MimeType       string          `json:"mime_type"`
	Kind           models.FileKind `json:"kind"`
	PreviewURL     string          `json:"preview_url"`
	OriginalURL    string          `json:"original_url"`
	SizeBytes      int64           `json:"size_bytes"`
	ShootDate      string          `json:"shoot_date"`
	LocationText   string          `json:"location_text"`
	CreatedAt      time.Time       `json:"created_at"`
	Groups         []GroupRef      `json:"groups"`
}

// NewView projects a file row and its groups.
func NewView(f models.File, groups []GroupRef) View {
	if groups == nil {
		groups = []GroupRef{}
	}
	shootDate := ""
	if f.ShootDate != nil {
		shootDate = time.Time(*f.ShootDate).Format(DateLayout)
	}
	return View{
		ID:             f.ID,
		OrganizationID: f.OrganizationID,
		DisplayName:    f.DisplayName,
		OriginalName:   f.OriginalName,
		MimeType:       f.MimeType,
		Kind:           f.Kind,
		PreviewURL:     f.PreviewLocator.PublicReference(),
		OriginalURL:    f.OriginalLocator.PublicReference(),
		SizeBytes:      f.SizeBytes,
		ShootDate:      shootDate,
		LocationText:   f.LocationText,
		CreatedAt:      f.CreatedAt,
		Groups:         groups,
	}
}

// GroupIDs returns the ids of the view's groups.
func (v View) GroupIDs() []uint {
	ids := make([]uint, len(v.Groups))
	for i, g := range v.Groups {
		ids[i] = g.ID
	}
	return ids
}

type groupRefRow struct {
	FileID uint
	ID     uint
	Name   string
	Color  string
}

// LoadGroupRefs returns the groups of each file, keyed by file id and ordered
// by name (byte-wise) then id. Files without groups are absent from the map.
func LoadGroupRefs(ctx context.Context, db *gorm.DB, fileIDs []uint) (map[uint][]GroupRef, error) {
	out := make(map[uint][]GroupRef)
	if len(fileIDs) == 0 {
		return out, nil
	}

	var rows []groupRefRow
	err := db.WithContext(ctx).
		Table("file_groups").
		Select("file_groups.file_id, org_groups.id, org_groups.name, org_groups.color").
		Joins("JOIN org_groups ON org_groups.id = file_groups.group_id").
		Where("file_groups.file_id IN ?", fileIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load file groups: %w", err)
	}

	for _, r := range rows {
		out[r.FileID] = append(out[r.FileID], GroupRef{ID: r.ID, Name: r.Name, Color: r.Color})
	}
	for _, refs := range out {
		sort.Slice(refs, func(i, j int) bool {
			if refs[i].Name != refs[j].Name {
				return refs[i].Name < refs[j].Name
			}
			return refs[i].ID < refs[j].ID
		})
	}
	return out, nil
}
