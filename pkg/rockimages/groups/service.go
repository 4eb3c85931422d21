package groups

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rockimages/rockimages/pkg/rockimages/access"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"gorm.io/gorm"
)

// Service manages organization-scoped tags
type Service struct {
	db     *gorm.DB
	access *access.Resolver
}

// NewService creates a new group service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, access: access.NewResolver(db)}
}

// CreateGroup adds a tag to an organization. The caller must be able to edit it.
func (s *Service) CreateGroup(ctx context.Context, orgID, callerID uint, name, color string) (*models.Group, error) {
	decision, _, err := s.access.Authorize(ctx, orgID, callerID)
	if err != nil {
		return nil, err
	}
	if err := decision.RequireEdit(); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	color = strings.TrimSpace(color)
	if name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if color == "" {
		return nil, apperr.Invalid("color", "must not be empty")
	}

	group := models.Group{OrganizationID: orgID, Name: name, Color: color}
	if err := s.db.WithContext(ctx).Create(&group).Error; err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &group, nil
}

// ListGroups returns every group of the organization in name order.
func (s *Service) ListGroups(ctx context.Context, orgID, callerID uint) ([]models.Group, error) {
	decision, _, err := s.access.Authorize(ctx, orgID, callerID)
	if err != nil {
		return nil, err
	}
	if err := decision.RequireView(); err != nil {
		return nil, err
	}

	var groups []models.Group
	if err := s.db.WithContext(ctx).Where("organization_id = ?", orgID).Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	Sort(groups)
	return groups, nil
}

// Sort orders groups by name, comparing bytes (case-sensitive), then by id.
// Sorting happens here rather than in SQL so the order does not depend on
// the database collation.
func Sort(groups []models.Group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Name != groups[j].Name {
			return groups[i].Name < groups[j].Name
		}
		return groups[i].ID < groups[j].ID
	})
}

// FilterToOrganization keeps only the ids that name groups of orgID,
// preserving order and dropping duplicates.
func FilterToOrganization(ctx context.Context, tx *gorm.DB, orgID uint, ids []uint) ([]uint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var valid []uint
	if err := tx.WithContext(ctx).Model(&models.Group{}).
		Where("organization_id = ? AND id IN ?", orgID, ids).
		Pluck("id", &valid).Error; err != nil {
		return nil, fmt.Errorf("filter groups: %w", err)
	}

	allowed := make(map[uint]bool, len(valid))
	for _, id := range valid {
		allowed[id] = true
	}
	out := make([]uint, 0, len(valid))
	for _, id := range ids {
		if allowed[id] {
			out = append(out, id)
			delete(allowed, id)
		}
	}
	return out, nil
}
