// Package organizations manages tenants, their memberships and the public
// directory.
package organizations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/rockimages/rockimages/pkg/rockimages/access"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/metrics"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"github.com/rockimages/rockimages/pkg/rockimages/search"
	"gorm.io/gorm"
)

const (
	directoryLimit = 20
	maxSlugTries   = 100
)

// Summary is an organization as seen by one caller.
type Summary struct {
	ID          uint              `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description"`
	Visibility  models.Visibility `json:"visibility"`
	OwnerID     uint              `json:"owner_id"`
	Role        models.OrgRole    `json:"role,omitempty"`
	CanEdit     bool              `json:"can_edit"`
	CreatedAt   time.Time         `json:"created_at"`
}

func newSummary(org models.Organization, decision access.Decision) Summary {
	return Summary{
		ID:          org.ID,
		Name:        org.Name,
		Slug:        org.Slug,
		Description: org.Description,
		Visibility:  org.Visibility,
		OwnerID:     org.OwnerID,
		Role:        decision.Role,
		CanEdit:     decision.CanEdit(),
		CreatedAt:   org.CreatedAt,
	}
}

// Member is one membership row with the member's username.
type Member struct {
	UserID   uint           `json:"user_id"`
	Username string         `json:"username"`
	Role     models.OrgRole `json:"role"`
	JoinedAt time.Time      `json:"joined_at"`
}

// DirectoryEntry is a public organization listed in the directory.
type DirectoryEntry struct {
	ID            uint      `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Description   string    `json:"description"`
	OwnerUsername string    `json:"owner_username"`
	CreatedAt     time.Time `json:"created_at"`
}

// Service manages organizations.
type Service struct {
	db     *gorm.DB
	access *access.Resolver
}

// NewService creates an organizations service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, access: access.NewResolver(db)}
}

// Create makes a new organization owned by the caller. The slug is derived
// from the name and suffixed when taken.
func (s *Service) Create(ctx context.Context, callerID uint, name, description string, visibility models.Visibility) (*Summary, error) {
	if callerID == access.Anonymous {
		return nil, apperr.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if !visibility.Valid() {
		return nil, apperr.Invalid("visibility", "must be public or private")
	}

	var org models.Organization
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orgSlug, err := uniqueSlug(tx, name)
		if err != nil {
			return err
		}
		org = models.Organization{
			Name:        name,
			Slug:        orgSlug,
			Description: strings.TrimSpace(description),
			Visibility:  visibility,
			OwnerID:     callerID,
		}
		if err := tx.Create(&org).Error; err != nil {
			return apperr.FromDB(err)
		}
		return tx.Create(&models.OrganizationMembership{
			OrganizationID: org.ID,
			UserID:         callerID,
			Role:           models.OrgRoleOwner,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}

	summary := newSummary(org, access.Decision{OrgID: org.ID, CallerID: callerID, Role: models.OrgRoleOwner, Member: true, Visibility: org.Visibility})
	return &summary, nil
}

func uniqueSlug(tx *gorm.DB, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "org"
	}
	for i := 1; i <= maxSlugTries; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		var count int64
		if err := tx.Model(&models.Organization{}).Where("slug = ?", candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("slug %q: %w", base, apperr.ErrConflict)
}

// Get returns an organization the caller may view.
func (s *Service) Get(ctx context.Context, orgID, callerID uint) (*Summary, error) {
	decision, org, err := s.access.Authorize(ctx, orgID, callerID)
	if err != nil {
		return nil, err
	}
	if err := decision.RequireView(); err != nil {
		return nil, err
	}
	summary := newSummary(*org, decision)
	return &summary, nil
}

// ListForUser returns the caller's organizations, newest first.
func (s *Service) ListForUser(ctx context.Context, callerID uint) ([]Summary, error) {
	if callerID == access.Anonymous {
		return nil, apperr.ErrUnauthenticated
	}

	var memberships []models.OrganizationMembership
	if err := s.db.WithContext(ctx).Where("user_id = ?", callerID).Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	if len(memberships) == 0 {
		return []Summary{}, nil
	}
	roles := make(map[uint]models.OrgRole, len(memberships))
	ids := make([]uint, len(memberships))
	for i, m := range memberships {
		roles[m.OrganizationID] = m.Role
		ids[i] = m.OrganizationID
	}

	var orgs []models.Organization
	err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("created_at DESC").Order("id DESC").
		Find(&orgs).Error
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}

	out := make([]Summary, len(orgs))
	for i, org := range orgs {
		out[i] = newSummary(org, access.Decision{
			OrgID:      org.ID,
			CallerID:   callerID,
			Role:       roles[org.ID],
			Member:     true,
			Visibility: org.Visibility,
		})
	}
	return out, nil
}

// ListMembers returns the organization's members. Only members may see them.
func (s *Service) ListMembers(ctx context.Context, orgID, callerID uint) ([]Member, error) {
	decision, _, err := s.access.Authorize(ctx, orgID, callerID)
	if err != nil {
		return nil, err
	}
	if err := requireMember(decision); err != nil {
		return nil, err
	}

	var memberships []models.OrganizationMembership
	err = s.db.WithContext(ctx).
		Joins("User").
		Where("organization_memberships.organization_id = ?", orgID).
		Order("organization_memberships.created_at").Order("organization_memberships.id").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	out := make([]Member, len(memberships))
	for i, m := range memberships {
		out[i] = Member{UserID: m.UserID, Username: m.User.Username, Role: m.Role, JoinedAt: m.CreatedAt}
	}
	return out, nil
}

func requireMember(d access.Decision) error {
	if err := d.RequireView(); err != nil {
		return err
	}
	if d.Member {
		return nil
	}
	if d.CallerID == access.Anonymous {
		return apperr.ErrUnauthenticated
	}
	return fmt.Errorf("organization %d: not a member: %w", d.OrgID, apperr.ErrForbidden)
}

// AddMember grants a user a role. Owners and editors may add members, but
// only owners may grant the owner role.
func (s *Service) AddMember(ctx context.Context, orgID, callerID uint, username string, role models.OrgRole) (*Member, error) {
	if role == "" {
		role = models.OrgRoleViewer
	}
	if !role.Valid() {
		return nil, apperr.Invalid("role", "must be owner, editor or viewer")
	}

	var member Member
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decision, _, err := s.access.WithTx(tx).Authorize(ctx, orgID, callerID)
		if err != nil {
			return err
		}
		if err := decision.RequireEdit(); err != nil {
			return err
		}
		if role == models.OrgRoleOwner && !decision.IsOwner() {
			return fmt.Errorf("only owners may grant the owner role: %w", apperr.ErrForbidden)
		}

		var user models.User
		if err := tx.Where("username = ?", strings.TrimSpace(username)).Take(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("user %q: %w", username, apperr.ErrNotFound)
			}
			return err
		}

		membership := models.OrganizationMembership{OrganizationID: orgID, UserID: user.ID, Role: role}
		if err := tx.Create(&membership).Error; err != nil {
			return apperr.FromDB(err)
		}
		member = Member{UserID: user.ID, Username: user.Username, Role: role, JoinedAt: membership.CreatedAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// SearchDirectory lists public organizations whose name or description
// contains query, newest first.
func (s *Service) SearchDirectory(ctx context.Context, query string) ([]DirectoryEntry, error) {
	defer metrics.ObserveSearch("directory", time.Now())

	q := s.db.WithContext(ctx).
		Table("organizations").
		Select("organizations.id, organizations.name, organizations.slug, organizations.description, organizations.created_at, users.username AS owner_username").
		Joins("JOIN users ON users.id = organizations.owner_id").
		Where("organizations.visibility = ?", models.VisibilityPublic)
	if text := strings.TrimSpace(query); text != "" {
		pattern := search.ContainsPattern(text)
		q = q.Where(`(LOWER(organizations.name) LIKE LOWER(?) ESCAPE '\' OR LOWER(organizations.description) LIKE LOWER(?) ESCAPE '\')`, pattern, pattern)
	}

	entries := []DirectoryEntry{}
	err := q.Order("organizations.created_at DESC").Order("organizations.id DESC").
		Limit(directoryLimit).
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("search directory: %w", err)
	}
	return entries, nil
}
