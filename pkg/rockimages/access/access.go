// Package access resolves a caller's membership role in an organization and
// turns it into view and edit decisions.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"gorm.io/gorm"
)

// Anonymous is the caller id used for requests without credentials.
const Anonymous uint = 0

// CanView reports whether a caller with the given role (ok=false when the
// caller has no membership) may read an organization's content.
func CanView(role models.OrgRole, ok bool, visibility models.Visibility) bool {
	return ok || visibility == models.VisibilityPublic
}

// CanEdit reports whether the role may mutate an organization's content.
func CanEdit(role models.OrgRole, ok bool) bool {
	return ok && (role == models.OrgRoleOwner || role == models.OrgRoleEditor)
}

// Decision is the outcome of authorizing one caller against one organization.
type Decision struct {
	OrgID      uint
	CallerID   uint
	Role       models.OrgRole
	Member     bool
	Visibility models.Visibility
}

// CanView reports whether the caller may read.
func (d Decision) CanView() bool {
	return CanView(d.Role, d.Member, d.Visibility)
}

// CanEdit reports whether the caller may mutate.
func (d Decision) CanEdit() bool {
	return CanEdit(d.Role, d.Member)
}

// IsOwner reports whether the caller holds the owner role.
func (d Decision) IsOwner() bool {
	return d.Member && d.Role == models.OrgRoleOwner
}

// RequireView returns nil when the caller may read. Denials are concealed
// so private organizations are indistinguishable from missing ones.
func (d Decision) RequireView() error {
	if d.CanView() {
		return nil
	}
	return apperr.Conceal(fmt.Errorf("organization %d: %w", d.OrgID, apperr.ErrForbidden))
}

// RequireEdit returns nil when the caller may mutate. Callers who cannot
// even view the organization get the concealed not-found, anonymous ones
// included, so private organizations never answer 401.
func (d Decision) RequireEdit() error {
	if d.CanEdit() {
		return nil
	}
	if !d.CanView() {
		return d.RequireView()
	}
	if d.CallerID == Anonymous {
		return apperr.ErrUnauthenticated
	}
	return fmt.Errorf("organization %d: role %q cannot edit: %w", d.OrgID, d.Role, apperr.ErrForbidden)
}

// Resolver looks up memberships.
type Resolver struct {
	db *gorm.DB
}

// NewResolver creates a new resolver
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// WithTx returns a resolver that reads through tx.
func (r *Resolver) WithTx(tx *gorm.DB) *Resolver {
	return &Resolver{db: tx}
}

// ResolveRole returns the caller's role in the organization. ok is false for
// anonymous callers and non-members. It does not check that the organization
// exists; err is only set for storage failures.
func (r *Resolver) ResolveRole(ctx context.Context, orgID, callerID uint) (models.OrgRole, bool, error) {
	if callerID == Anonymous {
		return "", false, nil
	}
	var membership models.OrganizationMembership
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", orgID, callerID).
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("resolve role: %w", err)
	}
	return membership.Role, true, nil
}

// Authorize loads the organization and the caller's role. It returns
// apperr.ErrNotFound when the organization does not exist.
func (r *Resolver) Authorize(ctx context.Context, orgID, callerID uint) (Decision, *models.Organization, error) {
	var org models.Organization
	if err := r.db.WithContext(ctx).Take(&org, orgID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Decision{}, nil, fmt.Errorf("organization %d: %w", orgID, apperr.ErrNotFound)
		}
		return Decision{}, nil, fmt.Errorf("load organization: %w", err)
	}

	role, ok, err := r.ResolveRole(ctx, orgID, callerID)
	if err != nil {
		return Decision{}, nil, err
	}

	return Decision{
		OrgID:      org.ID,
		CallerID:   callerID,
		Role:       role,
		Member:     ok,
		Visibility: org.Visibility,
	}, &org, nil
}
