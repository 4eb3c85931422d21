// Package search answers paginated catalog queries for one organization.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rockimages/rockimages/pkg/rockimages/access"
	"github.com/rockimages/rockimages/pkg/rockimages/files"
	"github.com/rockimages/rockimages/pkg/rockimages/groups"
	"github.com/rockimages/rockimages/pkg/rockimages/metrics"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"gorm.io/gorm"
)

const (
	DefaultPerPage = 60
	MaxPerPage     = 200
	maxFacetGroups = 50
)

// Query selects a page of an organization's files.
type Query struct {
	OrgID    uint
	CallerID uint
	// Text is matched case-insensitively against display name, original
	// name and the names of the file's groups.
	Text    string
	GroupID uint
	Page    int
	PerPage int
}

// Result is one page of matches.
type Result struct {
	Items          []files.View     `json:"items"`
	Page           int              `json:"page"`
	PerPage        int              `json:"per_page"`
	TotalPages     int              `json:"total_pages"`
	Total          int64            `json:"total"`
	CanEdit        bool             `json:"can_edit"`
	MatchingGroups []files.GroupRef `json:"matching_groups"`
}

func emptyResult(perPage int) Result {
	return Result{
		Items:          []files.View{},
		Page:           1,
		PerPage:        perPage,
		TotalPages:     1,
		MatchingGroups: []files.GroupRef{},
	}
}

// Service runs catalog searches.
type Service struct {
	db *gorm.DB
}

// NewService creates a search service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Search returns the requested page, newest first with id as tie-break, so
// pages never overlap or skip rows while the catalog is unchanged. The page
// is clamped into range. On error an empty first page is returned alongside
// it.
func (s *Service) Search(ctx context.Context, q Query) (Result, error) {
	defer metrics.ObserveSearch("files", time.Now())

	perPage := NormalizePerPage(q.PerPage)
	text := strings.TrimSpace(q.Text)
	result := emptyResult(perPage)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		decision, _, err := access.NewResolver(tx).Authorize(ctx, q.OrgID, q.CallerID)
		if err != nil {
			return err
		}
		if err := decision.RequireView(); err != nil {
			return err
		}

		var total int64
		if err := matching(tx, q.OrgID, q.GroupID, text).Count(&total).Error; err != nil {
			return fmt.Errorf("count files: %w", err)
		}
		totalPages := TotalPages(total, perPage)
		page := ClampPage(q.Page, totalPages)

		var rows []models.File
		err = matching(tx, q.OrgID, q.GroupID, text).
			Order("files.created_at DESC").Order("files.id DESC").
			Offset((page - 1) * perPage).Limit(perPage).
			Find(&rows).Error
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}

		ids := make([]uint, len(rows))
		for i, f := range rows {
			ids[i] = f.ID
		}
		refs, err := files.LoadGroupRefs(ctx, tx, ids)
		if err != nil {
			return err
		}

		facet, err := matchingGroups(tx, q.OrgID, text)
		if err != nil {
			return err
		}

		items := make([]files.View, len(rows))
		for i, f := range rows {
			items[i] = files.NewView(f, refs[f.ID])
		}
		result = Result{
			Items:          items,
			Page:           page,
			PerPage:        perPage,
			TotalPages:     totalPages,
			Total:          total,
			CanEdit:        decision.CanEdit(),
			MatchingGroups: facet,
		}
		return nil
	})
	if err != nil {
		return emptyResult(perPage), err
	}
	return result, nil
}

// matching builds the shared predicate for the count and page queries.
func matching(tx *gorm.DB, orgID, groupID uint, text string) *gorm.DB {
	q := tx.Model(&models.File{}).
		Where("files.organization_id = ? AND files.deleted = ?", orgID, false)
	if groupID != 0 {
		q = q.Where("EXISTS (SELECT 1 FROM file_groups fg WHERE fg.file_id = files.id AND fg.group_id = ?)", groupID)
	}
	if text != "" {
		pattern := ContainsPattern(text)
		q = q.Where(`(LOWER(files.display_name) LIKE LOWER(?) ESCAPE '\'`+
			` OR LOWER(files.original_name) LIKE LOWER(?) ESCAPE '\'`+
			` OR EXISTS (SELECT 1 FROM file_groups fg JOIN org_groups g ON g.id = fg.group_id`+
			` WHERE fg.file_id = files.id AND g.organization_id = files.organization_id`+
			` AND LOWER(g.name) LIKE LOWER(?) ESCAPE '\'))`,
			pattern, pattern, pattern)
	}
	return q
}

func matchingGroups(tx *gorm.DB, orgID uint, text string) ([]files.GroupRef, error) {
	out := []files.GroupRef{}
	if text == "" {
		return out, nil
	}

	// capped after the byte-wise sort, never in SQL
	var found []models.Group
	err := tx.Select("id", "name", "color").
		Where(`organization_id = ? AND LOWER(name) LIKE LOWER(?) ESCAPE '\'`, orgID, ContainsPattern(text)).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("matching groups: %w", err)
	}
	groups.Sort(found)
	if len(found) > maxFacetGroups {
		found = found[:maxFacetGroups]
	}
	for _, g := range found {
		out = append(out, files.GroupRef{ID: g.ID, Name: g.Name, Color: g.Color})
	}
	return out, nil
}

// NormalizePerPage applies the default and the upper bound.
func NormalizePerPage(perPage int) int {
	switch {
	case perPage <= 0:
		return DefaultPerPage
	case perPage > MaxPerPage:
		return MaxPerPage
	}
	return perPage
}

// TotalPages is never less than one.
func TotalPages(total int64, perPage int) int {
	if total <= 0 || perPage <= 0 {
		return 1
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}

// ClampPage moves page into [1, totalPages].
func ClampPage(page, totalPages int) int {
	if page < 1 {
		return 1
	}
	if page > totalPages {
		return totalPages
	}
	return page
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ContainsPattern turns free text into a LIKE pattern matching it anywhere,
// with LIKE wildcards in the text taken literally.
func ContainsPattern(text string) string {
	return "%" + likeEscaper.Replace(text) + "%"
}
