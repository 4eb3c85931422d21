// Package files is the organization file catalog: ingest, metadata edits,
// reupload, deletion and artifact access, all gated by membership roles.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/rockimages/rockimages/pkg/rockimages/access"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/groups"
	"github.com/rockimages/rockimages/pkg/rockimages/metrics"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"github.com/rockimages/rockimages/pkg/rockimages/storage"
	"github.com/rockimages/rockimages/pkg/rockimages/transcode"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeleteMode selects how Delete removes a file.
type DeleteMode string

const (
	// DeleteHard removes the artifacts and the row immediately.
	DeleteHard DeleteMode = "hard"
	// DeleteSoft flags the row and leaves the artifacts to Purge.
	DeleteSoft DeleteMode = "soft"
)

// ParseDeleteMode validates a configured delete mode. Empty means hard.
func ParseDeleteMode(s string) (DeleteMode, error) {
	switch DeleteMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeleteHard:
		return DeleteHard, nil
	case DeleteSoft:
		return DeleteSoft, nil
	}
	return "", fmt.Errorf("unknown delete mode %q", s)
}

// PreviewQueue accepts preview jobs without blocking.
type PreviewQueue interface {
	Enqueue(job transcode.Job) bool
}

// Options configures a Service.
type Options struct {
	DeleteMode DeleteMode
	Logger     *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service is the file catalog.
type Service struct {
	db         *gorm.DB
	access     *access.Resolver
	store      storage.Store
	previews   PreviewQueue
	deleteMode DeleteMode
	log        *zap.Logger
	now        func() time.Time
}

// NewService creates the catalog. previews may be nil, in which case files
// keep the pending placeholder.
func NewService(db *gorm.DB, store storage.Store, previews PreviewQueue, opts Options) *Service {
	s := &Service{
		db:         db,
		access:     access.NewResolver(db),
		store:      store,
		previews:   previews,
		deleteMode: opts.DeleteMode,
		log:        opts.Logger,
		now:        opts.Now,
	}
	if s.deleteMode == "" {
		s.deleteMode = DeleteHard
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.log = s.log.Named("files")
	return s
}

// IngestRequest describes one uploaded original.
type IngestRequest struct {
	OrgID        uint
	UploaderID   uint
	OriginalName string
	MimeType     string
	SizeBytes    int64
	Content      io.Reader
}

// Ingest stores a new original and adds it to the organization's catalog.
// The preview is generated asynchronously; until then the file shows the
// pending placeholder.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*View, error) {
	decision, _, err := s.access.Authorize(ctx, req.OrgID, req.UploaderID)
	if err != nil {
		return nil, err
	}
	if err := decision.RequireEdit(); err != nil {
		return nil, err
	}

	name := cleanName(req.OriginalName)
	if name == "" {
		return nil, apperr.Invalid("original_name", "must not be empty")
	}
	if req.Content == nil {
		return nil, apperr.Invalid("content", "is required")
	}
	mimeType := cleanMime(req.MimeType)

	loc, err := s.store.Write(ctx, req.Content, mimeType)
	if err != nil {
		return nil, &apperr.DependencyError{Op: "write artifact", Err: err}
	}

	today := s.today()
	file := models.File{
		OrganizationID:  req.OrgID,
		UploaderID:      req.UploaderID,
		OriginalName:    name,
		DisplayName:     name,
		MimeType:        mimeType,
		Kind:            models.KindForMime(mimeType),
		OriginalLocator: loc,
		PreviewLocator:  storage.PendingPreview,
		SizeBytes:       req.SizeBytes,
		ShootDate:       &today,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&file).Error; err != nil {
		s.removeArtifact(context.WithoutCancel(ctx), loc)
		return nil, fmt.Errorf("insert file: %w", err)
	}

	metrics.FilesIngested.WithLabelValues(string(file.Kind)).Inc()
	s.schedulePreview(file)

	view := NewView(file, nil)
	return &view, nil
}

// Get returns a live file the caller may view.
func (s *Service) Get(ctx context.Context, fileID, callerID uint) (*View, error) {
	file, _, err := s.loadForView(ctx, s.db, fileID, callerID)
	if err != nil {
		return nil, err
	}
	refs, err := LoadGroupRefs(ctx, s.db, []uint{file.ID})
	if err != nil {
		return nil, err
	}
	view := NewView(*file, refs[file.ID])
	return &view, nil
}

// MetadataPatch lists the fields to change. Nil fields are left untouched.
type MetadataPatch struct {
	DisplayName *string
	// ShootDate is YYYY-MM-DD; an empty string clears it.
	ShootDate    *string
	LocationText *string
	// GroupIDs replaces the file's groups. Ids outside the file's
	// organization are ignored.
	GroupIDs *[]uint
}

// UpdateMetadata applies patch in a single transaction: either every field
// and the group reassignment become visible, or none do. Concurrent updates
// of the same file resolve last-write-wins.
func (s *Service) UpdateMetadata(ctx context.Context, fileID, callerID uint, patch MetadataPatch) (*View, error) {
	var view View
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		file, decision, err := s.loadForView(ctx, tx, fileID, callerID)
		if err != nil {
			return err
		}
		if err := decision.RequireEdit(); err != nil {
			return err
		}

		updates, err := s.patchColumns(patch)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.File{}).Where("id = ?", file.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update file: %w", err)
		}

		if patch.GroupIDs != nil {
			if err := replaceGroups(ctx, tx, file, *patch.GroupIDs); err != nil {
				return err
			}
		}

		if err := tx.Where("id = ?", file.ID).Take(file).Error; err != nil {
			return fmt.Errorf("reload file: %w", err)
		}
		refs, err := LoadGroupRefs(ctx, tx, []uint{file.ID})
		if err != nil {
			return err
		}
		view = NewView(*file, refs[file.ID])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *Service) patchColumns(patch MetadataPatch) (map[string]interface{}, error) {
	updates := map[string]interface{}{"updated_at": s.now()}

	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			return nil, apperr.Invalid("display_name", "must not be empty")
		}
		updates["display_name"] = name
	}

	if patch.ShootDate != nil {
		raw := strings.TrimSpace(*patch.ShootDate)
		if raw == "" {
			updates["shoot_date"] = nil
		} else {
			t, err := time.Parse(DateLayout, raw)
			if err != nil {
				return nil, apperr.Invalid("shoot_date", "must be formatted YYYY-MM-DD")
			}
			updates["shoot_date"] = datatypes.Date(t)
		}
	}

	if patch.LocationText != nil {
		updates["location_text"] = strings.TrimSpace(*patch.LocationText)
	}

	return updates, nil
}

func replaceGroups(ctx context.Context, tx *gorm.DB, file *models.File, requested []uint) error {
	ids, err := groups.FilterToOrganization(ctx, tx, file.OrganizationID, requested)
	if err != nil {
		return err
	}
	if err := tx.Where("file_id = ?", file.ID).Delete(&models.FileGroup{}).Error; err != nil {
		return fmt.Errorf("clear file groups: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	rows := make([]models.FileGroup, len(ids))
	for i, id := range ids {
		rows[i] = models.FileGroup{FileID: file.ID, GroupID: id}
	}
	if err := tx.Omit(clause.Associations).Create(&rows).Error; err != nil {
		return fmt.Errorf("assign file groups: %w", err)
	}
	return nil
}

// ReuploadRequest describes the replacement original.
type ReuploadRequest struct {
	OriginalName string
	MimeType     string
	SizeBytes    int64
	Content      io.Reader
}

// Reupload replaces a file's original while keeping its id, groups and
// metadata. The new artifact is written first; the row only changes once it
// is safely stored, and the old artifacts are removed after the row commits.
func (s *Service) Reupload(ctx context.Context, fileID, callerID uint, req ReuploadRequest) (*View, error) {
	file, decision, err := s.loadForView(ctx, s.db, fileID, callerID)
	if err != nil {
		return nil, err
	}
	if err := decision.RequireEdit(); err != nil {
		return nil, err
	}

	name := cleanName(req.OriginalName)
	if name == "" {
		return nil, apperr.Invalid("original_name", "must not be empty")
	}
	if req.Content == nil {
		return nil, apperr.Invalid("content", "is required")
	}
	mimeType := cleanMime(req.MimeType)

	loc, err := s.store.Write(ctx, req.Content, mimeType)
	if err != nil {
		return nil, &apperr.DependencyError{Op: "write artifact", Err: err}
	}

	oldOriginal, oldPreview := file.OriginalLocator, file.PreviewLocator
	kind := models.KindForMime(mimeType)
	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ? AND deleted = ? AND original_locator = ?", file.ID, false, oldOriginal).
		Updates(map[string]interface{}{
			"original_name":    name,
			"mime_type":        mimeType,
			"kind":             kind,
			"original_locator": loc,
			"preview_locator":  storage.PendingPreview,
			"size_bytes":       req.SizeBytes,
			"updated_at":       s.now(),
		})
	if result.Error != nil || result.RowsAffected == 0 {
		s.removeArtifact(context.WithoutCancel(ctx), loc)
		if result.Error != nil {
			return nil, fmt.Errorf("update file: %w", result.Error)
		}
		return nil, s.lostRace(ctx, file.ID)
	}

	cleanup := context.WithoutCancel(ctx)
	s.removeArtifact(cleanup, oldOriginal)
	if !oldPreview.IsShared() {
		s.removeArtifact(cleanup, oldPreview)
	}

	file.OriginalName = name
	file.MimeType = mimeType
	file.Kind = kind
	file.OriginalLocator = loc
	file.PreviewLocator = storage.PendingPreview
	file.SizeBytes = req.SizeBytes
	s.schedulePreview(*file)

	refs, err := LoadGroupRefs(ctx, s.db, []uint{file.ID})
	if err != nil {
		return nil, err
	}
	view := NewView(*file, refs[file.ID])
	return &view, nil
}

// lostRace explains why a guarded update touched no rows: the file was
// deleted, or another reupload replaced the original first.
func (s *Service) lostRace(ctx context.Context, fileID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ? AND deleted = ?", fileID, false).
		Count(&count).Error; err != nil {
		return fmt.Errorf("recheck file: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("file %d: %w", fileID, apperr.ErrNotFound)
	}
	return fmt.Errorf("file %d was replaced concurrently: %w", fileID, apperr.ErrConflict)
}

// Delete removes a file according to the configured mode.
func (s *Service) Delete(ctx context.Context, fileID, callerID uint) error {
	file, decision, err := s.loadForView(ctx, s.db, fileID, callerID)
	if err != nil {
		return err
	}
	if err := decision.RequireEdit(); err != nil {
		return err
	}

	if s.deleteMode == DeleteSoft {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("file_id = ?", file.ID).Delete(&models.FileGroup{}).Error; err != nil {
				return err
			}
			return tx.Model(&models.File{}).Where("id = ?", file.ID).
				Updates(map[string]interface{}{"deleted": true, "updated_at": s.now()}).Error
		})
		if err != nil {
			return fmt.Errorf("flag file deleted: %w", err)
		}
		metrics.FilesDeleted.WithLabelValues(string(DeleteSoft)).Inc()
		return nil
	}

	s.removeArtifacts(ctx, file)
	if err := s.deleteRow(ctx, file.ID); err != nil {
		return err
	}
	metrics.FilesDeleted.WithLabelValues(string(DeleteHard)).Inc()
	return nil
}

func (s *Service) deleteRow(ctx context.Context, fileID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", fileID).Delete(&models.FileGroup{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", fileID).Delete(&models.File{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// Purge hard-deletes files flagged deleted longer than olderThan ago and
// returns how many were removed.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	var doomed []models.File
	if err := s.db.WithContext(ctx).
		Where("deleted = ? AND updated_at < ?", true, s.now().Add(-olderThan)).
		Order("id").Limit(500).
		Find(&doomed).Error; err != nil {
		return 0, fmt.Errorf("find purgeable files: %w", err)
	}

	purged := 0
	for i := range doomed {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		s.removeArtifacts(ctx, &doomed[i])
		if err := s.deleteRow(ctx, doomed[i].ID); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		metrics.FilesDeleted.WithLabelValues("purge").Add(float64(purged))
		s.log.Info("purged deleted files", zap.Int("count", purged))
	}
	return purged, nil
}

// ApplyPreview records a finished preview, but only if the file still
// references the original it was generated from. Stale previews are removed.
func (s *Service) ApplyPreview(ctx context.Context, fileID uint, source, preview storage.Locator) error {
	result := s.db.WithContext(ctx).Model(&models.File{}).
		Where("id = ? AND original_locator = ? AND deleted = ?", fileID, source, false).
		UpdateColumn("preview_locator", preview)
	if result.Error != nil {
		if !preview.IsShared() {
			s.removeArtifact(context.WithoutCancel(ctx), preview)
		}
		return fmt.Errorf("apply preview: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.PreviewJobs.WithLabelValues("stale").Inc()
		if !preview.IsShared() {
			s.removeArtifact(ctx, preview)
		}
	}
	return nil
}

// Artifact is an open original or preview ready to stream.
type Artifact struct {
	io.ReadCloser
	Name     string
	MimeType string
}

// Open returns the original of a file the caller may view.
func (s *Service) Open(ctx context.Context, fileID, callerID uint) (*Artifact, error) {
	file, _, err := s.loadForView(ctx, s.db, fileID, callerID)
	if err != nil {
		return nil, err
	}
	rc, err := s.openArtifact(ctx, file.OriginalLocator)
	if err != nil {
		return nil, err
	}
	return &Artifact{ReadCloser: rc, Name: file.OriginalName, MimeType: file.MimeType}, nil
}

// OpenLocator resolves a public artifact reference. Shared placeholders are
// public; any other artifact is served only if the caller may view the file
// that references it.
func (s *Service) OpenLocator(ctx context.Context, loc storage.Locator, callerID uint) (*Artifact, error) {
	if !loc.Valid() {
		return nil, apperr.ErrNotFound
	}
	if loc.IsShared() {
		rc, err := s.openArtifact(ctx, loc)
		if err != nil {
			return nil, err
		}
		return &Artifact{ReadCloser: rc, Name: filepath.Base(string(loc)), MimeType: "image/png"}, nil
	}

	var file models.File
	err := s.db.WithContext(ctx).
		Where("(original_locator = ? OR preview_locator = ?) AND deleted = ?", loc, loc, false).
		Take(&file).Error
	if err != nil {
		return nil, apperr.FromDB(err)
	}
	decision, _, err := s.access.Authorize(ctx, file.OrganizationID, callerID)
	if err != nil {
		return nil, err
	}
	if err := decision.RequireView(); err != nil {
		return nil, err
	}

	rc, err := s.openArtifact(ctx, loc)
	if err != nil {
		return nil, err
	}
	if loc == file.OriginalLocator {
		return &Artifact{ReadCloser: rc, Name: file.OriginalName, MimeType: file.MimeType}, nil
	}
	return &Artifact{ReadCloser: rc, Name: filepath.Base(string(loc)), MimeType: "image/jpeg"}, nil
}

// Recent returns the newest live files across every organization the caller
// belongs to.
func (s *Service) Recent(ctx context.Context, callerID uint, limit int) ([]View, error) {
	if callerID == access.Anonymous {
		return nil, apperr.ErrUnauthenticated
	}
	if limit <= 0 || limit > 100 {
		limit = 12
	}

	var rows []models.File
	err := s.db.WithContext(ctx).
		Where("deleted = ?", false).
		Where("organization_id IN (?)", s.db.Model(&models.OrganizationMembership{}).
			Select("organization_id").Where("user_id = ?", callerID)).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent files: %w", err)
	}

	ids := make([]uint, len(rows))
	for i, f := range rows {
		ids[i] = f.ID
	}
	refs, err := LoadGroupRefs(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	views := make([]View, len(rows))
	for i, f := range rows {
		views[i] = NewView(f, refs[f.ID])
	}
	return views, nil
}

// loadForView loads a live file and checks the caller may view it.
// Missing, deleted and concealed files all report apperr.ErrNotFound.
func (s *Service) loadForView(ctx context.Context, db *gorm.DB, fileID, callerID uint) (*models.File, access.Decision, error) {
	var file models.File
	if err := db.WithContext(ctx).Where("id = ? AND deleted = ?", fileID, false).Take(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, access.Decision{}, fmt.Errorf("file %d: %w", fileID, apperr.ErrNotFound)
		}
		return nil, access.Decision{}, fmt.Errorf("load file: %w", err)
	}

	decision, _, err := s.access.WithTx(db).Authorize(ctx, file.OrganizationID, callerID)
	if err != nil {
		return nil, access.Decision{}, err
	}
	if err := decision.RequireView(); err != nil {
		return nil, access.Decision{}, err
	}
	return &file, decision, nil
}

func (s *Service) openArtifact(ctx context.Context, loc storage.Locator) (io.ReadCloser, error) {
	rc, err := s.store.Open(ctx, loc)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidLocator) {
			return nil, fmt.Errorf("artifact %s: %w", loc, apperr.ErrNotFound)
		}
		return nil, &apperr.DependencyError{Op: "open artifact", Err: err}
	}
	return rc, nil
}

// removeArtifacts drops a file's original and, unless shared, its preview.
func (s *Service) removeArtifacts(ctx context.Context, file *models.File) {
	cleanup := context.WithoutCancel(ctx)
	s.removeArtifact(cleanup, file.OriginalLocator)
	if !file.PreviewLocator.IsShared() {
		s.removeArtifact(cleanup, file.PreviewLocator)
	}
}

// removeArtifact is best effort: a missing artifact is fine, anything else
// is logged and counted.
func (s *Service) removeArtifact(ctx context.Context, loc storage.Locator) {
	if loc == "" || loc.IsShared() {
		return
	}
	if err := s.store.Remove(ctx, loc); err != nil && !errors.Is(err, storage.ErrNotFound) {
		metrics.ArtifactCleanupFailures.Inc()
		s.log.Warn("remove artifact", zap.String("locator", string(loc)), zap.Error(err))
	}
}

func (s *Service) schedulePreview(file models.File) {
	if s.previews == nil {
		return
	}
	s.previews.Enqueue(transcode.Job{FileID: file.ID, Source: file.OriginalLocator, Kind: file.Kind})
}

func (s *Service) today() datatypes.Date {
	y, m, d := s.now().Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func cleanName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func cleanMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
