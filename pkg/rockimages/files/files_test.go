package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/apikeys"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/database"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"github.com/rockimages/rockimages/pkg/rockimages/storage"
	"github.com/rockimages/rockimages/pkg/rockimages/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testTokens = auth.NewTokenManager("test-secret", time.Hour)

// testStore is a disk store with hooks for injecting failures.
type testStore struct {
	*storage.Disk
	writeErr error
	onWrite  func()
}

func (s *testStore) Write(ctx context.Context, r io.Reader, contentType string) (storage.Locator, error) {
	if s.writeErr != nil {
		return "", s.writeErr
	}
	if s.onWrite != nil {
		s.onWrite()
	}
	return s.Disk.Write(ctx, r, contentType)
}

func (s *testStore) exists(loc storage.Locator) bool {
	rc, err := s.Disk.Open(context.Background(), loc)
	if err != nil {
		return false
	}
	rc.Close()
	return true
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []transcode.Job
}

func (q *recordingQueue) Enqueue(job transcode.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func (q *recordingQueue) last() transcode.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[len(q.jobs)-1]
}

type fixture struct {
	db    *gorm.DB
	store *testStore
	queue *recordingQueue
	svc   *Service
	clock time.Time

	owner, editor, viewer, stranger models.User
	org                             models.Organization
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Open(database.Config{Driver: database.DriverSQLite, DSN: "file::memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, username string) models.User {
	user := models.User{Username: username, Email: username + "@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	return user
}

func createTestOrg(t *testing.T, db *gorm.DB, owner models.User, slug string, visibility models.Visibility) models.Organization {
	org := models.Organization{Name: slug, Slug: slug, Visibility: visibility, OwnerID: owner.ID}
	require.NoError(t, db.Create(&org).Error)
	addMember(t, db, org, owner, models.OrgRoleOwner)
	return org
}

func addMember(t *testing.T, db *gorm.DB, org models.Organization, user models.User, role models.OrgRole) {
	require.NoError(t, db.Create(&models.OrganizationMembership{OrganizationID: org.ID, UserID: user.ID, Role: role}).Error)
}

func createTestGroup(t *testing.T, db *gorm.DB, org models.Organization, name string) models.Group {
	group := models.Group{OrganizationID: org.ID, Name: name, Color: "#abcdef"}
	require.NoError(t, db.Create(&group).Error)
	return group
}

func newFixture(t *testing.T, mode DeleteMode) *fixture {
	db := setupTestDB(t)
	disk, err := storage.NewDisk(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		db:    db,
		store: &testStore{Disk: disk},
		queue: &recordingQueue{},
		clock: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(db, f.store, f.queue, Options{
		DeleteMode: mode,
		Now:        func() time.Time { return f.clock },
	})

	f.owner = createTestUser(t, db, "owner")
	f.editor = createTestUser(t, db, "editor")
	f.viewer = createTestUser(t, db, "viewer")
	f.stranger = createTestUser(t, db, "stranger")
	f.org = createTestOrg(t, db, f.owner, "acme", models.VisibilityPrivate)
	addMember(t, db, f.org, f.editor, models.OrgRoleEditor)
	addMember(t, db, f.org, f.viewer, models.OrgRoleViewer)
	return f
}

func (f *fixture) ingest(t *testing.T, name string) *View {
	view, err := f.svc.Ingest(context.Background(), IngestRequest{
		OrgID:        f.org.ID,
		UploaderID:   f.editor.ID,
		OriginalName: name,
		MimeType:     "image/jpeg",
		SizeBytes:    4,
		Content:      strings.NewReader("data"),
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) loadFile(t *testing.T, id uint) models.File {
	var file models.File
	require.NoError(t, f.db.First(&file, id).Error)
	return file
}

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestIngest(t *testing.T) {
	f := newFixture(t, DeleteHard)

	view := f.ingest(t, "uploads/IMG_0001.jpg")
	assert.Equal(t, "IMG_0001.jpg", view.OriginalName)
	assert.Equal(t, "IMG_0001.jpg", view.DisplayName)
	assert.Equal(t, models.FileKindImage, view.Kind)
	assert.Equal(t, "2024-06-01", view.ShootDate)
	assert.Equal(t, "/media/"+string(storage.PendingPreview), view.PreviewURL)
	assert.Empty(t, view.Groups)

	file := f.loadFile(t, view.ID)
	assert.True(t, f.store.exists(file.OriginalLocator))
	assert.Equal(t, f.editor.ID, file.UploaderID)

	job := f.queue.last()
	assert.Equal(t, view.ID, job.FileID)
	assert.Equal(t, file.OriginalLocator, job.Source)
}

func TestIngestVideoKind(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view, err := f.svc.Ingest(context.Background(), IngestRequest{
		OrgID: f.org.ID, UploaderID: f.owner.ID, OriginalName: "clip.mp4",
		MimeType: "Video/MP4", Content: strings.NewReader("frames"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.FileKindVideo, view.Kind)
	assert.Equal(t, "video/mp4", view.MimeType)
}

func TestIngestAccess(t *testing.T) {
	f := newFixture(t, DeleteHard)
	ctx := context.Background()

	req := func(caller uint) IngestRequest {
		return IngestRequest{OrgID: f.org.ID, UploaderID: caller, OriginalName: "a.jpg", Content: strings.NewReader("x")}
	}

	_, err := f.svc.Ingest(ctx, req(f.viewer.ID))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.svc.Ingest(ctx, req(f.stranger.ID))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// the org is private, so anonymous callers see it as missing
	_, err = f.svc.Ingest(ctx, req(0))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var count int64
	f.db.Model(&models.File{}).Count(&count)
	assert.Zero(t, count)
}

func TestIngestValidationAndStorageFailure(t *testing.T) {
	f := newFixture(t, DeleteHard)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, IngestRequest{OrgID: f.org.ID, UploaderID: f.owner.ID, OriginalName: "  ", Content: strings.NewReader("x")})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "original_name", verr.Field)

	f.store.writeErr = errors.New("disk full")
	_, err = f.svc.Ingest(ctx, IngestRequest{OrgID: f.org.ID, UploaderID: f.owner.ID, OriginalName: "a.jpg", Content: strings.NewReader("x")})
	var derr *apperr.DependencyError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "write artifact", derr.Op)

	var count int64
	f.db.Model(&models.File{}).Count(&count)
	assert.Zero(t, count)
}

func TestGetConcealsPrivateFiles(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	got, err := f.svc.Get(ctx, view.ID, f.viewer.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)

	_, err = f.svc.Get(ctx, view.ID, f.stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Get(ctx, view.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Get(ctx, 4242, f.owner.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateMetadata(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	name, date, place := "  Sunset  ", "2023-12-24", " Lisbon "
	got, err := f.svc.UpdateMetadata(ctx, view.ID, f.editor.ID, MetadataPatch{
		DisplayName:  &name,
		ShootDate:    &date,
		LocationText: &place,
	})
	require.NoError(t, err)
	assert.Equal(t, "Sunset", got.DisplayName)
	assert.Equal(t, "2023-12-24", got.ShootDate)
	assert.Equal(t, "Lisbon", got.LocationText)
	assert.Equal(t, "a.jpg", got.OriginalName)

	empty := ""
	got, err = f.svc.UpdateMetadata(ctx, view.ID, f.editor.ID, MetadataPatch{ShootDate: &empty})
	require.NoError(t, err)
	assert.Equal(t, "", got.ShootDate)
	assert.Equal(t, "Sunset", got.DisplayName)
}

func TestUpdateMetadataValidation(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	blank := "   "
	_, err := f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{DisplayName: &blank})
	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "display_name", verr.Field)

	bad := "24/12/2023"
	_, err = f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{ShootDate: &bad})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "shoot_date", verr.Field)

	name := "x"
	_, err = f.svc.UpdateMetadata(ctx, view.ID, f.viewer.ID, MetadataPatch{DisplayName: &name})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.UpdateMetadata(ctx, view.ID, f.stranger.ID, MetadataPatch{DisplayName: &name})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateMetadataReassignsGroups(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	beta := createTestGroup(t, f.db, f.org, "beta")
	alpha := createTestGroup(t, f.db, f.org, "alpha")
	other := createTestOrg(t, f.db, f.owner, "other", models.VisibilityPublic)
	foreign := createTestGroup(t, f.db, other, "foreign")

	ids := []uint{beta.ID, foreign.ID, alpha.ID, beta.ID}
	got, err := f.svc.UpdateMetadata(ctx, view.ID, f.editor.ID, MetadataPatch{GroupIDs: &ids})
	require.NoError(t, err)
	assert.Equal(t, []uint{alpha.ID, beta.ID}, got.GroupIDs())

	var rows int64
	f.db.Model(&models.FileGroup{}).Where("file_id = ?", view.ID).Count(&rows)
	assert.Equal(t, int64(2), rows)

	only := []uint{beta.ID}
	got, err = f.svc.UpdateMetadata(ctx, view.ID, f.editor.ID, MetadataPatch{GroupIDs: &only})
	require.NoError(t, err)
	assert.Equal(t, []uint{beta.ID}, got.GroupIDs())

	none := []uint{}
	got, err = f.svc.UpdateMetadata(ctx, view.ID, f.editor.ID, MetadataPatch{GroupIDs: &none})
	require.NoError(t, err)
	assert.Empty(t, got.Groups)
}

func TestUpdateMetadataIsAtomic(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	alpha := createTestGroup(t, f.db, f.org, "alpha")
	beta := createTestGroup(t, f.db, f.org, "beta")
	first := []uint{alpha.ID}
	_, err := f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{GroupIDs: &first})
	require.NoError(t, err)

	// fail the group insert, which runs after the column update and the
	// removal of the old group rows
	errAssign := errors.New("assign failed")
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_file_groups", func(db *gorm.DB) {
		if db.Statement.Schema != nil && db.Statement.Schema.Table == "file_groups" {
			db.AddError(errAssign)
		}
	}))

	name, second := "Renamed", []uint{beta.ID}
	_, err = f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{
		DisplayName: &name,
		GroupIDs:    &second,
	})
	require.ErrorIs(t, err, errAssign)
	require.NoError(t, f.db.Callback().Create().Remove("test:fail_file_groups"))

	got, err := f.svc.Get(ctx, view.ID, f.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.jpg", got.DisplayName)
	assert.Equal(t, []uint{alpha.ID}, got.GroupIDs())

	// a rejected field leaves the row alone as well
	bad := "not-a-date"
	_, err = f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{DisplayName: &name, ShootDate: &bad})
	var validation *apperr.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "a.jpg", f.loadFile(t, view.ID).DisplayName)
}

func TestDeleteHard(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()
	group := createTestGroup(t, f.db, f.org, "alpha")
	ids := []uint{group.ID}
	_, err := f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{GroupIDs: &ids})
	require.NoError(t, err)

	file := f.loadFile(t, view.ID)
	preview, err := f.store.Write(ctx, strings.NewReader("thumb"), "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyPreview(ctx, file.ID, file.OriginalLocator, preview))

	assert.ErrorIs(t, f.svc.Delete(ctx, view.ID, f.viewer.ID), apperr.ErrForbidden)
	require.NoError(t, f.svc.Delete(ctx, view.ID, f.editor.ID))

	assert.False(t, f.store.exists(file.OriginalLocator))
	assert.False(t, f.store.exists(preview))

	var count int64
	f.db.Model(&models.File{}).Where("id = ?", view.ID).Count(&count)
	assert.Zero(t, count)
	f.db.Model(&models.FileGroup{}).Where("file_id = ?", view.ID).Count(&count)
	assert.Zero(t, count)
	f.db.Model(&models.Group{}).Where("id = ?", group.ID).Count(&count)
	assert.Equal(t, int64(1), count)

	assert.ErrorIs(t, f.svc.Delete(ctx, view.ID, f.editor.ID), apperr.ErrNotFound)
}

func TestDeleteToleratesMissingArtifacts(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	file := f.loadFile(t, view.ID)
	require.NoError(t, f.store.Remove(ctx, file.OriginalLocator))
	require.NoError(t, f.svc.Delete(ctx, view.ID, f.owner.ID))

	_, err := f.svc.Get(ctx, view.ID, f.owner.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSoftDeleteAndPurge(t *testing.T) {
	f := newFixture(t, DeleteSoft)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()
	group := createTestGroup(t, f.db, f.org, "alpha")
	ids := []uint{group.ID}
	_, err := f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{GroupIDs: &ids})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, view.ID, f.owner.ID))

	file := f.loadFile(t, view.ID)
	assert.True(t, file.Deleted)
	assert.True(t, f.store.exists(file.OriginalLocator))

	var links int64
	f.db.Model(&models.FileGroup{}).Where("file_id = ?", view.ID).Count(&links)
	assert.Zero(t, links)

	_, err = f.svc.Get(ctx, view.ID, f.owner.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	purged, err := f.svc.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, purged)

	f.clock = f.clock.Add(2 * time.Hour)
	purged, err = f.svc.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
	assert.False(t, f.store.exists(file.OriginalLocator))

	var count int64
	f.db.Model(&models.File{}).Where("id = ?", view.ID).Count(&count)
	assert.Zero(t, count)
}

func TestReuploadKeepsIdentity(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	group := createTestGroup(t, f.db, f.org, "alpha")
	name, ids := "Keeper", []uint{group.ID}
	_, err := f.svc.UpdateMetadata(ctx, view.ID, f.owner.ID, MetadataPatch{DisplayName: &name, GroupIDs: &ids})
	require.NoError(t, err)

	before := f.loadFile(t, view.ID)
	oldPreview, err := f.store.Write(ctx, strings.NewReader("thumb"), "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyPreview(ctx, before.ID, before.OriginalLocator, oldPreview))

	got, err := f.svc.Reupload(ctx, view.ID, f.editor.ID, ReuploadRequest{
		OriginalName: "b.mov",
		MimeType:     "video/quicktime",
		SizeBytes:    10,
		Content:      strings.NewReader("new frames"),
	})
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, "Keeper", got.DisplayName)
	assert.Equal(t, "b.mov", got.OriginalName)
	assert.Equal(t, models.FileKindVideo, got.Kind)
	assert.Equal(t, []uint{group.ID}, got.GroupIDs())
	assert.Equal(t, "/media/"+string(storage.PendingPreview), got.PreviewURL)

	after := f.loadFile(t, view.ID)
	assert.NotEqual(t, before.OriginalLocator, after.OriginalLocator)
	assert.False(t, f.store.exists(before.OriginalLocator))
	assert.False(t, f.store.exists(oldPreview))
	assert.True(t, f.store.exists(after.OriginalLocator))

	job := f.queue.last()
	assert.Equal(t, after.OriginalLocator, job.Source)
	assert.Equal(t, models.FileKindVideo, job.Kind)
}

func TestReuploadLosesRace(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	var written int
	f.store.onWrite = func() {
		written++
		f.db.Model(&models.File{}).Where("id = ?", view.ID).Update("original_locator", "elsewhere.jpg")
	}

	_, err := f.svc.Reupload(ctx, view.ID, f.owner.ID, ReuploadRequest{OriginalName: "b.jpg", Content: strings.NewReader("b")})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 1, written)
	assert.Equal(t, storage.Locator("elsewhere.jpg"), f.loadFile(t, view.ID).OriginalLocator)
}

func TestReuploadAccess(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()

	_, err := f.svc.Reupload(ctx, view.ID, f.viewer.ID, ReuploadRequest{OriginalName: "b.jpg", Content: strings.NewReader("b")})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Reupload(ctx, view.ID, f.stranger.ID, ReuploadRequest{OriginalName: "b.jpg", Content: strings.NewReader("b")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApplyPreviewDropsStaleResults(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()
	original := f.loadFile(t, view.ID).OriginalLocator

	_, err := f.svc.Reupload(ctx, view.ID, f.owner.ID, ReuploadRequest{OriginalName: "b.jpg", Content: strings.NewReader("b")})
	require.NoError(t, err)

	stale, err := f.store.Write(ctx, strings.NewReader("old thumb"), "image/jpeg")
	require.NoError(t, err)
	require.NoError(t, f.svc.ApplyPreview(ctx, view.ID, original, stale))

	assert.Equal(t, storage.PendingPreview, f.loadFile(t, view.ID).PreviewLocator)
	assert.False(t, f.store.exists(stale))

	current := f.loadFile(t, view.ID).OriginalLocator
	require.NoError(t, f.svc.ApplyPreview(ctx, view.ID, current, storage.VideoPreview))
	assert.Equal(t, storage.VideoPreview, f.loadFile(t, view.ID).PreviewLocator)
}

func TestOpenLocator(t *testing.T) {
	f := newFixture(t, DeleteHard)
	view := f.ingest(t, "a.jpg")
	ctx := context.Background()
	file := f.loadFile(t, view.ID)

	require.NoError(t, f.store.EnsureShared(storage.PendingPreview, []byte("png")))
	artifact, err := f.svc.OpenLocator(ctx, storage.PendingPreview, 0)
	require.NoError(t, err)
	artifact.Close()
	assert.Equal(t, "image/png", artifact.MimeType)

	_, err = f.svc.OpenLocator(ctx, file.OriginalLocator, f.stranger.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	artifact, err = f.svc.OpenLocator(ctx, file.OriginalLocator, f.viewer.ID)
	require.NoError(t, err)
	data, _ := io.ReadAll(artifact)
	artifact.Close()
	assert.Equal(t, "data", string(data))
	assert.Equal(t, "image/jpeg", artifact.MimeType)

	_, err = f.svc.OpenLocator(ctx, "../etc/passwd", f.owner.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.OpenLocator(ctx, "unknown.jpg", f.owner.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecent(t *testing.T) {
	f := newFixture(t, DeleteHard)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.ingest(t, fmt.Sprintf("%d.jpg", i))
	}

	views, err := f.svc.Recent(ctx, f.viewer.ID, 2)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Greater(t, views[0].ID, views[1].ID)

	views, err = f.svc.Recent(ctx, f.stranger.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = f.svc.Recent(ctx, 0, 0)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestParseDeleteMode(t *testing.T) {
	mode, err := ParseDeleteMode("")
	require.NoError(t, err)
	assert.Equal(t, DeleteHard, mode)

	mode, err = ParseDeleteMode(" Soft ")
	require.NoError(t, err)
	assert.Equal(t, DeleteSoft, mode)

	_, err = ParseDeleteMode("shred")
	assert.Error(t, err)
}

func setupTestRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f.svc).RegisterRoutes(r.Group("/api", apikeys.CombinedAuthMiddleware(f.db, testTokens, false)))
	return r
}

func getAuthHeader(user models.User) string {
	token, _ := testTokens.Generate(user.ID, user.Username)
	return "Bearer " + token
}

func multipartBody(t *testing.T, field string, files map[string][]byte) (*bytes.Buffer, string) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func TestFileRoutes(t *testing.T) {
	f := newFixture(t, DeleteHard)
	router := setupTestRouter(f)

	body, contentType := multipartBody(t, "files", map[string][]byte{"pic.png": pngBytes(t)})
	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/organizations/%d/files", f.org.ID), body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", getAuthHeader(f.editor))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var uploaded UploadResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &uploaded))
	require.Len(t, uploaded.Files, 1)
	assert.Equal(t, "image/png", uploaded.Files[0].MimeType)
	id := uploaded.Files[0].ID

	patch := `{"display_name":"Green dot","shoot_date":"2020-02-02"}`
	req, _ = http.NewRequest("PATCH", fmt.Sprintf("/api/files/%d", id), strings.NewReader(patch))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", getAuthHeader(f.editor))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	req, _ = http.NewRequest("GET", fmt.Sprintf("/api/files/%d", id), nil)
	req.Header.Set("Authorization", getAuthHeader(f.viewer))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	var view View
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &view))
	assert.Equal(t, "Green dot", view.DisplayName)
	assert.Equal(t, "2020-02-02", view.ShootDate)

	req, _ = http.NewRequest("GET", fmt.Sprintf("/api/files/%d/download", id), nil)
	req.Header.Set("Authorization", getAuthHeader(f.viewer))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "pic.png")
	assert.Equal(t, pngBytes(t), resp.Body.Bytes())

	// Private org files are hidden from anonymous callers
	req, _ = http.NewRequest("GET", fmt.Sprintf("/api/files/%d", id), nil)
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}

	req, _ = http.NewRequest("DELETE", fmt.Sprintf("/api/files/%d", id), nil)
	req.Header.Set("Authorization", getAuthHeader(f.viewer))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", resp.Code)
	}

	req, _ = http.NewRequest("DELETE", fmt.Sprintf("/api/files/%d", id), nil)
	req.Header.Set("Authorization", getAuthHeader(f.owner))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUploadRejectedForViewer(t *testing.T) {
	f := newFixture(t, DeleteHard)
	router := setupTestRouter(f)

	body, contentType := multipartBody(t, "files", map[string][]byte{"pic.png": pngBytes(t)})
	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/organizations/%d/files", f.org.ID), body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", getAuthHeader(f.viewer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestUploadErrorsHideInternalDetail(t *testing.T) {
	f := newFixture(t, DeleteHard)
	router := setupTestRouter(f)
	f.store.writeErr = errors.New("open /var/lib/rockimages/originals/tmp-123: permission denied")

	body, contentType := multipartBody(t, "files", map[string][]byte{"pic.png": pngBytes(t)})
	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/organizations/%d/files", f.org.ID), body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", getAuthHeader(f.editor))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}
	if strings.Contains(resp.Body.String(), "/var/lib") || strings.Contains(resp.Body.String(), "permission denied") {
		t.Errorf("Expected no internal detail in response, got %s", resp.Body.String())
	}

	var out UploadResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "pic.png", out.Errors[0].Name)
	assert.Equal(t, "Storage unavailable", out.Errors[0].Error)
}

func TestReuploadRoute(t *testing.T) {
	f := newFixture(t, DeleteHard)
	router := setupTestRouter(f)
	view := f.ingest(t, "a.jpg")

	body, contentType := multipartBody(t, "file", map[string][]byte{"b.png": pngBytes(t)})
	req, _ := http.NewRequest("POST", fmt.Sprintf("/api/files/%d/reupload", view.ID), body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", getAuthHeader(f.owner))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var got View
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, "b.png", got.OriginalName)
	assert.Equal(t, "image/png", got.MimeType)
}
