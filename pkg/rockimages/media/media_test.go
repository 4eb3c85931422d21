package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/files"
	"github.com/rockimages/rockimages/pkg/rockimages/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockOpener struct {
	mock.Mock
}

func (m *mockOpener) OpenLocator(ctx context.Context, loc storage.Locator, callerID uint) (*files.Artifact, error) {
	args := m.Called(loc, callerID)
	artifact, _ := args.Get(0).(*files.Artifact)
	return artifact, args.Error(1)
}

func setupTestRouter(opener Opener, callerID uint) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if callerID != 0 {
			auth.SetCaller(c, callerID, "tester")
		}
		c.Next()
	})
	NewHandler(opener).RegisterRoutes(r)
	return r
}

func TestServeStreamsArtifact(t *testing.T) {
	opener := &mockOpener{}
	opener.On("OpenLocator", storage.Locator("abc.jpg"), uint(7)).Return(&files.Artifact{
		ReadCloser: io.NopCloser(strings.NewReader("jpeg bytes")),
		Name:       "abc.jpg",
		MimeType:   "image/jpeg",
	}, nil)
	router := setupTestRouter(opener, 7)

	req, _ := http.NewRequest("GET", "/media/abc.jpg", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	assert.Equal(t, "jpeg bytes", resp.Body.String())
	assert.Equal(t, "image/jpeg", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Cache-Control"), "private")
	assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, resp.Header().Get("Content-Disposition"))
	opener.AssertExpectations(t)
}

func TestServeScriptableOriginalsAsDownloads(t *testing.T) {
	for _, mimeType := range []string{"text/html", "image/svg+xml", "application/xhtml+xml"} {
		t.Run(mimeType, func(t *testing.T) {
			opener := &mockOpener{}
			opener.On("OpenLocator", storage.Locator("page.html"), uint(7)).Return(&files.Artifact{
				ReadCloser: io.NopCloser(strings.NewReader("<script>alert(1)</script>")),
				Name:       "page.html",
				MimeType:   mimeType,
			}, nil)
			router := setupTestRouter(opener, 7)

			req, _ := http.NewRequest("GET", "/media/page.html", nil)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", resp.Code)
			}
			assert.Equal(t, "application/octet-stream", resp.Header().Get("Content-Type"))
			assert.Equal(t, `attachment; filename="page.html"`, resp.Header().Get("Content-Disposition"))
			assert.Equal(t, "nosniff", resp.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestServeVideoInline(t *testing.T) {
	opener := &mockOpener{}
	opener.On("OpenLocator", storage.Locator("clip.mp4"), uint(7)).Return(&files.Artifact{
		ReadCloser: io.NopCloser(strings.NewReader("mp4")),
		Name:       "clip.mp4",
		MimeType:   "video/mp4",
	}, nil)
	router := setupTestRouter(opener, 7)

	req, _ := http.NewRequest("GET", "/media/clip.mp4", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, "video/mp4", resp.Header().Get("Content-Type"))
	assert.Empty(t, resp.Header().Get("Content-Disposition"))
}

func TestServeSharedPlaceholderIsCacheable(t *testing.T) {
	opener := &mockOpener{}
	opener.On("OpenLocator", storage.PendingPreview, uint(0)).Return(&files.Artifact{
		ReadCloser: io.NopCloser(strings.NewReader("png")),
		MimeType:   "image/png",
	}, nil)
	router := setupTestRouter(opener, 0)

	req, _ := http.NewRequest("GET", storage.PendingPreview.PublicReference(), nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Header().Get("Cache-Control"), "public")
}

func TestServeHidesForbiddenArtifacts(t *testing.T) {
	opener := &mockOpener{}
	opener.On("OpenLocator", storage.Locator("secret.jpg"), uint(0)).Return(nil, apperr.Conceal(apperr.ErrForbidden))
	router := setupTestRouter(opener, 0)

	req, _ := http.NewRequest("GET", "/media/secret.jpg", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}
}
