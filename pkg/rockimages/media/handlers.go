// Package media streams stored artifacts by their public reference.
package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/files"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
	"github.com/rockimages/rockimages/pkg/rockimages/storage"
)

// Opener resolves a locator to an artifact the caller may read.
type Opener interface {
	OpenLocator(ctx context.Context, loc storage.Locator, callerID uint) (*files.Artifact, error)
}

// Handler handles artifact requests
type Handler struct {
	files Opener
}

// NewHandler creates a new media handler
func NewHandler(files Opener) *Handler {
	return &Handler{files: files}
}

// Serve streams an original, a preview or a shared placeholder.
// Shared placeholders are public and cacheable; everything else is checked
// against the owning file's organization.
func (h *Handler) Serve(c *gin.Context) {
	loc := storage.Locator(strings.TrimPrefix(c.Param("locator"), "/"))

	artifact, err := h.files.OpenLocator(c.Request.Context(), loc, auth.CallerID(c))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	defer artifact.Close()

	if loc.IsShared() {
		c.Header("Cache-Control", "public, max-age=86400")
	} else {
		c.Header("Cache-Control", "private, max-age=3600")
	}
	c.Header("X-Content-Type-Options", "nosniff")

	contentType := artifact.MimeType
	if !renderable(contentType) {
		contentType = "application/octet-stream"
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	}
	c.DataFromReader(http.StatusOK, -1, contentType, artifact, nil)
}

// renderable reports whether a type may be displayed inline on our origin.
// SVG is an image type that can carry script, so it is downloaded instead.
func renderable(mimeType string) bool {
	mimeType = strings.ToLower(mimeType)
	if strings.HasPrefix(mimeType, "image/svg") {
		return false
	}
	return strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/")
}

// RegisterRoutes registers the media route on the root router
func (h *Handler) RegisterRoutes(rg gin.IRoutes) {
	rg.GET("/media/*locator", h.Serve)
}
