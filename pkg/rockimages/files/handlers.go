package files

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
)

// Handler handles file catalog requests
type Handler struct {
	svc *Service
}

// NewHandler creates a new files handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// UpdateFileRequest represents a metadata patch. Absent fields are left unchanged.
type UpdateFileRequest struct {
	DisplayName  *string `json:"display_name" binding:"omitempty,max=255"`
	ShootDate    *string `json:"shoot_date"`
	LocationText *string `json:"location_text" binding:"omitempty,max=255"`
	GroupIDs     *[]uint `json:"group_ids"`
}

// UploadError reports one part of a batch upload that was rejected
type UploadError struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// UploadResponse is the result of a batch upload
type UploadResponse struct {
	Files  []View        `json:"files"`
	Errors []UploadError `json:"errors"`
}

// Upload ingests one or more files into an organization
// @Summary Upload files
// @Description Upload files (multipart field "files") into an organization (owner or editor)
// @Tags files
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Organization ID"
// @Success 201 {object} UploadResponse
// @Failure 400 {object} map[string]string "No files"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Security BearerAuth
// @Router /organizations/{id}/files [post]
func (h *Handler) Upload(c *gin.Context) {
	orgID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a multipart form"})
		return
	}
	parts := form.File["files"]
	if len(parts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}

	callerID := auth.CallerID(c)
	response := UploadResponse{Files: []View{}, Errors: []UploadError{}}
	for _, part := range parts {
		view, err := h.ingestPart(c, orgID, callerID, part)
		if err != nil {
			// Authorization failures apply to the whole batch.
			if len(response.Files) == 0 && isAccessError(err) {
				httpapi.RespondError(c, err)
				return
			}
			response.Errors = append(response.Errors, UploadError{Name: part.Filename, Error: httpapi.ErrorMessage(c, err)})
			continue
		}
		response.Files = append(response.Files, *view)
	}

	status := http.StatusCreated
	if len(response.Files) == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, response)
}

func (h *Handler) ingestPart(c *gin.Context, orgID, callerID uint, part *multipart.FileHeader) (*View, error) {
	f, mimeType, err := openPart(part)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return h.svc.Ingest(c.Request.Context(), IngestRequest{
		OrgID:        orgID,
		UploaderID:   callerID,
		OriginalName: part.Filename,
		MimeType:     mimeType,
		SizeBytes:    part.Size,
		Content:      f,
	})
}

// Get returns a single file
// @Summary Get a file
// @Tags files
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} View
// @Failure 404 {object} map[string]string "File not found"
// @Router /files/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	fileID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	view, err := h.svc.Get(c.Request.Context(), fileID, auth.CallerID(c))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Update edits file metadata and reassigns its groups
// @Summary Update file metadata
// @Description Update display name, shoot date, location and groups in one atomic step
// @Tags files
// @Accept json
// @Produce json
// @Param id path int true "File ID"
// @Param request body UpdateFileRequest true "Fields to change"
// @Success 200 {object} View
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Security BearerAuth
// @Router /files/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	fileID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	var req UpdateFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := h.svc.UpdateMetadata(c.Request.Context(), fileID, auth.CallerID(c), MetadataPatch{
		DisplayName:  req.DisplayName,
		ShootDate:    req.ShootDate,
		LocationText: req.LocationText,
		GroupIDs:     req.GroupIDs,
	})
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Reupload replaces the original of a file
// @Summary Replace a file's original
// @Description Upload a new original (multipart field "file"), keeping id, groups and metadata
// @Tags files
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "File ID"
// @Success 200 {object} View
// @Failure 409 {object} map[string]string "Replaced concurrently"
// @Security BearerAuth
// @Router /files/{id}/reupload [post]
func (h *Handler) Reupload(c *gin.Context) {
	fileID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	part, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	f, mimeType, err := openPart(part)
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	defer f.Close()

	view, err := h.svc.Reupload(c.Request.Context(), fileID, auth.CallerID(c), ReuploadRequest{
		OriginalName: part.Filename,
		MimeType:     mimeType,
		SizeBytes:    part.Size,
		Content:      f,
	})
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Delete removes a file
// @Summary Delete a file
// @Tags files
// @Param id path int true "File ID"
// @Success 204
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Security BearerAuth
// @Router /files/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	fileID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	if err := h.svc.Delete(c.Request.Context(), fileID, auth.CallerID(c)); err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Download streams the original of a file as an attachment
// @Summary Download a file
// @Tags files
// @Produce octet-stream
// @Param id path int true "File ID"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string "File not found"
// @Router /files/{id}/download [get]
func (h *Handler) Download(c *gin.Context) {
	fileID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	artifact, err := h.svc.Open(c.Request.Context(), fileID, auth.CallerID(c))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	defer artifact.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Name))
	c.Header("X-Content-Type-Options", "nosniff")
	c.DataFromReader(http.StatusOK, -1, artifact.MimeType, artifact, nil)
}

// Recent returns the newest files across the caller's organizations
// @Summary Recent files
// @Tags files
// @Produce json
// @Param limit query int false "Maximum number of files (default 12)"
// @Success 200 {array} View
// @Security BearerAuth
// @Router /files/recent [get]
func (h *Handler) Recent(c *gin.Context) {
	views, err := h.svc.Recent(c.Request.Context(), auth.CallerID(c), httpapi.QueryInt(c, "limit"))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

// RegisterRoutes registers file routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/organizations/:id/files", h.Upload)
	rg.GET("/files/recent", h.Recent)
	rg.GET("/files/:id", h.Get)
	rg.PATCH("/files/:id", h.Update)
	rg.DELETE("/files/:id", h.Delete)
	rg.POST("/files/:id/reupload", h.Reupload)
	rg.GET("/files/:id/download", h.Download)
}

// openPart opens an uploaded part and works out its MIME type. The sniffed
// type wins over the declared one unless sniffing found nothing specific.
func openPart(part *multipart.FileHeader) (multipart.File, string, error) {
	f, err := part.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload %q: %w", part.Filename, err)
	}

	declared := part.Header.Get("Content-Type")
	detected, err := mimetype.DetectReader(f)
	if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
		f.Close()
		return nil, "", fmt.Errorf("rewind upload %q: %w", part.Filename, seekErr)
	}
	if err != nil || isGeneric(detected.String()) {
		return f, declared, nil
	}
	return f, detected.String(), nil
}

func isGeneric(mimeType string) bool {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	return base == "" || base == "application/octet-stream" || base == "text/plain"
}

func isAccessError(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrForbidden) ||
		errors.Is(err, apperr.ErrUnauthenticated)
}
