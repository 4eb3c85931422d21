package search

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
)

// Handler handles catalog search requests
type Handler struct {
	svc *Service
}

// NewHandler creates a new search handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List searches an organization's files
// @Summary Search files
// @Description Paginated file listing with optional text and group filters
// @Tags files
// @Produce json
// @Param id path int true "Organization ID"
// @Param q query string false "Text to match in names and group names"
// @Param group query int false "Only files in this group"
// @Param page query int false "Page number (clamped into range)"
// @Param perPage query int false "Page size (default 60, max 200)"
// @Success 200 {object} Result
// @Failure 404 {object} map[string]string "Organization not found"
// @Router /organizations/{id}/files [get]
func (h *Handler) List(c *gin.Context) {
	orgID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	groupID := httpapi.QueryInt(c, "group")
	if groupID < 0 {
		groupID = 0
	}

	result, err := h.svc.Search(c.Request.Context(), Query{
		OrgID:    orgID,
		CallerID: auth.CallerID(c),
		Text:     c.Query("q"),
		GroupID:  uint(groupID),
		Page:     httpapi.QueryInt(c, "page"),
		PerPage:  httpapi.QueryInt(c, "perPage"),
	})
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegisterRoutes registers search routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/organizations/:id/files", h.List)
}
