package groups

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
)

// Handler handles group-related requests
type Handler struct {
	svc *Service
}

// NewHandler creates a new groups handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateGroupRequest represents the request to create a group
type CreateGroupRequest struct {
	Name  string `json:"name" binding:"required,max=100"`
	Color string `json:"color" binding:"required,max=32"`
}

// GroupResponse represents a group in API responses
type GroupResponse struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

func toResponse(g models.Group) GroupResponse {
	return GroupResponse{ID: g.ID, Name: g.Name, Color: g.Color}
}

// List returns the groups of an organization
// @Summary List groups
// @Description Get all groups of an organization ordered by name
// @Tags groups
// @Produce json
// @Param id path int true "Organization ID"
// @Success 200 {array} GroupResponse
// @Failure 404 {object} map[string]string "Organization not found"
// @Router /organizations/{id}/groups [get]
func (h *Handler) List(c *gin.Context) {
	orgID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	groups, err := h.svc.ListGroups(c.Request.Context(), orgID, auth.CallerID(c))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	response := make([]GroupResponse, len(groups))
	for i, g := range groups {
		response[i] = toResponse(g)
	}
	c.JSON(http.StatusOK, response)
}

// Create creates a new group in an organization
// @Summary Create a group
// @Description Create a tag in an organization (owner or editor)
// @Tags groups
// @Accept json
// @Produce json
// @Param id path int true "Organization ID"
// @Param request body CreateGroupRequest true "Group details"
// @Success 201 {object} GroupResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 403 {object} map[string]string "Insufficient permissions"
// @Security BearerAuth
// @Router /organizations/{id}/groups [post]
func (h *Handler) Create(c *gin.Context) {
	orgID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.svc.CreateGroup(c.Request.Context(), orgID, auth.CallerID(c), req.Name, req.Color)
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toResponse(*group))
}

// RegisterRoutes registers group routes under /organizations/:id
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/organizations/:id/groups", h.List)
	rg.POST("/organizations/:id/groups", h.Create)
}
