package organizations

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
)

// Handler handles organization-related requests
type Handler struct {
	svc *Service
}

// NewHandler creates a new organizations handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateOrgRequest represents the request to create an organization
type CreateOrgRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"max=1000"`
	Visibility  string `json:"visibility" binding:"omitempty,oneof=public private"`
}

// AddMemberRequest represents the request to add a member
type AddMemberRequest struct {
	Username string `json:"username" binding:"required"`
	Role     string `json:"role" binding:"omitempty,oneof=owner editor viewer"`
}

// Directory searches public organizations
// @Summary Organization directory
// @Description Public organizations whose name or description contains q (max 20)
// @Tags organizations
// @Produce json
// @Param q query string false "Search text"
// @Success 200 {array} DirectoryEntry
// @Router /orgs [get]
func (h *Handler) Directory(c *gin.Context) {
	entries, err := h.svc.SearchDirectory(c.Request.Context(), c.Query("q"))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// List returns all organizations the current user is a member of
// @Summary List organizations
// @Description Get all organizations the current user is a member of
// @Tags organizations
// @Produce json
// @Success 200 {array} Summary
// @Security BearerAuth
// @Router /organizations [get]
func (h *Handler) List(c *gin.Context) {
	orgs, err := h.svc.ListForUser(c.Request.Context(), auth.CallerID(c))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orgs)
}

// Create creates a new organization owned by the current user
// @Summary Create an organization
// @Description Create a new organization with the current user as owner
// @Tags organizations
// @Accept json
// @Produce json
// @Param request body CreateOrgRequest true "Organization details"
// @Success 201 {object} Summary
// @Failure 400 {object} map[string]string "Validation error"
// @Security BearerAuth
// @Router /organizations [post]
func (h *Handler) Create(c *gin.Context) {
	var req CreateOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	org, err := h.svc.Create(c.Request.Context(), auth.CallerID(c), req.Name, req.Description, models.Visibility(req.Visibility))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, org)
}

// Get returns a specific organization
// @Summary Get an organization
// @Description Get details of an organization, including the caller's role
// @Tags organizations
// @Produce json
// @Param id path int true "Organization ID"
// @Success 200 {object} Summary
// @Failure 404 {object} map[string]string "Organization not found"
// @Router /organizations/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	orgID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	org, err := h.svc.Get(c.Request.Context(), orgID, auth.CallerID(c))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, org)
}

// ListMembers returns the members of an organization
// @Summary List members
// @Tags organizations
// @Produce json
// @Param id path int true "Organization ID"
// @Success 200 {array} Member
// @Failure 403 {object} map[string]string "Members only"
// @Security BearerAuth
// @Router /organizations/{id}/members [get]
func (h *Handler) ListMembers(c *gin.Context) {
	orgID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	members, err := h.svc.ListMembers(c.Request.Context(), orgID, auth.CallerID(c))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

// AddMember adds a user to an organization
// @Summary Add a member
// @Description Add a user by username (owner or editor; only owners grant owner)
// @Tags organizations
// @Accept json
// @Produce json
// @Param id path int true "Organization ID"
// @Param request body AddMemberRequest true "Member details"
// @Success 201 {object} Member
// @Failure 409 {object} map[string]string "Already a member"
// @Security BearerAuth
// @Router /organizations/{id}/members [post]
func (h *Handler) AddMember(c *gin.Context) {
	orgID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.svc.AddMember(c.Request.Context(), orgID, auth.CallerID(c), req.Username, models.OrgRole(req.Role))
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

// RegisterRoutes registers organization routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/orgs", h.Directory)
	rg.GET("/organizations", h.List)
	rg.POST("/organizations", h.Create)
	rg.GET("/organizations/:id", h.Get)
	rg.GET("/organizations/:id/members", h.ListMembers)
	rg.POST("/organizations/:id/members", h.AddMember)
}
