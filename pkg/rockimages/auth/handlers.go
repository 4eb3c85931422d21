package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"gorm.io/gorm"
)

// Handler handles authentication requests
type Handler struct {
	db     *gorm.DB
	tokens *TokenManager
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, tokens *TokenManager) *Handler {
	return &Handler{db: db, tokens: tokens}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents the login request body. Login accepts either the
// username or the email address.
type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func toUserResponse(u models.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Register handles user registration
// @Summary Register a new user
// @Description Create a new user account and receive a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration details"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 409 {object} map[string]string "Username or email already registered"
// @Router /auth/register [post]
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process password"})
		return
	}

	user := models.User{
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hashedPassword,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		if apperr.IsDuplicateKey(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username or email already registered"})
			return
		}
		httpapi.RespondError(c, err)
		return
	}

	token, err := h.tokens.Generate(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: toUserResponse(user)})
}

// Login handles user login
// @Summary Login
// @Description Authenticate with username or email and password to receive a JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} map[string]string "Validation error"
// @Failure 401 {object} map[string]string "Invalid credentials"
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	login := strings.TrimSpace(req.Login)
	var user models.User
	err := h.db.WithContext(c.Request.Context()).
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		Take(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		httpapi.RespondError(c, err)
		return
	}
	if err != nil || !CheckPassword(req.Password, user.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, err := h.tokens.Generate(user.ID, user.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token, User: toUserResponse(user)})
}

// Me returns the current authenticated user
// @Summary Get current user
// @Description Get the authenticated user's profile
// @Tags auth
// @Produce json
// @Success 200 {object} UserResponse
// @Failure 401 {object} map[string]string "Authentication required"
// @Security BearerAuth
// @Router /auth/me [get]
func (h *Handler) Me(c *gin.Context) {
	userID, exists := GetUserID(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).Take(&user, userID).Error; err != nil {
		httpapi.RespondError(c, apperr.FromDB(err))
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}

// Logout handles user logout (client-side token invalidation)
// @Summary Logout
// @Description Logout the current user (client-side token invalidation)
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string "Logged out successfully"
// @Router /auth/logout [post]
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// RegisterRoutes registers auth routes on the given router group.
// guard is applied to the credential endpoints, typically a rate limiter.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, guard ...gin.HandlerFunc) {
	rg.POST("/register", append(guard, h.Register)...)
	rg.POST("/login", append(guard, h.Login)...)
	rg.POST("/logout", h.Logout)
	rg.GET("/me", AuthMiddleware(h.tokens), h.Me)
}
