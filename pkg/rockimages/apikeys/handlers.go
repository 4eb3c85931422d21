package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/apperr"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/httpapi"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// KeyLength is the length of the generated API key in bytes (32 bytes = 64 hex chars)
	KeyLength = 32
	// KeyPrefixLength is the number of characters to store as prefix for identification
	KeyPrefixLength = 8
)

// Handler handles API key requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new API keys handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// APIKeyResponse represents an API key in responses
type APIKeyResponse struct {
	ID          uint       `json:"id"`
	KeyPrefix   string     `json:"key_prefix"`
	Description string     `json:"description"`
	LastUsedAt  *time.Time `json:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Description string `json:"description"`
}

// CreateAPIKeyResponse includes the full key (only shown once)
type CreateAPIKeyResponse struct {
	ID          uint      `json:"id"`
	Key         string    `json:"key"`
	KeyPrefix   string    `json:"key_prefix"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// generateAPIKey generates a new random API key
func generateAPIKey() (string, error) {
	bytes := make([]byte, KeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// hashAPIKey creates a SHA-256 hash of the API key
func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// Create creates a new API key for the authenticated user
// @Summary Create an API key
// @Tags api-keys
// @Accept json
// @Produce json
// @Param request body CreateAPIKeyRequest false "Key description"
// @Success 201 {object} CreateAPIKeyResponse
// @Security BearerAuth
// @Router /api-keys [post]
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Description is optional, so binding might fail with empty body
		req.Description = ""
	}

	key, err := generateAPIKey()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate API key"})
		return
	}

	apiKey := models.APIKey{
		UserID:      userID,
		KeyHash:     hashAPIKey(key),
		KeyPrefix:   key[:KeyPrefixLength],
		Description: strings.TrimSpace(req.Description),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&apiKey).Error; err != nil {
		httpapi.RespondError(c, err)
		return
	}

	// Return the full key - this is the only time it's visible
	c.JSON(http.StatusCreated, CreateAPIKeyResponse{
		ID:          apiKey.ID,
		Key:         key,
		KeyPrefix:   apiKey.KeyPrefix,
		Description: apiKey.Description,
		CreatedAt:   apiKey.CreatedAt,
	})
}

// List returns all API keys for the authenticated user
// @Summary List API keys
// @Tags api-keys
// @Produce json
// @Success 200 {array} APIKeyResponse
// @Security BearerAuth
// @Router /api-keys [get]
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var apiKeys []models.APIKey
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Find(&apiKeys).Error; err != nil {
		httpapi.RespondError(c, err)
		return
	}

	responses := make([]APIKeyResponse, len(apiKeys))
	for i, key := range apiKeys {
		responses[i] = APIKeyResponse{
			ID:          key.ID,
			KeyPrefix:   key.KeyPrefix,
			Description: key.Description,
			LastUsedAt:  key.LastUsedAt,
			CreatedAt:   key.CreatedAt,
		}
	}

	c.JSON(http.StatusOK, responses)
}

// Delete revokes an API key
// @Summary Revoke an API key
// @Tags api-keys
// @Produce json
// @Param id path int true "API key ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string "API key not found"
// @Security BearerAuth
// @Router /api-keys/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	keyID, err := httpapi.ParseID(c, "id")
	if err != nil {
		httpapi.RespondError(c, err)
		return
	}

	result := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", keyID, userID).
		Delete(&models.APIKey{})
	if result.Error != nil {
		httpapi.RespondError(c, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		httpapi.RespondError(c, apperr.ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}

// ValidateAPIKey checks if an API key is valid and returns its record
func ValidateAPIKey(ctx context.Context, db *gorm.DB, key string) (*models.APIKey, error) {
	var apiKey models.APIKey
	if err := db.WithContext(ctx).Where("key_hash = ?", hashAPIKey(key)).Take(&apiKey).Error; err != nil {
		return nil, apperr.FromDB(err)
	}
	return &apiKey, nil
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func UpdateLastUsed(db *gorm.DB, apiKeyID uint) {
	if err := db.Model(&models.APIKey{}).Where("id = ?", apiKeyID).Update("last_used_at", time.Now()).Error; err != nil {
		zap.L().Warn("update api key last use", zap.Uint("api_key_id", apiKeyID), zap.Error(err))
	}
}

// CombinedAuthMiddleware authenticates via JWT or API key.
// Both are passed in the Authorization header as "Bearer <token>";
// JWTs contain dots, API keys are hex strings without dots.
// When required is false, requests without an Authorization header proceed
// anonymously, but a header that fails validation is still rejected.
func CombinedAuthMiddleware(db *gorm.DB, tokens *auth.TokenManager, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok, problem := auth.BearerToken(c)
		if !ok {
			if problem == "" && !required {
				c.Next()
				return
			}
			if problem == "" {
				problem = "Authorization header required"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		if strings.Contains(token, ".") {
			claims, err := tokens.Validate(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
				return
			}
			auth.SetCaller(c, claims.UserID, claims.Username)
			c.Next()
			return
		}

		apiKey, err := ValidateAPIKey(c.Request.Context(), db, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		var user models.User
		if err := db.WithContext(c.Request.Context()).Take(&user, apiKey.UserID).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		// Fire and forget
		go UpdateLastUsed(db, apiKey.ID)

		auth.SetCaller(c, user.ID, user.Username)
		c.Next()
	}
}

// RegisterRoutes registers API key routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/api-keys", h.Create)
	rg.GET("/api-keys", h.List)
	rg.DELETE("/api-keys/:id", h.Delete)
}
