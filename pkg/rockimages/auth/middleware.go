package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the key for the username in gin context
	ContextKeyUsername = "username"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// ok is false when the header is absent; malformed headers return an error message.
func BearerToken(c *gin.Context) (token string, ok bool, problem string) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false, ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false, "Invalid authorization header format"
	}
	return strings.TrimSpace(parts[1]), true, ""
}

// AuthMiddleware validates JWT tokens and sets user info in context
func AuthMiddleware(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok, problem := BearerToken(c)
		if !ok {
			if problem == "" {
				problem = "Authorization header required"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": problem})
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			if err == ErrExpiredToken {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		SetCaller(c, claims.UserID, claims.Username)
		c.Next()
	}
}

// SetCaller records the authenticated user on the context
func SetCaller(c *gin.Context, userID uint, username string) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyUsername, username)
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	id, ok := userID.(uint)
	return id, ok
}

// CallerID returns the authenticated user ID, or 0 for anonymous requests.
func CallerID(c *gin.Context) uint {
	id, _ := GetUserID(c)
	return id
}
