package apikeys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/auth"
	"github.com/rockimages/rockimages/pkg/rockimages/database"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"gorm.io/gorm"
)

var testTokens = auth.NewTokenManager("test-secret", time.Hour)

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
	user := models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db)

	api := r.Group("/api")
	api.Use(auth.AuthMiddleware(testTokens))
	handler.RegisterRoutes(api)

	// Stub endpoint behind the combined middleware
	r.GET("/whoami", CombinedAuthMiddleware(db, testTokens, false), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": auth.CallerID(c)})
	})
	r.GET("/private", CombinedAuthMiddleware(db, testTokens, true), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	return r
}

func getAuthHeader(user models.User) string {
	token, _ := testTokens.Generate(user.ID, user.Username)
	return "Bearer " + token
}

func createKey(t *testing.T, router *gin.Engine, user models.User, description string) CreateAPIKeyResponse {
	jsonBody, _ := json.Marshal(CreateAPIKeyRequest{Description: description})
	req, _ := http.NewRequest("POST", "/api/api-keys", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", getAuthHeader(user))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var response CreateAPIKeyResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	return response
}

func whoami(router *gin.Engine, header string) (int, uint) {
	req, _ := http.NewRequest("GET", "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var body struct {
		UserID uint `json:"user_id"`
	}
	json.Unmarshal(resp.Body.Bytes(), &body)
	return resp.Code, body.UserID
}

func TestCreateAPIKey(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	user := createTestUser(t, db, "alice")

	response := createKey(t, router, user, "Uploader script")

	if len(response.Key) != KeyLength*2 {
		t.Errorf("Expected key of %d chars, got %d", KeyLength*2, len(response.Key))
	}
	if response.KeyPrefix != response.Key[:KeyPrefixLength] {
		t.Errorf("Expected prefix %s, got %s", response.Key[:KeyPrefixLength], response.KeyPrefix)
	}

	var stored models.APIKey
	db.First(&stored, response.ID)
	if stored.KeyHash == response.Key {
		t.Error("API key must not be stored in plain text")
	}
}

func TestListAPIKeysOnlyOwn(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")

	createKey(t, router, alice, "one")
	createKey(t, router, alice, "two")
	createKey(t, router, bob, "bob's")

	req, _ := http.NewRequest("GET", "/api/api-keys", nil)
	req.Header.Set("Authorization", getAuthHeader(alice))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var keys []APIKeyResponse
	json.Unmarshal(resp.Body.Bytes(), &keys)
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}
	if keys[0].Description != "two" {
		t.Errorf("Expected newest key first, got %s", keys[0].Description)
	}
}

func TestDeleteAPIKey(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	alice := createTestUser(t, db, "alice")
	bob := createTestUser(t, db, "bob")
	key := createKey(t, router, alice, "temp")

	// Bob cannot revoke Alice's key
	req, _ := http.NewRequest("DELETE", fmt.Sprintf("/api/api-keys/%d", key.ID), nil)
	req.Header.Set("Authorization", getAuthHeader(bob))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.Code)
	}

	req, _ = http.NewRequest("DELETE", fmt.Sprintf("/api/api-keys/%d", key.ID), nil)
	req.Header.Set("Authorization", getAuthHeader(alice))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	if code, _ := whoami(router, "Bearer "+key.Key); code != http.StatusUnauthorized {
		t.Errorf("Expected revoked key to be rejected, got %d", code)
	}
}

func TestCombinedAuthMiddleware(t *testing.T) {
	db := setupTestDB(t)
	router := setupTestRouter(db)
	alice := createTestUser(t, db, "alice")
	key := createKey(t, router, alice, "script")

	if code, id := whoami(router, ""); code != http.StatusOK || id != 0 {
		t.Errorf("Expected anonymous pass-through, got %d / %d", code, id)
	}
	if code, id := whoami(router, getAuthHeader(alice)); code != http.StatusOK || id != alice.ID {
		t.Errorf("Expected JWT caller %d, got %d / %d", alice.ID, code, id)
	}
	if code, id := whoami(router, "Bearer "+key.Key); code != http.StatusOK || id != alice.ID {
		t.Errorf("Expected API key caller %d, got %d / %d", alice.ID, code, id)
	}
	if code, _ := whoami(router, "Bearer deadbeef"); code != http.StatusUnauthorized {
		t.Errorf("Expected invalid key to be rejected, got %d", code)
	}
	if code, _ := whoami(router, "Bearer bad.jwt.value"); code != http.StatusUnauthorized {
		t.Errorf("Expected invalid JWT to be rejected, got %d", code)
	}

	req, _ := http.NewRequest("GET", "/private", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected required auth to reject anonymous, got %d", resp.Code)
	}
}
