package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rockimages/rockimages/pkg/rockimages/database"
	"github.com/rockimages/rockimages/pkg/rockimages/models"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

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

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(db, NewTokenManager(testSecret, time.Hour))
	handler.RegisterRoutes(r.Group("/auth"))
	return r
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	jsonBody, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", path, bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func registerAlice(t *testing.T, router *gin.Engine) AuthResponse {
	resp := postJSON(router, "/auth/register", RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password123",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var response AuthResponse
	json.Unmarshal(resp.Body.Bytes(), &response)
	return response
}

func TestPasswordHashing(t *testing.T) {
	password := "testpassword123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if hash == password {
		t.Error("Hash should not equal plain password")
	}

	if !CheckPassword(password, hash) {
		t.Error("CheckPassword should return true for correct password")
	}

	if CheckPassword("wrongpassword", hash) {
		t.Error("CheckPassword should return false for incorrect password")
	}
}

func TestJWTToken(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Hour)
	token, err := tm.Generate(1, "alice")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	claims, err := tm.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if claims.UserID != 1 {
		t.Errorf("Expected UserID 1, got %d", claims.UserID)
	}
	if claims.Username != "alice" {
		t.Errorf("Expected username alice, got %s", claims.Username)
	}
}

func TestInvalidToken(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Hour)
	if _, err := tm.Validate("invalid-token"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}

	other, _ := NewTokenManager("other-secret", time.Hour).Generate(1, "alice")
	if _, err := tm.Validate(other); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	tm := NewTokenManager(testSecret, time.Hour)
	tm.ttl = -time.Minute
	token, _ := tm.Generate(1, "alice")
	if _, err := tm.Validate(token); err != ErrExpiredToken {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	router := setupTestRouter(setupTestDB(t))

	response := registerAlice(t, router)

	if response.Token == "" {
		t.Error("Expected token in response")
	}
	if response.User.Username != "alice" {
		t.Errorf("Expected username alice, got %s", response.User.Username)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	router := setupTestRouter(setupTestDB(t))
	registerAlice(t, router)

	resp := postJSON(router, "/auth/register", RegisterRequest{
		Username: "alice",
		Email:    "another@example.com",
		Password: "password123",
	})

	if resp.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRegisterShortPassword(t *testing.T) {
	router := setupTestRouter(setupTestDB(t))

	resp := postJSON(router, "/auth/register", RegisterRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "short",
	})

	if resp.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.Code)
	}
}

func TestLogin(t *testing.T) {
	router := setupTestRouter(setupTestDB(t))
	registerAlice(t, router)

	for _, login := range []string{"alice", "alice@example.com"} {
		resp := postJSON(router, "/auth/login", LoginRequest{Login: login, Password: "password123"})
		if resp.Code != http.StatusOK {
			t.Errorf("Expected status 200 for %s, got %d: %s", login, resp.Code, resp.Body.String())
		}

		var response AuthResponse
		json.Unmarshal(resp.Body.Bytes(), &response)
		if response.Token == "" {
			t.Error("Expected token in response")
		}
	}
}

func TestLoginWrongPassword(t *testing.T) {
	router := setupTestRouter(setupTestDB(t))
	registerAlice(t, router)

	resp := postJSON(router, "/auth/login", LoginRequest{Login: "alice", Password: "wrongpassword"})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", resp.Code)
	}

	resp = postJSON(router, "/auth/login", LoginRequest{Login: "nobody", Password: "password123"})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for unknown user, got %d", resp.Code)
	}
}

func TestMe(t *testing.T) {
	router := setupTestRouter(setupTestDB(t))
	authResponse := registerAlice(t, router)

	req, _ := http.NewRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+authResponse.Token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var userResponse UserResponse
	json.Unmarshal(resp.Body.Bytes(), &userResponse)

	if userResponse.Email != "alice@example.com" {
		t.Errorf("Expected email alice@example.com, got %s", userResponse.Email)
	}
}

func TestMeWithoutAuth(t *testing.T) {
	router := setupTestRouter(setupTestDB(t))

	for _, header := range []string{"", "Token abc", "Bearer not-a-jwt"} {
		req, _ := http.NewRequest("GET", "/auth/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)

		if resp.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401 for %q, got %d", header, resp.Code)
		}
	}
}
