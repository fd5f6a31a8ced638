package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MacJediWizard/strongbox/internal/auth"
	"github.com/MacJediWizard/strongbox/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const testAPIKey = "sbx_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func init() {
	gin.SetMode(gin.TestMode)
}

type testClientStore map[string]*models.Client

func (s testClientStore) FindClientByKeyHash(_ context.Context, hash string) (*models.Client, error) {
	c, ok := s[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

func newAgentRouter(t *testing.T) (*gin.Engine, *models.Client) {
	t.Helper()
	client := models.NewClient("nas", auth.HashAPIKey(testAPIKey))
	validator := auth.NewAPIKeyValidator(testClientStore{client.APIKeyHash: client}, zerolog.Nop())

	r := gin.New()
	r.Use(APIKeyMiddleware(validator, zerolog.Nop()))
	r.GET("/test", func(c *gin.Context) {
		cl := RequireClient(c)
		if cl == nil {
			return
		}
		c.JSON(http.StatusOK, gin.H{"client_id": cl.ID.String()})
	})
	return r, client
}

func TestAPIKeyMiddleware_ValidKey(t *testing.T) {
	r, client := newAgentRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp["client_id"] != client.ID.String() {
		t.Fatalf("expected client_id %s, got %s", client.ID, resp["client_id"])
	}
}

func TestAPIKeyMiddleware_Rejects(t *testing.T) {
	r, _ := newAgentRouter(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"unknown key", "Bearer sbx_ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"},
		{"malformed key", "Bearer nope"},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestAPIKeyMiddleware_QueryTokenOnlyForWebsocket(t *testing.T) {
	r, _ := newAgentRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test?token="+testAPIKey, nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("plain request with query token: expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/test?token="+testAPIKey, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("upgrade request with query token: expected 200, got %d", w.Code)
	}
}

func TestAdminTokenMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(AdminTokenMiddleware("op-secret", zerolog.Nop()))
	r.GET("/admin", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer op-secret", http.StatusNoContent},
		{"wrong token", "Bearer op-secret2", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestAdminTokenMiddleware_EmptyConfiguredToken(t *testing.T) {
	r := gin.New()
	r.Use(AdminTokenMiddleware("", zerolog.Nop()))
	r.GET("/admin", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer ")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestGetClient_WrongType(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(string(ClientContextKey), "not-a-client")

	if GetClient(c) != nil {
		t.Fatal("expected nil for wrong type")
	}
	if RequireClient(c) != nil {
		t.Fatal("expected nil from RequireClient")
	}
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}
