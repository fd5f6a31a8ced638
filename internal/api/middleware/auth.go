// Package middleware provides HTTP middleware for the Strongbox API.
package middleware

import (
	"net/http"

	"github.com/MacJediWizard/strongbox/internal/auth"
	"github.com/MacJediWizard/strongbox/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// ClientContextKey is the context key for the authenticated client.
const ClientContextKey ContextKey = "client"

// bearerToken returns the bearer token from the Authorization header. Browsers
// cannot set headers on websocket upgrades, so a token query parameter is
// accepted for upgrade requests only.
func bearerToken(c *gin.Context) string {
	if token := auth.ExtractBearerToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if c.IsWebsocket() {
		return c.Query("token")
	}
	return ""
}

// APIKeyMiddleware authenticates agent requests by client API key.
func APIKeyMiddleware(validator *auth.APIKeyValidator, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "apikey_middleware").Logger()

	return func(c *gin.Context) {
		apiKey := bearerToken(c)
		if apiKey == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("missing API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		client, err := validator.Validate(c.Request.Context(), apiKey)
		if err != nil {
			log.Debug().Str("path", c.Request.URL.Path).Msg("invalid API key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}

		c.Set(string(ClientContextKey), client)
		c.Next()
	}
}

// AdminTokenMiddleware guards operator routes with a static bearer token.
func AdminTokenMiddleware(token string, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_middleware").Logger()

	return func(c *gin.Context) {
		if !auth.TokenEqual(bearerToken(c), token) {
			log.Debug().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("rejected admin request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin authorization required"})
			return
		}
		c.Next()
	}
}

// GetClient retrieves the authenticated client from the Gin context.
// Returns nil if no client is authenticated.
func GetClient(c *gin.Context) *models.Client {
	v, exists := c.Get(string(ClientContextKey))
	if !exists {
		return nil
	}
	client, ok := v.(*models.Client)
	if !ok {
		return nil
	}
	return client
}

// RequireClient gets the authenticated client or aborts with 401.
func RequireClient(c *gin.Context) *models.Client {
	client := GetClient(c)
	if client == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "client authentication required"})
		return nil
	}
	return client
}
