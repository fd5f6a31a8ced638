// Package auth issues and checks the credentials used by agents and admins.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/MacJediWizard/strongbox/internal/models"
	"github.com/rs/zerolog"
)

const (
	// APIKeyPrefix is the prefix for all Strongbox client API keys.
	APIKeyPrefix = "sbx_"
	// APIKeyLength is the expected length of the hex portion of the API key.
	APIKeyLength = 64 // 32 bytes = 64 hex chars
)

// ErrInvalidAPIKey is returned for malformed, unknown or revoked keys.
var ErrInvalidAPIKey = errors.New("invalid API key")

// ClientStore looks clients up by the hash of their API key.
type ClientStore interface {
	FindClientByKeyHash(ctx context.Context, hash string) (*models.Client, error)
}

// APIKeyValidator resolves API keys to clients.
type APIKeyValidator struct {
	store  ClientStore
	logger zerolog.Logger
}

// NewAPIKeyValidator creates a new API key validator.
func NewAPIKeyValidator(store ClientStore, logger zerolog.Logger) *APIKeyValidator {
	return &APIKeyValidator{
		store:  store,
		logger: logger.With().Str("component", "apikey_validator").Logger(),
	}
}

// Validate returns the client owning apiKey, or ErrInvalidAPIKey.
func (v *APIKeyValidator) Validate(ctx context.Context, apiKey string) (*models.Client, error) {
	if !IsValidAPIKeyFormat(apiKey) {
		v.logger.Debug().Msg("invalid API key format")
		return nil, ErrInvalidAPIKey
	}

	client, err := v.store.FindClientByKeyHash(ctx, HashAPIKey(apiKey))
	if err != nil || client == nil {
		v.logger.Debug().Err(err).Msg("client not found for API key")
		return nil, ErrInvalidAPIKey
	}
	return client, nil
}

// GenerateAPIKey returns a new random key and the hash to store for it.
func GenerateAPIKey() (key, hash string, err error) {
	buf := make([]byte, APIKeyLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate API key: %w", err)
	}
	key = APIKeyPrefix + hex.EncodeToString(buf)
	return key, HashAPIKey(key), nil
}

// IsValidAPIKeyFormat checks if the API key has the correct format.
func IsValidAPIKeyFormat(apiKey string) bool {
	hexPart, ok := strings.CutPrefix(apiKey, APIKeyPrefix)
	if !ok || len(hexPart) != APIKeyLength {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage/comparison.
func HashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// TokenEqual compares two secrets in constant time.
func TokenEqual(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ExtractBearerToken extracts the token from an Authorization header value.
// Returns empty string if the header is not a valid Bearer token.
func ExtractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}
