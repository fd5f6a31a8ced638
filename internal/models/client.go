// Package models holds the server's persisted domain types.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Client is a registered agent installation. Agents authenticate with an API
// key whose SHA-256 hash is stored here.
type Client struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	APIKeyHash string     `json:"-"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewClient creates a new Client with the given details.
func NewClient(name, apiKeyHash string) *Client {
	now := time.Now()
	return &Client{
		ID:         uuid.New(),
		Name:       name,
		APIKeyHash: apiKeyHash,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// IsOnline returns true if the client has been seen within the given threshold.
func (c *Client) IsOnline(threshold time.Duration) bool {
	if c.LastSeen == nil {
		return false
	}
	return time.Since(*c.LastSeen) < threshold
}
