package models

import "time"

// APIKey authenticates REST API clients. Only the SHA256 hash of the key
// is stored; the prefix identifies keys in listings.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// APIKeyCreateResult carries the full key, shown only on creation.
type APIKeyCreateResult struct {
	APIKey
	Key string `json:"key"`
}
