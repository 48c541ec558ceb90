package repository

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/gratulo/internal/models"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// GenerateKey produces a new API key string.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return "gk_" + hex.EncodeToString(b), nil
}

// HashKey returns the stored form of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// Create mints a key under the given name. The plaintext key appears only
// in the result; the table keeps its hash and a display prefix.
func (r *APIKeyRepository) Create(name string) (*models.APIKeyCreateResult, error) {
	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}

	k := models.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   HashKey(key),
		KeyPrefix: key[:11],
		CreatedAt: time.Now(),
	}

	_, err = r.db.Exec(
		"INSERT INTO api_keys (id, name, key_hash, key_prefix, created_at) VALUES (?, ?, ?, ?, ?)",
		k.ID, k.Name, k.KeyHash, k.KeyPrefix, k.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	return &models.APIKeyCreateResult{APIKey: k, Key: key}, nil
}

// GetByHash returns the key record matching a hashed key, or nil.
func (r *APIKeyRepository) GetByHash(hash string) (*models.APIKey, error) {
	k := &models.APIKey{}
	var lastUsed sql.NullTime

	err := r.db.QueryRow(
		"SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys WHERE key_hash = ?", hash,
	).Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.CreatedAt, &lastUsed)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return k, nil
}

// List returns all keys, newest first. Hashes stay out of JSON via the
// model tags.
func (r *APIKeyRepository) List() ([]models.APIKey, error) {
	rows, err := r.db.Query(
		"SELECT id, name, key_hash, key_prefix, created_at, last_used_at FROM api_keys ORDER BY created_at DESC",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := []models.APIKey{}
	for rows.Next() {
		var k models.APIKey
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			k.LastUsedAt = &lastUsed.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// TouchLastUsed stamps a key after successful authentication.
func (r *APIKeyRepository) TouchLastUsed(id string) error {
	_, err := r.db.Exec("UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now(), id)
	return err
}

// Delete revokes a key.
func (r *APIKeyRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM api_keys WHERE id = ?", id)
	return err
}
