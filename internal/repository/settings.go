package repository

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/foxzi/gratulo/internal/models"
)

// Settings keys for the mail relay configuration.
const (
	keySMTPHost       = "smtp_host"
	keySMTPPort       = "smtp_port"
	keySMTPUsername   = "smtp_username"
	keySMTPPassword   = "smtp_password"
	keySMTPEncryption = "smtp_encryption"
	keySMTPFrom       = "smtp_from"
	keySMTPFromName   = "smtp_from_name"
	keyDKIMSelector   = "dkim_selector"
	keyDKIMKeyFile    = "dkim_key_file"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns a setting value, or "" when the key is unset.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set upserts a setting.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// GetSMTP assembles the relay settings. The caller decides via Configured()
// whether mail can go out.
func (r *SettingsRepository) GetSMTP() (*models.SMTPSettings, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s := &models.SMTPSettings{
		Host:         values[keySMTPHost],
		Port:         587,
		Username:     values[keySMTPUsername],
		Password:     values[keySMTPPassword],
		Encryption:   values[keySMTPEncryption],
		From:         values[keySMTPFrom],
		FromName:     values[keySMTPFromName],
		DKIMSelector: values[keyDKIMSelector],
		DKIMKeyFile:  values[keyDKIMKeyFile],
	}
	if v := values[keySMTPPort]; v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid smtp_port setting %q: %w", v, err)
		}
		s.Port = port
	}
	if s.Encryption == "" {
		s.Encryption = models.EncryptionStartTLS
	}
	return s, nil
}

// SaveSMTP writes the relay settings in one transaction.
func (r *SettingsRepository) SaveSMTP(s *models.SMTPSettings) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pairs := []struct{ key, value string }{
		{keySMTPHost, s.Host},
		{keySMTPPort, strconv.Itoa(s.Port)},
		{keySMTPUsername, s.Username},
		{keySMTPPassword, s.Password},
		{keySMTPEncryption, s.Encryption},
		{keySMTPFrom, s.From},
		{keySMTPFromName, s.FromName},
		{keyDKIMSelector, s.DKIMSelector},
		{keyDKIMKeyFile, s.DKIMKeyFile},
	}

	now := time.Now()
	for _, p := range pairs {
		_, err := tx.Exec(`
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			p.key, p.value, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save %s: %w", p.key, err)
		}
	}

	return tx.Commit()
}
