package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/gratulo/internal/models"
)

// ErrTemplateInUse is returned when deleting a template that jobs still
// reference.
var ErrTemplateInUse = errors.New("template is used by one or more jobs")

type TemplateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// Create inserts a template.
func (r *TemplateRepository) Create(t *models.Template) error {
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	res, err := r.db.Exec(
		"INSERT INTO templates (name, subject, content_html, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		t.Name, t.Subject, t.ContentHTML, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	t.ID, err = res.LastInsertId()
	return err
}

// GetByID returns a template, or nil when missing.
func (r *TemplateRepository) GetByID(id int64) (*models.Template, error) {
	t := &models.Template{}
	err := r.db.QueryRow(
		"SELECT id, name, subject, content_html, created_at, updated_at FROM templates WHERE id = ?", id,
	).Scan(&t.ID, &t.Name, &t.Subject, &t.ContentHTML, &t.CreatedAt, &t.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// List returns all templates ordered by name.
func (r *TemplateRepository) List() ([]models.Template, error) {
	rows, err := r.db.Query(
		"SELECT id, name, subject, content_html, created_at, updated_at FROM templates ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := []models.Template{}
	for rows.Next() {
		var t models.Template
		if err := rows.Scan(&t.ID, &t.Name, &t.Subject, &t.ContentHTML, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// Update saves template fields.
func (r *TemplateRepository) Update(t *models.Template) error {
	t.UpdatedAt = time.Now()
	_, err := r.db.Exec(
		"UPDATE templates SET name = ?, subject = ?, content_html = ?, updated_at = ? WHERE id = ?",
		t.Name, t.Subject, t.ContentHTML, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

// Delete removes a template. Templates referenced by jobs stay put.
func (r *TemplateRepository) Delete(id int64) error {
	var jobs int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM mailer_jobs WHERE template_id = ?", id).Scan(&jobs); err != nil {
		return err
	}
	if jobs > 0 {
		return ErrTemplateInUse
	}

	_, err := r.db.Exec("DELETE FROM templates WHERE id = ?", id)
	return err
}
