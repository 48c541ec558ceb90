package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/gratulo/internal/models"
)

// ErrDefaultGroup is returned when trying to delete the default group.
var ErrDefaultGroup = errors.New("the default group cannot be deleted")

type GroupRepository struct {
	db *sql.DB
}

func NewGroupRepository(db *sql.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create inserts a group. When the group is marked default, the previous
// default loses the flag in the same transaction.
func (r *GroupRepository) Create(g *models.Group) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if g.IsDefault {
		if _, err := tx.Exec("UPDATE groups SET is_default = 0 WHERE is_default = 1"); err != nil {
			return err
		}
	}

	g.CreatedAt = time.Now()
	g.UpdatedAt = g.CreatedAt

	res, err := tx.Exec(
		"INSERT INTO groups (name, is_default, created_at, updated_at) VALUES (?, ?, ?, ?)",
		g.Name, g.IsDefault, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	g.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetByID returns a group, or nil when missing.
func (r *GroupRepository) GetByID(id int64) (*models.Group, error) {
	return r.getOne("id = ?", id)
}

// GetDefault returns the default group, or nil when none is marked.
func (r *GroupRepository) GetDefault() (*models.Group, error) {
	return r.getOne("is_default = 1", nil)
}

func (r *GroupRepository) getOne(where string, arg any) (*models.Group, error) {
	args := []any{}
	if arg != nil {
		args = append(args, arg)
	}

	g := &models.Group{}
	err := r.db.QueryRow(
		"SELECT id, name, is_default, created_at, updated_at FROM groups WHERE "+where, args...,
	).Scan(&g.ID, &g.Name, &g.IsDefault, &g.CreatedAt, &g.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// List returns all groups with their active member counts, default group
// first.
func (r *GroupRepository) List() ([]models.Group, error) {
	rows, err := r.db.Query(`
		SELECT g.id, g.name, g.is_default, g.created_at, g.updated_at,
		       (SELECT COUNT(*) FROM members m WHERE m.group_id = g.id AND m.is_deleted = 0)
		FROM groups g
		ORDER BY g.is_default DESC, g.name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []models.Group{}
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.IsDefault, &g.CreatedAt, &g.UpdatedAt, &g.MemberCount); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Update saves group fields, keeping exactly one default group.
func (r *GroupRepository) Update(g *models.Group) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if g.IsDefault {
		if _, err := tx.Exec("UPDATE groups SET is_default = 0 WHERE is_default = 1 AND id != ?", g.ID); err != nil {
			return err
		}
	}

	g.UpdatedAt = time.Now()
	_, err = tx.Exec(
		"UPDATE groups SET name = ?, is_default = ?, updated_at = ? WHERE id = ?",
		g.Name, g.IsDefault, g.UpdatedAt, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}

	return tx.Commit()
}

// Delete removes a group. Its members fall back to no group (and thereby to
// the default group for mailing). The default group itself cannot go.
func (r *GroupRepository) Delete(id int64) error {
	g, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if g == nil {
		return nil
	}
	if g.IsDefault {
		return ErrDefaultGroup
	}

	_, err = r.db.Exec("DELETE FROM groups WHERE id = ?", id)
	return err
}
