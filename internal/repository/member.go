package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/foxzi/gratulo/internal/models"
)

// ErrEmailExists is returned when another active member already uses the
// email address.
var ErrEmailExists = errors.New("a member with this email already exists")

type MemberRepository struct {
	db *sql.DB
}

func NewMemberRepository(db *sql.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Create inserts a member. Members without a group join the default group.
func (r *MemberRepository) Create(m *models.Member) error {
	taken, err := r.emailTaken(m.Email, 0)
	if err != nil {
		return err
	}
	if taken {
		return ErrEmailExists
	}

	if m.GroupID == nil {
		groupID, err := r.defaultGroupID()
		if err != nil {
			return err
		}
		m.GroupID = groupID
	}
	if m.Gender == "" {
		m.Gender = models.GenderDiverse
	}

	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt

	res, err := r.db.Exec(`
		INSERT INTO members (first_name, last_name, email, gender, date1, date2, group_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.FirstName, m.LastName, m.Email, m.Gender, m.Date1, nullTime(m.Date2), nullInt(m.GroupID), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}

	m.ID, err = res.LastInsertId()
	return err
}

// GetByID returns an active member, or nil when missing or soft-deleted.
func (r *MemberRepository) GetByID(id int64) (*models.Member, error) {
	return r.getOne("m.id = ?", id)
}

// GetByEmail returns the active member with this email, or nil.
func (r *MemberRepository) GetByEmail(email string) (*models.Member, error) {
	return r.getOne("m.email = ?", email)
}

func (r *MemberRepository) getOne(where string, arg any) (*models.Member, error) {
	m := &models.Member{}
	var date2, deletedAt sql.NullTime
	var groupID sql.NullInt64
	var groupName sql.NullString

	err := r.db.QueryRow(`
		SELECT m.id, m.first_name, m.last_name, m.email, m.gender, m.date1, m.date2,
		       m.group_id, m.deleted_at, m.created_at, m.updated_at, g.name
		FROM members m LEFT JOIN groups g ON m.group_id = g.id
		WHERE m.is_deleted = 0 AND `+where, arg,
	).Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Gender, &m.Date1, &date2,
		&groupID, &deletedAt, &m.CreatedAt, &m.UpdatedAt, &groupName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	applyMemberNulls(m, date2, deletedAt, groupID, groupName)
	return m, nil
}

// List returns active members matching the filter plus the total count.
func (r *MemberRepository) List(filter models.MemberListFilter) ([]models.Member, int, error) {
	where := "m.is_deleted = 0"
	args := []any{}

	if filter.Search != "" {
		where += " AND (m.first_name LIKE ? OR m.last_name LIKE ? OR m.email LIKE ?)"
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}
	if filter.GroupID > 0 {
		where += " AND m.group_id = ?"
		args = append(args, filter.GroupID)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM members m WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT m.id, m.first_name, m.last_name, m.email, m.gender, m.date1, m.date2,
		       m.group_id, m.deleted_at, m.created_at, m.updated_at, g.name
		FROM members m LEFT JOIN groups g ON m.group_id = g.id
		WHERE ` + where + " ORDER BY m.last_name, m.first_name"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1" // sqlite needs LIMIT before OFFSET
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	members, err := collectMembers(rows)
	if err != nil {
		return nil, 0, err
	}
	return members, total, nil
}

// ListByGroup returns the active members of one group, for recipient
// resolution.
func (r *MemberRepository) ListByGroup(groupID int64) ([]models.Member, error) {
	rows, err := r.db.Query(`
		SELECT m.id, m.first_name, m.last_name, m.email, m.gender, m.date1, m.date2,
		       m.group_id, m.deleted_at, m.created_at, m.updated_at, g.name
		FROM members m LEFT JOIN groups g ON m.group_id = g.id
		WHERE m.is_deleted = 0 AND m.group_id = ?
		ORDER BY m.last_name, m.first_name`, groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMembers(rows)
}

// ListActive returns every active member, for the upcoming-dates scan and
// CSV export.
func (r *MemberRepository) ListActive() ([]models.Member, error) {
	rows, err := r.db.Query(`
		SELECT m.id, m.first_name, m.last_name, m.email, m.gender, m.date1, m.date2,
		       m.group_id, m.deleted_at, m.created_at, m.updated_at, g.name
		FROM members m LEFT JOIN groups g ON m.group_id = g.id
		WHERE m.is_deleted = 0
		ORDER BY m.last_name, m.first_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectMembers(rows)
}

// Update saves member fields.
func (r *MemberRepository) Update(m *models.Member) error {
	taken, err := r.emailTaken(m.Email, m.ID)
	if err != nil {
		return err
	}
	if taken {
		return ErrEmailExists
	}

	if m.Gender == "" {
		m.Gender = models.GenderDiverse
	}
	m.UpdatedAt = time.Now()
	_, err = r.db.Exec(`
		UPDATE members
		SET first_name = ?, last_name = ?, email = ?, gender = ?, date1 = ?, date2 = ?, group_id = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0`,
		m.FirstName, m.LastName, m.Email, m.Gender, m.Date1, nullTime(m.Date2), nullInt(m.GroupID), m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update member: %w", err)
	}
	return nil
}

// SoftDelete marks a member deleted. The row stays for audit; the email
// becomes free for reuse.
func (r *MemberRepository) SoftDelete(id int64) error {
	_, err := r.db.Exec(
		"UPDATE members SET is_deleted = 1, deleted_at = ?, updated_at = ? WHERE id = ?",
		time.Now(), time.Now(), id,
	)
	return err
}

// Count returns the number of active members.
func (r *MemberRepository) Count() (int, error) {
	var n int
	err := r.db.QueryRow("SELECT COUNT(*) FROM members WHERE is_deleted = 0").Scan(&n)
	return n, err
}

func (r *MemberRepository) emailTaken(email string, excludeID int64) (bool, error) {
	var id int64
	err := r.db.QueryRow(
		"SELECT id FROM members WHERE email = ? AND is_deleted = 0 AND id != ?",
		email, excludeID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *MemberRepository) defaultGroupID() (*int64, error) {
	var id int64
	err := r.db.QueryRow("SELECT id FROM groups WHERE is_default = 1").Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func collectMembers(rows *sql.Rows) ([]models.Member, error) {
	members := []models.Member{}
	for rows.Next() {
		var m models.Member
		var date2, deletedAt sql.NullTime
		var groupID sql.NullInt64
		var groupName sql.NullString

		err := rows.Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Gender, &m.Date1, &date2,
			&groupID, &deletedAt, &m.CreatedAt, &m.UpdatedAt, &groupName)
		if err != nil {
			return nil, err
		}

		applyMemberNulls(&m, date2, deletedAt, groupID, groupName)
		members = append(members, m)
	}
	return members, rows.Err()
}

func applyMemberNulls(m *models.Member, date2, deletedAt sql.NullTime, groupID sql.NullInt64, groupName sql.NullString) {
	if date2.Valid {
		m.Date2 = &date2.Time
	}
	if deletedAt.Valid {
		m.DeletedAt = &deletedAt.Time
		m.IsDeleted = true
	}
	if groupID.Valid {
		m.GroupID = &groupID.Int64
	}
	if groupName.Valid {
		m.GroupName = groupName.String
	}
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}
