package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/foxzi/gratulo/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a mailer job.
func (r *JobRepository) Create(j *models.MailerJob) error {
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt

	res, err := r.db.Exec(`
		INSERT INTO mailer_jobs (name, template_id, subject, selection, group_id, cron, once_at, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Name, j.TemplateID, j.Subject, j.Selection, nullInt(j.GroupID), j.Cron, nullTime(j.OnceAt), j.Enabled, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	j.ID, err = res.LastInsertId()
	return err
}

// GetByID returns a job with its template and group names, or nil when
// missing.
func (r *JobRepository) GetByID(id int64) (*models.MailerJob, error) {
	j := &models.MailerJob{}
	var groupID sql.NullInt64
	var onceAt sql.NullTime
	var templateName, groupName sql.NullString

	err := r.db.QueryRow(`
		SELECT j.id, j.name, j.template_id, j.subject, j.selection, j.group_id, j.cron, j.once_at, j.enabled,
		       j.created_at, j.updated_at, t.name, g.name
		FROM mailer_jobs j
		LEFT JOIN templates t ON j.template_id = t.id
		LEFT JOIN groups g ON j.group_id = g.id
		WHERE j.id = ?`, id,
	).Scan(&j.ID, &j.Name, &j.TemplateID, &j.Subject, &j.Selection, &groupID, &j.Cron, &onceAt, &j.Enabled,
		&j.CreatedAt, &j.UpdatedAt, &templateName, &groupName)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	applyJobNulls(j, groupID, onceAt, templateName, groupName)
	return j, nil
}

// List returns all jobs ordered by name.
func (r *JobRepository) List() ([]models.MailerJob, error) {
	return r.list("")
}

// ListEnabled returns the jobs the scheduler should register.
func (r *JobRepository) ListEnabled() ([]models.MailerJob, error) {
	return r.list("WHERE j.enabled = 1")
}

func (r *JobRepository) list(where string) ([]models.MailerJob, error) {
	rows, err := r.db.Query(`
		SELECT j.id, j.name, j.template_id, j.subject, j.selection, j.group_id, j.cron, j.once_at, j.enabled,
		       j.created_at, j.updated_at, t.name, g.name
		FROM mailer_jobs j
		LEFT JOIN templates t ON j.template_id = t.id
		LEFT JOIN groups g ON j.group_id = g.id
		` + where + " ORDER BY j.name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []models.MailerJob{}
	for rows.Next() {
		var j models.MailerJob
		var groupID sql.NullInt64
		var onceAt sql.NullTime
		var templateName, groupName sql.NullString

		err := rows.Scan(&j.ID, &j.Name, &j.TemplateID, &j.Subject, &j.Selection, &groupID, &j.Cron, &onceAt, &j.Enabled,
			&j.CreatedAt, &j.UpdatedAt, &templateName, &groupName)
		if err != nil {
			return nil, err
		}

		applyJobNulls(&j, groupID, onceAt, templateName, groupName)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Update saves job fields.
func (r *JobRepository) Update(j *models.MailerJob) error {
	j.UpdatedAt = time.Now()
	_, err := r.db.Exec(`
		UPDATE mailer_jobs
		SET name = ?, template_id = ?, subject = ?, selection = ?, group_id = ?, cron = ?, once_at = ?, enabled = ?, updated_at = ?
		WHERE id = ?`,
		j.Name, j.TemplateID, j.Subject, j.Selection, nullInt(j.GroupID), j.Cron, nullTime(j.OnceAt), j.Enabled, j.UpdatedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// SetEnabled toggles a job without touching its other fields.
func (r *JobRepository) SetEnabled(id int64, enabled bool) error {
	_, err := r.db.Exec(
		"UPDATE mailer_jobs SET enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now(), id,
	)
	return err
}

// Delete removes a job. Its logs stay, carrying the denormalized job name.
func (r *JobRepository) Delete(id int64) error {
	_, err := r.db.Exec("DELETE FROM mailer_jobs WHERE id = ?", id)
	return err
}

// GroupIDsWithSelection returns the group ids that have their own enabled
// job for this selection. Members of such groups are excluded from
// default-audience runs.
func (r *JobRepository) GroupIDsWithSelection(selection string) ([]int64, error) {
	rows, err := r.db.Query(
		"SELECT DISTINCT group_id FROM mailer_jobs WHERE selection = ? AND enabled = 1 AND group_id IS NOT NULL",
		selection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateLog records one job run.
func (r *JobRepository) CreateLog(l *models.JobLog) error {
	l.CreatedAt = time.Now()

	res, err := r.db.Exec(`
		INSERT INTO job_logs (job_id, job_name, status, mails_queued, duplicates, errors, details, duration_ms, logical_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.JobID, l.JobName, l.Status, l.MailsQueued, l.Duplicates, l.Errors, l.Details, l.DurationMS, l.LogicalDate, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job log: %w", err)
	}

	l.ID, err = res.LastInsertId()
	return err
}

// ListLogs returns run logs, newest first, plus the total count. A jobID of
// zero means all jobs.
func (r *JobRepository) ListLogs(jobID int64, limit, offset int) ([]models.JobLog, int, error) {
	where := "1 = 1"
	args := []any{}
	if jobID > 0 {
		where = "job_id = ?"
		args = append(args, jobID)
	}

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM job_logs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, job_id, job_name, status, mails_queued, duplicates, errors, details, duration_ms, logical_date, created_at
		FROM job_logs WHERE ` + where + " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		query += " LIMIT -1" // sqlite needs LIMIT before OFFSET
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := []models.JobLog{}
	for rows.Next() {
		var l models.JobLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.JobName, &l.Status, &l.MailsQueued, &l.Duplicates, &l.Errors,
			&l.Details, &l.DurationMS, &l.LogicalDate, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// DeleteLogsBefore removes run logs older than the cutoff and reports how
// many went.
func (r *JobRepository) DeleteLogsBefore(cutoff time.Time) (int64, error) {
	res, err := r.db.Exec("DELETE FROM job_logs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountLogsBefore reports how many run logs DeleteLogsBefore would
// remove.
func (r *JobRepository) CountLogsBefore(cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRow("SELECT COUNT(*) FROM job_logs WHERE created_at < ?", cutoff).Scan(&n)
	return n, err
}

func applyJobNulls(j *models.MailerJob, groupID sql.NullInt64, onceAt sql.NullTime, templateName, groupName sql.NullString) {
	if groupID.Valid {
		j.GroupID = &groupID.Int64
	}
	if onceAt.Valid {
		j.OnceAt = &onceAt.Time
	}
	if templateName.Valid {
		j.TemplateName = templateName.String
	}
	if groupName.Valid {
		j.GroupName = groupName.String
	}
}
