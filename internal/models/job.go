package models

import "time"

// Selection values decide which members a job mails.
const (
	SelectionDate1 = "date1" // members whose date1 is due on the logical date
	SelectionDate2 = "date2" // members whose date2 is due on the logical date
	SelectionAll   = "all"   // every member of the target group
)

// ValidSelection reports whether s is a known selection.
func ValidSelection(s string) bool {
	return s == SelectionDate1 || s == SelectionDate2 || s == SelectionAll
}

// MailerJob schedules mail for a selection of members, either on a cron
// spec or once at a fixed time. A nil GroupID targets the default group.
type MailerJob struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	TemplateID int64      `json:"template_id"`
	Subject    string     `json:"subject,omitempty"` // overrides the template subject
	Selection  string     `json:"selection"`
	GroupID    *int64     `json:"group_id,omitempty"`
	Cron       string     `json:"cron,omitempty"`
	OnceAt     *time.Time `json:"once_at,omitempty"`
	Enabled    bool       `json:"enabled"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	// Joined in by list queries.
	TemplateName string `json:"template_name,omitempty"`
	GroupName    string `json:"group_name,omitempty"`
}

// Job log statuses.
const (
	JobStatusOK           = "ok"
	JobStatusPartialError = "partial_error"
	JobStatusError        = "error"
	JobStatusJobNotFound  = "job_not_found"
	JobStatusNoTemplate   = "no_template"
	JobStatusNoSMTPConfig = "no_smtp_config"
	JobStatusNoRecipients = "no_recipients"
)

// JobLog records one job execution. JobName is denormalized so logs
// outlive job deletion.
type JobLog struct {
	ID          int64     `json:"id"`
	JobID       int64     `json:"job_id"`
	JobName     string    `json:"job_name"`
	Status      string    `json:"status"`
	MailsQueued int       `json:"mails_queued"`
	Duplicates  int       `json:"duplicates"`
	Errors      int       `json:"errors"`
	Details     string    `json:"details,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	LogicalDate time.Time `json:"logical_date"`
	CreatedAt   time.Time `json:"created_at"`
}
