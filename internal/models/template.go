package models

import "time"

// Template is a mail template: raw HTML with {{Placeholder}} tokens and a
// default subject that jobs may override.
type Template struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	ContentHTML string    `json:"content_html"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
