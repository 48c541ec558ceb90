package models

import "time"

// Group partitions members for job targeting. Exactly one group is the
// default; jobs without a group mail the default group.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// MemberCount is joined in by list queries.
	MemberCount int `json:"member_count,omitempty"`
}
