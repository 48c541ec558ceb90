package models

import (
	"strings"
	"time"
)

// Gender values stored on members.
const (
	GenderMale    = "m"
	GenderFemale  = "w"
	GenderDiverse = "d"
)

// ValidGender reports whether g is one of the stored gender values.
func ValidGender(g string) bool {
	return g == GenderMale || g == GenderFemale || g == GenderDiverse
}

// Member is one mail recipient. Date1 and Date2 are the two configurable
// date fields; their meaning (birthday, joining date, service start) comes
// from the field configuration.
type Member struct {
	ID        int64      `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     string     `json:"email"`
	Gender    string     `json:"gender"`
	Date1     time.Time  `json:"date1"`
	Date2     *time.Time `json:"date2,omitempty"`
	GroupID   *int64     `json:"group_id,omitempty"`
	IsDeleted bool       `json:"-"`
	DeletedAt *time.Time `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// GroupName is joined in by list queries.
	GroupName string `json:"group_name,omitempty"`
}

// FullName returns first and last name joined for display.
func (m *Member) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// MemberListFilter narrows member list queries.
type MemberListFilter struct {
	Search  string
	GroupID int64 // 0 = all groups
	Limit   int
	Offset  int
}
