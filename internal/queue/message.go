package queue

import (
	"fmt"
	"strings"
	"time"
)

// MessageStatus represents the delivery state of a queued message.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message is one outbound mail waiting for dispatch.
type Message struct {
	ID        string        `json:"id"`
	MemberID  int64         `json:"member_id,omitempty"`
	JobID     int64         `json:"job_id,omitempty"`
	Field     string        `json:"field,omitempty"`
	To        string        `json:"to"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	Status    MessageStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// DedupKey identifies the (member, field, calendar day) slot this message
// occupies. A second enqueue for the same slot on the same day is
// suppressed. Messages without a member or field are never deduplicated.
func (m *Message) DedupKey() string {
	if m.MemberID == 0 || m.Field == "" {
		return ""
	}
	return fmt.Sprintf("%d:%s:%s", m.MemberID, m.Field, m.CreatedAt.Format("2006-01-02"))
}

// LogEntry is one line of the send log. Recipients are stored anonymized.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"` // sent | requeued | error
	Error     string    `json:"error,omitempty"`
}

// Stats represents queue statistics.
type Stats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// ListFilter represents filter options for listing messages.
type ListFilter struct {
	Status MessageStatus
	Limit  int
}

// AnonymizeRecipient truncates the local part of an address to two
// characters: "max.muster@example.org" becomes "ma***@example.org".
func AnonymizeRecipient(addr string) string {
	at := strings.LastIndex(addr, "@")
	if at <= 2 {
		return addr
	}
	return addr[:2] + "***" + addr[at:]
}
