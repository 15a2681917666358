package models

import (
	"time"
)

// Status is the lifecycle state of a report
type Status string

const (
	// StatusDrafted is transient: a report is drafted in memory and stored as awaiting_approval.
	StatusDrafted          Status = "drafted"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusSending          Status = "sending"
	StatusSent             Status = "sent"
	StatusSendError        Status = "send_error"
	StatusCancelled        Status = "cancelled"
	StatusFollowUpSent     Status = "followup_sent"
	StatusReplyReceived    Status = "reply_received"
)

// AllStatuses lists every status a report may take, in lifecycle order
var AllStatuses = []Status{
	StatusDrafted,
	StatusAwaitingApproval,
	StatusSending,
	StatusSent,
	StatusSendError,
	StatusCancelled,
	StatusFollowUpSent,
	StatusReplyReceived,
}

// transitions holds the legal status transitions
var transitions = map[Status][]Status{
	StatusDrafted:          {StatusAwaitingApproval},
	StatusAwaitingApproval: {StatusSending, StatusCancelled},
	StatusSending:          {StatusSent, StatusSendError},
	StatusSent:             {StatusFollowUpSent, StatusReplyReceived},
	StatusFollowUpSent:     {StatusFollowUpSent, StatusReplyReceived},
}

// FollowUpEligible are the statuses the follow-up sweep queries
var FollowUpEligible = []Status{StatusSent, StatusFollowUpSent}

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no automated processing happens after s
func (s Status) Terminal() bool {
	switch s {
	case StatusReplyReceived, StatusCancelled, StatusSendError:
		return true
	}
	return false
}

// CanTransition reports whether a report may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PredecessorsOf returns every status that may transition into to
func PredecessorsOf(to Status) []Status {
	var from []Status
	for _, s := range AllStatuses {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// Report represents one complaint workflow instance
type Report struct {
	ID                int64             `json:"id"`
	ChatID            int64             `json:"chat_id"`
	Status            Status            `json:"status"`
	SubjectName       string            `json:"subject_name"`
	ContactInfo       string            `json:"contact_info"`
	RecipientEmail    string            `json:"recipient_email"`
	DraftBody         string            `json:"draft_body"`
	ExtraDetails      map[string]string `json:"extra_details,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	LastUpdatedAt     time.Time         `json:"last_updated_at"`
	FollowUpCount     int               `json:"follow_up_count"`
	OutboundMessageID string            `json:"outbound_message_id,omitempty"`
}

// ReportUpdate is a partial update applied to a single report.
// Nil fields are left untouched.
type ReportUpdate struct {
	Status *Status
	// ExpectStatus restricts the update to reports currently in one of these statuses.
	ExpectStatus []Status
	// OutboundMessageID is only written when the stored value is still empty.
	OutboundMessageID *string
	IncrementFollowUp bool
	// Touch refreshes last_updated_at without a status change.
	Touch bool
}

// StatusPtr is a helper for building ReportUpdate values
func StatusPtr(s Status) *Status {
	return &s
}

// ReportEvent is published whenever a report changes status
type ReportEvent struct {
	ReportID   int64     `json:"report_id"`
	ChatID     int64     `json:"chat_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	Timestamp  time.Time `json:"timestamp"`
}
