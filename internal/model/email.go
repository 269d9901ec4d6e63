package model

import "time"

// EmailStatus is the follow-up state of an email.
type EmailStatus string

// Email status constants. Replied and reminded are terminal.
const (
	StatusPending  EmailStatus = "pending"
	StatusReplied  EmailStatus = "replied"
	StatusReminded EmailStatus = "reminded"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s EmailStatus) IsTerminal() bool {
	return s == StatusReplied || s == StatusReminded
}

// Valid reports whether s is one of the known statuses.
func (s EmailStatus) Valid() bool {
	switch s {
	case StatusPending, StatusReplied, StatusReminded:
		return true
	}
	return false
}

// Email is a message received into the shared inbox.
type Email struct {
	// ID is assigned by the store at creation and never changes.
	ID string `json:"id" db:"id"`

	// ExternalID is the source message identifier (e.g., an IMAP
	// Message-ID). Empty for mail composed locally.
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	Subject string `json:"subject" db:"subject"`
	Content string `json:"content" db:"content"`
	Sender  string `json:"sender" db:"sender"`

	// IsImportant is the scorer verdict, fixed at creation.
	IsImportant bool `json:"is_important" db:"is_important"`

	// ImportanceReason is the scorer justification, fixed at creation.
	ImportanceReason *string `json:"importance_reason,omitempty" db:"importance_reason"`

	Status    EmailStatus `json:"status" db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`

	// ReminderSentAt is set exactly once, when Status becomes reminded.
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty" db:"reminder_sent_at"`

	// RepliedAt is set exactly once, when Status becomes replied.
	RepliedAt *time.Time `json:"replied_at,omitempty" db:"replied_at"`
}

// Reason returns the importance reason or an empty string.
func (e Email) Reason() string {
	if e.ImportanceReason == nil {
		return ""
	}
	return *e.ImportanceReason
}

// Consistent reports whether the timestamp fields agree with Status:
// ReminderSentAt is set iff reminded, RepliedAt is set iff replied.
func (e Email) Consistent() bool {
	switch e.Status {
	case StatusPending:
		return e.ReminderSentAt == nil && e.RepliedAt == nil
	case StatusReplied:
		return e.ReminderSentAt == nil && e.RepliedAt != nil
	case StatusReminded:
		return e.ReminderSentAt != nil && e.RepliedAt == nil
	default:
		return false
	}
}

// Reminder is a follow-up notice generated when an important email
// reaches its deadline without a reply.
type Reminder struct {
	ID      string    `json:"id" db:"id"`
	EmailID string    `json:"email_id" db:"email_id"`
	Message string    `json:"message" db:"message"`
	SentAt  time.Time `json:"sent_at" db:"sent_at"`
}

// Verdict is the output of the importance scorer.
type Verdict struct {
	IsImportant bool
	Reason      string

	// Score is the raw rule score. Not persisted.
	Score int
}
