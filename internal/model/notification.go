package model

// ChangeKind identifies what kind of mutation a ChangeEvent describes.
type ChangeKind string

const (
	ChangeEmailCreated  ChangeKind = "email_created"
	ChangeEmailReplied  ChangeKind = "email_replied"
	ChangeEmailReminded ChangeKind = "email_reminded"
	ChangeReminderAdded ChangeKind = "reminder_added"
)

// ChangeEvent is published by the store after a successful write so that
// observers (the UI, metrics) can refresh without polling.
type ChangeEvent struct {
	Kind ChangeKind

	// EmailID is the affected email. Always set.
	EmailID string

	// ReminderID is set for ChangeReminderAdded.
	ReminderID string
}
