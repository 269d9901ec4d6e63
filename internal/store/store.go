package store

import (
	"context"
	"errors"

	"github.com/nhle/inbox-followup/internal/model"
)

// Sentinel errors returned by Store implementations. Callers test them
// with errors.Is; the returned errors carry additional context.
var (
	// ErrNotFound means the referenced email or reminder does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable wraps failures of the underlying database.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTerminalStatus means a transition was requested out of a
	// terminal status (e.g., replying to an email already reminded).
	ErrTerminalStatus = errors.New("email status is terminal")

	// ErrDuplicate means an email with the same external ID exists.
	ErrDuplicate = errors.New("duplicate email")
)

// Observer receives change events after writes commit.
type Observer func(model.ChangeEvent)

// Store is the lifecycle store for emails and their reminders.
type Store interface {
	// === Emails ===

	// CreateEmail persists e, assigning ID and CreatedAt and forcing
	// the initial pending status. The stored email is returned.
	CreateEmail(ctx context.Context, e model.Email) (*model.Email, error)
	GetEmail(ctx context.Context, id string) (*model.Email, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.Email, error)

	// ListEmails returns all emails, newest first.
	ListEmails(ctx context.Context) ([]model.Email, error)

	// ListPending returns important emails still awaiting a reply,
	// oldest first.
	ListPending(ctx context.Context) ([]model.Email, error)

	// MarkReminded moves a pending email to reminded. Marking an email
	// that is already reminded is a no-op.
	MarkReminded(ctx context.Context, id string) error

	// MarkReplied moves a pending email to replied. Marking an email
	// that is already replied is a no-op and keeps the first RepliedAt.
	MarkReplied(ctx context.Context, id string) error

	// === Reminders ===

	AddReminder(ctx context.Context, emailID, message string) (*model.Reminder, error)

	// Remind atomically moves a pending email to reminded and adds its
	// reminder. It returns ErrTerminalStatus when the email already
	// left pending.
	Remind(ctx context.Context, emailID, message string) (*model.Reminder, error)

	// ListReminders returns all reminders, newest first.
	ListReminders(ctx context.Context) ([]model.Reminder, error)

	// === Change feed ===

	// Subscribe registers fn for change events and returns a function
	// that removes the registration.
	Subscribe(fn Observer) (unsubscribe func())
}
