package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/inbox-followup/internal/model"
)

const emailColumns = `
	id, external_id, subject, content, sender,
	is_important, importance_reason, status,
	created_at, reminder_sent_at, replied_at`

const reminderColumns = `id, email_id, message, sent_at`

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB

	mu        gosync.RWMutex
	observers map[int]Observer
	nextObsID int
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations. The parent
// directory is created when missing.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serialises writes and keeps ":memory:"
	// databases shared across queries.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		observers: make(map[int]Observer),
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// CreateEmail inserts a new pending email. Generates a UUID and sets
// CreatedAt; any status or timestamps on e are ignored.
func (s *SQLiteStore) CreateEmail(
	ctx context.Context,
	e model.Email,
) (*model.Email, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()
	e.Status = model.StatusPending
	e.ReminderSentAt = nil
	e.RepliedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ExternalID, e.Subject, e.Content, e.Sender,
		boolToInt(e.IsImportant), e.ImportanceReason, string(e.Status),
		e.CreatedAt, e.ReminderSentAt, e.RepliedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("creating email %q: %w", e.ExternalID, ErrDuplicate)
		}
		return nil, fmt.Errorf("creating email: %w", unavailable(err))
	}

	s.publish(model.ChangeEvent{Kind: model.ChangeEmailCreated, EmailID: e.ID})
	return &e, nil
}

// GetEmail retrieves a single email by ID.
func (s *SQLiteStore) GetEmail(ctx context.Context, id string) (*model.Email, error) {
	var e model.Email
	err := s.db.GetContext(ctx, &e,
		"SELECT "+emailColumns+" FROM emails WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("getting email %s: %w", id, notFoundOr(err))
	}
	return &e, nil
}

// FindByExternalID retrieves the email ingested with the given source
// message identifier.
func (s *SQLiteStore) FindByExternalID(
	ctx context.Context,
	externalID string,
) (*model.Email, error) {
	if externalID == "" {
		return nil, fmt.Errorf("finding email by empty external id: %w", ErrNotFound)
	}

	var e model.Email
	err := s.db.GetContext(ctx, &e,
		"SELECT "+emailColumns+" FROM emails WHERE external_id = ?", externalID)
	if err != nil {
		return nil, fmt.Errorf("finding email %q: %w", externalID, notFoundOr(err))
	}
	return &e, nil
}

// ListEmails retrieves all emails ordered by creation time descending.
func (s *SQLiteStore) ListEmails(ctx context.Context) ([]model.Email, error) {
	var emails []model.Email
	err := s.db.SelectContext(ctx, &emails,
		"SELECT "+emailColumns+" FROM emails ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("querying emails: %w", unavailable(err))
	}
	return emails, nil
}

// ListPending retrieves important emails that are still pending,
// oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]model.Email, error) {
	var emails []model.Email
	err := s.db.SelectContext(ctx, &emails, `
		SELECT `+emailColumns+` FROM emails
		WHERE status = ? AND is_important = 1
		ORDER BY created_at ASC, rowid ASC`,
		string(model.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("querying pending emails: %w", unavailable(err))
	}
	return emails, nil
}

// MarkReminded sets status to reminded and records reminder_sent_at.
func (s *SQLiteStore) MarkReminded(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.StatusReminded, "reminder_sent_at", model.ChangeEmailReminded)
}

// MarkReplied sets status to replied and records replied_at.
func (s *SQLiteStore) MarkReplied(ctx context.Context, id string) error {
	return s.transition(ctx, id, model.StatusReplied, "replied_at", model.ChangeEmailReplied)
}

// transition moves a pending email to the terminal status to, stamping
// column with the current time. The UPDATE only matches pending rows, so
// two racing transitions cannot both succeed.
func (s *SQLiteStore) transition(
	ctx context.Context,
	id string,
	to model.EmailStatus,
	column string,
	kind model.ChangeKind,
) error {
	query := fmt.Sprintf(
		"UPDATE emails SET status = ?, %s = ? WHERE id = ? AND status = ?", column,
	)
	result, err := s.db.ExecContext(ctx, query,
		string(to), time.Now().UTC(), id, string(model.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("marking email %s %s: %w", id, to, unavailable(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking email %s %s: %w", id, to, unavailable(err))
	}
	if rows == 1 {
		s.publish(model.ChangeEvent{Kind: kind, EmailID: id})
		return nil
	}

	current, err := s.GetEmail(ctx, id)
	if err != nil {
		return fmt.Errorf("marking email %s %s: %w", id, to, err)
	}
	if current.Status == to {
		return nil
	}
	return fmt.Errorf("marking email %s %s: already %s: %w",
		id, to, current.Status, ErrTerminalStatus)
}

// AddReminder inserts a reminder for an existing email.
func (s *SQLiteStore) AddReminder(
	ctx context.Context,
	emailID, message string,
) (*model.Reminder, error) {
	r := model.Reminder{
		ID:      uuid.New().String(),
		EmailID: emailID,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", unavailable(err))
	}
	defer tx.Rollback()

	var exists int
	err = tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM emails WHERE id = ?", emailID)
	if err != nil {
		return nil, fmt.Errorf("checking email %s: %w", emailID, unavailable(err))
	}
	if exists == 0 {
		return nil, fmt.Errorf("adding reminder for email %s: %w", emailID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO reminders ("+reminderColumns+") VALUES (?, ?, ?, ?)",
		r.ID, r.EmailID, r.Message, r.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("adding reminder for email %s: %w", emailID, unavailable(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reminder: %w", unavailable(err))
	}

	s.publish(model.ChangeEvent{
		Kind:       model.ChangeReminderAdded,
		EmailID:    emailID,
		ReminderID: r.ID,
	})
	return &r, nil
}

// Remind moves a pending email to reminded and records its reminder in
// one transaction, so a reminded email always has its reminder. An email
// that already left pending yields ErrTerminalStatus.
func (s *SQLiteStore) Remind(
	ctx context.Context,
	emailID, message string,
) (*model.Reminder, error) {
	now := time.Now().UTC()
	r := model.Reminder{
		ID:      uuid.New().String(),
		EmailID: emailID,
		Message: message,
		SentAt:  now,
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", unavailable(err))
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE emails SET status = ?, reminder_sent_at = ? WHERE id = ? AND status = ?",
		string(model.StatusReminded), now, emailID, string(model.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("reminding email %s: %w", emailID, unavailable(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("reminding email %s: %w", emailID, unavailable(err))
	}
	if rows == 0 {
		var status string
		err := tx.GetContext(ctx, &status, "SELECT status FROM emails WHERE id = ?", emailID)
		if err != nil {
			return nil, fmt.Errorf("reminding email %s: %w", emailID, notFoundOr(err))
		}
		return nil, fmt.Errorf("reminding email %s: already %s: %w",
			emailID, status, ErrTerminalStatus)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO reminders ("+reminderColumns+") VALUES (?, ?, ?, ?)",
		r.ID, r.EmailID, r.Message, r.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("adding reminder for email %s: %w", emailID, unavailable(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reminder: %w", unavailable(err))
	}

	s.publish(model.ChangeEvent{Kind: model.ChangeEmailReminded, EmailID: emailID})
	s.publish(model.ChangeEvent{
		Kind:       model.ChangeReminderAdded,
		EmailID:    emailID,
		ReminderID: r.ID,
	})
	return &r, nil
}

// ListReminders retrieves all reminders ordered by sent time descending.
func (s *SQLiteStore) ListReminders(ctx context.Context) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.SelectContext(ctx, &reminders,
		"SELECT "+reminderColumns+" FROM reminders ORDER BY sent_at DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", unavailable(err))
	}
	return reminders, nil
}

// Subscribe registers an observer for change events.
func (s *SQLiteStore) Subscribe(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// publish delivers ev to every observer. Observers run on the writer's
// goroutine after the write has committed and must not block.
func (s *SQLiteStore) publish(ev model.ChangeEvent) {
	s.mu.RLock()
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range observers {
		fn(ev)
	}
}

// notFoundOr maps sql.ErrNoRows to ErrNotFound and anything else to
// ErrStoreUnavailable.
func notFoundOr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return unavailable(err)
}

// unavailable tags a driver error as ErrStoreUnavailable, keeping the
// original error in the chain.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint error.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
