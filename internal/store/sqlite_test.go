package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/store"
	"github.com/nhle/inbox-followup/tests/testutil"
)

func strPtr(s string) *string { return &s }

func createEmail(t *testing.T, s store.Store, subject string, important bool) *model.Email {
	t.Helper()

	e, err := s.CreateEmail(context.Background(), model.Email{
		Subject:          subject,
		Content:          "body of " + subject,
		Sender:           "sender@example.com",
		IsImportant:      important,
		ImportanceReason: strPtr("reason for " + subject),
	})
	require.NoError(t, err)
	return e
}

func TestCreateEmail_AssignsIdentityAndPendingStatus(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	sent := time.Now().Add(-time.Hour)
	created, err := s.CreateEmail(ctx, model.Email{
		Subject:        "Quarterly contract",
		Content:        "Please review",
		Sender:         "legal@example.com",
		IsImportant:    true,
		Status:         model.StatusReplied,
		RepliedAt:      &sent,
		ReminderSentAt: &sent,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Nil(t, created.RepliedAt)
	assert.Nil(t, created.ReminderSentAt)

	got, err := s.GetEmail(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly contract", got.Subject)
	assert.Equal(t, "Please review", got.Content)
	assert.Equal(t, "legal@example.com", got.Sender)
	assert.True(t, got.IsImportant)
	assert.Nil(t, got.ImportanceReason)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.True(t, got.CreatedAt.Equal(created.CreatedAt))
	assert.True(t, got.Consistent())
}

func TestCreateEmail_DuplicateExternalID(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	_, err := s.CreateEmail(ctx, model.Email{Subject: "a", Sender: "x", ExternalID: "<m1@example.com>"})
	require.NoError(t, err)

	_, err = s.CreateEmail(ctx, model.Email{Subject: "b", Sender: "y", ExternalID: "<m1@example.com>"})
	assert.ErrorIs(t, err, store.ErrDuplicate)

	// Composed mail has no external ID and is never a duplicate.
	_, err = s.CreateEmail(ctx, model.Email{Subject: "c", Sender: "z"})
	require.NoError(t, err)
	_, err = s.CreateEmail(ctx, model.Email{Subject: "d", Sender: "z"})
	require.NoError(t, err)

	found, err := s.FindByExternalID(ctx, "<m1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, "a", found.Subject)

	_, err = s.FindByExternalID(ctx, "<missing@example.com>")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetEmail_NotFound(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.GetEmail(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, errors.Is(err, store.ErrStoreUnavailable))
}

func TestListEmails_NewestFirst(t *testing.T) {
	s := testutil.NewTestStore(t)

	first := createEmail(t, s, "first", false)
	second := createEmail(t, s, "second", true)
	third := createEmail(t, s, "third", false)

	emails, err := s.ListEmails(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 3)
	assert.Equal(t, third.ID, emails[0].ID)
	assert.Equal(t, second.ID, emails[1].ID)
	assert.Equal(t, first.ID, emails[2].ID)
}

func TestListPending_OnlyImportantPending(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	createEmail(t, s, "newsletter", false)
	a := createEmail(t, s, "invoice", true)
	b := createEmail(t, s, "contract", true)
	c := createEmail(t, s, "payment", true)
	require.NoError(t, s.MarkReplied(ctx, b.ID))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, c.ID, pending[1].ID)
}

func TestMarkReplied(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	e := createEmail(t, s, "proposal", true)

	require.NoError(t, s.MarkReplied(ctx, e.ID))

	got, err := s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, got.Status)
	require.NotNil(t, got.RepliedAt)
	assert.Nil(t, got.ReminderSentAt)
	assert.True(t, got.Consistent())
}

func TestMarkReplied_TwiceKeepsFirstTimestamp(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	e := createEmail(t, s, "proposal", true)

	require.NoError(t, s.MarkReplied(ctx, e.ID))
	first, err := s.GetEmail(ctx, e.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.MarkReplied(ctx, e.ID))

	second, err := s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, second.Status)
	require.NotNil(t, second.RepliedAt)
	assert.True(t, first.RepliedAt.Equal(*second.RepliedAt))
}

func TestMarkReminded(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()
	e := createEmail(t, s, "invoice", true)

	require.NoError(t, s.MarkReminded(ctx, e.ID))
	require.NoError(t, s.MarkReminded(ctx, e.ID))

	got, err := s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReminded, got.Status)
	require.NotNil(t, got.ReminderSentAt)
	assert.Nil(t, got.RepliedAt)
	assert.True(t, got.Consistent())
}

func TestTerminalStatusesDoNotTransition(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	replied := createEmail(t, s, "replied", true)
	require.NoError(t, s.MarkReplied(ctx, replied.ID))
	err := s.MarkReminded(ctx, replied.ID)
	assert.ErrorIs(t, err, store.ErrTerminalStatus)

	reminded := createEmail(t, s, "reminded", true)
	require.NoError(t, s.MarkReminded(ctx, reminded.ID))
	err = s.MarkReplied(ctx, reminded.ID)
	assert.ErrorIs(t, err, store.ErrTerminalStatus)

	got, err := s.GetEmail(ctx, replied.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, got.Status)
	assert.True(t, got.Consistent())

	got, err = s.GetEmail(ctx, reminded.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReminded, got.Status)
	assert.True(t, got.Consistent())
}

func TestMarkUnknownEmail(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.MarkReplied(ctx, "nope"), store.ErrNotFound)
	assert.ErrorIs(t, s.MarkReminded(ctx, "nope"), store.ErrNotFound)
}

func TestAddReminder(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	a := createEmail(t, s, "a", true)
	b := createEmail(t, s, "b", true)

	r1, err := s.AddReminder(ctx, a.ID, "follow up on a")
	require.NoError(t, err)
	r2, err := s.AddReminder(ctx, b.ID, "follow up on b")
	require.NoError(t, err)

	assert.NotEmpty(t, r1.ID)
	assert.Equal(t, a.ID, r1.EmailID)
	assert.False(t, r1.SentAt.IsZero())

	reminders, err := s.ListReminders(ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	assert.Equal(t, r2.ID, reminders[0].ID)
	assert.Equal(t, r1.ID, reminders[1].ID)
	assert.Equal(t, "follow up on a", reminders[1].Message)
}

func TestAddReminder_UnknownEmail(t *testing.T) {
	s := testutil.NewTestStore(t)

	_, err := s.AddReminder(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)

	reminders, err := s.ListReminders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, reminders)
}

func TestSubscribe_ReceivesCommittedChanges(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	var events []model.ChangeEvent
	unsubscribe := s.Subscribe(func(ev model.ChangeEvent) {
		events = append(events, ev)
	})

	e := createEmail(t, s, "invoice", true)
	require.NoError(t, s.MarkReminded(ctx, e.ID))
	r, err := s.AddReminder(ctx, e.ID, "ping")
	require.NoError(t, err)

	// No-op and failed transitions publish nothing.
	require.NoError(t, s.MarkReminded(ctx, e.ID))
	require.Error(t, s.MarkReplied(ctx, e.ID))

	require.Len(t, events, 3)
	assert.Equal(t, model.ChangeEvent{Kind: model.ChangeEmailCreated, EmailID: e.ID}, events[0])
	assert.Equal(t, model.ChangeEvent{Kind: model.ChangeEmailReminded, EmailID: e.ID}, events[1])
	assert.Equal(t, model.ChangeEvent{
		Kind:       model.ChangeReminderAdded,
		EmailID:    e.ID,
		ReminderID: r.ID,
	}, events[2])

	unsubscribe()
	createEmail(t, s, "after", false)
	assert.Len(t, events, 3)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ListEmails(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	_, err = s.GetEmail(context.Background(), "x")
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestNewSQLiteStore_CreatesMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".local", "share", "inbox-followup", "inbox.db")

	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	createEmail(t, s, "first run", false)
	assert.FileExists(t, path)
}

func TestRemind(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	var events []model.ChangeEvent
	s.Subscribe(func(ev model.ChangeEvent) { events = append(events, ev) })

	e := createEmail(t, s, "invoice", true)
	r, err := s.Remind(ctx, e.ID, "follow up")
	require.NoError(t, err)
	assert.Equal(t, e.ID, r.EmailID)
	assert.Equal(t, "follow up", r.Message)

	got, err := s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReminded, got.Status)
	require.NotNil(t, got.ReminderSentAt)
	assert.True(t, got.Consistent())

	// A second attempt adds nothing.
	_, err = s.Remind(ctx, e.ID, "again")
	assert.ErrorIs(t, err, store.ErrTerminalStatus)

	reminders, err := s.ListReminders(ctx)
	require.NoError(t, err)
	assert.Len(t, reminders, 1)

	require.Len(t, events, 3)
	assert.Equal(t, model.ChangeEmailReminded, events[1].Kind)
	assert.Equal(t, model.ChangeReminderAdded, events[2].Kind)
	assert.Equal(t, r.ID, events[2].ReminderID)
}

func TestRemind_RepliedAndUnknownEmails(t *testing.T) {
	s := testutil.NewTestStore(t)
	ctx := context.Background()

	e := createEmail(t, s, "answered", true)
	require.NoError(t, s.MarkReplied(ctx, e.ID))

	_, err := s.Remind(ctx, e.ID, "late")
	assert.ErrorIs(t, err, store.ErrTerminalStatus)

	_, err = s.Remind(ctx, "missing", "late")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemind_FailedInsertKeepsEmailPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.db")
	s, err := store.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	e := createEmail(t, s, "invoice", true)

	// Make every reminder insert fail from a second connection.
	raw, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TRIGGER reject_reminders BEFORE INSERT ON reminders
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = s.Remind(ctx, e.ID, "follow up")
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)

	got, err := s.GetEmail(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.ReminderSentAt)

	reminders, err := s.ListReminders(ctx)
	require.NoError(t, err)
	assert.Empty(t, reminders)
}
