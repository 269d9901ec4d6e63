package inbox

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/scorer"
	"github.com/nhle/inbox-followup/internal/store"
	"github.com/nhle/inbox-followup/internal/tracker"
	"github.com/nhle/inbox-followup/tests/testutil"
)

type scheduled struct {
	emailID string
	delay   time.Duration
}

// recordingTracker records deadlines instead of arming them and marks
// replies directly in the store.
type recordingTracker struct {
	store store.Store

	mu        gosync.Mutex
	scheduled []scheduled
	replied   []string
}

func (r *recordingTracker) ScheduleDeadline(emailID string, delay time.Duration) *tracker.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scheduled = append(r.scheduled, scheduled{emailID: emailID, delay: delay})
	return &tracker.Handle{EmailID: emailID}
}

func (r *recordingTracker) OnReply(ctx context.Context, emailID string) error {
	r.mu.Lock()
	r.replied = append(r.replied, emailID)
	r.mu.Unlock()
	return r.store.MarkReplied(ctx, emailID)
}

type failingScorer struct{ err error }

func (f failingScorer) Evaluate(context.Context, string, string) (model.Verdict, error) {
	return model.Verdict{}, f.err
}

func demoPolicy(delaySec int) model.FollowUpConfig {
	return model.FollowUpConfig{DelaySec: delaySec, DemoMode: true}
}

func newTestService(t *testing.T) (*Service, *recordingTracker, store.Store) {
	t.Helper()
	s := testutil.NewTestStore(t)
	tr := &recordingTracker{store: s}
	return NewService(s, scorer.New(), tr, demoPolicy(10), nil), tr, s
}

func TestReceive_ImportantEmailArmsDeadline(t *testing.T) {
	svc, tr, s := newTestService(t)
	ctx := context.Background()

	email, err := svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)

	assert.True(t, email.IsImportant)
	assert.Equal(t, model.StatusPending, email.Status)
	require.NotNil(t, email.ImportanceReason)
	assert.Contains(t, email.Reason(), "Contains urgent keywords")

	require.Len(t, tr.scheduled, 1)
	assert.Equal(t, scheduled{emailID: email.ID, delay: 10 * time.Second}, tr.scheduled[0])

	stored, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, email.Reason(), stored.Reason())
}

func TestReceive_NormalEmailKeepsCannedReason(t *testing.T) {
	svc, tr, _ := newTestService(t)

	email, err := svc.Receive(context.Background(), SampleNormal())
	require.NoError(t, err)

	assert.False(t, email.IsImportant)
	assert.Equal(t, scorer.LowPriorityReason, email.Reason())
	assert.Empty(t, tr.scheduled)
}

func TestReceive_Validation(t *testing.T) {
	svc, tr, s := newTestService(t)

	_, err := svc.Receive(context.Background(), Incoming{
		Subject: "  ",
		Content: "body",
	})
	require.ErrorIs(t, err, ErrInvalidEmail)
	assert.Contains(t, err.Error(), "subject, sender")

	emails, err := s.ListEmails(context.Background())
	require.NoError(t, err)
	assert.Empty(t, emails)
	assert.Empty(t, tr.scheduled)
}

func TestReceive_TrimsFields(t *testing.T) {
	svc, _, _ := newTestService(t)

	email, err := svc.Receive(context.Background(), Incoming{
		Subject: "  Lunch?  ",
		Content: " Are you free ",
		Sender:  " pal@example.com\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "Lunch?", email.Subject)
	assert.Equal(t, "Are you free", email.Content)
	assert.Equal(t, "pal@example.com", email.Sender)
}

func TestReceive_DuplicateExternalID(t *testing.T) {
	svc, tr, s := newTestService(t)
	ctx := context.Background()

	in := SampleImportant()
	in.ExternalID = "<abc@mail.client.com>"

	first, err := svc.Receive(ctx, in)
	require.NoError(t, err)

	again, err := svc.Receive(ctx, in)
	require.ErrorIs(t, err, store.ErrDuplicate)
	assert.Equal(t, first.ID, again.ID)

	emails, err := s.ListEmails(ctx)
	require.NoError(t, err)
	assert.Len(t, emails, 1)
	assert.Len(t, tr.scheduled, 1)
}

func TestReceive_ScorerFailureStoresNothing(t *testing.T) {
	s := testutil.NewTestStore(t)
	tr := &recordingTracker{store: s}
	svc := NewService(s, failingScorer{err: context.Canceled}, tr, demoPolicy(10), nil)

	_, err := svc.Receive(context.Background(), SampleImportant())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	emails, err := s.ListEmails(context.Background())
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestReply(t *testing.T) {
	svc, tr, s := newTestService(t)
	ctx := context.Background()

	email, err := svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)

	require.NoError(t, svc.Reply(ctx, email.ID))
	assert.Equal(t, []string{email.ID}, tr.replied)

	got, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, got.Status)

	assert.ErrorIs(t, svc.Reply(ctx, "missing"), store.ErrNotFound)
}

type fakeMailbox struct {
	answered []string
	err      error
}

func (f *fakeMailbox) MarkAnswered(_ context.Context, messageID string) error {
	f.answered = append(f.answered, messageID)
	return f.err
}

func TestReply_FlagsFetchedEmailOnServer(t *testing.T) {
	svc, _, _ := newTestService(t)
	mb := &fakeMailbox{}
	svc.UseMailbox(mb)
	ctx := context.Background()

	composed, err := svc.Receive(ctx, SampleNormal())
	require.NoError(t, err)
	fetched := SampleImportant()
	fetched.ExternalID = "inv-1@client.com"
	email, err := svc.Receive(ctx, fetched)
	require.NoError(t, err)

	require.NoError(t, svc.Reply(ctx, composed.ID))
	assert.Empty(t, mb.answered)

	require.NoError(t, svc.Reply(ctx, email.ID))
	assert.Equal(t, []string{"inv-1@client.com"}, mb.answered)
}

func TestReply_MailboxFailureStillRecordsReply(t *testing.T) {
	svc, _, s := newTestService(t)
	svc.UseMailbox(&fakeMailbox{err: errors.New("connection refused")})
	ctx := context.Background()

	in := SampleImportant()
	in.ExternalID = "x@client.com"
	email, err := svc.Receive(ctx, in)
	require.NoError(t, err)

	require.NoError(t, svc.Reply(ctx, email.ID))
	got, err := s.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, got.Status)
}

func TestSetDelay(t *testing.T) {
	tests := []struct {
		name   string
		policy model.FollowUpConfig
		in     time.Duration
		want   time.Duration
	}{
		{"demo within range", demoPolicy(10), 25 * time.Second, 25 * time.Second},
		{"demo below minimum", demoPolicy(10), time.Second, 5 * time.Second},
		{"demo above maximum", demoPolicy(10), 2 * time.Minute, 60 * time.Second},
		{"production accepts a day", model.FollowUpConfig{DelaySec: 10}, 24 * time.Hour, 24 * time.Hour},
		{"production falls back on zero", model.FollowUpConfig{DelaySec: 10}, 0, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testutil.NewTestStore(t)
			svc := NewService(s, scorer.New(), &recordingTracker{store: s}, tt.policy, nil)

			assert.Equal(t, tt.want, svc.SetDelay(tt.in))
			assert.Equal(t, tt.want, svc.Delay())
		})
	}
}

func TestSetDelay_AppliesToLaterEmailsOnly(t *testing.T) {
	svc, tr, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)

	svc.SetDelay(30 * time.Second)

	_, err = svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)

	require.Len(t, tr.scheduled, 2)
	assert.Equal(t, 10*time.Second, tr.scheduled[0].delay)
	assert.Equal(t, 30*time.Second, tr.scheduled[1].delay)
}

func TestRearm(t *testing.T) {
	svc, tr, s := newTestService(t)
	ctx := context.Background()

	fresh, err := svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)
	_, err = svc.Receive(ctx, SampleNormal())
	require.NoError(t, err)
	answered, err := svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)
	require.NoError(t, s.MarkReplied(ctx, answered.ID))

	tr.scheduled = nil
	svc.now = func() time.Time { return fresh.CreatedAt.Add(4 * time.Second) }

	n, err := svc.Rearm(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, tr.scheduled, 1)
	assert.Equal(t, fresh.ID, tr.scheduled[0].emailID)
	assert.Equal(t, 6*time.Second, tr.scheduled[0].delay)

	tr.scheduled = nil
	svc.now = func() time.Time { return fresh.CreatedAt.Add(time.Hour) }

	_, err = svc.Rearm(ctx)
	require.NoError(t, err)
	require.Len(t, tr.scheduled, 1)
	assert.Equal(t, time.Duration(0), tr.scheduled[0].delay)
}

func TestSamplesMatchTheirLabels(t *testing.T) {
	assert.True(t, scorer.Score(SampleImportant().Subject, SampleImportant().Content).IsImportant)
	assert.False(t, scorer.Score(SampleNormal().Subject, SampleNormal().Content).IsImportant)
}

func TestEndToEnd_UnansweredEmailGetsReminder(t *testing.T) {
	s := testutil.NewTestStore(t)
	tr := tracker.New(s)
	t.Cleanup(tr.Stop)
	svc := NewService(s, scorer.New(), tr, model.FollowUpConfig{DelaySec: 1}, nil)
	ctx := context.Background()

	unanswered, err := svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)
	answered, err := svc.Receive(ctx, SampleImportant())
	require.NoError(t, err)
	require.NoError(t, svc.Reply(ctx, answered.ID))

	require.Eventually(t, func() bool {
		got, err := s.GetEmail(ctx, unanswered.ID)
		return err == nil && got.Status == model.StatusReminded
	}, 5*time.Second, 50*time.Millisecond)

	reminders, err := s.ListReminders(ctx)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, unanswered.ID, reminders[0].EmailID)
	assert.Equal(t,
		tracker.ReminderMessage(unanswered.Subject, unanswered.Sender),
		reminders[0].Message)

	got, err := s.GetEmail(ctx, answered.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, got.Status)
}
