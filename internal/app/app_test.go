package app

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-followup/internal/inbox"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/scorer"
	"github.com/nhle/inbox-followup/internal/store"
	"github.com/nhle/inbox-followup/internal/tracker"
	"github.com/nhle/inbox-followup/internal/ui/compose"
	"github.com/nhle/inbox-followup/internal/ui/settings"
	"github.com/nhle/inbox-followup/tests/testutil"
)

type harness struct {
	model Model
	store *store.SQLiteStore
	svc   *inbox.Service
	cfg   *model.AppConfig
	path  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	s := testutil.NewTestStore(t)
	tr := tracker.New(s)
	t.Cleanup(tr.Stop)

	cfg := &model.AppConfig{FollowUp: model.FollowUpConfig{DelaySec: 10, DemoMode: true}}
	svc := inbox.NewService(s, scorer.New(), tr, cfg.FollowUp, nil)
	path := filepath.Join(t.TempDir(), "config.yaml")

	m := New(Options{
		Store:      s,
		Inbox:      svc,
		Tracker:    tr,
		Config:     cfg,
		ConfigPath: path,
	})
	t.Cleanup(m.feed.close)

	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return &harness{model: next.(Model), store: s, svc: svc, cfg: cfg, path: path}
}

func (h *harness) update(t *testing.T, msg tea.Msg) tea.Cmd {
	t.Helper()
	next, cmd := h.model.Update(msg)
	h.model = next.(Model)
	return cmd
}

// nextChange reads the next store event queued for the UI.
func (h *harness) nextChange(t *testing.T) changeMsg {
	t.Helper()
	select {
	case ev := <-h.model.feed.events:
		return changeMsg{event: ev}
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
		return changeMsg{}
	}
}

func TestComposeReceivesAndNotifies(t *testing.T) {
	h := newHarness(t)

	cmd := h.update(t, compose.SubmittedMsg{Email: inbox.SampleImportant()})
	assert.Equal(t, ViewList, h.model.currentView)
	assert.Equal(t, 1, h.model.scoring)
	assert.Contains(t, h.model.syncStatus(), "scoring")

	require.NotNil(t, cmd)
	received := cmd()
	h.update(t, received)

	assert.Equal(t, 0, h.model.scoring)
	assert.Contains(t, h.model.notice, "Important")
	assert.Contains(t, h.model.headerTitle(), "1 awaiting reply")

	ev := h.nextChange(t)
	assert.Equal(t, model.ChangeEmailCreated, ev.event.Kind)
}

func TestReminderShowsAndDismisses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e, err := h.store.CreateEmail(ctx, model.Email{Subject: "URGENT", Content: "asap", Sender: "a@b.c", IsImportant: true})
	require.NoError(t, err)
	require.NoError(t, h.store.MarkReminded(ctx, e.ID))
	r, err := h.store.AddReminder(ctx, e.ID, tracker.ReminderMessage(e.Subject, e.Sender))
	require.NoError(t, err)

	cmd := h.model.loadReminder(r.ID)
	h.update(t, cmd())
	require.Equal(t, 1, h.model.notices.Len())
	assert.Contains(t, h.model.View(), "Follow-up reminder")

	h.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Equal(t, 0, h.model.notices.Len())

	// Dismissal is display-only.
	rs, err := h.store.ListReminders(ctx)
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func TestReplyFlow(t *testing.T) {
	h := newHarness(t)

	e, err := h.svc.Receive(context.Background(), inbox.SampleImportant())
	require.NoError(t, err)

	cmd := h.model.reply(e.ID)
	h.update(t, cmd())
	assert.Equal(t, "Marked replied. Follow-up cancelled.", h.model.notice)

	got, err := h.store.GetEmail(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplied, got.Status)

	// Replying twice is a no-op.
	h.update(t, h.model.reply(e.ID)())
	assert.Empty(t, h.model.errText)
}

func TestSettingsPersistDelay(t *testing.T) {
	h := newHarness(t)

	cmd := h.update(t, settings.SavedMsg{Delay: 30 * time.Second, Persist: true})
	assert.Equal(t, 30*time.Second, h.svc.Delay())
	require.NotNil(t, cmd)

	h.update(t, cmd())
	assert.Empty(t, h.model.errText)
	assert.Contains(t, h.model.notice, "30s")

	loaded, err := model.LoadConfig(h.path)
	require.NoError(t, err)
	assert.Equal(t, 30, loaded.FollowUp.DelaySec)
}

func TestSettingsSessionOnly(t *testing.T) {
	h := newHarness(t)

	cmd := h.update(t, settings.SavedMsg{Delay: 2 * time.Minute})
	assert.Equal(t, model.DemoMaxDelay, h.svc.Delay())
	h.update(t, cmd())

	_, err := model.LoadConfig(h.path)
	require.NoError(t, err)
	assert.NoFileExists(t, h.path)
}

func TestCommands(t *testing.T) {
	h := newHarness(t)

	h.model.executeCommand("important")
	assert.True(t, h.model.inboxList.Filter().ImportantOnly)

	h.model.executeCommand("pending")
	assert.True(t, h.model.inboxList.Filter().PendingOnly)

	h.model.executeCommand("clear")
	assert.False(t, h.model.inboxList.Filter().Active())

	h.model.executeCommand("settings")
	assert.Equal(t, ViewSettings, h.model.currentView)

	h.model.executeCommand("bogus")
	assert.Contains(t, h.model.errText, "bogus")
}

func TestKeysSwitchViews(t *testing.T) {
	h := newHarness(t)

	h.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	assert.Equal(t, ViewHelp, h.model.currentView)
	h.update(t, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewList, h.model.currentView)

	h.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	assert.Equal(t, ViewCompose, h.model.currentView)

	// The form owns every key, so q is typed rather than quitting.
	h.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Equal(t, ViewCompose, h.model.currentView)
}

func TestReceivedNotice(t *testing.T) {
	assert.Equal(t,
		`Important: "Deadline". Reminder in 10s unless replied.`,
		receivedNotice(&model.Email{Subject: "Deadline", IsImportant: true}, 10*time.Second),
	)
	assert.Equal(t,
		`Received "Hello". Not important, no follow-up.`,
		receivedNotice(&model.Email{Subject: "Hello"}, 10*time.Second),
	)
}

func TestChangeFeedOverflowRecoversReminders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old, err := h.store.CreateEmail(ctx, model.Email{Subject: "old", Content: "x", Sender: "a@b.c", IsImportant: true})
	require.NoError(t, err)
	before, err := h.store.Remind(ctx, old.ID, "before the session")
	require.NoError(t, err)
	h.model.feed.started = before.SentAt.Add(time.Nanosecond)

	for i := range changeBuffer + 5 {
		_, err := h.store.CreateEmail(ctx, model.Email{
			Subject: fmt.Sprintf("bulk %d", i), Content: "x", Sender: "a@b.c",
		})
		require.NoError(t, err)
	}

	// Dropped: the buffer is already full.
	e, err := h.store.CreateEmail(ctx, model.Email{Subject: "URGENT", Content: "asap", Sender: "a@b.c", IsImportant: true})
	require.NoError(t, err)
	r, err := h.store.Remind(ctx, e.ID, tracker.ReminderMessage(e.Subject, e.Sender))
	require.NoError(t, err)

	first, ok := h.model.feed.wait()().(changeMsg)
	require.True(t, ok)
	assert.True(t, first.resync)
	second, ok := h.model.feed.wait()().(changeMsg)
	require.True(t, ok)
	assert.False(t, second.resync)

	assert.NotNil(t, h.update(t, first))
	h.update(t, h.model.loadSessionReminders()())

	require.Equal(t, 1, h.model.notices.Len())
	assert.Equal(t, r.ID, h.model.notices.Items()[0].ID)
}
