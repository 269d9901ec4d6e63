package app

import (
	"context"
	"slices"
	gosync "sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/inbox-followup/internal/inbox"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/store"
	"github.com/nhle/inbox-followup/internal/ui/settings"
)

// changeBuffer bounds the store events queued for the UI. Events past
// it are dropped and the next delivered event is marked for a resync.
const changeBuffer = 64

// tickMsg drives the deadline countdowns.
type tickMsg time.Time

// changeMsg carries one store change event into the update loop.
// resync is set when events were dropped before it.
type changeMsg struct {
	event  model.ChangeEvent
	resync bool
}

// reminderLoadedMsg carries a reminder to show as a notification.
type reminderLoadedMsg struct {
	reminder model.Reminder
}

// remindersLoadedMsg carries the reminders generated this session,
// oldest first.
type remindersLoadedMsg struct {
	reminders []model.Reminder
}

type repliedMsg struct {
	emailID string
	err     error
}

type receivedMsg struct {
	email *model.Email
	err   error
}

type settingsAppliedMsg struct {
	delay time.Duration
	err   error
}

// changeFeed bridges store observer callbacks, which run on whatever
// goroutine performed the write, into tea messages.
type changeFeed struct {
	events      chan model.ChangeEvent
	done        chan struct{}
	unsubscribe func()
	once        gosync.Once

	// started is when the session began listening.
	started time.Time
	dropped atomic.Bool
}

func subscribe(s store.Store) *changeFeed {
	f := &changeFeed{
		events:  make(chan model.ChangeEvent, changeBuffer),
		done:    make(chan struct{}),
		started: time.Now().UTC(),
	}
	f.unsubscribe = s.Subscribe(f.publish)
	return f
}

func (f *changeFeed) publish(ev model.ChangeEvent) {
	select {
	case f.events <- ev:
	default:
		f.dropped.Store(true)
	}
}

// wait returns a tea.Cmd that blocks until the next change event.
func (f *changeFeed) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-f.events:
			return changeMsg{event: ev, resync: f.dropped.Swap(false)}
		case <-f.done:
			return nil
		}
	}
}

func (f *changeFeed) close() {
	f.once.Do(func() {
		f.unsubscribe()
		close(f.done)
	})
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// loadReminder returns a command that reads one reminder from the store.
func (m Model) loadReminder(id string) tea.Cmd {
	s := m.opts.Store
	return func() tea.Msg {
		rs, err := s.ListReminders(context.Background())
		if err != nil {
			return nil
		}
		for _, r := range rs {
			if r.ID == id {
				return reminderLoadedMsg{reminder: r}
			}
		}
		return nil
	}
}

// loadSessionReminders returns a command that reads every reminder
// generated since the feed started.
func (m Model) loadSessionReminders() tea.Cmd {
	s := m.opts.Store
	since := m.feed.started
	return func() tea.Msg {
		rs, err := s.ListReminders(context.Background())
		if err != nil {
			return nil
		}
		var session []model.Reminder
		for _, r := range rs {
			if !r.SentAt.Before(since) {
				session = append(session, r)
			}
		}
		slices.Reverse(session)
		return remindersLoadedMsg{reminders: session}
	}
}

// reply returns a command that marks an email replied.
func (m Model) reply(emailID string) tea.Cmd {
	svc := m.opts.Inbox
	return func() tea.Msg {
		err := svc.Reply(context.Background(), emailID)
		return repliedMsg{emailID: emailID, err: err}
	}
}

// receive returns a command that scores and stores an email. Scoring
// may take a while, so it runs off the update loop.
func (m Model) receive(in inbox.Incoming) tea.Cmd {
	svc := m.opts.Inbox
	return func() tea.Msg {
		e, err := svc.Receive(context.Background(), in)
		return receivedMsg{email: e, err: err}
	}
}

// applySettings changes the follow-up delay and, when asked, returns a
// command that writes it to the config file.
func (m *Model) applySettings(msg settings.SavedMsg) tea.Cmd {
	applied := m.opts.Inbox.SetDelay(msg.Delay)
	if !msg.Persist || m.opts.ConfigPath == "" {
		return func() tea.Msg { return settingsAppliedMsg{delay: applied} }
	}

	m.opts.Config.FollowUp.DelaySec = int(applied / time.Second)
	cfg := *m.opts.Config
	path := m.opts.ConfigPath
	return func() tea.Msg {
		return settingsAppliedMsg{delay: applied, err: model.SaveConfig(path, &cfg)}
	}
}
