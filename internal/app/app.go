package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/inbox-followup/internal/inbox"
	"github.com/nhle/inbox-followup/internal/keys"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/store"
	appsync "github.com/nhle/inbox-followup/internal/sync"
	"github.com/nhle/inbox-followup/internal/ui"
	"github.com/nhle/inbox-followup/internal/ui/command"
	"github.com/nhle/inbox-followup/internal/ui/compose"
	"github.com/nhle/inbox-followup/internal/ui/detail"
	helpview "github.com/nhle/inbox-followup/internal/ui/help"
	"github.com/nhle/inbox-followup/internal/ui/inboxlist"
	"github.com/nhle/inbox-followup/internal/ui/reminders"
	"github.com/nhle/inbox-followup/internal/ui/settings"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewCompose
	ViewSettings
	ViewHelp
	ViewCommand
)

// Commands lists the command palette entries.
var Commands = []string{
	"new", "sample important", "sample normal",
	"important", "pending", "clear",
	"dismiss all", "settings", "sync", "quit",
}

// Deadlines reports armed follow-up deadlines.
type Deadlines interface {
	Deadline(emailID string) (time.Time, bool)
	Pending() int
}

// Options wires the application model to its services.
type Options struct {
	Store   store.Store
	Inbox   *inbox.Service
	Tracker Deadlines

	// Poller is nil when no mail server is configured.
	Poller *appsync.Poller

	// Validator tests the mail server connection from the settings
	// view. Nil hides the action.
	Validator settings.Validator

	Config     *model.AppConfig
	ConfigPath string
	Logger     *zap.Logger
}

// Model is the root Bubble Tea model that manages view routing,
// layout, and access to the inbox services.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	opts         Options
	logger       *zap.Logger
	keys         *keys.KeyMap
	feed         *changeFeed

	inboxList    inboxlist.Model
	detail       detail.Model
	composeView  compose.Model
	settingsView settings.Model
	helpView     helpview.Model
	commandView  command.Model
	notices      reminders.Model

	ready     bool
	scoring   int
	notice    string
	errText   string
	authError string
}

// New creates a new root application model.
func New(opts Options) Model {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Config == nil {
		opts.Config = &model.AppConfig{FollowUp: model.FollowUpConfig{DelaySec: int(opts.Inbox.Delay() / time.Second)}}
	}

	k := keys.DefaultKeyMap()
	m := Model{
		currentView:  ViewList,
		opts:         opts,
		logger:       logger,
		keys:         k,
		feed:         subscribe(opts.Store),
		inboxList:    inboxlist.New(opts.Store, k, opts.Tracker.Deadline, 80, 24),
		detail:       detail.New(opts.Store, k, 80, 24),
		composeView:  compose.New(k, 80, 24),
		settingsView: settings.New(k, opts.Validator, 80, 24),
		helpView:     helpview.New(k, 80, 24),
		commandView:  command.New(Commands, 80, 24),
		notices:      reminders.New(80),
	}
	m.helpView.SetDelay(opts.Inbox.Delay())
	return m
}

// Init loads the inbox, starts the countdown clock, listens for store
// changes and starts the mailbox poller when one is configured.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.inboxList.Init(),
		tick(),
		m.feed.wait(),
	}
	if m.opts.Poller != nil {
		cmds = append(cmds, m.opts.Poller.Start())
	}
	return tea.Batch(cmds...)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.notices.SetWidth(msg.Width)
		m.resize()
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case tickMsg:
		cmd := m.inboxList.Tick()
		if id := m.detail.EmailID(); id != "" {
			m.detail.SetDeadline(m.opts.Tracker.Deadline(id))
		}
		return m, tea.Batch(cmd, tick())

	case changeMsg:
		cmds := []tea.Cmd{m.feed.wait(), m.inboxList.LoadEmails()}
		switch {
		case msg.resync:
			m.logger.Warn("change feed overflowed, reloading session reminders")
			cmds = append(cmds, m.loadSessionReminders())
		case msg.event.Kind == model.ChangeReminderAdded:
			cmds = append(cmds, m.loadReminder(msg.event.ReminderID))
		}
		if m.currentView == ViewDetail &&
			(msg.resync || msg.event.EmailID == m.detail.EmailID()) {
			cmds = append(cmds, m.detail.Load(m.detail.EmailID()))
		}
		return m, tea.Batch(cmds...)

	case reminderLoadedMsg:
		if m.notices.Push(msg.reminder) {
			m.resize()
		}
		return m, nil

	case remindersLoadedMsg:
		pushed := false
		for _, r := range msg.reminders {
			if m.notices.Push(r) {
				pushed = true
			}
		}
		if pushed {
			m.resize()
		}
		return m, nil

	case inboxlist.EmailsLoadedMsg:
		if msg.Err != nil {
			m.errText = fmt.Sprintf("Loading inbox: %v", msg.Err)
		}
		var cmd tea.Cmd
		m.inboxList, cmd = m.inboxList.Update(msg)
		return m, cmd

	case inboxlist.SelectedEmailMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		cmd := m.detail.Load(msg.EmailID)
		return m, cmd

	case inboxlist.ReplyRequestMsg:
		return m, m.reply(msg.EmailID)

	case detail.ReplyRequestMsg:
		return m, m.reply(msg.EmailID)

	case detail.DetailLoadedMsg:
		if msg.Err != nil {
			m.errText = fmt.Sprintf("Loading email: %v", msg.Err)
		}
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		if id := m.detail.EmailID(); id != "" {
			m.detail.SetDeadline(m.opts.Tracker.Deadline(id))
		}
		return m, cmd

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case repliedMsg:
		if msg.err != nil {
			m.logger.Warn("marking email replied", zap.String("email_id", msg.emailID), zap.Error(msg.err))
			m.errText = fmt.Sprintf("Marking replied: %v", msg.err)
			return m, nil
		}
		m.notice = "Marked replied. Follow-up cancelled."
		return m, nil

	case compose.SubmittedMsg:
		m.currentView = ViewList
		m.scoring++
		return m, m.receive(msg.Email)

	case compose.CancelMsg:
		m.currentView = ViewList
		return m, nil

	case receivedMsg:
		m.scoring--
		if msg.err != nil {
			m.logger.Warn("receiving composed email", zap.Error(msg.err))
			m.errText = fmt.Sprintf("Receiving email: %v", msg.err)
			return m, nil
		}
		m.notice = receivedNotice(msg.email, m.opts.Inbox.Delay())
		return m, nil

	case settings.SavedMsg:
		m.currentView = ViewList
		cmd := m.applySettings(msg)
		return m, cmd

	case settings.DoneMsg:
		m.currentView = ViewList
		return m, nil

	case settingsAppliedMsg:
		m.helpView.SetDelay(msg.delay)
		if msg.err != nil {
			m.logger.Error("saving config", zap.String("path", m.opts.ConfigPath), zap.Error(msg.err))
			m.errText = fmt.Sprintf("Saving config: %v", msg.err)
			return m, nil
		}
		m.notice = fmt.Sprintf("Reminder delay set to %s for new emails.", msg.delay)
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		cmd := m.executeCommand(string(msg))
		return m, cmd

	case appsync.SyncResultMsg:
		if msg.AuthError != nil {
			m.authError = msg.AuthError.Message
		} else if msg.Error == nil {
			m.authError = ""
		}
		if msg.Created > 0 {
			m.notice = fmt.Sprintf("%d new email(s) from %s", msg.Created, msg.Server)
		}
		return m, tea.Batch(m.inboxList.LoadEmails(), m.opts.Poller.WaitForNextResult())

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			cmd := m.quit()
			return m, cmd
		}

		m.errText = ""
		if m.captureInput() {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewList {
				cmd := m.quit()
				return m, cmd
			}

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Command):
			if m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewCommand
			cmd := m.commandView.Focus()
			return m, cmd

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp || m.currentView == ViewCommand {
				m.currentView = m.previousView
				return m, nil
			}

		case key.Matches(msg, m.keys.Dismiss):
			if m.currentView == ViewList || m.currentView == ViewDetail {
				m.notices.Dismiss()
				m.resize()
				return m, nil
			}

		case key.Matches(msg, m.keys.DismissAll):
			if m.currentView == ViewList || m.currentView == ViewDetail {
				m.notices.DismissAll()
				m.resize()
				return m, nil
			}

		case key.Matches(msg, m.keys.Compose):
			if m.currentView == ViewList {
				cmd := m.openCompose()
				return m, cmd
			}

		case key.Matches(msg, m.keys.Settings):
			if m.currentView == ViewList {
				cmd := m.openSettings()
				return m, cmd
			}

		case key.Matches(msg, m.keys.Refresh):
			if m.currentView == ViewList {
				cmd := m.refresh()
				return m, cmd
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// captureInput reports whether the active view owns every key press,
// such as a form or an open search box.
func (m Model) captureInput() bool {
	switch m.currentView {
	case ViewCompose, ViewSettings:
		return true
	case ViewCommand:
		return false
	case ViewList:
		return m.inboxList.Searching()
	}
	return false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.inboxList, cmd = m.inboxList.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewCompose:
		m.composeView, cmd = m.composeView.Update(msg)
	case ViewSettings:
		m.settingsView, cmd = m.settingsView.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// resize recomputes the child view sizes after the terminal or the
// notification stack changes height.
func (m *Model) resize() {
	if !m.ready {
		return
	}
	w := m.layout.ContentWidth()
	h := m.layout.ContentHeight(m.notices.Height())
	m.inboxList.SetSize(w, h)
	m.detail.SetSize(w, h)
	m.composeView.SetSize(w, h)
	m.settingsView.SetSize(w, h)
	m.helpView.SetSize(w, h)
	m.commandView.SetSize(w, h)
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader(m.headerTitle(), m.syncStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.errorText())

	return m.layout.RenderWithFrame(header, m.notices.View(), m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.inboxList.View()
	case ViewDetail:
		return m.detail.View()
	case ViewCompose:
		return m.composeView.View()
	case ViewSettings:
		return m.settingsView.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	default:
		return ""
	}
}

// headerTitle summarises the inbox and the armed deadlines.
func (m Model) headerTitle() string {
	title := "Shared Inbox"
	if n := m.opts.Tracker.Pending(); n > 0 {
		title = fmt.Sprintf("%s · %d awaiting reply", title, n)
	}
	return fmt.Sprintf("%s · reminder after %s", title, m.opts.Inbox.Delay())
}

// syncStatus returns a short string describing the mailbox sync state.
func (m Model) syncStatus() string {
	var parts []string
	if m.scoring > 0 {
		parts = append(parts, "scoring…")
	}

	if m.opts.Poller == nil {
		parts = append(parts, "local only")
		return strings.Join(parts, " | ")
	}

	st := m.opts.Poller.Status()
	switch st.State {
	case appsync.SyncRunning:
		parts = append(parts, "syncing "+st.Server)
	case appsync.SyncError:
		parts = append(parts, "⚠ unreachable: "+st.Server)
	default:
		if st.LastSync.IsZero() {
			parts = append(parts, st.Server)
		} else {
			parts = append(parts, fmt.Sprintf("%s synced %s", st.Server, st.LastSync.Format("15:04")))
		}
	}
	return strings.Join(parts, " | ")
}

// errorText returns the message that should turn the status bar red.
func (m Model) errorText() string {
	if m.errText != "" {
		return m.errText
	}
	if m.authError != "" && m.currentView == ViewList {
		return m.authError
	}
	return ""
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewDetail:
		return "esc back | r mark replied | x dismiss | j/k scroll"
	case ViewCompose:
		return "enter next/submit | alt+i important sample | alt+n normal sample | esc cancel"
	case ViewSettings:
		return "enter confirm | esc cancel"
	default:
		if m.notice != "" {
			return m.notice
		}
		if f := m.inboxList.Filter(); f.Active() {
			return f.Summary() + " | 3 clear"
		}
		return "q quit | ? help | n new | r replied | s delay | / search | 1 important | 2 pending"
	}
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	switch strings.ToLower(cmd) {
	case "new", "compose":
		return m.openCompose()
	case "sample important":
		m.scoring++
		return m.receive(inbox.SampleImportant())
	case "sample normal":
		m.scoring++
		return m.receive(inbox.SampleNormal())
	case "important":
		f := m.inboxList.Filter()
		f.ImportantOnly = true
		return m.inboxList.SetFilter(f)
	case "pending":
		f := m.inboxList.Filter()
		f.PendingOnly = true
		return m.inboxList.SetFilter(f)
	case "clear", "clear filters":
		return m.inboxList.ClearFilters()
	case "dismiss all":
		m.notices.DismissAll()
		m.resize()
		return nil
	case "settings", "delay":
		return m.openSettings()
	case "sync", "refresh":
		return m.refresh()
	case "quit", "q":
		return m.quit()
	default:
		m.errText = fmt.Sprintf("Unknown command %q", cmd)
		return nil
	}
}

func (m *Model) openCompose() tea.Cmd {
	m.previousView = m.currentView
	m.currentView = ViewCompose
	return m.composeView.Start()
}

func (m *Model) openSettings() tea.Cmd {
	m.previousView = m.currentView
	m.currentView = ViewSettings
	policy := m.opts.Config.FollowUp
	policy.DelaySec = int(m.opts.Inbox.Delay() / time.Second)
	return m.settingsView.Start(policy)
}

func (m *Model) refresh() tea.Cmd {
	if m.opts.Poller != nil {
		m.opts.Poller.Refresh()
	}
	return m.inboxList.LoadEmails()
}

// quit stops background work owned by the UI and exits.
func (m *Model) quit() tea.Cmd {
	if m.opts.Poller != nil {
		m.opts.Poller.Stop()
	}
	m.feed.close()
	return tea.Quit
}

// receivedNotice describes the verdict for a newly received email.
func receivedNotice(e *model.Email, delay time.Duration) string {
	if e.IsImportant {
		return fmt.Sprintf("Important: %q. Reminder in %s unless replied.", e.Subject, delay)
	}
	return fmt.Sprintf("Received %q. Not important, no follow-up.", e.Subject)
}
