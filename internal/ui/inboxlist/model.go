package inboxlist

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-followup/internal/keys"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/store"
	"github.com/nhle/inbox-followup/internal/theme"
)

// EmailsLoadedMsg is sent when emails have been loaded from the store.
type EmailsLoadedMsg struct {
	Emails []model.Email
	Err    error
}

// SelectedEmailMsg is sent when the user opens an email.
type SelectedEmailMsg struct {
	EmailID string
}

// ReplyRequestMsg asks the parent to mark an email replied.
type ReplyRequestMsg struct {
	EmailID string
}

// DeadlineFunc reports the armed follow-up deadline of an email.
type DeadlineFunc func(emailID string) (time.Time, bool)

// Filter narrows the inbox list.
type Filter struct {
	ImportantOnly bool
	PendingOnly   bool
	Query         string
}

// Active reports whether any narrowing is applied.
func (f Filter) Active() bool {
	return f.ImportantOnly || f.PendingOnly || f.Query != ""
}

// Summary describes the active narrowing for the status bar.
func (f Filter) Summary() string {
	var parts []string
	if f.ImportantOnly {
		parts = append(parts, "important")
	}
	if f.PendingOnly {
		parts = append(parts, "pending")
	}
	if f.Query != "" {
		parts = append(parts, "/"+f.Query)
	}
	return strings.Join(parts, " + ")
}

// Apply returns the emails matching f, keeping their order.
func (f Filter) Apply(emails []model.Email) []model.Email {
	q := strings.ToLower(f.Query)
	out := make([]model.Email, 0, len(emails))
	for _, e := range emails {
		if f.ImportantOnly && !e.IsImportant {
			continue
		}
		if f.PendingOnly && e.Status != model.StatusPending {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(e.Subject), q) &&
			!strings.Contains(strings.ToLower(e.Sender), q) &&
			!strings.Contains(strings.ToLower(e.Content), q) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Model is the shared inbox list view.
type Model struct {
	list        list.Model
	store       store.Store
	keys        *keys.KeyMap
	deadlines   DeadlineFunc
	emails      []model.Email
	filter      Filter
	searchMode  bool
	searchInput textinput.Model
	width       int
	height      int
}

// New creates a new inbox list model.
func New(s store.Store, k *keys.KeyMap, deadlines DeadlineFunc, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-2)
	l.Title = "Shared Inbox"
	l.SetShowStatusBar(true)
	l.SetStatusBarItemName("email", "emails")
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	si := textinput.New()
	si.Placeholder = "search subject, sender or body..."
	si.Prompt = "/ "
	si.Width = width - 4

	if deadlines == nil {
		deadlines = func(string) (time.Time, bool) { return time.Time{}, false }
	}

	return Model{
		list:        l,
		store:       s,
		keys:        k,
		deadlines:   deadlines,
		searchInput: si,
		width:       width,
		height:      height,
	}
}

// Init returns a command that loads the inbox.
func (m Model) Init() tea.Cmd {
	return m.LoadEmails()
}

// Update handles messages for the inbox list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case EmailsLoadedMsg:
		if msg.Err != nil {
			return m, nil
		}
		m.emails = msg.Emails
		cmd := m.refreshItems()
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.handleSearchKeys(msg)
		}
		return m.handleNormalKeys(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// handleSearchKeys processes key input while in search mode.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.searchMode = false
		m.filter.Query = strings.TrimSpace(m.searchInput.Value())
		cmd := m.refreshItems()
		return m, cmd

	case "esc":
		m.searchMode = false
		m.searchInput.Reset()
		m.filter.Query = ""
		cmd := m.refreshItems()
		return m, cmd
	}

	var cmd tea.Cmd
	m.searchInput, cmd = m.searchInput.Update(msg)
	return m, cmd
}

// handleNormalKeys processes key input in normal (non-search) mode.
func (m Model) handleNormalKeys(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Select):
		e, ok := m.SelectedEmail()
		if !ok {
			return m, nil
		}
		return m, func() tea.Msg {
			return SelectedEmailMsg{EmailID: e.ID}
		}

	case key.Matches(msg, m.keys.Reply):
		e, ok := m.SelectedEmail()
		if !ok || e.Status != model.StatusPending {
			return m, nil
		}
		return m, func() tea.Msg {
			return ReplyRequestMsg{EmailID: e.ID}
		}

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.searchInput.Reset()
		cmd := m.searchInput.Focus()
		return m, cmd

	case key.Matches(msg, m.keys.FilterImportant):
		m.filter.ImportantOnly = !m.filter.ImportantOnly
		cmd := m.refreshItems()
		return m, cmd

	case key.Matches(msg, m.keys.FilterPending):
		m.filter.PendingOnly = !m.filter.PendingOnly
		cmd := m.refreshItems()
		return m, cmd

	case key.Matches(msg, m.keys.ClearFilters):
		cmd := m.ClearFilters()
		return m, cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// refreshItems rebuilds the list items from the loaded emails, the
// filter and the current deadlines.
func (m *Model) refreshItems() tea.Cmd {
	visible := m.filter.Apply(m.emails)
	items := make([]list.Item, len(visible))
	for i, e := range visible {
		it := EmailItem{Email: e}
		it.Deadline, it.HasDeadline = m.deadlines(e.ID)
		items[i] = it
	}
	return m.list.SetItems(items)
}

// Tick re-renders countdowns.
func (m *Model) Tick() tea.Cmd {
	return m.refreshItems()
}

// ClearFilters removes every filter.
func (m *Model) ClearFilters() tea.Cmd {
	m.filter = Filter{}
	m.searchInput.Reset()
	return m.refreshItems()
}

// SetFilter replaces the filter.
func (m *Model) SetFilter(f Filter) tea.Cmd {
	m.filter = f
	return m.refreshItems()
}

// Filter returns the active filter.
func (m Model) Filter() Filter {
	return m.filter
}

// Searching reports whether the search input has focus.
func (m Model) Searching() bool {
	return m.searchMode
}

// SelectedEmail returns the email under the cursor.
func (m Model) SelectedEmail() (model.Email, bool) {
	it, ok := m.list.SelectedItem().(EmailItem)
	if !ok {
		return model.Email{}, false
	}
	return it.Email, true
}

// Emails returns every loaded email, unfiltered.
func (m Model) Emails() []model.Email {
	return m.emails
}

// View renders the inbox list.
func (m Model) View() string {
	if m.searchMode {
		searchBar := lipgloss.NewStyle().
			Foreground(theme.ColorWhite).
			Padding(0, 1).
			Render(m.searchInput.View())
		return lipgloss.JoinVertical(lipgloss.Left, searchBar, m.list.View())
	}

	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return m.list.View()
}

// renderEmptyState shows guidance text when no emails are visible.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.filter.Active() {
		return style.Render("No matching emails.\nPress 3 to clear filters.")
	}

	return style.Render(
		"The shared inbox is empty.\n\n" +
			"Press n to simulate a new email.",
	)
}

// LoadEmails returns a tea.Cmd that reads the inbox, newest first.
func (m Model) LoadEmails() tea.Cmd {
	s := m.store
	return func() tea.Msg {
		emails, err := s.ListEmails(context.Background())
		return EmailsLoadedMsg{Emails: emails, Err: err}
	}
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
	m.searchInput.Width = width - 4
}
