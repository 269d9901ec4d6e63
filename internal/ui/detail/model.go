package detail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-followup/internal/keys"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/store"
	"github.com/nhle/inbox-followup/internal/theme"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// DetailLoadedMsg carries the loaded email and its reminders.
type DetailLoadedMsg struct {
	Email     *model.Email
	Reminders []model.Reminder
	Err       error
}

// ReplyRequestMsg asks the parent to mark the shown email replied.
type ReplyRequestMsg struct {
	EmailID string
}

// Model is the email detail view component.
type Model struct {
	email     *model.Email
	reminders []model.Reminder
	deadline  time.Time
	armed     bool
	viewport  viewport.Model
	store     store.Store
	keys      *keys.KeyMap
	width     int
	height    int
	loading   bool
}

// New creates a new detail view model.
func New(s store.Store, keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		store:    s,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Load returns a command that reads an email and its reminders.
func (m *Model) Load(emailID string) tea.Cmd {
	m.loading = true
	s := m.store
	return func() tea.Msg {
		ctx := context.Background()
		e, err := s.GetEmail(ctx, emailID)
		if err != nil {
			return DetailLoadedMsg{Err: err}
		}
		all, err := s.ListReminders(ctx)
		if err != nil {
			return DetailLoadedMsg{Email: e, Err: err}
		}
		var rs []model.Reminder
		for _, r := range all {
			if r.EmailID == emailID {
				rs = append(rs, r)
			}
		}
		return DetailLoadedMsg{Email: e, Reminders: rs}
	}
}

// EmailID returns the shown email's ID, or "" when nothing is loaded.
func (m Model) EmailID() string {
	if m.email == nil {
		return ""
	}
	return m.email.ID
}

// SetDeadline updates the countdown shown for a pending email.
func (m *Model) SetDeadline(deadline time.Time, armed bool) {
	m.deadline = deadline
	m.armed = armed
	if m.email != nil {
		m.viewport.SetContent(m.renderContent(time.Now()))
	}
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case DetailLoadedMsg:
		m.loading = false
		if msg.Email == nil {
			return m, nil
		}
		m.email = msg.Email
		m.reminders = msg.Reminders
		m.viewport.SetContent(m.renderContent(time.Now()))
		m.viewport.GotoTop()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg {
				return BackMsg{}
			}

		case key.Matches(msg, m.keys.Reply):
			if m.email != nil && m.email.Status == model.StatusPending {
				id := m.email.ID
				return m, func() tea.Msg {
					return ReplyRequestMsg{EmailID: id}
				}
			}
			return m, nil
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	placeholder := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.loading {
		return placeholder.Render("Loading email...")
	}
	if m.email == nil {
		return placeholder.Render("No email selected")
	}

	return m.viewport.View()
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent(now time.Time) string {
	if m.email == nil {
		return ""
	}

	e := m.email
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(e.Subject))

	statusBadge := theme.StatusStyle(e.Status).Render(strings.ToUpper(string(e.Status)))
	importance := theme.DimmedStyle.Render("normal")
	if e.IsImportant {
		importance = theme.ImportantBadgeStyle.Render("IMPORTANT")
	}
	sections = append(sections,
		lipgloss.JoinHorizontal(lipgloss.Top, statusBadge, "  ", importance),
		"",
	)

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) {
		sections = append(sections, fmt.Sprintf("%s %s",
			metaStyle.Render(fmt.Sprintf("%-10s", label)),
			valStyle.Render(value),
		))
	}

	row("From:", e.Sender)
	row("Received:", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if e.ExternalID != "" {
		row("Msg-ID:", e.ExternalID)
	}
	if r := e.Reason(); r != "" {
		row("Why:", r)
	}
	if e.Status == model.StatusPending && m.armed {
		left := m.deadline.Sub(now).Round(time.Second)
		if left < 0 {
			left = 0
		}
		row("Reminder:", fmt.Sprintf("in %s", left))
	}
	if e.RepliedAt != nil {
		row("Replied:", e.RepliedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if e.ReminderSentAt != nil {
		row("Reminded:", e.ReminderSentAt.Local().Format("2006-01-02 15:04:05"))
	}

	sections = append(sections, "")
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue)
	sections = append(sections, sectionStyle.Render("Content"))
	body := lipgloss.NewStyle().Width(m.width - 4).Render(e.Content)
	sections = append(sections, body)

	if len(m.reminders) > 0 {
		sections = append(sections, "", sectionStyle.Render("Reminders"))
		for _, r := range m.reminders {
			sections = append(sections, fmt.Sprintf("%s  %s",
				metaStyle.Render(r.SentAt.Local().Format("15:04:05")),
				r.Message,
			))
		}
	}

	if e.Status == model.StatusPending {
		sections = append(sections, "", theme.HelpStyle.Render("r: mark replied  esc: back"))
	} else {
		sections = append(sections, "", theme.HelpStyle.Render("esc: back"))
	}

	return strings.Join(sections, "\n")
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.email != nil {
		m.viewport.SetContent(m.renderContent(time.Now()))
	}
}
