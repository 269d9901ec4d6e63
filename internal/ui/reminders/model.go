package reminders

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/theme"
)

// maxVisible is how many notifications are drawn before collapsing the
// rest into a counter line.
const maxVisible = 3

// Model is the stack of follow-up reminder notifications shown above
// the inbox. Dismissing only hides a notification; the reminder stays
// in the store.
type Model struct {
	items []model.Reminder
	seen  map[string]bool
	width int
}

// New creates an empty notification stack.
func New(width int) Model {
	return Model{
		seen:  make(map[string]bool),
		width: width,
	}
}

// Push adds r on top of the stack. A reminder already pushed once,
// even if dismissed since, is ignored.
func (m *Model) Push(r model.Reminder) bool {
	if m.seen[r.ID] {
		return false
	}
	m.seen[r.ID] = true
	m.items = append([]model.Reminder{r}, m.items...)
	return true
}

// Dismiss hides the newest notification.
func (m *Model) Dismiss() {
	if len(m.items) > 0 {
		m.items = m.items[1:]
	}
}

// DismissAll hides every notification.
func (m *Model) DismissAll() {
	m.items = nil
}

// Len returns the number of visible notifications.
func (m Model) Len() int {
	return len(m.items)
}

// Items returns the visible notifications, newest first.
func (m Model) Items() []model.Reminder {
	return m.items
}

// Height returns the number of terminal rows View occupies.
func (m Model) Height() int {
	if len(m.items) == 0 {
		return 0
	}
	return lipgloss.Height(m.View())
}

// View renders the stack, newest first.
func (m Model) View() string {
	if len(m.items) == 0 {
		return ""
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorOrange)
	toast := theme.ReminderToastStyle.Width(m.width - 2)

	var rows []string
	for i, r := range m.items {
		if i == maxVisible {
			rows = append(rows, theme.DimmedStyle.Render(
				fmt.Sprintf("  +%d more reminder(s)", len(m.items)-maxVisible),
			))
			break
		}
		body := titleStyle.Render("Follow-up reminder") + "  " +
			theme.DimmedStyle.Render(r.SentAt.Local().Format("15:04:05")) + "\n" +
			r.Message
		rows = append(rows, toast.Render(body))
	}
	rows = append(rows, theme.HelpStyle.Render("  x: dismiss  X: dismiss all"))

	return strings.Join(rows, "\n")
}

// SetWidth updates the render width.
func (m *Model) SetWidth(width int) {
	m.width = width
}
