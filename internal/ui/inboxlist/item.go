package inboxlist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/theme"
)

// EmailItem wraps a model.Email so it can be used in a bubbles/list.
type EmailItem struct {
	Email model.Email

	// Deadline is when the follow-up reminder fires, if one is armed.
	Deadline    time.Time
	HasDeadline bool
}

// FilterValue returns the string used for fuzzy filtering.
func (i EmailItem) FilterValue() string { return i.Email.Subject }

// Title returns the email subject for the list.
func (i EmailItem) Title() string { return i.Email.Subject }

// Description returns a short summary line for the list.
func (i EmailItem) Description() string {
	return strings.Join([]string{
		i.Email.Sender,
		string(i.Email.Status),
		relativeTime(i.Email.CreatedAt, time.Now()),
	}, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering inbox rows.
type ItemDelegate struct {
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single inbox row: importance marker, status, origin,
// subject, sender, and either the follow-up countdown or the age.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(EmailItem)
	if !ok {
		return
	}
	now := time.Now()
	if d.now != nil {
		now = d.now()
	}

	e := it.Email

	marker := " "
	if e.IsImportant {
		marker = theme.ImportantBadgeStyle.Render("!")
	}

	statusBadge := theme.StatusStyle(e.Status).Render(statusLabel(e.Status))

	origin := "LOC"
	if e.ExternalID != "" {
		origin = "IMAP"
	}
	originBadge := theme.OriginStyle(e.ExternalID != "").Render(origin)

	sender := theme.DimmedStyle.Render(e.Sender)

	var trailing string
	if it.HasDeadline && e.Status == model.StatusPending {
		trailing = lipgloss.NewStyle().
			Foreground(theme.ColorOrange).
			Render("⏱ " + countdown(it.Deadline, now))
	} else {
		trailing = theme.DimmedStyle.Render(relativeTime(e.CreatedAt, now))
	}

	line := fmt.Sprintf(
		"%s %s %s %s  %s  %s",
		marker, statusBadge, originBadge, e.Subject, sender, trailing,
	)

	if e.Status == model.StatusReplied {
		line = theme.DimmedStyle.Render(line)
	}

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// statusLabel returns a fixed-width status label.
func statusLabel(s model.EmailStatus) string {
	switch s {
	case model.StatusPending:
		return "PENDING "
	case model.StatusReplied:
		return "REPLIED "
	case model.StatusReminded:
		return "REMINDED"
	default:
		return strings.ToUpper(string(s))
	}
}

// countdown formats the time left until deadline.
func countdown(deadline, now time.Time) string {
	left := deadline.Sub(now)
	switch {
	case left <= 0:
		return "due"
	case left < time.Minute:
		return fmt.Sprintf("%ds", int(left.Seconds()+0.5))
	case left < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(left.Minutes()), int(left.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(left.Hours()), int(left.Minutes())%60)
	}
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return fmt.Sprintf("%dw ago", int(d.Hours()/24/7))
	}
}
