package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-followup/internal/theme"
)

// Layout manages the terminal layout dimensions: a header line, an
// optional stack of reminder notifications, the active view and a
// status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area
// when noticeHeight lines are taken by notifications.
func (l Layout) ContentHeight(noticeHeight int) int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight - noticeHeight
	if h < 3 {
		h = 3
	}
	return h
}

// RenderHeader renders the top header bar with a title and a right
// aligned status.
func (l Layout) RenderHeader(title string, status string) string {
	titleRendered := theme.HeaderStyle.Render(title)
	statusRendered := theme.HeaderStyle.
		Align(lipgloss.Right).
		Render(status)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		titleRendered,
		fill(theme.HeaderStyle, l.Width-lipgloss.Width(titleRendered)-lipgloss.Width(statusRendered)),
		statusRendered,
	)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
// An error replaces the hints and turns the bar red.
func (l Layout) RenderStatusBar(hints string, errText string) string {
	style := theme.StatusBarStyle
	text := hints
	if errText != "" {
		style = theme.ErrorBarStyle
		text = errText
	}

	rendered := style.Render(text)
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		rendered,
		fill(style, l.Width-lipgloss.Width(rendered)),
	)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, notifications (if any), content area and status bar.
func (l Layout) RenderWithFrame(
	header string,
	notices string,
	content string,
	statusBar string,
) string {
	parts := []string{header}
	if notices != "" {
		parts = append(parts, notices)
	}
	parts = append(parts, content, statusBar)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// fill renders width blank cells in the background of style.
func fill(style lipgloss.Style, width int) string {
	if width < 0 {
		width = 0
	}
	return lipgloss.NewStyle().
		Width(width).
		Background(style.GetBackground()).
		Render("")
}
