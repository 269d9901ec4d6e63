package compose

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-followup/internal/inbox"
	"github.com/nhle/inbox-followup/internal/keys"
	"github.com/nhle/inbox-followup/internal/theme"
)

// SubmittedMsg is dispatched when the user sends the simulated email.
type SubmittedMsg struct {
	Email inbox.Incoming
}

// CancelMsg is dispatched when the user cancels the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	sender  string
	subject string
	content string
}

func (fb *formBindings) fill(in inbox.Incoming) {
	fb.sender = in.Sender
	fb.subject = in.Subject
	fb.content = in.Content
}

// Model is the Bubble Tea model for the simulate-incoming-email form.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	keys   *keys.KeyMap
	width  int
	height int
}

// New creates a new compose form model.
func New(k *keys.KeyMap, width, height int) Model {
	return Model{
		fb:     &formBindings{},
		keys:   k,
		width:  width,
		height: height,
	}
}

// Start clears the form and focuses its first field.
func (m *Model) Start() tea.Cmd {
	m.fb.fill(inbox.Incoming{})
	m.form = m.buildForm()
	return m.form.Init()
}

// Fill replaces the field values with in and rebuilds the form.
func (m *Model) Fill(in inbox.Incoming) tea.Cmd {
	m.fb.fill(in)
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the compose form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.FillImportant):
			cmd := m.Fill(inbox.SampleImportant())
			return m, cmd
		case key.Matches(msg, m.keys.FillNormal):
			cmd := m.Fill(inbox.SampleNormal())
			return m, cmd
		case key.Matches(msg, m.keys.Back):
			return m, func() tea.Msg { return CancelMsg{} }
		}
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m, m.handleSubmit()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the compose form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	hint := theme.HelpStyle.Render("alt+i: sample important  alt+n: sample normal  esc: cancel")

	content := titleStyle.Render("Simulate Incoming Email") + "\n" +
		m.form.View() + "\n" + hint

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("From").
				Placeholder("sender@example.com").
				Value(&m.fb.sender).
				Validate(validateRequired("Sender")),
			huh.NewInput().
				Title("Subject").
				Placeholder("Email subject").
				Value(&m.fb.subject).
				Validate(validateRequired("Subject")),
			huh.NewText().
				Title("Content").
				Placeholder("Email body...").
				Value(&m.fb.content).
				Validate(validateRequired("Content")),
		),
	).WithWidth(m.formWidth()).WithHeight(m.formHeight())
}

func (m Model) handleSubmit() tea.Cmd {
	in := inbox.Incoming{
		Sender:  m.fb.sender,
		Subject: m.fb.subject,
		Content: m.fb.content,
	}
	return func() tea.Msg { return SubmittedMsg{Email: in} }
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func (m Model) formHeight() int {
	h := m.height - 6
	if h < 10 {
		h = 10
	}
	return h
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
