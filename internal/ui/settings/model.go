package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-followup/internal/keys"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/theme"
)

// Mode represents the current state of the settings view.
type Mode int

const (
	ModeForm           Mode = iota // Editing the follow-up delay
	ModeValidating                 // Testing the IMAP connection
	ModeValidateResult             // Showing the connection test result
)

// SavedMsg is emitted when the user confirms a new follow-up delay.
type SavedMsg struct {
	Delay   time.Duration
	Persist bool
}

// DoneMsg signals the settings view should close without changes.
type DoneMsg struct{}

// ValidateResultMsg carries the result of a connection test.
type ValidateResultMsg struct {
	Server string
	Err    error
}

// Validator checks the mail server connection.
type Validator interface {
	Server() string
	ValidateConnection(ctx context.Context) error
}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	delaySec  int
	delayText string
	persist   bool
}

// Model is the Bubble Tea model for the follow-up settings view.
type Model struct {
	mode      Mode
	policy    model.FollowUpConfig
	form      *huh.Form
	fb        *formBindings
	validator Validator
	spinner   spinner.Model
	result    ValidateResultMsg
	keys      *keys.KeyMap
	width     int
	height    int
}

// New creates a settings view. validator may be nil when no mail server
// is configured.
func New(k *keys.KeyMap, validator Validator, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		fb:        &formBindings{persist: true},
		validator: validator,
		spinner:   sp,
		keys:      k,
		width:     width,
		height:    height,
	}
}

// Start opens the form with the current policy.
func (m *Model) Start(policy model.FollowUpConfig) tea.Cmd {
	m.mode = ModeForm
	m.policy = policy
	m.fb.delaySec = policy.DelaySec
	m.fb.delayText = strconv.Itoa(policy.DelaySec)
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the settings view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ValidateResultMsg:
		m.result = msg
		m.mode = ModeValidateResult
		return m, nil

	case spinner.TickMsg:
		if m.mode == ModeValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeValidating:
			return m, nil
		case ModeValidateResult:
			m.mode = ModeForm
			return m, nil
		}
		if msg.String() == "ctrl+t" && m.validator != nil {
			m.mode = ModeValidating
			return m, tea.Batch(m.spinner.Tick, m.validate())
		}
		if key.Matches(msg, m.keys.Back) {
			return m, func() tea.Msg { return DoneMsg{} }
		}
	}

	if m.form == nil || m.mode != ModeForm {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.handleSubmit()
	case huh.StateAborted:
		return m, func() tea.Msg { return DoneMsg{} }
	}

	return m, cmd
}

// View renders the settings view.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	var body string
	switch m.mode {
	case ModeValidating:
		body = fmt.Sprintf("%s Testing connection to %s...", m.spinner.View(), m.validator.Server())
	case ModeValidateResult:
		if m.result.Err != nil {
			body = lipgloss.NewStyle().Foreground(theme.ColorRed).
				Render(fmt.Sprintf("✗ %s: %v", m.result.Server, m.result.Err))
		} else {
			body = lipgloss.NewStyle().Foreground(theme.ColorGreen).
				Render(fmt.Sprintf("✓ Connected to %s", m.result.Server))
		}
		body += "\n\n" + theme.HelpStyle.Render("press any key to continue")
	default:
		if m.form == nil {
			return ""
		}
		body = m.form.View()
		if m.validator != nil {
			body += "\n" + theme.HelpStyle.Render("ctrl+t: test mail server connection")
		}
	}

	content := titleStyle.Render("Follow-up Settings") + "\n" + body

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	var delayField huh.Field
	if m.policy.DemoMode {
		delayField = huh.NewSelect[int]().
			Title("Reminder delay").
			Description("How long an important email may wait for a reply").
			Options(DelayOptions()...).
			Value(&m.fb.delaySec)
	} else {
		delayField = huh.NewInput().
			Title("Reminder delay (seconds)").
			Description("How long an important email may wait for a reply").
			Value(&m.fb.delayText).
			Validate(validateSeconds)
	}

	return huh.NewForm(
		huh.NewGroup(
			delayField,
			huh.NewConfirm().
				Title("Save to config file?").
				Affirmative("Yes").
				Negative("This session only").
				Value(&m.fb.persist),
		),
	).WithWidth(m.formWidth()).WithShowHelp(true)
}

func (m Model) handleSubmit() tea.Cmd {
	secs := m.fb.delaySec
	if !m.policy.DemoMode {
		secs, _ = strconv.Atoi(strings.TrimSpace(m.fb.delayText))
	}
	msg := SavedMsg{
		Delay:   time.Duration(secs) * time.Second,
		Persist: m.fb.persist,
	}
	return func() tea.Msg { return msg }
}

func (m Model) validate() tea.Cmd {
	v := m.validator
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return ValidateResultMsg{Server: v.Server(), Err: v.ValidateConnection(ctx)}
	}
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 80 {
		w = 80
	}
	return w
}

// DelayOptions lists the selectable demo delays.
func DelayOptions() []huh.Option[int] {
	var opts []huh.Option[int]
	for d := model.DemoMinDelay; d <= model.DemoMaxDelay; d += model.DemoStep {
		secs := int(d / time.Second)
		opts = append(opts, huh.NewOption(fmt.Sprintf("%d seconds", secs), secs))
	}
	return opts
}

func validateSeconds(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fmt.Errorf("enter a whole number of seconds")
	}
	return nil
}
