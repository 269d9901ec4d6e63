package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/inbox-followup/internal/keys"
	"github.com/nhle/inbox-followup/internal/model"
)

type fakeValidator struct{ err error }

func (f fakeValidator) Server() string { return "imap.example.com:993" }

func (f fakeValidator) ValidateConnection(context.Context) error { return f.err }

func TestDelayOptions(t *testing.T) {
	opts := DelayOptions()
	require.Len(t, opts, 12)
	assert.Equal(t, 5, opts[0].Value)
	assert.Equal(t, "5 seconds", opts[0].Key)
	assert.Equal(t, 60, opts[len(opts)-1].Value)
}

func TestValidateSeconds(t *testing.T) {
	assert.NoError(t, validateSeconds("86400"))
	assert.NoError(t, validateSeconds(" 30 "))
	assert.Error(t, validateSeconds("0"))
	assert.Error(t, validateSeconds("-5"))
	assert.Error(t, validateSeconds("soon"))
}

func TestHandleSubmit(t *testing.T) {
	m := New(keys.DefaultKeyMap(), nil, 80, 24)
	m.Start(model.FollowUpConfig{DelaySec: 10, DemoMode: true})
	m.fb.delaySec = 25
	m.fb.persist = false

	msg := m.handleSubmit()()
	assert.Equal(t, SavedMsg{Delay: 25 * time.Second}, msg)

	m.Start(model.FollowUpConfig{DelaySec: 86400})
	assert.Equal(t, "86400", m.fb.delayText)
	m.fb.delayText = " 3600 "
	m.fb.persist = true

	msg = m.handleSubmit()()
	assert.Equal(t, SavedMsg{Delay: time.Hour, Persist: true}, msg)
}

func TestEscClosesWithoutSaving(t *testing.T) {
	m := New(keys.DefaultKeyMap(), nil, 80, 24)
	m.Start(model.FollowUpConfig{DelaySec: 10, DemoMode: true})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, DoneMsg{}, cmd())
}

func TestConnectionTest(t *testing.T) {
	m := New(keys.DefaultKeyMap(), fakeValidator{err: errors.New("login rejected")}, 80, 24)
	m.Start(model.FollowUpConfig{DelaySec: 10, DemoMode: true})

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	require.Equal(t, ModeValidating, m.mode)

	result := m.validate()()
	m, _ = m.Update(result)
	assert.Equal(t, ModeValidateResult, m.mode)
	assert.Contains(t, m.View(), "login rejected")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ModeForm, m.mode)
}

func TestConnectionTest_HiddenWithoutValidator(t *testing.T) {
	m := New(keys.DefaultKeyMap(), nil, 80, 24)
	m.Start(model.FollowUpConfig{DelaySec: 10, DemoMode: true})

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, ModeForm, m.mode)
	assert.NotContains(t, m.View(), "ctrl+t")
}
