package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/inbox-followup/internal/inbox"
	"github.com/nhle/inbox-followup/internal/metrics"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/source"
	"github.com/nhle/inbox-followup/internal/source/email"
	"github.com/nhle/inbox-followup/internal/store"
)

// SyncState represents the current state of the mailbox sync.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "syncing"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the sync state of the mailbox.
type SyncStatus struct {
	Server   string
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a sync pass completes.
type SyncResultMsg struct {
	Server     string
	Fetched    int
	Created    int
	Duplicates int
	Skipped    int
	Failed     int
	Error      error
	AuthError  *AuthErrorMsg
}

// AuthErrorMsg is a tea.Msg sent when the mail server rejects the login.
type AuthErrorMsg struct {
	Server  string
	Message string
}

// Fetcher reads recent messages from a mailbox.
type Fetcher interface {
	Server() string
	FetchRecent(ctx context.Context, since time.Time, limit int) ([]email.Message, error)
}

// Receiver accepts messages into the shared inbox.
type Receiver interface {
	Receive(ctx context.Context, in inbox.Incoming) (*model.Email, error)
}

const (
	// fetchTimeout bounds reading the mailbox in a sync pass.
	fetchTimeout = 30 * time.Second

	// receiveTimeout bounds scoring and storing one fetched message.
	receiveTimeout = 15 * time.Second

	// fetchLimit caps the messages read per pass.
	fetchLimit = 50

	// initialLookback is how far back the first pass searches.
	initialLookback = 7 * 24 * time.Hour

	// sinceMargin is subtracted from the last sync time; IMAP SINCE has
	// day granularity and the store drops the duplicates.
	sinceMargin = 24 * time.Hour
)

// Poller periodically pulls messages from a mailbox into the inbox.
type Poller struct {
	fetcher  Fetcher
	receiver Receiver
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	fetchTimeout   time.Duration
	receiveTimeout time.Duration

	resultCh  chan SyncResultMsg
	triggerCh chan struct{}
	stopCh    chan struct{}

	mu      gosync.Mutex
	status  SyncStatus
	running bool
}

// New creates a Poller that fetches from f every interval and hands
// each message to r.
func New(f Fetcher, r Receiver, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:   f,
		receiver:  r,
		interval:  interval,
		logger:    logger,
		now:       time.Now,

		fetchTimeout:   fetchTimeout,
		receiveTimeout: receiveTimeout,
		resultCh:  make(chan SyncResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		status:    SyncStatus{Server: f.Server()},
	}
}

// Start returns a tea.Cmd that starts the polling goroutine and
// subscribes to results.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()

	return p.waitForResult()
}

// Stop halts the polling goroutine.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// Refresh triggers an immediate sync pass.
func (p *Poller) Refresh() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A pass is already queued.
	}
}

// Status returns the current sync status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// WaitForNextResult returns a tea.Cmd that waits for the next sync result.
// Call it after handling a SyncResultMsg to keep listening.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sendResult(p.syncOnce())

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendResult(p.syncOnce())
		case <-p.triggerCh:
			p.sendResult(p.syncOnce())
		}
	}
}

// syncOnce fetches recent messages and receives each one. Messages
// already answered in the mailbox are skipped.
func (p *Poller) syncOnce() SyncResultMsg {
	server := p.fetcher.Server()
	since := p.since()
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), p.fetchTimeout)
	messages, err := p.fetcher.FetchRecent(ctx, since, fetchLimit)
	cancel()
	if err != nil {
		p.setStatus(SyncError, err)
		p.logger.Warn("mailbox sync failed", zap.String("server", server), zap.Error(err))

		res := SyncResultMsg{Server: server, Error: err}
		if source.IsAuthError(err) {
			res.AuthError = &AuthErrorMsg{
				Server: server,
				Message: fmt.Sprintf(
					"%s: login rejected. Update the password with `followup set-password`.",
					server,
				),
			}
		}
		return res
	}

	res := SyncResultMsg{Server: server, Fetched: len(messages)}
	for _, m := range messages {
		if m.Envelope.Answered() {
			res.Skipped++
			continue
		}

		err := p.receive(m)
		switch {
		case err == nil:
			res.Created++
			metrics.IncrementIngested("created")
		case errors.Is(err, store.ErrDuplicate):
			res.Duplicates++
			metrics.IncrementIngested("duplicate")
		default:
			res.Failed++
			metrics.IncrementIngested("failed")
			p.logger.Warn("receiving fetched message",
				zap.String("message_id", m.Envelope.MessageID),
				zap.Error(err))
		}
	}

	p.setStatus(SyncIdle, nil)
	p.logger.Info("mailbox synced",
		zap.String("server", server),
		zap.Int("fetched", res.Fetched),
		zap.Int("created", res.Created),
		zap.Int("duplicates", res.Duplicates))
	return res
}

// receive hands one message to the receiver under its own timeout, so
// a slow scorer cannot starve the rest of the pass.
func (p *Poller) receive(m email.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.receiveTimeout)
	defer cancel()

	_, err := p.receiver.Receive(ctx, toIncoming(m))
	return err
}

// since returns the search start for the next pass.
func (p *Poller) since() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.LastSync.IsZero() {
		return p.now().Add(-initialLookback)
	}
	return p.status.LastSync.Add(-sinceMargin)
}

// toIncoming maps a fetched message to an inbox message. Subject and
// body may legitimately be empty in mail, but not in the inbox. Mail
// without a Message-ID still gets a stable ExternalID so later passes
// see it as a duplicate.
func toIncoming(m email.Message) inbox.Incoming {
	in := inbox.Incoming{
		Subject:    m.Envelope.Subject,
		Content:    m.Content(),
		Sender:     m.Envelope.Sender(),
		ExternalID: m.Envelope.ExternalID(),
	}
	if in.Subject == "" {
		in.Subject = "(no subject)"
	}
	if in.Content == "" {
		in.Content = "(no content)"
	}
	return in
}

// setStatus updates the sync status.
func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = p.now()
	}
}

// sendResult sends a SyncResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

// waitForResult returns a tea.Cmd that waits for the next result from
// the result channel.
func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		select {
		case result := <-p.resultCh:
			return result
		case <-p.stopCh:
			return nil
		}
	}
}
