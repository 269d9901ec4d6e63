package tracker

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/inbox-followup/internal/metrics"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/store"
)

// defaultOpTimeout bounds the store calls made when a deadline expires.
const defaultOpTimeout = 10 * time.Second

// Store is the subset of the lifecycle store the tracker needs.
type Store interface {
	GetEmail(ctx context.Context, id string) (*model.Email, error)
	MarkReplied(ctx context.Context, id string) error
	Remind(ctx context.Context, emailID, message string) (*model.Reminder, error)
}

// ReminderMessage is the text of the reminder generated for an email
// that reached its deadline without a reply.
func ReminderMessage(subject, sender string) string {
	return fmt.Sprintf(
		"No response received for email: \"%s\" from %s. This requires follow-up action.",
		subject, sender,
	)
}

// Handle is one armed deadline.
type Handle struct {
	EmailID  string
	Deadline time.Time

	timer Timer
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces the real clock.
func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger used to report store failures.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithOpTimeout bounds the store calls made on deadline expiry.
func WithOpTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.opTimeout = d }
}

// Tracker arms a one-shot deadline per important email. When a deadline
// expires and the email is still pending, the email is marked reminded
// and a reminder is added. A reply cancels the deadline.
//
// For a given email, the expiry read-then-act and OnReply's
// cancel-then-mark run under the same per-email lock, and the store's
// transition is itself conditional on the pending status.
type Tracker struct {
	store     Store
	clock     Clock
	logger    *zap.Logger
	opTimeout time.Duration
	locks     *emailLocks

	mu        gosync.Mutex
	deadlines map[string]*Handle
}

// New creates a Tracker backed by s.
func New(s Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:     s,
		clock:     realClock{},
		logger:    zap.NewNop(),
		opTimeout: defaultOpTimeout,
		locks:     newEmailLocks(),
		deadlines: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ScheduleDeadline arms a deadline for emailID that expires after delay.
// Callers must not schedule an email twice without cancelling; if they
// do, the earlier deadline is stopped and replaced.
func (t *Tracker) ScheduleDeadline(emailID string, delay time.Duration) *Handle {
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.deadlines[emailID]; ok {
		old.timer.Stop()
		t.logger.Warn("deadline scheduled twice, replacing",
			zap.String("email_id", emailID))
	}

	h := &Handle{
		EmailID:  emailID,
		Deadline: t.clock.Now().Add(delay),
	}
	t.deadlines[emailID] = h
	h.timer = t.clock.AfterFunc(delay, func() { t.expire(h) })
	metrics.PendingDeadlines.Set(float64(len(t.deadlines)))

	t.logger.Debug("deadline scheduled",
		zap.String("email_id", emailID),
		zap.Duration("delay", delay))
	return h
}

// Cancel stops and discards the deadline for emailID, if any. A callback
// that has already started is not interrupted.
func (t *Tracker) Cancel(emailID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.deadlines[emailID]
	if !ok {
		return
	}
	h.timer.Stop()
	delete(t.deadlines, emailID)
	metrics.PendingDeadlines.Set(float64(len(t.deadlines)))
}

// OnReply cancels any deadline for emailID and marks the email replied.
func (t *Tracker) OnReply(ctx context.Context, emailID string) error {
	unlock := t.locks.lock(emailID)
	defer unlock()

	t.Cancel(emailID)

	if err := t.store.MarkReplied(ctx, emailID); err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrTerminalStatus) {
			metrics.IncrementTrackerError("mark_replied")
		}
		return fmt.Errorf("recording reply: %w", err)
	}

	metrics.Replies.Inc()
	return nil
}

// Deadline returns when the deadline for emailID expires.
func (t *Tracker) Deadline(emailID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.deadlines[emailID]
	if !ok {
		return time.Time{}, false
	}
	return h.Deadline, true
}

// Pending returns the number of armed deadlines.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deadlines)
}

// Stop cancels every armed deadline.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, h := range t.deadlines {
		h.timer.Stop()
		delete(t.deadlines, id)
	}
	metrics.PendingDeadlines.Set(0)
}

// expire runs when h's deadline is reached. It re-reads the email rather
// than trusting any cached status: a reply may have landed since the
// deadline was armed.
func (t *Tracker) expire(h *Handle) {
	unlock := t.locks.lock(h.EmailID)
	defer unlock()
	defer t.discard(h)

	ctx, cancel := context.WithTimeout(context.Background(), t.opTimeout)
	defer cancel()

	log := t.logger.With(zap.String("email_id", h.EmailID))

	email, err := t.store.GetEmail(ctx, h.EmailID)
	if err != nil {
		metrics.IncrementTrackerError("read")
		log.Error("reading email at deadline", zap.Error(err))
		return
	}

	if email.Status != model.StatusPending {
		metrics.DeadlinesSkipped.Inc()
		log.Debug("deadline expired after email left pending",
			zap.String("status", string(email.Status)))
		return
	}

	reminder, err := t.store.Remind(ctx, h.EmailID, ReminderMessage(email.Subject, email.Sender))
	if err != nil {
		if errors.Is(err, store.ErrTerminalStatus) {
			metrics.DeadlinesSkipped.Inc()
			log.Debug("email left pending during deadline processing")
			return
		}
		metrics.IncrementTrackerError("remind")
		log.Error("recording reminder", zap.Error(err))
		return
	}

	metrics.RemindersFired.Inc()
	log.Info("follow-up reminder generated",
		zap.String("reminder_id", reminder.ID),
		zap.String("subject", email.Subject))
}

// discard removes h from the deadline table if it is still the current
// handle for its email.
func (t *Tracker) discard(h *Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.deadlines[h.EmailID]; ok && cur == h {
		delete(t.deadlines, h.EmailID)
		metrics.PendingDeadlines.Set(float64(len(t.deadlines)))
	}
}
