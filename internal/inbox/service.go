// Package inbox ties the scorer, the lifecycle store and the follow-up
// tracker together behind the operations the UI and the mail poller use.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/inbox-followup/internal/metrics"
	"github.com/nhle/inbox-followup/internal/model"
	"github.com/nhle/inbox-followup/internal/scorer"
	"github.com/nhle/inbox-followup/internal/store"
	"github.com/nhle/inbox-followup/internal/tracker"
)

// ErrInvalidEmail is returned when an incoming email lacks a subject,
// content or sender.
var ErrInvalidEmail = errors.New("invalid email")

// Tracker is the part of the follow-up tracker the service drives.
type Tracker interface {
	ScheduleDeadline(emailID string, delay time.Duration) *tracker.Handle
	OnReply(ctx context.Context, emailID string) error
}

// Mailbox is the mail server a fetched email came from.
type Mailbox interface {
	MarkAnswered(ctx context.Context, messageID string) error
}

// Incoming is an email arriving in the shared inbox, either composed in
// the UI or fetched from a mail server.
type Incoming struct {
	Subject string
	Content string
	Sender  string

	// ExternalID is the Message-ID of a fetched message. Empty for
	// composed mail.
	ExternalID string
}

func (in Incoming) normalize() Incoming {
	return Incoming{
		Subject:    strings.TrimSpace(in.Subject),
		Content:    strings.TrimSpace(in.Content),
		Sender:     strings.TrimSpace(in.Sender),
		ExternalID: strings.TrimSpace(in.ExternalID),
	}
}

func (in Incoming) validate() error {
	var missing []string
	if in.Subject == "" {
		missing = append(missing, "subject")
	}
	if in.Content == "" {
		missing = append(missing, "content")
	}
	if in.Sender == "" {
		missing = append(missing, "sender")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEmail, strings.Join(missing, ", "))
	}
	return nil
}

// SampleImportant returns a message the scorer flags as important.
func SampleImportant() Incoming {
	return Incoming{
		Subject: "URGENT: Client Payment Issue",
		Content: "Hi team, we have a critical payment issue with our largest client. " +
			"They need a response by tomorrow at 3 PM. Please review the attached " +
			"invoice and get back to me ASAP.",
		Sender: "finance@client.com",
	}
}

// SampleNormal returns a message the scorer does not flag.
func SampleNormal() Incoming {
	return Incoming{
		Subject: "Team Newsletter - February Edition",
		Content: "Hello everyone! Here is our monthly newsletter with updates from " +
			"around the company. Enjoy reading about our latest achievements and " +
			"upcoming events.",
		Sender: "hr@company.com",
	}
}

// Service receives emails into the shared inbox and records replies.
type Service struct {
	store   store.Store
	scorer  scorer.Scorer
	tracker Tracker
	mailbox Mailbox
	logger  *zap.Logger
	now     func() time.Time

	mu     gosync.RWMutex
	policy model.FollowUpConfig
}

// NewService creates a Service. policy supplies the initial follow-up
// delay and whether it is bounded to the demo range.
func NewService(
	s store.Store,
	sc scorer.Scorer,
	tr Tracker,
	policy model.FollowUpConfig,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.DelaySec = int(policy.ClampDelay(policy.Delay()) / time.Second)
	return &Service{
		store:   s,
		scorer:  sc,
		tracker: tr,
		logger:  logger,
		now:     time.Now,
		policy:  policy,
	}
}

// UseMailbox makes Reply flag fetched emails as answered on the mail
// server.
func (s *Service) UseMailbox(m Mailbox) {
	s.mailbox = m
}

// Delay returns the follow-up delay applied to newly received emails.
func (s *Service) Delay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy.Delay()
}

// SetDelay changes the follow-up delay for emails received from now on
// and returns the value actually applied. Deadlines already armed keep
// the delay they were scheduled with.
func (s *Service) SetDelay(d time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d = s.policy.ClampDelay(d)
	s.policy.DelaySec = int(d / time.Second)
	s.logger.Info("follow-up delay changed", zap.Duration("delay", d))
	return d
}

// Receive scores an incoming email, persists it as pending and, when it
// is important, arms its follow-up deadline. A message whose ExternalID
// was already received returns the stored email and store.ErrDuplicate.
func (s *Service) Receive(ctx context.Context, in Incoming) (*model.Email, error) {
	in = in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}

	if in.ExternalID != "" {
		existing, err := s.store.FindByExternalID(ctx, in.ExternalID)
		if err == nil {
			return existing, store.ErrDuplicate
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("checking for duplicate: %w", err)
		}
	}

	start := time.Now()
	verdict, err := s.scorer.Evaluate(ctx, in.Subject, in.Content)
	if err != nil {
		return nil, fmt.Errorf("scoring email: %w", err)
	}
	metrics.RecordVerdict(verdict.IsImportant, time.Since(start))

	reason := verdict.Reason
	email, err := s.store.CreateEmail(ctx, model.Email{
		ExternalID:       in.ExternalID,
		Subject:          in.Subject,
		Content:          in.Content,
		Sender:           in.Sender,
		IsImportant:      verdict.IsImportant,
		ImportanceReason: &reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, findErr := s.store.FindByExternalID(ctx, in.ExternalID)
			if findErr == nil {
				return existing, store.ErrDuplicate
			}
		}
		return nil, fmt.Errorf("storing email: %w", err)
	}

	s.logger.Info("email received",
		zap.String("email_id", email.ID),
		zap.String("sender", email.Sender),
		zap.Bool("important", email.IsImportant),
		zap.Int("score", verdict.Score))

	if email.IsImportant {
		s.tracker.ScheduleDeadline(email.ID, s.Delay())
	}
	return email, nil
}

// Reply records that email id has been answered and cancels its
// deadline. For a fetched email the server copy is also flagged
// answered; failing to do so is logged, not returned.
func (s *Service) Reply(ctx context.Context, id string) error {
	if err := s.tracker.OnReply(ctx, id); err != nil {
		return err
	}
	s.logger.Info("email replied", zap.String("email_id", id))

	if s.mailbox == nil {
		return nil
	}
	email, err := s.store.GetEmail(ctx, id)
	if err != nil || email.ExternalID == "" {
		return nil
	}
	if err := s.mailbox.MarkAnswered(ctx, email.ExternalID); err != nil {
		s.logger.Warn("flagging message answered on server",
			zap.String("email_id", id),
			zap.String("message_id", email.ExternalID),
			zap.Error(err))
	}
	return nil
}

// Rearm schedules deadlines for important emails that are still pending
// in the store, such as after a restart. Each deadline is measured from
// the email's creation time with the current delay; emails already past
// it expire immediately. It returns the number of deadlines armed.
func (s *Service) Rearm(ctx context.Context) (int, error) {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending emails: %w", err)
	}

	delay := s.Delay()
	now := s.now()
	for _, e := range pending {
		remaining := e.CreatedAt.Add(delay).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		s.tracker.ScheduleDeadline(e.ID, remaining)
	}

	if len(pending) > 0 {
		s.logger.Info("re-armed follow-up deadlines", zap.Int("count", len(pending)))
	}
	return len(pending), nil
}
