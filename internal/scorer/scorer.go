package scorer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nhle/inbox-followup/internal/model"
)

// ImportanceThreshold is the minimum score for an email to be important.
const ImportanceThreshold = 2

// LowPriorityReason is returned for every email below the threshold,
// regardless of any partial matches.
const LowPriorityReason = "No urgent keywords or action items detected. " +
	"Appears to be informational or low priority."

const (
	questionBonus = 2
	deadlineBonus = 3

	questionNote = "Multiple questions requiring answers"
	deadlineNote = "Contains time-sensitive information"
)

// category is a named keyword list. Each matched keyword adds one point.
type category struct {
	name  string
	words []string
}

// categories are scored in this order; the order determines the order
// of notes in the reason text.
var categories = []category{
	{
		name:  "urgent",
		words: []string{"urgent", "asap", "important", "critical", "emergency", "immediate"},
	},
	{
		name:  "action",
		words: []string{"please review", "need response", "requires action", "waiting for", "deadline"},
	},
	{
		name:  "business",
		words: []string{"invoice", "payment", "contract", "proposal", "meeting", "client"},
	},
}

// deadlinePattern matches dates like 3/4 or 12/31, times like 9:30,
// and the words today, tomorrow and this week.
var deadlinePattern = regexp.MustCompile(`(?i)\d{1,2}/\d{1,2}|\d{1,2}:\d{2}|today|tomorrow|this week`)

// Scorer produces an importance verdict for an email. Implementations
// may be slow; callers abandon an evaluation by cancelling ctx.
type Scorer interface {
	Evaluate(ctx context.Context, subject, content string) (model.Verdict, error)
}

// Option configures a KeywordScorer.
type Option func(*KeywordScorer)

// WithLatency makes every evaluation wait d before answering.
func WithLatency(d time.Duration) Option {
	return func(s *KeywordScorer) {
		s.latency = d
	}
}

// KeywordScorer is the rule-based Scorer: keyword categories, repeated
// question marks and time-sensitive phrases.
type KeywordScorer struct {
	latency time.Duration
}

// New creates a KeywordScorer.
func New(opts ...Option) *KeywordScorer {
	s := &KeywordScorer{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Evaluate scores subject and content. The result depends only on the
// inputs; the only error is ctx.Err() when ctx ends during the
// configured latency.
func (s *KeywordScorer) Evaluate(
	ctx context.Context,
	subject, content string,
) (model.Verdict, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return model.Verdict{}, ctx.Err()
		case <-timer.C:
		}
	}

	return Score(subject, content), nil
}

// Score is the synchronous rule engine behind KeywordScorer.
func Score(subject, content string) model.Verdict {
	corpus := strings.ToLower(subject + " " + content)

	score := 0
	var notes []string

	for _, c := range categories {
		var matched []string
		for _, w := range c.words {
			if strings.Contains(corpus, w) {
				matched = append(matched, w)
			}
		}
		if len(matched) > 0 {
			score += len(matched)
			notes = append(notes, fmt.Sprintf(
				"Contains %s keywords: %s", c.name, strings.Join(matched, ", "),
			))
		}
	}

	// Two or more '?' means splitting on '?' yields more than two fragments.
	if strings.Count(corpus, "?") >= 2 {
		score += questionBonus
		notes = append(notes, questionNote)
	}

	if deadlinePattern.MatchString(corpus) {
		score += deadlineBonus
		notes = append(notes, deadlineNote)
	}

	v := model.Verdict{
		IsImportant: score >= ImportanceThreshold,
		Score:       score,
		Reason:      LowPriorityReason,
	}
	if v.IsImportant {
		v.Reason = strings.Join(notes, ". ")
	}
	return v
}
