package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// EmailsScored counts scorer verdicts.
	EmailsScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_emails_scored_total",
			Help: "Total number of emails scored, by verdict",
		},
		[]string{"verdict"}, // important, normal
	)

	// ScoringDuration observes how long scoring took, including any
	// simulated latency.
	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "followup_scoring_duration_seconds",
			Help:    "Importance scoring duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// RemindersFired counts reminders generated on deadline expiry.
	RemindersFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "followup_reminders_total",
			Help: "Total number of follow-up reminders generated",
		},
	)

	// DeadlinesSkipped counts deadlines that fired after a reply landed.
	DeadlinesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "followup_deadlines_skipped_total",
			Help: "Deadlines that expired for emails no longer pending",
		},
	)

	// Replies counts replies recorded through the tracker.
	Replies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "followup_replies_total",
			Help: "Total number of replies recorded",
		},
	)

	// TrackerErrors counts store failures seen by the tracker.
	TrackerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_tracker_errors_total",
			Help: "Store failures during deadline processing",
		},
		[]string{"op"}, // read, mark_reminded, add_reminder, mark_replied
	)

	// PendingDeadlines is the number of armed deadlines.
	PendingDeadlines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "followup_pending_deadlines",
			Help: "Number of armed follow-up deadlines",
		},
	)

	// IngestedEmails counts messages pulled from the IMAP source.
	IngestedEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "followup_ingested_emails_total",
			Help: "Messages fetched from the mail source, by outcome",
		},
		[]string{"status"}, // created, duplicate, failed
	)
)

// RecordVerdict records one scorer verdict and its duration.
func RecordVerdict(important bool, duration time.Duration) {
	verdict := "normal"
	if important {
		verdict = "important"
	}
	EmailsScored.WithLabelValues(verdict).Inc()
	ScoringDuration.Observe(duration.Seconds())
}

// IncrementTrackerError increments the tracker error counter for op.
func IncrementTrackerError(op string) {
	TrackerErrors.WithLabelValues(op).Inc()
}

// IncrementIngested increments the ingestion counter for status.
func IncrementIngested(status string) {
	IngestedEmails.WithLabelValues(status).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled. It returns
// immediately when addr is empty.
func Serve(ctx context.Context, addr string, logger *zap.Logger) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics endpoint listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", zap.Error(err))
		}
	}()
}
