// Package scheduler runs the periodic sweeps over stored reports and the inbox.
package scheduler

import (
	"context"
	"sync"
	"time"

	"report-filing-bot/correlation"
	"report-filing-bot/lifecycle"
	"report-filing-bot/metrics"
	"report-filing-bot/models"

	"github.com/apex/log"
)

// Store is the part of the record store the sweeps query
type Store interface {
	QueryReports(ctx context.Context, statuses []models.Status, updatedBefore time.Time, limit int) ([]models.Report, error)
	PurgeReports(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Lifecycle applies follow-ups and replies to single reports
type Lifecycle interface {
	FollowUp(ctx context.Context, reportID int64) (lifecycle.FollowUpOutcome, error)
	Reconcile(ctx context.Context, reply models.Reply) (lifecycle.ReplyOutcome, error)
}

// Inbox polls unread correlated mail
type Inbox interface {
	Poll(ctx context.Context, limit int) ([]models.InboundMessage, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// Config configures the sweeps.
type Config struct {
	// FollowUpPeriod is how long a sent report waits for a reply before each follow-up.
	FollowUpPeriod time.Duration
	// FollowUpInterval is how often the follow-up sweep runs.
	FollowUpInterval time.Duration
	// ReplyPollInterval is how often the reply sweep polls the inbox.
	ReplyPollInterval time.Duration
	// MaxReplyBatch bounds the messages handled by one reply sweep. Zero means no bound.
	MaxReplyBatch int
	// ReplyMaxLength bounds reply text forwarded to the chat, in runes.
	ReplyMaxLength int
	// MaxReplyAttempts is how many sweeps may fail on one message before it is marked seen.
	MaxReplyAttempts int
	// RetentionPeriod is the age after which reports are purged. Zero disables purging.
	RetentionPeriod time.Duration
	// RetentionInterval is how often the purge runs.
	RetentionInterval time.Duration
}

func (c *Config) defaults() {
	if c.FollowUpInterval <= 0 {
		c.FollowUpInterval = time.Hour
	}
	if c.ReplyPollInterval <= 0 {
		c.ReplyPollInterval = 5 * time.Minute
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = 24 * time.Hour
	}
	if c.MaxReplyAttempts <= 0 {
		c.MaxReplyAttempts = 5
	}
}

// Scheduler owns the follow-up, reply and retention sweeps
type Scheduler struct {
	store     Store
	lifecycle Lifecycle
	inbox     Inbox
	config    Config
	now       func() time.Time

	// replyFailures counts failed sweeps per unread message uid
	mu            sync.Mutex
	replyFailures map[uint32]int
}

// New creates a Scheduler. A nil inbox disables the reply sweep.
func New(store Store, lc Lifecycle, inbox Inbox, cfg Config) *Scheduler {
	cfg.defaults()
	return &Scheduler{
		store:     store,
		lifecycle: lc,
		inbox:     inbox,
		config:    cfg,
		now:       time.Now,

		replyFailures: make(map[uint32]int),
	}
}

// Run starts every enabled sweep on its own ticker. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	start := func(name string, interval time.Duration, sweep func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runEvery(ctx, name, interval, sweep)
		}()
	}

	start("followup", s.config.FollowUpInterval, func(ctx context.Context) { s.SweepFollowUps(ctx) })
	if s.inbox != nil {
		start("replies", s.config.ReplyPollInterval, func(ctx context.Context) { s.SweepReplies(ctx) })
	} else {
		log.Warn("Inbox not configured, reply sweep disabled")
	}
	if s.config.RetentionPeriod > 0 {
		start("retention", s.config.RetentionInterval, func(ctx context.Context) { s.SweepRetention(ctx) })
	}

	wg.Wait()
}

// runEvery runs sweep once immediately and then on every tick until ctx is cancelled
func runEvery(ctx context.Context, name string, interval time.Duration, sweep func(context.Context)) {
	log.Infof("Starting %s sweep every %s", name, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Infof("Stopping %s sweep", name)
			return
		case <-ticker.C:
			sweep(ctx)
		}
	}
}

// SweepFollowUps processes every report whose last update is older than the follow-up period.
// It returns the number of follow-ups sent.
func (s *Scheduler) SweepFollowUps(ctx context.Context) int {
	defer metrics.ObserveSweep("followup", s.now())

	cutoff := s.now().Add(-s.config.FollowUpPeriod)
	reports, err := s.store.QueryReports(ctx, models.FollowUpEligible, cutoff, 0)
	if err != nil {
		log.WithError(err).Error("Follow-up sweep: failed to query reports")
		return 0
	}
	if len(reports) > 0 {
		log.Infof("Follow-up sweep: %d reports eligible", len(reports))
	}

	sent := 0
	for _, r := range reports {
		if ctx.Err() != nil {
			return sent
		}
		outcome, err := s.lifecycle.FollowUp(ctx, r.ID)
		entry := log.WithFields(log.Fields{"report_id": r.ID, "outcome": outcome})
		if err != nil {
			entry.WithError(err).Warn("Follow-up sweep: report not followed up")
			continue
		}
		if outcome == lifecycle.FollowUpSent {
			sent++
		}
		entry.Debug("Follow-up sweep: report processed")
	}
	return sent
}

// SweepReplies polls the inbox and reconciles every correlated reply.
// Handled messages are marked seen. A message whose reconciliation failed stays
// unread for the next sweep until it has failed MaxReplyAttempts times.
// Messages that can never be correlated are marked seen right away, so the
// oldest-first batch cannot fill up with them. It returns the number of handled replies.
func (s *Scheduler) SweepReplies(ctx context.Context) int {
	defer metrics.ObserveSweep("replies", s.now())

	messages, err := s.inbox.Poll(ctx, s.config.MaxReplyBatch)
	if err != nil {
		log.WithError(err).Error("Reply sweep: failed to poll inbox")
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	failures := make(map[uint32]int, len(messages))
	var seen []uint32
	handled := 0
	for _, m := range messages {
		if ctx.Err() != nil {
			// keep the counts of messages not reached in this sweep
			if n, ok := s.replyFailures[m.UID]; ok {
				failures[m.UID] = n
			}
			continue
		}

		reply, err := correlation.ParseInbound(m.Raw, s.config.ReplyMaxLength)
		if err != nil {
			log.WithError(err).Warnf("Reply sweep: message %d cannot be correlated, marking it seen", m.UID)
			seen = append(seen, m.UID)
			continue
		}

		outcome, err := s.lifecycle.Reconcile(ctx, *reply)
		if outcome.Handled() {
			handled++
			seen = append(seen, m.UID)
			continue
		}

		entry := log.WithFields(log.Fields{"report_id": reply.ReportID, "uid": m.UID, "outcome": outcome})
		if err != nil {
			entry = entry.WithError(err)
		}
		attempts := s.replyFailures[m.UID] + 1
		if attempts >= s.config.MaxReplyAttempts {
			entry.Warnf("Reply sweep: giving up after %d attempts, marking message seen", attempts)
			seen = append(seen, m.UID)
			continue
		}
		entry.Warnf("Reply sweep: reply not reconciled (attempt %d of %d)", attempts, s.config.MaxReplyAttempts)
		failures[m.UID] = attempts
	}
	// uids missing from this poll were read or removed elsewhere
	s.replyFailures = failures

	if len(seen) > 0 {
		if err := s.inbox.MarkSeen(ctx, seen); err != nil {
			log.WithError(err).Warn("Reply sweep: failed to mark messages seen")
		}
	}
	return handled
}

// SweepRetention purges reports older than the retention period
func (s *Scheduler) SweepRetention(ctx context.Context) int64 {
	if s.config.RetentionPeriod <= 0 {
		return 0
	}
	defer metrics.ObserveSweep("retention", s.now())

	count, err := s.store.PurgeReports(ctx, s.now().Add(-s.config.RetentionPeriod))
	if err != nil {
		log.WithError(err).Error("Retention sweep: failed to purge reports")
		return 0
	}
	if count > 0 {
		log.Infof("Retention sweep: purged %d reports", count)
	}
	return count
}
