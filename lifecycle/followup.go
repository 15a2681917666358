package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"report-filing-bot/correlation"
	"report-filing-bot/metrics"
	"report-filing-bot/models"

	"github.com/apex/log"
)

// ReplyOutcome is the result of reconciling one inbound reply
type ReplyOutcome string

const (
	// ReplyNotified: the chat was told and the report moved to reply_received.
	ReplyNotified ReplyOutcome = "notified"
	// ReplyDuplicate: the report already recorded a reply.
	ReplyDuplicate ReplyOutcome = "duplicate"
	// ReplyOrphaned: no report carries the reply's id.
	ReplyOrphaned ReplyOutcome = "orphaned"
	// ReplyIgnored: the report is in a status that never expects replies.
	ReplyIgnored ReplyOutcome = "ignored"
	// ReplyDeferred: the report is still being sent, the reply is retried later.
	ReplyDeferred ReplyOutcome = "deferred"
	// ReplyNotifyFailed: the chat could not be told, the status is unchanged.
	ReplyNotifyFailed ReplyOutcome = "notify_failed"
	// ReplyError: the store could not be read.
	ReplyError ReplyOutcome = "error"
)

// Handled reports whether the inbound message needs no further processing
func (o ReplyOutcome) Handled() bool {
	switch o {
	case ReplyNotified, ReplyDuplicate, ReplyOrphaned, ReplyIgnored:
		return true
	}
	return false
}

// FollowUpOutcome is the result of processing one follow-up candidate
type FollowUpOutcome string

const (
	FollowUpSent        FollowUpOutcome = "sent"
	FollowUpReplyFound  FollowUpOutcome = "reply_found"
	FollowUpNotEligible FollowUpOutcome = "not_eligible"
	FollowUpCapped      FollowUpOutcome = "capped"
	FollowUpNoThread    FollowUpOutcome = "no_thread"
	FollowUpCheckFailed FollowUpOutcome = "check_failed"
	FollowUpDraftFailed FollowUpOutcome = "draft_failed"
	FollowUpSendFailed  FollowUpOutcome = "send_failed"
)

// Reconcile applies an inbound reply to its report.
// The chat is notified at most once per report: the status moves to reply_received
// only after the notification succeeded, and a report already there is skipped.
func (s *Service) Reconcile(ctx context.Context, reply models.Reply) (ReplyOutcome, error) {
	unlock := s.locks.Lock(reply.ReportID)
	defer unlock()

	outcome, err := s.reconcileLocked(ctx, reply)
	metrics.ReplyReconciliationsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Service) reconcileLocked(ctx context.Context, reply models.Reply) (ReplyOutcome, error) {
	logger := log.WithField("report_id", reply.ReportID)

	report, err := s.store.GetReport(ctx, reply.ReportID)
	if err != nil {
		return ReplyError, err
	}
	if report == nil {
		logger.Warn("Orphaned reply: no report with this id")
		return ReplyOrphaned, nil
	}

	switch report.Status {
	case models.StatusReplyReceived:
		logger.Debug("Reply already reconciled")
		return ReplyDuplicate, nil
	case models.StatusSending:
		logger.Info("Reply arrived before the send was recorded, deferring it")
		return ReplyDeferred, nil
	case models.StatusSent, models.StatusFollowUpSent:
	default:
		logger.WithField("status", report.Status).Info("Ignoring reply for a report that was never sent")
		return ReplyIgnored, nil
	}

	if err := s.notifier.Notify(ctx, report.ChatID, replyNotification(report, reply)); err != nil {
		logger.WithError(err).Warn("Failed to notify chat of reply, will retry on the next sweep")
		return ReplyNotifyFailed, err
	}

	applied, err := s.transition(ctx, report, models.StatusReplyReceived, models.ReportUpdate{})
	if err != nil {
		logger.WithError(err).Error("Chat notified but reply status could not be recorded")
		return ReplyNotified, err
	}
	if !applied {
		logger.Warn("Report changed while the reply was being reconciled")
	}
	return ReplyNotified, nil
}

// FollowUp processes one report found by the follow-up sweep.
// The inbox is checked for a reply first; a reply found there is reconciled
// instead of sending. A failed send leaves the status as is and pushes the
// next attempt one follow-up period out.
func (s *Service) FollowUp(ctx context.Context, reportID int64) (FollowUpOutcome, error) {
	unlock := s.locks.Lock(reportID)
	defer unlock()

	outcome, err := s.followUpLocked(ctx, reportID)
	metrics.FollowUpsTotal.WithLabelValues(string(outcome)).Inc()
	return outcome, err
}

func (s *Service) followUpLocked(ctx context.Context, reportID int64) (FollowUpOutcome, error) {
	logger := log.WithField("report_id", reportID)

	// re-read: the snapshot the sweep queried may be stale
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return FollowUpNotEligible, err
	}
	if report == nil || (report.Status != models.StatusSent && report.Status != models.StatusFollowUpSent) {
		return FollowUpNotEligible, nil
	}
	if s.opts.MaxFollowUps > 0 && report.FollowUpCount >= s.opts.MaxFollowUps {
		logger.Debugf("Follow-up cap of %d reached", s.opts.MaxFollowUps)
		return FollowUpCapped, nil
	}

	found, err := s.reconcilePendingReply(ctx, report)
	if found {
		return FollowUpReplyFound, err
	}
	if err != nil {
		logger.WithError(err).Warn("Reply check failed, skipping follow-up this cycle")
		return FollowUpCheckFailed, err
	}

	if report.OutboundMessageID == "" {
		logger.Warn("Report has no outbound message id, cannot thread a follow-up")
		return FollowUpNoThread, nil
	}

	body, err := s.llm.DraftFollowUp(ctx, *report)
	if err != nil {
		logger.WithError(err).Error("Failed to draft follow-up")
		s.postpone(ctx, report)
		return FollowUpDraftFailed, err
	}

	subject := correlation.FollowUpSubject(correlation.FormatSubject(s.opts.SubjectTemplate, report.SubjectName, report.ID))
	if _, err := s.mailer.Send(ctx, models.OutboundMail{
		To:       report.RecipientEmail,
		Subject:  subject,
		Body:     body,
		ReportID: report.ID,
		ThreadID: report.OutboundMessageID,
	}); err != nil {
		logger.WithError(err).Error("Failed to send follow-up, retrying after the next follow-up period")
		s.postpone(ctx, report)
		return FollowUpSendFailed, err
	}

	applied, err := s.transition(ctx, report, models.StatusFollowUpSent, models.ReportUpdate{IncrementFollowUp: true})
	if err != nil {
		logger.WithError(err).Error("Follow-up sent but status could not be recorded")
		return FollowUpSent, err
	}
	if applied {
		report.FollowUpCount++
	}

	s.say(ctx, report.ChatID, fmt.Sprintf(msgFollowUpSent, report.ID, report.FollowUpCount, report.RecipientEmail))
	return FollowUpSent, nil
}

// reconcilePendingReply checks the inbox for an unread reply to the report and reconciles it.
// Messages are marked seen once the reply was handled.
func (s *Service) reconcilePendingReply(ctx context.Context, report *models.Report) (bool, error) {
	if s.inbox == nil {
		return false, nil
	}

	messages, err := s.inbox.FindReplies(ctx, report.ID)
	if err != nil {
		return false, err
	}
	if len(messages) == 0 {
		return false, nil
	}

	reply := models.Reply{ReportID: report.ID}
	for _, m := range messages {
		parsed, err := correlation.ParseInbound(m.Raw, s.opts.ReplyMaxLength)
		if err == nil && parsed.ReportID == report.ID {
			reply = *parsed
			break
		}
		if err != nil && !errors.Is(err, correlation.ErrNotCorrelated) {
			log.WithError(err).Warnf("Failed to parse reply %d for report %d", m.UID, report.ID)
		}
	}

	outcome, err := s.reconcileLocked(ctx, reply)
	metrics.ReplyReconciliationsTotal.WithLabelValues(string(outcome)).Inc()
	if !outcome.Handled() {
		// a reply exists, so no follow-up goes out even though the chat was not told yet
		return true, err
	}

	uids := make([]uint32, 0, len(messages))
	for _, m := range messages {
		uids = append(uids, m.UID)
	}
	if err := s.inbox.MarkSeen(ctx, uids); err != nil {
		log.WithError(err).Warnf("Failed to mark replies to report %d seen", report.ID)
	}
	return true, nil
}

// postpone refreshes last_updated_at so the report is retried one period later
func (s *Service) postpone(ctx context.Context, report *models.Report) {
	if _, err := s.store.UpdateFields(ctx, report.ID, models.ReportUpdate{
		Touch:        true,
		ExpectStatus: models.FollowUpEligible,
	}); err != nil {
		log.WithError(err).WithField("report_id", report.ID).Warn("Failed to postpone follow-up")
	}
}
