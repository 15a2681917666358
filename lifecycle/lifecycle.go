package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"report-filing-bot/correlation"
	"report-filing-bot/llm"
	"report-filing-bot/metrics"
	"report-filing-bot/models"

	"github.com/apex/log"
)

// ErrNoPendingReport is returned by Approve and Cancel when the chat has nothing pending
var ErrNoPendingReport = errors.New("no report pending approval")

// Store is the record store the lifecycle drives
type Store interface {
	CreateReport(ctx context.Context, report *models.Report) (int64, error)
	GetReport(ctx context.Context, id int64) (*models.Report, error)
	UpdateFields(ctx context.Context, id int64, update models.ReportUpdate) (bool, error)
}

// Mailer sends outbound mail and returns the Message-ID it used
type Mailer interface {
	Send(ctx context.Context, m models.OutboundMail) (string, error)
}

// Notifier delivers a text message to a chat
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// ReplyFinder looks up unread replies to one report
type ReplyFinder interface {
	FindReplies(ctx context.Context, reportID int64) ([]models.InboundMessage, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

// EventPublisher receives every applied status transition
type EventPublisher interface {
	PublishReportEvent(ctx context.Context, event models.ReportEvent) error
}

// Options are the configuration values the lifecycle needs
type Options struct {
	DefaultRecipient string
	SubjectTemplate  string
	// MaxFollowUps caps follow_up_count; zero means no cap.
	MaxFollowUps int
	// ReplyMaxLength bounds reply text forwarded to the chat, in runes.
	ReplyMaxLength int
}

// Service is the report lifecycle state machine
type Service struct {
	store    Store
	llm      llm.Client
	mailer   Mailer
	notifier Notifier
	inbox    ReplyFinder
	events   EventPublisher
	opts     Options

	sessions *Sessions
	locks    *keyedMutex
	now      func() time.Time
}

// NewService creates the lifecycle service
func NewService(store Store, assistant llm.Client, mailer Mailer, notifier Notifier, opts Options) *Service {
	return &Service{
		store:    store,
		llm:      assistant,
		mailer:   mailer,
		notifier: notifier,
		opts:     opts,
		sessions: NewSessions(),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// WithInbox enables the reply check that runs before every follow-up
func (s *Service) WithInbox(inbox ReplyFinder) *Service {
	s.inbox = inbox
	return s
}

// WithEvents publishes every applied transition
func (s *Service) WithEvents(events EventPublisher) *Service {
	s.events = events
	return s
}

// Sessions exposes the per-chat pending-approval state
func (s *Service) Sessions() *Sessions {
	return s.sessions
}

// Start greets the user and clears any pending draft
func (s *Service) Start(ctx context.Context, chatID int64, firstName string) error {
	s.sessions.Clear(chatID)
	return s.notifier.Notify(ctx, chatID, greeting(firstName))
}

// Draft turns a free-form complaint into a report awaiting approval.
// Failures are reported to the chat and leave no state behind.
func (s *Service) Draft(ctx context.Context, chatID int64, text string) (*models.Report, error) {
	if id, ok := s.sessions.Pending(chatID); ok {
		s.say(ctx, chatID, fmt.Sprintf(msgPendingFirst, id))
		return nil, nil
	}

	s.say(ctx, chatID, msgAnalyzing)

	fields, err := s.llm.ExtractFields(ctx, text)
	if err != nil {
		if errors.Is(err, llm.ErrInsufficientDetails) {
			log.WithField("chat_id", chatID).Info("Extraction returned no usable details")
			s.say(ctx, chatID, msgMissingDetails)
			return nil, nil
		}
		log.WithError(err).WithField("chat_id", chatID).Error("Extraction failed")
		s.say(ctx, chatID, msgExtractionFailed)
		return nil, err
	}

	fields.SubjectName = strings.TrimSpace(fields.SubjectName)
	fields.ContactInfo = strings.TrimSpace(fields.ContactInfo)
	if fields.SubjectName == "" || fields.ContactInfo == "" {
		log.WithField("chat_id", chatID).Info("Extraction is missing a required field")
		s.say(ctx, chatID, msgMissingDetails)
		return nil, nil
	}
	if strings.TrimSpace(fields.RecipientEmail) == "" {
		fields.RecipientEmail = s.opts.DefaultRecipient
	}
	if fields.RecipientEmail == "" {
		log.WithField("chat_id", chatID).Info("No recipient and no default recipient configured")
		s.say(ctx, chatID, msgMissingRecipient)
		return nil, nil
	}

	body, err := s.llm.DraftComplaint(ctx, *fields)
	if err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Drafting failed")
		s.say(ctx, chatID, msgDraftFailed)
		return nil, err
	}

	report := &models.Report{
		ChatID:         chatID,
		Status:         models.StatusAwaitingApproval,
		SubjectName:    fields.SubjectName,
		ContactInfo:    fields.ContactInfo,
		RecipientEmail: fields.RecipientEmail,
		DraftBody:      body,
		ExtraDetails:   fields.ExtraDetails,
	}
	if _, err := s.store.CreateReport(ctx, report); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Failed to store report")
		s.say(ctx, chatID, msgStoreFailed)
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(models.StatusAwaitingApproval)).Inc()
	s.publish(ctx, report, models.StatusDrafted, models.StatusAwaitingApproval)

	if !s.sessions.Claim(chatID, report.ID) {
		// another draft won the race for this chat
		if _, err := s.transition(ctx, report, models.StatusCancelled, models.ReportUpdate{}); err != nil {
			log.WithError(err).Warnf("Failed to cancel superseded report %d", report.ID)
		}
		id, _ := s.sessions.Pending(chatID)
		s.say(ctx, chatID, fmt.Sprintf(msgPendingFirst, id))
		return nil, nil
	}

	s.say(ctx, chatID, draftPresentation(report))
	return report, nil
}

// Approve sends the chat's pending report.
// The pending pointer is cleared whatever the outcome.
func (s *Service) Approve(ctx context.Context, chatID int64) (*models.Report, error) {
	reportID, ok := s.sessions.Pending(chatID)
	if !ok {
		return nil, ErrNoPendingReport
	}
	defer s.sessions.Clear(chatID)

	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		log.WithError(err).WithField("report_id", reportID).Error("Failed to load pending report")
		s.say(ctx, chatID, fmt.Sprintf(msgStoreReadFailed, reportID))
		return nil, err
	}
	if report == nil {
		log.WithFields(log.Fields{"report_id": reportID, "chat_id": chatID}).Warn("Pending report is missing from the store")
		s.say(ctx, chatID, fmt.Sprintf(msgReportMissing, reportID))
		return nil, nil
	}
	if report.Status != models.StatusAwaitingApproval {
		s.say(ctx, chatID, fmt.Sprintf(msgNotPending, report.ID, report.Status))
		return report, nil
	}

	applied, err := s.transition(ctx, report, models.StatusSending, models.ReportUpdate{})
	if err != nil {
		log.WithError(err).WithField("report_id", report.ID).Error("Failed to mark report sending")
		s.say(ctx, chatID, msgStoreFailed)
		return report, err
	}
	if !applied {
		s.say(ctx, chatID, fmt.Sprintf(msgNotPending, report.ID, "changed"))
		return report, nil
	}
	s.say(ctx, chatID, fmt.Sprintf(msgApproved, report.ID, report.RecipientEmail))

	messageID, sendErr := s.mailer.Send(ctx, models.OutboundMail{
		To:       report.RecipientEmail,
		Subject:  correlation.FormatSubject(s.opts.SubjectTemplate, report.SubjectName, report.ID),
		Body:     report.DraftBody,
		ReportID: report.ID,
	})
	if sendErr != nil {
		log.WithError(sendErr).WithField("report_id", report.ID).Error("Failed to send report email")
		if _, err := s.transition(ctx, report, models.StatusSendError, models.ReportUpdate{}); err != nil {
			log.WithError(err).WithField("report_id", report.ID).Error("Failed to record send error")
		}
		s.say(ctx, chatID, fmt.Sprintf(msgSendFailed, report.ID))
		return report, sendErr
	}

	if _, err := s.transition(ctx, report, models.StatusSent, models.ReportUpdate{OutboundMessageID: &messageID}); err != nil {
		log.WithError(err).WithFields(log.Fields{"report_id": report.ID, "message_id": messageID}).
			Error("Email sent but status could not be recorded")
		s.say(ctx, chatID, fmt.Sprintf(msgSentNotRecorded, report.ID))
		return report, err
	}
	report.OutboundMessageID = messageID

	s.say(ctx, chatID, fmt.Sprintf(msgSent, report.ID))
	return report, nil
}

// Cancel drops the chat's pending report without sending anything
func (s *Service) Cancel(ctx context.Context, chatID int64) error {
	reportID, ok := s.sessions.Pending(chatID)
	if !ok {
		return ErrNoPendingReport
	}
	s.sessions.Clear(chatID)

	report := &models.Report{ID: reportID, ChatID: chatID, Status: models.StatusAwaitingApproval}
	applied, err := s.transition(ctx, report, models.StatusCancelled, models.ReportUpdate{})
	if err != nil {
		log.WithError(err).WithField("report_id", reportID).Error("Failed to cancel report")
		s.say(ctx, chatID, msgStoreFailed)
		return err
	}
	if !applied {
		s.say(ctx, chatID, fmt.Sprintf(msgCancelNotPending, reportID))
		return nil
	}

	s.say(ctx, chatID, fmt.Sprintf(msgCancelled, reportID))
	return nil
}

// transition moves a report to status to, guarded by the statuses allowed to precede it.
// It returns false when the stored report was not in one of those statuses.
func (s *Service) transition(ctx context.Context, report *models.Report, to models.Status, update models.ReportUpdate) (bool, error) {
	update.Status = models.StatusPtr(to)
	update.ExpectStatus = models.PredecessorsOf(to)

	applied, err := s.store.UpdateFields(ctx, report.ID, update)
	if err != nil {
		return false, err
	}
	if !applied {
		log.WithFields(log.Fields{"report_id": report.ID, "to": to}).Info("report.transition.skipped")
		return false, nil
	}

	from := report.Status
	report.Status = to
	report.LastUpdatedAt = s.now()
	metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	log.WithFields(log.Fields{"report_id": report.ID, "from": from, "to": to}).Info("report.transition")
	s.publish(ctx, report, from, to)
	return true, nil
}

func (s *Service) publish(ctx context.Context, report *models.Report, from, to models.Status) {
	if s.events == nil {
		return
	}
	event := models.ReportEvent{
		ReportID:   report.ID,
		ChatID:     report.ChatID,
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  s.now(),
	}
	if err := s.events.PublishReportEvent(ctx, event); err != nil {
		metrics.EventPublishErrorTotal.Inc()
		log.WithError(err).WithField("report_id", report.ID).Warn("Failed to publish report event")
	}
}

// say notifies the chat, logging failures
func (s *Service) say(ctx context.Context, chatID int64, text string) {
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Warn("Failed to notify chat")
	}
}
