package email

import (
	"context"
	"fmt"
	"strings"

	"report-filing-bot/config"
	"report-filing-bot/models"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Sender delivers report emails through SendGrid
type Sender struct {
	fromName  string
	fromEmail string
	client    sendClient
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config) *Sender {
	return &Sender{
		fromName:  cfg.SenderName,
		fromEmail: cfg.SenderEmail,
		client:    sendgrid.NewSendClient(cfg.SendGridAPIKey),
	}
}

// Send delivers one message and returns the Message-ID it was sent with.
// When m.ThreadID is set the message is threaded under it.
func (s *Sender) Send(ctx context.Context, m models.OutboundMail) (string, error) {
	messageID := s.newMessageID()

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(s.fromName, s.fromEmail))
	message.Subject = m.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(m.To, m.To))
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", m.Body))

	message.SetHeader("Message-ID", messageID)
	if m.ThreadID != "" {
		message.SetHeader("In-Reply-To", m.ThreadID)
		message.SetHeader("References", m.ThreadID)
	}

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return "", fmt.Errorf("failed to send report %d: %w", m.ReportID, err)
	}
	if response.StatusCode >= 300 {
		return "", fmt.Errorf("failed to send report %d: status %d: %s", m.ReportID, response.StatusCode, response.Body)
	}

	log.WithFields(log.Fields{"report_id": m.ReportID, "message_id": messageID}).
		Infof("Email sent to %s! Status: %d", m.To, response.StatusCode)
	return messageID, nil
}

// newMessageID builds an RFC 5322 Message-ID on the sender's domain
func (s *Sender) newMessageID() string {
	domain := "localhost"
	if at := strings.LastIndex(s.fromEmail, "@"); at >= 0 && at < len(s.fromEmail)-1 {
		domain = s.fromEmail[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
