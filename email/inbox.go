package email

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"report-filing-bot/config"
	"report-filing-bot/correlation"
	"report-filing-bot/models"

	"github.com/apex/log"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

const imapTimeout = time.Minute

// session is the subset of the IMAP client the inbox uses
type session interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Logout() error
}

// Inbox reads unread replies over IMAP. Every call opens its own session.
// Messages are fetched with BODY.PEEK so reading never marks them seen.
type Inbox struct {
	user     string
	password string
	mailbox  string
	dial     func() (session, error)
}

// NewInbox creates an inbox for the configured IMAP account
func NewInbox(cfg *config.Config) *Inbox {
	addr := cfg.IMAPAddr
	return &Inbox{
		user:     cfg.IMAPUser,
		password: cfg.IMAPPassword,
		mailbox:  cfg.IMAPMailbox,
		dial: func() (session, error) {
			c, err := client.DialTLS(addr, nil)
			if err != nil {
				return nil, err
			}
			c.Timeout = imapTimeout
			return c, nil
		},
	}
}

// Poll returns up to limit unread messages whose subject carries any report token,
// oldest first. Zero means no limit.
func (in *Inbox) Poll(ctx context.Context, limit int) ([]models.InboundMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("Subject", correlation.TagPrefix)
	return in.fetchMatching(ctx, criteria, limit)
}

// FindReplies returns unread messages whose subject carries the report's token
func (in *Inbox) FindReplies(ctx context.Context, reportID int64) ([]models.InboundMessage, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("Subject", correlation.Tag(reportID))
	return in.fetchMatching(ctx, criteria, 0)
}

// MarkSeen flags the given messages as read
func (in *Inbox) MarkSeen(ctx context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	return in.withSession(ctx, false, func(s session) error {
		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := s.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return fmt.Errorf("failed to mark %d messages seen: %w", len(uids), err)
		}
		return nil
	})
}

func (in *Inbox) fetchMatching(ctx context.Context, criteria *imap.SearchCriteria, limit int) ([]models.InboundMessage, error) {
	var result []models.InboundMessage
	err := in.withSession(ctx, true, func(s session) error {
		uids, err := s.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search mailbox: %w", err)
		}
		if len(uids) == 0 {
			return nil
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		if limit > 0 && len(uids) > limit {
			uids = uids[:limit]
		}

		result, err = fetch(s, uids)
		return err
	})
	return result, err
}

func fetch(s session, uids []uint32) ([]models.InboundMessage, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.UidFetch(seqset, items, messages)
	}()

	var result []models.InboundMessage
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			log.Warnf("IMAP message %d has no body, skipping", msg.Uid)
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			log.WithError(err).Warnf("Failed to read IMAP message %d", msg.Uid)
			continue
		}
		result = append(result, models.InboundMessage{UID: msg.Uid, Raw: raw})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return result, nil
}

func (in *Inbox) withSession(ctx context.Context, readOnly bool, fn func(session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := in.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer func() {
		if err := s.Logout(); err != nil {
			log.WithError(err).Debug("IMAP logout failed")
		}
	}()

	if err := s.Login(in.user, in.password); err != nil {
		return fmt.Errorf("failed to log in to IMAP server: %w", err)
	}
	if _, err := s.Select(in.mailbox, readOnly); err != nil {
		return fmt.Errorf("failed to select mailbox %s: %w", in.mailbox, err)
	}
	return fn(s)
}
