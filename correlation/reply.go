package correlation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"report-filing-bot/models"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// ErrNotCorrelated is returned for inbound messages without a report token
var ErrNotCorrelated = errors.New("message is not correlated to a report")

// TruncationMarker is appended to reply content cut at the length bound
const TruncationMarker = "[truncated]"

var (
	onWrotePattern   = regexp.MustCompile(`(?i)^On\s.+\swrote:$`)
	separatorPattern = regexp.MustCompile(`(?i)^-{2,}\s*Original Message\s*-{2,}$`)
	quoteHeaders     = []string{"From:", "Sent:", "To:", "Subject:"}
)

// ParseInbound extracts the correlated reply from a raw RFC 5322 message.
// Content is quote-stripped and cut to maxLength runes, zero means unbounded.
func ParseInbound(raw []byte, maxLength int) (*models.Reply, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	defer mr.Close()

	subject, err := mr.Header.Subject()
	if err != nil {
		subject = DecodeSubject(mr.Header.Get("Subject"))
	}

	reportID, ok := ParseReportID(subject)
	if !ok {
		return nil, ErrNotCorrelated
	}

	body, err := firstPlainText(mr)
	if err != nil {
		return nil, err
	}

	return &models.Reply{
		ReportID: reportID,
		Subject:  subject,
		Content:  Truncate(StripQuoted(body), maxLength),
	}, nil
}

// firstPlainText returns the first inline text/plain part, skipping attachments
func firstPlainText(mr *mail.Reader) (string, error) {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil && !(message.IsUnknownCharset(err) && p != nil) {
			return "", fmt.Errorf("failed to read message part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		if h.Get("Content-Type") != "" {
			if t, _, err := h.ContentType(); err != nil || t != "text/plain" {
				continue
			}
		}

		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read message body: %w", err)
		}
		return string(b), nil
	}
}

// StripQuoted removes quoted history from a reply body.
// The body is cut at the first quote header ("On ... wrote:", From:, Sent:, To:, Subject:
// or an original-message separator). Only when there is none are lines starting
// with ">" dropped, so inline quotes above a header are kept.
func StripQuoted(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	for i, line := range lines {
		if isQuoteHeader(strings.TrimSpace(line)) {
			return strings.TrimSpace(strings.Join(lines[:i], "\n"))
		}
	}

	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), ">") {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isQuoteHeader(line string) bool {
	if onWrotePattern.MatchString(line) || separatorPattern.MatchString(line) {
		return true
	}
	for _, h := range quoteHeaders {
		if strings.HasPrefix(line, h) {
			return true
		}
	}
	return false
}

// Truncate cuts text to maxLength runes and appends TruncationMarker when it did
func Truncate(text string, maxLength int) string {
	if maxLength <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	return strings.TrimSpace(string(runes[:maxLength])) + "\n" + TruncationMarker
}
