package stubllm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"report-filing-bot/llm"
	"report-filing-bot/models"
	"report-filing-bot/parser"
)

var (
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	recipientPattern = regexp.MustCompile(`(?i)\b(?:send(?: it)? to|target|notify)\s+([A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,})`)
	phonePattern     = regexp.MustCompile(`\+?\d[\d\-\s().]{5,}\d`)
	namePattern      = regexp.MustCompile(`(?i)\b(?:name(?:d)?(?:\s+is)?|report(?:\s+for)?)\s*:?\s+([A-Za-z][A-Za-z'\-]*(?:\s+[A-Za-z][A-Za-z'\-]*){0,3})`)
)

// Client is a deterministic, no-network LLM stub intended for CI and local end-to-end tests.
// Extraction uses simple patterns over the user's text and drafts are fixed templates.
type Client struct{}

func NewClient() *Client { return &Client{} }

func (c *Client) SourceName() string { return "Stub" }

func (c *Client) ExtractFields(_ context.Context, text string) (*models.Fields, error) {
	fields := &models.Fields{}

	if m := namePattern.FindStringSubmatch(text); m != nil {
		name := strings.TrimSpace(m[1])
		// "report name X" matches the report keyword first
		if strings.HasPrefix(strings.ToLower(name), "name ") {
			name = strings.TrimSpace(name[len("name "):])
		}
		fields.SubjectName = name
	}

	if m := recipientPattern.FindStringSubmatch(text); m != nil {
		fields.RecipientEmail = m[1]
	}
	for _, e := range emailPattern.FindAllString(text, -1) {
		if e != fields.RecipientEmail {
			fields.ContactInfo = e
			break
		}
	}
	if fields.ContactInfo == "" {
		if p := phonePattern.FindString(text); p != "" {
			fields.ContactInfo = strings.TrimSpace(p)
		}
	}

	if fields.SubjectName == "" && fields.ContactInfo == "" {
		return nil, llm.ErrInsufficientDetails
	}
	return fields, nil
}

func (c *Client) DraftComplaint(_ context.Context, fields models.Fields) (string, error) {
	var b strings.Builder
	b.WriteString("Dear Government Official,\n\n")
	fmt.Fprintf(&b, "I am writing to report an unregistered catering business operated by %s (contact: %s). ", fields.SubjectName, fields.ContactInfo)
	b.WriteString("The business is not registered with the state, creates fire and food safety hazards in a residential zone and does not pay taxes.\n")
	if len(fields.ExtraDetails) > 0 {
		b.WriteString("\nAdditional details:\n")
		b.WriteString(parser.FormatDetails(fields.ExtraDetails))
	}
	b.WriteString("\nI respectfully request an investigation into this matter.\n\nSincerely,")
	return b.String(), nil
}

func (c *Client) DraftFollowUp(_ context.Context, report models.Report) (string, error) {
	return fmt.Sprintf("Dear Government Official,\n\n"+
		"I am following up on my previous email regarding the unregistered catering business operated by %s (%s). "+
		"I would appreciate an update on the status of the investigation.\n\nSincerely,",
		report.SubjectName, report.ContactInfo), nil
}
