package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"report-filing-bot/metrics"
	"report-filing-bot/models"
	"report-filing-bot/parser"

	"github.com/apex/log"
)

// ErrInsufficientDetails is returned when the extraction response carries no usable fields
var ErrInsufficientDetails = errors.New("insufficient details in request")

// Client is the language-model collaborator used by the report lifecycle.
// Implementations must be concurrency-safe if used across goroutines.
type Client interface {
	// ExtractFields turns a free-form complaint into structured fields.
	ExtractFields(ctx context.Context, text string) (*models.Fields, error)
	// DraftComplaint writes the body of the first complaint email.
	DraftComplaint(ctx context.Context, fields models.Fields) (string, error)
	// DraftFollowUp writes the body of a follow-up referencing the original draft.
	DraftFollowUp(ctx context.Context, report models.Report) (string, error)
	// SourceName returns a short provider label (e.g., "ChatGPT", "Gemini").
	SourceName() string
}

// Generator is a raw text completion provider
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	SourceName() string
}

// Assistant implements Client on top of a Generator with the bot's prompts
type Assistant struct {
	gen Generator
}

// NewAssistant creates a Client backed by the given provider
func NewAssistant(gen Generator) *Assistant {
	return &Assistant{gen: gen}
}

func (a *Assistant) SourceName() string {
	return a.gen.SourceName()
}

func (a *Assistant) ExtractFields(ctx context.Context, text string) (*models.Fields, error) {
	resp, err := a.gen.Generate(ctx, ExtractionPrompt(text))
	metrics.LLMRequestsTotal.WithLabelValues("extract", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("%s extraction failed: %w", a.gen.SourceName(), err)
	}

	fields, err := parser.ParseFields(resp)
	if err != nil {
		log.WithError(err).Warnf("Failed to parse %s extraction response", a.gen.SourceName())
		return nil, fmt.Errorf("%w: %v", ErrInsufficientDetails, err)
	}
	return fields, nil
}

func (a *Assistant) DraftComplaint(ctx context.Context, fields models.Fields) (string, error) {
	return a.draft(ctx, "draft", ComplaintPrompt(fields))
}

func (a *Assistant) DraftFollowUp(ctx context.Context, report models.Report) (string, error) {
	return a.draft(ctx, "followup", FollowUpPrompt(report))
}

func (a *Assistant) draft(ctx context.Context, op, prompt string) (string, error) {
	resp, err := a.gen.Generate(ctx, prompt)
	if err == nil && strings.TrimSpace(resp) == "" {
		err = errors.New("empty draft")
	}
	metrics.LLMRequestsTotal.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("%s %s failed: %w", a.gen.SourceName(), op, err)
	}
	return strings.TrimSpace(resp), nil
}
