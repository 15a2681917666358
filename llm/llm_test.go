package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	"report-filing-bot/models"
)

type fakeGenerator struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeGenerator) SourceName() string { return "Fake" }

func TestExtractFields(t *testing.T) {
	gen := &fakeGenerator{response: "```json\n{\"name\": \"Jane Roe\", \"offender_phone\": \"555-0100\", \"official_email\": \"compliance@ex.gov\"}\n```"}
	a := NewAssistant(gen)

	fields, err := a.ExtractFields(context.Background(), "report name Jane Roe, phone 555-0100, send to compliance@ex.gov")
	if err != nil {
		t.Fatalf("ExtractFields: unexpected error: %v", err)
	}
	if fields.SubjectName != "Jane Roe" || fields.ContactInfo != "555-0100" || fields.RecipientEmail != "compliance@ex.gov" {
		t.Errorf("Unexpected fields %+v", fields)
	}
	if !strings.Contains(gen.prompts[0], `"report name Jane Roe, phone 555-0100, send to compliance@ex.gov"`) {
		t.Error("Expected the user text to be quoted into the prompt")
	}
}

func TestExtractFieldsUnparseable(t *testing.T) {
	a := NewAssistant(&fakeGenerator{response: "Sorry, I can't help with that."})
	if _, err := a.ExtractFields(context.Background(), "hello"); !errors.Is(err, ErrInsufficientDetails) {
		t.Errorf("Expected ErrInsufficientDetails, got %v", err)
	}
}

func TestExtractFieldsProviderError(t *testing.T) {
	a := NewAssistant(&fakeGenerator{err: errors.New("quota exceeded")})
	_, err := a.ExtractFields(context.Background(), "hello")
	if err == nil || errors.Is(err, ErrInsufficientDetails) {
		t.Errorf("Expected a provider error, got %v", err)
	}
}

func TestDraftComplaint(t *testing.T) {
	gen := &fakeGenerator{response: "  Dear Government Official,\n...\nSincerely,\n"}
	a := NewAssistant(gen)

	body, err := a.DraftComplaint(context.Background(), models.Fields{
		SubjectName:  "John Pape",
		ContactInfo:  "john.pape@gmail.com",
		ExtraDetails: map[string]string{"Address": "123 Texas Rd"},
	})
	if err != nil {
		t.Fatalf("DraftComplaint: unexpected error: %v", err)
	}
	if body != "Dear Government Official,\n...\nSincerely," {
		t.Errorf("Unexpected draft %q", body)
	}
	if !strings.Contains(gen.prompts[0], "- Address: 123 Texas Rd") {
		t.Error("Expected extra details in the prompt")
	}
}

func TestDraftFailuresAreTyped(t *testing.T) {
	testCases := []struct {
		name string
		gen  *fakeGenerator
	}{
		{"provider error", &fakeGenerator{err: errors.New("timeout")}},
		{"empty response", &fakeGenerator{response: "   "}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := NewAssistant(tc.gen).DraftComplaint(context.Background(), models.Fields{SubjectName: "x", ContactInfo: "y"})
			if err == nil || body != "" {
				t.Errorf("Expected failure without body, got %q, %v", body, err)
			}
		})
	}
}

func TestDraftFollowUpIncludesOriginal(t *testing.T) {
	gen := &fakeGenerator{response: "Dear Government Official, following up."}
	report := models.Report{SubjectName: "Jane Roe", ContactInfo: "555-0100", DraftBody: "ORIGINAL DRAFT TEXT", FollowUpCount: 1}

	if _, err := NewAssistant(gen).DraftFollowUp(context.Background(), report); err != nil {
		t.Fatalf("DraftFollowUp: unexpected error: %v", err)
	}
	if !strings.Contains(gen.prompts[0], "ORIGINAL DRAFT TEXT") || !strings.Contains(gen.prompts[0], "follow-up number 2") {
		t.Errorf("Unexpected follow-up prompt: %s", gen.prompts[0])
	}
}
