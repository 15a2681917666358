package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"report-filing-bot/models"
)

// extractionResult is the JSON object the extraction prompt asks the model for
type extractionResult struct {
	Name            string         `json:"name"`
	OffenderEmail   string         `json:"offender_email"`
	OffenderPhone   string         `json:"offender_phone"`
	OfficialEmail   string         `json:"official_email"`
	OffenderDetails map[string]any `json:"offender_details"`
}

// extractJSONFromMarkdown extracts JSON from markdown code blocks
func extractJSONFromMarkdown(response string) string {
	// Look for JSON code blocks with ``` markers
	startMarker := "```"
	endMarker := "```"

	startIdx := strings.Index(response, startMarker)
	if startIdx == -1 {
		// No code block found, try to find JSON object directly
		startIdx = strings.Index(response, "{")
		if startIdx == -1 {
			return response
		}
		endIdx := strings.LastIndex(response, "}")
		if endIdx < startIdx {
			return response
		}
		return strings.TrimSpace(response[startIdx : endIdx+1])
	}

	// Find the end of the first code block
	endIdx := strings.Index(response[startIdx+len(startMarker):], endMarker)
	if endIdx == -1 {
		return response
	}
	endIdx += startIdx + len(startMarker)

	content := response[startIdx+len(startMarker) : endIdx]

	// Remove the language identifier if present (e.g., "json")
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > 0 && (strings.TrimSpace(lines[0]) == "json" || strings.TrimSpace(lines[0]) == "") {
		content = strings.Join(lines[1:], "\n")
	}

	return strings.TrimSpace(content)
}

// ParseFields parses the model's extraction response into report fields.
// Missing fields are left empty; the caller decides which ones are required.
func ParseFields(response string) (*models.Fields, error) {
	jsonContent := extractJSONFromMarkdown(strings.TrimSpace(response))
	if jsonContent == "" {
		return nil, errors.New("empty extraction response")
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(jsonContent), &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	fields := &models.Fields{
		SubjectName:    clean(result.Name),
		ContactInfo:    clean(result.OffenderEmail),
		RecipientEmail: clean(result.OfficialEmail),
	}
	if fields.ContactInfo == "" {
		fields.ContactInfo = clean(result.OffenderPhone)
	}

	for k, v := range result.OffenderDetails {
		key := strings.TrimSpace(k)
		value := clean(stringify(v))
		if key == "" || value == "" {
			continue
		}
		if fields.ExtraDetails == nil {
			fields.ExtraDetails = make(map[string]string)
		}
		fields.ExtraDetails[key] = value
	}

	return fields, nil
}

// FormatDetails renders extra details as a "- key: value" list sorted by key
func FormatDetails(details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, details[k])
	}
	return b.String()
}

// clean drops the placeholder values models emit for unknown fields
func clean(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "null", "none", "n/a", "unknown":
		return ""
	}
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
