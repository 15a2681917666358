package correlation

import (
	"fmt"
	"mime"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-message/charset"
)

// NamePlaceholder is replaced with the report's subject name in the subject template
const NamePlaceholder = "{name}"

// TagPrefix starts every correlation token
const TagPrefix = "[Report ID: "

const replyPrefix = "Re: "

var reportIDPattern = regexp.MustCompile(`\[Report ID: (\d+)\]`)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Tag returns the correlation token embedded in outbound subjects
func Tag(reportID int64) string {
	return fmt.Sprintf("%s%d]", TagPrefix, reportID)
}

// FormatSubject renders the subject line of the first outbound message for a report
func FormatSubject(template, name string, reportID int64) string {
	base := strings.ReplaceAll(template, NamePlaceholder, name)
	return strings.TrimSpace(base) + " " + Tag(reportID)
}

// FollowUpSubject prefixes a subject with "Re: " unless it already carries one
func FollowUpSubject(subject string) string {
	if len(subject) >= len(replyPrefix) && strings.EqualFold(subject[:len(replyPrefix)], replyPrefix) {
		return subject
	}
	return replyPrefix + subject
}

// ParseReportID extracts the report id from a decoded subject line.
// The second result is false when the subject carries no token.
func ParseReportID(subject string) (int64, bool) {
	m := reportIDPattern.FindStringSubmatch(subject)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// DecodeSubject turns an RFC 2047 encoded header value into plain text.
// Undecodable input is returned as is.
func DecodeSubject(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}
