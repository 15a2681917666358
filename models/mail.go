package models

// Fields holds the structured data extracted from a user's complaint
type Fields struct {
	SubjectName    string            `json:"name"`
	ContactInfo    string            `json:"offender_email"`
	RecipientEmail string            `json:"official_email"`
	ExtraDetails   map[string]string `json:"offender_details,omitempty"`
}

// OutboundMail is a message handed to the mail transport
type OutboundMail struct {
	To      string
	Subject string
	Body    string
	// ReportID is the correlation id embedded in the subject line
	ReportID int64
	// ThreadID, when set, is used for the In-Reply-To and References headers
	ThreadID string
}

// InboundMessage is a raw unread message returned by the inbox
type InboundMessage struct {
	UID uint32
	Raw []byte
}

// Reply is an inbound message correlated to a report
type Reply struct {
	ReportID int64
	Subject  string
	Content  string
}
