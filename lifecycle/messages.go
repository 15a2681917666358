package lifecycle

import (
	"fmt"
	"strings"

	"report-filing-bot/models"
)

const (
	msgAnalyzing          = "Analyzing and drafting..."
	msgPendingFirst       = "I'm currently waiting for your response on the last draft (Report %d). Please approve or cancel it first."
	msgMissingDetails     = "Sorry, I couldn't extract all the required details. Please provide the person's or business's name and their email or phone number. You can also name the official's email to send it to."
	msgMissingRecipient   = "Sorry, I couldn't find an official's email to send the report to. Please include it, for example: 'send to officials@texas.gov'."
	msgExtractionFailed   = "Sorry, I couldn't analyze your message right now. Please try again in a moment."
	msgDraftFailed        = "Sorry, I couldn't draft the email right now. Nothing was saved. Please try again in a moment."
	msgStoreFailed        = "Sorry, I couldn't save the report. Nothing will be sent. Please try again."
	msgReportMissing      = "Something went wrong, I can't find Report %d. The pending draft has been cleared. Please start over."
	msgStoreReadFailed    = "Sorry, I couldn't load Report %d right now. The pending draft has been cleared and nothing was sent. Please start over."
	msgNotPending         = "Report %d is no longer awaiting approval (status: %s). The pending draft has been cleared."
	msgApproved           = "Approved! Sending the email for Report %d to %s..."
	msgSent               = "Email sent successfully for Report %d. I'll tell you if they reply and follow up if they don't."
	msgSentNotRecorded    = "Email sent for Report %d, but I couldn't record it. Follow-ups may not be sent for this report."
	msgSendFailed         = "Report %d was approved, but I failed to send the email. I will not attempt to send it again automatically."
	msgCancelled          = "Okay, Report %d has been cancelled. No email will be sent. You can start a new one anytime."
	msgCancelNotPending   = "Report %d was no longer awaiting approval, so there was nothing to cancel. You can start a new one anytime."
	msgFollowUpSent       = "No reply yet for Report %d, so I sent follow-up #%d to %s."
	msgReplyReceived      = "Reply received for Report %d (%s):\n\n%s"
	msgReplyWithoutText   = "(the reply has no readable text)"
	draftSeparator        = "-------------------------------------"
	startExample          = "'File a report for name: John Doe, email: john.d@example.com, send to officials@texas.gov'"
	msgGreeting           = "Hello %s!\n\nTo start a report, send me the details, for example:\n" + startExample
	msgGreetingAnonymous  = "Hello!\n\nTo start a report, send me the details, for example:\n" + startExample
	draftApproveCancelTip = "To approve and send, reply with 'approve' or 'yes'.\nTo cancel, reply with 'cancel' or 'no'."
)

func greeting(firstName string) string {
	if strings.TrimSpace(firstName) == "" {
		return msgGreetingAnonymous
	}
	return fmt.Sprintf(msgGreeting, firstName)
}

func draftPresentation(report *models.Report) string {
	return fmt.Sprintf("New Report Draft (ID: %d)\n\n"+
		"Here is the draft I've prepared for %s. Please review it carefully.\n\n"+
		"%s\n%s\n%s\n\n%s",
		report.ID, report.RecipientEmail, draftSeparator, report.DraftBody, draftSeparator, draftApproveCancelTip)
}

func replyNotification(report *models.Report, reply models.Reply) string {
	content := reply.Content
	if strings.TrimSpace(content) == "" {
		content = msgReplyWithoutText
	}
	return fmt.Sprintf(msgReplyReceived, report.ID, report.SubjectName, content)
}
