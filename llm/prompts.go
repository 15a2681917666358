package llm

import (
	"fmt"

	"report-filing-bot/models"
	"report-filing-bot/parser"
)

const extractionPrompt = `
You are an expert at parsing user requests into structured JSON. Analyze the user's text and extract the required information.
The user can provide any number of details about the offender. You must capture all of them in a nested JSON object called "offender_details".
The offender may be reachable by email or by phone: put an email address in "offender_email" and a phone number in "offender_phone".
Use null for anything the user did not provide. Output a single JSON object and nothing else.

---
Example 1 (simple case):
User text: "report name John Doe, email john.doe@example.com, target officials@texas.gov"
JSON output:
{
  "name": "John Doe",
  "offender_email": "john.doe@example.com",
  "offender_phone": null,
  "official_email": "officials@texas.gov",
  "offender_details": {}
}

Example 2 (multiple details):
User text: "please file report for john pape their email is john.pape@gmail.com, send it to compliance@texas.gov. His address is 123 Texas Rd, Houston, TX 77001 and phone is 832-555-1234. He sells catering nearby, it works by word of mouth."
JSON output:
{
  "name": "John Pape",
  "offender_email": "john.pape@gmail.com",
  "offender_phone": "832-555-1234",
  "official_email": "compliance@texas.gov",
  "offender_details": {
    "Address": "123 Texas Rd, Houston, TX 77001",
    "Notes": "He sells catering nearby, it works by word of mouth."
  }
}
---
Actual user request:
User text: %q
JSON output:
`

const complaintPrompt = `
Please generate a highly formal and professional email to be sent to a government official. The purpose of this email is to report an illegitimate catering business.

The key points to include are:
1. The business is being operated by a person named '%s' (contact: %s).
2. This business is not registered with the state and is therefore operating illegally.
3. This operation negatively impacts legitimate, tax-paying restaurant businesses in the area.
4. It creates significant hazards in a residential zone, including potential fire hazards and food safety hazards.
5. The state is losing tax revenue as this business is not paying taxes.
%s
The tone should be serious, direct, and to the point. Make it clear that we are requesting an investigation. Start with a formal salutation like "Dear Government Official," and end it with "Sincerely,". Do not include a placeholder for the sender's name. Output only the email body.
`

const followUpPrompt = `
Please generate a polite but firm follow-up email. The original email was sent to a government official to report an illegitimate catering business.

The key details of the original report are:
- Business operated by: %s (%s)
- This is follow-up number %d.
- The original email is provided below for context.

The follow-up email should:
1. Reference the previous email about this issue.
2. Briefly reiterate the key concerns (unregistered business, safety hazards, tax evasion).
3. Inquire about the status of the investigation.
4. Maintain a professional and respectful tone.
5. Start with "Dear Government Official," and end with "Sincerely,".
Output only the email body.

--- ORIGINAL EMAIL CONTEXT ---
%s
---
`

// ExtractionPrompt asks for the report fields as a JSON object
func ExtractionPrompt(text string) string {
	return fmt.Sprintf(extractionPrompt, text)
}

// ComplaintPrompt asks for the first complaint email
func ComplaintPrompt(fields models.Fields) string {
	details := ""
	if len(fields.ExtraDetails) > 0 {
		details = "\nAdditional user-provided details about the operation are as follows:\n" + parser.FormatDetails(fields.ExtraDetails)
	}
	return fmt.Sprintf(complaintPrompt, fields.SubjectName, fields.ContactInfo, details)
}

// FollowUpPrompt asks for a follow-up referencing the original draft
func FollowUpPrompt(report models.Report) string {
	return fmt.Sprintf(followUpPrompt, report.SubjectName, report.ContactInfo, report.FollowUpCount+1, report.DraftBody)
}
