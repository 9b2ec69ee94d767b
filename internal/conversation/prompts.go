package conversation

import (
	"fmt"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

const resetCommand = "new report"

const (
	promptWelcome  = "Welcome to Road Hazard Reports! Send 'new report' whenever you want to report a hazard."
	promptStart    = "Please send, in three separate messages: a photo of the hazard, a location pin, and a severity rating from 1 to 5."
	promptRejected = "The image does not appear to show a pothole. Please send a clearer image."
	promptBadImage = "Please send the photo as a JPEG, PNG, or WebP image."
	promptRetry    = "We could not process your message right now. Please try again."
	promptFailed   = "There was an error with your submission. Please try again."
	promptPending  = "Your report has been received and is being processed."

	ackImage    = "Image received!"
	ackLocation = "Location received!"
	ackSeverity = "Severity received!"
)

var missingPrompts = map[domain.Field]string{
	domain.FieldImage:    "Please share a photo of the hazard.",
	domain.FieldLocation: "Please share the location of the hazard as a pin.",
	domain.FieldSeverity: "Please send a severity rating from 1 to 5.",
}

// nextPrompt names the first missing field of the draft.
func nextPrompt(d domain.SubmissionDraft) string {
	missing := d.Missing()
	if len(missing) == 0 {
		return ""
	}
	return missingPrompts[missing[0]]
}

func submittedPrompt(res pipeline.Outcome) string {
	if res.Confirmed {
		return fmt.Sprintf("Thank you! This hazard was already reported nearby, so we added your confirmation (%d reports so far). Send 'new report' to report another.",
			res.Report.SubmissionCount)
	}
	return "Thank you for your submission! The map has been updated. Send 'new report' to report another."
}
