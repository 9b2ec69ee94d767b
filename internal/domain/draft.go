package domain

// SubmissionDraft holds the fields gathered so far for a candidate report.
// Nil pointers and an empty ImageRef mean "not yet supplied".
type SubmissionDraft struct {
	ImageRef   string       `json:"image_ref,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	Verified   bool         `json:"verified,omitempty"`
	Location   *Coordinates `json:"location,omitempty"`
	Severity   *int         `json:"severity,omitempty"`
}

// requiredOrder is the fixed order in which missing fields are prompted for.
var requiredOrder = []Field{FieldImage, FieldLocation, FieldSeverity}

// Missing returns the required fields not yet supplied, in prompt order.
func (d SubmissionDraft) Missing() []Field {
	var missing []Field
	for _, f := range requiredOrder {
		if !d.has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether image, location, and severity are all present.
func (d SubmissionDraft) Complete() bool {
	return len(d.Missing()) == 0
}

// Empty reports whether no field has been supplied.
func (d SubmissionDraft) Empty() bool {
	return len(d.Missing()) == len(requiredOrder)
}

func (d SubmissionDraft) has(f Field) bool {
	switch f {
	case FieldImage:
		return d.ImageRef != ""
	case FieldLocation:
		return d.Location != nil
	case FieldSeverity:
		return d.Severity != nil
	default:
		return false
	}
}

// Submission is a complete, gated set of fields ready for dedup and persistence.
type Submission struct {
	Source     Source
	Location   Coordinates
	Severity   int
	ImageRef   string
	Confidence *float64
	// Verified is true when a detector actually classified the image, as
	// opposed to a passthrough gate.
	Verified bool

	ContactToken      string
	Address           string
	ReporterName      string
	Notes             string
	ProviderMessageID string
}

// Validate checks the invariants every persisted report must satisfy.
func (s Submission) Validate() error {
	if err := s.Location.Validate(); err != nil {
		return err
	}
	if err := ValidateSeverity(s.Severity); err != nil {
		return err
	}
	if s.ImageRef == "" {
		return &ValidationError{Field: FieldImage, Message: "an image of the hazard is required"}
	}
	if s.Confidence != nil && (*s.Confidence < 0 || *s.Confidence > 1) {
		return &ValidationError{Field: FieldImage, Message: "confidence must be between 0 and 1"}
	}
	return nil
}

// ToSubmission converts a complete draft into a chat-channel submission.
// The caller must check Complete first.
func (d SubmissionDraft) ToSubmission(senderID, messageID string) Submission {
	return Submission{
		Source:            SourceChat,
		Location:          *d.Location,
		Severity:          *d.Severity,
		ImageRef:          d.ImageRef,
		Confidence:        d.Confidence,
		Verified:          d.Verified,
		ContactToken:      ContactPhone(senderID),
		ProviderMessageID: messageID,
	}
}
