package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a report.
type Status string

const (
	StatusPending    Status = "pending"
	StatusVerified   Status = "verified"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusDuplicate  Status = "duplicate"
	StatusInvalid    Status = "invalid"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusVerified, StatusInProgress, StatusResolved, StatusDuplicate, StatusInvalid:
		return st, nil
	default:
		return "", &ValidationError{Field: FieldStatus, Message: fmt.Sprintf("unknown status %q", s)}
	}
}

// Priority is the derived urgency tier of a report.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Source is the intake channel that first produced a report.
type Source string

const (
	SourceWeb  Source = "web"
	SourceChat Source = "chat"
	SourceAPI  Source = "api"
)

const (
	MinSeverity = 1
	MaxSeverity = 5

	urgentConfidence = 0.90
)

// ValidateSeverity checks that a severity rating is within 1-5.
func ValidateSeverity(severity int) error {
	if severity < MinSeverity || severity > MaxSeverity {
		return &ValidationError{Field: FieldSeverity, Message: "severity must be a number from 1 to 5"}
	}
	return nil
}

// DerivePriority maps severity and optional classifier confidence to a priority.
func DerivePriority(severity int, confidence *float64) Priority {
	var p Priority
	switch {
	case severity >= 4:
		p = PriorityHigh
	case severity == 3:
		p = PriorityMedium
	default:
		p = PriorityLow
	}
	if confidence != nil && *confidence >= urgentConfidence && severity >= 4 {
		p = PriorityUrgent
	}
	return p
}

// Report is the durable record of one physical hazard.
type Report struct {
	ID       string      `json:"id"`
	Location Coordinates `json:"location"`
	Severity int         `json:"severity"`
	Status   Status      `json:"status"`
	Priority Priority    `json:"priority"`

	Confidence      *float64 `json:"confidence,omitempty"`
	SubmissionCount int      `json:"submission_count"`
	Source          Source   `json:"source"`

	ImageRef          string `json:"image_ref,omitempty"`
	Address           string `json:"address,omitempty"`
	ReporterName      string `json:"reporter_name,omitempty"`
	Notes             string `json:"notes,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	// ContactToken is only compared for self-service deletion and is never serialized.
	ContactToken string `json:"-"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reprioritize recomputes the derived priority from the current severity and confidence.
func (r *Report) Reprioritize() {
	r.Priority = DerivePriority(r.Severity, r.Confidence)
}

// Confirm records another sighting of the same hazard at time now.
func (r *Report) Confirm(now time.Time) {
	r.SubmissionCount++
	r.LastSeen = now
	r.UpdatedAt = now
	r.Reprioritize()
}

// NearbyReport pairs a report with its distance from a query point.
type NearbyReport struct {
	Report         Report
	DistanceMeters float64
}

// ReportFilter narrows report listings. Zero values match everything.
type ReportFilter struct {
	Status   Status
	Priority Priority
	Source   Source
}

// Matches reports whether r satisfies the filter.
func (f ReportFilter) Matches(r Report) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	return true
}
