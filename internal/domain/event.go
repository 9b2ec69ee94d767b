package domain

import "time"

// EventType names a report lifecycle change published downstream.
type EventType string

const (
	EventCreated        EventType = "created"
	EventConfirmed      EventType = "confirmed"
	EventStatusChanged  EventType = "status_changed"
	EventDeleted        EventType = "deleted"
	EventDeletionReview EventType = "deletion_review"
)

// ReportEvent is the payload published for every report mutation.
type ReportEvent struct {
	Type       EventType `json:"type"`
	ReportID   string    `json:"report_id"`
	Report     *Report   `json:"report,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewReportEvent builds an event stamped with the package clock.
func NewReportEvent(t EventType, r Report) ReportEvent {
	return ReportEvent{
		Type:       t,
		ReportID:   r.ID,
		Report:     &r,
		OccurredAt: Now(),
	}
}
