// Package lifecycle owns the canonical report records: creation, confirmation,
// status changes, and self-service deletion.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/couchcryptid/road-hazard-service/internal/dedup"
	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
)

// ReportStore persists reports. Scan returns all reports in insertion order.
// Implementations wrap data-layer failures with domain.StorageError and return
// domain.ErrNotFound for unknown ids.
type ReportStore interface {
	Create(ctx context.Context, r domain.Report) error
	Get(ctx context.Context, id string) (domain.Report, error)
	Update(ctx context.Context, r domain.Report) error
	Delete(ctx context.Context, id string) error
	Scan(ctx context.Context) ([]domain.Report, error)
	Ping(ctx context.Context) error
}

// EventPublisher receives report events after they are persisted.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ReportEvent) error
}

// Result is the outcome of a submission.
type Result struct {
	Report domain.Report
	// Confirmed is true when the submission matched an existing report.
	Confirmed bool
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithGeocoder enables address enrichment for new reports.
func WithGeocoder(g domain.Geocoder) Option {
	return func(m *Manager) { m.geocoder = g }
}

// WithEvents publishes a ReportEvent for every mutation.
func WithEvents(p EventPublisher) Option {
	return func(m *Manager) { m.events = p }
}

// Manager is the only writer of report records.
type Manager struct {
	store    ReportStore
	dedup    *dedup.Engine
	locks    *cellLocks
	geocoder domain.Geocoder
	events   EventPublisher
	logger   *slog.Logger
	metrics  *observability.Metrics
	newID    func() string
}

// NewManager creates a Manager. Submissions within the engine's radius of
// each other are serialized.
func NewManager(store ReportStore, engine *dedup.Engine, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		dedup:   engine,
		locks:   newCellLocks(engine.Radius()),
		logger:  logger,
		metrics: metrics,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit creates a new report, or confirms the nearest existing report within
// the confirmation radius.
func (m *Manager) Submit(ctx context.Context, sub domain.Submission) (Result, error) {
	if err := sub.Validate(); err != nil {
		return Result{}, err
	}

	unlock := m.locks.lockArea(sub.Location)
	defer unlock()

	match, found, err := m.dedup.Nearest(ctx, sub.Location)
	if err != nil {
		return Result{}, err
	}
	if found {
		r := match.Report
		r.Confirm(domain.Now())
		if err := m.store.Update(ctx, r); err != nil {
			return Result{}, fmt.Errorf("confirm report %s: %w", r.ID, err)
		}
		m.metrics.Submissions.WithLabelValues("confirmed").Inc()
		m.logger.Info("report confirmed",
			"report_id", r.ID,
			"distance_m", match.DistanceMeters,
			"submission_count", r.SubmissionCount,
			"source", sub.Source,
		)
		m.publish(ctx, domain.EventConfirmed, r)
		return Result{Report: r, Confirmed: true}, nil
	}

	r := m.newReport(sub)
	r = domain.ResolveAddress(ctx, r, m.geocoder, m.logger)
	if err := m.store.Create(ctx, r); err != nil {
		return Result{}, fmt.Errorf("create report: %w", err)
	}
	m.metrics.Submissions.WithLabelValues("created").Inc()
	m.logger.Info("report created",
		"report_id", r.ID,
		"source", r.Source,
		"status", r.Status,
		"priority", r.Priority,
	)
	m.publish(ctx, domain.EventCreated, r)
	return Result{Report: r}, nil
}

func (m *Manager) newReport(sub domain.Submission) domain.Report {
	now := domain.Now()
	status := domain.StatusPending
	if sub.Source == domain.SourceChat && sub.Verified {
		status = domain.StatusVerified
	}
	r := domain.Report{
		ID:                m.newID(),
		Location:          sub.Location,
		Severity:          sub.Severity,
		Status:            status,
		Confidence:        sub.Confidence,
		SubmissionCount:   1,
		Source:            sub.Source,
		ImageRef:          sub.ImageRef,
		Address:           sub.Address,
		ReporterName:      sub.ReporterName,
		Notes:             sub.Notes,
		ProviderMessageID: sub.ProviderMessageID,
		ContactToken:      sub.ContactToken,
		FirstSeen:         now,
		LastSeen:          now,
		UpdatedAt:         now,
	}
	r.Reprioritize()
	return r
}

// Confirm records an explicit re-confirmation of an existing report.
func (m *Manager) Confirm(ctx context.Context, id string) (domain.Report, error) {
	r, err := m.mutate(ctx, id, func(r *domain.Report) error {
		r.Confirm(domain.Now())
		return nil
	})
	if err != nil {
		return domain.Report{}, err
	}
	m.metrics.Submissions.WithLabelValues("confirmed").Inc()
	m.publish(ctx, domain.EventConfirmed, r)
	return r, nil
}

// SetStatus moves a report to a new lifecycle status.
func (m *Manager) SetStatus(ctx context.Context, id string, status domain.Status) (domain.Report, error) {
	if _, err := domain.ParseStatus(string(status)); err != nil {
		return domain.Report{}, err
	}
	r, err := m.mutate(ctx, id, func(r *domain.Report) error {
		r.Status = status
		r.UpdatedAt = domain.Now()
		r.Reprioritize()
		return nil
	})
	if err != nil {
		return domain.Report{}, err
	}
	m.metrics.StatusChanges.Inc()
	m.logger.Info("report status changed", "report_id", id, "status", status)
	m.publish(ctx, domain.EventStatusChanged, r)
	return r, nil
}

// SetAddress stores a human-readable address for a report.
func (m *Manager) SetAddress(ctx context.Context, id, address string) (domain.Report, error) {
	return m.mutate(ctx, id, func(r *domain.Report) error {
		r.Address = address
		r.UpdatedAt = domain.Now()
		r.Reprioritize()
		return nil
	})
}

// Delete removes a report when token exactly matches its stored contact
// token. Otherwise nothing is deleted and a review request is raised; the
// returned bool is false and the error is nil.
func (m *Manager) Delete(ctx context.Context, id, token string) (bool, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	unlock := m.locks.lockPoint(r.Location)
	defer unlock()

	// Re-read under the lock; the token never changes but the row may be gone.
	r, err = m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if reason, ok := deletionAllowed(r.ContactToken, token); !ok {
		req := domain.ReviewRequest{ReportID: r.ID, Reason: reason, RequestedAt: domain.Now()}
		m.metrics.Deletions.WithLabelValues("review").Inc()
		m.logger.Info("deletion routed to manual review", "report_id", r.ID, "reason", req.Reason)
		m.publish(ctx, domain.EventDeletionReview, r)
		return false, nil
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("delete report %s: %w", id, err)
	}
	m.metrics.Deletions.WithLabelValues("deleted").Inc()
	m.logger.Info("report deleted", "report_id", id)
	m.publish(ctx, domain.EventDeleted, r)
	return true, nil
}

// deletionAllowed never permits deletion of a report without a stored token
// or with an empty supplied token.
func deletionAllowed(stored, supplied string) (string, bool) {
	switch {
	case stored == "":
		return "report has no contact token", false
	case supplied == "":
		return "no contact token supplied", false
	case subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) != 1:
		return "contact token mismatch", false
	default:
		return "", true
	}
}

// Get returns one report.
func (m *Manager) Get(ctx context.Context, id string) (domain.Report, error) {
	return m.store.Get(ctx, id)
}

// List returns reports matching filter in insertion order.
func (m *Manager) List(ctx context.Context, filter domain.ReportFilter) ([]domain.Report, error) {
	all, err := m.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	out := make([]domain.Report, 0, len(all))
	for _, r := range all {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Nearby returns reports within radius meters of origin, nearest first.
func (m *Manager) Nearby(ctx context.Context, origin domain.Coordinates, radius float64) ([]domain.NearbyReport, error) {
	return m.dedup.Nearby(ctx, origin, radius)
}

// CheckReadiness reports whether the report store is reachable.
func (m *Manager) CheckReadiness(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// mutate applies fn to a report under its cell lock and persists the result.
func (m *Manager) mutate(ctx context.Context, id string, fn func(*domain.Report) error) (domain.Report, error) {
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	unlock := m.locks.lockPoint(r.Location)
	defer unlock()

	r, err = m.store.Get(ctx, id)
	if err != nil {
		return domain.Report{}, err
	}
	if err := fn(&r); err != nil {
		return domain.Report{}, err
	}
	if err := m.store.Update(ctx, r); err != nil {
		return domain.Report{}, fmt.Errorf("update report %s: %w", id, err)
	}
	return r, nil
}

func (m *Manager) publish(ctx context.Context, t domain.EventType, r domain.Report) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, domain.NewReportEvent(t, r)); err != nil {
		m.metrics.EventPublishFailures.Inc()
		m.logger.Warn("publish report event failed", "report_id", r.ID, "event_type", t, "error", err)
	}
}
