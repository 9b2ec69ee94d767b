// Package pipeline turns complete submissions into reports: image check,
// validation gate, media storage, then dedup-aware persistence.
package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/gate"
	"github.com/couchcryptid/road-hazard-service/internal/lifecycle"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
)

// ErrImageRejected is returned when the gate does not accept a web image.
var ErrImageRejected = errors.New("the image does not appear to show a road hazard")

// ImageValidator applies the image acceptance policy.
type ImageValidator interface {
	Validate(ctx context.Context, image []byte) gate.Decision
}

// MediaStore persists accepted images and returns a reference to them.
type MediaStore interface {
	Save(ctx context.Context, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, ref string) error
}

// Submitter creates or confirms a report.
type Submitter interface {
	Submit(ctx context.Context, sub domain.Submission) (lifecycle.Result, error)
}

// Outcome is the result of a finalized submission.
type Outcome = lifecycle.Result

// WebSubmission is a single-request submission from the web form or JSON API.
type WebSubmission struct {
	Source       domain.Source
	Image        domain.Media
	Location     domain.Coordinates
	Severity     int
	ContactToken string
	Address      string
	ReporterName string
	Notes        string
}

// AcceptedImage is a gate decision plus the stored reference when accepted.
type AcceptedImage struct {
	Ref      string
	Decision gate.Decision
}

// Pipeline orchestrates gate, media storage, and the lifecycle manager.
type Pipeline struct {
	gate      ImageValidator
	media     MediaStore
	submitter Submitter
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline with the given stages and observability.
func New(g ImageValidator, media MediaStore, submitter Submitter, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		gate:      g,
		media:     media,
		submitter: submitter,
		logger:    logger,
		metrics:   metrics,
	}
}

// AcceptImage checks the image type, runs the gate, and stores the image when
// accepted. Rejection and detector unavailability are reported through the
// decision, not as errors.
func (p *Pipeline) AcceptImage(ctx context.Context, media domain.Media) (AcceptedImage, error) {
	contentType, err := gate.CheckImage(media.Data)
	if err != nil {
		return AcceptedImage{}, err
	}

	decision := p.gate.Validate(ctx, media.Data)
	if !decision.Accepted() {
		p.logger.Info("image not accepted", "outcome", decision.Outcome, "class", decision.Class)
		return AcceptedImage{Decision: decision}, nil
	}

	ref, err := p.media.Save(ctx, media.Data, contentType)
	if err != nil {
		return AcceptedImage{}, domain.StorageError("save image", err)
	}
	return AcceptedImage{Ref: ref, Decision: decision}, nil
}

// SubmitWeb validates and submits a single-request report.
func (p *Pipeline) SubmitWeb(ctx context.Context, ws WebSubmission) (Outcome, error) {
	p.metrics.InboundMessages.WithLabelValues(string(ws.Source)).Inc()

	// Reject malformed fields before paying for a detector call.
	if err := ws.Location.Validate(); err != nil {
		return Outcome{}, err
	}
	if err := domain.ValidateSeverity(ws.Severity); err != nil {
		return Outcome{}, err
	}

	img, err := p.AcceptImage(ctx, ws.Image)
	if err != nil {
		return Outcome{}, err
	}
	switch img.Decision.Outcome {
	case gate.OutcomeRejected:
		return Outcome{}, ErrImageRejected
	case gate.OutcomeUnavailable:
		return Outcome{}, &domain.DependencyError{Dependency: "image detector", Err: errors.New("no decision")}
	}

	res, err := p.submitter.Submit(ctx, domain.Submission{
		Source:       ws.Source,
		Location:     ws.Location,
		Severity:     ws.Severity,
		ImageRef:     img.Ref,
		Confidence:   img.Decision.Confidence,
		Verified:     img.Decision.Verified(),
		ContactToken: ws.ContactToken,
		Address:      ws.Address,
		ReporterName: ws.ReporterName,
		Notes:        ws.Notes,
	})
	if err != nil {
		return Outcome{}, err
	}
	if res.Confirmed {
		p.discardImage(ctx, img.Ref)
	}
	return res, nil
}

// Finalize submits a complete chat draft whose image already passed the gate.
func (p *Pipeline) Finalize(ctx context.Context, senderID, messageID string, draft domain.SubmissionDraft) (Outcome, error) {
	if missing := draft.Missing(); len(missing) > 0 {
		return Outcome{}, &domain.ValidationError{Field: missing[0], Message: "not yet provided"}
	}
	res, err := p.submitter.Submit(ctx, draft.ToSubmission(senderID, messageID))
	if err != nil {
		// The draft keeps its image for the next attempt.
		return Outcome{}, err
	}
	if res.Confirmed {
		p.discardImage(ctx, draft.ImageRef)
	}
	return res, nil
}

// discardImage removes an image no report refers to. A confirmation keeps
// the original report's image.
func (p *Pipeline) discardImage(ctx context.Context, ref string) {
	if err := p.media.Delete(ctx, ref); err != nil {
		p.logger.Warn("discard unused image failed", "image_ref", ref, "error", err)
	}
}
