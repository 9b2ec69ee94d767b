// Package gate decides whether a submitted image plausibly shows the hazard
// before it may create or confirm a report.
package gate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
)

// Outcome labels a gate decision.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeRejected    Outcome = "rejected"
	OutcomeUnavailable Outcome = "unavailable"
	OutcomePassthrough Outcome = "passthrough"
)

// Decision is the result of validating one image.
type Decision struct {
	Outcome Outcome
	// Confidence is the first prediction's score. Nil on passthrough or
	// when the detector returned nothing.
	Confidence *float64
	Class      string
}

// Accepted reports whether the image may advance the draft.
func (d Decision) Accepted() bool {
	return d.Outcome == OutcomeAccepted || d.Outcome == OutcomePassthrough
}

// Verified reports whether a detector actually classified the image.
func (d Decision) Verified() bool {
	return d.Outcome == OutcomeAccepted
}

// Options configure the acceptance policy.
type Options struct {
	Threshold float64
	Class     string
	// Passthrough accepts every image unvalidated when no classifier is set.
	Passthrough bool
}

// Gate applies the acceptance policy to detector predictions.
type Gate struct {
	classifier domain.Classifier
	opts       Options
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// New creates a Gate. A nil classifier with Passthrough unset rejects every
// image as unavailable.
func New(classifier domain.Classifier, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Gate {
	if classifier == nil && opts.Passthrough {
		logger.Warn("image gate in passthrough mode: images are accepted without validation")
	}
	return &Gate{
		classifier: classifier,
		opts:       opts,
		logger:     logger,
		metrics:    metrics,
	}
}

// Validate classifies image and applies the policy. Detector failures are
// reported as OutcomeUnavailable, never as an error.
func (g *Gate) Validate(ctx context.Context, image []byte) Decision {
	d := g.decide(ctx, image)
	g.metrics.GateDecisions.WithLabelValues(string(d.Outcome)).Inc()
	return d
}

func (g *Gate) decide(ctx context.Context, image []byte) Decision {
	if g.classifier == nil {
		if g.opts.Passthrough {
			return Decision{Outcome: OutcomePassthrough}
		}
		return Decision{Outcome: OutcomeUnavailable}
	}

	predictions, err := g.classifier.Classify(ctx, image)
	if err != nil {
		g.logger.Warn("image detector failed", "error", err)
		return Decision{Outcome: OutcomeUnavailable}
	}
	if len(predictions) == 0 {
		return Decision{Outcome: OutcomeRejected}
	}

	// Only the first prediction counts.
	p := predictions[0]
	conf := p.Confidence
	d := Decision{Outcome: OutcomeRejected, Confidence: &conf, Class: p.Class}
	if p.Confidence >= g.opts.Threshold && p.Class == g.opts.Class {
		d.Outcome = OutcomeAccepted
	}
	return d
}

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// CheckImage sniffs the image type and rejects empty or unsupported uploads.
// It returns the detected content type.
func CheckImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &domain.ValidationError{Field: domain.FieldImage, Message: "an image of the hazard is required"}
	}
	ct := http.DetectContentType(data)
	if _, ok := allowedImageTypes[ct]; !ok {
		return "", &domain.ValidationError{Field: domain.FieldImage, Message: "unsupported image type " + ct}
	}
	return ct, nil
}

// Extension returns the file extension for a supported image content type.
func Extension(contentType string) string {
	return allowedImageTypes[contentType]
}
