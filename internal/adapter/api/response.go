package api

import (
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

type reportResponse struct {
	ID              string          `json:"id"`
	Latitude        float64         `json:"latitude"`
	Longitude       float64         `json:"longitude"`
	Severity        int             `json:"severity"`
	Status          domain.Status   `json:"status"`
	Priority        domain.Priority `json:"priority"`
	Confidence      *float64        `json:"confidence,omitempty"`
	SubmissionCount int             `json:"submission_count"`
	Source          domain.Source   `json:"source"`
	ImageURL        string          `json:"image_url,omitempty"`
	Address         string          `json:"address,omitempty"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastSeen        time.Time       `json:"last_seen"`
}

type submitResponse struct {
	Report    reportResponse `json:"report"`
	Confirmed bool           `json:"confirmed"`
}

type nearbyResponse struct {
	ID              string  `json:"id"`
	DistanceMeters  float64 `json:"distance_meters"`
	Severity        int     `json:"severity"`
	SubmissionCount int     `json:"submission_count"`
	ImageURL        string  `json:"image_url,omitempty"`
	Address         string  `json:"address,omitempty"`
}

func toReportResponse(r domain.Report) reportResponse {
	return reportResponse{
		ID:              r.ID,
		Latitude:        r.Location.Lat,
		Longitude:       r.Location.Lon,
		Severity:        r.Severity,
		Status:          r.Status,
		Priority:        r.Priority,
		Confidence:      r.Confidence,
		SubmissionCount: r.SubmissionCount,
		Source:          r.Source,
		ImageURL:        imageURL(r.ImageRef),
		Address:         r.Address,
		FirstSeen:       r.FirstSeen,
		LastSeen:        r.LastSeen,
	}
}

func toNearbyResponse(m domain.NearbyReport) nearbyResponse {
	return nearbyResponse{
		ID:              m.Report.ID,
		DistanceMeters:  math.Round(m.DistanceMeters*10) / 10,
		Severity:        m.Report.Severity,
		SubmissionCount: m.Report.SubmissionCount,
		ImageURL:        imageURL(m.Report.ImageRef),
		Address:         m.Report.Address,
	}
}

func imageURL(ref string) string {
	if ref == "" {
		return ""
	}
	return "/media/" + ref
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (h *handler) writeError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Message, "field": ve.Field})
	case errors.Is(err, pipeline.ErrImageRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "field": domain.FieldImage})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
	case domain.IsDependency(err):
		h.logger.Warn("dependency unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "a required service is unavailable, please try again"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
