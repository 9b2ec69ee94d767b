package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *handler) setStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
		return
	}
	r, err := h.reports.SetStatus(c.Request.Context(), c.Param("id"), domain.Status(req.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReportResponse(r))
}

var csvHeader = []string{
	"id", "latitude", "longitude", "severity", "status", "priority", "confidence",
	"submission_count", "source", "address", "reporter_name", "notes", "first_seen", "last_seen",
}

// exportCSV streams every report matching the status, priority and source
// query filters.
func (h *handler) exportCSV(c *gin.Context) {
	filter := domain.ReportFilter{
		Status:   domain.Status(c.Query("status")),
		Priority: domain.Priority(c.Query("priority")),
		Source:   domain.Source(c.Query("source")),
	}
	reports, err := h.reports.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="reports.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	_ = w.Write(csvHeader)
	for _, r := range reports {
		_ = w.Write(csvRecord(r))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Warn("csv export interrupted", "error", err)
	}
}

func csvRecord(r domain.Report) []string {
	conf := ""
	if r.Confidence != nil {
		conf = strconv.FormatFloat(*r.Confidence, 'f', 4, 64)
	}
	return []string{
		r.ID,
		strconv.FormatFloat(r.Location.Lat, 'f', 6, 64),
		strconv.FormatFloat(r.Location.Lon, 'f', 6, 64),
		strconv.Itoa(r.Severity),
		string(r.Status),
		string(r.Priority),
		conf,
		strconv.Itoa(r.SubmissionCount),
		string(r.Source),
		r.Address,
		r.ReporterName,
		r.Notes,
		r.FirstSeen.UTC().Format(time.RFC3339),
		r.LastSeen.UTC().Format(time.RFC3339),
	}
}
