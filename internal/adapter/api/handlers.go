package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/couchcryptid/road-hazard-service/internal/adapter/twilio"
	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/intake"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

func (h *handler) submitWebForm(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+1<<20)

	image, imageType, err := h.readUpload(c)
	if err != nil {
		h.writeError(c, err)
		return
	}
	ws, err := intake.FromWebForm(intake.WebForm{
		Latitude:     c.PostForm("latitude"),
		Longitude:    c.PostForm("longitude"),
		Severity:     c.PostForm("severity"),
		PhoneNumber:  c.PostForm("phone_number"),
		Address:      c.PostForm("approximate_address"),
		ReporterName: c.PostForm("reporter_name"),
		Notes:        c.PostForm("additional_notes"),
		Image:        image,
		ImageType:    imageType,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.submit(c, ws)
}

func (h *handler) readUpload(c *gin.Context) ([]byte, string, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", errImageTooLarge
		}
		return nil, "", &domain.ValidationError{Field: domain.FieldImage, Message: "an image of the hazard is required"}
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.opts.MaxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > h.opts.MaxUploadBytes {
		return nil, "", errImageTooLarge
	}
	return data, fh.Header.Get("Content-Type"), nil
}

var errImageTooLarge = &domain.ValidationError{Field: domain.FieldImage, Message: "the image is too large"}

func (h *handler) submitJSON(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*h.opts.MaxUploadBytes)

	var req intake.APIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON report"})
		return
	}
	ws, err := intake.FromAPI(req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.submit(c, ws)
}

func (h *handler) submit(c *gin.Context, ws pipeline.WebSubmission) {
	out, err := h.submitter.SubmitWeb(c.Request.Context(), ws)
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := http.StatusCreated
	if out.Confirmed {
		status = http.StatusOK
	}
	c.JSON(status, submitResponse{Report: toReportResponse(out.Report), Confirmed: out.Confirmed})
}

// chatWebhook answers every delivery with TwiML. Only a failure to persist
// the session is reported as a server error, so the provider redelivers it.
func (h *handler) chatWebhook(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed form body"})
		return
	}

	var reply string
	msg, err := intake.ChatMessage(c.Request.PostForm, domain.Now())
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve) && ve.Field == domain.FieldSender:
		h.writeError(c, err)
		return
	case errors.As(err, &ve):
		reply = "Sorry, " + ve.Message + "."
	case err != nil:
		h.writeError(c, err)
		return
	default:
		reply, err = h.chat.Handle(c.Request.Context(), msg)
		if err != nil {
			h.writeError(c, err)
			return
		}
	}

	body, err := twilio.MessagingResponse(reply)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, twilio.ContentTypeXML, body)
}

func (h *handler) nearby(c *gin.Context) {
	origin, err := intake.ParseCoordinates(c.Query("lat"), c.Query("lon"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var radius float64
	if s := c.Query("radius"); s != "" {
		radius, err = strconv.ParseFloat(s, 64)
		if err != nil || radius <= 0 {
			h.writeError(c, &domain.ValidationError{Field: domain.FieldLocation, Message: "radius must be a positive number of meters"})
			return
		}
	}

	matches, err := h.reports.Nearby(c.Request.Context(), origin, radius)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]nearbyResponse, 0, len(matches))
	for _, m := range matches {
		out = append(out, toNearbyResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"reports": out})
}

func (h *handler) getReport(c *gin.Context) {
	r, err := h.reports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReportResponse(r))
}

func (h *handler) confirm(c *gin.Context) {
	r, err := h.reports.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": r.ID, "submission_count": r.SubmissionCount})
}

type deleteRequest struct {
	PhoneNumber string `form:"phone_number" json:"phone_number"`
}

func (h *handler) deleteReport(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed deletion request"})
		return
	}
	deleted, err := h.reports.Delete(c.Request.Context(), c.Param("id"), intake.NormalizePhone(req.PhoneNumber))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusAccepted, gin.H{
			"deleted": false,
			"status":  "pending_review",
			"message": "Your request has been sent for manual review.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
