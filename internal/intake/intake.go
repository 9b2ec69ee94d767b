// Package intake normalizes channel payloads into typed submissions and
// chat messages. String coordinates and ratings never travel past here.
package intake

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

// Twilio webhook form fields.
const (
	fieldBody         = "Body"
	fieldFrom         = "From"
	fieldMessageSid   = "MessageSid"
	fieldMediaURL     = "MediaUrl0"
	fieldMediaType    = "MediaContentType0"
	fieldLatitude     = "Latitude"
	fieldLongitude    = "Longitude"
	maxBodyBytes      = 2000
)

// Length limits in characters, matching the reports table columns.
const (
	maxContactChars   = 64
	maxMessageIDChars = 64
	maxAddressChars   = 512
	maxNameChars      = 255
	maxNotesChars     = 2000
)

// ChatMessage converts a Twilio webhook form into an InboundMessage.
func ChatMessage(form url.Values, receivedAt time.Time) (domain.InboundMessage, error) {
	msg := domain.InboundMessage{
		MessageID:        strings.TrimSpace(form.Get(fieldMessageSid)),
		SenderID:         strings.TrimSpace(form.Get(fieldFrom)),
		Body:             truncateBody(form.Get(fieldBody)),
		MediaURL:         strings.TrimSpace(form.Get(fieldMediaURL)),
		MediaContentType: form.Get(fieldMediaType),
		ReceivedAt:       receivedAt,
	}
	if msg.SenderID == "" {
		return domain.InboundMessage{}, &domain.ValidationError{Field: domain.FieldSender, Message: "From is required"}
	}
	if err := checkLength(domain.FieldSender, msg.SenderID, maxContactChars); err != nil {
		return domain.InboundMessage{}, err
	}
	if err := checkLength(domain.FieldMessage, msg.MessageID, maxMessageIDChars); err != nil {
		return domain.InboundMessage{}, err
	}

	lat, lon := form.Get(fieldLatitude), form.Get(fieldLongitude)
	if lat != "" || lon != "" {
		loc, err := ParseCoordinates(lat, lon)
		if err != nil {
			return domain.InboundMessage{}, err
		}
		msg.Location = &loc
	}
	return msg, nil
}

// WebForm is the raw multipart form posted by the web client.
type WebForm struct {
	Latitude     string
	Longitude    string
	Severity     string
	PhoneNumber  string
	Address      string
	ReporterName string
	Notes        string
	Image        []byte
	ImageType    string
}

// FromWebForm normalizes a multipart web submission.
func FromWebForm(f WebForm) (pipeline.WebSubmission, error) {
	loc, err := ParseCoordinates(f.Latitude, f.Longitude)
	if err != nil {
		return pipeline.WebSubmission{}, err
	}
	sev, err := ParseSeverity(f.Severity)
	if err != nil {
		return pipeline.WebSubmission{}, err
	}
	d, err := parseDetails(f.PhoneNumber, f.Address, f.ReporterName, f.Notes)
	if err != nil {
		return pipeline.WebSubmission{}, err
	}
	return pipeline.WebSubmission{
		Source:       domain.SourceWeb,
		Image:        domain.Media{Data: f.Image, ContentType: f.ImageType},
		Location:     loc,
		Severity:     sev,
		ContactToken: d.contact,
		Address:      d.address,
		ReporterName: d.name,
		Notes:        d.notes,
	}, nil
}

// APIRequest is the JSON body of POST /api/v1/reports.
type APIRequest struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Severity     int      `json:"severity"`
	ImageBase64  string   `json:"image_base64"`
	PhoneNumber  string   `json:"phone_number"`
	Address      string   `json:"address"`
	ReporterName string   `json:"reporter_name"`
	Notes        string   `json:"notes"`
}

// FromAPI normalizes a JSON API submission.
func FromAPI(req APIRequest) (pipeline.WebSubmission, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return pipeline.WebSubmission{}, &domain.ValidationError{Field: domain.FieldLocation, Message: "latitude and longitude are required"}
	}
	loc := domain.Coordinates{Lat: *req.Latitude, Lon: *req.Longitude}
	if err := loc.Validate(); err != nil {
		return pipeline.WebSubmission{}, err
	}
	if err := domain.ValidateSeverity(req.Severity); err != nil {
		return pipeline.WebSubmission{}, err
	}
	d, err := parseDetails(req.PhoneNumber, req.Address, req.ReporterName, req.Notes)
	if err != nil {
		return pipeline.WebSubmission{}, err
	}
	img, err := DecodeImage(req.ImageBase64)
	if err != nil {
		return pipeline.WebSubmission{}, err
	}
	return pipeline.WebSubmission{
		Source:       domain.SourceAPI,
		Image:        domain.Media{Data: img},
		Location:     loc,
		Severity:     req.Severity,
		ContactToken: d.contact,
		Address:      d.address,
		ReporterName: d.name,
		Notes:        d.notes,
	}, nil
}

// details are the optional free-text fields of a web or API submission.
type details struct {
	contact string
	address string
	name    string
	notes   string
}

func parseDetails(phone, address, name, notes string) (details, error) {
	d := details{
		contact: NormalizePhone(phone),
		address: strings.TrimSpace(address),
		name:    strings.TrimSpace(name),
		notes:   strings.TrimSpace(notes),
	}
	limits := []struct {
		field domain.Field
		value string
		max   int
	}{
		{domain.FieldContact, d.contact, maxContactChars},
		{domain.FieldAddress, d.address, maxAddressChars},
		{domain.FieldName, d.name, maxNameChars},
		{domain.FieldNotes, d.notes, maxNotesChars},
	}
	for _, l := range limits {
		if err := checkLength(l.field, l.value, l.max); err != nil {
			return details{}, err
		}
	}
	return d, nil
}

func checkLength(field domain.Field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return &domain.ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", limit)}
	}
	return nil
}

// ParseCoordinates parses and range-checks a latitude/longitude pair.
func ParseCoordinates(lat, lon string) (domain.Coordinates, error) {
	if strings.TrimSpace(lat) == "" || strings.TrimSpace(lon) == "" {
		return domain.Coordinates{}, &domain.ValidationError{Field: domain.FieldLocation, Message: "latitude and longitude are required"}
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return domain.Coordinates{}, &domain.ValidationError{Field: domain.FieldLocation, Message: "latitude is not a number"}
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return domain.Coordinates{}, &domain.ValidationError{Field: domain.FieldLocation, Message: "longitude is not a number"}
	}
	c := domain.Coordinates{Lat: la, Lon: lo}
	if err := c.Validate(); err != nil {
		return domain.Coordinates{}, err
	}
	return c, nil
}

// ParseSeverity parses an integer rating in 1-5.
func ParseSeverity(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &domain.ValidationError{Field: domain.FieldSeverity, Message: "severity must be a number from 1 to 5"}
	}
	if err := domain.ValidateSeverity(n); err != nil {
		return 0, err
	}
	return n, nil
}

// DecodeImage decodes standard base64, with or without a data URL prefix.
func DecodeImage(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, &domain.ValidationError{Field: domain.FieldImage, Message: "an image of the hazard is required"}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &domain.ValidationError{Field: domain.FieldImage, Message: "image_base64 is not valid base64"}
	}
	return data, nil
}

// NormalizePhone strips formatting and the chat channel prefix so the stored
// contact token and later deletion requests compare equal.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range domain.ContactPhone(strings.TrimSpace(s)) {
		switch {
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxBodyBytes {
		return strings.ToValidUTF8(s[:maxBodyBytes], "")
	}
	return s
}
