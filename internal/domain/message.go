package domain

import (
	"strings"
	"time"
)

// chatChannelPrefix is how the provider marks WhatsApp sender ids.
const chatChannelPrefix = "whatsapp:"

// InboundMessage is one chat webhook delivery after normalization.
type InboundMessage struct {
	MessageID        string
	SenderID         string
	Body             string
	MediaURL         string
	MediaContentType string
	Location         *Coordinates
	ReceivedAt       time.Time
}

// HasMedia reports whether the message carries an attachment.
func (m InboundMessage) HasMedia() bool {
	return m.MediaURL != ""
}

// ContactPhone strips the channel prefix from a sender id, so a chat report
// stores the same phone number a reporter types into the deletion form.
func ContactPhone(senderID string) string {
	if len(senderID) >= len(chatChannelPrefix) && strings.EqualFold(senderID[:len(chatChannelPrefix)], chatChannelPrefix) {
		return senderID[len(chatChannelPrefix):]
	}
	return senderID
}

// Media is a downloaded or uploaded image.
type Media struct {
	Data        []byte
	ContentType string
}

// ReviewRequest records a refused self-service deletion awaiting manual review.
type ReviewRequest struct {
	ReportID    string    `json:"report_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}
