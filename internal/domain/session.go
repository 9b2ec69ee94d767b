package domain

import "time"

// ConversationState is the position of a sender in the multi-turn report flow.
type ConversationState string

const (
	StateInit            ConversationState = "INIT"
	StateAwaitingCommand ConversationState = "AWAITING_COMMAND"
	StateCollecting      ConversationState = "COLLECTING"
	StateReady           ConversationState = "READY"
	StateSubmitted       ConversationState = "SUBMITTED"
	StateAbandoned       ConversationState = "ABANDONED"
)

// maxProcessedMessages bounds the per-sender idempotency history.
const maxProcessedMessages = 32

// ProcessedMessage remembers the reply sent for a provider message id.
type ProcessedMessage struct {
	ID    string `json:"id"`
	Reply string `json:"reply"`
}

// ConversationSession is the per-sender state for chat intake. Sessions are
// never deleted by the state machine; only their draft is reset.
type ConversationSession struct {
	SenderID                 string             `json:"sender_id"`
	State                    ConversationState  `json:"state"`
	Draft                    SubmissionDraft    `json:"draft"`
	FirstContactAcknowledged bool               `json:"first_contact_acknowledged"`
	LastActivity             time.Time          `json:"last_activity"`
	Processed                []ProcessedMessage `json:"processed,omitempty"`
}

// NewSession returns a fresh session for a sender seen for the first time.
func NewSession(senderID string) ConversationSession {
	return ConversationSession{
		SenderID: senderID,
		State:    StateInit,
	}
}

// ReplayFor returns the reply previously sent for messageID, if any.
func (s *ConversationSession) ReplayFor(messageID string) (string, bool) {
	if messageID == "" {
		return "", false
	}
	for _, p := range s.Processed {
		if p.ID == messageID {
			return p.Reply, true
		}
	}
	return "", false
}

// RecordProcessed remembers the reply for messageID, evicting the oldest entry
// once the history is full. Messages without a provider id are not recorded.
func (s *ConversationSession) RecordProcessed(messageID, reply string) {
	if messageID == "" {
		return
	}
	s.Processed = append(s.Processed, ProcessedMessage{ID: messageID, Reply: reply})
	if over := len(s.Processed) - maxProcessedMessages; over > 0 {
		s.Processed = append([]ProcessedMessage(nil), s.Processed[over:]...)
	}
}

// ResetDraft clears every collected field.
func (s *ConversationSession) ResetDraft() {
	s.Draft = SubmissionDraft{}
}

// Abandon clears an in-progress draft left idle. It returns false when there
// was nothing in progress.
func (s *ConversationSession) Abandon() bool {
	if s.Draft.Empty() && s.State != StateCollecting && s.State != StateReady {
		return false
	}
	s.ResetDraft()
	s.State = StateAbandoned
	return true
}

// IdleSince reports whether the session saw no activity after cutoff.
func (s *ConversationSession) IdleSince(cutoff time.Time) bool {
	return s.LastActivity.Before(cutoff)
}
