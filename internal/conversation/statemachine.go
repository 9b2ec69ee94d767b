// Package conversation assembles chat reports across multiple messages, one
// per-sender session at a time.
package conversation

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/gate"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

// SessionStore persists sessions keyed by sender. Load returns a fresh
// session for unknown senders.
type SessionStore interface {
	Load(ctx context.Context, senderID string) (domain.ConversationSession, error)
	Save(ctx context.Context, sess domain.ConversationSession) error
	AbandonIdle(ctx context.Context, cutoff time.Time) (int, error)
}

// MediaFetcher downloads the attachment referenced by an inbound message.
type MediaFetcher interface {
	Fetch(ctx context.Context, mediaURL string) (domain.Media, error)
}

// Submissions is the slice of the pipeline the chat flow needs.
type Submissions interface {
	AcceptImage(ctx context.Context, media domain.Media) (pipeline.AcceptedImage, error)
	Finalize(ctx context.Context, senderID, messageID string, draft domain.SubmissionDraft) (pipeline.Outcome, error)
}

const senderStripes = 64

// StateMachine advances one sender's session per inbound message.
type StateMachine struct {
	store   SessionStore
	media   MediaFetcher
	subs    Submissions
	logger  *slog.Logger
	metrics *observability.Metrics
	senders [senderStripes]sync.Mutex
}

// NewStateMachine wires the state machine to its collaborators.
func NewStateMachine(store SessionStore, media MediaFetcher, subs Submissions, logger *slog.Logger, metrics *observability.Metrics) *StateMachine {
	return &StateMachine{
		store:   store,
		media:   media,
		subs:    subs,
		logger:  logger,
		metrics: metrics,
	}
}

// Handle processes one inbound message and returns the single reply to send.
// Messages from the same sender are serialized; a re-delivered message id
// returns the original reply without touching the draft.
func (sm *StateMachine) Handle(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if msg.SenderID == "" {
		return "", &domain.ValidationError{Field: domain.FieldSender, Message: "sender is required"}
	}
	sm.metrics.InboundMessages.WithLabelValues(string(domain.SourceChat)).Inc()

	mu := &sm.senders[senderStripe(msg.SenderID)]
	mu.Lock()
	defer mu.Unlock()

	sess, err := sm.store.Load(ctx, msg.SenderID)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	if reply, ok := sess.ReplayFor(msg.MessageID); ok {
		sm.metrics.ReplayedMessages.Inc()
		sm.logger.Debug("replaying reply for duplicate delivery", "sender_id", msg.SenderID, "message_id", msg.MessageID)
		return reply, nil
	}

	reply, submitted, err := sm.step(ctx, &sess, msg)
	if err != nil {
		return "", err
	}

	sess.LastActivity = domain.Now()
	sess.RecordProcessed(msg.MessageID, reply)
	if err := sm.store.Save(ctx, sess); err != nil {
		if submitted {
			// The checkpoint already records the message, so a redelivery only replays.
			sm.logger.Error("save session after submission failed", "sender_id", msg.SenderID, "message_id", msg.MessageID, "error", err)
			return reply, nil
		}
		sm.logger.Error("save session failed", "sender_id", msg.SenderID, "message_id", msg.MessageID, "error", err)
		return "", fmt.Errorf("save session: %w", err)
	}
	return reply, nil
}

// step applies msg to the session. submitted is true once the pipeline
// accepted the draft; err is only set when nothing was submitted.
func (sm *StateMachine) step(ctx context.Context, sess *domain.ConversationSession, msg domain.InboundMessage) (reply string, submitted bool, err error) {
	if !sess.FirstContactAcknowledged {
		sess.FirstContactAcknowledged = true
		sess.State = domain.StateAwaitingCommand
		return promptWelcome, false, nil
	}

	if strings.Contains(strings.ToLower(msg.Body), resetCommand) {
		sess.ResetDraft()
		sess.State = domain.StateCollecting
		return promptStart, false, nil
	}

	// At most one field per message: media, then location, then severity.
	var ack string
	switch {
	case msg.HasMedia():
		reply, ok := sm.acceptImage(ctx, sess, msg)
		if !ok {
			return reply, false, nil
		}
		ack = reply
	case msg.Location != nil:
		if err := msg.Location.Validate(); err != nil {
			return "That location is not valid. " + missingPrompts[domain.FieldLocation], false, nil
		}
		loc := *msg.Location
		sess.Draft.Location = &loc
		ack = ackLocation
	default:
		if sev, ok := parseSeverity(msg.Body); ok {
			sess.Draft.Severity = &sev
			ack = ackSeverity
		}
	}

	if ack != "" && !sess.Draft.Complete() {
		sess.State = domain.StateCollecting
		return ack + " " + nextPrompt(sess.Draft), false, nil
	}
	if sess.Draft.Complete() {
		return sm.finalize(ctx, sess, msg)
	}
	return nextPrompt(sess.Draft), false, nil
}

// acceptImage downloads and gates the attachment. The draft is only touched
// when the image is accepted and stored.
func (sm *StateMachine) acceptImage(ctx context.Context, sess *domain.ConversationSession, msg domain.InboundMessage) (string, bool) {
	media, err := sm.media.Fetch(ctx, msg.MediaURL)
	if err != nil {
		sm.logger.Warn("media download failed", "sender_id", msg.SenderID, "message_id", msg.MessageID, "error", err)
		return promptRetry, false
	}

	img, err := sm.subs.AcceptImage(ctx, media)
	switch {
	case domain.IsValidation(err):
		return promptBadImage, false
	case err != nil:
		sm.logger.Error("accept image failed", "sender_id", msg.SenderID, "error", err)
		return promptRetry, false
	}

	switch img.Decision.Outcome {
	case gate.OutcomeUnavailable:
		return promptRetry, false
	case gate.OutcomeRejected:
		return promptRejected, false
	}

	sess.Draft.ImageRef = img.Ref
	sess.Draft.Confidence = img.Decision.Confidence
	sess.Draft.Verified = img.Decision.Verified()
	return ackImage, true
}

// finalize submits the complete draft. Before the pipeline runs, the session
// is saved with the draft cleared and msg recorded, so no delivery of msg can
// submit the same draft twice.
func (sm *StateMachine) finalize(ctx context.Context, sess *domain.ConversationSession, msg domain.InboundMessage) (string, bool, error) {
	checkpoint := *sess
	checkpoint.Processed = append([]domain.ProcessedMessage(nil), sess.Processed...)
	checkpoint.State = domain.StateReady
	checkpoint.ResetDraft()
	checkpoint.LastActivity = domain.Now()
	checkpoint.RecordProcessed(msg.MessageID, promptPending)
	if err := sm.store.Save(ctx, checkpoint); err != nil {
		sm.logger.Error("save session checkpoint failed", "sender_id", sess.SenderID, "message_id", msg.MessageID, "error", err)
		return "", false, fmt.Errorf("save session: %w", err)
	}

	sess.State = domain.StateReady
	res, err := sm.subs.Finalize(ctx, sess.SenderID, msg.MessageID, sess.Draft)
	if err != nil {
		sess.State = domain.StateCollecting
		sm.metrics.Finalizations.WithLabelValues("failed").Inc()
		sm.logger.Error("finalize chat submission failed", "sender_id", sess.SenderID, "message_id", msg.MessageID, "error", err)
		return promptFailed, false, nil
	}

	sess.State = domain.StateSubmitted
	sess.ResetDraft()
	sm.metrics.Finalizations.WithLabelValues("submitted").Inc()
	sm.logger.Info("chat submission finalized",
		"sender_id", sess.SenderID,
		"report_id", res.Report.ID,
		"confirmed", res.Confirmed,
	)
	return submittedPrompt(res), true, nil
}

// parseSeverity accepts a single digit 1-5 once surrounding space is trimmed.
func parseSeverity(body string) (int, bool) {
	s := strings.TrimSpace(body)
	if len(s) != 1 || s[0] < '1' || s[0] > '5' {
		return 0, false
	}
	return int(s[0] - '0'), true
}

func senderStripe(senderID string) int {
	h := fnv.New32a()
	h.Write([]byte(senderID)) //nolint:errcheck // hash writes never fail
	return int(h.Sum32() % senderStripes)
}
