package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/road-hazard-service/internal/adapter/memory"
	"github.com/couchcryptid/road-hazard-service/internal/dedup"
	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/gate"
	"github.com/couchcryptid/road-hazard-service/internal/lifecycle"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
	"github.com/couchcryptid/road-hazard-service/internal/pipeline"
)

// --- mocks ---

type mockFetcher struct {
	err   error
	calls int
}

func (m *mockFetcher) Fetch(_ context.Context, _ string) (domain.Media, error) {
	m.calls++
	if m.err != nil {
		return domain.Media{}, m.err
	}
	return domain.Media{Data: pngBytes, ContentType: "image/png"}, nil
}

type mockSubmissions struct {
	mu        sync.Mutex
	decision  gate.Decision
	imageErr  error
	finalErr  error
	finalized []domain.SubmissionDraft
}

func (m *mockSubmissions) AcceptImage(_ context.Context, _ domain.Media) (pipeline.AcceptedImage, error) {
	if m.imageErr != nil {
		return pipeline.AcceptedImage{}, m.imageErr
	}
	img := pipeline.AcceptedImage{Decision: m.decision}
	if m.decision.Accepted() {
		img.Ref = "img-1.png"
	}
	return img, nil
}

func (m *mockSubmissions) Finalize(_ context.Context, _, _ string, d domain.SubmissionDraft) (pipeline.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalErr != nil {
		return pipeline.Outcome{}, m.finalErr
	}
	m.finalized = append(m.finalized, d)
	return pipeline.Outcome{Report: domain.Report{ID: "r-1", SubmissionCount: 1}}, nil
}

func (m *mockSubmissions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.finalized)
}

type failingSessionStore struct{ *memory.SessionStore }

// flakySessionStore fails the Save calls whose 1-based index is in failOn.
type flakySessionStore struct {
	*memory.SessionStore
	saves  int
	failOn map[int]bool
}

func (s *flakySessionStore) Save(ctx context.Context, sess domain.ConversationSession) error {
	s.saves++
	if s.failOn[s.saves] {
		return errors.New("redis blip")
	}
	return s.SessionStore.Save(ctx, sess)
}

func (failingSessionStore) Save(context.Context, domain.ConversationSession) error {
	return errors.New("redis down")
}

// --- helpers ---

const sender = "whatsapp:+5216641234567"

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func acceptedDecision(conf float64) gate.Decision {
	return gate.Decision{Outcome: gate.OutcomeAccepted, Confidence: &conf, Class: "Pothole"}
}

type harness struct {
	sm      *StateMachine
	store   *memory.SessionStore
	fetcher *mockFetcher
	subs    *mockSubmissions
	metrics *observability.Metrics
	seq     int
}

func newHarness() *harness {
	h := &harness{
		store:   memory.NewSessionStore(),
		fetcher: &mockFetcher{},
		subs:    &mockSubmissions{decision: acceptedDecision(0.85)},
		metrics: observability.NewMetricsForTesting(),
	}
	h.sm = NewStateMachine(h.store, h.fetcher, h.subs, discardLogger(), h.metrics)
	return h
}

func (h *harness) send(t *testing.T, msg domain.InboundMessage) string {
	t.Helper()
	h.seq++
	if msg.MessageID == "" {
		msg.MessageID = "SM" + string(rune('A'+h.seq))
	}
	msg.SenderID = sender
	reply, err := h.sm.Handle(context.Background(), msg)
	require.NoError(t, err)
	return reply
}

func (h *harness) session(t *testing.T) domain.ConversationSession {
	t.Helper()
	s, err := h.store.Load(context.Background(), sender)
	require.NoError(t, err)
	return s
}

// started returns a harness past the welcome and reset steps.
func started(t *testing.T) *harness {
	h := newHarness()
	h.send(t, domain.InboundMessage{Body: "hola"})
	h.send(t, domain.InboundMessage{Body: "New Report please"})
	return h
}

func image() domain.InboundMessage {
	return domain.InboundMessage{MediaURL: "https://api.twilio.com/media/ME1", MediaContentType: "image/jpeg"}
}

func pin() domain.InboundMessage {
	return domain.InboundMessage{Location: &domain.Coordinates{Lat: 32.5149, Lon: -117.0382}}
}

func severity(s string) domain.InboundMessage {
	return domain.InboundMessage{Body: s}
}

// --- tests ---

func TestHandle_FirstContactWelcomes(t *testing.T) {
	h := newHarness()

	reply := h.send(t, image())
	assert.Equal(t, promptWelcome, reply)
	assert.Zero(t, h.fetcher.calls, "first message content is not processed")

	s := h.session(t)
	assert.True(t, s.FirstContactAcknowledged)
	assert.Equal(t, domain.StateAwaitingCommand, s.State)
	assert.True(t, s.Draft.Empty())
}

func TestHandle_ResetCommand(t *testing.T) {
	h := started(t)
	h.send(t, pin())
	require.NotNil(t, h.session(t).Draft.Location)

	reply := h.send(t, severity("ok NEW REPORT"))
	assert.Equal(t, promptStart, reply)
	s := h.session(t)
	assert.Equal(t, domain.StateCollecting, s.State)
	assert.True(t, s.Draft.Empty())
}

func TestHandle_InOrderFinalizes(t *testing.T) {
	h := started(t)

	assert.Equal(t, ackImage+" "+missingPrompts[domain.FieldLocation], h.send(t, image()))
	assert.Equal(t, ackLocation+" "+missingPrompts[domain.FieldSeverity], h.send(t, pin()))
	assert.Zero(t, h.subs.count())

	reply := h.send(t, severity(" 4 "))
	assert.Contains(t, reply, "Thank you")
	require.Equal(t, 1, h.subs.count())

	d := h.subs.finalized[0]
	assert.Equal(t, "img-1.png", d.ImageRef)
	assert.Equal(t, 4, *d.Severity)
	require.NotNil(t, d.Confidence)
	assert.InDelta(t, 0.85, *d.Confidence, 1e-9)
	assert.True(t, d.Verified)

	s := h.session(t)
	assert.Equal(t, domain.StateSubmitted, s.State)
	assert.True(t, s.Draft.Empty())
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.Finalizations.WithLabelValues("submitted")), 0)
}

func TestHandle_OutOfOrderFinalizes(t *testing.T) {
	orders := map[string][]domain.InboundMessage{
		"severity, location, image": {severity("2"), pin(), image()},
		"location, image, severity": {pin(), image(), severity("5")},
		"severity, image, location": {severity("3"), image(), pin()},
	}
	for name, msgs := range orders {
		t.Run(name, func(t *testing.T) {
			h := started(t)
			for i, m := range msgs {
				h.send(t, m)
				if i < len(msgs)-1 {
					assert.Zero(t, h.subs.count(), "finalized early after message %d", i)
					assert.Equal(t, domain.StateCollecting, h.session(t).State)
				}
			}
			assert.Equal(t, 1, h.subs.count())
			assert.Equal(t, domain.StateSubmitted, h.session(t).State)
		})
	}
}

func TestHandle_PromptsFirstMissingField(t *testing.T) {
	h := started(t)
	assert.Equal(t, missingPrompts[domain.FieldImage], h.send(t, severity("what now?")))

	assert.Equal(t, ackSeverity+" "+missingPrompts[domain.FieldImage], h.send(t, severity("3")))
	h.send(t, image())
	assert.Equal(t, missingPrompts[domain.FieldLocation], h.send(t, severity("hello")))
}

func TestHandle_SeverityParsing(t *testing.T) {
	for _, body := range []string{"0", "6", "12", "3.5", "three", ""} {
		t.Run(body, func(t *testing.T) {
			h := started(t)
			h.send(t, severity(body))
			assert.Nil(t, h.session(t).Draft.Severity)
		})
	}
}

func TestHandle_RejectedImageDoesNotAdvance(t *testing.T) {
	h := started(t)
	conf := 0.5
	h.subs.decision = gate.Decision{Outcome: gate.OutcomeRejected, Confidence: &conf}

	assert.Equal(t, promptRejected, h.send(t, image()))
	assert.Empty(t, h.session(t).Draft.ImageRef)
}

func TestHandle_DetectorUnavailableAsksToRetry(t *testing.T) {
	h := started(t)
	h.subs.decision = gate.Decision{Outcome: gate.OutcomeUnavailable}

	assert.Equal(t, promptRetry, h.send(t, image()))
	assert.Empty(t, h.session(t).Draft.ImageRef)
}

func TestHandle_DownloadFailureLeavesDraftUntouched(t *testing.T) {
	h := started(t)
	h.send(t, pin())
	h.send(t, severity("4"))
	before := h.session(t).Draft

	h.fetcher.err = &domain.DependencyError{Dependency: "media host", Err: errors.New("timeout")}
	assert.Equal(t, promptRetry, h.send(t, image()))
	assert.Equal(t, before, h.session(t).Draft)
	assert.Zero(t, h.subs.count())
}

func TestHandle_UnsupportedImage(t *testing.T) {
	h := started(t)
	h.subs.imageErr = &domain.ValidationError{Field: domain.FieldImage, Message: "unsupported image type"}
	assert.Equal(t, promptBadImage, h.send(t, image()))
}

func TestHandle_InvalidCoordinates(t *testing.T) {
	h := started(t)
	reply := h.send(t, domain.InboundMessage{Location: &domain.Coordinates{Lat: 95, Lon: 0}})
	assert.Contains(t, reply, "not valid")
	assert.Nil(t, h.session(t).Draft.Location)
}

func TestHandle_FinalizeFailureKeepsDraftForRetry(t *testing.T) {
	h := started(t)
	h.subs.finalErr = domain.StorageError("create report", errors.New("db down"))

	h.send(t, image())
	h.send(t, pin())
	assert.Equal(t, promptFailed, h.send(t, severity("4")))

	s := h.session(t)
	assert.Equal(t, domain.StateCollecting, s.State)
	assert.True(t, s.Draft.Complete())

	// Any follow-up retries the complete draft.
	h.subs.finalErr = nil
	assert.Contains(t, h.send(t, severity("ok?")), "Thank you")
	assert.Equal(t, 1, h.subs.count())
	assert.Equal(t, domain.StateSubmitted, h.session(t).State)
}

func TestHandle_ConfirmedReply(t *testing.T) {
	assert.Contains(t, submittedPrompt(pipeline.Outcome{
		Report:    domain.Report{SubmissionCount: 3},
		Confirmed: true,
	}), "3 reports")
}

func TestHandle_DuplicateDeliveryReplays(t *testing.T) {
	h := started(t)
	h.send(t, image())
	h.send(t, pin())

	msg := severity("4")
	msg.MessageID = "SMdup"
	first := h.send(t, msg)
	second := h.send(t, msg)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, h.subs.count())
	assert.InDelta(t, 1, testutil.ToFloat64(h.metrics.ReplayedMessages), 0)
}

func TestHandle_ConcurrentDuplicateDeliveries(t *testing.T) {
	h := started(t)
	h.send(t, image())
	h.send(t, pin())

	var wg sync.WaitGroup
	replies := make([]string, 10)
	for i := range replies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.sm.Handle(context.Background(), domain.InboundMessage{
				MessageID: "SMsame", SenderID: sender, Body: "4",
			})
			assert.NoError(t, err)
			replies[i] = r
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.subs.count())
	for _, r := range replies {
		assert.Equal(t, replies[0], r)
	}
}

func TestHandle_RequiresSender(t *testing.T) {
	h := newHarness()
	_, err := h.sm.Handle(context.Background(), domain.InboundMessage{Body: "hi"})
	assert.True(t, domain.IsValidation(err))
}

func TestHandle_SaveFailure(t *testing.T) {
	store := failingSessionStore{memory.NewSessionStore()}
	sm := NewStateMachine(store, &mockFetcher{}, &mockSubmissions{}, discardLogger(), observability.NewMetricsForTesting())
	_, err := sm.Handle(context.Background(), domain.InboundMessage{SenderID: sender, MessageID: "SM1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save session")
}

// sendAs delivers msg from the test sender with a fixed provider id.
func sendAs(sm *StateMachine, id string, msg domain.InboundMessage) (string, error) {
	msg.SenderID = sender
	msg.MessageID = id
	return sm.Handle(context.Background(), msg)
}

func TestHandle_RedeliveryAfterFailedSaveDoesNotResubmit(t *testing.T) {
	// Saves: hi, image, pin, checkpoint for "4", final save for "4" (fails).
	store := &flakySessionStore{SessionStore: memory.NewSessionStore(), failOn: map[int]bool{5: true}}
	subs := &mockSubmissions{decision: acceptedDecision(0.9)}
	sm := NewStateMachine(store, &mockFetcher{}, subs, discardLogger(), observability.NewMetricsForTesting())

	_, err := sendAs(sm, "M1", domain.InboundMessage{Body: "hi"})
	require.NoError(t, err)
	_, err = sendAs(sm, "M2", image())
	require.NoError(t, err)
	_, err = sendAs(sm, "M3", pin())
	require.NoError(t, err)

	reply, err := sendAs(sm, "M4", severity("4"))
	require.NoError(t, err, "a submitted report is acknowledged even when the final save fails")
	assert.Contains(t, reply, "Thank you")
	require.Equal(t, 1, subs.count())

	reply, err = sendAs(sm, "M4", severity("4"))
	require.NoError(t, err)
	assert.Equal(t, promptPending, reply)
	assert.Equal(t, 1, subs.count(), "redelivery must not reach the pipeline again")

	// A fresh message does not resubmit the cleared draft either.
	reply, err = sendAs(sm, "M5", severity("hello"))
	require.NoError(t, err)
	assert.Equal(t, missingPrompts[domain.FieldImage], reply)
	assert.Equal(t, 1, subs.count())
}

func TestHandle_CheckpointFailureSkipsPipeline(t *testing.T) {
	// Saves: hi, image, pin, checkpoint for "4" (fails).
	store := &flakySessionStore{SessionStore: memory.NewSessionStore(), failOn: map[int]bool{4: true}}
	subs := &mockSubmissions{decision: acceptedDecision(0.9)}
	sm := NewStateMachine(store, &mockFetcher{}, subs, discardLogger(), observability.NewMetricsForTesting())

	for i, msg := range []domain.InboundMessage{{Body: "hi"}, image(), pin()} {
		_, err := sendAs(sm, fmt.Sprintf("M%d", i+1), msg)
		require.NoError(t, err)
	}

	_, err := sendAs(sm, "M4", severity("4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save session")
	assert.Zero(t, subs.count())

	// The provider's retry then submits exactly once.
	reply, err := sendAs(sm, "M4", severity("4"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Thank you")
	assert.Equal(t, 1, subs.count())
}

func TestHandle_UpdatesLastActivity(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness()
	h.send(t, severity("hi"))
	assert.Equal(t, now, h.session(t).LastActivity)
}

// End to end through the real gate, pipeline, and lifecycle manager.

type fixedClassifier struct{ conf float64 }

func (c fixedClassifier) Classify(context.Context, []byte) ([]domain.Prediction, error) {
	return []domain.Prediction{{Class: "Pothole", Confidence: c.conf}}, nil
}

type discardMedia struct{}

func (discardMedia) Save(context.Context, []byte, string) (string, error) { return "stored.png", nil }

func (discardMedia) Delete(context.Context, string) error { return nil }

func TestHandle_EndToEndDedup(t *testing.T) {
	metrics := observability.NewMetricsForTesting()
	reports := memory.NewReportStore()
	manager := lifecycle.NewManager(reports, dedup.New(reports, 50, metrics), discardLogger(), metrics)

	run := func(conf float64, senderID string, loc domain.Coordinates) string {
		g := gate.New(fixedClassifier{conf: conf}, gate.Options{Threshold: 0.8, Class: "Pothole"}, discardLogger(), metrics)
		p := pipeline.New(g, discardMedia{}, manager, discardLogger(), metrics)
		sm := NewStateMachine(memory.NewSessionStore(), &mockFetcher{}, p, discardLogger(), metrics)
		var last string
		for i, m := range []domain.InboundMessage{{Body: "hi"}, {Body: "new report"}, image(), {Location: &loc}, {Body: "5"}} {
			m.SenderID = senderID
			m.MessageID = senderID + string(rune('0'+i))
			r, err := sm.Handle(context.Background(), m)
			require.NoError(t, err)
			last = r
		}
		return last
	}

	assert.Contains(t, run(0.5, "a", domain.Coordinates{Lat: 32.5149, Lon: -117.0382}), missingPrompts[domain.FieldImage])
	assert.Zero(t, reports.Len())

	assert.Contains(t, run(0.95, "b", domain.Coordinates{Lat: 32.5149, Lon: -117.0382}), "map has been updated")
	assert.Contains(t, run(0.85, "c", domain.Coordinates{Lat: 32.51495, Lon: -117.03825}), "2 reports")

	all, err := reports.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].SubmissionCount)
	assert.Equal(t, domain.StatusVerified, all[0].Status)
	assert.Equal(t, domain.PriorityUrgent, all[0].Priority)
	assert.Equal(t, "b", all[0].ContactToken)
}
