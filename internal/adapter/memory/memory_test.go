package memory

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

func TestReportStore_CRUDKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewReportStore()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Create(ctx, domain.Report{ID: id, Severity: 3}))
	}
	all, err := s.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
	assert.Equal(t, "b", all[2].ID)

	r, err := s.Get(ctx, "a")
	require.NoError(t, err)
	r.SubmissionCount = 4
	require.NoError(t, s.Update(ctx, r))
	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 4, got.SubmissionCount)

	require.NoError(t, s.Delete(ctx, "a"))
	assert.Equal(t, 2, s.Len())
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReportStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewReportStore()
	require.NoError(t, s.Create(ctx, domain.Report{ID: "x"}))

	assert.ErrorIs(t, s.Create(ctx, domain.Report{ID: "x"}), domain.ErrStorage)
	assert.ErrorIs(t, s.Update(ctx, domain.Report{ID: "missing"}), domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), domain.ErrNotFound)
	assert.NoError(t, s.Ping(ctx))
}

func TestSessionStore_LoadCreatesFreshSession(t *testing.T) {
	s := NewSessionStore()
	sess, err := s.Load(context.Background(), "whatsapp:+521")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInit, sess.State)
	assert.Equal(t, "whatsapp:+521", sess.SenderID)
}

func TestSessionStore_SaveIsolatesCallerMutations(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	sev := 3
	sess := domain.NewSession("u1")
	sess.Draft.Severity = &sev
	require.NoError(t, s.Save(ctx, sess))

	sev = 5
	loaded, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, loaded.Draft.Severity)
	assert.Equal(t, 3, *loaded.Draft.Severity)
}

func TestSessionStore_AbandonIdle(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sev := 2

	idle := domain.NewSession("idle")
	idle.State = domain.StateCollecting
	idle.Draft.Severity = &sev
	idle.LastActivity = now.Add(-48 * time.Hour)

	active := domain.NewSession("active")
	active.State = domain.StateCollecting
	active.Draft.Severity = &sev
	active.LastActivity = now

	done := domain.NewSession("done")
	done.State = domain.StateSubmitted
	done.LastActivity = now.Add(-48 * time.Hour)

	for _, sess := range []domain.ConversationSession{idle, active, done} {
		require.NoError(t, s.Save(ctx, sess))
	}

	n, err := s.AbandonIdle(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := s.Load(ctx, "idle")
	assert.Equal(t, domain.StateAbandoned, got.State)
	assert.True(t, got.Draft.Empty())

	got, _ = s.Load(ctx, "active")
	assert.Equal(t, domain.StateCollecting, got.State)

	got, _ = s.Load(ctx, "done")
	assert.Equal(t, domain.StateSubmitted, got.State)
}

func TestSessionStore_RetentionEvictsInactiveSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })

	s := NewSessionStore(WithRetention(7 * 24 * time.Hour))

	stale := domain.NewSession("stale")
	stale.State = domain.StateReady
	stale.FirstContactAcknowledged = true
	stale.LastActivity = now.Add(-8 * 24 * time.Hour)

	recent := domain.NewSession("recent")
	recent.State = domain.StateReady
	recent.LastActivity = now.Add(-time.Hour)

	for _, sess := range []domain.ConversationSession{stale, recent} {
		require.NoError(t, s.Save(ctx, sess))
	}

	_, err := s.AbandonIdle(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	got, err := s.Load(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInit, got.State)
	assert.False(t, got.FirstContactAcknowledged)

	got, err = s.Load(ctx, "recent")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, got.State)
}

func TestSessionStore_LoadDropsExpiredSession(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	s := NewSessionStore(WithRetention(time.Hour))
	sess := domain.NewSession("u1")
	sess.State = domain.StateCollecting
	sess.LastActivity = now
	require.NoError(t, s.Save(ctx, sess))

	clock.Advance(2 * time.Hour)

	got, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInit, got.State)
	assert.Zero(t, s.Len())
}

func TestSessionStore_NoRetentionKeepsSessions(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore()
	sess := domain.NewSession("u1")
	sess.State = domain.StateReady
	sess.LastActivity = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, sess))

	_, err := s.AbandonIdle(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}
