package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/road-hazard-service/internal/domain"
	"github.com/couchcryptid/road-hazard-service/internal/observability"
)

// Reaper periodically abandons drafts of sessions left idle past a TTL.
type Reaper struct {
	store   SessionStore
	idleTTL time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewReaper schedules Reap on a cron spec such as "@every 10m".
func NewReaper(store SessionStore, idleTTL time.Duration, schedule string, logger *slog.Logger, metrics *observability.Metrics) (*Reaper, error) {
	r := &Reaper{
		store:   store,
		idleTTL: idleTTL,
		cron:    cron.New(),
		logger:  logger,
		metrics: metrics,
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if _, err := r.Reap(context.Background()); err != nil {
			r.logger.Error("session reaper run failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule session reaper %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background.
func (r *Reaper) Start() {
	r.logger.Info("session reaper started", "idle_ttl", r.idleTTL)
	r.cron.Start()
}

// Stop halts the schedule and waits for a running Reap to finish or ctx to end.
func (r *Reaper) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Reap abandons every session idle for longer than the TTL.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	n, err := r.store.AbandonIdle(ctx, domain.Now().Add(-r.idleTTL))
	if err != nil {
		return n, fmt.Errorf("abandon idle sessions: %w", err)
	}
	if n > 0 {
		r.metrics.SessionsAbandoned.Add(float64(n))
		r.logger.Info("abandoned idle sessions", "count", n)
	}
	return n, nil
}
