package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
)

// DefaultRefreshInterval is the period between risk map rebuilds.
const DefaultRefreshInterval = 15 * time.Minute

// publishAttempts bounds snapshot publishing per refresh.
const publishAttempts = 3

// SnapshotBuilder builds a risk snapshot. It never fails.
type SnapshotBuilder interface {
	Build(ctx context.Context) domain.RiskSnapshot
}

// SnapshotPublisher sends a snapshot downstream.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap domain.RiskSnapshot) error
}

// Refresher rebuilds the risk map periodically and serves the latest
// snapshot to readers.
type Refresher struct {
	builder   SnapshotBuilder
	publisher SnapshotPublisher
	interval  time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	current   atomic.Pointer[domain.RiskSnapshot]
	ready     atomic.Bool
}

// NewRefresher creates a Refresher. A nil publisher disables publishing and
// a nil clock uses the real clock.
func NewRefresher(b SnapshotBuilder, p SnapshotPublisher, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Refresher{
		builder:   b,
		publisher: p,
		interval:  interval,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once a snapshot has been built.
func (r *Refresher) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("risk map has not been built yet")
	}
	return nil
}

// Current returns the latest snapshot, if any.
func (r *Refresher) Current() (domain.RiskSnapshot, bool) {
	s := r.current.Load()
	if s == nil {
		return domain.RiskSnapshot{}, false
	}
	return *s, true
}

// Snapshot returns the latest snapshot, building one first when none exists.
func (r *Refresher) Snapshot(ctx context.Context) domain.RiskSnapshot {
	if s, ok := r.Current(); ok {
		return s
	}
	return r.Refresh(ctx)
}

// Refresh builds, stores and publishes a snapshot.
func (r *Refresher) Refresh(ctx context.Context) domain.RiskSnapshot {
	start := r.clock.Now()
	snap := r.builder.Build(ctx)
	r.current.Store(&snap)
	r.ready.Store(true)

	r.metrics.RefreshDuration.Observe(r.clock.Since(start).Seconds())
	if snap.Degraded {
		r.metrics.DegradedSnapshot.Set(1)
	} else {
		r.metrics.DegradedSnapshot.Set(0)
	}
	r.logger.Info("risk map refreshed",
		"snapshot_id", snap.ID,
		"departments", len(snap.Departments),
		"source", snap.Source,
		"degraded", snap.Degraded,
	)

	if r.publisher != nil {
		r.publish(ctx, snap)
	}
	return snap
}

// Run refreshes immediately and then every interval until the context is
// cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info("refresh loop started", "interval", r.interval)
	r.metrics.RefreshRunning.Set(1)
	defer r.metrics.RefreshRunning.Set(0)

	r.Refresh(ctx)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("refresh loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			r.Refresh(ctx)
		}
	}
}

// publish retries with exponential backoff: start at 200ms, double each
// retry, cap at 5s.
func (r *Refresher) publish(ctx context.Context, snap domain.RiskSnapshot) {
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for attempt := 1; ; attempt++ {
		err := r.publisher.Publish(ctx, snap)
		if err == nil {
			r.metrics.SnapshotsPublished.Inc()
			return
		}
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("publish snapshot failed", "error", err, "snapshot_id", snap.ID, "attempt", attempt)
		if attempt == publishAttempts || !r.sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func (r *Refresher) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := r.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
