// Package gate guards the upstream regional intensity source with a cache,
// a minimum fetch interval, a rate-limit cooldown and single-flight fetches.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
)

const (
	DefaultMinInterval = time.Hour
	DefaultCooldown    = 24 * time.Hour

	flightKey = "regional-intensity"
)

// Source names the path that produced a Result.
type Source string

const (
	SourceLocal     Source = "local"
	SourceCache     Source = "cache"
	SourceCooldown  Source = "cooldown"
	SourceThrottled Source = "throttled"
	SourceFetched   Source = "fetched"
	SourceUnchanged Source = "unchanged"
	SourceFailed    Source = "failed"
)

// Upstream is the remote regional incidence dataset.
type Upstream interface {
	Version(ctx context.Context) (string, error)
	Dataset(ctx context.Context) ([]domain.RawRecord, error)
}

// LocalHistory is an on-disk series with the same shape as the upstream
// payload. A missing history is reported as an empty slice or an error.
type LocalHistory interface {
	LoadHistory(ctx context.Context) ([]domain.RawRecord, error)
}

// Result is a regional intensity map and the path that served it. Intensity
// is never nil and is owned by the caller.
type Result struct {
	Intensity domain.RegionalIntensity
	Source    Source
}

// Options configures a Gate. Zero values select the defaults.
type Options struct {
	MinInterval time.Duration
	Cooldown    time.Duration
	Normalizer  domain.Normalizer
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Gate serves regional intensity, preferring local history and otherwise
// fetching from the upstream at most once per interval.
type Gate struct {
	upstream    Upstream
	local       LocalHistory
	state       *FetchCacheState
	normalizer  domain.Normalizer
	minInterval time.Duration
	cooldown    time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
	group       singleflight.Group
}

// New creates a Gate over the given state. local may be nil.
func New(upstream Upstream, local LocalHistory, state *FetchCacheState, opts Options) *Gate {
	g := &Gate{
		upstream:    upstream,
		local:       local,
		state:       state,
		normalizer:  opts.Normalizer,
		minInterval: opts.MinInterval,
		cooldown:    opts.Cooldown,
		clock:       opts.Clock,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
	if g.state == nil {
		g.state = NewFetchCacheState()
	}
	if g.minInterval <= 0 {
		g.minInterval = DefaultMinInterval
	}
	if g.cooldown <= 0 {
		g.cooldown = DefaultCooldown
	}
	if g.clock == nil {
		g.clock = clockwork.NewRealClock()
	}
	if g.logger == nil {
		g.logger = observability.DiscardLogger()
	}
	if g.metrics == nil {
		g.metrics = observability.NewMetricsForTesting()
	}
	return g
}

// RegionalIntensity never fails: every error path yields the last committed
// map, possibly empty. A caller whose context ends while a fetch is in flight
// gets the cache; the fetch itself keeps running for the other callers.
func (g *Gate) RegionalIntensity(ctx context.Context) Result {
	res := g.serve(ctx)
	g.metrics.GateOutcomes.WithLabelValues(string(res.Source)).Inc()
	return res
}

func (g *Gate) serve(ctx context.Context) Result {
	if ri, ok := g.fromLocal(ctx); ok {
		return Result{Intensity: ri, Source: SourceLocal}
	}
	if res, ok := g.suppressed(); ok {
		return res
	}

	ch := g.group.DoChan(flightKey, func() (any, error) {
		return g.fetch(context.WithoutCancel(ctx)), nil
	})
	select {
	case r := <-ch:
		res := r.Val.(Result)
		res.Intensity = res.Intensity.Clone()
		return res
	case <-ctx.Done():
		return Result{Intensity: g.state.cached(), Source: SourceCache}
	}
}

func (g *Gate) fromLocal(ctx context.Context) (domain.RegionalIntensity, bool) {
	if g.local == nil {
		return nil, false
	}
	raws, err := g.local.LoadHistory(ctx)
	if err != nil {
		g.logger.Debug("local history unavailable", "error", err)
		return nil, false
	}
	records, _ := g.normalizer.FluBatch(raws)
	if len(records) == 0 {
		return nil, false
	}
	ri := domain.ComputeRegionalIntensity(records)
	g.logger.Debug("using local history", "records", len(records), "regions", len(ri))
	return ri, true
}

// suppressed reports whether cooldown or the minimum interval forbid a fetch.
func (g *Gate) suppressed() (Result, bool) {
	now := g.clock.Now()
	snap := g.state.snapshot()
	switch {
	case now.Before(snap.CooldownUntil):
		return Result{Intensity: snap.Intensity, Source: SourceCooldown}, true
	case !snap.LastFetchAt.IsZero() && now.Sub(snap.LastFetchAt) < g.minInterval:
		return Result{Intensity: snap.Intensity, Source: SourceThrottled}, true
	}
	g.metrics.CooldownActive.Set(0)
	return Result{}, false
}

// fetch runs inside the single flight. The throttle check is repeated because
// a flight that settled just before this one was scheduled may have fetched.
func (g *Gate) fetch(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("regional intensity fetch panicked", "panic", fmt.Sprint(r))
			g.state.markAttempt(g.clock.Now())
			res = Result{Intensity: g.state.cached(), Source: SourceFailed}
		}
	}()

	if r, ok := g.suppressed(); ok {
		return r
	}

	version, err := g.upstream.Version(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return g.rateLimited(err)
		}
		g.logger.Warn("version check failed, fetching dataset", "error", err)
		version = ""
	}
	if cached, ok := g.state.unchanged(version, g.clock.Now()); ok {
		g.logger.Debug("upstream version unchanged", "version", version)
		return Result{Intensity: cached, Source: SourceUnchanged}
	}

	raws, err := g.upstream.Dataset(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			return g.rateLimited(err)
		}
		return g.failed("dataset fetch failed", err)
	}

	records, dropped := g.normalizer.FluBatch(raws)
	g.metrics.RecordsNormalized.WithLabelValues(string(domain.KindFlu), "kept").Add(float64(len(records)))
	g.metrics.RecordsNormalized.WithLabelValues(string(domain.KindFlu), "dropped").Add(float64(dropped))
	if len(records) == 0 {
		return g.failed("upstream returned no usable records", nil)
	}

	ri := domain.ComputeRegionalIntensity(records)
	g.state.commit(ri, version, g.clock.Now())
	g.metrics.RegionsScored.Set(float64(len(ri)))
	g.metrics.CooldownActive.Set(0)
	g.logger.Info("regional intensity refreshed", "records", len(records), "regions", len(ri), "version", version)
	return Result{Intensity: ri.Clone(), Source: SourceFetched}
}

func (g *Gate) rateLimited(err error) Result {
	until := g.state.enterCooldown(g.clock.Now(), g.cooldown)
	g.metrics.CooldownActive.Set(1)
	g.logger.Warn("upstream rate limited, entering cooldown", "error", err, "until", until)
	return Result{Intensity: g.state.cached(), Source: SourceCooldown}
}

func (g *Gate) failed(msg string, err error) Result {
	g.state.markAttempt(g.clock.Now())
	if err != nil {
		g.logger.Warn(msg+", keeping cache", "error", err)
	} else {
		g.logger.Warn(msg + ", keeping cache")
	}
	return Result{Intensity: g.state.cached(), Source: SourceFailed}
}

// FetchCacheState is the mutable state behind a Gate: the last committed
// intensity map and the timestamps that throttle the upstream.
type FetchCacheState struct {
	mu            sync.Mutex
	intensity     domain.RegionalIntensity
	version       string
	lastFetchAt   time.Time
	cooldownUntil time.Time
}

// NewFetchCacheState returns an empty state.
func NewFetchCacheState() *FetchCacheState {
	return &FetchCacheState{}
}

// StateSnapshot is a copy of FetchCacheState at one instant.
type StateSnapshot struct {
	Intensity     domain.RegionalIntensity
	Version       string
	LastFetchAt   time.Time
	CooldownUntil time.Time
}

// Snapshot returns an independent copy of the state.
func (s *FetchCacheState) Snapshot() StateSnapshot {
	return s.snapshot()
}

func (s *FetchCacheState) snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		Intensity:     s.intensity.Clone(),
		Version:       s.version,
		LastFetchAt:   s.lastFetchAt,
		CooldownUntil: s.cooldownUntil,
	}
}

func (s *FetchCacheState) cached() domain.RegionalIntensity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.intensity.Clone()
}

// unchanged marks an attempt and returns the cache when version matches a
// non-empty committed version.
func (s *FetchCacheState) unchanged(version string, now time.Time) (domain.RegionalIntensity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version == "" || version != s.version || s.intensity == nil {
		return nil, false
	}
	s.lastFetchAt = now
	return s.intensity.Clone(), true
}

func (s *FetchCacheState) commit(ri domain.RegionalIntensity, version string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intensity = ri.Clone()
	if version != "" {
		s.version = version
	}
	s.lastFetchAt = now
	s.cooldownUntil = time.Time{}
}

func (s *FetchCacheState) markAttempt(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFetchAt = now
}

func (s *FetchCacheState) enterCooldown(now time.Time, d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFetchAt = now
	s.cooldownUntil = now.Add(d)
	return s.cooldownUntil
}
