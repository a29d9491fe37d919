package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/gate"
)

// SourceStatic marks a snapshot built from the static fallback list.
const SourceStatic = "static"

// IntensitySource yields the current regional intensity. It never fails.
type IntensitySource interface {
	RegionalIntensity(ctx context.Context) gate.Result
}

// CentroidSource yields department centroids keyed by padded code.
type CentroidSource interface {
	Centroids(ctx context.Context) (map[string]domain.Centroid, error)
}

// RiskService broadcasts regional intensity onto departments.
type RiskService struct {
	intensity IntensitySource
	centroids CentroidSource
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewRiskService creates a RiskService. A nil clock uses the real clock.
func NewRiskService(intensity IntensitySource, centroids CentroidSource, clock clockwork.Clock, logger *slog.Logger) *RiskService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RiskService{intensity: intensity, centroids: centroids, clock: clock, logger: logger}
}

// Build returns a new snapshot. Each metropolitan department takes its
// region's intensity and the overseas departments keep fixed scores. When
// no intensity or no metropolitan geometry is available the static
// fallback list is returned, flagged degraded.
func (s *RiskService) Build(ctx context.Context) domain.RiskSnapshot {
	res := s.intensity.RegionalIntensity(ctx)

	centroids, err := s.centroids.Centroids(ctx)
	if err != nil {
		s.logger.Warn("department centroids unavailable", "error", err)
	}

	snap := domain.RiskSnapshot{
		ID:          uuid.NewString(),
		LastUpdated: s.clock.Now().UTC(),
		Source:      string(res.Source),
	}

	var depts []domain.Department
	if len(res.Intensity) > 0 {
		depts = metropolitan(res.Intensity, centroids)
	}
	if len(depts) == 0 {
		s.logger.Warn("serving static risk map",
			"intensity_regions", len(res.Intensity),
			"centroids", len(centroids),
			"source", res.Source,
		)
		snap.Departments = domain.StaticFallbackDepartments()
		snap.Source = SourceStatic
		snap.Degraded = true
	} else {
		snap.Departments = append(depts, domain.OverseasDepartments()...)
	}
	snap.HeatmapPoints = domain.HeatmapPoints(snap.Departments)
	return snap
}

func metropolitan(intensity domain.RegionalIntensity, centroids map[string]domain.Centroid) []domain.Department {
	var out []domain.Department
	for _, code := range domain.MetropolitanDepartments() {
		c, ok := centroids[code]
		if !ok {
			continue
		}
		score := domain.DepartmentScore(code, intensity)
		out = append(out, domain.Department{
			Code:      code,
			Name:      c.Name,
			Lat:       c.Lat,
			Lng:       c.Lng,
			RiskScore: score,
			RiskLevel: domain.RiskLevelFor(score),
		})
	}
	return out
}
