package domain

import (
	"maps"
	"math"
	"slices"
)

const (
	// SeriesWindow bounds each regional series to roughly five years of
	// ISO weeks.
	SeriesWindow = 260
	// RecentWindow is the number of trailing weeks averaged for intensity.
	RecentWindow = 6

	denomFloor   = 50.0
	denomCeiling = 400.0
)

// SeriesPoint is one weekly rate in a regional series.
type SeriesPoint struct {
	Rank             int     `json:"rank"`
	IncidencePer100k float64 `json:"incidencePer100k"`
}

// RegionSeries is ordered by non-decreasing week rank.
type RegionSeries []SeriesPoint

// RegionalIntensity maps region code to intensity in [0,1].
type RegionalIntensity map[string]float64

// Clone returns an independent copy.
func (ri RegionalIntensity) Clone() RegionalIntensity {
	if ri == nil {
		return RegionalIntensity{}
	}
	return maps.Clone(ri)
}

// BuildSeries groups records by region, sorts each group by week rank and
// keeps the trailing SeriesWindow entries. Records sharing a week are kept in
// input order.
func BuildSeries(records []FluRecord) map[string]RegionSeries {
	out := make(map[string]RegionSeries)
	for _, r := range records {
		rank, ok := WeekRank(r.Week)
		if !ok {
			continue
		}
		out[r.RegionCode] = append(out[r.RegionCode], SeriesPoint{Rank: rank, IncidencePer100k: r.IncidencePer100k})
	}
	for region, s := range out {
		slices.SortStableFunc(s, func(a, b SeriesPoint) int { return a.Rank - b.Rank })
		if len(s) > SeriesWindow {
			s = slices.Clone(s[len(s)-SeriesWindow:])
		}
		out[region] = s
	}
	return out
}

// EstimateIntensity scores a series as the mean of its recent window over an
// adaptive percentile denominator. An empty series scores 0.
func EstimateIntensity(s RegionSeries) float64 {
	if len(s) == 0 {
		return 0
	}
	if len(s) > SeriesWindow {
		s = s[len(s)-SeriesWindow:]
	}

	recent := s[max(0, len(s)-RecentWindow):]
	var sum float64
	for _, p := range recent {
		sum += p.IncidencePer100k
	}
	recentAvg := sum / float64(len(recent))

	values := make([]float64, len(s))
	for i, p := range s {
		values[i] = p.IncidencePer100k
	}
	slices.Sort(values)
	p90 := nearestRank(values, 0.90)
	p95 := nearestRank(values, 0.95)

	denom := math.Max(denomFloor, math.Max(p90, math.Min(p95, denomCeiling)))
	intensity := math.Max(0, math.Min(1, recentAvg/denom))
	if math.IsNaN(intensity) {
		return 0
	}
	return math.Round(intensity*100) / 100
}

// nearestRank picks sorted[floor(n*p)] with the index clamped to the slice.
func nearestRank(sorted []float64, p float64) float64 {
	idx := int(math.Floor(float64(len(sorted)) * p))
	idx = max(0, min(len(sorted)-1, idx))
	return sorted[idx]
}

// ComputeRegionalIntensity builds the series of every region present in
// records and scores each one. Regions without records are absent.
func ComputeRegionalIntensity(records []FluRecord) RegionalIntensity {
	series := BuildSeries(records)
	out := make(RegionalIntensity, len(series))
	for region, s := range series {
		out[region] = EstimateIntensity(s)
	}
	return out
}
