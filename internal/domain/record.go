package domain

import "errors"

// RawRecord is one ingested row with source-specific field names. Values are
// strings, json.Number, float64, ints or nil depending on the reader.
type RawRecord map[string]any

// Kind identifies which normalization a raw record goes through.
type Kind string

const (
	KindFlu         Kind = "flu"
	KindVaccination Kind = "vaccination"
)

// AgeBin is a canonical age group label.
type AgeBin string

const (
	Age0to4   AgeBin = "0-4"
	Age5to11  AgeBin = "5-11"
	Age12to17 AgeBin = "12-17"
	Age18to49 AgeBin = "18-49"
	Age50to64 AgeBin = "50-64"
	Age65Plus AgeBin = "65+"
	AgeAll    AgeBin = "ALL"
)

// AgeBins lists the concrete bins in ascending order.
var AgeBins = []AgeBin{Age0to4, Age5to11, Age12to17, Age18to49, Age50to64, Age65Plus}

// ParseAgeBin returns the bin with exactly the given label.
func ParseAgeBin(s string) (AgeBin, bool) {
	for _, b := range AgeBins {
		if string(b) == s {
			return b, true
		}
	}
	if s == string(AgeAll) {
		return AgeAll, true
	}
	return "", false
}

// UnknownRegion is the region code of records without a usable region.
const UnknownRegion = "UNK"

// FluRecord is a normalized weekly incidence observation.
type FluRecord struct {
	Week             string   `json:"week" csv:"week"`
	RegionCode       string   `json:"regionCode" csv:"regionCode"`
	RegionName       string   `json:"regionName" csv:"regionName"`
	Age              AgeBin   `json:"age" csv:"age"`
	IncidencePer100k float64  `json:"incidencePer100k" csv:"incidencePer100k"`
	Cases            *float64 `json:"cases" csv:"cases"`
	Population       *float64 `json:"population" csv:"population"`
}

// VaccinationRecord is a normalized coverage observation. CoveragePct is
// always within [0,100].
type VaccinationRecord struct {
	Week             string   `json:"week" csv:"week"`
	RegionCode       string   `json:"regionCode" csv:"regionCode"`
	RegionName       string   `json:"regionName" csv:"regionName"`
	Age              AgeBin   `json:"age" csv:"age"`
	Vaccine          string   `json:"vaccine" csv:"vaccine"`
	CoveragePct      float64  `json:"coveragePct" csv:"coveragePct"`
	DosesAdmin       *float64 `json:"dosesAdmin" csv:"dosesAdmin"`
	PopulationTarget *float64 `json:"populationTarget" csv:"populationTarget"`
	Measure          string   `json:"measure,omitempty" csv:"measure"`
}

// CombinedRecord is one row of the flu/vaccination outer join. At least one
// of IncidencePer100k and CoveragePct is set.
type CombinedRecord struct {
	Week             string   `json:"week" csv:"week"`
	RegionCode       string   `json:"regionCode" csv:"regionCode"`
	RegionName       string   `json:"regionName" csv:"regionName"`
	Age              AgeBin   `json:"age" csv:"age"`
	IncidencePer100k *float64 `json:"incidencePer100k" csv:"incidencePer100k"`
	CoveragePct      *float64 `json:"coveragePct" csv:"coveragePct"`
}

// ErrRateLimited is returned by upstream clients on HTTP 429.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrCompletionTimeout is returned when a text completion exceeds its
// wall-clock limit.
var ErrCompletionTimeout = errors.New("completion timed out")

func ptr[T any](v T) *T { return &v }
