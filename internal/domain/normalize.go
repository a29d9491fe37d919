package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Candidate field names in priority order. Rates given directly win over
// rates implied by cases and population.
var (
	weekFields       = []string{"week", "date", "semaine", "period", "yrwk", "Week", "WEEK", "Date"}
	regionFields     = []string{"geo_insee", "regionCode", "region_code", "geo", "insee", "code_region"}
	regionNameFields = []string{"geo_name", "regionName", "region", "geoName", "region_name"}
	ageFields        = []string{"age", "age_group", "ageGroup", "classe_age", "Age"}

	rateFields = []string{
		"incidencePer100k", "incidence_per_100k", "inc100", "incidence100",
		"incidence/100k", "taux_incidence", "rate",
	}
	legacyRateFields = []string{"incidence", "inc"}
	caseFields       = []string{"cases", "cases_count", "Cases", "nb_cas"}
	populationFields = []string{"population", "population_target", "populationTarget"}

	coverageFields   = []string{"coveragePct", "coverage_pct", "coverage", "couverture", "taux_couverture"}
	dosesFields      = []string{"dosesAdmin", "doses", "DosesAdmin", "doses_admin"}
	targetFields     = []string{"populationTarget", "population_target", "population"}
	indicatorFields  = []string{"indicator", "Indicator", "INDICATOR"}
)

// FluIndicator is the Sentinelles indicator for influenza-like illness.
const FluIndicator = 3

var (
	weekPattern = regexp.MustCompile(`^(\d{4})(?:-?W(\d{1,2})|(\d{2}))$`)
	dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006/01/02"}
)

// NormalizeWeek returns the canonical "YYYY-Www" form of a week or date, and
// false when the input is not a recognized week.
func NormalizeWeek(v any) (string, bool) {
	s, ok := stringValue(v)
	if !ok {
		return "", false
	}
	s = strings.ToUpper(strings.TrimSpace(s))
	if m := weekPattern.FindStringSubmatch(s); m != nil {
		wk := m[2]
		if wk == "" {
			wk = m[3]
		}
		year, _ := strconv.Atoi(m[1])
		week, _ := strconv.Atoi(wk)
		return formatWeek(year, week)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return formatWeek(t.ISOWeek())
		}
	}
	return "", false
}

// WeekRank orders canonical weeks numerically (year*100 + week).
func WeekRank(week string) (int, bool) {
	if len(week) != 8 || week[4:6] != "-W" {
		return 0, false
	}
	year, err := strconv.Atoi(week[:4])
	if err != nil {
		return 0, false
	}
	wk, err := strconv.Atoi(week[6:])
	if err != nil {
		return 0, false
	}
	return year*100 + wk, true
}

func formatWeek(year, week int) (string, bool) {
	if week < 1 || week > 53 {
		return "", false
	}
	return fmt.Sprintf("%04d-W%02d", year, week), true
}

// NormalizeRegionCode trims, upper-cases and strips an "FR-" prefix. Missing
// values map to UnknownRegion.
func NormalizeRegionCode(v any) string {
	s, ok := stringValue(v)
	if !ok {
		return UnknownRegion
	}
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "FR-")
	if s == "" {
		return UnknownRegion
	}
	return s
}

var ageAliases = map[string]AgeBin{
	"0-4": Age0to4, "5-11": Age5to11, "12-17": Age12to17,
	"18-49": Age18to49, "50-64": Age50to64,
	"65+": Age65Plus, "65-plus": Age65Plus, "65plus": Age65Plus,
	"65etplus": Age65Plus, "65andover": Age65Plus, "65ansetplus": Age65Plus,
	"65ans+": Age65Plus, "65ansouplus": Age65Plus,
	"all": AgeAll, "tous": AgeAll, "tousages": AgeAll,
}

var ageReplacer = strings.NewReplacer("–", "-", "—", "-", "_", "-")

// matchAge resolves a label against the bin table.
func matchAge(v any) (AgeBin, bool) {
	s, ok := stringValue(v)
	if !ok {
		return "", false
	}
	key := ageReplacer.Replace(strings.ToLower(s))
	key = strings.Join(strings.Fields(key), " ")
	key = strings.ReplaceAll(key, " to ", "-")
	key = strings.ReplaceAll(key, " à ", "-")
	key = strings.ReplaceAll(key, " ", "")
	if bin, ok := ageAliases[key]; ok {
		return bin, true
	}
	if bin, ok := ageAliases[strings.TrimSuffix(key, "ans")]; ok {
		return bin, true
	}
	return "", false
}

// NormalizeNumeric parses a locale-formatted number. It tries a direct parse,
// then retries with decimal commas replaced and "%" and whitespace removed.
func NormalizeNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		return parseNumber(n.String())
	case string:
		return parseNumber(n)
	}
	return 0, false
}

var numericCleaner = strings.NewReplacer(",", ".", "%", "", " ", "", "\u00a0", "", "\u202f", "", "\t", "")

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return finite(f)
	}
	if f, err := strconv.ParseFloat(numericCleaner.Replace(s), 64); err == nil {
		return finite(f)
	}
	return 0, false
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// PickFirstNumeric returns the first candidate field that parses as a number.
func PickFirstNumeric(r RawRecord, fields ...string) (float64, bool) {
	for _, f := range fields {
		if v, ok := r[f]; ok {
			if n, ok := NormalizeNumeric(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func pickValue(r RawRecord, fields []string) any {
	for _, f := range fields {
		if v, ok := r[f]; ok {
			if s, ok := stringValue(v); ok && strings.TrimSpace(s) != "" {
				return v
			}
		}
	}
	return nil
}

func pickString(r RawRecord, fields []string) string {
	s, _ := stringValue(pickValue(r, fields))
	return strings.TrimSpace(s)
}

func stringValue(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return "", false
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case fmt.Stringer:
		return s.String(), true
	}
	return "", false
}

// Normalizer converts raw records into canonical records. The zero value
// uses 65+ for unrecognized ages.
type Normalizer struct {
	AgeFallback AgeBin
}

// NewNormalizer returns a Normalizer with the given age fallback.
func NewNormalizer(fallback AgeBin) Normalizer {
	return Normalizer{AgeFallback: fallback}
}

// Age maps a label to its bin, using the fallback for absent or unknown
// labels.
func (n Normalizer) Age(v any) AgeBin {
	if bin, ok := matchAge(v); ok {
		return bin
	}
	if n.AgeFallback == "" {
		return Age65Plus
	}
	return n.AgeFallback
}

// Flu normalizes one incidence record. It returns false for records without
// a valid week, a known region, or a non-negative incidence rate.
func (n Normalizer) Flu(r RawRecord) (FluRecord, bool) {
	week, ok := NormalizeWeek(pickValue(r, weekFields))
	if !ok {
		return FluRecord{}, false
	}
	region := NormalizeRegionCode(pickValue(r, regionFields))
	if region == UnknownRegion {
		return FluRecord{}, false
	}

	age := AgeAll
	if v := pickValue(r, ageFields); v != nil {
		age = n.Age(v)
	}

	rec := FluRecord{
		Week:       week,
		RegionCode: region,
		RegionName: pickString(r, regionNameFields),
		Age:        age,
	}
	cases, hasCases := PickFirstNumeric(r, caseFields...)
	pop, hasPop := PickFirstNumeric(r, populationFields...)
	if hasCases {
		rec.Cases = ptr(cases)
	}
	if hasPop {
		rec.Population = ptr(pop)
	}

	rate, ok := PickFirstNumeric(r, rateFields...)
	if !ok && hasCases && hasPop && pop > 0 {
		rate, ok = cases/pop*100000, true
	}
	if !ok {
		rate, ok = PickFirstNumeric(r, legacyRateFields...)
	}
	if !ok || rate < 0 {
		return FluRecord{}, false
	}
	rec.IncidencePer100k = rate
	return rec, true
}

// IsFluIndicator reports whether a Sentinelles row belongs to the
// influenza-like illness indicator. Rows without a numeric indicator pass.
func IsFluIndicator(r RawRecord) bool {
	ind, ok := PickFirstNumeric(r, indicatorFields...)
	return !ok || ind == FluIndicator
}

// Vaccination normalizes one long-format coverage record. It returns false
// for records without a valid week or a known region.
func (n Normalizer) Vaccination(r RawRecord) (VaccinationRecord, bool) {
	week, ok := NormalizeWeek(pickValue(r, weekFields))
	if !ok {
		return VaccinationRecord{}, false
	}
	region := NormalizeRegionCode(pickValue(r, regionFields))
	if region == UnknownRegion {
		return VaccinationRecord{}, false
	}

	rec := VaccinationRecord{
		Week:       week,
		RegionCode: region,
		RegionName: pickString(r, regionNameFields),
		Age:        n.Age(pickValue(r, ageFields)),
		Vaccine:    "Influenza",
	}
	if d, ok := PickFirstNumeric(r, dosesFields...); ok {
		rec.DosesAdmin = ptr(d)
	}
	if p, ok := PickFirstNumeric(r, targetFields...); ok {
		rec.PopulationTarget = ptr(p)
	}
	rec.CoveragePct = ClampPct(rawCoverage(r))
	return rec, true
}

// rawCoverage returns the unclamped coverage of a record, NaN when unknown.
func rawCoverage(r RawRecord) float64 {
	if c, ok := PickFirstNumeric(r, coverageFields...); ok {
		return c
	}
	doses, okD := PickFirstNumeric(r, dosesFields...)
	pop, okP := PickFirstNumeric(r, targetFields...)
	if okD && okP && pop > 0 {
		return doses / pop * 100
	}
	return math.NaN()
}

// ClampPct bounds a percentage to [0,100]; non-finite values become 0.
func ClampPct(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return math.Max(0, math.Min(100, x))
}

// FluBatch normalizes every influenza-like illness row of raws. Rows of other
// indicators and rows Flu rejects are counted as dropped.
func (n Normalizer) FluBatch(raws []RawRecord) (records []FluRecord, dropped int) {
	records = make([]FluRecord, 0, len(raws))
	for _, r := range raws {
		if !IsFluIndicator(r) {
			dropped++
			continue
		}
		rec, ok := n.Flu(r)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	return records, dropped
}

// VaccinationBatch normalizes coverage rows, expanding wide department
// exports into one record per flu measure.
func (n Normalizer) VaccinationBatch(raws []RawRecord) (records []VaccinationRecord, dropped int) {
	records = make([]VaccinationRecord, 0, len(raws))
	for _, r := range raws {
		if IsWideCoverage(r) {
			expanded := n.ExpandCoverage(r)
			if len(expanded) == 0 {
				dropped++
			}
			records = append(records, expanded...)
			continue
		}
		rec, ok := n.Vaccination(r)
		if !ok {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	return records, dropped
}
