package domain

import (
	"math"
	"slices"
	"strings"
)

var (
	yearFields     = []string{"Année", "Annee", "year", "annee"}
	deptCodeFields = []string{"Département Code", "Departement Code", "code_departement", "dept_code", "département_code", "departement_code"}
	deptNameFields = []string{"Département", "Departement", "department"}
)

// IsWideCoverage reports whether r is a row of the annual department table
// with one column per "Grippe" measure instead of a dated long record.
func IsWideCoverage(r RawRecord) bool {
	if pickValue(r, weekFields) != nil {
		return false
	}
	return len(coverageMeasures(r)) > 0
}

// coverageMeasures returns the flu measure columns of r in stable order.
func coverageMeasures(r RawRecord) []string {
	var cols []string
	for k := range r {
		if strings.Contains(strings.ToLower(k), "grippe") {
			cols = append(cols, k)
		}
	}
	slices.Sort(cols)
	return cols
}

// ExpandCoverage turns one wide row into a record per flu measure. The year
// is stamped as its first ISO week and the department stands in for the
// region. Empty or unparseable measures are skipped.
func (n Normalizer) ExpandCoverage(r RawRecord) []VaccinationRecord {
	year, ok := PickFirstNumeric(r, yearFields...)
	if !ok || year < 1000 || year > 9999 || year != math.Trunc(year) {
		return nil
	}
	week, _ := formatWeek(int(year), 1)
	region := NormalizeRegionCode(pickValue(r, deptCodeFields))
	if region == UnknownRegion {
		return nil
	}
	name := pickString(r, deptNameFields)

	var out []VaccinationRecord
	for _, col := range coverageMeasures(r) {
		pct, ok := NormalizeNumeric(r[col])
		if !ok {
			continue
		}
		out = append(out, VaccinationRecord{
			Week:        week,
			RegionCode:  region,
			RegionName:  name,
			Age:         n.Age(measureAge(col)),
			Vaccine:     "Influenza",
			CoveragePct: ClampPct(pct),
			Measure:     col,
		})
	}
	return out
}

// measureAge strips the vaccine prefix and any "chez les"/"des" wording so
// "Grippe 65 ans et plus" resolves as "65 ans et plus".
func measureAge(col string) string {
	s := strings.ToLower(col)
	s = strings.TrimSpace(strings.Replace(s, "grippe", "", 1))
	for _, p := range []string{"chez les ", "des ", "- "} {
		s = strings.TrimPrefix(s, p)
	}
	return s
}

// QualityReport counts data issues over a raw batch.
type QualityReport struct {
	Records            int `json:"records"`
	InvalidWeeks       int `json:"invalidWeeks"`
	UnknownRegions     int `json:"unknownRegions"`
	OutOfRangeCoverage int `json:"outOfRangeCoverage"`
	Regions            int `json:"regions"`
}

// AssessQuality inspects raw records of the given kind without altering
// them. Wide coverage rows are checked per measure.
func AssessQuality(kind Kind, raws []RawRecord) QualityReport {
	var q QualityReport
	regions := make(map[string]struct{})
	for _, r := range raws {
		q.Records++
		if kind == KindVaccination && IsWideCoverage(r) {
			code := NormalizeRegionCode(pickValue(r, deptCodeFields))
			if code == UnknownRegion {
				q.UnknownRegions++
			} else {
				regions[code] = struct{}{}
			}
			if _, ok := PickFirstNumeric(r, yearFields...); !ok {
				q.InvalidWeeks++
			}
			for _, col := range coverageMeasures(r) {
				if pct, ok := NormalizeNumeric(r[col]); ok && (pct < 0 || pct > 100) {
					q.OutOfRangeCoverage++
				}
			}
			continue
		}
		if _, ok := NormalizeWeek(pickValue(r, weekFields)); !ok {
			q.InvalidWeeks++
		}
		code := NormalizeRegionCode(pickValue(r, regionFields))
		if code == UnknownRegion {
			q.UnknownRegions++
		} else {
			regions[code] = struct{}{}
		}
		if kind == KindVaccination {
			if c := rawCoverage(r); !math.IsNaN(c) && (c < 0 || c > 100) {
				q.OutOfRangeCoverage++
			}
		}
	}
	q.Regions = len(regions)
	return q
}
