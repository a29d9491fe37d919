package domain

import (
	"slices"
	"strings"
)

type joinKey struct {
	week, region string
	age          AgeBin
}

// Join outer-joins flu and vaccination records on (week, region, age).
//
// Every flu record yields one row. Vaccination records whose key no flu
// record consumed are appended with a nil incidence; two such records with
// the same key both appear. With joinOnAge false every age collapses into
// ALL on both sides; with joinOnAge true a flu ALL row is matched and
// reported as 65+. When several vaccination records share a key the last one
// is used for matching.
func Join(flu []FluRecord, vac []VaccinationRecord, joinOnAge bool) []CombinedRecord {
	vacAge := func(v VaccinationRecord) AgeBin {
		if !joinOnAge {
			return AgeAll
		}
		return v.Age
	}
	fluAge := func(f FluRecord) AgeBin {
		switch {
		case !joinOnAge:
			return AgeAll
		case f.Age == AgeAll:
			return Age65Plus
		default:
			return f.Age
		}
	}

	index := make(map[joinKey]VaccinationRecord, len(vac))
	for _, v := range vac {
		index[joinKey{v.Week, v.RegionCode, vacAge(v)}] = v
	}

	seen := make(map[joinKey]struct{}, len(flu))
	out := make([]CombinedRecord, 0, len(flu)+len(vac))
	for _, f := range flu {
		k := joinKey{f.Week, f.RegionCode, fluAge(f)}
		row := CombinedRecord{
			Week:             f.Week,
			RegionCode:       f.RegionCode,
			RegionName:       f.RegionName,
			Age:              k.age,
			IncidencePer100k: ptr(f.IncidencePer100k),
		}
		if v, ok := index[k]; ok {
			row.CoveragePct = ptr(v.CoveragePct)
			if row.RegionName == "" {
				row.RegionName = v.RegionName
			}
		}
		out = append(out, row)
		seen[k] = struct{}{}
	}

	for _, v := range vac {
		k := joinKey{v.Week, v.RegionCode, vacAge(v)}
		if _, ok := seen[k]; ok {
			continue
		}
		out = append(out, CombinedRecord{
			Week:        v.Week,
			RegionCode:  v.RegionCode,
			RegionName:  v.RegionName,
			Age:         k.age,
			CoveragePct: ptr(v.CoveragePct),
		})
	}

	slices.SortStableFunc(out, compareCombined)
	return out
}

func compareCombined(a, b CombinedRecord) int {
	if c := strings.Compare(a.Week, b.Week); c != 0 {
		return c
	}
	if c := strings.Compare(a.RegionCode, b.RegionCode); c != 0 {
		return c
	}
	return strings.Compare(string(a.Age), string(b.Age))
}

// IsSortedCombined reports whether rows are in (week, region, age) order.
func IsSortedCombined(rows []CombinedRecord) bool {
	return slices.IsSortedFunc(rows, compareCombined)
}
