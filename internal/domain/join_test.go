package domain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vacRecord(week, region string, age AgeBin, pct float64) VaccinationRecord {
	return VaccinationRecord{Week: week, RegionCode: region, Age: age, Vaccine: "Influenza", CoveragePct: pct}
}

func TestJoin_OnAge(t *testing.T) {
	flu := []FluRecord{
		{Week: "2024-W02", RegionCode: "84", RegionName: "ARA", Age: AgeAll, IncidencePer100k: 40},
		{Week: "2024-W01", RegionCode: "11", Age: Age0to4, IncidencePer100k: 12},
	}
	vac := []VaccinationRecord{
		vacRecord("2024-W02", "84", Age65Plus, 51),
		vacRecord("2024-W01", "11", Age0to4, 20),
		vacRecord("2024-W01", "11", Age18to49, 33),
	}
	vac[1].RegionName = "IDF"

	got := Join(flu, vac, true)

	want := []CombinedRecord{
		{Week: "2024-W01", RegionCode: "11", RegionName: "IDF", Age: Age0to4, IncidencePer100k: ptr(12.0), CoveragePct: ptr(20.0)},
		{Week: "2024-W01", RegionCode: "11", Age: Age18to49, CoveragePct: ptr(33.0)},
		{Week: "2024-W02", RegionCode: "84", RegionName: "ARA", Age: Age65Plus, IncidencePer100k: ptr(40.0), CoveragePct: ptr(51.0)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Join mismatch (-want +got):\n%s", diff)
	}
}

func TestJoin_WithoutAgeCollapsesToAll(t *testing.T) {
	flu := []FluRecord{{Week: "2024-W01", RegionCode: "11", Age: Age0to4, IncidencePer100k: 12}}
	vac := []VaccinationRecord{
		vacRecord("2024-W01", "11", Age18to49, 10),
		vacRecord("2024-W01", "11", Age65Plus, 60),
	}

	got := Join(flu, vac, false)
	require.Len(t, got, 1)
	assert.Equal(t, AgeAll, got[0].Age)
	require.NotNil(t, got[0].CoveragePct)
	assert.InDelta(t, 60.0, *got[0].CoveragePct, 0, "last vaccination record for a key wins")
}

func TestJoin_Completeness(t *testing.T) {
	flu := []FluRecord{
		{Week: "2024-W01", RegionCode: "11", Age: AgeAll, IncidencePer100k: 1},
		{Week: "2024-W02", RegionCode: "11", Age: AgeAll, IncidencePer100k: 2},
		{Week: "2024-W03", RegionCode: "53", Age: Age5to11, IncidencePer100k: 3},
	}
	vac := []VaccinationRecord{
		vacRecord("2024-W01", "11", Age65Plus, 50),
		vacRecord("2024-W03", "53", Age5to11, 20),
		vacRecord("2024-W04", "53", Age5to11, 21),
		vacRecord("2024-W05", "24", Age65Plus, 22),
	}
	matches := 2

	got := Join(flu, vac, true)
	assert.Len(t, got, len(flu)+len(vac)-matches)
	assert.True(t, IsSortedCombined(got))
	for _, row := range got {
		assert.True(t, row.IncidencePer100k != nil || row.CoveragePct != nil)
	}
}

func TestJoin_UnmatchedFluHasNilCoverage(t *testing.T) {
	got := Join([]FluRecord{{Week: "2024-W01", RegionCode: "11", Age: AgeAll, IncidencePer100k: 5}}, nil, true)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].CoveragePct)
	assert.Equal(t, Age65Plus, got[0].Age)
}

func TestJoin_Empty(t *testing.T) {
	assert.Empty(t, Join(nil, nil, true))
}
