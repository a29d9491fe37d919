package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flu-risk-etl/internal/adapter/export"
	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

func f(v float64) *float64 { return &v }

func writeOutputs(t *testing.T, dir string, combined func([]domain.CombinedRecord) []domain.CombinedRecord) {
	t.Helper()
	flu := []domain.FluRecord{{Week: "2024-W42", RegionCode: "84", Age: domain.AgeAll, IncidencePer100k: 107}}
	vac := []domain.VaccinationRecord{
		{Week: "2024-W42", RegionCode: "84", Age: domain.Age65Plus, Vaccine: "Influenza", CoveragePct: 50, DosesAdmin: f(300), PopulationTarget: f(600)},
		{Week: "2024-W42", RegionCode: "53", Age: domain.Age65Plus, Vaccine: "Influenza", CoveragePct: 90},
	}
	w := export.NewWriter(dir)
	_, err := w.WriteFlu(flu)
	require.NoError(t, err)
	_, err = w.WriteVaccination(vac)
	require.NoError(t, err)
	_, err = w.WriteCombined(combined(domain.Join(flu, vac, true)))
	require.NoError(t, err)
}

func TestRun_Valid(t *testing.T) {
	dir := t.TempDir()
	writeOutputs(t, dir, func(c []domain.CombinedRecord) []domain.CombinedRecord { return c })

	var out bytes.Buffer
	assert.Equal(t, 0, run(&out, dir, true), out.String())
	assert.Contains(t, out.String(), "All validations passed.")
	assert.Contains(t, out.String(), "Records: 1 incidence, 2 vaccination, 2 combined")
}

func TestRun_CombinedMismatch(t *testing.T) {
	dir := t.TempDir()
	writeOutputs(t, dir, func(c []domain.CombinedRecord) []domain.CombinedRecord { return c[:1] })

	var out bytes.Buffer
	assert.Equal(t, 1, run(&out, dir, true))
	assert.Contains(t, out.String(), "combined differs from the join")
}

func TestRun_WrongJoinMode(t *testing.T) {
	dir := t.TempDir()
	writeOutputs(t, dir, func(c []domain.CombinedRecord) []domain.CombinedRecord { return c })

	var out bytes.Buffer
	assert.Equal(t, 1, run(&out, dir, false))
}

func TestRun_ParityMismatch(t *testing.T) {
	dir := t.TempDir()
	writeOutputs(t, dir, func(c []domain.CombinedRecord) []domain.CombinedRecord { return c })
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flu_incidence.csv"), []byte("week,regionCode\n"), 0o600))

	var out bytes.Buffer
	assert.Equal(t, 1, run(&out, dir, true))
	assert.Contains(t, out.String(), "flu_incidence: 1 JSON rows vs 0 CSV rows")
}

func TestRun_MissingInputsAreNotErrors(t *testing.T) {
	dir := t.TempDir()
	vac := []domain.VaccinationRecord{{Week: "2024-W42", RegionCode: "53", Age: domain.Age65Plus, CoveragePct: 90}}
	w := export.NewWriter(dir)
	_, err := w.WriteVaccination(vac)
	require.NoError(t, err)
	_, err = w.WriteCombined(domain.Join(nil, vac, true))
	require.NoError(t, err)

	var out bytes.Buffer
	assert.Equal(t, 0, run(&out, dir, true), out.String())
}

func TestRun_HalfMissingPair(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "combined.json"), []byte("[]"), 0o600))

	var out bytes.Buffer
	assert.Equal(t, 1, run(&out, dir, true))
	assert.Contains(t, out.String(), "FATAL")
}
