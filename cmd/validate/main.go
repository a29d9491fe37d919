// Command validate checks the integrity of the processed harmonization
// outputs: JSON/CSV parity, canonical weeks and region codes, coverage
// bounds, and that the combined set is exactly the join of the other two.
//
// Usage:
//
//	go run ./cmd/validate -dir data/processed
package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/couchcryptid/flu-risk-etl/internal/adapter/export"
	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// dataset is one processed output pair.
type dataset struct {
	name      string
	present   bool
	jsonRows  int
	csvRows   int
	csvHeader []string
}

func main() {
	dir := flag.String("dir", "data/processed", "processed output directory")
	joinOnAge := flag.Bool("join-on-age", true, "the join mode the outputs were produced with")
	flag.Parse()

	os.Exit(run(os.Stdout, *dir, *joinOnAge))
}

func run(w io.Writer, dir string, joinOnAge bool) int {
	fmt.Fprintln(w, "=== Flu Risk Output Validation ===")
	fmt.Fprintln(w)

	flu, fluSet, err := load[domain.FluRecord](dir, export.FluIncidence)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}
	vac, vacSet, err := load[domain.VaccinationRecord](dir, export.FluVaccination)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}
	combined, combinedSet, err := load[domain.CombinedRecord](dir, export.Combined)
	if err != nil {
		fmt.Fprintf(w, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateParity(fluSet, vacSet, combinedSet),
		validateFlu(flu),
		validateVaccination(vac),
		validateCombined(combined, flu, vac, combinedSet.present, joinOnAge),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d incidence, %d vaccination, %d combined\n", len(flu), len(vac), len(combined))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return 1
}

// load reads <name>.json and counts <name>.csv. A pair missing entirely is
// reported as absent; a half-missing pair is an error.
func load[T any](dir, name string) ([]T, dataset, error) {
	ds := dataset{name: name}
	jsonData, jsonErr := os.ReadFile(filepath.Join(dir, name+".json"))
	csvFile, csvErr := os.Open(filepath.Join(dir, name+".csv"))
	if csvErr == nil {
		defer csvFile.Close()
	}
	switch {
	case errors.Is(jsonErr, fs.ErrNotExist) && errors.Is(csvErr, fs.ErrNotExist):
		return nil, ds, nil
	case jsonErr != nil:
		return nil, ds, fmt.Errorf("read %s.json: %w", name, jsonErr)
	case csvErr != nil:
		return nil, ds, fmt.Errorf("open %s.csv: %w", name, csvErr)
	}
	ds.present = true

	var records []T
	if err := json.Unmarshal(jsonData, &records); err != nil {
		return nil, ds, fmt.Errorf("decode %s.json: %w", name, err)
	}
	ds.jsonRows = len(records)

	rows, err := csv.NewReader(csvFile).ReadAll()
	if err != nil {
		return nil, ds, fmt.Errorf("parse %s.csv: %w", name, err)
	}
	if len(rows) > 0 {
		ds.csvHeader = rows[0]
		ds.csvRows = len(rows) - 1
	}
	return records, ds, nil
}

var expectedHeaders = map[string]string{
	export.FluIncidence:   "week,regionCode,regionName,age,incidencePer100k,cases,population",
	export.FluVaccination: "week,regionCode,regionName,age,vaccine,coveragePct,dosesAdmin,populationTarget,measure",
	export.Combined:       "week,regionCode,regionName,age,incidencePer100k,coveragePct",
}

func validateParity(sets ...dataset) *phase {
	p := &phase{name: "JSON/CSV parity"}
	for _, ds := range sets {
		if !ds.present {
			continue
		}
		if ds.jsonRows != ds.csvRows {
			p.errorf("%s: %d JSON rows vs %d CSV rows", ds.name, ds.jsonRows, ds.csvRows)
		}
		if got := strings.Join(ds.csvHeader, ","); got != expectedHeaders[ds.name] {
			p.errorf("%s: CSV header %q, want %q", ds.name, got, expectedHeaders[ds.name])
		}
	}
	return p
}

func checkKey(p *phase, label string, i int, week, region string, age domain.AgeBin) {
	if canon, ok := domain.NormalizeWeek(week); !ok || canon != week {
		p.errorf("%s[%d]: week %q is not canonical", label, i, week)
	}
	if region == "" || region == domain.UnknownRegion {
		p.errorf("%s[%d]: missing region code", label, i)
	}
	if _, ok := domain.ParseAgeBin(string(age)); !ok {
		p.errorf("%s[%d]: unknown age bin %q", label, i, age)
	}
}

func validateFlu(records []domain.FluRecord) *phase {
	p := &phase{name: "Incidence integrity"}
	for i, r := range records {
		checkKey(p, "incidence", i, r.Week, r.RegionCode, r.Age)
		if r.IncidencePer100k < 0 || math.IsNaN(r.IncidencePer100k) || math.IsInf(r.IncidencePer100k, 0) {
			p.errorf("incidence[%d]: rate %v out of range", i, r.IncidencePer100k)
		}
	}
	return p
}

func validateVaccination(records []domain.VaccinationRecord) *phase {
	p := &phase{name: "Vaccination integrity"}
	for i, r := range records {
		checkKey(p, "vaccination", i, r.Week, r.RegionCode, r.Age)
		if r.CoveragePct < 0 || r.CoveragePct > 100 {
			p.errorf("vaccination[%d]: coverage %v outside [0,100]", i, r.CoveragePct)
		}
	}
	return p
}

func validateCombined(combined []domain.CombinedRecord, flu []domain.FluRecord, vac []domain.VaccinationRecord, present, joinOnAge bool) *phase {
	p := &phase{name: "Combined join consistency"}
	if !present {
		if len(flu)+len(vac) > 0 {
			p.errorf("combined output missing for %d incidence and %d vaccination rows", len(flu), len(vac))
		}
		return p
	}
	if !domain.IsSortedCombined(combined) {
		p.errorf("combined rows are not sorted by week, region and age")
	}
	for i, r := range combined {
		if r.IncidencePer100k == nil && r.CoveragePct == nil {
			p.errorf("combined[%d]: neither incidence nor coverage", i)
		}
	}
	if diff := cmp.Diff(domain.Join(flu, vac, joinOnAge), combined); diff != "" {
		p.errorf("combined differs from the join of its inputs (-want +got):\n%s", diff)
	}
	return p
}
