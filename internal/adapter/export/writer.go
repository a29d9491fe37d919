// Package export writes processed record sets as JSON and CSV file pairs.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jszwec/csvutil"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// Output base names under the processed directory.
const (
	FluIncidence   = "flu_incidence"
	FluVaccination = "flu_vaccination"
	Combined       = "combined"
)

// Writer writes <name>.json and <name>.csv under a directory.
type Writer struct {
	dir string
}

// NewWriter returns a writer rooted at dir; the directory is created on
// first write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// WriteFlu writes the incidence outputs.
func (w *Writer) WriteFlu(records []domain.FluRecord) ([]string, error) {
	return write(w.dir, FluIncidence, records)
}

// WriteVaccination writes the coverage outputs.
func (w *Writer) WriteVaccination(records []domain.VaccinationRecord) ([]string, error) {
	return write(w.dir, FluVaccination, records)
}

// WriteCombined writes the joined outputs.
func (w *Writer) WriteCombined(records []domain.CombinedRecord) ([]string, error) {
	return write(w.dir, Combined, records)
}

// write emits both files and returns their paths. Column order follows the
// struct field order; nil pointers become empty CSV cells and JSON nulls.
func write[T any](dir, name string, records []T) ([]string, error) {
	if records == nil {
		records = []T{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	js, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s json: %w", name, err)
	}
	jsonPath := filepath.Join(dir, name+".json")
	if err := os.WriteFile(jsonPath, js, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", jsonPath, err)
	}

	csvData, err := encodeCSV(records)
	if err != nil {
		return nil, fmt.Errorf("encode %s csv: %w", name, err)
	}
	csvPath := filepath.Join(dir, name+".csv")
	if err := os.WriteFile(csvPath, csvData, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", csvPath, err)
	}

	return []string{jsonPath, csvPath}, nil
}

// encodeCSV writes a header even for an empty set. Floats are written in
// plain decimal notation.
func encodeCSV[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	enc := csvutil.NewEncoder(w)
	enc.Register(formatFloat)
	enc.Register(func(f *float64) ([]byte, error) {
		if f == nil {
			return nil, nil
		}
		return formatFloat(*f)
	})

	if len(records) == 0 {
		if err := enc.EncodeHeader(*new(T)); err != nil {
			return nil, err
		}
	} else if err := enc.Encode(records); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatFloat(f float64) ([]byte, error) {
	return strconv.AppendFloat(nil, f, 'f', -1, 64), nil
}
