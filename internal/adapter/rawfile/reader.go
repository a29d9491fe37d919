// Package rawfile reads raw CSV, JSON and XLSX exports into raw records.
package rawfile

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// ErrNotFound reports that none of the candidate inputs exist.
var ErrNotFound = fmt.Errorf("raw input not found: %w", fs.ErrNotExist)

// extensions are tried in order for candidates given without one.
var extensions = []string{".json", ".csv", ".xlsx"}

const utf8BOM = "\ufeff"

// Resolve returns the first existing candidate. A candidate without a known
// extension is tried as a base name with .json, .csv and .xlsx appended.
func Resolve(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if isSupported(c) {
			if fileExists(c) {
				return c, nil
			}
			continue
		}
		for _, ext := range extensions {
			if p := c + ext; fileExists(p) {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrNotFound, strings.Join(candidates, ", "))
}

// Reader resolves and reads raw inputs. It implements pipeline.RawReader.
type Reader struct{}

// Read resolves the first existing candidate and reads it.
func (Reader) Read(candidates ...string) (string, []domain.RawRecord, error) {
	path, err := Resolve(candidates...)
	if err != nil {
		return "", nil, err
	}
	recs, err := ReadFile(path)
	if err != nil {
		return path, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return path, recs, nil
}

// ReadFile reads every record of a .csv, .json or .xlsx file.
func ReadFile(path string) ([]domain.RawRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path)
	case ".csv", ".json":
	default:
		return nil, fmt.Errorf("unsupported raw input %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ReadJSON(f)
	}
	return ReadCSV(f)
}

// ReadCSV reads a headed CSV export. Lines starting with '#' are metadata, a
// leading BOM is dropped and the delimiter is ';' when the header uses it
// more than ','. Short rows leave their trailing fields empty.
func ReadCSV(r io.Reader) ([]domain.RawRecord, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && string(prefix) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	// Buffer the data lines so the delimiter can be sniffed from the header.
	var buf bytes.Buffer
	var header string
	for {
		line, err := br.ReadString('\n')
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			line = ""
		}
		if header == "" && strings.TrimSpace(line) != "" {
			header = line
		}
		buf.WriteString(line)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
	}

	cr := csv.NewReader(&buf)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	if strings.Count(header, ";") > strings.Count(header, ",") {
		cr.Comma = ';'
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return fromRows(rows), nil
}

// ReadJSON reads a JSON array of objects. Numbers stay json.Number.
func ReadJSON(r io.Reader) ([]domain.RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	out := make([]domain.RawRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.RawRecord(row))
	}
	return out, nil
}

// ReadXLSX reads the first sheet of a workbook, using its first row as the
// header.
func ReadXLSX(path string) ([]domain.RawRecord, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return fromRows(rows), nil
}

// fromRows maps data rows onto the header row. Blank rows are dropped.
func fromRows(rows [][]string) []domain.RawRecord {
	if len(rows) == 0 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))
	}

	out := make([]domain.RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		rec := make(domain.RawRecord, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			v := ""
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			rec[h] = v
		}
		out = append(out, rec)
	}
	return out
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func isSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
