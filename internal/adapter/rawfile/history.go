package rawfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// historyRow is one line of the collected Sentinelles history.
type historyRow struct {
	Week        string `csv:"week"`
	Indicator   string `csv:"indicator"`
	Inc         string `csv:"inc"`
	IncLow      string `csv:"inc_low"`
	IncUp       string `csv:"inc_up"`
	Inc100      string `csv:"inc100"`
	Inc100Low   string `csv:"inc100_low"`
	Inc100Up    string `csv:"inc100_up"`
	GeoInsee    string `csv:"geo_insee"`
	GeoName     string `csv:"geo_name"`
	CollectedAt string `csv:"collected_at"`
}

func (h historyRow) record() domain.RawRecord {
	r := domain.RawRecord{
		"week":      h.Week,
		"indicator": h.Indicator,
		"inc":       h.Inc,
		"inc100":    h.Inc100,
		"geo_insee": h.GeoInsee,
		"geo_name":  h.GeoName,
	}
	for k, v := range map[string]string{
		"inc_low": h.IncLow, "inc_up": h.IncUp,
		"inc100_low": h.Inc100Low, "inc100_up": h.Inc100Up,
		"collected_at": h.CollectedAt,
	} {
		if v != "" {
			r[k] = v
		}
	}
	return r
}

func rowFromRecord(r domain.RawRecord, collectedAt time.Time) historyRow {
	get := func(k string) string {
		switch v := r[k].(type) {
		case nil:
			return ""
		case string:
			return strings.TrimSpace(v)
		default:
			return fmt.Sprint(v)
		}
	}
	return historyRow{
		Week:        get("week"),
		Indicator:   get("indicator"),
		Inc:         get("inc"),
		IncLow:      get("inc_low"),
		IncUp:       get("inc_up"),
		Inc100:      get("inc100"),
		Inc100Low:   get("inc100_low"),
		Inc100Up:    get("inc100_up"),
		GeoInsee:    get("geo_insee"),
		GeoName:     get("geo_name"),
		CollectedAt: collectedAt.UTC().Format(time.RFC3339),
	}
}

// History is the on-disk regional incidence series collected from the
// upstream, stored as CSV with a fixed header.
type History struct {
	path string
	mu   sync.Mutex
}

// NewHistory returns a history backed by path.
func NewHistory(path string) *History {
	return &History{path: path}
}

// Path returns the backing file.
func (h *History) Path() string { return h.path }

// LoadHistory returns every stored row. A missing file is an empty history.
func (h *History) LoadHistory(_ context.Context) ([]domain.RawRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.read()
	if err != nil {
		return nil, err
	}
	out := make([]domain.RawRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// Append adds records not already stored, keyed by week, indicator and
// region, and returns how many were written.
func (h *History) Append(_ context.Context, records []domain.RawRecord, collectedAt time.Time) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	existing, err := h.read()
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r.key()] = struct{}{}
	}

	var fresh []historyRow
	for _, rec := range records {
		row := rowFromRecord(rec, collectedAt)
		if row.Week == "" || row.GeoInsee == "" {
			continue
		}
		if _, dup := seen[row.key()]; dup {
			continue
		}
		seen[row.key()] = struct{}{}
		fresh = append(fresh, row)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	data, err := csvutil.Marshal(append(existing, fresh...))
	if err != nil {
		return 0, fmt.Errorf("encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return 0, err
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

func (r historyRow) key() string {
	return r.Week + "|" + r.Indicator + "|" + r.GeoInsee
}

func (h *History) read() ([]historyRow, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var rows []historyRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", h.path, err)
	}
	return rows, nil
}
