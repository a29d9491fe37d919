package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
)

// Harmonization stages, in run order.
const (
	StageFlu         = "flu"
	StageVaccination = "vaccination"
	StageCombined    = "combined"
)

// Stage statuses.
const (
	StatusWritten = "written"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// RawReader resolves the first existing candidate and reads its records.
// A missing input is reported with an error wrapping fs.ErrNotExist.
type RawReader interface {
	Read(candidates ...string) (string, []domain.RawRecord, error)
}

// OutputWriter persists the processed record sets.
type OutputWriter interface {
	WriteFlu(records []domain.FluRecord) ([]string, error)
	WriteVaccination(records []domain.VaccinationRecord) ([]string, error)
	WriteCombined(records []domain.CombinedRecord) ([]string, error)
}

// Progress is notified as stages run. *progressbar.ProgressBar satisfies it.
type Progress interface {
	Describe(description string)
	Add(num int) error
}

// HarmonizeOptions selects inputs and join behavior.
type HarmonizeOptions struct {
	FluSources         []string
	VaccinationSources []string
	JoinOnAge          bool
	Normalizer         domain.Normalizer
}

// StageReport describes one stage of a run.
type StageReport struct {
	Stage   string               `json:"stage"`
	Status  string               `json:"status"`
	Source  string               `json:"source,omitempty"`
	Records int                  `json:"records"`
	Dropped int                  `json:"dropped"`
	Outputs []string             `json:"outputs,omitempty"`
	Quality domain.QualityReport `json:"quality"`
	Error   string               `json:"error,omitempty"`
}

// Report summarizes a harmonization run.
type Report struct {
	RunID     string        `json:"runId"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Stages    []StageReport `json:"stages"`
}

// Stage returns the report of the named stage.
func (r Report) Stage(name string) (StageReport, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageReport{}, false
}

// Failed reports whether any stage failed. Skipped stages are not failures.
func (r Report) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Harmonizer runs the flu, vaccination and combined stages.
type Harmonizer struct {
	reader   RawReader
	writer   OutputWriter
	progress Progress
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewHarmonizer creates a Harmonizer. progress and clock may be nil.
func NewHarmonizer(reader RawReader, writer OutputWriter, progress Progress, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Harmonizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Harmonizer{reader: reader, writer: writer, progress: progress, clock: clock, logger: logger, metrics: metrics}
}

// Run executes every stage. A missing input skips its stage and the others
// proceed; the combined stage runs when either side produced records.
func (h *Harmonizer) Run(ctx context.Context, opts HarmonizeOptions) Report {
	rep := Report{RunID: uuid.NewString(), StartedAt: h.clock.Now().UTC()}
	logger := h.logger.With("run_id", rep.RunID)
	logger.Info("harmonization started")

	var flu []domain.FluRecord
	var vac []domain.VaccinationRecord

	h.step(ctx, &rep, logger, StageFlu, func() StageReport {
		st, raws, ok := h.read(logger, StageFlu, opts.FluSources)
		if !ok {
			return st
		}
		st.Quality = domain.AssessQuality(domain.KindFlu, raws)
		var dropped int
		flu, dropped = opts.Normalizer.FluBatch(raws)
		h.countRecords(domain.KindFlu, len(flu), dropped)
		st.Records, st.Dropped = len(flu), dropped
		return h.written(st, func() ([]string, error) { return h.writer.WriteFlu(flu) })
	})

	h.step(ctx, &rep, logger, StageVaccination, func() StageReport {
		st, raws, ok := h.read(logger, StageVaccination, opts.VaccinationSources)
		if !ok {
			return st
		}
		st.Quality = domain.AssessQuality(domain.KindVaccination, raws)
		var dropped int
		vac, dropped = opts.Normalizer.VaccinationBatch(raws)
		h.countRecords(domain.KindVaccination, len(vac), dropped)
		st.Records, st.Dropped = len(vac), dropped
		return h.written(st, func() ([]string, error) { return h.writer.WriteVaccination(vac) })
	})

	h.step(ctx, &rep, logger, StageCombined, func() StageReport {
		st := StageReport{Stage: StageCombined}
		if len(flu) == 0 && len(vac) == 0 {
			st.Status = StatusSkipped
			logger.Warn("stage skipped", "stage", StageCombined, "reason", "no harmonized records")
			return st
		}
		combined := domain.Join(flu, vac, opts.JoinOnAge)
		st.Records = len(combined)
		return h.written(st, func() ([]string, error) { return h.writer.WriteCombined(combined) })
	})

	rep.Duration = h.clock.Since(rep.StartedAt)
	logger.Info("harmonization finished", "duration", rep.Duration, "failed", rep.Failed())
	return rep
}

func (h *Harmonizer) step(ctx context.Context, rep *Report, logger *slog.Logger, stage string, fn func() StageReport) {
	if h.progress != nil {
		h.progress.Describe(stage)
	}
	var st StageReport
	if err := ctx.Err(); err != nil {
		st = StageReport{Stage: stage, Status: StatusSkipped, Error: err.Error()}
	} else {
		st = fn()
	}
	st.Stage = stage
	h.metrics.StageOutcomes.WithLabelValues(stage, st.Status).Inc()
	if st.Status == StatusWritten {
		logger.Info("stage written", "stage", stage, "records", st.Records, "dropped", st.Dropped, "outputs", st.Outputs)
	}
	rep.Stages = append(rep.Stages, st)
	if h.progress != nil {
		_ = h.progress.Add(1)
	}
}

// read loads a stage input. ok is false when the stage cannot continue.
func (h *Harmonizer) read(logger *slog.Logger, stage string, candidates []string) (StageReport, []domain.RawRecord, bool) {
	st := StageReport{Stage: stage}
	path, raws, err := h.reader.Read(candidates...)
	st.Source = path
	switch {
	case errors.Is(err, fs.ErrNotExist):
		st.Status = StatusSkipped
		st.Error = err.Error()
		logger.Warn("stage skipped", "stage", stage, "reason", "input not found", "candidates", candidates)
		return st, nil, false
	case err != nil:
		st.Status = StatusFailed
		st.Error = err.Error()
		logger.Error("read stage input failed", "stage", stage, "error", err)
		return st, nil, false
	}
	return st, raws, true
}

func (h *Harmonizer) written(st StageReport, write func() ([]string, error)) StageReport {
	paths, err := write()
	if err != nil {
		st.Status = StatusFailed
		st.Error = err.Error()
		h.logger.Error("write stage output failed", "stage", st.Stage, "error", err)
		return st
	}
	st.Status = StatusWritten
	st.Outputs = paths
	return st
}

func (h *Harmonizer) countRecords(kind domain.Kind, kept, dropped int) {
	h.metrics.RecordsNormalized.WithLabelValues(string(kind), "kept").Add(float64(kept))
	h.metrics.RecordsNormalized.WithLabelValues(string(kind), "dropped").Add(float64(dropped))
	if dropped > 0 {
		h.logger.Debug("records dropped", "kind", kind, "dropped", dropped, "kept", kept)
	}
}
