// Command harmonize converts the raw incidence and vaccination exports into
// the processed flu_incidence, flu_vaccination and combined JSON and CSV
// files, then prints a per-stage report.
//
// Usage:
//
//	go run ./cmd/harmonize -job harmonize.yaml
//	go run ./cmd/harmonize -flu data/raw/incidence.csv -out data/processed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/couchcryptid/flu-risk-etl/internal/adapter/export"
	"github.com/couchcryptid/flu-risk-etl/internal/adapter/rawfile"
	"github.com/couchcryptid/flu-risk-etl/internal/config"
	"github.com/couchcryptid/flu-risk-etl/internal/domain"
	"github.com/couchcryptid/flu-risk-etl/internal/observability"
	"github.com/couchcryptid/flu-risk-etl/internal/pipeline"
)

type flags struct {
	job         string
	out         string
	flu         string
	vaccination string
	ageFallback string
	joinOnAge   bool
	jsonReport  bool
	quiet       bool
	set         map[string]bool
}

func main() {
	_ = godotenv.Load()

	var f flags
	flag.StringVar(&f.job, "job", "", "YAML job file")
	flag.StringVar(&f.out, "out", "", "output directory (overrides the job file)")
	flag.StringVar(&f.flu, "flu", "", "comma-separated incidence input candidates")
	flag.StringVar(&f.vaccination, "vaccination", "", "comma-separated vaccination input candidates")
	flag.StringVar(&f.ageFallback, "age-fallback", "", "age bin for unrecognized labels")
	flag.BoolVar(&f.joinOnAge, "join-on-age", true, "include the age bin in the join key")
	flag.BoolVar(&f.jsonReport, "json", false, "print the report as JSON")
	flag.BoolVar(&f.quiet, "quiet", false, "hide the progress bar")
	flag.Parse()

	f.set = make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	job, err := resolveJob(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmonize: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, job, f, os.Stdout)
	stop()
	os.Exit(code)
}

// resolveJob applies explicitly set flags over the job file.
func resolveJob(f flags) (config.Job, error) {
	job, err := config.LoadJob(f.job)
	if err != nil {
		return config.Job{}, err
	}
	if f.set["out"] {
		job.OutputDir = f.out
	}
	if f.set["flu"] {
		job.FluSources = splitList(f.flu)
	}
	if f.set["vaccination"] {
		job.VaccinationSources = splitList(f.vaccination)
	}
	if f.set["age-fallback"] {
		job.AgeFallback = domain.AgeBin(f.ageFallback)
	}
	if f.set["join-on-age"] {
		v := f.joinOnAge
		job.JoinOnAge = &v
	}
	return job, job.Validate()
}

func run(ctx context.Context, job config.Job, f flags, stdout io.Writer) int {
	logger := observability.NewLogger(
		sharedcfg.EnvOrDefault("LOG_LEVEL", "warn"),
		sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
	)

	var progress pipeline.Progress
	if !f.quiet {
		progress = progressbar.NewOptions(3,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("harmonize"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	age, _ := domain.ParseAgeBin(string(job.AgeFallback))
	h := pipeline.NewHarmonizer(rawfile.Reader{}, export.NewWriter(job.OutputDir), progress, nil, logger, observability.NewMetrics())
	rep := h.Run(ctx, pipeline.HarmonizeOptions{
		FluSources:         job.FluSources,
		VaccinationSources: job.VaccinationSources,
		JoinOnAge:          job.JoinsOnAge(),
		Normalizer:         domain.NewNormalizer(age),
	})

	if f.jsonReport {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	} else {
		printReport(stdout, job, rep)
	}
	if rep.Failed() {
		return 1
	}
	return 0
}

func printReport(w io.Writer, job config.Job, rep pipeline.Report) {
	fmt.Fprintf(w, "=== Harmonization %s ===\n", rep.RunID)
	fmt.Fprintf(w, "Output: %s (join on age: %t)\n\n", job.OutputDir, job.JoinsOnAge())
	for _, st := range rep.Stages {
		status := "\033[32m" + strings.ToUpper(st.Status) + "\033[0m"
		switch st.Status {
		case pipeline.StatusSkipped:
			status = "\033[33mSKIPPED\033[0m"
		case pipeline.StatusFailed:
			status = "\033[31mFAILED\033[0m"
		}
		fmt.Fprintf(w, "  %-12s %-20s %6d records %6d dropped\n", st.Stage, status, st.Records, st.Dropped)
		if st.Source != "" {
			fmt.Fprintf(w, "  %-12s source %s\n", "", st.Source)
		}
		if st.Error != "" {
			fmt.Fprintf(w, "  %-12s %s\n", "", st.Error)
		}
		if q := st.Quality; q.Records > 0 {
			fmt.Fprintf(w, "  %-12s quality: %d rows, %d invalid weeks, %d unknown regions, %d out-of-range coverage, %d regions\n",
				"", q.Records, q.InvalidWeeks, q.UnknownRegions, q.OutOfRangeCoverage, q.Regions)
		}
	}
	fmt.Fprintf(w, "\nDone in %s.\n", rep.Duration.Round(time.Millisecond))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
