package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

// Job describes one harmonization batch run.
type Job struct {
	// Candidate inputs per dataset; the first one that exists is used.
	FluSources         []string      `yaml:"flu_sources"`
	VaccinationSources []string      `yaml:"vaccination_sources"`
	OutputDir          string        `yaml:"output_dir"`
	AgeFallback        domain.AgeBin `yaml:"age_fallback"`
	JoinOnAge          *bool         `yaml:"join_on_age"`
}

// DefaultJob returns the batch inputs used when no job file is given.
func DefaultJob() Job {
	joinOnAge := true
	return Job{
		FluSources:         []string{"incidence.csv", "server/data/sentiweb_data"},
		VaccinationSources: []string{"couvertures-vaccinales-des-adolescent-et-adultes-departement.csv", "server/data/vaccination"},
		OutputDir:          "data/processed",
		AgeFallback:        domain.Age65Plus,
		JoinOnAge:          &joinOnAge,
	}
}

// JoinsOnAge reports whether the join keys include the age bin.
func (j Job) JoinsOnAge() bool {
	return j.JoinOnAge == nil || *j.JoinOnAge
}

// LoadJob reads a YAML job file. Fields left out of the file keep their
// DefaultJob values. An empty path returns the defaults.
func LoadJob(path string) (Job, error) {
	job := DefaultJob()
	if path == "" {
		return job, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job file: %w", err)
	}
	if err := yaml.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("parse job file: %w", err)
	}

	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Validate rejects jobs that cannot produce any output.
func (j Job) Validate() error {
	if j.OutputDir == "" {
		return errors.New("job: output_dir is required")
	}
	if len(j.FluSources) == 0 && len(j.VaccinationSources) == 0 {
		return errors.New("job: at least one flu or vaccination source is required")
	}
	if _, ok := domain.ParseAgeBin(string(j.AgeFallback)); !ok {
		return fmt.Errorf("job: invalid age_fallback %q", j.AgeFallback)
	}
	return nil
}
