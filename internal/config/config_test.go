package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, defaultSentiwebURL, cfg.SentiwebBaseURL)
	assert.Equal(t, "inc-3-RDD", cfg.SentiwebDataset)
	assert.Equal(t, "inc-3-RDD-ds2", cfg.SentiwebFallbackDataset)
	assert.Equal(t, 20*time.Second, cfg.SentiwebTimeout)
	assert.Equal(t, uint64(3), cfg.SentiwebMaxRetries)
	assert.Equal(t, time.Hour, cfg.SentiwebMinInterval)
	assert.Equal(t, 24*time.Hour, cfg.SentiwebCooldown)
	assert.Equal(t, "data/sentiweb_data.csv", cfg.LocalHistoryPath)
	assert.Equal(t, "data/deptCentroids.json", cfg.CentroidsPath)
	assert.Equal(t, 15*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, domain.Age65Plus, cfg.AgeFallback)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.KafkaEnabled())
	assert.Equal(t, "flu-risk-snapshots", cfg.KafkaTopic)
	assert.False(t, cfg.ChatEnabled())
	assert.Equal(t, "mistral", cfg.OllamaModel)
	assert.Equal(t, 60*time.Second, cfg.ChatTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("SENTIWEB_BASE_URL", "http://localhost:8081/rest")
	t.Setenv("SENTIWEB_DATASET", "inc-25-RDD")
	t.Setenv("SENTIWEB_TIMEOUT", "5s")
	t.Setenv("SENTIWEB_MAX_RETRIES", "5")
	t.Setenv("SENTIWEB_MIN_INTERVAL", "10m")
	t.Setenv("SENTIWEB_COOLDOWN", "2h")
	t.Setenv("REFRESH_INTERVAL", "1m")
	t.Setenv("AGE_FALLBACK", "ALL")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-snapshots")
	t.Setenv("OLLAMA_URL", "http://ollama:11434")
	t.Setenv("OLLAMA_MODEL", "llama3")
	t.Setenv("CHAT_TIMEOUT", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "http://localhost:8081/rest", cfg.SentiwebBaseURL)
	assert.Equal(t, "inc-25-RDD", cfg.SentiwebDataset)
	assert.Equal(t, 5*time.Second, cfg.SentiwebTimeout)
	assert.Equal(t, uint64(5), cfg.SentiwebMaxRetries)
	assert.Equal(t, 10*time.Minute, cfg.SentiwebMinInterval)
	assert.Equal(t, 2*time.Hour, cfg.SentiwebCooldown)
	assert.Equal(t, time.Minute, cfg.RefreshInterval)
	assert.Equal(t, domain.AgeAll, cfg.AgeFallback)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "custom-snapshots", cfg.KafkaTopic)
	assert.True(t, cfg.ChatEnabled())
	assert.Equal(t, "llama3", cfg.OllamaModel)
	assert.Equal(t, 15*time.Second, cfg.ChatTimeout)
}

func TestLoad_FallbackDatasetDisabled(t *testing.T) {
	t.Setenv("SENTIWEB_FALLBACK_DATASET", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.SentiwebFallbackDataset)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration"},
		{"SENTIWEB_TIMEOUT", "bad"},
		{"SENTIWEB_MIN_INTERVAL", "-1s"},
		{"SENTIWEB_COOLDOWN", "0s"},
		{"REFRESH_INTERVAL", "soon"},
		{"CHAT_TIMEOUT", "-5s"},
		{"SENTIWEB_MAX_RETRIES", "0"},
		{"SENTIWEB_MAX_RETRIES", "many"},
		{"AGE_FALLBACK", "senior"},
		{"SENTIWEB_BASE_URL", "not a url"},
		{"OLLAMA_URL", "localhost"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadJob_Defaults(t *testing.T) {
	job, err := LoadJob("")
	require.NoError(t, err)
	assert.Equal(t, "data/processed", job.OutputDir)
	assert.Equal(t, domain.Age65Plus, job.AgeFallback)
	assert.True(t, job.JoinsOnAge())
	assert.Equal(t, "incidence.csv", job.FluSources[0])
}

func TestLoadJob_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	content := `flu_sources:
  - raw/flu.xlsx
output_dir: out
age_fallback: ALL
join_on_age: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	job, err := LoadJob(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"raw/flu.xlsx"}, job.FluSources)
	assert.Equal(t, DefaultJob().VaccinationSources, job.VaccinationSources, "omitted fields keep defaults")
	assert.Equal(t, "out", job.OutputDir)
	assert.Equal(t, domain.AgeAll, job.AgeFallback)
	assert.False(t, job.JoinsOnAge())
}

func TestLoadJob_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadJob(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("age_fallback: elderly\n"), 0o600))
	_, err = LoadJob(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "age_fallback")

	malformed := filepath.Join(dir, "malformed.yaml")
	require.NoError(t, os.WriteFile(malformed, []byte("flu_sources: [unterminated\n"), 0o600))
	_, err = LoadJob(malformed)
	require.Error(t, err)
}
