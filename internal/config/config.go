package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/flu-risk-etl/internal/domain"
)

const (
	defaultSentiwebURL = "https://www.sentiweb.fr/api/v1/datasets/rest"
	defaultGeoJSONURL  = "https://france-geojson.gregoiredavid.fr/repo/departements.geojson"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Sentiweb upstream and fetch gate.
	SentiwebBaseURL         string
	SentiwebDataset         string
	SentiwebFallbackDataset string
	SentiwebTimeout         time.Duration
	SentiwebMaxRetries      uint64
	SentiwebMinInterval     time.Duration
	SentiwebCooldown        time.Duration
	LocalHistoryPath        string

	// Department geometry.
	GeoJSONURL    string
	CentroidsPath string

	RefreshInterval time.Duration
	AgeFallback     domain.AgeBin

	// Snapshot publishing; disabled when no broker is set.
	KafkaBrokers []string
	KafkaTopic   string

	// Chat completion; disabled when no URL is set.
	OllamaURL   string
	OllamaModel string
	ChatTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	sentiwebTimeout, err := parsePositiveDuration("SENTIWEB_TIMEOUT", "20s")
	if err != nil {
		return nil, err
	}
	minInterval, err := parsePositiveDuration("SENTIWEB_MIN_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}
	cooldown, err := parsePositiveDuration("SENTIWEB_COOLDOWN", "24h")
	if err != nil {
		return nil, err
	}
	refreshInterval, err := parsePositiveDuration("REFRESH_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}
	chatTimeout, err := parsePositiveDuration("CHAT_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}

	maxRetries, err := parseMaxRetries()
	if err != nil {
		return nil, err
	}

	ageFallback, ok := domain.ParseAgeBin(sharedcfg.EnvOrDefault("AGE_FALLBACK", string(domain.Age65Plus)))
	if !ok {
		return nil, errors.New("invalid AGE_FALLBACK")
	}

	fallbackDataset, set := os.LookupEnv("SENTIWEB_FALLBACK_DATASET")
	if !set {
		fallbackDataset = "inc-3-RDD-ds2"
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		SentiwebBaseURL:         sharedcfg.EnvOrDefault("SENTIWEB_BASE_URL", defaultSentiwebURL),
		SentiwebDataset:         sharedcfg.EnvOrDefault("SENTIWEB_DATASET", "inc-3-RDD"),
		SentiwebFallbackDataset: fallbackDataset,
		SentiwebTimeout:         sentiwebTimeout,
		SentiwebMaxRetries:      maxRetries,
		SentiwebMinInterval:     minInterval,
		SentiwebCooldown:        cooldown,
		LocalHistoryPath:        sharedcfg.EnvOrDefault("LOCAL_HISTORY_PATH", "data/sentiweb_data.csv"),

		GeoJSONURL:    sharedcfg.EnvOrDefault("GEOJSON_URL", defaultGeoJSONURL),
		CentroidsPath: sharedcfg.EnvOrDefault("CENTROIDS_PATH", "data/deptCentroids.json"),

		RefreshInterval: refreshInterval,
		AgeFallback:     ageFallback,

		KafkaBrokers: parseOptionalBrokers(),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "flu-risk-snapshots"),

		OllamaURL:   os.Getenv("OLLAMA_URL"),
		OllamaModel: sharedcfg.EnvOrDefault("OLLAMA_MODEL", "mistral"),
		ChatTimeout: chatTimeout,
	}

	for key, raw := range map[string]string{
		"SENTIWEB_BASE_URL": cfg.SentiwebBaseURL,
		"GEOJSON_URL":       cfg.GeoJSONURL,
		"OLLAMA_URL":        cfg.OllamaURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s", key)
		}
	}

	return cfg, nil
}

// KafkaEnabled reports whether snapshot publishing is configured.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// ChatEnabled reports whether a completion endpoint is configured.
func (c *Config) ChatEnabled() bool { return c.OllamaURL != "" }

// parseOptionalBrokers returns nil when KAFKA_BROKERS is unset, which disables publishing.
func parseOptionalBrokers() []string {
	raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if raw == "" {
		return nil
	}
	return sharedcfg.ParseBrokers(raw)
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseMaxRetries() (uint64, error) {
	s := sharedcfg.EnvOrDefault("SENTIWEB_MAX_RETRIES", "3")
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, errors.New("invalid SENTIWEB_MAX_RETRIES")
	}
	return n, nil
}
