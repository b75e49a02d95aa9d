package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultMetricsAddr = ":9090"

	defaultSnapshotTTL = 5 * time.Minute
	defaultCatalogTTL  = 10 * time.Minute
	defaultControlsTTL = time.Hour

	defaultEvidenceFetchWorkers = 10
	defaultRequestTimeout       = 120 * time.Second
)

type Config struct {
	RegistryBaseURL     string
	RegistryTenantID    string
	RegistryAccessToken string

	SnapshotTTL time.Duration
	CatalogTTL  time.Duration
	ControlsTTL time.Duration

	EvidenceFetchWorkers int
	RequestTimeout       time.Duration

	MetricsAddr string
}

type LoadOptions struct {
	RequireRegistry bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireRegistry: true})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		RegistryBaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("REGISTRY_BASE_URL")), "/"),
		RegistryTenantID:     strings.TrimSpace(os.Getenv("REGISTRY_TENANT_ID")),
		RegistryAccessToken:  strings.TrimSpace(os.Getenv("REGISTRY_ACCESS_TOKEN")),
		SnapshotTTL:          defaultSnapshotTTL,
		CatalogTTL:           defaultCatalogTTL,
		ControlsTTL:          defaultControlsTTL,
		EvidenceFetchWorkers: getenvIntDefault("EVIDENCE_FETCH_WORKERS", defaultEvidenceFetchWorkers),
		RequestTimeout:       defaultRequestTimeout,
		MetricsAddr:          getenvDefault("METRICS_ADDR", defaultMetricsAddr),
	}

	if v := os.Getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SnapshotTTL = d
		}
	}
	if v := os.Getenv("CATALOG_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CatalogTTL = d
		}
	}
	if v := os.Getenv("CONTROLS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ControlsTTL = d
		}
	}
	if v := os.Getenv("REGISTRY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RequestTimeout = d
		}
	}

	if cfg.EvidenceFetchWorkers < 1 {
		cfg.EvidenceFetchWorkers = defaultEvidenceFetchWorkers
	}

	if opts.RequireRegistry {
		if cfg.RegistryBaseURL == "" {
			return cfg, errors.New("REGISTRY_BASE_URL is required")
		}
		if cfg.RegistryTenantID == "" {
			return cfg, errors.New("REGISTRY_TENANT_ID is required")
		}
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
