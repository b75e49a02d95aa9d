package config

import (
	"testing"
	"time"
)

func setRegistryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REGISTRY_BASE_URL", "https://registry.example.com/")
	t.Setenv("REGISTRY_TENANT_ID", "tenant-1")
	t.Setenv("REGISTRY_ACCESS_TOKEN", "token")
}

func TestLoadRequiresRegistryURL(t *testing.T) {
	t.Setenv("REGISTRY_BASE_URL", "")
	t.Setenv("REGISTRY_TENANT_ID", "tenant-1")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when REGISTRY_BASE_URL is empty")
	}
}

func TestLoadRequiresTenant(t *testing.T) {
	t.Setenv("REGISTRY_BASE_URL", "https://registry.example.com")
	t.Setenv("REGISTRY_TENANT_ID", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when REGISTRY_TENANT_ID is empty")
	}
}

func TestLoadTrimsTrailingSlash(t *testing.T) {
	setRegistryEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RegistryBaseURL != "https://registry.example.com" {
		t.Fatalf("RegistryBaseURL = %q", cfg.RegistryBaseURL)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRegistryEnv(t)
	t.Setenv("CACHE_TTL", "")
	t.Setenv("EVIDENCE_FETCH_WORKERS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SnapshotTTL != 5*time.Minute {
		t.Fatalf("SnapshotTTL = %v", cfg.SnapshotTTL)
	}
	if cfg.CatalogTTL != 10*time.Minute {
		t.Fatalf("CatalogTTL = %v", cfg.CatalogTTL)
	}
	if cfg.ControlsTTL != time.Hour {
		t.Fatalf("ControlsTTL = %v", cfg.ControlsTTL)
	}
	if cfg.EvidenceFetchWorkers != 10 {
		t.Fatalf("EvidenceFetchWorkers = %d", cfg.EvidenceFetchWorkers)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Fatalf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRegistryEnv(t)
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("CATALOG_CACHE_TTL", "1m")
	t.Setenv("EVIDENCE_FETCH_WORKERS", "4")
	t.Setenv("METRICS_ADDR", "off")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SnapshotTTL != 30*time.Second {
		t.Fatalf("SnapshotTTL = %v", cfg.SnapshotTTL)
	}
	if cfg.CatalogTTL != time.Minute {
		t.Fatalf("CatalogTTL = %v", cfg.CatalogTTL)
	}
	if cfg.EvidenceFetchWorkers != 4 {
		t.Fatalf("EvidenceFetchWorkers = %d", cfg.EvidenceFetchWorkers)
	}
	if cfg.MetricsAddr != "off" {
		t.Fatalf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestLoadIgnoresInvalidOverrides(t *testing.T) {
	setRegistryEnv(t)
	t.Setenv("CACHE_TTL", "soon")
	t.Setenv("EVIDENCE_FETCH_WORKERS", "-2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SnapshotTTL != 5*time.Minute {
		t.Fatalf("SnapshotTTL = %v, want default", cfg.SnapshotTTL)
	}
	if cfg.EvidenceFetchWorkers != 10 {
		t.Fatalf("EvidenceFetchWorkers = %d, want default", cfg.EvidenceFetchWorkers)
	}
}
