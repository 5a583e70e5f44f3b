package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
environment: production
metadata:
  driver: sqlite
  sqlitepath: ":memory:"
storage:
  endpoint: http://127.0.0.1:9000
  buckets:
    original: o
    cropped: c
    pending: p
pipeline:
  maxfiles: 6
  writetimeout: 2s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "production" {
		t.Fatalf("expected production, got %q", cfg.Environment)
	}
	if cfg.Storage.Buckets != (BucketConfig{Original: "o", Cropped: "c", Pending: "p"}) {
		t.Fatalf("unexpected buckets %+v", cfg.Storage.Buckets)
	}
	if cfg.Pipeline.MaxFiles != 6 || cfg.Pipeline.WriteTimeout != 2*time.Second {
		t.Fatalf("unexpected pipeline config %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.WriteAttempts != 3 {
		t.Fatalf("expected default write attempts, got %d", cfg.Pipeline.WriteAttempts)
	}
	if cfg.Signing.TTL != time.Hour {
		t.Fatalf("expected default signing ttl, got %v", cfg.Signing.TTL)
	}
	if cfg.Derive.CropSize != 200 {
		t.Fatalf("expected crop size 200, got %d", cfg.Derive.CropSize)
	}
	if cfg.Postgres.ApplicationName != "framestack" || cfg.Postgres.StatementTimeout != 15*time.Second {
		t.Fatalf("unexpected postgres defaults %+v", cfg.Postgres)
	}
	if cfg.Telemetry.Endpoint != "" || cfg.Telemetry.ServiceName != "framestack" || cfg.Telemetry.SampleRatio != 1 {
		t.Fatalf("unexpected telemetry defaults %+v", cfg.Telemetry)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("environment: development\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FRAMESTACK_STORAGE_BUCKETS_PENDING", "pending-from-env")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Buckets.Pending != "pending-from-env" {
		t.Fatalf("expected env override, got %q", cfg.Storage.Buckets.Pending)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := AppConfig{
		Metadata: MetadataConfig{Driver: "mysql"},
		Storage:  StorageConfig{Buckets: BucketConfig{Original: "o", Cropped: "c", Pending: "p"}},
		Pipeline: PipelineConfig{MaxFiles: 1, WriteAttempts: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
	cfg.Metadata.Driver = "sqlite"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Storage.Buckets.Cropped = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestValidateSampleRatio(t *testing.T) {
	tests := []struct {
		ratio   float64
		wantErr bool
	}{
		{ratio: 0},
		{ratio: 0.25},
		{ratio: 1},
		{ratio: -0.1, wantErr: true},
		{ratio: 1.5, wantErr: true},
	}
	for _, tt := range tests {
		cfg := AppConfig{
			Metadata:  MetadataConfig{Driver: "sqlite"},
			Storage:   StorageConfig{Buckets: BucketConfig{Original: "o", Cropped: "c", Pending: "p"}},
			Pipeline:  PipelineConfig{MaxFiles: 1, WriteAttempts: 1},
			Telemetry: TelemetryConfig{SampleRatio: tt.ratio},
		}
		err := cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Fatalf("ratio %v: expected error=%v, got %v", tt.ratio, tt.wantErr, err)
		}
	}
}
