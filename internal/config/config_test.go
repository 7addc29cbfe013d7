package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PLANTAO_API_URL", "https://backend.example.com")
	t.Setenv("STORE_PATH", t.TempDir()+"/store")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != "file" {
		t.Errorf("StoreBackend = %q, want file", cfg.StoreBackend)
	}
	if cfg.GracePeriod != 3*time.Second {
		t.Errorf("GracePeriod = %v, want 3s", cfg.GracePeriod)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.SafeModeDuration != 30*time.Minute {
		t.Errorf("SafeModeDuration = %v, want 30m", cfg.SafeModeDuration)
	}
	if cfg.HealthURL != "https://backend.example.com/rest/v1/" {
		t.Errorf("HealthURL = %q", cfg.HealthURL)
	}
	if !strings.HasSuffix(cfg.ResponseCacheDir, ".responses") {
		t.Errorf("ResponseCacheDir = %q, want derived from store path", cfg.ResponseCacheDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/plantao")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SESSION_MAX_WAIT", "45s")
	t.Setenv("SHIFTS_TTL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxWait != 45*time.Second {
		t.Errorf("MaxWait = %v, want 45s", cfg.MaxWait)
	}
	if cfg.ShiftsTTL != 24*time.Hour {
		t.Errorf("ShiftsTTL = %v, want fallback 24h", cfg.ShiftsTTL)
	}
	if cfg.ResponseCacheDir != "" {
		t.Errorf("ResponseCacheDir = %q, want empty for memory store", cfg.ResponseCacheDir)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"no backend", map[string]string{}, "PLANTAO_API_URL or DATABASE_URL"},
		{"bad store", map[string]string{"PLANTAO_API_URL": "http://x", "STORE_BACKEND": "redis"}, "unknown STORE_BACKEND"},
		{"bad key", map[string]string{"PLANTAO_API_URL": "http://x", "STORE_KEY": "zz"}, "hex"},
		{"short key", map[string]string{"PLANTAO_API_URL": "http://x", "STORE_KEY": "abcd"}, "32 bytes"},
		{"s3 without endpoint", map[string]string{"PLANTAO_API_URL": "http://x", "S3_BUCKET": "lic"}, "S3_ENDPOINT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PLANTAO_API_URL", "")
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want containing %q", err, tt.want)
			}
		})
	}
}
