package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDurationUnmarshal verifies "5s"-style parsing from YAML and env text.
func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "seconds", raw: "5s", want: 5 * time.Second},
		{name: "minutes", raw: "2m", want: 2 * time.Minute},
		{name: "compound", raw: "1m30s", want: 90 * time.Second},
		{name: "garbage", raw: "soon", wantErr: true},
		{name: "bare number", raw: "45", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Std() != tt.want {
				t.Errorf("expected %v, got %v", tt.want, d.Std())
			}
		})
	}
}

// TestDefaults verifies the documented default values.
func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Pipeline.RoutingThreshold != 0.7 {
		t.Errorf("expected routing threshold 0.7, got %v", cfg.Pipeline.RoutingThreshold)
	}
	if cfg.Pipeline.ExtractionThreshold != 0.7 {
		t.Errorf("expected extraction threshold 0.7, got %v", cfg.Pipeline.ExtractionThreshold)
	}
	if cfg.Pipeline.ContextWindow != 6 {
		t.Errorf("expected context window 6, got %d", cfg.Pipeline.ContextWindow)
	}
	if cfg.Pipeline.UpdateBudget.Std() != 45*time.Second {
		t.Errorf("expected 45s update budget, got %v", cfg.Pipeline.UpdateBudget.Std())
	}
	if cfg.RoutingThreshold() != 0.7 {
		t.Errorf("hot threshold not published, got %v", cfg.RoutingThreshold())
	}
}

// TestLoadYAMLAndEnv verifies file values load and env overrides win.
func TestLoadYAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "teleclerk.yaml")
	raw := `
log_level: debug
telegram:
  token: "123:abc"
pipeline:
  routing_threshold: 0.5
  classify_timeout: 10s
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELECLERK_ROUTING_THRESHOLD", "0.9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.LogLevel)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token not loaded, got %q", cfg.Telegram.Token)
	}
	if cfg.Pipeline.ClassifyTimeout.Std() != 10*time.Second {
		t.Errorf("expected 10s classify timeout, got %v", cfg.Pipeline.ClassifyTimeout.Std())
	}
	if cfg.RoutingThreshold() != 0.9 {
		t.Errorf("env override lost, got %v", cfg.RoutingThreshold())
	}
	// Unset fields keep defaults.
	if cfg.Pipeline.ContextWindow != 6 {
		t.Errorf("default context window lost, got %d", cfg.Pipeline.ContextWindow)
	}
}

// TestLoadMissingFile verifies env-only configuration works without a file.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be fatal: %v", err)
	}
	if cfg.Pipeline.DedupWindow != 1024 {
		t.Errorf("expected default dedup window, got %d", cfg.Pipeline.DedupWindow)
	}
}

// TestValidation verifies out-of-range values are rejected at load time.
func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "threshold above one", yaml: "pipeline:\n  routing_threshold: 1.5\n"},
		{name: "negative threshold", yaml: "pipeline:\n  extraction_threshold: -0.1\n"},
		{name: "zero window", yaml: "pipeline:\n  context_window: 0\n"},
		{name: "negative dedup", yaml: "pipeline:\n  dedup_window: -5\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// TestReload verifies thresholds pick up file edits without a restart.
func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "teleclerk.yaml")
	if err := os.WriteFile(path, []byte("pipeline:\n  routing_threshold: 0.6\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RoutingThreshold() != 0.6 {
		t.Fatalf("expected 0.6, got %v", cfg.RoutingThreshold())
	}

	if err := os.WriteFile(path, []byte("pipeline:\n  routing_threshold: 0.8\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if cfg.RoutingThreshold() != 0.8 {
		t.Errorf("expected 0.8 after reload, got %v", cfg.RoutingThreshold())
	}
}
