package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.MaxDurationMinutes != 8.0 {
		t.Fatalf("expected default max duration 8, got %v", cfg.Pipeline.MaxDurationMinutes)
	}
	if cfg.Pipeline.Engine != "faster-whisper-base" {
		t.Fatalf("expected default engine, got %q", cfg.Pipeline.Engine)
	}
	if strings.HasPrefix(cfg.Store.Path, "~") {
		t.Fatalf("expected store path to be expanded, got %q", cfg.Store.Path)
	}
}

func TestLoadFile(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "memo.yaml")
	data := `
store:
  path: ` + filepath.Join(tmp, "memo.db") + `
source:
  mode: directory
  recordings_dir: ` + tmp + `
pipeline:
  max_duration_minutes: 2.5
  skip_missing: false
export:
  format: md
stt:
  mode: exec
  command: whisper-cli --json
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Source.Mode != "directory" {
		t.Fatalf("expected directory source, got %q", cfg.Source.Mode)
	}
	if cfg.Pipeline.MaxDurationMinutes != 2.5 || cfg.Pipeline.SkipMissing {
		t.Fatalf("unexpected pipeline config: %+v", cfg.Pipeline)
	}
	if cfg.Export.Format != "md" {
		t.Fatalf("expected md format, got %q", cfg.Export.Format)
	}
	if cfg.STT.Command != "whisper-cli --json" {
		t.Fatalf("unexpected stt command %q", cfg.STT.Command)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MEMO_STORE_PATH", "./tmp.db")
	t.Setenv("MEMO_STORE_VACUUM_ON_START", "true")
	t.Setenv("MEMO_PIPELINE_MAX_DURATION_MINUTES", "12.5")
	t.Setenv("MEMO_PIPELINE_SKIP_MISSING", "false")
	t.Setenv("MEMO_PIPELINE_ENGINE", "whisper-small")
	t.Setenv("MEMO_EXPORT_FORMAT", "json")
	t.Setenv("MEMO_BUS_ENABLED", "true")
	t.Setenv("MEMO_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("MEMO_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("MEMO_TELEMETRY_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Path != "./tmp.db" {
		t.Fatalf("expected store path override, got %q", cfg.Store.Path)
	}
	if !cfg.Store.VacuumOnStart {
		t.Fatal("expected vacuum flag override")
	}
	if cfg.Pipeline.MaxDurationMinutes != 12.5 {
		t.Fatalf("expected max duration override, got %v", cfg.Pipeline.MaxDurationMinutes)
	}
	if cfg.Pipeline.SkipMissing {
		t.Fatal("expected skip missing override false")
	}
	if cfg.Pipeline.Engine != "whisper-small" {
		t.Fatalf("expected engine override")
	}
	if cfg.Export.Format != "json" {
		t.Fatalf("expected export format override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"source mode":  func(c *Config) { c.Source.Mode = "icloud" },
		"max duration": func(c *Config) { c.Pipeline.MaxDurationMinutes = 0 },
		"format":       func(c *Config) { c.Export.Format = "docx" },
		"status":       func(c *Config) { c.Export.Status = "pending" },
		"exec command": func(c *Config) { c.STT.Mode = "exec"; c.STT.Command = "" },
		"stt mode":     func(c *Config) { c.STT.Mode = "cloud" },
		"bus port": func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Embedded = true
			c.Bus.Port = 0
		},
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/data/x.db"); got != filepath.Join(home, "data/x.db") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := ExpandHome("/abs/x.db"); got != "/abs/x.db" {
		t.Fatalf("absolute path changed: %q", got)
	}
}
