package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
logging:
  level: debug
  console: true
storage:
  path: ./jobs.db
catalog:
  path: ./catalog.json
drive:
  base_url: https://drive.example.com
  username: user
  password: secret
refresh:
  interval: 20h
  batch_size: 3
  batch_pause: 8s
scheduler:
  sweep_every: 6h
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Drive.BaseURL != "https://drive.example.com" {
		t.Fatalf("drive.base_url = %q", cfg.Drive.BaseURL)
	}
	if cfg.Refresh.Interval != "20h" || cfg.Refresh.BatchSize != 3 {
		t.Fatalf("refresh = %+v", cfg.Refresh)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	body := `{
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"path": "./jobs.db"},
  "catalog": {"path": "./catalog.json"},
  "drive": {"base_url": "https://drive.example.com", "username": "u", "password": "p"},
  "refresh": {},
  "scheduler": {}
}`
	m := NewManager(writeConfig(t, "config.json", body))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validYAML, "scheduler:", "shceduler_typo: {}\nscheduler:", 1)
	m := NewManager(writeConfig(t, "config.yaml", body))
	if _, err := m.Load(); err == nil {
		t.Fatal("unknown top-level key must be rejected")
	}
}

func TestValidateMissingRequired(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validYAML, "path: ./jobs.db", `path: ""`, 1)
	m := NewManager(writeConfig(t, "config.yaml", body))
	_, err := m.Load()
	if err == nil || !strings.Contains(err.Error(), "storage.path") {
		t.Fatalf("err = %v, want storage.path complaint", err)
	}
}

func TestValidateBadDuration(t *testing.T) {
	t.Parallel()
	body := strings.Replace(validYAML, "interval: 20h", "interval: twenty-hours", 1)
	m := NewManager(writeConfig(t, "config.yaml", body))
	_, err := m.Load()
	if err == nil || !strings.Contains(err.Error(), "refresh.interval") {
		t.Fatalf("err = %v, want refresh.interval complaint", err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5)
	if err != nil || d != 5 {
		t.Fatalf("empty = %v, %v; want default", d, err)
	}
	d, err = ParseDurationOrDefault("x", "10s", 5)
	if err != nil || d.Seconds() != 10 {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
}

func TestSummarizeChangeDriveSection(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{}
	newCfg.Drive.Password = "hunter2"
	newCfg.Drive.BaseURL = "https://drive.example.com"

	sections, attrs := SummarizeChange(oldCfg, newCfg)
	if len(sections) != 1 || sections[0] != "drive" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs for the changed section")
	}
}

func TestSummarizeChangeNoChanges(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Refresh.Interval = "20h"
	sections, _ := SummarizeChange(cfg, cfg)
	if len(sections) != 0 {
		t.Fatalf("sections = %v, want none", sections)
	}
}
