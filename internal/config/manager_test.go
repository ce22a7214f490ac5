package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "15s"
logging:
  level: DEBUG
  console: true
  file:
    enabled: false
    path: ""
google:
  credentials_file: "./credentials.json"
storage:
  path: "./planman.db"
reminder:
  enabled: true
  interval: "5m"
  default_offset: 15
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.Reminder.Enabled || cfg.Reminder.Interval != "5m" {
		t.Fatalf("reminder section not decoded: %+v", cfg.Reminder)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() should return the committed snapshot")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  totally_unknown_key: true
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json",
		`{"telegram":{"token":"t"},"logging":{"level":"INFO","console":true,"file":{"enabled":false,"path":""}},"google":{"credentials_file":"c.json"},"storage":{"path":"db"},"reminder":{"enabled":false}}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Google.CredentialsFile != "c.json" {
		t.Fatalf("google section not decoded: %+v", cfg.Google)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "5m", want: 5 * time.Minute},
		{raw: " 30s ", want: 30 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "banana", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): expected error", tt.raw)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDurationField(%q) = (%v, %v), want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("test.field", "", 10*time.Second)
	if err != nil || got != 10*time.Second {
		t.Fatalf("default not applied: (%v, %v)", got, err)
	}
	got, err = ParseDurationOrDefault("test.field", "2m", 10*time.Second)
	if err != nil || got != 2*time.Minute {
		t.Fatalf("explicit value ignored: (%v, %v)", got, err)
	}
}
