package model

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"provider", cfg.Provider, "gmail"},
		{"gmail label", cfg.Gmail.Label, "INBOX"},
		{"imap port", cfg.IMAP.Port, "993"},
		{"summarizer backend", cfg.Summarizer.Backend, "auto"},
		{"poll interval", cfg.Sync.PollIntervalSec, 60},
		{"retention", cfg.Storage.RetentionDays, 30},
		{"transport", cfg.Transport.Mode, "memory"},
		{"http enabled", cfg.HTTP.Enabled, false},
		{"http addr", cfg.HTTP.Addr, "127.0.0.1:8765"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Provider = "imap"
	cfg.IMAP.Host = "imap.example.com"
	cfg.IMAP.Username = "me@example.com"
	cfg.Sync.PollIntervalSec = 300
	cfg.HTTP.Enabled = true

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Provider != "imap" || got.IMAP.Host != "imap.example.com" || got.IMAP.Username != "me@example.com" {
		t.Errorf("provider settings = %q %+v", got.Provider, got.IMAP)
	}
	if got.Sync.PollIntervalSec != 300 {
		t.Errorf("PollIntervalSec = %d, want 300", got.Sync.PollIntervalSec)
	}
	if !got.HTTP.Enabled {
		t.Error("HTTP.Enabled lost on round trip")
	}
	if got.Storage.DBPath != cfg.Storage.DBPath {
		t.Errorf("DBPath = %q, want %q", got.Storage.DBPath, cfg.Storage.DBPath)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("INBOXDIGEST_SYNC_POLL_INTERVAL_SEC", "15")
	t.Setenv("INBOXDIGEST_TRANSPORT_MODE", "nats")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sync.PollIntervalSec != 15 {
		t.Errorf("PollIntervalSec = %d, want 15", cfg.Sync.PollIntervalSec)
	}
	if cfg.Transport.Mode != "nats" {
		t.Errorf("Transport.Mode = %q, want nats", cfg.Transport.Mode)
	}
}
