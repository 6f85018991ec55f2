package app

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/99designs/keyring"

	"github.com/nhle/inboxdigest/internal/credential"
	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/model"
	isync "github.com/nhle/inboxdigest/internal/sync"
)

type inbox struct{}

func (inbox) CurrentCursor(context.Context) (string, error) { return "100", nil }

func (inbox) ChangesSince(context.Context, string) (mail.Changes, error) {
	return mail.Changes{AddedIDs: []string{"m1"}, NewCursor: "101"}, nil
}

func (inbox) GetMessage(_ context.Context, id string) (*mail.Message, error) {
	return &mail.Message{
		ID: id,
		Headers: []mail.Header{
			{Name: "Subject", Value: "Quarterly numbers"},
			{Name: "From", Value: "Sarah <sarah@example.com>"},
		},
		Body: "Hi team,\nPlease send your quarterly numbers by Friday.\nThanks!",
	}, nil
}

func (inbox) CursorAdvances(prev, next string) bool { return mail.NumericCursorAdvances(prev, next) }

func testConfig(t *testing.T) *model.AppConfig {
	return &model.AppConfig{
		Provider:   "imap",
		Summarizer: model.SummarizerConfig{Backend: "none"},
		Sync:       model.SyncConfig{PollIntervalSec: 60, RecentLimit: 10},
		Storage: model.StorageConfig{
			DBPath:        filepath.Join(t.TempDir(), "keypoints.db"),
			StateDSN:      "memory://",
			RetentionDays: 30,
			AuditCapacity: 100,
		},
		Transport: model.TransportConfig{Mode: "memory"},
	}
}

func testCreds() *credential.Store {
	return credential.NewStore(keyring.NewArrayKeyring(nil))
}

func TestBuildAndSyncInMemory(t *testing.T) {
	ctx := context.Background()

	a, err := Build(ctx, testConfig(t), WithProvider(inbox{}), WithCredentials(testCreds()))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}

	orch := a.Coordinator.Orchestrator()
	if _, err := orch.SyncNow(ctx, isync.TriggerManual); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	res, err := orch.SyncNow(ctx, isync.TriggerManual)
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if len(res.Processed) != 1 {
		t.Fatalf("processed %d, want 1", len(res.Processed))
	}

	stored, err := a.Coordinator.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TotalCount != 1 || stored.Items[0].MessageID != "m1" {
		t.Errorf("stored = %+v", stored)
	}

	recent, err := a.State.Recent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Subject != "Quarterly numbers" {
		t.Errorf("recent = %+v", recent)
	}
}

func TestBuildRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.AppConfig)
	}{
		{"unknown transport", func(c *model.AppConfig) { c.Transport.Mode = "carrier-pigeon" }},
		{"unknown state backend", func(c *model.AppConfig) { c.Storage.StateDSN = "redis://localhost" }},
		{"unknown summarizer", func(c *model.AppConfig) { c.Summarizer.Backend = "gpt" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if _, err := Build(context.Background(), cfg, WithProvider(inbox{}), WithCredentials(testCreds())); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewProvider(t *testing.T) {
	t.Setenv(EnvIMAPPassword, "")

	cfg := testConfig(t)
	cfg.IMAP = model.IMAPConfig{Host: "imap.example.com", Port: "993", Username: "me", TLS: true, Mailbox: "INBOX"}

	_, err := NewProvider(context.Background(), cfg, testCreds())
	if !mail.IsAuthError(err) {
		t.Fatalf("missing password: err = %v, want auth error", err)
	}

	t.Setenv(EnvIMAPPassword, "hunter2")
	p, err := NewProvider(context.Background(), cfg, testCreds())
	if err != nil || p == nil {
		t.Fatalf("NewProvider = %v, %v", p, err)
	}

	cfg.Provider = "gmail"
	if _, err := NewProvider(context.Background(), cfg, nil); err == nil {
		t.Error("gmail without keyring should fail")
	}

	cfg.Provider = "pop3"
	if _, err := NewProvider(context.Background(), cfg, testCreds()); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestWorkerArgs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Transport = model.TransportConfig{Mode: "nats", NATSURL: "nats://127.0.0.1:4222", SubjectPrefix: "digest"}

	got := WorkerArgs(cfg)
	want := []string{
		"-nats", "nats://127.0.0.1:4222",
		"-prefix", "digest",
		"-db", cfg.Storage.DBPath,
		"-audit", "100",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("WorkerArgs = %v, want %v", got, want)
	}
}
