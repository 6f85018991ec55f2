package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhle/inboxdigest/internal/model"
)

func backends(t *testing.T) map[string]KV {
	t.Helper()

	sq, err := NewSQLiteKV(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sq.Close() })

	kvs := map[string]KV{
		"memory": NewMemoryKV(),
		"sqlite": sq,
	}

	// Set INBOXDIGEST_TEST_NATS=nats://127.0.0.1:4222 to include JetStream.
	if url := os.Getenv("INBOXDIGEST_TEST_NATS"); url != "" {
		js, err := DialJetStreamKV(context.Background(), url, fmt.Sprintf("test_%d", time.Now().UnixNano()))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { js.Close() })
		kvs["jetstream"] = js
	}
	return kvs
}

func TestKVContract(t *testing.T) {
	ctx := context.Background()
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get missing = %v, want ErrNotFound", err)
			}
			if err := kv.Put(ctx, "k", []byte("v1")); err != nil {
				t.Fatal(err)
			}
			if err := kv.Put(ctx, "k", []byte("v2")); err != nil {
				t.Fatal(err)
			}
			got, err := kv.Get(ctx, "k")
			if err != nil || string(got) != "v2" {
				t.Fatalf("Get = %q, %v", got, err)
			}
			if err := kv.Delete(ctx, "k"); err != nil {
				t.Fatal(err)
			}
			if _, err := kv.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete = %v", err)
			}
			if err := kv.Delete(ctx, "k"); err != nil {
				t.Errorf("second Delete = %v", err)
			}
		})
	}
}

func TestStateDefaults(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV(), 0)

	if c, err := s.Cursor(ctx); c != "" || err != nil {
		t.Errorf("Cursor = %q, %v", c, err)
	}
	if st, _ := s.Status(ctx); st != model.SyncIdle {
		t.Errorf("Status = %q", st)
	}
	if on, _ := s.NLPStorageEnabled(ctx); !on {
		t.Error("NLP storage should default to enabled")
	}
	if _, ok, _ := s.LastSync(ctx); ok {
		t.Error("LastSync should be unset")
	}
	if recs, _ := s.Recent(ctx); len(recs) != 0 {
		t.Errorf("Recent = %v", recs)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV(), 0)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := s.SetCursor(ctx, "4711"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetLastSync(ctx, now); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, model.SyncError); err != nil {
		t.Fatal(err)
	}
	if err := s.SetNLPStorage(ctx, false); err != nil {
		t.Fatal(err)
	}

	if c, _ := s.Cursor(ctx); c != "4711" {
		t.Errorf("Cursor = %q", c)
	}
	if got, ok, _ := s.LastSync(ctx); !ok || !got.Equal(now) {
		t.Errorf("LastSync = %v, %v", got, ok)
	}
	if st, _ := s.Status(ctx); st != model.SyncError {
		t.Errorf("Status = %q", st)
	}
	if on, _ := s.NLPStorageEnabled(ctx); on {
		t.Error("NLP storage should be disabled")
	}

	if err := s.ResetCursor(ctx); err != nil {
		t.Fatal(err)
	}
	if c, _ := s.Cursor(ctx); c != "" {
		t.Errorf("Cursor after reset = %q", c)
	}
}

func ids(recs []model.ProcessedMessageRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestRecentIsBoundedNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemoryKV(), 3)

	batch := func(ids ...string) []model.ProcessedMessageRecord {
		out := make([]model.ProcessedMessageRecord, len(ids))
		for i, id := range ids {
			out[i] = model.ProcessedMessageRecord{ID: id}
		}
		return out
	}

	if err := s.PrependRecent(ctx, batch("a", "b")); err != nil {
		t.Fatal(err)
	}
	if err := s.PrependRecent(ctx, batch("c", "a")); err != nil {
		t.Fatal(err)
	}
	recs, _ := s.Recent(ctx)
	if got := fmt.Sprint(ids(recs)); got != "[c a b]" {
		t.Errorf("Recent = %s", got)
	}

	if err := s.PrependRecent(ctx, batch("d")); err != nil {
		t.Fatal(err)
	}
	recs, _ = s.Recent(ctx)
	if got := fmt.Sprint(ids(recs)); got != "[d c a]" {
		t.Errorf("Recent after cap = %s", got)
	}

	if found, _ := s.RemoveRecent(ctx, "c"); !found {
		t.Error("RemoveRecent(c) not found")
	}
	if found, _ := s.RemoveRecent(ctx, "zzz"); found {
		t.Error("RemoveRecent(zzz) found")
	}
	recs, _ = s.Recent(ctx)
	if got := fmt.Sprint(ids(recs)); got != "[d a]" {
		t.Errorf("Recent after remove = %s", got)
	}

	if err := s.ClearRecent(ctx); err != nil {
		t.Fatal(err)
	}
	if recs, _ := s.Recent(ctx); len(recs) != 0 {
		t.Errorf("Recent after clear = %v", recs)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	kv, err := Open(ctx, "memory://")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := kv.(*MemoryKV); !ok {
		t.Errorf("memory:// opened %T", kv)
	}

	kv, err = Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()
	if _, ok := kv.(*SQLiteKV); !ok {
		t.Errorf("sqlite:// opened %T", kv)
	}

	for _, bad := range []string{"", "state.db", "redis://localhost", "sqlite://"} {
		if _, err := Open(ctx, bad); err == nil {
			t.Errorf("Open(%q) succeeded", bad)
		}
	}
}
