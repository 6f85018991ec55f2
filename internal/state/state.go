package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nhle/inboxdigest/internal/model"
)

const (
	keyCursor     = "sync_cursor"
	keyLastSync   = "last_sync"
	keyStatus     = "sync_status"
	keyRecent     = "recent_records"
	keyNLPStorage = "nlp_storage_enabled"
)

// DefaultRecentMax bounds the recent-records list.
const DefaultRecentMax = 50

// State is the typed view over a KV backend.
type State struct {
	kv        KV
	recentMax int

	// mu serializes read-modify-write of the recent list.
	mu sync.Mutex
}

// New wraps kv. recentMax <= 0 selects DefaultRecentMax.
func New(kv KV, recentMax int) *State {
	if recentMax <= 0 {
		recentMax = DefaultRecentMax
	}
	return &State{kv: kv, recentMax: recentMax}
}

// Close closes the backend.
func (s *State) Close() error { return s.kv.Close() }

// Cursor returns the stored sync cursor, or "" before the first sync.
func (s *State) Cursor(ctx context.Context) (string, error) {
	b, err := s.kv.Get(ctx, keyCursor)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetCursor stores the sync cursor.
func (s *State) SetCursor(ctx context.Context, cursor string) error {
	return s.kv.Put(ctx, keyCursor, []byte(cursor))
}

// ResetCursor forgets the sync cursor so the next cycle bootstraps.
func (s *State) ResetCursor(ctx context.Context) error {
	return s.kv.Delete(ctx, keyCursor)
}

// LastSync returns the time of the last completed cycle. ok is false if
// no cycle ever completed.
func (s *State) LastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	b, err := s.kv.Get(ctx, keyLastSync)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, string(b))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing last sync time: %w", err)
	}
	return t, true, nil
}

// SetLastSync records the completion time of a cycle.
func (s *State) SetLastSync(ctx context.Context, t time.Time) error {
	return s.kv.Put(ctx, keyLastSync, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// Status returns the persisted orchestrator status, idle by default.
func (s *State) Status(ctx context.Context) (model.SyncStatus, error) {
	b, err := s.kv.Get(ctx, keyStatus)
	if errors.Is(err, ErrNotFound) {
		return model.SyncIdle, nil
	}
	if err != nil {
		return model.SyncIdle, err
	}
	return model.SyncStatus(b), nil
}

// SetStatus persists the orchestrator status.
func (s *State) SetStatus(ctx context.Context, status model.SyncStatus) error {
	return s.kv.Put(ctx, keyStatus, []byte(status))
}

// NLPStorageEnabled reports whether processed records are written to the
// worker database. It defaults to true.
func (s *State) NLPStorageEnabled(ctx context.Context) (bool, error) {
	b, err := s.kv.Get(ctx, keyNLPStorage)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	enabled, err := strconv.ParseBool(string(b))
	if err != nil {
		return true, fmt.Errorf("parsing nlp storage flag: %w", err)
	}
	return enabled, nil
}

// SetNLPStorage stores the NLP storage toggle.
func (s *State) SetNLPStorage(ctx context.Context, enabled bool) error {
	return s.kv.Put(ctx, keyNLPStorage, []byte(strconv.FormatBool(enabled)))
}

// Recent returns the recent records, newest first.
func (s *State) Recent(ctx context.Context) ([]model.ProcessedMessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent(ctx)
}

func (s *State) recent(ctx context.Context) ([]model.ProcessedMessageRecord, error) {
	b, err := s.kv.Get(ctx, keyRecent)
	if errors.Is(err, ErrNotFound) {
		return []model.ProcessedMessageRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	var recs []model.ProcessedMessageRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decoding recent records: %w", err)
	}
	return recs, nil
}

func (s *State) putRecent(ctx context.Context, recs []model.ProcessedMessageRecord) error {
	b, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encoding recent records: %w", err)
	}
	return s.kv.Put(ctx, keyRecent, b)
}

// PrependRecent puts batch (in its own order) ahead of the stored records,
// replacing older copies of the same ids, and trims to the configured
// maximum.
func (s *State) PrependRecent(ctx context.Context, batch []model.ProcessedMessageRecord) error {
	if len(batch) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.recent(ctx)
	if err != nil {
		return err
	}

	inBatch := make(map[string]bool, len(batch))
	for _, r := range batch {
		inBatch[r.ID] = true
	}
	merged := make([]model.ProcessedMessageRecord, 0, len(batch)+len(old))
	merged = append(merged, batch...)
	for _, r := range old {
		if !inBatch[r.ID] {
			merged = append(merged, r)
		}
	}
	if len(merged) > s.recentMax {
		merged = merged[:s.recentMax]
	}
	return s.putRecent(ctx, merged)
}

// RemoveRecent drops one record by id. It reports whether it was present.
func (s *State) RemoveRecent(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.recent(ctx)
	if err != nil {
		return false, err
	}
	out := recs[:0]
	found := false
	for _, r := range recs {
		if r.ID == id {
			found = true
			continue
		}
		out = append(out, r)
	}
	if !found {
		return false, nil
	}
	return true, s.putRecent(ctx, out)
}

// ClearRecent empties the recent list.
func (s *State) ClearRecent(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(ctx, keyRecent)
}
