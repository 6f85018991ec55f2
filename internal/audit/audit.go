// Package audit keeps an in-memory, capped log of storage mutations.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/inboxdigest/internal/model"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 1000

// Log is an append-only ring of audit entries. When full, the oldest entry
// is evicted.
type Log struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
	max     int
	now     func() time.Time
}

// New creates a log holding at most max entries.
func New(max int) *Log {
	if max <= 0 {
		max = DefaultCapacity
	}
	return &Log{
		entries: make([]model.AuditLogEntry, 0, min(max, 64)),
		max:     max,
		now:     time.Now,
	}
}

// Record appends the outcome of action. A nil err records success.
func (l *Log) Record(action, emailID string, err error, details string) {
	entry := model.AuditLogEntry{
		ID:      uuid.New().String(),
		Action:  action,
		EmailID: emailID,
		Result:  model.AuditSuccess,
		Details: details,
	}
	if err != nil {
		entry.Result = model.AuditError
		if entry.Details == "" {
			entry.Details = err.Error()
		} else {
			entry.Details = fmt.Sprintf("%s: %v", details, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Timestamp = l.now().UTC()
	l.entries = append(l.entries, entry)
	if excess := len(l.entries) - l.max; excess > 0 {
		l.entries = append(l.entries[:0], l.entries[excess:]...)
	}
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []model.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]model.AuditLogEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Reset clears all entries.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Export renders the log as a JSON array.
func (l *Log) Export() ([]byte, error) {
	b, err := json.Marshal(l.Entries())
	if err != nil {
		return nil, fmt.Errorf("exporting audit log: %w", err)
	}
	return b, nil
}
