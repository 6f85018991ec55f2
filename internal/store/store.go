package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/inboxdigest/internal/model"
)

// Code classifies a storage failure for callers on the other side of the
// bus, where Go error values do not survive.
type Code string

const (
	CodeNotInitialized Code = "DB_NOT_INITIALIZED"
	CodeWriteFailed    Code = "DB_WRITE_FAILED"
	CodeReadFailed     Code = "DB_READ_FAILED"
	CodeInvalidPayload Code = "INVALID_PAYLOAD"
	CodeNotFound       Code = "NOT_FOUND"
	CodeUnknown        Code = "UNKNOWN"
)

// CodedError is a storage error tagged with a stable code.
type CodedError struct {
	Code Code
	Op   string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// CodeOf extracts the code from err, or CodeUnknown.
func CodeOf(err error) Code {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUnknown
}

func coded(code Code, op string, err error) error {
	return &CodedError{Code: code, Op: op, Err: err}
}

// Default and maximum page sizes for ListRecent.
const (
	DefaultListLimit = 20
	MaxListLimit     = 500
)

// Stats summarizes what is on disk.
type Stats struct {
	Live    int `json:"live" db:"live"`
	Deleted int `json:"deleted" db:"deleted"`
}

// Store is the persistence interface for processed-message key points.
// Queries exclude soft-deleted rows unless stated otherwise.
type Store interface {
	Initialize(ctx context.Context) error
	UpsertMetadata(ctx context.Context, rec model.KeyPointRecord) error
	UpsertSummary(ctx context.Context, messageID, summary string, tokensUsed int, labels []string) error
	ListRecent(ctx context.Context, limit int) (model.RecentSummaries, error)
	ClearAll(ctx context.Context) error
	Ping(ctx context.Context) error
	SoftDelete(ctx context.Context, messageID string) error
	Exists(ctx context.Context, messageID string, includeDeleted bool) (bool, error)
	SweepRetention(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
