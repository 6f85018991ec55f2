package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/inboxdigest/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: the worker is the only writer, and an in-memory
	// database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Initialize applies pending migrations. It is safe to call repeatedly.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	if err := s.runMigrations(); err != nil {
		return coded(CodeNotInitialized, "initialize", err)
	}
	return nil
}

// flush forces the WAL into the main database file so a write reported as
// successful survives the process being killed.
func (s *SQLiteStore) flush(ctx context.Context, op string) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)"); err != nil {
		return coded(CodeWriteFailed, op, fmt.Errorf("checkpointing wal: %w", err))
	}
	return nil
}

// UpsertMetadata inserts or updates the row keyed on rec.MessageID.
// created_at and deleted_at of an existing row are left alone.
func (s *SQLiteStore) UpsertMetadata(ctx context.Context, rec model.KeyPointRecord) error {
	const op = "upsert metadata"
	if rec.MessageID == "" {
		return coded(CodeInvalidPayload, op, errors.New("message id is required"))
	}

	labels, err := encodeLabels(rec.Labels)
	if err != nil {
		return coded(CodeInvalidPayload, op, err)
	}

	now := s.now().UTC()
	processedAt := rec.ProcessedAt.UTC()
	if rec.ProcessedAt.IsZero() {
		processedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO key_points (
			message_id, thread_id, sender, subject, snippet, summary,
			labels, tokens_used, timestamp, processed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			thread_id    = excluded.thread_id,
			sender       = excluded.sender,
			subject      = excluded.subject,
			snippet      = excluded.snippet,
			summary      = excluded.summary,
			labels       = excluded.labels,
			tokens_used  = excluded.tokens_used,
			timestamp    = excluded.timestamp,
			processed_at = excluded.processed_at,
			updated_at   = excluded.updated_at`,
		rec.MessageID, rec.ThreadID, rec.From, rec.Subject, rec.Snippet, rec.Summary,
		labels, rec.TokensUsed, rec.Timestamp.UTC(), processedAt, now, now,
	)
	if err != nil {
		return coded(CodeWriteFailed, op, fmt.Errorf("upserting %s: %w", rec.MessageID, err))
	}
	return s.flush(ctx, op)
}

// UpsertSummary attaches a summary to a row, creating a bare row when the
// metadata has not arrived yet.
func (s *SQLiteStore) UpsertSummary(
	ctx context.Context,
	messageID, summary string,
	tokensUsed int,
	labels []string,
) error {
	const op = "upsert summary"
	if messageID == "" {
		return coded(CodeInvalidPayload, op, errors.New("message id is required"))
	}

	encoded, err := encodeLabels(labels)
	if err != nil {
		return coded(CodeInvalidPayload, op, err)
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO key_points (
			message_id, summary, labels, tokens_used,
			timestamp, processed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			summary     = excluded.summary,
			labels      = excluded.labels,
			tokens_used = excluded.tokens_used,
			updated_at  = excluded.updated_at`,
		messageID, summary, encoded, tokensUsed,
		time.Time{}.UTC(), now, now, now,
	)
	if err != nil {
		return coded(CodeWriteFailed, op, fmt.Errorf("storing summary for %s: %w", messageID, err))
	}
	return s.flush(ctx, op)
}

type keyPointRow struct {
	MessageID   string       `db:"message_id"`
	ThreadID    string       `db:"thread_id"`
	Sender      string       `db:"sender"`
	Subject     string       `db:"subject"`
	Snippet     string       `db:"snippet"`
	Summary     string       `db:"summary"`
	Labels      string       `db:"labels"`
	TokensUsed  int          `db:"tokens_used"`
	Timestamp   time.Time    `db:"timestamp"`
	ProcessedAt time.Time    `db:"processed_at"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
	DeletedAt   sql.NullTime `db:"deleted_at"`
}

func (r keyPointRow) record() (model.KeyPointRecord, error) {
	rec := model.KeyPointRecord{
		MessageID:   r.MessageID,
		ThreadID:    r.ThreadID,
		From:        r.Sender,
		Subject:     r.Subject,
		Snippet:     r.Snippet,
		Summary:     r.Summary,
		TokensUsed:  r.TokensUsed,
		Timestamp:   r.Timestamp.UTC(),
		ProcessedAt: r.ProcessedAt.UTC(),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		rec.DeletedAt = &t
	}
	if err := json.Unmarshal([]byte(r.Labels), &rec.Labels); err != nil {
		return model.KeyPointRecord{}, fmt.Errorf("unmarshaling labels of %s: %w", r.MessageID, err)
	}
	return rec, nil
}

// ListRecent returns up to limit live rows, newest processed first, with
// the live row count and the newest processed-at time. limit <= 0 selects
// DefaultListLimit; larger than MaxListLimit is capped.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) (model.RecentSummaries, error) {
	const op = "list recent"
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var rows []keyPointRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM key_points
		WHERE deleted_at IS NULL
		ORDER BY processed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return model.RecentSummaries{}, coded(CodeReadFailed, op, fmt.Errorf("querying key points: %w", err))
	}

	out := model.RecentSummaries{Items: make([]model.KeyPointRecord, 0, len(rows))}
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return model.RecentSummaries{}, coded(CodeReadFailed, op, err)
		}
		out.Items = append(out.Items, rec)
	}

	if err := s.db.GetContext(ctx, &out.TotalCount,
		"SELECT COUNT(*) FROM key_points WHERE deleted_at IS NULL"); err != nil {
		return model.RecentSummaries{}, coded(CodeReadFailed, op, fmt.Errorf("counting key points: %w", err))
	}

	var latest time.Time
	err = s.db.GetContext(ctx, &latest, `
		SELECT processed_at FROM key_points
		WHERE deleted_at IS NULL
		ORDER BY processed_at DESC
		LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return model.RecentSummaries{}, coded(CodeReadFailed, op, fmt.Errorf("reading latest processed_at: %w", err))
	default:
		latest = latest.UTC()
		out.LastProcessedAt = &latest
	}

	return out, nil
}

// ClearAll removes every row, including soft-deleted ones.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	const op = "clear all"
	if _, err := s.db.ExecContext(ctx, "DELETE FROM key_points"); err != nil {
		return coded(CodeWriteFailed, op, fmt.Errorf("deleting key points: %w", err))
	}
	return s.flush(ctx, op)
}

// Ping checks that the database answers queries.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return coded(CodeReadFailed, "ping", err)
	}
	return nil
}

// SoftDelete marks a row deleted. Deleting an already deleted row keeps
// its original deleted_at and succeeds; an unknown id is NOT_FOUND.
func (s *SQLiteStore) SoftDelete(ctx context.Context, messageID string) error {
	const op = "soft delete"
	if messageID == "" {
		return coded(CodeInvalidPayload, op, errors.New("message id is required"))
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE key_points
		SET deleted_at = COALESCE(deleted_at, ?), updated_at = ?
		WHERE message_id = ?`, now, now, messageID)
	if err != nil {
		return coded(CodeWriteFailed, op, fmt.Errorf("deleting %s: %w", messageID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return coded(CodeWriteFailed, op, err)
	}
	if n == 0 {
		return coded(CodeNotFound, op, fmt.Errorf("message %s not found", messageID))
	}
	return s.flush(ctx, op)
}

// Exists reports whether a row exists for messageID.
func (s *SQLiteStore) Exists(ctx context.Context, messageID string, includeDeleted bool) (bool, error) {
	query := "SELECT COUNT(*) FROM key_points WHERE message_id = ?"
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	var n int
	if err := s.db.GetContext(ctx, &n, query, messageID); err != nil {
		return false, coded(CodeReadFailed, "exists", err)
	}
	return n > 0, nil
}

// SweepRetention hard-deletes soft-deleted rows whose deleted_at is before
// cutoff and live rows processed before cutoff. It returns the number of
// rows removed.
func (s *SQLiteStore) SweepRetention(ctx context.Context, cutoff time.Time) (int64, error) {
	const op = "sweep retention"
	cutoff = cutoff.UTC()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM key_points
		WHERE (deleted_at IS NOT NULL AND deleted_at < ?)
		   OR (deleted_at IS NULL AND processed_at < ?)`, cutoff, cutoff)
	if err != nil {
		return 0, coded(CodeWriteFailed, op, fmt.Errorf("deleting expired rows: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, coded(CodeWriteFailed, op, err)
	}
	return n, s.flush(ctx, op)
}

// Stats counts live and soft-deleted rows.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `
		SELECT
			COALESCE(SUM(CASE WHEN deleted_at IS NULL THEN 1 ELSE 0 END), 0) AS live,
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0) AS deleted
		FROM key_points`)
	if err != nil {
		return Stats{}, coded(CodeReadFailed, "stats", err)
	}
	return st, nil
}

func encodeLabels(labels []string) (string, error) {
	if labels == nil {
		labels = []string{}
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("marshaling labels: %w", err)
	}
	return string(b), nil
}
