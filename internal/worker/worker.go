// Package worker is the secondary execution context: it owns the language
// model and the embedded database and answers coordinator requests over
// the bus, one at a time.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nhle/inboxdigest/internal/audit"
	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/filter"
	"github.com/nhle/inboxdigest/internal/nlp"
	"github.com/nhle/inboxdigest/internal/store"
)

// Analyzer is the language model the worker hosts.
type Analyzer interface {
	Analyze(text string) (nlp.Analysis, error)
	Tag(sentence string) []filter.Token
}

// Audited action names.
const (
	ActionInitializeDB   = "INITIALIZE_DB"
	ActionUpsertMetadata = "UPSERT_METADATA"
	ActionStoreSummary   = "STORE_SUMMARY"
	ActionClearAll       = "CLEAR_ALL_DATA"
	ActionDeleteEmail    = "DELETE_EMAIL_DATA"
	ActionSweepRetention = "SWEEP_RETENTION"
)

// PingStatus is the payload of a successful DB/PING.
type PingStatus struct {
	Ready         bool         `json:"ready"`
	DBInitialized bool         `json:"dbInitialized"`
	Stats         *store.Stats `json:"stats,omitempty"`
}

// SweepResult is the payload of a successful DB/SWEEP_RETENTION.
type SweepResult struct {
	Removed int64 `json:"removed"`
}

// Worker handles coordinator requests.
type Worker struct {
	dbPath   string
	open     func(path string) (store.Store, error)
	analyzer Analyzer
	audit    *audit.Log
	now      func() time.Time

	mu sync.Mutex
	db store.Store
}

// New creates a worker that opens its database at dbPath on the first
// request that needs it.
// analyzer may be nil, in which case the lexicon tagger is used and no
// entities are reported.
func New(dbPath string, analyzer Analyzer, auditLog *audit.Log) *Worker {
	if auditLog == nil {
		auditLog = audit.New(audit.DefaultCapacity)
	}
	return &Worker{
		dbPath:   dbPath,
		open:     func(p string) (store.Store, error) { return store.NewSQLiteStore(p) },
		analyzer: analyzer,
		audit:    auditLog,
		now:      time.Now,
	}
}

// Serve registers the worker on t and returns the func that unregisters it.
func Serve(t bus.Transport, w *Worker) (func(), error) {
	d := bus.NewDispatcher(bus.ActorWorker)
	bus.Serve(d, bus.CoordinatorWorker, bus.WorkerCoordinator, w.Handle)
	stop, err := t.Listen(bus.ActorWorker, d.Handle)
	if err != nil {
		return nil, fmt.Errorf("listening as worker: %w", err)
	}
	return stop, nil
}

// Close releases the database.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

// Handle answers one coordinator request. Storage failures are reported as
// a DB/RESULT with a code, never as a Go error; only messages outside the
// contract produce an error.
func (w *Worker) Handle(ctx context.Context, msg bus.CoordinatorToWorker) (bus.WorkerToCoordinator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	op := string(msg.MessageType())

	switch m := msg.(type) {
	case bus.ProcessEmailMsg:
		return w.processEmail(m), nil
	case bus.InitializeDBMsg:
		return w.initialize(ctx), nil
	case bus.QueueEmailMetadataMsg:
		return w.withDB(op, ActionUpsertMetadata, m.Record.MessageID, func(db store.Store) (any, error) {
			return nil, db.UpsertMetadata(ctx, m.Record)
		}), nil
	case bus.StoreSummaryMsg:
		return w.withDB(op, ActionStoreSummary, m.MessageID, func(db store.Store) (any, error) {
			return nil, db.UpsertSummary(ctx, m.MessageID, m.Summary, m.TokensUsed, m.Labels)
		}), nil
	case bus.ListRecentSummariesMsg:
		return w.withDB(op, "", "", func(db store.Store) (any, error) {
			return db.ListRecent(ctx, m.Limit)
		}), nil
	case bus.ClearAllDataMsg:
		return w.withDB(op, ActionClearAll, "", func(db store.Store) (any, error) {
			return nil, db.ClearAll(ctx)
		}), nil
	case bus.PingMsg:
		return w.ping(ctx), nil
	case bus.DeleteEmailDataMsg:
		return w.withDB(op, ActionDeleteEmail, m.MessageID, func(db store.Store) (any, error) {
			return nil, db.SoftDelete(ctx, m.MessageID)
		}), nil
	case bus.SweepRetentionMsg:
		return w.withDB(op, ActionSweepRetention, "", func(db store.Store) (any, error) {
			if m.OlderThan <= 0 {
				return nil, &store.CodedError{Code: store.CodeInvalidPayload, Op: op,
					Err: errors.New("olderThan must be positive")}
			}
			n, err := db.SweepRetention(ctx, w.now().Add(-m.OlderThan))
			return SweepResult{Removed: n}, err
		}), nil
	case bus.ExportAuditLogMsg:
		return result(w.audit.Entries(), nil), nil
	default:
		return nil, fmt.Errorf("%w: worker has no handler for %s", bus.ErrContractViolation, msg.MessageType())
	}
}

func (w *Worker) processEmail(m bus.ProcessEmailMsg) bus.ProcessedEmailResultMsg {
	out := bus.ProcessedEmailResultMsg{ID: m.ID}
	var opts []filter.Option

	if w.analyzer != nil {
		a, err := w.analyzer.Analyze(m.Text)
		if err != nil {
			log.Printf("[worker] analyzing %s: %v", m.ID, err)
		} else {
			out.Tokens, out.POS, out.Entities = a.Tokens, a.POS, a.Entities
			opts = append(opts, filter.WithEntities(a.Entities))
		}
		opts = append(opts, filter.WithTagger(w.analyzer))
	}

	out.Filter = filter.Classify(m.Text, opts...)
	return out
}

// ensureDB opens the database on first use. A recreated worker therefore
// serves DB requests without a fresh INITIALIZE_DB.
func (w *Worker) ensureDB() error {
	if w.db != nil {
		return nil
	}
	db, err := w.open(w.dbPath)
	if err != nil {
		log.Printf("[worker] opening database %s: %v", w.dbPath, err)
		return err
	}
	w.db = db
	return nil
}

func (w *Worker) initialize(ctx context.Context) bus.DBResultMsg {
	opened := w.db == nil
	err := w.ensureDB()
	if err != nil {
		err = &store.CodedError{Code: store.CodeNotInitialized, Op: string(bus.TypeInitializeDB), Err: err}
	} else if !opened {
		err = w.db.Initialize(ctx)
	}
	w.audit.Record(ActionInitializeDB, "", err, "")
	if err != nil {
		log.Printf("[worker] initializing database %s: %v", w.dbPath, err)
	}
	return result(nil, err)
}

func (w *Worker) ping(ctx context.Context) bus.DBResultMsg {
	status := PingStatus{Ready: true}
	if err := w.ensureDB(); err != nil {
		return result(status, nil)
	}
	status.DBInitialized = true
	if err := w.db.Ping(ctx); err != nil {
		return result(nil, err)
	}
	if st, err := w.db.Stats(ctx); err == nil {
		status.Stats = &st
	}
	return result(status, nil)
}

// withDB runs fn against the database, opening it if needed, and records
// the outcome in the audit log when action is set. op names the request in
// error messages.
func (w *Worker) withDB(op, action, emailID string, fn func(store.Store) (any, error)) bus.DBResultMsg {
	if err := w.ensureDB(); err != nil {
		err = &store.CodedError{Code: store.CodeNotInitialized, Op: op, Err: fmt.Errorf("database not initialized: %w", err)}
		if action != "" {
			w.audit.Record(action, emailID, err, "")
		}
		return result(nil, err)
	}

	data, err := fn(w.db)
	if action != "" {
		w.audit.Record(action, emailID, err, "")
	}
	if err != nil {
		log.Printf("[worker] %s failed: %v", op, err)
	}
	return result(data, err)
}

func result(data any, err error) bus.DBResultMsg {
	if err != nil {
		return bus.DBResultMsg{Success: false, Error: err.Error(), Code: string(store.CodeOf(err))}
	}
	if data == nil {
		return bus.DBResultMsg{Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return bus.DBResultMsg{Success: false, Error: err.Error(), Code: string(store.CodeUnknown)}
	}
	return bus.DBResultMsg{Success: true, Data: raw}
}
