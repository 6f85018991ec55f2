// Package sync polls the mailbox incrementally and pushes each new message
// through the filter pipeline.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/model"
)

// Trigger says what started a cycle.
type Trigger string

const (
	TriggerTimer  Trigger = "timer"
	TriggerManual Trigger = "manual"
)

// ErrBusy is returned by SyncNow while another cycle is running.
var ErrBusy = errors.New("sync already in progress")

// Notice levels passed to Publisher.Notice.
const (
	NoticeInfo  = "info"
	NoticeError = "error"
)

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 60 * time.Second

// DefaultTrimInterval is how often the dedup set is trimmed.
const DefaultTrimInterval = 10 * time.Minute

// Processor runs one message through the filter pipeline.
type Processor interface {
	Process(ctx context.Context, rec model.ProcessedMessageRecord, text string) (model.ProcessedMessageRecord, error)
}

// Publisher fans cycle outcomes out to the UI.
type Publisher interface {
	SyncStatus(ctx context.Context, status model.SyncStatus, at time.Time)
	NewEmails(ctx context.Context, batch []model.ProcessedMessageRecord)
	Notice(ctx context.Context, level, text string)
}

// Archiver persists a processed batch beyond the recent list, usually in
// the worker database.
type Archiver interface {
	Archive(ctx context.Context, batch []model.ProcessedMessageRecord) error
}

// Store is the persisted coordinator state the orchestrator needs.
type Store interface {
	Cursor(ctx context.Context) (string, error)
	SetCursor(ctx context.Context, cursor string) error
	SetLastSync(ctx context.Context, t time.Time) error
	SetStatus(ctx context.Context, status model.SyncStatus) error
	PrependRecent(ctx context.Context, batch []model.ProcessedMessageRecord) error
	ClearRecent(ctx context.Context) error
}

// Config tunes an Orchestrator. Zero values select defaults.
type Config struct {
	Interval       time.Duration
	TrimInterval   time.Duration
	DedupHighWater int
	DedupKeep      int
}

// CycleResult describes one completed cycle.
type CycleResult struct {
	Trigger      Trigger
	Bootstrapped bool
	Processed    []model.ProcessedMessageRecord
	Skipped      int
	Failed       int
	Cursor       string
}

// Status is a snapshot for status displays.
type Status struct {
	State     model.SyncStatus `json:"status"`
	LastSync  time.Time        `json:"lastSync"`
	LastError string           `json:"lastError,omitempty"`
	DedupSize int              `json:"dedupSize"`
}

// Orchestrator owns the sync cursor and the dedup set. Cycles never
// overlap: the state check-and-set happens under mu before any I/O.
type Orchestrator struct {
	provider mail.Provider
	pipeline Processor
	store    Store
	pub      Publisher
	archiver Archiver
	dedup    *DedupSet

	trimInterval time.Duration
	triggerCh    chan struct{}
	intervalCh   chan time.Duration
	now          func() time.Time

	mu       gosync.Mutex
	status   model.SyncStatus
	interval time.Duration
	lastSync time.Time
	lastErr  error
}

// New creates an Orchestrator. archiver may be nil.
func New(p mail.Provider, pipeline Processor, st Store, pub Publisher, archiver Archiver, cfg Config) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.TrimInterval <= 0 {
		cfg.TrimInterval = DefaultTrimInterval
	}
	return &Orchestrator{
		provider:     p,
		pipeline:     pipeline,
		store:        st,
		pub:          pub,
		archiver:     archiver,
		dedup:        NewDedupSet(cfg.DedupHighWater, cfg.DedupKeep),
		trimInterval: cfg.TrimInterval,
		triggerCh:    make(chan struct{}, 1),
		intervalCh:   make(chan time.Duration, 1),
		now:          time.Now,
		status:       model.SyncIdle,
		interval:     cfg.Interval,
	}
}

// State returns the current orchestrator state.
func (o *Orchestrator) State() model.SyncStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Status returns a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	s := Status{State: o.status, LastSync: o.lastSync}
	if o.lastErr != nil {
		s.LastError = o.lastErr.Error()
	}
	o.mu.Unlock()
	s.DedupSize = o.dedup.Len()
	return s
}

// Trigger requests a manual cycle from Run without blocking. It returns
// false when the request was dropped because a cycle is running or one is
// already pending.
func (o *Orchestrator) Trigger() bool {
	if o.State() == model.SyncSyncing {
		log.Printf("[sync] manual trigger ignored: cycle in progress")
		return false
	}
	select {
	case o.triggerCh <- struct{}{}:
		return true
	default:
		return false
	}
}

// SetInterval changes the poll interval of a running loop.
func (o *Orchestrator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	o.interval = d
	o.mu.Unlock()
	select {
	case o.intervalCh <- d:
	default:
		// A pending change is replaced by this one.
		select {
		case <-o.intervalCh:
		default:
		}
		select {
		case o.intervalCh <- d:
		default:
		}
	}
}

// ClearHistory forgets the recent list and the dedup set. The cursor is
// kept, so cleared messages are not processed again.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	o.dedup.Reset()
	if err := o.store.ClearRecent(ctx); err != nil {
		return fmt.Errorf("clearing recent records: %w", err)
	}
	log.Printf("[sync] history cleared")
	return nil
}

// Run polls on the configured interval and on manual triggers until ctx
// is done. One timer cycle starts immediately. Cycles run in their own
// goroutine, so a tick that arrives mid-cycle is rejected like any other
// overlapping trigger.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	interval := o.interval
	o.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	trim := time.NewTicker(o.trimInterval)
	defer trim.Stop()

	var wg gosync.WaitGroup
	defer wg.Wait()

	start := func(t Trigger) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = o.SyncNow(ctx, t)
		}()
	}

	start(TriggerTimer)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start(TriggerTimer)
		case <-o.triggerCh:
			start(TriggerManual)
		case d := <-o.intervalCh:
			ticker.Reset(d)
			log.Printf("[sync] poll interval set to %s", d)
		case <-trim.C:
			if n := o.dedup.Trim(); n > 0 {
				log.Printf("[sync] trimmed %d ids from dedup set", n)
			}
		}
	}
}

// SyncNow runs one cycle and returns ErrBusy if one is already running.
func (o *Orchestrator) SyncNow(ctx context.Context, trigger Trigger) (CycleResult, error) {
	o.mu.Lock()
	if o.status == model.SyncSyncing {
		o.mu.Unlock()
		log.Printf("[sync] %s trigger ignored: cycle in progress", trigger)
		return CycleResult{Trigger: trigger}, ErrBusy
	}
	o.status = model.SyncSyncing
	o.mu.Unlock()

	o.publishStatus(ctx, model.SyncSyncing)

	res, err := o.cycle(ctx)
	res.Trigger = trigger

	final := model.SyncIdle
	if err != nil {
		final = model.SyncError
	}
	now := o.now().UTC()

	o.mu.Lock()
	o.status = final
	o.lastErr = err
	if err == nil {
		o.lastSync = now
	}
	o.mu.Unlock()

	if err == nil {
		if serr := o.store.SetLastSync(ctx, now); serr != nil {
			log.Printf("[sync] persisting last sync time: %v", serr)
		}
	}
	o.publishStatus(ctx, final)

	switch {
	case err == nil:
		log.Printf("[sync] %s cycle done: %d processed, %d skipped, %d failed",
			trigger, len(res.Processed), res.Skipped, res.Failed)
	case mail.IsAuthError(err):
		log.Printf("[sync] auth error: %v", err)
	default:
		log.Printf("[sync] %s cycle failed: %v", trigger, err)
	}
	if err != nil && trigger == TriggerManual {
		o.pub.Notice(ctx, NoticeError, fmt.Sprintf("Sync failed: %v", err))
	}
	return res, err
}

func (o *Orchestrator) publishStatus(ctx context.Context, status model.SyncStatus) {
	if err := o.store.SetStatus(ctx, status); err != nil {
		log.Printf("[sync] persisting status: %v", err)
	}
	o.pub.SyncStatus(ctx, status, o.now().UTC())
}

func (o *Orchestrator) cycle(ctx context.Context) (CycleResult, error) {
	cursor, err := o.store.Cursor(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("loading cursor: %w", err)
	}
	if cursor == "" {
		return o.bootstrap(ctx)
	}

	changes, err := o.provider.ChangesSince(ctx, cursor)
	if errors.Is(err, mail.ErrCursorExpired) {
		log.Printf("[sync] cursor %s expired, bootstrapping again", cursor)
		return o.bootstrap(ctx)
	}
	if err != nil {
		return CycleResult{}, fmt.Errorf("fetching changes since %s: %w", cursor, err)
	}

	res := CycleResult{Cursor: cursor}
	var batch []model.ProcessedMessageRecord
	seen := make(map[string]bool, len(changes.AddedIDs))

	// Ids join the dedup set only after the batch is stored and archived.
	for _, id := range changes.AddedIDs {
		if o.dedup.Contains(id) || seen[id] {
			res.Skipped++
			continue
		}
		seen[id] = true
		rec, err := o.processOne(ctx, id)
		if mail.IsAuthError(err) {
			return res, err
		}
		if err != nil {
			log.Printf("[sync] skipping message %s: %v", id, err)
			res.Failed++
			continue
		}
		batch = append(batch, rec)
	}

	if len(batch) > 0 {
		if err := o.store.PrependRecent(ctx, batch); err != nil {
			return res, fmt.Errorf("saving recent records: %w", err)
		}
		if o.archiver != nil {
			if err := o.archiver.Archive(ctx, batch); err != nil {
				return res, fmt.Errorf("archiving batch: %w", err)
			}
		}
		for _, rec := range batch {
			o.dedup.Add(rec.ID)
		}
		res.Processed = batch

		o.pub.NewEmails(ctx, batch)
		o.pub.Notice(ctx, NoticeInfo, newEmailsText(len(batch)))
	}

	// The cursor moves last: anything before it failing replays the same ids.
	if changes.NewCursor != "" && o.provider.CursorAdvances(cursor, changes.NewCursor) {
		if err := o.store.SetCursor(ctx, changes.NewCursor); err != nil {
			return res, fmt.Errorf("saving cursor: %w", err)
		}
		res.Cursor = changes.NewCursor
	}
	return res, nil
}

func (o *Orchestrator) bootstrap(ctx context.Context) (CycleResult, error) {
	cursor, err := o.provider.CurrentCursor(ctx)
	if err != nil {
		return CycleResult{}, fmt.Errorf("reading current cursor: %w", err)
	}
	if err := o.store.SetCursor(ctx, cursor); err != nil {
		return CycleResult{}, fmt.Errorf("saving cursor: %w", err)
	}
	log.Printf("[sync] bootstrapped at cursor %s", cursor)
	return CycleResult{Bootstrapped: true, Cursor: cursor}, nil
}

func (o *Orchestrator) processOne(ctx context.Context, id string) (model.ProcessedMessageRecord, error) {
	msg, err := o.provider.GetMessage(ctx, id)
	if err != nil {
		return model.ProcessedMessageRecord{}, fmt.Errorf("fetching message: %w", err)
	}
	return o.pipeline.Process(ctx, RecordFromMessage(msg), msg.Text())
}

func newEmailsText(n int) string {
	if n == 1 {
		return "1 new email"
	}
	return fmt.Sprintf("%d new emails", n)
}
