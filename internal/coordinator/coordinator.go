// Package coordinator is the long-lived core: it owns the sync
// orchestrator, talks to the worker through the isolation manager, and
// answers the UI over the bus.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/filter"
	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/state"
	"github.com/nhle/inboxdigest/internal/summarizer"
	isync "github.com/nhle/inboxdigest/internal/sync"
	"github.com/nhle/inboxdigest/internal/worker"
)

// Defaults for the retention sweep.
const (
	DefaultRetention  = 30 * 24 * time.Hour
	DefaultSweepEvery = 24 * time.Hour
)

// Health values reported in PRIVACY_STATUS.
const (
	HealthOK          = "ok"
	HealthDegraded    = "degraded"
	HealthUnavailable = "unavailable"
)

// Config tunes a Coordinator.
type Config struct {
	Sync       isync.Config
	Retention  time.Duration
	SweepEvery time.Duration
}

// Coordinator wires the orchestrator to the bus and the worker.
type Coordinator struct {
	transport bus.Transport
	worker    *worker.Client
	state     *state.State
	orch      *isync.Orchestrator

	retention  time.Duration
	sweepEvery time.Duration
}

// New builds a coordinator. Stage 1 of the filter runs in the worker
// behind client; stage2 runs here.
func New(
	t bus.Transport,
	provider mail.Provider,
	client *worker.Client,
	stage2 filter.Stage2,
	st *state.State,
	cfg Config,
) *Coordinator {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = DefaultSweepEvery
	}

	c := &Coordinator{
		transport:  t,
		worker:     client,
		state:      st,
		retention:  cfg.Retention,
		sweepEvery: cfg.SweepEvery,
	}
	pipeline := filter.NewPipeline(client, stage2, summarizer.EstimateTokens)
	c.orch = isync.New(provider, pipeline, st, &uiPublisher{t: t}, &workerArchiver{client: client, state: st}, cfg.Sync)
	return c
}

// Orchestrator exposes the sync orchestrator.
func (c *Coordinator) Orchestrator() *isync.Orchestrator { return c.orch }

// SyncStatus snapshots the orchestrator.
func (c *Coordinator) SyncStatus() isync.Status { return c.orch.Status() }

// TriggerSync asks for a manual cycle. It reports false while one runs.
func (c *Coordinator) TriggerSync() bool { return c.orch.Trigger() }

// Start initializes the worker database and begins answering the UI. The
// returned func stops listening.
func (c *Coordinator) Start(ctx context.Context) (func(), error) {
	if err := c.worker.InitializeDB(ctx); err != nil {
		return nil, fmt.Errorf("initializing worker database: %w", err)
	}

	d := bus.NewDispatcher(bus.ActorCoordinator)
	bus.On(d, bus.UICoordinator, c.HandleUI)
	stop, err := c.transport.Listen(bus.ActorCoordinator, d.Handle)
	if err != nil {
		return nil, fmt.Errorf("listening as coordinator: %w", err)
	}
	return stop, nil
}

// Run drives the sync loop and the retention schedule until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.orch.Run(ctx) })
	g.Go(func() error { return c.runRetention(ctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleUI applies one UI request. Every UI message type has a case.
func (c *Coordinator) HandleUI(ctx context.Context, m bus.UIToCoordinator) {
	switch m := m.(type) {
	case bus.TriggerSyncNowMsg:
		if !c.orch.Trigger() {
			c.notice(ctx, isync.NoticeInfo, "Sync already in progress")
		}
	case bus.ClearHistoryMsg:
		if err := c.orch.ClearHistory(ctx); err != nil {
			log.Printf("[coordinator] clearing history: %v", err)
			c.notice(ctx, isync.NoticeError, "Could not clear history")
		}
	case bus.RequestPrivacyStatusMsg:
		c.publishPrivacyStatus(ctx)
	case bus.ToggleNLPStorageMsg:
		if err := c.state.SetNLPStorage(ctx, m.Enabled); err != nil {
			log.Printf("[coordinator] saving nlp storage toggle: %v", err)
			c.notice(ctx, isync.NoticeError, "Could not change storage setting")
		}
		c.publishPrivacyStatus(ctx)
	case bus.DeleteAllLocalDataMsg:
		if err := c.DeleteAll(ctx); err != nil {
			log.Printf("[coordinator] deleting local data: %v", err)
			c.notice(ctx, isync.NoticeError, fmt.Sprintf("Delete failed: %v", err))
		} else {
			c.notice(ctx, isync.NoticeInfo, "All local data deleted")
		}
		c.publishPrivacyStatus(ctx)
	default:
		log.Printf("[coordinator] %v: unhandled UI message %s", bus.ErrContractViolation, m.MessageType())
	}
}

// PrivacyStatus reports whether NLP storage is on and what the worker
// holds.
func (c *Coordinator) PrivacyStatus(ctx context.Context) bus.PrivacyStatusMsg {
	out := bus.PrivacyStatusMsg{Enabled: true, Health: HealthUnavailable}

	enabled, err := c.state.NLPStorageEnabled(ctx)
	if err != nil {
		log.Printf("[coordinator] reading nlp storage toggle: %v", err)
	}
	out.Enabled = enabled

	ping, err := c.worker.Ping(ctx)
	if err != nil {
		log.Printf("[coordinator] worker ping: %v", err)
		return out
	}
	if !ping.Ready || !ping.DBInitialized {
		out.Health = HealthDegraded
		return out
	}

	recent, err := c.worker.ListRecent(ctx, 1)
	if err != nil {
		log.Printf("[coordinator] reading stored totals: %v", err)
		out.Health = HealthDegraded
		return out
	}
	out.Health = HealthOK
	out.TotalStored = recent.TotalCount
	out.LastProcessedAt = recent.LastProcessedAt
	return out
}

// Recent lists stored summaries from the worker database.
func (c *Coordinator) Recent(ctx context.Context, limit int) (model.RecentSummaries, error) {
	return c.worker.ListRecent(ctx, limit)
}

// DeleteEmail soft-deletes one message from the worker database and drops
// it from the recent list.
func (c *Coordinator) DeleteEmail(ctx context.Context, id string) error {
	if err := c.worker.DeleteEmail(ctx, id); err != nil {
		return err
	}
	if _, err := c.state.RemoveRecent(ctx, id); err != nil {
		return fmt.Errorf("removing %s from recent list: %w", id, err)
	}
	return nil
}

// DeleteAll wipes the worker database, the recent list and the dedup set.
// The sync cursor is kept so deleted mail is not fetched again.
func (c *Coordinator) DeleteAll(ctx context.Context) error {
	if err := c.worker.ClearAll(ctx); err != nil {
		return err
	}
	return c.orch.ClearHistory(ctx)
}

// AuditLog exports the worker's audit log.
func (c *Coordinator) AuditLog(ctx context.Context) ([]model.AuditLogEntry, error) {
	return c.worker.ExportAudit(ctx)
}

// Sweep runs one retention sweep.
func (c *Coordinator) Sweep(ctx context.Context) (int64, error) {
	n, err := c.worker.SweepRetention(ctx, c.retention)
	if err != nil {
		return 0, err
	}
	log.Printf("[coordinator] retention sweep removed %d rows", n)
	return n, nil
}

func (c *Coordinator) runRetention(ctx context.Context) error {
	if _, err := c.Sweep(ctx); err != nil {
		log.Printf("[coordinator] retention sweep: %v", err)
	}

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.Sweep(ctx); err != nil {
				log.Printf("[coordinator] retention sweep: %v", err)
			}
		}
	}
}

func (c *Coordinator) publishPrivacyStatus(ctx context.Context) {
	_ = bus.Notify(ctx, c.transport, bus.CoordinatorUI, bus.CoordinatorToUI(c.PrivacyStatus(ctx)))
}

func (c *Coordinator) notice(ctx context.Context, level, text string) {
	_ = bus.Notify(ctx, c.transport, bus.CoordinatorUI, bus.CoordinatorToUI(bus.NoticeMsg{Level: level, Text: text}))
}
