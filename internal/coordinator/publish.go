package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/state"
	"github.com/nhle/inboxdigest/internal/worker"
)

// uiPublisher sends orchestrator events to the UI. Nobody listening is
// normal; the UI is transient.
type uiPublisher struct {
	t bus.Transport
}

func (p *uiPublisher) SyncStatus(ctx context.Context, status model.SyncStatus, at time.Time) {
	_ = bus.Notify(ctx, p.t, bus.CoordinatorUI, bus.CoordinatorToUI(bus.SyncStatusMsg{Status: status, Timestamp: at}))
}

func (p *uiPublisher) NewEmails(ctx context.Context, batch []model.ProcessedMessageRecord) {
	_ = bus.Notify(ctx, p.t, bus.CoordinatorUI, bus.CoordinatorToUI(bus.NewEmailsMsg{Data: batch}))
}

func (p *uiPublisher) Notice(ctx context.Context, level, text string) {
	_ = bus.Notify(ctx, p.t, bus.CoordinatorUI, bus.CoordinatorToUI(bus.NoticeMsg{Level: level, Text: text}))
}

// workerArchiver writes processed batches to the worker database while
// NLP storage is enabled.
type workerArchiver struct {
	client *worker.Client
	state  *state.State
}

func (a *workerArchiver) Archive(ctx context.Context, batch []model.ProcessedMessageRecord) error {
	enabled, err := a.state.NLPStorageEnabled(ctx)
	if err != nil {
		log.Printf("[coordinator] reading nlp storage toggle, assuming enabled: %v", err)
	}
	if !enabled {
		return nil
	}

	for _, rec := range batch {
		kp := model.KeyPointFromRecord(rec)
		kp.Summary, kp.TokensUsed = "", 0
		if err := a.client.QueueMetadata(ctx, kp); err != nil {
			return fmt.Errorf("storing metadata for %s: %w", rec.ID, err)
		}
		if err := a.client.StoreSummary(ctx, rec.ID, rec.Summary, rec.TokensUsed, rec.Labels); err != nil {
			return fmt.Errorf("storing summary for %s: %w", rec.ID, err)
		}
	}
	return nil
}
