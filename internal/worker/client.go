package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/model"
)

// Caller sends one request into the worker context and returns its reply.
// isolation.Manager is the production implementation.
type Caller interface {
	Call(ctx context.Context, msg bus.CoordinatorToWorker) (bus.WorkerToCoordinator, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, msg bus.CoordinatorToWorker) (bus.WorkerToCoordinator, error)

func (f CallerFunc) Call(ctx context.Context, msg bus.CoordinatorToWorker) (bus.WorkerToCoordinator, error) {
	return f(ctx, msg)
}

// ResultError is a failed DB/RESULT.
type ResultError struct {
	Type    bus.MessageType
	Code    string
	Message string
}

func (e *ResultError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Type, e.Code, e.Message)
}

// Client is the coordinator's typed view of the worker.
type Client struct {
	caller Caller
}

// NewClient wraps c.
func NewClient(c Caller) *Client {
	return &Client{caller: c}
}

// Process runs the deterministic filter inside the worker. It implements
// filter.Stage1.
func (c *Client) Process(ctx context.Context, id, text string) (model.FilterResult, error) {
	resp, err := c.caller.Call(ctx, bus.ProcessEmailMsg{ID: id, Text: text})
	if err != nil {
		return model.FilterResult{}, err
	}
	res, ok := resp.(bus.ProcessedEmailResultMsg)
	if !ok {
		return model.FilterResult{}, fmt.Errorf("%w: %s answered with %s",
			bus.ErrMalformedResponse, bus.TypeProcessEmail, resp.MessageType())
	}
	if res.ID != id {
		return model.FilterResult{}, fmt.Errorf("%w: result for %q, asked for %q",
			bus.ErrMalformedResponse, res.ID, id)
	}
	return res.Filter, nil
}

func (c *Client) db(ctx context.Context, msg bus.CoordinatorToWorker, out any) error {
	resp, err := c.caller.Call(ctx, msg)
	if err != nil {
		return err
	}
	res, ok := resp.(bus.DBResultMsg)
	if !ok {
		return fmt.Errorf("%w: %s answered with %s",
			bus.ErrMalformedResponse, msg.MessageType(), resp.MessageType())
	}
	if !res.Success {
		return &ResultError{Type: msg.MessageType(), Code: res.Code, Message: res.Error}
	}
	if out != nil && len(res.Data) > 0 {
		if err := json.Unmarshal(res.Data, out); err != nil {
			return fmt.Errorf("%w: decoding %s data: %v", bus.ErrMalformedResponse, msg.MessageType(), err)
		}
	}
	return nil
}

// InitializeDB opens the worker database. Repeat calls are harmless.
func (c *Client) InitializeDB(ctx context.Context) error {
	return c.db(ctx, bus.InitializeDBMsg{}, nil)
}

// QueueMetadata upserts the persisted form of a processed message.
func (c *Client) QueueMetadata(ctx context.Context, rec model.KeyPointRecord) error {
	return c.db(ctx, bus.QueueEmailMetadataMsg{Record: rec}, nil)
}

// StoreSummary attaches a summary to a stored message.
func (c *Client) StoreSummary(ctx context.Context, id, summary string, tokens int, labels []string) error {
	return c.db(ctx, bus.StoreSummaryMsg{MessageID: id, Summary: summary, TokensUsed: tokens, Labels: labels}, nil)
}

// ListRecent returns the newest stored summaries.
func (c *Client) ListRecent(ctx context.Context, limit int) (model.RecentSummaries, error) {
	var out model.RecentSummaries
	err := c.db(ctx, bus.ListRecentSummariesMsg{Limit: limit}, &out)
	return out, err
}

// ClearAll wipes the worker database.
func (c *Client) ClearAll(ctx context.Context) error {
	return c.db(ctx, bus.ClearAllDataMsg{}, nil)
}

// Ping reports worker readiness.
func (c *Client) Ping(ctx context.Context) (PingStatus, error) {
	var out PingStatus
	err := c.db(ctx, bus.PingMsg{}, &out)
	return out, err
}

// DeleteEmail soft-deletes one stored message.
func (c *Client) DeleteEmail(ctx context.Context, id string) error {
	return c.db(ctx, bus.DeleteEmailDataMsg{MessageID: id}, nil)
}

// SweepRetention removes rows older than olderThan and returns how many.
func (c *Client) SweepRetention(ctx context.Context, olderThan time.Duration) (int64, error) {
	var out SweepResult
	err := c.db(ctx, bus.SweepRetentionMsg{OlderThan: olderThan}, &out)
	return out.Removed, err
}

// ExportAudit returns the worker's audit log, oldest first.
func (c *Client) ExportAudit(ctx context.Context) ([]model.AuditLogEntry, error) {
	var out []model.AuditLogEntry
	err := c.db(ctx, bus.ExportAuditLogMsg{}, &out)
	return out, err
}
