package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/state"
	isync "github.com/nhle/inboxdigest/internal/sync"
	"github.com/nhle/inboxdigest/internal/worker"
)

type stubProvider struct {
	added []string
}

func (p *stubProvider) CurrentCursor(context.Context) (string, error) { return "1", nil }

func (p *stubProvider) ChangesSince(context.Context, string) (mail.Changes, error) {
	return mail.Changes{AddedIDs: p.added, NewCursor: "2"}, nil
}

func (p *stubProvider) GetMessage(_ context.Context, id string) (*mail.Message, error) {
	return &mail.Message{
		ID:      id,
		Headers: []mail.Header{{Name: "Subject", Value: "Invoice " + id}, {Name: "Date", Value: "Mon, 10 Mar 2025 09:00:00 +0000"}},
		Body:    "Your invoice is attached. Payment due by Friday.",
	}, nil
}

func (p *stubProvider) CursorAdvances(prev, next string) bool {
	return mail.NumericCursorAdvances(prev, next)
}

type stubStage2 struct{}

func (stubStage2) Summarize(context.Context, string, string, string) model.SummaryResult {
	return model.SummaryResult{Text: "Invoice due Friday."}
}

type fixture struct {
	coord *Coordinator
	state *state.State
	ui    chan bus.CoordinatorToUI
	tr    *bus.MemoryTransport
}

func newFixture(t *testing.T, p mail.Provider) *fixture {
	t.Helper()
	tr := bus.NewMemoryTransport()

	w := worker.New(":memory:", nil, nil)
	stopWorker, err := worker.Serve(tr, w)
	if err != nil {
		t.Fatal(err)
	}
	client := worker.NewClient(worker.CallerFunc(func(ctx context.Context, msg bus.CoordinatorToWorker) (bus.WorkerToCoordinator, error) {
		return bus.Call(ctx, tr, bus.CoordinatorWorker, bus.WorkerCoordinator, msg)
	}))

	f := &fixture{
		state: state.New(state.NewMemoryKV(), 0),
		ui:    make(chan bus.CoordinatorToUI, 32),
		tr:    tr,
	}
	f.coord = New(tr, p, client, stubStage2{}, f.state, Config{Sync: isync.Config{Interval: time.Hour}})

	stopCoord, err := f.coord.Start(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	d := bus.NewDispatcher(bus.ActorUI)
	bus.On(d, bus.CoordinatorUI, func(_ context.Context, m bus.CoordinatorToUI) { f.ui <- m })
	stopUI, err := tr.Listen(bus.ActorUI, d.Handle)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		stopUI()
		stopCoord()
		stopWorker()
		w.Close()
	})
	return f
}

// next returns the next UI message of type T, skipping others.
func next[T bus.CoordinatorToUI](t *testing.T, f *fixture) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-f.ui:
			if v, ok := m.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %s reached the UI", zero.MessageType())
			return zero
		}
	}
}

func (f *fixture) send(t *testing.T, m bus.UIToCoordinator) {
	t.Helper()
	if err := bus.Notify(context.Background(), f.tr, bus.UICoordinator, m); err != nil {
		t.Fatal(err)
	}
}

func TestSyncStoresAndPublishes(t *testing.T) {
	f := newFixture(t, &stubProvider{added: []string{"m1", "m2"}})
	ctx := context.Background()
	_ = f.state.SetCursor(ctx, "1")

	res, err := f.coord.Orchestrator().SyncNow(ctx, isync.TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Processed) != 2 {
		t.Fatalf("processed %d", len(res.Processed))
	}

	emails := next[bus.NewEmailsMsg](t, f)
	if len(emails.Data) != 2 || emails.Data[0].Summary != "Invoice due Friday." {
		t.Errorf("NEW_EMAILS = %+v", emails.Data)
	}
	notice := next[bus.NoticeMsg](t, f)
	if notice.Text != "2 new emails" {
		t.Errorf("notice = %+v", notice)
	}

	recent, err := f.coord.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if recent.TotalCount != 2 {
		t.Fatalf("stored %d", recent.TotalCount)
	}
	got := recent.Items[0]
	if got.Summary != "Invoice due Friday." || got.TokensUsed != 5 || len(got.Labels) == 0 {
		t.Errorf("stored record %+v", got)
	}

	status := f.coord.PrivacyStatus(ctx)
	if !status.Enabled || status.Health != HealthOK || status.TotalStored != 2 || status.LastProcessedAt == nil {
		t.Errorf("privacy status %+v", status)
	}

	if err := f.coord.DeleteEmail(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if recent, _ := f.coord.Recent(ctx, 10); recent.TotalCount != 1 {
		t.Errorf("after delete stored %d", recent.TotalCount)
	}
	if local, _ := f.state.Recent(ctx); len(local) != 1 || local[0].ID != "m2" {
		t.Errorf("recent list = %+v", local)
	}

	entries, err := f.coord.AuditLog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Error("audit log is empty")
	}
}

func TestToggleNLPStorageSkipsWorkerDB(t *testing.T) {
	f := newFixture(t, &stubProvider{added: []string{"m1"}})
	ctx := context.Background()
	_ = f.state.SetCursor(ctx, "1")

	f.send(t, bus.ToggleNLPStorageMsg{Enabled: false})
	if status := next[bus.PrivacyStatusMsg](t, f); status.Enabled {
		t.Fatalf("status after toggle = %+v", status)
	}

	if _, err := f.coord.Orchestrator().SyncNow(ctx, isync.TriggerManual); err != nil {
		t.Fatal(err)
	}
	if recent, _ := f.coord.Recent(ctx, 10); recent.TotalCount != 0 {
		t.Errorf("worker stored %d with NLP storage off", recent.TotalCount)
	}
	if local, _ := f.state.Recent(ctx); len(local) != 1 {
		t.Errorf("recent list = %+v", local)
	}
}

func TestDeleteAllLocalData(t *testing.T) {
	f := newFixture(t, &stubProvider{added: []string{"m1"}})
	ctx := context.Background()
	_ = f.state.SetCursor(ctx, "1")

	if _, err := f.coord.Orchestrator().SyncNow(ctx, isync.TriggerManual); err != nil {
		t.Fatal(err)
	}

	f.send(t, bus.DeleteAllLocalDataMsg{})
	for {
		n := next[bus.NoticeMsg](t, f)
		if n.Text == "All local data deleted" {
			break
		}
	}
	status := next[bus.PrivacyStatusMsg](t, f)
	if status.TotalStored != 0 {
		t.Errorf("status after delete-all = %+v", status)
	}
	if local, _ := f.state.Recent(ctx); len(local) != 0 {
		t.Errorf("recent list = %+v", local)
	}
	if c, _ := f.state.Cursor(ctx); c != "2" {
		t.Errorf("cursor = %q, want it kept", c)
	}
}

func TestHandleUICoversEveryType(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	for _, typ := range bus.UIToCoordinatorTypes {
		env := bus.Envelope{
			ID:   "ui",
			From: bus.ActorUI,
			To:   bus.ActorCoordinator,
			Type: typ,
			Data: json.RawMessage(`{}`),
		}
		m, err := bus.UICoordinator.Decode(env)
		if err != nil {
			t.Fatalf("decoding %s: %v", typ, err)
		}
		f.coord.HandleUI(context.Background(), m)
	}
}

func TestSweep(t *testing.T) {
	f := newFixture(t, &stubProvider{})
	n, err := f.coord.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Sweep = %d, %v", n, err)
	}
}
