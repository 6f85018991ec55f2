package sync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	gosync "sync"
	"testing"
	"time"

	"github.com/nhle/inboxdigest/internal/filter"
	"github.com/nhle/inboxdigest/internal/mail"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/state"
	"github.com/nhle/inboxdigest/internal/summarizer"
)

type fakeProvider struct {
	mu         gosync.Mutex
	current    string
	changes    mail.Changes
	changesErr error
	failIDs    map[string]error
	fetched    []string

	// block, when set, holds ChangesSince until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (p *fakeProvider) CurrentCursor(context.Context) (string, error) { return p.current, nil }

func (p *fakeProvider) ChangesSince(context.Context, string) (mail.Changes, error) {
	if p.entered != nil {
		p.entered <- struct{}{}
	}
	if p.block != nil {
		<-p.block
	}
	return p.changes, p.changesErr
}

func (p *fakeProvider) GetMessage(_ context.Context, id string) (*mail.Message, error) {
	p.mu.Lock()
	p.fetched = append(p.fetched, id)
	p.mu.Unlock()
	if err := p.failIDs[id]; err != nil {
		return nil, err
	}
	return &mail.Message{
		ID:       id,
		ThreadID: "t-" + id,
		Headers: []mail.Header{
			{Name: "Subject", Value: "Subject " + id},
			{Name: "From", Value: "sender@example.com"},
		},
		Body: "Hi team,\nPlease review the draft by Friday.\nThanks!",
	}, nil
}

func (p *fakeProvider) CursorAdvances(prev, next string) bool {
	return mail.NumericCursorAdvances(prev, next)
}

type fakePublisher struct {
	mu       gosync.Mutex
	statuses []model.SyncStatus
	batches  [][]model.ProcessedMessageRecord
	notices  []string
}

func (f *fakePublisher) SyncStatus(_ context.Context, s model.SyncStatus, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakePublisher) NewEmails(_ context.Context, batch []model.ProcessedMessageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, batch)
}

func (f *fakePublisher) Notice(_ context.Context, level, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, level+": "+text)
}

type fakeArchiver struct {
	archived []string
	err      error
}

func (a *fakeArchiver) Archive(_ context.Context, batch []model.ProcessedMessageRecord) error {
	for _, r := range batch {
		a.archived = append(a.archived, r.ID)
	}
	return a.err
}

type fixedSummary struct{}

func (fixedSummary) Summarize(context.Context, string, string, string) model.SummaryResult {
	n := 7
	return model.SummaryResult{Text: "summary", TokensUsed: &n}
}

type harness struct {
	orch     *Orchestrator
	provider *fakeProvider
	pub      *fakePublisher
	archiver *fakeArchiver
	state    *state.State
}

func newHarness(t *testing.T, p *fakeProvider) *harness {
	t.Helper()
	return newHarnessWith(t, p, fixedSummary{}, nil)
}

// newHarnessWith lets a test swap stage 2 and wrap the state store.
func newHarnessWith(t *testing.T, p *fakeProvider, s2 filter.Stage2, wrap func(*state.State) Store) *harness {
	t.Helper()
	h := &harness{
		provider: p,
		pub:      &fakePublisher{},
		archiver: &fakeArchiver{},
		state:    state.New(state.NewMemoryKV(), 0),
	}
	var st Store = h.state
	if wrap != nil {
		st = wrap(h.state)
	}
	pipeline := filter.NewPipeline(filter.LocalStage1{}, s2, summarizer.EstimateTokens)
	h.orch = New(p, pipeline, st, h.pub, h.archiver, Config{})
	return h
}

// flakyStore fails the named write once.
type flakyStore struct {
	*state.State
	failPrepend error
	failCursor  error
}

func (f *flakyStore) PrependRecent(ctx context.Context, batch []model.ProcessedMessageRecord) error {
	if err := f.failPrepend; err != nil {
		f.failPrepend = nil
		return err
	}
	return f.State.PrependRecent(ctx, batch)
}

func (f *flakyStore) SetCursor(ctx context.Context, cursor string) error {
	if err := f.failCursor; err != nil {
		f.failCursor = nil
		return err
	}
	return f.State.SetCursor(ctx, cursor)
}

// hangingCapability never answers until released.
type hangingCapability struct {
	release chan struct{}
}

func (hangingCapability) IsAvailable(context.Context) bool { return true }
func (hangingCapability) Initialize(context.Context) error  { return nil }
func (hangingCapability) Destroy() error                    { return nil }

func (c hangingCapability) Summarize(context.Context, string, summarizer.Context) (model.SummaryResult, error) {
	<-c.release
	return model.SummaryResult{}, errors.New("released")
}

func recordIDs(recs []model.ProcessedMessageRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestBootstrapProcessesNothing(t *testing.T) {
	h := newHarness(t, &fakeProvider{current: "500"})
	ctx := context.Background()

	res, err := h.orch.SyncNow(ctx, TriggerTimer)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Bootstrapped || len(res.Processed) != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if c, _ := h.state.Cursor(ctx); c != "500" {
		t.Errorf("cursor = %q", c)
	}
	if len(h.pub.batches) != 0 || len(h.provider.fetched) != 0 {
		t.Error("bootstrap must not fetch or publish messages")
	}
	if h.orch.State() != model.SyncIdle {
		t.Errorf("state = %s", h.orch.State())
	}
}

func TestIncrementalCycle(t *testing.T) {
	p := &fakeProvider{
		changes: mail.Changes{AddedIDs: []string{"a", "b", "c"}, NewCursor: "105"},
		failIDs: map[string]error{"b": errors.New("fetch timeout")},
	}
	h := newHarness(t, p)
	ctx := context.Background()
	_ = h.state.SetCursor(ctx, "100")

	res, err := h.orch.SyncNow(ctx, TriggerTimer)
	if err != nil {
		t.Fatal(err)
	}

	if got := recordIDs(res.Processed); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("processed = %v", got)
	}
	if res.Failed != 1 {
		t.Errorf("Failed = %d", res.Failed)
	}
	rec := res.Processed[0]
	if rec.Summary != "summary" || rec.TokensUsed != 7 || rec.To != UnknownRecipient || rec.Date != UnknownDate {
		t.Errorf("unexpected record %+v", rec)
	}
	if !reflect.DeepEqual(rec.Labels, []string{model.LabelPossibleDeadline, model.LabelActionable}) {
		t.Errorf("Labels = %v", rec.Labels)
	}

	if c, _ := h.state.Cursor(ctx); c != "105" {
		t.Errorf("cursor = %q", c)
	}
	recent, _ := h.state.Recent(ctx)
	if got := recordIDs(recent); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("recent = %v", got)
	}
	if !reflect.DeepEqual(h.archiver.archived, []string{"a", "c"}) {
		t.Errorf("archived = %v", h.archiver.archived)
	}
	if len(h.pub.batches) != 1 || len(h.pub.batches[0]) != 2 {
		t.Errorf("batches = %v", h.pub.batches)
	}
	if !reflect.DeepEqual(h.pub.notices, []string{"info: 2 new emails"}) {
		t.Errorf("notices = %v", h.pub.notices)
	}
	if !reflect.DeepEqual(h.pub.statuses, []model.SyncStatus{model.SyncSyncing, model.SyncIdle}) {
		t.Errorf("statuses = %v", h.pub.statuses)
	}

	// The same ids again: a and c are deduplicated, b is retried.
	p.failIDs = nil
	p.changes.NewCursor = "105"
	res, err = h.orch.SyncNow(ctx, TriggerTimer)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 2 || !reflect.DeepEqual(recordIDs(res.Processed), []string{"b"}) {
		t.Errorf("second cycle = %+v", res)
	}
}

func TestCursorOnlyMovesForward(t *testing.T) {
	p := &fakeProvider{changes: mail.Changes{NewCursor: "90"}}
	h := newHarness(t, p)
	ctx := context.Background()
	_ = h.state.SetCursor(ctx, "100")

	if _, err := h.orch.SyncNow(ctx, TriggerTimer); err != nil {
		t.Fatal(err)
	}
	if c, _ := h.state.Cursor(ctx); c != "100" {
		t.Errorf("cursor = %q, want 100", c)
	}
	if len(h.pub.batches) != 0 || len(h.pub.notices) != 0 {
		t.Error("empty cycle must not publish")
	}
}

func TestCycleFailures(t *testing.T) {
	tests := []struct {
		name       string
		provider   *fakeProvider
		trigger    Trigger
		wantNotice bool
		check      func(error) bool
	}{
		{
			name:       "history failure on manual sync",
			provider:   &fakeProvider{changesErr: errors.New("connection reset")},
			trigger:    TriggerManual,
			wantNotice: true,
			check:      func(err error) bool { return err != nil },
		},
		{
			name:     "history failure on timer",
			provider: &fakeProvider{changesErr: errors.New("connection reset")},
			trigger:  TriggerTimer,
			check:    func(err error) bool { return err != nil },
		},
		{
			name: "auth failure while fetching a message",
			provider: &fakeProvider{
				changes: mail.Changes{AddedIDs: []string{"a"}},
				failIDs: map[string]error{"a": &mail.AuthError{Provider: "gmail", Message: "revoked"}},
			},
			trigger: TriggerTimer,
			check:   mail.IsAuthError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.provider)
			ctx := context.Background()
			_ = h.state.SetCursor(ctx, "100")

			_, err := h.orch.SyncNow(ctx, tt.trigger)
			if !tt.check(err) {
				t.Fatalf("err = %v", err)
			}
			if h.orch.State() != model.SyncError {
				t.Errorf("state = %s", h.orch.State())
			}
			if st, _ := h.state.Status(ctx); st != model.SyncError {
				t.Errorf("persisted status = %s", st)
			}
			if got := len(h.pub.notices) > 0; got != tt.wantNotice {
				t.Errorf("notices = %v", h.pub.notices)
			}
			if h.orch.Status().LastError == "" {
				t.Error("Status().LastError is empty")
			}
		})
	}
}

func TestExpiredCursorBootstrapsAgain(t *testing.T) {
	p := &fakeProvider{current: "900", changesErr: fmt.Errorf("history list: %w", mail.ErrCursorExpired)}
	h := newHarness(t, p)
	ctx := context.Background()
	_ = h.state.SetCursor(ctx, "100")

	res, err := h.orch.SyncNow(ctx, TriggerTimer)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Bootstrapped {
		t.Error("expected bootstrap")
	}
	if c, _ := h.state.Cursor(ctx); c != "900" {
		t.Errorf("cursor = %q", c)
	}
}

func TestOverlappingTriggersAreRejected(t *testing.T) {
	p := &fakeProvider{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	h := newHarness(t, p)
	ctx := context.Background()
	_ = h.state.SetCursor(ctx, "100")

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.SyncNow(ctx, TriggerTimer)
		done <- err
	}()
	<-p.entered

	if _, err := h.orch.SyncNow(ctx, TriggerManual); !errors.Is(err, ErrBusy) {
		t.Errorf("overlapping SyncNow = %v, want ErrBusy", err)
	}
	if h.orch.Trigger() {
		t.Error("Trigger accepted while syncing")
	}

	close(p.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if h.orch.State() != model.SyncIdle {
		t.Errorf("state = %s", h.orch.State())
	}
}

func TestClearHistoryKeepsCursor(t *testing.T) {
	p := &fakeProvider{changes: mail.Changes{AddedIDs: []string{"a"}, NewCursor: "101"}}
	h := newHarness(t, p)
	ctx := context.Background()
	_ = h.state.SetCursor(ctx, "100")

	if _, err := h.orch.SyncNow(ctx, TriggerTimer); err != nil {
		t.Fatal(err)
	}
	if err := h.orch.ClearHistory(ctx); err != nil {
		t.Fatal(err)
	}
	if recent, _ := h.state.Recent(ctx); len(recent) != 0 {
		t.Errorf("recent = %v", recent)
	}
	if h.orch.Status().DedupSize != 0 {
		t.Error("dedup set not cleared")
	}
	if c, _ := h.state.Cursor(ctx); c != "101" {
		t.Errorf("cursor = %q", c)
	}
}

func TestRecordFallbacks(t *testing.T) {
	rec := RecordFromMessage(&mail.Message{ID: "x", Headers: []mail.Header{{Name: "subject", Value: "  "}}})
	want := model.ProcessedMessageRecord{
		ID:      "x",
		Subject: NoSubject,
		From:    UnknownSender,
		To:      UnknownRecipient,
		Date:    UnknownDate,
	}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("RecordFromMessage = %+v", rec)
	}
}

func TestDedupTrim(t *testing.T) {
	d := NewDedupSet(10, 4)
	for i := 0; i < 10; i++ {
		d.Add(fmt.Sprint(i))
	}
	if n := d.Trim(); n != 0 {
		t.Fatalf("Trim at high-water dropped %d", n)
	}
	d.Add("10")
	if n := d.Trim(); n != 7 {
		t.Fatalf("Trim dropped %d, want 7", n)
	}
	if d.Len() != 4 || d.Contains("6") || !d.Contains("7") || !d.Contains("10") {
		t.Errorf("unexpected contents after trim, len %d", d.Len())
	}
}

func TestRunHonoursManualTrigger(t *testing.T) {
	p := &fakeProvider{current: "1", changes: mail.Changes{AddedIDs: []string{"a"}, NewCursor: "2"}}
	h := newHarness(t, p)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	// The first cycle bootstraps; wait for it before triggering.
	deadline := time.After(2 * time.Second)
	for {
		if c, _ := h.state.Cursor(ctx); c == "1" && h.orch.State() == model.SyncIdle {
			break
		}
		select {
		case <-deadline:
			t.Fatal("bootstrap cycle did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !h.orch.Trigger() {
		t.Fatal("Trigger rejected")
	}
	for {
		if c, _ := h.state.Cursor(ctx); c == "2" && h.orch.State() == model.SyncIdle {
			break
		}
		select {
		case <-deadline:
			t.Fatal("manual cycle did not finish")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}

func TestAbortedBatchIsRetried(t *testing.T) {
	revoked := &mail.AuthError{Provider: "gmail", Message: "revoked"}

	tests := []struct {
		name     string
		provider *fakeProvider
		wrap     func(*state.State) Store
	}{
		{
			name: "auth failure after an earlier message",
			provider: &fakeProvider{
				changes: mail.Changes{AddedIDs: []string{"m1", "m2"}, NewCursor: "101"},
				failIDs: map[string]error{"m2": revoked},
			},
		},
		{
			name:     "recent list write fails",
			provider: &fakeProvider{changes: mail.Changes{AddedIDs: []string{"m1", "m2"}, NewCursor: "101"}},
			wrap: func(s *state.State) Store {
				return &flakyStore{State: s, failPrepend: errors.New("disk full")}
			},
		},
		{
			name:     "cursor write fails",
			provider: &fakeProvider{changes: mail.Changes{AddedIDs: []string{"m1", "m2"}, NewCursor: "101"}},
			wrap: func(s *state.State) Store {
				return &flakyStore{State: s, failCursor: errors.New("disk full")}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessWith(t, tt.provider, fixedSummary{}, tt.wrap)
			ctx := context.Background()
			_ = h.state.SetCursor(ctx, "100")

			if _, err := h.orch.SyncNow(ctx, TriggerTimer); err == nil {
				t.Fatal("first cycle should fail")
			}

			tt.provider.failIDs = nil
			if _, err := h.orch.SyncNow(ctx, TriggerTimer); err != nil {
				t.Fatalf("second cycle: %v", err)
			}

			recent, _ := h.state.Recent(ctx)
			if got := recordIDs(recent); len(got) != 2 || !contains(got, "m1") || !contains(got, "m2") {
				t.Errorf("recent = %v, want m1 and m2 once each", got)
			}
			if !contains(h.archiver.archived, "m1") || !contains(h.archiver.archived, "m2") {
				t.Errorf("archived = %v", h.archiver.archived)
			}
			var published []string
			for _, b := range h.pub.batches {
				published = append(published, recordIDs(b)...)
			}
			if !contains(published, "m1") || !contains(published, "m2") {
				t.Errorf("published = %v", published)
			}
			if c, _ := h.state.Cursor(ctx); c != "101" {
				t.Errorf("cursor = %q, want 101", c)
			}
		})
	}
}

func TestSummaryTimeoutStillDelivers(t *testing.T) {
	capability := hangingCapability{release: make(chan struct{})}
	t.Cleanup(func() { close(capability.release) })

	p := &fakeProvider{changes: mail.Changes{AddedIDs: []string{"slow"}, NewCursor: "101"}}
	stage := summarizer.NewStage(capability, 20*time.Millisecond, 0)
	h := newHarnessWith(t, p, stage, nil)
	ctx := context.Background()
	_ = h.state.SetCursor(ctx, "100")

	res, err := h.orch.SyncNow(ctx, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Processed) != 1 {
		t.Fatalf("processed = %v", recordIDs(res.Processed))
	}
	rec := res.Processed[0]
	if rec.Summary != summarizer.TextTimedOut || rec.TokensUsed != 0 {
		t.Errorf("record summary = %q tokens = %d", rec.Summary, rec.TokensUsed)
	}

	recent, _ := h.state.Recent(ctx)
	if len(recent) != 1 || recent[0].Summary != summarizer.TextTimedOut {
		t.Errorf("recent = %+v", recent)
	}
	if !reflect.DeepEqual(h.archiver.archived, []string{"slow"}) {
		t.Errorf("archived = %v", h.archiver.archived)
	}
	if len(h.pub.batches) != 1 || h.pub.batches[0][0].Summary != summarizer.TextTimedOut {
		t.Errorf("batches = %v", h.pub.batches)
	}
	if h.orch.State() != model.SyncIdle {
		t.Errorf("state = %s", h.orch.State())
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
