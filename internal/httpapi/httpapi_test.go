package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/nhle/inboxdigest/internal/bus"
	"github.com/nhle/inboxdigest/internal/model"
	"github.com/nhle/inboxdigest/internal/store"
	isync "github.com/nhle/inboxdigest/internal/sync"
	"github.com/nhle/inboxdigest/internal/ui"
	"github.com/nhle/inboxdigest/internal/worker"
)

type fakeController struct {
	busy       bool
	triggered  int
	lastLimit  int
	deleted    []string
	deletedAll bool
	deleteErr  error
}

func (f *fakeController) SyncStatus() isync.Status {
	return isync.Status{State: model.SyncIdle, DedupSize: 3}
}

func (f *fakeController) TriggerSync() bool {
	if f.busy {
		return false
	}
	f.triggered++
	return true
}

func (f *fakeController) PrivacyStatus(context.Context) bus.PrivacyStatusMsg {
	return bus.PrivacyStatusMsg{Enabled: true, Health: "ok", TotalStored: 2}
}

func (f *fakeController) Recent(_ context.Context, limit int) (model.RecentSummaries, error) {
	f.lastLimit = limit
	return model.RecentSummaries{
		Items:      []model.KeyPointRecord{{MessageID: "m1", Subject: "Budget"}},
		TotalCount: 1,
	}, nil
}

func (f *fakeController) DeleteEmail(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeController) DeleteAll(context.Context) error {
	f.deletedAll = true
	return nil
}

func (f *fakeController) AuditLog(context.Context) ([]model.AuditLogEntry, error) {
	return []model.AuditLogEntry{{ID: "a1", Action: "CLEAR_ALL_DATA", Result: model.AuditSuccess}}, nil
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestStatus(t *testing.T) {
	r := NewRouter(NewHandler(&fakeController{}), nil)

	rec := do(t, r, http.MethodGet, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Sync.State != model.SyncIdle || body.Sync.DedupSize != 3 || body.Privacy.TotalStored != 2 {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestTriggerSync(t *testing.T) {
	tests := []struct {
		name string
		busy bool
		want int
	}{
		{"idle", false, http.StatusAccepted},
		{"busy", true, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(NewHandler(&fakeController{busy: tt.busy}), nil)
			if rec := do(t, r, http.MethodPost, "/api/sync"); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestListSummariesLimit(t *testing.T) {
	tests := []struct {
		query     string
		wantCode  int
		wantLimit int
	}{
		{"", http.StatusOK, store.DefaultListLimit},
		{"?limit=5", http.StatusOK, 5},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
		{"?limit=100000", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			ctl := &fakeController{}
			rec := do(t, NewRouter(NewHandler(ctl), nil), http.MethodGet, "/api/summaries"+tt.query)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if ctl.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", ctl.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestDeleteEndpoints(t *testing.T) {
	ctl := &fakeController{}
	r := NewRouter(NewHandler(ctl), nil)

	if rec := do(t, r, http.MethodDelete, "/api/summaries/m1"); rec.Code != http.StatusNoContent {
		t.Errorf("delete one = %d", rec.Code)
	}
	if len(ctl.deleted) != 1 || ctl.deleted[0] != "m1" {
		t.Errorf("deleted = %v", ctl.deleted)
	}
	if rec := do(t, r, http.MethodDelete, "/api/data"); rec.Code != http.StatusNoContent || !ctl.deletedAll {
		t.Errorf("delete all = %d", rec.Code)
	}

	ctl.deleteErr = &worker.ResultError{Type: bus.TypeDeleteEmailData, Code: string(store.CodeNotFound), Message: "message m9 not found"}
	if rec := do(t, r, http.MethodDelete, "/api/summaries/m9"); rec.Code != http.StatusNotFound {
		t.Errorf("missing id = %d, want 404", rec.Code)
	}
}

func TestAuditLog(t *testing.T) {
	rec := do(t, NewRouter(NewHandler(&fakeController{}), nil), http.MethodGet, "/api/audit")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "CLEAR_ALL_DATA") {
		t.Errorf("audit = %d %s", rec.Code, rec.Body.String())
	}
}

func TestWebsocketBridge(t *testing.T) {
	tr := bus.NewMemoryTransport()
	hub := ui.NewHub(tr)

	received := make(chan bus.UIToCoordinator, 1)
	d := bus.NewDispatcher(bus.ActorCoordinator)
	bus.On(d, bus.UICoordinator, func(_ context.Context, m bus.UIToCoordinator) { received <- m })
	stop, err := tr.Listen(bus.ActorCoordinator, d.Handle)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	v, err := bus.NewValidator()
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewRouter(NewHandler(&fakeController{}), NewBridge(hub, v)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("bridge never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// coordinator push reaches the socket
	push := bus.CoordinatorToUI(bus.NoticeMsg{Level: "info", Text: "1 new email"})
	if err := bus.Notify(ctx, tr, bus.CoordinatorUI, push); err != nil {
		t.Fatal(err)
	}
	var env bus.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != bus.TypeNotice || env.From != bus.ActorCoordinator {
		t.Errorf("got envelope %+v", env)
	}

	// socket request reaches the coordinator
	req, err := bus.UICoordinator.Encode(bus.TriggerSyncNowMsg{})
	if err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.Fatal(err)
	}
	select {
	case m := <-received:
		if _, ok := m.(bus.TriggerSyncNowMsg); !ok {
			t.Errorf("coordinator got %T", m)
		}
	case <-ctx.Done():
		t.Fatal("coordinator never received the request")
	}

	// invalid frames are answered with an error notice
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"TRIGGER_SYNC_NOW"}`)); err != nil {
		t.Fatal(err)
	}
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatal(err)
	}
	var notice bus.NoticeMsg
	if err := json.Unmarshal(env.Data, &notice); err != nil {
		t.Fatal(err)
	}
	if env.Type != bus.TypeNotice || notice.Level != "error" {
		t.Errorf("got %+v %+v", env, notice)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(2 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("bridge did not unsubscribe after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
