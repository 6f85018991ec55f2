package ui

import (
	"context"
	"testing"
	"time"

	"github.com/nhle/inboxdigest/internal/bus"
)

func receive(t *testing.T, ch <-chan bus.CoordinatorToUI) bus.CoordinatorToUI {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coordinator push")
		return nil
	}
}

func TestHubFansOutAndStopsListening(t *testing.T) {
	ctx := context.Background()
	tr := bus.NewMemoryTransport()
	hub := NewHub(tr)

	a, cancelA, err := hub.Subscribe(4)
	if err != nil {
		t.Fatal(err)
	}
	b, cancelB, err := hub.Subscribe(4)
	if err != nil {
		t.Fatal(err)
	}

	notice := bus.CoordinatorToUI(bus.NoticeMsg{Level: "info", Text: "2 new emails"})
	if err := bus.Notify(ctx, tr, bus.CoordinatorUI, notice); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []<-chan bus.CoordinatorToUI{a, b} {
		got, ok := receive(t, ch).(bus.NoticeMsg)
		if !ok || got.Text != "2 new emails" {
			t.Errorf("got %#v", got)
		}
	}

	cancelA()
	cancelA()
	if hub.Subscribers() != 1 {
		t.Errorf("Subscribers = %d, want 1", hub.Subscribers())
	}
	cancelB()

	env, err := bus.CoordinatorUI.Encode(notice)
	if err != nil {
		t.Fatal(err)
	}
	if err := tr.Send(ctx, env); err == nil {
		t.Error("Send with no subscribers succeeded, want no listener")
	}

	// A later subscriber starts listening again.
	c, cancelC, err := hub.Subscribe(0)
	if err != nil {
		t.Fatal(err)
	}
	defer cancelC()
	status := bus.CoordinatorToUI(bus.SyncStatusMsg{Status: "syncing"})
	if err := bus.Notify(ctx, tr, bus.CoordinatorUI, status); err != nil {
		t.Fatal(err)
	}
	if _, ok := receive(t, c).(bus.SyncStatusMsg); !ok {
		t.Error("expected SyncStatusMsg")
	}
}

func TestHubSendReachesCoordinator(t *testing.T) {
	tr := bus.NewMemoryTransport()
	got := make(chan bus.UIToCoordinator, 1)

	d := bus.NewDispatcher(bus.ActorCoordinator)
	bus.On(d, bus.UICoordinator, func(_ context.Context, m bus.UIToCoordinator) { got <- m })
	stop, err := tr.Listen(bus.ActorCoordinator, d.Handle)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	hub := NewHub(tr)
	if err := hub.Send(context.Background(), bus.ToggleNLPStorageMsg{Enabled: false}); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-got:
		toggle, ok := m.(bus.ToggleNLPStorageMsg)
		if !ok || toggle.Enabled {
			t.Errorf("got %#v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator never received the request")
	}
}

func TestLayoutContentHeight(t *testing.T) {
	tests := []struct {
		height int
		want   int
	}{
		{24, 22},
		{2, 0},
		{1, 0},
	}
	for _, tt := range tests {
		if got := NewLayout(80, tt.height).ContentHeight(); got != tt.want {
			t.Errorf("ContentHeight(%d) = %d, want %d", tt.height, got, tt.want)
		}
	}
}
