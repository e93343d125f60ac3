package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/trolley/internal/db"
)

func TestListenerPulsesBusPerBroadcast(t *testing.T) {
	broadcasts := []string{
		`{"type":"list_item_created","entity":"listItem","action":"created","id":"li-1"}`,
		`{"type":"aisle_reordered","entity":"aisle","action":"updated"}`,
		`not even json`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ws" {
			t.Errorf("path = %q, want /api/ws", r.URL.Path)
		}
		conn, err := ws.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(ws.StatusNormalClosure, "")
		for _, msg := range broadcasts {
			if err := conn.Write(r.Context(), ws.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		// Hold the connection open until the client goes away.
		conn.Read(r.Context())
	}))
	defer srv.Close()

	bus := db.NewBus()
	var pulses atomic.Int32
	bus.OnChange(func() { pulses.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		New(srv.URL, bus, nil).Run(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for pulses.Load() < int32(len(broadcasts)) {
		select {
		case <-deadline:
			t.Fatalf("pulses = %d, want %d", pulses.Load(), len(broadcasts))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop on context cancel")
	}
}

func TestListenerStopsWhenServerUnreachable(t *testing.T) {
	bus := db.NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		New("http://127.0.0.1:1", bus, nil).Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not honor context deadline while reconnecting")
	}
}
