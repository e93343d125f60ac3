package syncer

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dukerupert/trolley/internal/api"
	"github.com/dukerupert/trolley/internal/database"
	"github.com/dukerupert/trolley/internal/db"
	"github.com/dukerupert/trolley/internal/queue"
	"github.com/dukerupert/trolley/internal/storage"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	ldb, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })
	return queue.New(storage.NewKV(ldb), nil)
}

func TestFlushReplaysInOrder(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	q := newQueue(t)
	q.Enqueue("createItem", "/api/stores/s1/items", http.MethodPost, map[string]string{"name": "Milk"})
	q.Enqueue("createListItem", "/api/stores/s1/list", http.MethodPost, map[string]string{"storeItemId": "i1"})

	s := New(api.New(srv.URL, nil, nil), q, db.NewBus(), nil)
	res := s.Flush(context.Background())

	if res.Succeeded != 2 || res.Failed != 0 {
		t.Errorf("result = %+v, want {2 0}", res)
	}
	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0", q.Size())
	}
	want := []string{"POST /api/stores/s1/items", "POST /api/stores/s1/list"}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request[%d] = %q, want %q (causal order)", i, seen[i], want[i])
		}
	}
}

func TestFlushClassifiesThroughRealResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/ok":
			w.Write([]byte(`{}`))
		case "/api/gone":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":"not_found","message":"gone"}`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"code":"overloaded","message":"later"}`))
		}
	}))
	defer srv.Close()

	q := newQueue(t)
	q.Enqueue("a", "/api/ok", http.MethodPost, nil)
	q.Enqueue("b", "/api/gone", http.MethodPost, nil)
	q.Enqueue("c", "/api/busy", http.MethodPost, nil)

	s := New(api.New(srv.URL, nil, nil), q, db.NewBus(), nil)
	res := s.Flush(context.Background())

	if res.Succeeded != 1 || res.Failed != 2 {
		t.Errorf("result = %+v, want {1 2}", res)
	}
	// The 404 is dropped for good; the 503 stays queued for retry.
	if q.Size() != 1 {
		t.Fatalf("queue size = %d, want 1", q.Size())
	}
	if got := q.Entries()[0].Operation; got != "c" {
		t.Errorf("remaining = %q, want %q", got, "c")
	}
}

func TestFlushPulsesBusOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	q := newQueue(t)
	q.Enqueue("a", "/api/x", http.MethodPost, nil)

	bus := db.NewBus()
	var pulses int
	bus.OnChange(func() { pulses++ })

	New(api.New(srv.URL, nil, nil), q, bus, nil).Flush(context.Background())
	if pulses != 1 {
		t.Errorf("pulses = %d, want 1", pulses)
	}
}

func TestOfflineThenOnlineRoundTrip(t *testing.T) {
	// Reserve an address, then close it: the network is "down".
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	baseURL := "http://" + addr
	ldb, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })
	kv := storage.NewKV(ldb)
	q := queue.New(kv, nil)
	client := api.New(baseURL, nil, nil)

	bus := db.NewBus()
	remote := db.NewRemote(client, q, kv, bus, "1.0.0", nil)
	if err := remote.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Offline: the write fails but is captured for replay.
	if _, err := remote.CreateStore(context.Background(), "Market"); !api.IsNetworkError(err) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if q.Size() != 1 {
		t.Fatalf("queue size = %d, want 1", q.Size())
	}

	// Back online at the same address.
	var replayed int
	l2, err := net.Listen("tcp", addr)
	if err != nil {
		t.Skipf("could not rebind %s: %v", addr, err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		replayed++
		w.Write([]byte(`{}`))
	})}
	go srv.Serve(l2)
	t.Cleanup(func() { srv.Close() })

	res := New(client, q, bus, nil).Flush(context.Background())
	if res.Succeeded != 1 {
		t.Errorf("result = %+v, want one success", res)
	}
	if replayed != 1 {
		t.Errorf("replayed = %d, want 1", replayed)
	}
	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0", q.Size())
	}
}
