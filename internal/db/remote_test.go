package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/trolley/internal/api"
	"github.com/dukerupert/trolley/internal/database"
	"github.com/dukerupert/trolley/internal/queue"
	"github.com/dukerupert/trolley/internal/storage"
)

func setupRemote(t *testing.T, handler http.Handler) (*Remote, *queue.Queue) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return setupRemoteAt(t, srv.URL)
}

func setupRemoteAt(t *testing.T, baseURL string) (*Remote, *queue.Queue) {
	t.Helper()
	ldb, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })

	kv := storage.NewKV(ldb)
	q := queue.New(kv, nil)
	client := api.New(baseURL, nil, nil)
	r := NewRemote(client, q, kv, NewBus(), "1.0.0", nil)
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return r, q
}

func TestRemoteCreateStoreNotifiesAndSkipsQueue(t *testing.T) {
	r, q := setupRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost || req.URL.Path != "/api/stores" {
			t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
		}
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{
			"store": map[string]any{"id": "s1", "name": body.Name},
		})
	}))

	var pulses int
	r.OnChange(func() { pulses++ })

	s, err := r.CreateStore(context.Background(), "Market")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if s.ID != "s1" || s.Name != "Market" {
		t.Errorf("store = %+v", s)
	}
	if pulses != 1 {
		t.Errorf("pulses = %d, want 1", pulses)
	}
	if q.Size() != 0 {
		t.Errorf("queue size = %d, want 0", q.Size())
	}
}

func TestRemoteNetworkFailureQueuesAndRethrows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	url := srv.URL
	srv.Close()
	r, q := setupRemoteAt(t, url)

	var pulses int
	r.OnChange(func() { pulses++ })

	_, err := r.CreateStore(context.Background(), "Market")
	if err == nil {
		t.Fatal("expected error")
	}
	if !api.IsNetworkError(err) {
		t.Fatalf("expected network classification, got %v", err)
	}

	// The failed write is mirrored into the queue; the bus stays quiet.
	if q.Size() != 1 {
		t.Fatalf("queue size = %d, want 1", q.Size())
	}
	entry := q.Entries()[0]
	if entry.Operation != "createStore" || entry.Method != http.MethodPost || entry.Endpoint != "/api/stores" {
		t.Errorf("queued entry = %+v", entry)
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(entry.Body, &body); err != nil || body.Name != "Market" {
		t.Errorf("queued body = %s", entry.Body)
	}
	if pulses != 0 {
		t.Errorf("pulses = %d, want 0 on failure", pulses)
	}
}

func TestRemoteServerRejectionNotQueued(t *testing.T) {
	statuses := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError}
	for _, status := range statuses {
		r, q := setupRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"code":"rejected","message":"no"}`))
		}))

		_, err := r.CreateStore(context.Background(), "Market")
		var apiErr *api.Error
		if !errors.As(err, &apiErr) || apiErr.Status != status {
			t.Fatalf("status %d: expected *api.Error, got %v", status, err)
		}
		// Only network-classified failures arm the queue; server responses
		// of any status do not.
		if q.Size() != 0 {
			t.Errorf("status %d: queue size = %d, want 0", status, q.Size())
		}
	}
}

func TestRemoteGetStoreAbsentReturnsNil(t *testing.T) {
	r, _ := setupRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"store_not_found","message":"gone"}`))
	}))

	s, err := r.GetStore(context.Background(), "missing")
	if err != nil {
		t.Fatalf("lookup must map 404 to nil, got %v", err)
	}
	if s != nil {
		t.Errorf("store = %+v, want nil", s)
	}
}

func TestRemoteToggleConflictIsStructuredResult(t *testing.T) {
	r, q := setupRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{
			"code": "check_conflict",
			"message": "already checked by someone else",
			"conflict": {
				"itemId": "li-1",
				"message": "already checked by someone else",
				"current": {"id": "li-1", "storeId": "s1", "isChecked": true}
			}
		}`))
	}))

	conflict, err := r.ToggleShoppingListItemChecked(context.Background(), "s1", "li-1", true)
	if err != nil {
		t.Fatalf("conflict must not surface as error, got %v", err)
	}
	if conflict == nil {
		t.Fatal("expected conflict result")
	}
	if conflict.ItemID != "li-1" {
		t.Errorf("itemId = %q", conflict.ItemID)
	}
	if conflict.Current == nil || !conflict.Current.IsChecked {
		t.Errorf("current = %+v, want server state", conflict.Current)
	}
	if q.Size() != 0 {
		t.Errorf("conflicts must not be queued, size = %d", q.Size())
	}
}

func TestRemoteClearCheckedReturnsCount(t *testing.T) {
	r, _ := setupRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/stores/s1/list/clear-checked" {
			t.Errorf("path = %s", req.URL.Path)
		}
		w.Write([]byte(`{"count": 4}`))
	}))

	count, err := r.ClearCheckedShoppingListItems(context.Background(), "s1")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
}

func TestRemoteUnitsCachedAcrossCalls(t *testing.T) {
	var fetches int
	r, _ := setupRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fetches++
		w.Write([]byte(`{"units":[{"id":"unit-each","name":"each","plural":"each","sortOrder":0}]}`))
	}))

	for i := 0; i < 3; i++ {
		units, err := r.ListUnits(context.Background())
		if err != nil {
			t.Fatalf("list units: %v", err)
		}
		if len(units) != 1 || units[0].ID != "unit-each" {
			t.Errorf("units = %+v", units)
		}
	}
	if fetches != 1 {
		t.Errorf("fetches = %d, want 1 (cache must serve repeats)", fetches)
	}
}

func TestRemoteVersionChangeInvalidatesUnitsCache(t *testing.T) {
	var fetches int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fetches++
		w.Write([]byte(`{"units":[]}`))
	}))
	defer srv.Close()

	ldb, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open local db: %v", err)
	}
	t.Cleanup(func() { ldb.Close() })
	kv := storage.NewKV(ldb)
	client := api.New(srv.URL, nil, nil)

	r1 := NewRemote(client, queue.New(kv, nil), kv, NewBus(), "1.0.0", nil)
	if err := r1.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize v1: %v", err)
	}
	r1.ListUnits(context.Background())
	r1.ListUnits(context.Background())
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1", fetches)
	}

	// Same local storage, new app version: the cache must be dropped.
	r2 := NewRemote(client, queue.New(kv, nil), kv, NewBus(), "2.0.0", nil)
	if err := r2.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize v2: %v", err)
	}
	r2.ListUnits(context.Background())
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 after version change", fetches)
	}
}

func TestRemoteResetClearsQueueUnlessPersisted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {}))
	url := srv.URL
	srv.Close()
	r, q := setupRemoteAt(t, url)

	r.CreateStore(context.Background(), "Market")
	if q.Size() != 1 {
		t.Fatalf("queue size = %d, want 1", q.Size())
	}

	if err := r.Reset(context.Background(), []string{TableQueue}); err != nil {
		t.Fatalf("reset keeping queue: %v", err)
	}
	if q.Size() != 1 {
		t.Errorf("queue must be preserved when named, size = %d", q.Size())
	}

	if err := r.Reset(context.Background(), nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if q.Size() != 0 {
		t.Errorf("queue must be cleared, size = %d", q.Size())
	}
}
