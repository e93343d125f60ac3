// Package queue is the durable, ordered store of pending write operations.
// Writes that failed because the network was unreachable are parked here and
// replayed later, in original order, against the real backend.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/trolley/internal/api"
	"github.com/dukerupert/trolley/internal/model"
)

// storageKey is the fixed key the serialized queue lives under.
const storageKey = "mutation_queue"

// maxRetries is the cumulative failing-pass cap per entry. Bounds local
// storage growth and keeps a poisoned entry from retrying forever.
const maxRetries = 3

// Storage is the durable key-value capability the queue persists through.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Executor replays one queued mutation against the backend.
type Executor func(ctx context.Context, m model.QueuedMutation) error

// Result aggregates one Process pass. A retried-and-kept entry counts as
// failed for the pass it failed in.
type Result struct {
	Succeeded int
	Failed    int
}

// processState is the queue's single-writer processing state machine.
type processState int

const (
	stateIdle processState = iota
	stateProcessing
)

type Queue struct {
	store  Storage
	logger *slog.Logger

	mu        sync.Mutex
	entries   []model.QueuedMutation
	state     processState
	listeners map[int]func()
	nextSub   int
}

func New(store Storage, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		store:     store,
		logger:    logger,
		listeners: make(map[int]func()),
	}
}

// Load restores the persisted queue. Call once at startup before use.
func (q *Queue) Load() error {
	raw, ok, err := q.store.Get(storageKey)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	if !ok {
		return nil
	}
	var entries []model.QueuedMutation
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return fmt.Errorf("decode queue: %w", err)
	}
	q.mu.Lock()
	q.entries = entries
	q.mu.Unlock()
	return nil
}

// Enqueue appends a new entry with retry count zero, persists the whole
// queue, and notifies subscribers.
func (q *Queue) Enqueue(operation, endpoint, method string, body any) error {
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode mutation body: %w", err)
		}
		raw = b
	}

	m := model.QueuedMutation{
		ID:        model.NewMutationID(time.Now()),
		Timestamp: time.Now().UTC(),
		Operation: operation,
		Endpoint:  endpoint,
		Method:    method,
		Body:      raw,
	}

	q.mu.Lock()
	q.entries = append(q.entries, m)
	err := q.persistLocked()
	q.mu.Unlock()

	q.notify()
	if err != nil {
		return err
	}
	q.logger.Debug("mutation queued", "operation", operation, "endpoint", endpoint, "method", method)
	return nil
}

// Dequeue removes one entry by id, persists, and notifies. Removing an
// absent id is a no-op.
func (q *Queue) Dequeue(id string) error {
	q.mu.Lock()
	for i, m := range q.entries {
		if m.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	err := q.persistLocked()
	q.mu.Unlock()

	q.notify()
	return err
}

// Clear drops every entry, persists, and notifies.
func (q *Queue) Clear() error {
	q.mu.Lock()
	q.entries = nil
	err := q.persistLocked()
	q.mu.Unlock()

	q.notify()
	return err
}

// Entries returns a copy of the current queue in processing order.
func (q *Queue) Entries() []model.QueuedMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]model.QueuedMutation, len(q.entries))
	copy(out, q.entries)
	return out
}

func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Subscribe registers a listener invoked synchronously after every queue
// mutation. The returned function unsubscribes.
func (q *Queue) Subscribe(fn func()) func() {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.listeners[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

// Process replays a snapshot of the current queue, strictly in order, one
// executor call at a time. Entries enqueued while a pass runs wait for the
// next pass. A second Process call while one is running returns a zero
// Result immediately.
//
// Per entry: success dequeues it; a permanent rejection (4xx other than
// timeout or rate limit) dequeues it without retry; any other failure bumps
// its retry count, records the error, and gives up at the cap.
func (q *Queue) Process(ctx context.Context, exec Executor) Result {
	q.mu.Lock()
	if q.state == stateProcessing {
		q.mu.Unlock()
		return Result{}
	}
	q.state = stateProcessing
	snapshot := make([]model.QueuedMutation, len(q.entries))
	copy(snapshot, q.entries)
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.state = stateIdle
		q.mu.Unlock()
	}()

	var res Result
	for _, m := range snapshot {
		err := exec(ctx, m)
		if err == nil {
			if derr := q.Dequeue(m.ID); derr != nil {
				q.logger.Warn("dequeue after replay failed", "id", m.ID, "error", derr)
			}
			res.Succeeded++
			continue
		}

		res.Failed++
		if api.IsPermanent(err) {
			q.logger.Warn("dropping permanently rejected mutation",
				"id", m.ID, "operation", m.Operation, "error", err)
			if derr := q.Dequeue(m.ID); derr != nil {
				q.logger.Warn("dequeue after permanent failure failed", "id", m.ID, "error", derr)
			}
			continue
		}

		retries := m.RetryCount + 1
		if retries >= maxRetries {
			q.logger.Warn("giving up on mutation after retry cap",
				"id", m.ID, "operation", m.Operation, "error", err)
			if derr := q.Dequeue(m.ID); derr != nil {
				q.logger.Warn("dequeue after retry cap failed", "id", m.ID, "error", derr)
			}
			continue
		}
		q.recordRetry(m.ID, retries, err)
	}
	return res
}

// recordRetry updates one entry's retry metadata in place and persists.
// The entry keeps its queue position; no re-insertion at the tail.
func (q *Queue) recordRetry(id string, retries int, cause error) {
	msg := cause.Error()
	q.mu.Lock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries[i].RetryCount = retries
			q.entries[i].LastError = &msg
			break
		}
	}
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		q.logger.Warn("persist retry metadata failed", "id", id, "error", err)
	}
}

// persistLocked serializes the full queue to storage. Caller holds q.mu.
func (q *Queue) persistLocked() error {
	b, err := json.Marshal(q.entries)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	if err := q.store.Set(storageKey, string(b)); err != nil {
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

// notify fans out to subscribers outside the lock.
func (q *Queue) notify() {
	q.mu.Lock()
	fns := make([]func(), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
