// Package syncer drives mutation queue replay: it turns queued mutations
// back into HTTP requests and reports how each pass went.
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dukerupert/trolley/internal/api"
	"github.com/dukerupert/trolley/internal/db"
	"github.com/dukerupert/trolley/internal/model"
	"github.com/dukerupert/trolley/internal/queue"
)

type Syncer struct {
	client *api.Client
	queue  *queue.Queue
	bus    *db.Bus
	logger *slog.Logger
}

func New(client *api.Client, q *queue.Queue, bus *db.Bus, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		client: client,
		queue:  q,
		bus:    bus,
		logger: logger,
	}
}

// Flush replays the queue once. Replayed writes change server state, so a
// pass with any success pulses the change bus.
func (s *Syncer) Flush(ctx context.Context) queue.Result {
	size := s.queue.Size()
	if size == 0 {
		return queue.Result{}
	}
	s.logger.Info("replaying mutation queue", "pending", size)

	res := s.queue.Process(ctx, s.replay)
	if res.Succeeded > 0 && s.bus != nil {
		s.bus.NotifyChange()
	}
	s.logger.Info("queue replay finished", "succeeded", res.Succeeded, "failed", res.Failed)
	return res
}

func (s *Syncer) replay(ctx context.Context, m model.QueuedMutation) error {
	var body any
	if len(m.Body) > 0 {
		body = json.RawMessage(m.Body)
	}
	_, err := s.client.Do(ctx, m.Method, m.Endpoint, body)
	return err
}

// Run flushes on a fixed interval until the context ends.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}
