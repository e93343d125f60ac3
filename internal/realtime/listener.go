// Package realtime subscribes to the backend's live change feed and folds
// every broadcast into the local change bus, so collaborator edits
// invalidate this client's caches the same way local writes do.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	ws "github.com/coder/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/trolley/internal/db"
)

const maxReconnectWait = 2 * time.Minute

// Message is one change broadcast from the backend. Only receipt matters to
// cache invalidation; the fields exist for logging.
type Message struct {
	Type   string `json:"type"`
	Entity string `json:"entity"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// Listener maintains a websocket subscription to the backend's change feed,
// reconnecting with exponential backoff when the connection drops.
type Listener struct {
	url    string
	bus    *db.Bus
	logger *slog.Logger
}

// New creates a listener for the feed at baseURL's /api/ws endpoint.
func New(baseURL string, bus *db.Bus, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	url := strings.Replace(baseURL, "http", "ws", 1) + "/api/ws"
	return &Listener{
		url:    url,
		bus:    bus,
		logger: logger,
	}
}

// Run connects and pumps messages until the context ends. Connection drops
// trigger reconnects with capped exponential backoff; the backoff resets
// after each successful session.
func (l *Listener) Run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, err := l.connect(ctx)
		if err != nil {
			return
		}
		l.pump(ctx, conn)
	}
}

// connect dials until a session is established or the context ends.
func (l *Listener) connect(ctx context.Context) (*ws.Conn, error) {
	var conn *ws.Conn
	backoff := retry.WithCappedDuration(maxReconnectWait, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, _, err := ws.Dial(ctx, l.url, nil)
		if err != nil {
			l.logger.Debug("change feed dial failed", "error", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("change feed connected", "url", l.url)
	return conn, nil
}

// pump reads one session until the connection drops or the context ends.
func (l *Listener) pump(ctx context.Context, conn *ws.Conn) {
	defer conn.Close(ws.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Debug("change feed disconnected", "error", err)
			}
			return
		}
		l.handle(data)
	}
}

func (l *Listener) handle(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		l.logger.Debug("unparseable change feed message", "error", err)
	} else {
		l.logger.Debug("change feed message", "type", msg.Type, "entity", msg.Entity)
	}
	// Any broadcast means some entity changed somewhere.
	l.bus.NotifyChange()
}
