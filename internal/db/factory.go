package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/trolley/internal/api"
	"github.com/dukerupert/trolley/internal/queue"
	"github.com/dukerupert/trolley/internal/storage"
)

// Backend names accepted by the factory.
const (
	BackendRemote = "remote"
	BackendMemory = "memory"
)

// FactoryConfig selects and parameterizes the active backend.
type FactoryConfig struct {
	// Backend is "remote" or "memory". Anything else fails Get.
	Backend    string
	AppVersion string
}

// Factory lazily constructs exactly one Database per process. The first
// Get builds the configured backend and awaits its Initialize; later calls
// return the same instance.
type Factory struct {
	cfg    FactoryConfig
	client *api.Client
	kv     *storage.KV
	queue  *queue.Queue
	bus    *Bus
	logger *slog.Logger

	mu     sync.Mutex
	active Database
}

// NewFactory wires the factory. client, kv, and q may be nil when the
// configured backend is "memory".
func NewFactory(cfg FactoryConfig, client *api.Client, kv *storage.KV, q *queue.Queue, bus *Bus, logger *slog.Logger) *Factory {
	if bus == nil {
		bus = NewBus()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		cfg:    cfg,
		client: client,
		kv:     kv,
		queue:  q,
		bus:    bus,
		logger: logger,
	}
}

// Get returns the singleton Database, constructing and initializing it on
// first use.
func (f *Factory) Get(ctx context.Context) (Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.active != nil {
		return f.active, nil
	}

	var d Database
	switch f.cfg.Backend {
	case BackendRemote:
		d = NewRemote(f.client, f.queue, f.kv, f.bus, f.cfg.AppVersion, f.logger)
	case BackendMemory:
		d = NewMemory(f.bus)
	default:
		return nil, fmt.Errorf("unknown database backend %q", f.cfg.Backend)
	}

	if err := d.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", f.cfg.Backend, err)
	}
	f.active = d
	f.logger.Info("database backend ready", "backend", f.cfg.Backend)
	return d, nil
}

// CloseActive closes and releases the singleton, if any. The next Get
// constructs a fresh instance.
func (f *Factory) CloseActive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil
	}
	err := f.active.Close()
	f.active = nil
	return err
}

// ResetActive resets the active backend, preserving the named tables.
// A no-op when nothing has been constructed yet.
func (f *Factory) ResetActive(ctx context.Context, tablesToPersist []string) error {
	f.mu.Lock()
	d := f.active
	f.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Reset(ctx, tablesToPersist)
}
