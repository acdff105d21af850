// Package hub runs a set of bridges and fans their events into the
// state store and any number of sinks.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/state"
)

// ErrUnknownSubsystem is returned by Enqueue for a name no bridge
// serves.
var ErrUnknownSubsystem = errors.New("unknown subsystem")

// Sink receives every event after the store has applied it, and health
// changes as the store reports them.
type Sink interface {
	BroadcastEvent(ev bridge.Event)
	BroadcastHealth(h state.Health)
}

// Bridge is the part of *bridge.Bridge the hub drives.
type Bridge interface {
	Subsystem() string
	Run(ctx context.Context) error
	Events() <-chan bridge.Event
	Enqueue(cmd bridge.Command) error
	Close()
}

var _ Bridge = (*bridge.Bridge)(nil)

type Hub struct {
	store   *state.Store
	logger  *slog.Logger
	bridges map[string]Bridge

	mu    sync.RWMutex
	sinks []Sink
}

func New(store *state.Store, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:   store,
		logger:  logger,
		bridges: make(map[string]Bridge),
	}
}

// Add registers b. It must be called before Run.
func (h *Hub) Add(b Bridge) error {
	name := b.Subsystem()
	if _, ok := h.bridges[name]; ok {
		return fmt.Errorf("hub: duplicate subsystem %q", name)
	}
	h.bridges[name] = b
	h.store.Register(name)
	return nil
}

// AddSink attaches s. Safe to call while running.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

func (h *Hub) Subsystems() []string {
	names := make([]string, 0, len(h.bridges))
	for name := range h.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Hub) Enqueue(subsystem string, cmd bridge.Command) error {
	b, ok := h.bridges[subsystem]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSubsystem, subsystem)
	}
	return b.Enqueue(cmd)
}

// Run starts every bridge and forwards events until all of them have
// terminated, which happens once ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if len(h.bridges) == 0 {
		return errors.New("hub: no bridges")
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for name, b := range h.bridges {
		name, b := name, b
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := b.Run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			h.forward(b)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (h *Hub) forward(b Bridge) {
	for ev := range b.Events() {
		health, changed := h.store.Apply(ev)

		h.mu.RLock()
		sinks := h.sinks
		h.mu.RUnlock()

		for _, s := range sinks {
			s.BroadcastEvent(ev)
			if changed {
				s.BroadcastHealth(health)
			}
		}
		if changed {
			h.logger.Info("subsystem health changed",
				"subsystem", health.Subsystem,
				"status", health.Status,
				"failures", health.ConsecutiveFailures,
				"last_error", health.LastError)
		}
	}
	h.logger.Debug("event stream closed", "subsystem", b.Subsystem())
}

// Close tells every bridge that the consumer is gone.
func (h *Hub) Close() {
	for _, b := range h.bridges {
		b.Close()
	}
}
