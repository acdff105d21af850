package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osd-bridge/osdbridge/internal/clock"
)

// ErrClosed is returned by Send once the consumer has gone away.
var ErrClosed = errors.New("bridge: consumer closed")

// Backpressure selects what Send does when the buffer is full.
type Backpressure string

const (
	// BackpressureBlock waits for buffer space or consumer close.
	BackpressureBlock Backpressure = "block"
	// BackpressureDrop discards the event being sent.
	BackpressureDrop Backpressure = "drop"
)

func (b Backpressure) Valid() bool {
	return b == BackpressureBlock || b == BackpressureDrop
}

const dropLogInterval = 10 * time.Second

// Outbound is the bounded channel between a bridge's loop thread and
// its consumer.
type Outbound struct {
	ch     chan Event
	done   chan struct{}
	policy Backpressure

	closeOnce  sync.Once
	finishOnce sync.Once
	onClose    func()

	dropped     atomic.Uint64
	lastDropLog time.Time
	clock       clock.Clock
	logger      *slog.Logger
}

func NewOutbound(capacity int, policy Backpressure, clk clock.Clock, logger *slog.Logger) (*Outbound, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("outbound capacity must be positive, got %d", capacity)
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown backpressure policy %q", policy)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbound{
		ch:     make(chan Event, capacity),
		done:   make(chan struct{}),
		policy: policy,
		clock:  clk,
		logger: logger,
	}, nil
}

// Send delivers ev under the configured policy. Producer only.
func (o *Outbound) Send(ev Event) error {
	select {
	case <-o.done:
		return ErrClosed
	default:
	}

	if o.policy == BackpressureDrop {
		select {
		case o.ch <- ev:
		default:
			o.recordDrop(ev)
		}
		return nil
	}

	select {
	case o.ch <- ev:
		return nil
	case <-o.done:
		return ErrClosed
	}
}

// recordDrop counts a dropped event and logs at most once per interval.
func (o *Outbound) recordDrop(ev Event) {
	total := o.dropped.Add(1)
	now := o.clock.Now()
	if !o.lastDropLog.IsZero() && now.Sub(o.lastDropLog) < dropLogInterval {
		return
	}
	o.lastDropLog = now
	o.logger.Warn("outbound buffer full, dropping events",
		"kind", ev.Kind,
		"dropped_total", total,
	)
}

// Events is the consumer end. It is closed after the bridge terminates.
func (o *Outbound) Events() <-chan Event {
	return o.ch
}

// Done is closed when the consumer calls Close.
func (o *Outbound) Done() <-chan struct{} {
	return o.done
}

// Close signals that the consumer has gone away. Idempotent and safe
// from any goroutine.
func (o *Outbound) Close() {
	o.closeOnce.Do(func() {
		close(o.done)
		if o.onClose != nil {
			o.onClose()
		}
	})
}

func (o *Outbound) Closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Dropped returns the number of events discarded under the drop policy.
func (o *Outbound) Dropped() uint64 {
	return o.dropped.Load()
}

// finish closes the event channel. Producer only, after its last Send.
func (o *Outbound) finish() {
	o.finishOnce.Do(func() { close(o.ch) })
}
