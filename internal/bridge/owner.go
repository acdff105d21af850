package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/osd-bridge/osdbridge/internal/clock"
	"github.com/osd-bridge/osdbridge/internal/loop"
)

// State is the lifecycle state of a bridge.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateEnumerating
	StateSubscribed
	StateTerminated
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateEnumerating:  "enumerating",
	StateSubscribed:   "subscribed",
	StateTerminated:   "terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// DropPolicy decides whether a command whose target cannot be resolved
// is reported to the consumer.
type DropPolicy string

const (
	DropSilent DropPolicy = "silent"
	DropReport DropPolicy = "report"
)

func (p DropPolicy) Valid() bool {
	return p == DropSilent || p == DropReport
}

// Config configures a Bridge.
type Config struct {
	Subsystem string
	Driver    Driver

	EventBuffer  int
	Backpressure Backpressure
	DropPolicy   DropPolicy

	// SuppressUnchanged skips updated events whose record equals the one
	// already stored.
	SuppressUnchanged bool

	Backoff Backoff
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Bridge mirrors one native subsystem into an event stream and feeds
// commands back into it. Run owns the native loop on a dedicated OS
// thread; Enqueue and Close may be called from anywhere.
type Bridge struct {
	subsystem         string
	driver            Driver
	aggregators       []Aggregator
	dropPolicy        DropPolicy
	suppressUnchanged bool
	backoff           Backoff
	clock             clock.Clock
	logger            *slog.Logger

	queue *Queue
	out   *Outbound

	state   atomic.Int32
	running atomic.Bool

	statsMu sync.Mutex
	stats   ListenerStats
}

func New(cfg Config) (*Bridge, error) {
	if cfg.Subsystem == "" {
		return nil, errors.New("bridge: subsystem name is required")
	}
	if cfg.Driver == nil {
		return nil, errors.New("bridge: driver is required")
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Backpressure == "" {
		cfg.Backpressure = BackpressureBlock
	}
	if cfg.DropPolicy == "" {
		cfg.DropPolicy = DropSilent
	}
	if !cfg.DropPolicy.Valid() {
		return nil, fmt.Errorf("bridge: unknown drop policy %q", cfg.DropPolicy)
	}
	if cfg.Backoff == nil {
		cfg.Backoff = ExponentialBackoff(time.Second, 30*time.Second)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("subsystem", cfg.Subsystem)

	out, err := NewOutbound(cfg.EventBuffer, cfg.Backpressure, cfg.Clock, logger)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", cfg.Subsystem, err)
	}
	queue, err := NewQueue()
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", cfg.Subsystem, err)
	}
	out.onClose = queue.Wake

	b := &Bridge{
		subsystem:         cfg.Subsystem,
		driver:            cfg.Driver,
		dropPolicy:        cfg.DropPolicy,
		suppressUnchanged: cfg.SuppressUnchanged,
		backoff:           cfg.Backoff,
		clock:             cfg.Clock,
		logger:            logger,
		queue:             queue,
		out:               out,
	}
	if agg, ok := cfg.Driver.(Aggregating); ok {
		b.aggregators = agg.Aggregators()
	}
	return b, nil
}

func (b *Bridge) Subsystem() string { return b.subsystem }

// Events returns the outbound stream. It is closed when Run returns.
func (b *Bridge) Events() <-chan Event { return b.out.Events() }

// Enqueue submits a command. Commands submitted while disconnected run
// once the next session is subscribed.
func (b *Bridge) Enqueue(cmd Command) error { return b.queue.Enqueue(cmd) }

// Close signals that the consumer is gone. Run tears down and returns.
func (b *Bridge) Close() { b.out.Close() }

func (b *Bridge) State() State { return State(b.state.Load()) }

// Dropped returns how many events the drop backpressure policy
// discarded.
func (b *Bridge) Dropped() uint64 { return b.out.Dropped() }

// ListenerStats returns listener callback counters accumulated across
// all sessions.
func (b *Bridge) ListenerStats() ListenerStats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	if prev != s {
		b.logger.Debug("bridge state", "from", prev, "to", s)
	}
}

// Run drives sessions until the consumer closes or ctx is cancelled,
// which counts as the consumer going away. It returns nil in both
// cases. Session failures are reported as session_error events and
// followed by a reconnect after the configured backoff.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge %s: already running", b.subsystem)
	}

	errc := make(chan error, 1)
	go func() {
		// The goroutine exits without unlocking so the runtime retires
		// the thread along with any native state bound to it.
		runtime.LockOSThread()
		errc <- b.own(ctx)
	}()
	return <-errc
}

func (b *Bridge) own(ctx context.Context) error {
	stop := context.AfterFunc(ctx, b.out.Close)
	defer func() {
		stop()
		b.setState(StateTerminated)
		b.queue.Close()
		b.out.finish()
	}()

	attempt := 0
	for {
		subscribed, err := b.session(ctx)
		if b.out.Closed() || errors.Is(err, ErrClosed) {
			b.logger.Info("consumer closed, bridge terminating")
			return nil
		}
		if err == nil {
			err = errors.New("native loop stopped")
		}
		b.setState(StateDisconnected)
		if subscribed {
			attempt = 0
		}

		delay := b.backoff(attempt)
		attempt++
		b.logger.Warn("native session failed", "error", err, "retry_in", delay)
		if sendErr := b.out.Send(Event{
			Kind:      EventSessionError,
			Subsystem: b.subsystem,
			Reason:    err.Error(),
			Time:      b.clock.Now(),
		}); sendErr != nil {
			return nil
		}

		select {
		case <-b.clock.After(delay):
		case <-b.out.Done():
			return nil
		}
	}
}

// session runs one native session to completion. subscribed reports
// whether it got as far as the Subscribed state.
func (b *Bridge) session(ctx context.Context) (subscribed bool, err error) {
	id := uuid.NewString()
	s := &session{
		bridge:   b,
		id:       id,
		logger:   b.logger.With("session", id),
		lp:       loop.New(),
		table:    NewTable(),
		aggState: make(map[string]any),
	}
	s.listeners = NewListeners(s.table)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in native session: %v", r)
		}
		s.teardown()
	}()

	b.setState(StateConnecting)
	native, err := b.driver.Open(ctx, s.lp)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	s.native = native
	if binder, ok := native.(Binder); ok {
		s.binder = binder
	}

	s.emit(Event{Kind: EventSessionStarted})
	if s.err != nil {
		return false, s.err
	}

	b.setState(StateEnumerating)
	s.enumerating = true
	err = native.Enumerate(s)
	s.enumerating = false
	if err != nil {
		return false, fmt.Errorf("enumerate: %w", err)
	}
	if s.err != nil {
		return false, s.err
	}
	s.aggregate(true)

	if err := native.Subscribe(s); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	if err := b.queue.attach(); err != nil {
		return false, err
	}
	s.attached = true
	s.wake = s.lp.Add("commands", b.queue.Fd(), s.onWake)
	s.hasWake = true

	b.setState(StateSubscribed)
	s.logger.Info("native session subscribed", "objects", s.table.Len())
	s.emit(Event{Kind: EventSessionSubscribed})
	if s.err != nil {
		return true, s.err
	}

	// Commands may have queued up while disconnected, and their wake
	// byte was consumed by an earlier session or never registered.
	if err := s.drain(); err != nil {
		return true, err
	}
	if s.err != nil {
		return true, s.err
	}
	return true, s.lp.Run()
}

// session is the per-connection state. Every field is owned by the
// loop thread.
type session struct {
	bridge *Bridge
	id     string
	logger *slog.Logger

	lp        *loop.Loop
	native    Session
	binder    Binder
	table     *Table
	listeners *Listeners
	aggState  map[string]any

	wake     loop.SourceID
	hasWake  bool
	attached bool

	// seen collects ids reported during a rescan.
	seen map[NativeID]struct{}
	// aggregates are held back during the initial enumeration and
	// emitted once it completes.
	enumerating bool

	err    error
	closed bool
}

func (s *session) fail(err error) {
	if s.err == nil {
		s.err = err
	}
	s.lp.Quit(err)
}

func (s *session) emit(ev Event) {
	if s.err != nil {
		return
	}
	ev.Subsystem = s.bridge.subsystem
	ev.Session = s.id
	ev.Time = s.bridge.clock.Now()
	if err := s.bridge.out.Send(ev); err != nil {
		s.fail(err)
	}
}

// lateCallback counts a native callback that arrived after teardown.
// The per-session counters were already folded into the bridge.
func (s *session) lateCallback() {
	s.bridge.statsMu.Lock()
	s.bridge.stats.Stale++
	s.bridge.statsMu.Unlock()
}

func (s *session) Upsert(id NativeID, props Props) {
	if s.closed {
		s.lateCallback()
		return
	}
	if s.err != nil {
		return
	}
	if s.seen != nil {
		s.seen[id] = struct{}{}
	}

	rec, ok := s.bridge.driver.Normalize(id, props)
	if !ok {
		s.logger.Debug("native payload suppressed", "native_id", id)
		return
	}

	prev, _ := s.table.Get(id)
	domainID, created := s.table.Upsert(id, rec)
	if created {
		if _, ok := s.listeners.Attach(id); ok && s.binder != nil {
			if err := s.binder.Bind(Tracked{NativeID: id, DomainID: domainID, Record: rec}); err != nil {
				s.logger.Warn("binding native object", "domain_id", domainID, "error", err)
			}
		}
		s.emit(Event{Kind: EventAdded, DomainID: domainID, Record: rec})
	} else {
		if s.bridge.suppressUnchanged && reflect.DeepEqual(prev.Record, rec) {
			return
		}
		s.listeners.Deliver(id, func(obj Tracked) {
			s.emit(Event{Kind: EventUpdated, DomainID: obj.DomainID, Record: obj.Record})
		})
	}
	if !s.enumerating {
		s.aggregate(false)
	}
}

func (s *session) Remove(id NativeID) {
	if s.closed {
		s.lateCallback()
		return
	}
	if s.err != nil {
		return
	}
	obj, ok := s.table.Get(id)
	if !ok {
		return
	}
	if l, ok := s.listeners.Lookup(id); ok {
		s.listeners.Detach(l)
		if s.binder != nil {
			s.binder.Unbind(obj)
		}
	}
	s.table.Remove(id)
	s.emit(Event{Kind: EventRemoved, DomainID: obj.DomainID})
	if !s.enumerating {
		s.aggregate(false)
	}
}

func (s *session) Signal(name string, value any) {
	if s.closed {
		return
	}
	s.emit(Event{Kind: EventSignal, Signal: name, Value: value})
}

func (s *session) Fatal(err error) {
	if s.closed {
		return
	}
	s.fail(err)
}

// aggregate re-evaluates every aggregator and emits the ones whose
// value changed, or all of them when force is set.
func (s *session) aggregate(force bool) {
	for _, agg := range s.bridge.aggregators {
		v := agg.Compute(s.table)
		prev, ok := s.aggState[agg.Name]
		if !force && ok && reflect.DeepEqual(prev, v) {
			continue
		}
		s.aggState[agg.Name] = v
		s.emit(Event{Kind: EventSignal, Signal: agg.Name, Value: v})
	}
}

func (s *session) onWake(int16) error {
	return s.drain()
}

// drain executes every queued command. It also notices consumer close,
// which is delivered as a bare wake.
func (s *session) drain() error {
	cmds := s.bridge.queue.Take()
	if s.bridge.out.Closed() {
		s.lp.Quit(ErrClosed)
		return nil
	}
	for _, cmd := range cmds {
		if err := s.execute(cmd); err != nil {
			return err
		}
		if s.err != nil {
			return nil
		}
	}
	return nil
}

func (s *session) execute(cmd Command) error {
	switch c := cmd.(type) {
	case SetScalar:
		return s.setScalar(c)
	case Rescan:
		return s.rescan()
	default:
		s.dropped(cmd, "unknown command")
		return nil
	}
}

func (s *session) setScalar(c SetScalar) error {
	var err error
	if c.Target == "" {
		all, ok := s.native.(AllController)
		if !ok {
			s.dropped(c, "subsystem has no broadcast control")
			return nil
		}
		err = all.ControlAll(c.Control, c.Value)
	} else {
		obj, ok := s.table.Lookup(c.Target)
		if !ok {
			s.dropped(c, "target not found")
			return nil
		}
		err = s.native.Control(obj, c.Control, c.Value)
	}
	if err == nil {
		s.logger.Debug("command applied", "command", c.String())
		return nil
	}
	if IsFatal(err) {
		return fmt.Errorf("%s: %w", c, err)
	}
	if errors.Is(err, ErrUnsupportedControl) {
		s.dropped(c, err.Error())
		return nil
	}
	s.logger.Warn("command failed", "command", c.String(), "error", err)
	return nil
}

func (s *session) rescan() error {
	s.seen = make(map[NativeID]struct{}, s.table.Len())
	err := s.native.Enumerate(s)
	seen := s.seen
	s.seen = nil
	if err != nil {
		return fmt.Errorf("rescan: %w", err)
	}

	var gone []NativeID
	s.table.Each(func(obj Tracked) {
		if _, ok := seen[obj.NativeID]; !ok {
			gone = append(gone, obj.NativeID)
		}
	})
	for _, id := range gone {
		s.Remove(id)
	}
	s.logger.Debug("rescan reconciled", "removed", len(gone), "objects", s.table.Len())
	return nil
}

func (s *session) dropped(cmd Command, reason string) {
	s.logger.Debug("command dropped", "command", cmd.String(), "reason", reason)
	if s.bridge.dropPolicy != DropReport {
		return
	}
	ev := Event{Kind: EventCommandDropped, Reason: reason + ": " + cmd.String()}
	if c, ok := cmd.(SetScalar); ok {
		ev.DomainID = c.Target
	}
	s.emit(ev)
}

// teardown releases everything the session holds. The wake source is
// deregistered before the queue consumer detaches, listeners are
// detached before the table is cleared, and the native session closes
// last.
func (s *session) teardown() {
	if s.hasWake {
		s.lp.Remove(s.wake)
		s.hasWake = false
	}
	if s.attached {
		s.bridge.queue.detach()
		s.attached = false
	}
	for _, id := range s.listeners.DetachAll() {
		if s.binder == nil {
			continue
		}
		if obj, ok := s.table.Get(id); ok {
			s.binder.Unbind(obj)
		}
	}
	s.table.Clear()
	s.closed = true

	if s.native != nil {
		if err := s.native.Close(); err != nil {
			s.logger.Debug("closing native session", "error", err)
		}
	}

	s.bridge.statsMu.Lock()
	s.bridge.stats.Delivered += s.listeners.stats.Delivered
	s.bridge.stats.Stale += s.listeners.stats.Stale
	s.bridge.statsMu.Unlock()
}
