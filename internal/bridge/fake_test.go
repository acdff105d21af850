package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/osd-bridge/osdbridge/internal/clock"
	"github.com/osd-bridge/osdbridge/internal/loop"
)

type fakeRecord struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

func (r fakeRecord) DomainID() string { return "obj:" + r.Name }

func normalizeFake(_ NativeID, p Props) (Record, bool) {
	name, ok := p.String("name")
	if !ok || name == "" {
		return nil, false
	}
	level, _ := p.Int("level")
	return fakeRecord{Name: name, Level: level}, true
}

type fakeObject struct {
	id    NativeID
	props Props
}

func obj(index uint32, name string, level int) fakeObject {
	return fakeObject{
		id:    NativeID{Class: "fake", Index: index},
		props: Props{"name": name, "level": float64(level)},
	}
}

// fakeDriver is a scriptable native subsystem. Each Open creates a
// fakeSession whose loop source is a pipe the test can poke through
// Inject.
type fakeDriver struct {
	mu             sync.Mutex
	objects        []fakeObject
	openErrs       []error
	panicEnumerate bool
	controlErr     error
	aggs           []Aggregator

	sessions chan *fakeSession
}

func newFakeDriver(objs ...fakeObject) *fakeDriver {
	return &fakeDriver{objects: objs, sessions: make(chan *fakeSession, 16)}
}

func (d *fakeDriver) setObjects(objs ...fakeObject) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = objs
}

func (d *fakeDriver) Open(_ context.Context, lp *loop.Loop) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	s := &fakeSession{
		driver:   d,
		lp:       lp,
		r:        p[0],
		w:        p[1],
		inject:   make(chan func(Emitter), 64),
		controls: make(chan SetScalar, 128),
	}
	d.sessions <- s
	return s, nil
}

func (d *fakeDriver) Normalize(id NativeID, p Props) (Record, bool) {
	return normalizeFake(id, p)
}

func (d *fakeDriver) Aggregators() []Aggregator {
	return d.aggs
}

type fakeSession struct {
	driver *fakeDriver
	lp     *loop.Loop
	r, w   int

	// emitter is only touched on the loop thread.
	emitter Emitter

	mu       sync.Mutex
	closed   bool
	inject   chan func(Emitter)
	controls chan SetScalar
}

func (s *fakeSession) Enumerate(e Emitter) error {
	s.driver.mu.Lock()
	objs := append([]fakeObject(nil), s.driver.objects...)
	boom := s.driver.panicEnumerate
	s.driver.mu.Unlock()

	if boom {
		panic("enumerate exploded")
	}
	for _, o := range objs {
		e.Upsert(o.id, o.props)
	}
	return nil
}

func (s *fakeSession) Subscribe(e Emitter) error {
	s.emitter = e
	s.lp.Add("fake", s.r, func(int16) error {
		var buf [64]byte
		if n, _ := unix.Read(s.r, buf[:]); n == 0 {
			return io.EOF
		}
		for {
			select {
			case fn := <-s.inject:
				fn(e)
			default:
				return nil
			}
		}
	})
	return nil
}

func (s *fakeSession) Control(obj Tracked, control string, value float64) error {
	s.driver.mu.Lock()
	err := s.driver.controlErr
	s.driver.mu.Unlock()
	if err != nil {
		return err
	}
	s.controls <- SetScalar{Target: obj.DomainID, Control: control, Value: value}
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return errors.Join(unix.Close(s.r), unix.Close(s.w))
}

// Inject runs fn on the loop thread with the session's emitter.
func (s *fakeSession) Inject(t *testing.T, fn func(Emitter)) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		t.Fatal("inject into closed session")
	}
	s.inject <- fn
	unix.Write(s.w, []byte{1})
}

type harness struct {
	t      *testing.T
	bridge *Bridge
	driver *fakeDriver
	clock  *clock.FakeClock
	cancel context.CancelFunc
	done   chan error
}

func defaultTestConfig(d *fakeDriver, clk clock.Clock) Config {
	return Config{
		Subsystem:         "fake",
		Driver:            d,
		EventBuffer:       64,
		SuppressUnchanged: true,
		Backoff:           ExponentialBackoff(time.Second, 4*time.Second),
		Clock:             clk,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newHarness(t *testing.T, d *fakeDriver, configure func(*Config)) *harness {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cfg := defaultTestConfig(d, clk)
	if configure != nil {
		configure(&cfg)
	}
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{t: t, bridge: b, driver: d, clock: clk}
}

func (h *harness) start() {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- h.bridge.Run(ctx) }()
	h.t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	go func() {
		for range h.bridge.Events() {
		}
	}()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.t.Error("bridge did not terminate")
	}
}

func (h *harness) next() Event {
	h.t.Helper()
	select {
	case ev, ok := <-h.bridge.Events():
		if !ok {
			h.t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(3 * time.Second):
		h.t.Fatal("timed out waiting for event")
	}
	return Event{}
}

// expect returns the next event of the given kind. A session_subscribed
// marker is skipped unless it is the kind asked for.
func (h *harness) expect(kind EventKind) Event {
	h.t.Helper()
	ev := h.next()
	for ev.Kind == EventSessionSubscribed && kind != EventSessionSubscribed {
		ev = h.next()
	}
	if ev.Kind != kind {
		h.t.Fatalf("event kind = %s (%+v), want %s", ev.Kind, ev, kind)
	}
	return ev
}

func (h *harness) session() *fakeSession {
	h.t.Helper()
	select {
	case s := <-h.driver.sessions:
		return s
	case <-time.After(3 * time.Second):
		h.t.Fatal("no session opened")
	}
	return nil
}

func (h *harness) controlFrom(s *fakeSession) SetScalar {
	h.t.Helper()
	select {
	case c := <-s.controls:
		return c
	case <-time.After(3 * time.Second):
		h.t.Fatal("no control applied")
	}
	return SetScalar{}
}
