package rfkill

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/loop"
)

const controlSoftBlock = "soft_block"

type session struct {
	client Client
	lp     *loop.Loop
	logger *slog.Logger
	conn   Conn
}

func (s *session) Enumerate(e bridge.Emitter) error {
	switches, err := s.client.List()
	if err != nil {
		return err
	}
	for _, sw := range switches {
		e.Upsert(bridge.NativeID{Class: ClassSwitch, Index: sw.Index}, props(sw.Index, sw.Type, sw.Name, sw.Soft, sw.Hard))
	}
	return nil
}

func (s *session) Subscribe(e bridge.Emitter) error {
	conn, err := s.client.Open()
	if err != nil {
		return err
	}
	s.conn = conn
	s.lp.Add("rfkill", conn.Fd(), func(int16) error {
		return s.onReadable(e)
	})
	return nil
}

func (s *session) onReadable(e bridge.Emitter) error {
	for {
		ev, ok, err := s.conn.ReadEvent()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		s.handle(ev, e)
	}
}

func (s *session) handle(ev Event, e bridge.Emitter) {
	id := bridge.NativeID{Class: ClassSwitch, Index: ev.Index}
	switch ev.Op {
	case OpAdd, OpChange:
		name, _ := s.client.Name(ev.Index)
		e.Upsert(id, props(ev.Index, ev.Type.String(), name, ev.Soft, ev.Hard))
	case OpDel:
		e.Remove(id)
	default:
		s.logger.Debug("ignoring rfkill event", "op", ev.Op, "index", ev.Index)
	}
}

func (s *session) Control(obj bridge.Tracked, control string, value float64) error {
	if control != controlSoftBlock {
		return fmt.Errorf("%w: %s on %s", bridge.ErrUnsupportedControl, control, obj.DomainID)
	}
	return s.conn.WriteEvent(Event{Index: obj.NativeID.Index, Op: OpChange, Soft: value != 0})
}

// ControlAll soft-blocks or unblocks every switch of every type.
func (s *session) ControlAll(control string, value float64) error {
	if control != controlSoftBlock {
		return fmt.Errorf("%w: %s", bridge.ErrUnsupportedControl, control)
	}
	return s.conn.WriteEvent(Event{Type: TypeAll, Op: OpChangeAll, Soft: value != 0})
}

func (s *session) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

type Options struct {
	SysfsDir string
	Device   string
}

// Driver is the bridge.Driver for rfkill.
type Driver struct {
	client Client
	logger *slog.Logger
}

func NewDriver(opts Options, logger *slog.Logger) *Driver {
	return newDriver(NewSysClient(opts.SysfsDir, opts.Device), logger)
}

func newDriver(client Client, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{client: client, logger: logger}
}

func (d *Driver) Open(_ context.Context, lp *loop.Loop) (bridge.Session, error) {
	return &session{client: d.client, lp: lp, logger: d.logger}, nil
}

func (d *Driver) Normalize(id bridge.NativeID, p bridge.Props) (bridge.Record, bool) {
	return Normalize(id, p)
}

func (d *Driver) Aggregators() []bridge.Aggregator {
	return []bridge.Aggregator{{Name: SignalAirplaneMode, Compute: AirplaneMode}}
}
