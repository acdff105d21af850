package pulse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strconv"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/loop"
	"github.com/osd-bridge/osdbridge/internal/native"
)

// Signals emitted by the pulse bridge.
const (
	SignalDefaultSink   = "default_sink"
	SignalDefaultSource = "default_source"
)

const maxVolumePercent = 150

// facilities maps a subscription facility to its listing name and id
// class.
var facilities = map[string]struct{ list, class string }{
	"sink":   {"sinks", ClassSink},
	"source": {"sources", ClassSource},
	"card":   {"cards", ClassCard},
}

var eventLine = regexp.MustCompile(`^Event '([a-z]+)' on ([a-z-]+) #(-?[0-9]+)$`)

// defaults tracks the server's default sink and source names. It is
// owned by the loop thread; only changes are emitted.
type defaults struct {
	sink, source       string
	sinkSet, sourceSet bool
}

func (d *defaults) apply(info ServerInfo, e bridge.Emitter) {
	if !d.sinkSet || info.DefaultSinkName != d.sink {
		d.sink, d.sinkSet = info.DefaultSinkName, true
		e.Signal(SignalDefaultSink, d.sink)
	}
	if !d.sourceSet || info.DefaultSourceName != d.source {
		d.source, d.sourceSet = info.DefaultSourceName, true
		e.Signal(SignalDefaultSource, d.source)
	}
}

type session struct {
	ctx    context.Context
	client Client
	lp     *loop.Loop
	logger *slog.Logger

	defaults defaults
	stream   native.EventStream
	framer   native.LineFramer
	buf      []byte

	// dirty collects objects named by subscription lines within one
	// read batch so each facility is listed at most once per batch.
	// order holds the facilities (and "server") in first-seen order.
	dirty       map[string]map[uint32]struct{}
	order       []string
	serverDirty bool
	lineErr     error
}

func newSession(ctx context.Context, client Client, lp *loop.Loop, logger *slog.Logger) *session {
	return &session{
		ctx:    ctx,
		client: client,
		lp:     lp,
		logger: logger,
		buf:    make([]byte, 4096),
		dirty:  make(map[string]map[uint32]struct{}),
	}
}

func (s *session) Enumerate(e bridge.Emitter) error {
	info, err := s.client.ServerInfo(s.ctx)
	if err != nil {
		return err
	}
	s.defaults.apply(info, e)

	for _, facility := range []string{"sink", "source", "card"} {
		f := facilities[facility]
		objs, err := s.client.List(s.ctx, f.list)
		if err != nil {
			return err
		}
		for _, p := range objs {
			index, ok := p.Uint32("index")
			if !ok {
				s.logger.Debug("pulse object without index", "facility", facility)
				continue
			}
			e.Upsert(bridge.NativeID{Class: f.class, Index: index}, p)
		}
	}
	return nil
}

func (s *session) Subscribe(e bridge.Emitter) error {
	stream, err := s.client.Subscribe()
	if err != nil {
		return err
	}
	s.stream = stream
	s.lp.Add("pactl-subscribe", stream.Fd(), func(int16) error {
		return s.onReadable(e)
	})
	return nil
}

func (s *session) onReadable(e bridge.Emitter) error {
	for {
		n, err := s.stream.Read(s.buf)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("pactl subscribe exited: %w", err)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		s.framer.Push(s.buf[:n], func(line []byte) {
			if s.lineErr == nil {
				s.lineErr = s.handleLine(string(line), e)
			}
		})
		if err := s.lineErr; err != nil {
			s.lineErr = nil
			return err
		}
	}
	return s.flush(e)
}

func (s *session) handleLine(line string, e bridge.Emitter) error {
	m := eventLine.FindStringSubmatch(line)
	if m == nil {
		s.logger.Debug("unrecognized pactl event", "line", line)
		return nil
	}
	op, facility := m[1], m[2]
	if facility == "server" {
		if !s.serverDirty {
			s.serverDirty = true
			s.order = append(s.order, facility)
		}
		return nil
	}
	f, ok := facilities[facility]
	if !ok {
		return nil
	}
	index, err := strconv.ParseUint(m[3], 10, 32)
	if err != nil {
		return nil
	}

	if op == "remove" {
		// Earlier changes in this batch go out before the removal.
		if err := s.flush(e); err != nil {
			return err
		}
		e.Remove(bridge.NativeID{Class: f.class, Index: uint32(index)})
		return nil
	}
	if s.dirty[facility] == nil {
		s.dirty[facility] = make(map[uint32]struct{})
		s.order = append(s.order, facility)
	}
	s.dirty[facility][uint32(index)] = struct{}{}
	return nil
}

// flush re-reads everything marked dirty, facility by facility in the
// order they were first named. A failing pactl call means the server is
// unreachable, which ends the session.
func (s *session) flush(e bridge.Emitter) error {
	order := s.order
	s.order = nil
	for _, facility := range order {
		if facility == "server" {
			s.serverDirty = false
			info, err := s.client.ServerInfo(s.ctx)
			if err != nil {
				return err
			}
			s.defaults.apply(info, e)
			continue
		}
		if err := s.flushFacility(facility, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) flushFacility(facility string, e bridge.Emitter) error {
	wanted := s.dirty[facility]
	delete(s.dirty, facility)
	if len(wanted) == 0 {
		return nil
	}
	f := facilities[facility]
	objs, err := s.client.List(s.ctx, f.list)
	if err != nil {
		return err
	}
	for _, p := range objs {
		index, ok := p.Uint32("index")
		if !ok {
			continue
		}
		if _, ok := wanted[index]; ok {
			delete(wanted, index)
			e.Upsert(bridge.NativeID{Class: f.class, Index: index}, p)
		}
	}
	// Changed but no longer listed: it went away between the event
	// and the listing.
	gone := make([]uint32, 0, len(wanted))
	for index := range wanted {
		gone = append(gone, index)
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, index := range gone {
		e.Remove(bridge.NativeID{Class: f.class, Index: index})
	}
	return nil
}

func (s *session) Control(obj bridge.Tracked, control string, value float64) error {
	dev, ok := obj.Record.(Device)
	if !ok {
		return fmt.Errorf("%w: %s on %s", bridge.ErrUnsupportedControl, control, obj.DomainID)
	}

	switch control {
	case "volume":
		pct := min(max(value, 0), maxVolumePercent)
		return s.client.SetVolume(s.ctx, dev.Kind, dev.Name, percentArg(pct))
	case "mute":
		return s.client.SetMute(s.ctx, dev.Kind, dev.Name, value != 0)
	case "balance":
		if dev.Kind != KindSink || !dev.CanBalance {
			return fmt.Errorf("%w: balance on %s", bridge.ErrUnsupportedControl, obj.DomainID)
		}
		raw := balancedVolumes(dev.Channels, dev.ChannelVolumes, value)
		args := make([]string, len(raw))
		for i, v := range raw {
			args[i] = strconv.FormatUint(uint64(v), 10)
		}
		return s.client.SetVolume(s.ctx, dev.Kind, dev.Name, args...)
	}
	return fmt.Errorf("%w: %s on %s", bridge.ErrUnsupportedControl, control, obj.DomainID)
}

func (s *session) Close() error {
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
