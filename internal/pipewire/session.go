package pipewire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/loop"
	"github.com/osd-bridge/osdbridge/internal/native"
)

const maxVolume = 1.5

type session struct {
	ctx    context.Context
	client Client
	lp     *loop.Loop
	logger *slog.Logger

	stream native.EventStream
	framer native.ArrayFramer
	buf    []byte

	// bound holds the registry ids of nodes currently in the table.
	bound map[uint32]string
}

func newSession(ctx context.Context, client Client, lp *loop.Loop, logger *slog.Logger) *session {
	return &session{
		ctx:    ctx,
		client: client,
		lp:     lp,
		logger: logger,
		buf:    make([]byte, 16*1024),
		bound:  make(map[uint32]string),
	}
}

func (s *session) Enumerate(e bridge.Emitter) error {
	objs, err := s.client.Dump(s.ctx)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		s.apply(obj, e)
	}
	return nil
}

// apply routes one registry object: an object whose info is null is a
// removal, a node is an upsert, anything else is ignored.
func (s *session) apply(obj bridge.Props, e bridge.Emitter) {
	id, ok := obj.Uint32("id")
	if !ok {
		return
	}
	nid := bridge.NativeID{Class: ClassNode, Index: id}
	if obj.Has("info") && obj["info"] == nil {
		e.Remove(nid)
		return
	}
	if t, _ := obj.String("type"); t != typeNode {
		return
	}
	e.Upsert(nid, obj)
}

func (s *session) Subscribe(e bridge.Emitter) error {
	stream, err := s.client.Monitor()
	if err != nil {
		return err
	}
	s.stream = stream
	s.lp.Add("pw-dump-monitor", stream.Fd(), func(int16) error {
		return s.onReadable(e)
	})
	return nil
}

func (s *session) onReadable(e bridge.Emitter) error {
	for {
		n, err := s.stream.Read(s.buf)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("pw-dump monitor exited: %w", err)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		s.framer.Push(s.buf[:n], func(array []byte) {
			objs, err := decodeObjects(array)
			if err != nil {
				s.logger.Debug("skipping undecodable pw-dump batch", "error", err)
				return
			}
			for _, obj := range objs {
				s.apply(obj, e)
			}
		})
	}
}

func (s *session) Bind(obj bridge.Tracked) error {
	s.bound[obj.NativeID.Index] = obj.DomainID
	return nil
}

func (s *session) Unbind(obj bridge.Tracked) {
	delete(s.bound, obj.NativeID.Index)
}

func (s *session) Control(obj bridge.Tracked, control string, value float64) error {
	if _, ok := s.bound[obj.NativeID.Index]; !ok {
		return fmt.Errorf("%w: node %s is not bound", bridge.ErrUnsupportedControl, obj.DomainID)
	}
	switch control {
	case "volume":
		return s.client.SetVolume(s.ctx, obj.NativeID.Index, min(max(value, 0), maxVolume))
	case "mute":
		return s.client.SetMute(s.ctx, obj.NativeID.Index, value != 0)
	}
	return fmt.Errorf("%w: %s on %s", bridge.ErrUnsupportedControl, control, obj.DomainID)
}

func (s *session) Close() error {
	clear(s.bound)
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
