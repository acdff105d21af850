package pipewire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/bridge/bridgetest"
	"github.com/osd-bridge/osdbridge/internal/loop"
	"github.com/osd-bridge/osdbridge/internal/native"
)

const dumpJSON = `[
  {"id": 0, "type": "PipeWire:Interface:Core", "info": {"name": "pipewire-0"}},
  {
    "id": 40,
    "type": "PipeWire:Interface:Node",
    "info": {
      "state": "suspended",
      "error": null,
      "props": {
        "object.id": 40,
        "alsa.card": 0,
        "alsa.card_name": "HDA Intel PCH",
        "card.profile.device": 3,
        "device.profile.description": "Analog Stereo",
        "media.class": "Audio/Sink",
        "node.name": "alsa_output.pci-0000_00_1f.3.analog-stereo",
        "node.description": "Built-in High Definition Audio Analog Stereo"
      }
    }
  },
  {
    "id": 41,
    "type": "PipeWire:Interface:Node",
    "info": {
      "state": "error",
      "error": "device busy",
      "props": {
        "object.id": "41",
        "alsa.card": "1",
        "card.profile.device": "0",
        "media.class": "Audio/Source",
        "node.name": "alsa_input.usb-mic"
      }
    }
  },
  {
    "id": 55,
    "type": "PipeWire:Interface:Node",
    "info": {
      "state": "running",
      "props": {
        "object.id": 55,
        "media.class": "Stream/Output/Audio",
        "node.name": "firefox"
      }
    }
  }
]`

func decode(t *testing.T, s string) []bridge.Props {
	t.Helper()
	objs, err := decodeObjects([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return objs
}

func TestNormalizeNodes(t *testing.T) {
	objs := decode(t, dumpJSON)

	if _, ok := Normalize(bridge.NativeID{}, objs[0]); ok {
		t.Error("core object normalized")
	}

	rec, ok := Normalize(bridge.NativeID{Class: ClassNode, Index: 40}, objs[1])
	if !ok {
		t.Fatal("alsa sink suppressed")
	}
	want := Device{
		ObjectID:                 40,
		AlsaCard:                 0,
		CardProfileDevice:        3,
		MediaClass:               MediaSink,
		NodeName:                 "alsa_output.pci-0000_00_1f.3.analog-stereo",
		AlsaCardName:             "HDA Intel PCH",
		DeviceProfileDescription: "Analog Stereo",
		NodeDescription:          "Built-in HD Audio Analog Stereo",
		State:                    StateSuspended,
	}
	if rec.(Device) != want {
		t.Errorf("device = %+v\nwant %+v", rec, want)
	}
	if rec.DomainID() != "node:alsa_output.pci-0000_00_1f.3.analog-stereo" {
		t.Errorf("DomainID = %q", rec.DomainID())
	}

	rec, ok = Normalize(bridge.NativeID{Class: ClassNode, Index: 41}, objs[2])
	if !ok {
		t.Fatal("string-typed props suppressed")
	}
	d := rec.(Device)
	if d.State != StateError || d.Error != "device busy" || d.AlsaCard != 1 || d.AlsaCardName != "" {
		t.Errorf("device = %+v", d)
	}

	if _, ok := Normalize(bridge.NativeID{Class: ClassNode, Index: 55}, objs[3]); ok {
		t.Error("application stream normalized")
	}
}

type pipeStream struct{ r, w int }

func (s *pipeStream) Fd() int { return s.r }
func (s *pipeStream) Read(buf []byte) (int, error) {
	n, err := unix.Read(s.r, buf)
	if err == unix.EAGAIN {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
func (s *pipeStream) Close() error { return nil }

type fakeClient struct {
	dump   []bridge.Props
	stream *pipeStream
	calls  []string
}

func (c *fakeClient) Dump(context.Context) ([]bridge.Props, error) { return c.dump, nil }
func (c *fakeClient) Monitor() (native.EventStream, error)        { return c.stream, nil }
func (c *fakeClient) SetVolume(_ context.Context, id uint32, v float64) error {
	c.calls = append(c.calls, fmt.Sprintf("set-volume %d %.2f", id, v))
	return nil
}
func (c *fakeClient) SetMute(_ context.Context, id uint32, mute bool) error {
	c.calls = append(c.calls, fmt.Sprintf("set-mute %d %v", id, mute))
	return nil
}

func newFixture(t *testing.T) (*fakeClient, *loop.Loop, *session) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { unix.Close(p[0]) })
	c := &fakeClient{dump: decode(t, dumpJSON), stream: &pipeStream{r: p[0], w: p[1]}}
	lp := loop.New()
	return c, lp, newSession(context.Background(), c, lp, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEnumerateOnlyNodes(t *testing.T) {
	c, _, s := newFixture(t)
	defer unix.Close(c.stream.w)
	var rec bridgetest.Recorder
	if err := s.Enumerate(&rec); err != nil {
		t.Fatal(err)
	}
	ups := rec.Ops("upsert")
	if len(ups) != 3 {
		t.Fatalf("upserts = %d, want 3 nodes", len(ups))
	}
	for i, idx := range []uint32{40, 41, 55} {
		if ups[i].ID != (bridge.NativeID{Class: ClassNode, Index: idx}) {
			t.Errorf("upsert %d = %v", i, ups[i].ID)
		}
	}
}

func TestMonitorStream(t *testing.T) {
	c, lp, s := newFixture(t)
	defer unix.Close(c.stream.w)
	var rec bridgetest.Recorder
	if err := s.Subscribe(&rec); err != nil {
		t.Fatal(err)
	}

	first := `[{"id": 40, "type": "PipeWire:Interface:Node", "info": {"state": "running", "props": {"node.name": "x"}}},`
	rest := "\n {\"id\": 41, \"info\": null}]\n[{\"id\": 7, \"type\": \"PipeWire:Interface:Link\", \"info\": {}}]"

	unix.Write(c.stream.w, []byte(first))
	if err := lp.Iterate(1000); err != nil {
		t.Fatal(err)
	}
	if len(rec.Calls) != 0 {
		t.Fatalf("partial array produced calls: %+v", rec.Calls)
	}

	unix.Write(c.stream.w, []byte(rest))
	if err := lp.Iterate(1000); err != nil {
		t.Fatal(err)
	}
	if len(rec.Calls) != 2 {
		t.Fatalf("calls = %+v", rec.Calls)
	}
	if rec.Calls[0].Op != "upsert" || rec.Calls[0].ID.Index != 40 {
		t.Errorf("call 0 = %+v", rec.Calls[0])
	}
	if rec.Calls[1].Op != "remove" || rec.Calls[1].ID.Index != 41 {
		t.Errorf("call 1 = %+v", rec.Calls[1])
	}
}

func TestMonitorEOFIsFatal(t *testing.T) {
	c, lp, s := newFixture(t)
	var rec bridgetest.Recorder
	s.Subscribe(&rec)
	unix.Close(c.stream.w)
	if err := lp.Run(); !errors.Is(err, io.EOF) {
		t.Fatalf("Run = %v, want EOF", err)
	}
}

func TestControlRequiresBinding(t *testing.T) {
	c, _, s := newFixture(t)
	defer unix.Close(c.stream.w)
	node := bridge.Tracked{NativeID: bridge.NativeID{Class: ClassNode, Index: 40}, DomainID: "node:a"}

	if err := s.Control(node, "volume", 0.5); !errors.Is(err, bridge.ErrUnsupportedControl) {
		t.Fatalf("unbound control = %v", err)
	}

	s.Bind(node)
	if err := s.Control(node, "volume", 2); err != nil {
		t.Fatal(err)
	}
	if err := s.Control(node, "mute", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Control(node, "balance", 0); !errors.Is(err, bridge.ErrUnsupportedControl) {
		t.Errorf("balance = %v", err)
	}
	want := []string{"set-volume 40 1.50", "set-mute 40 true"}
	if fmt.Sprint(c.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", c.calls, want)
	}

	s.Unbind(node)
	if err := s.Control(node, "mute", 0); err == nil {
		t.Error("control after unbind succeeded")
	}
}
