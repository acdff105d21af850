package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/native"
)

const sinksJSON = `[
  {
    "index": 56,
    "state": "RUNNING",
    "name": "alsa_output.pci-0000_00_1f.3.analog-stereo",
    "description": "Built-in Audio Analog Stereo",
    "channel_map": "front-left,front-right",
    "mute": false,
    "volume": {
      "front-left": {"value": 32768, "value_percent": "50%", "db": "-18.06 dB"},
      "front-right": {"value": 16384, "value_percent": "25%", "db": "-36.12 dB"}
    },
    "base_volume": {"value": 65536, "value_percent": "100%", "db": "0.00 dB"},
    "active_port": "analog-output-speaker"
  },
  {
    "index": 57,
    "state": "SUSPENDED",
    "name": "hdmi-surround",
    "channel_map": "front-left,front-right,rear-left,rear-right,lfe,front-center",
    "mute": true,
    "volume": {
      "front-left": {"value": 65536},
      "front-right": {"value": 65536},
      "rear-left": {"value": 65536},
      "rear-right": {"value": 65536},
      "lfe": {"value": 65536},
      "front-center": {"value": 65536}
    },
    "base_volume": {"value": 20000}
  },
  {
    "index": 58,
    "name": "broken-no-volume",
    "mute": false
  }
]`

const sourcesJSON = `[
  {
    "index": 12,
    "state": "IDLE",
    "name": "alsa_input.pci-0000_00_1f.3.analog-stereo",
    "description": "Built-in Audio Analog Stereo",
    "channel_map": "mono",
    "mute": "yes",
    "volume": {"mono": {"value": 45875}},
    "base_volume": {"value": 65536}
  }
]`

const cardsJSON = `[
  {
    "index": 42,
    "name": "alsa_card.pci-0000_00_1f.3",
    "properties": {
      "object.id": "47",
      "alsa.card": "0",
      "alsa.card_name": "HDA Intel PCH",
      "card.profile.device": "3"
    },
    "profiles": {
      "off": {"description": "Off", "sinks": 0, "sources": 0, "priority": 0, "available": true},
      "output:analog-stereo": {"description": "Analog Stereo Output", "sinks": 1, "sources": 0, "priority": 6500, "available": true}
    },
    "active_profile": "output:analog-stereo",
    "ports": {
      "analog-output-speaker": {
        "description": "Speakers",
        "priority": 10000,
        "properties": {"port.type": "analog", "card.profile.port": "1"},
        "profiles": ["output:analog-stereo"]
      },
      "analog-input-mic": {
        "description": "Microphone",
        "priority": 8700,
        "properties": {"port.type": "mic"},
        "profiles": []
      }
    }
  },
  {
    "index": 43,
    "name": "bluez_card.00_11_22_33_44_55",
    "properties": {
      "object.id": "80",
      "api.bluez5.address": "00:11:22:33:44:55",
      "api.bluez5.codec": "sbc",
      "api.bluez5.profile": "a2dp-sink"
    },
    "profiles": {},
    "ports": {}
  },
  {
    "index": 44,
    "name": "virtual",
    "properties": {"object.id": "90"}
  }
]`

func decode(t *testing.T, s string) []bridge.Props {
	t.Helper()
	var raw []map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	out := make([]bridge.Props, len(raw))
	for i, m := range raw {
		out[i] = m
	}
	return out
}

type pipeStream struct {
	r, w int
}

func newPipeStream(t *testing.T) *pipeStream {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	s := &pipeStream{r: p[0], w: p[1]}
	t.Cleanup(func() {
		unix.Close(s.r)
		if s.w >= 0 {
			unix.Close(s.w)
		}
	})
	return s
}

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

func (s *pipeStream) writeLines(t *testing.T, lines ...string) {
	t.Helper()
	data := strings.Join(lines, "\n") + "\n"
	if _, err := unix.Write(s.w, []byte(data)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (s *pipeStream) hangup() {
	unix.Close(s.w)
	s.w = -1
}

type fakeClient struct {
	mu      sync.Mutex
	info    ServerInfo
	lists   map[string][]bridge.Props
	listErr error
	stream  *pipeStream
	listed  []string
	sets    []string
}

func (c *fakeClient) ServerInfo(context.Context) (ServerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, nil
}

func (c *fakeClient) List(_ context.Context, facility string) ([]bridge.Props, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	c.listed = append(c.listed, facility)
	return c.lists[facility], nil
}

func (c *fakeClient) Subscribe() (native.EventStream, error) {
	if c.stream == nil {
		return nil, errors.New("no stream")
	}
	return c.stream, nil
}

func (c *fakeClient) SetVolume(_ context.Context, kind Kind, name string, values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, fmt.Sprintf("set-%s-volume %s %s", kind, name, strings.Join(values, " ")))
	return nil
}

func (c *fakeClient) SetMute(_ context.Context, kind Kind, name string, mute bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets = append(c.sets, fmt.Sprintf("set-%s-mute %s %v", kind, name, mute))
	return nil
}
