package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/native"
)

// ServerInfo is the part of `pactl info` the bridge tracks.
type ServerInfo struct {
	ServerName        string `json:"server_name"`
	ServerVersion     string `json:"server_version"`
	DefaultSinkName   string `json:"default_sink_name"`
	DefaultSourceName string `json:"default_source_name"`
}

// Client is the black-box pulse protocol surface.
type Client interface {
	ServerInfo(ctx context.Context) (ServerInfo, error)
	// List returns the raw objects of a facility ("sinks", "sources",
	// "cards").
	List(ctx context.Context, facility string) ([]bridge.Props, error)
	Subscribe() (native.EventStream, error)
	// SetVolume sets channel volumes; values are pactl volume arguments
	// such as "40%" or raw integers.
	SetVolume(ctx context.Context, kind Kind, name string, values ...string) error
	SetMute(ctx context.Context, kind Kind, name string, mute bool) error
}

type pactlClient struct {
	bin string
}

// NewPactlClient returns a Client that shells out to the pactl binary.
func NewPactlClient(bin string) Client {
	if bin == "" {
		bin = "pactl"
	}
	return &pactlClient{bin: bin}
}

func (c *pactlClient) ServerInfo(ctx context.Context) (ServerInfo, error) {
	out, err := native.Output(ctx, c.bin, "-f", "json", "info")
	if err != nil {
		return ServerInfo{}, err
	}
	var info ServerInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return ServerInfo{}, fmt.Errorf("decoding pactl info: %w", err)
	}
	return info, nil
}

func (c *pactlClient) List(ctx context.Context, facility string) ([]bridge.Props, error) {
	out, err := native.Output(ctx, c.bin, "-f", "json", "list", facility)
	if err != nil {
		return nil, err
	}
	var raw []map[string]any
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("decoding pactl list %s: %w", facility, err)
	}
	objs := make([]bridge.Props, len(raw))
	for i, m := range raw {
		objs[i] = bridge.Props(m)
	}
	return objs, nil
}

func (c *pactlClient) Subscribe() (native.EventStream, error) {
	return native.StartStream(c.bin, "subscribe")
}

func (c *pactlClient) SetVolume(ctx context.Context, kind Kind, name string, values ...string) error {
	args := append([]string{"set-" + string(kind) + "-volume", name}, values...)
	_, err := native.Output(ctx, c.bin, args...)
	return err
}

func (c *pactlClient) SetMute(ctx context.Context, kind Kind, name string, mute bool) error {
	v := "0"
	if mute {
		v = "1"
	}
	_, err := native.Output(ctx, c.bin, "set-"+string(kind)+"-mute", name, v)
	return err
}

func percentArg(p float64) string {
	return strconv.Itoa(int(p+0.5)) + "%"
}
