package pipewire

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/native"
)

// Client is the black-box PipeWire surface.
type Client interface {
	// Dump returns every registry object.
	Dump(ctx context.Context) ([]bridge.Props, error)
	// Monitor streams registry changes as concatenated JSON arrays.
	Monitor() (native.EventStream, error)
	SetVolume(ctx context.Context, id uint32, volume float64) error
	SetMute(ctx context.Context, id uint32, mute bool) error
}

type cliClient struct {
	pwDump string
	wpctl  string
}

// NewCLIClient returns a Client backed by pw-dump and wpctl.
func NewCLIClient(pwDump, wpctl string) Client {
	if pwDump == "" {
		pwDump = "pw-dump"
	}
	if wpctl == "" {
		wpctl = "wpctl"
	}
	return &cliClient{pwDump: pwDump, wpctl: wpctl}
}

func (c *cliClient) Dump(ctx context.Context) ([]bridge.Props, error) {
	out, err := native.Output(ctx, c.pwDump)
	if err != nil {
		return nil, err
	}
	return decodeObjects(out)
}

func (c *cliClient) Monitor() (native.EventStream, error) {
	return native.StartStream(c.pwDump, "--monitor", "--no-colors")
}

func (c *cliClient) SetVolume(ctx context.Context, id uint32, volume float64) error {
	_, err := native.Output(ctx, c.wpctl, "set-volume", strconv.FormatUint(uint64(id), 10), strconv.FormatFloat(volume, 'f', 2, 64))
	return err
}

func (c *cliClient) SetMute(ctx context.Context, id uint32, mute bool) error {
	v := "0"
	if mute {
		v = "1"
	}
	_, err := native.Output(ctx, c.wpctl, "set-mute", strconv.FormatUint(uint64(id), 10), v)
	return err
}

func decodeObjects(data []byte) ([]bridge.Props, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding pw-dump output: %w", err)
	}
	objs := make([]bridge.Props, len(raw))
	for i, m := range raw {
		objs[i] = m
	}
	return objs, nil
}
