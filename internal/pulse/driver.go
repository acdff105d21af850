package pulse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/loop"
	"github.com/osd-bridge/osdbridge/internal/native"
)

// serverProcesses are the daemons that answer the pulse protocol.
var serverProcesses = []string{"pulseaudio", "pipewire-pulse"}

type Options struct {
	// Pactl is the pactl binary; defaults to "pactl" on PATH.
	Pactl string
	// RequireServerProcess refuses to connect unless a server process
	// is running, so pactl never triggers autospawn.
	RequireServerProcess bool
}

// Driver is the bridge.Driver for pulse.
type Driver struct {
	client      Client
	requireProc bool
	probe       func(ctx context.Context, names ...string) error
	logger      *slog.Logger
}

func NewDriver(opts Options, logger *slog.Logger) *Driver {
	return newDriver(NewPactlClient(opts.Pactl), opts.RequireServerProcess, logger)
}

func newDriver(client Client, requireProc bool, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		client:      client,
		requireProc: requireProc,
		probe:       native.RequireProcess,
		logger:      logger,
	}
}

func (d *Driver) Open(ctx context.Context, lp *loop.Loop) (bridge.Session, error) {
	if d.requireProc {
		if err := d.probe(ctx, serverProcesses...); err != nil {
			return nil, err
		}
	}
	info, err := d.client.ServerInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying pulse server: %w", err)
	}
	d.logger.Debug("connected to pulse server", "server", info.ServerName, "version", info.ServerVersion)
	return newSession(ctx, d.client, lp, d.logger), nil
}

func (d *Driver) Normalize(id bridge.NativeID, p bridge.Props) (bridge.Record, bool) {
	return Normalize(id, p)
}
