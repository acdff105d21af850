package pipewire

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/loop"
	"github.com/osd-bridge/osdbridge/internal/native"
)

type Options struct {
	PwDump string
	Wpctl  string
	// RequireServerProcess refuses to connect unless pipewire runs.
	RequireServerProcess bool
}

type Driver struct {
	client      Client
	requireProc bool
	probe       func(ctx context.Context, names ...string) error
	logger      *slog.Logger
}

func NewDriver(opts Options, logger *slog.Logger) *Driver {
	return newDriver(NewCLIClient(opts.PwDump, opts.Wpctl), opts.RequireServerProcess, logger)
}

func newDriver(client Client, requireProc bool, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{client: client, requireProc: requireProc, probe: native.RequireProcess, logger: logger}
}

func (d *Driver) Open(ctx context.Context, lp *loop.Loop) (bridge.Session, error) {
	if d.requireProc {
		if err := d.probe(ctx, "pipewire"); err != nil {
			return nil, fmt.Errorf("pipewire: %w", err)
		}
	}
	return newSession(ctx, d.client, lp, d.logger), nil
}

func (d *Driver) Normalize(id bridge.NativeID, p bridge.Props) (bridge.Record, bool) {
	return Normalize(id, p)
}
