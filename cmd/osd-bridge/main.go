// osd-bridge mirrors the local audio server and radio kill switches
// into a websocket event stream and accepts control commands back.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/config"
	"github.com/osd-bridge/osdbridge/internal/hub"
	"github.com/osd-bridge/osdbridge/internal/pipewire"
	"github.com/osd-bridge/osdbridge/internal/pulse"
	"github.com/osd-bridge/osdbridge/internal/rfkill"
	"github.com/osd-bridge/osdbridge/internal/state"
	"github.com/osd-bridge/osdbridge/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		port       int
		verbose    bool
		genToken   bool
	)
	flagSet := pflag.NewFlagSet("osd-bridge", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to config file (defaults apply if missing)")
	flagSet.IntVarP(&port, "port", "p", 0, "override server port")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&genToken, "generate-token", false, "print a random auth token and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if genToken {
		tok, err := config.GenerateToken()
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	store := state.NewStore(state.DefaultFailureThreshold)
	h := hub.New(store, logger)
	bridges, err := buildBridges(cfg, logger)
	if err != nil {
		return err
	}
	for _, b := range bridges {
		if err := h.Add(b); err != nil {
			return err
		}
	}

	broadcaster := ws.NewBroadcaster(store, cfg.Broadcast.SnapshotInterval, cfg.Broadcast.ClientBuffer, cfg.Server.MaxConns, logger)
	defer broadcaster.Stop()
	h.AddSink(broadcaster)
	server := ws.NewServer(store, broadcaster, h, cfg.Server.AllowedOrigins, cfg.Server.AuthToken, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Run(ctx) }()

	logger.Info("osd-bridge starting", "subsystems", h.Subsystems())
	serveErr := ws.ListenAndServe(ctx, cfg.Server.Host, cfg.Server.Port, server.Routes(), logger)
	if serveErr != nil {
		// Listener failed before shutdown was requested; stop the bridges.
		stop()
	}
	hubErr := <-hubDone
	logger.Info("osd-bridge stopped")
	return errors.Join(serveErr, hubErr)
}

// buildBridges creates one bridge per enabled subsystem.
func buildBridges(cfg *config.Config, logger *slog.Logger) ([]*bridge.Bridge, error) {
	type subsystem struct {
		name    string
		enabled bool
		driver  func() bridge.Driver
	}
	subsystems := []subsystem{
		{"pulse", cfg.Pulse.Enabled, func() bridge.Driver {
			return pulse.NewDriver(pulse.Options{
				Pactl:                cfg.Pulse.Pactl,
				RequireServerProcess: cfg.Pulse.RequireServerProcess,
			}, logger.With("subsystem", "pulse"))
		}},
		{"pipewire", cfg.PipeWire.Enabled, func() bridge.Driver {
			return pipewire.NewDriver(pipewire.Options{
				PwDump:               cfg.PipeWire.PwDump,
				Wpctl:                cfg.PipeWire.Wpctl,
				RequireServerProcess: cfg.PipeWire.RequireServerProcess,
			}, logger.With("subsystem", "pipewire"))
		}},
		{"rfkill", cfg.Rfkill.Enabled, func() bridge.Driver {
			return rfkill.NewDriver(rfkill.Options{
				SysfsDir: cfg.Rfkill.SysfsDir,
				Device:   cfg.Rfkill.Device,
			}, logger.With("subsystem", "rfkill"))
		}},
	}

	var bridges []*bridge.Bridge
	for _, sub := range subsystems {
		if !sub.enabled {
			continue
		}
		bc := cfg.BridgeSettings()
		bc.Subsystem = sub.name
		bc.Driver = sub.driver()
		bc.Logger = logger
		b, err := bridge.New(bc)
		if err != nil {
			return nil, err
		}
		bridges = append(bridges, b)
	}
	if len(bridges) == 0 {
		return nil, errors.New("no subsystem enabled")
	}
	return bridges, nil
}
