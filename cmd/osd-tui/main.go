package main

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/osd-bridge/osdbridge/internal/tui/app"
	"github.com/osd-bridge/osdbridge/internal/tui/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	wsURL := pflag.String("url", "ws://127.0.0.1:8090/ws", "WebSocket URL of the osd-bridge daemon")
	token := pflag.String("token", os.Getenv("OSD_BRIDGE_TOKEN"), "Auth token (if the daemon requires it)")
	once := pflag.Bool("once", false, "Print the current state and exit")
	pflag.Parse()

	// Derive HTTP base URL from WebSocket URL.
	httpBase := deriveHTTPBase(*wsURL)
	httpClient := client.NewHTTPClient(httpBase, *token)

	if *once {
		snap, err := httpClient.GetState()
		if err != nil {
			return fmt.Errorf("fetching state: %w", err)
		}
		printSnapshot(os.Stdout, snap)
		return nil
	}

	ws := client.NewWSClient(*wsURL, *token)
	m := app.New(ws, httpClient)
	p := tea.NewProgram(m, tea.WithAltScreen())

	_, err := p.Run()
	return err
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8090"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}

func printSnapshot(w io.Writer, snap *client.Snapshot) {
	for _, sub := range snap.Subsystems {
		fmt.Fprintf(w, "%s (%s)\n", sub.Name, sub.Health.Status)

		keys := make([]string, 0, len(sub.Signals))
		for k := range sub.Signals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %v\n", k, sub.Signals[k])
		}
		for _, obj := range sub.Objects {
			fmt.Fprintf(w, "  %s\n", obj.ID)
		}
	}
}
