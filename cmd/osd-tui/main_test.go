package main

import (
	"bytes"
	"testing"

	"github.com/osd-bridge/osdbridge/internal/tui/client"
)

func TestDeriveHTTPBase(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ws://127.0.0.1:8090/ws", "http://127.0.0.1:8090"},
		{"wss://osd.example:443/ws", "https://osd.example:443"},
		{"ws://localhost:9000/ws?encoding=json", "http://localhost:9000"},
		{"not a url", "http://127.0.0.1:8090"},
	}
	for _, tt := range tests {
		if got := deriveHTTPBase(tt.in); got != tt.want {
			t.Errorf("deriveHTTPBase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintSnapshot(t *testing.T) {
	snap := &client.Snapshot{Subsystems: []client.Subsystem{{
		Name:    "rfkill",
		Objects: []client.Object{{ID: "wlan:phy0"}},
		Signals: map[string]any{"airplane_mode": false},
		Health:  client.Health{Status: client.StatusHealthy},
	}}}

	var buf bytes.Buffer
	printSnapshot(&buf, snap)

	want := "rfkill (healthy)\n  airplane_mode = false\n  wlan:phy0\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
