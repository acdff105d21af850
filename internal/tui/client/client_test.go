package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestWSClientConnectsAndDispatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"snapshot","seq":1,"payload":{"subsystems":[{"name":"rfkill","objects":[{"id":"wlan:phy0","record":{"soft":true}}],"signals":{"airplane_mode":true}}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus","seq":2,"payload":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","seq":3,"payload":{"kind":"removed","subsystem":"rfkill","domain_id":"wlan:phy0"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"health","seq":4,"payload":{"subsystems":[{"subsystem":"pulse","status":"failed"}]}}`))
		conn.ReadMessage() // hold the connection until the client closes
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewWSClient("ws"+strings.TrimPrefix(srv.URL, "http"), "tok")
	defer c.Close()

	if _, ok := c.Listen(ctx)().(WSConnectedMsg); !ok {
		t.Fatal("Listen did not connect")
	}

	snap, ok := c.ReadLoop(ctx)().(WSSnapshotMsg)
	if !ok {
		t.Fatal("first message is not a snapshot")
	}
	if len(snap.Payload.Subsystems) != 1 || snap.Payload.Subsystems[0].Signals["airplane_mode"] != true {
		t.Errorf("snapshot = %+v", snap.Payload)
	}
	if soft, _ := snap.Payload.Subsystems[0].Objects[0].Record.Bool("soft"); !soft {
		t.Error("record field lost")
	}

	ev, ok := c.ReadLoop(ctx)().(WSEventMsg)
	if !ok {
		t.Fatal("unknown message type was not skipped")
	}
	if ev.Payload.Kind != EventRemoved || ev.Payload.DomainID != "wlan:phy0" {
		t.Errorf("event = %+v", ev.Payload)
	}
	if c.Seq() != 3 {
		t.Errorf("Seq = %d, want 3", c.Seq())
	}

	h, ok := c.ReadLoop(ctx)().(WSHealthMsg)
	if !ok || h.Payload.Subsystems[0].Status != StatusFailed {
		t.Errorf("health = %+v", h)
	}
}

func TestWSClientListenStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewWSClient("ws://127.0.0.1:1/ws", "")
	if msg := c.Listen(ctx)(); msg != nil {
		t.Errorf("Listen after cancel = %#v, want nil", msg)
	}
}

func TestHTTPClient(t *testing.T) {
	var got struct {
		path string
		body Command
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/state":
			io.WriteString(w, `{"subsystems":[{"name":"pulse","objects":[]}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/subsystems/pulse/commands":
			got.path = r.URL.Path
			json.NewDecoder(r.Body).Decode(&got.body)
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"message":"unknown subsystem"}`)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	snap, err := c.GetState()
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Subsystems) != 1 || snap.Subsystems[0].Name != "pulse" {
		t.Errorf("state = %+v", snap)
	}

	cmd := Command{Op: "set", Target: "sink:speakers", Control: "volume", Value: 55}
	if err := c.SendCommand("pulse", cmd); err != nil {
		t.Fatal(err)
	}
	if got.body != cmd {
		t.Errorf("server got %+v", got.body)
	}

	err = c.SendCommand("bluez", Command{Op: "rescan"})
	if err == nil || !strings.Contains(err.Error(), "unknown subsystem") {
		t.Errorf("SendCommand(bluez) = %v", err)
	}
}

func TestSubsystemUpsertKeepsOrder(t *testing.T) {
	var s Subsystem
	s.Upsert(Object{ID: "b"})
	s.Upsert(Object{ID: "a"})
	s.Upsert(Object{ID: "c"})
	s.Upsert(Object{ID: "b", Record: Record{"x": 1.0}})
	if len(s.Objects) != 3 || s.Objects[0].ID != "a" || s.Objects[1].ID != "b" || s.Objects[2].ID != "c" {
		t.Fatalf("objects = %+v", s.Objects)
	}
	if _, ok := s.Objects[1].Record.Number("x"); !ok {
		t.Error("update did not replace the record")
	}
	s.Remove("b")
	s.Remove("zzz")
	if len(s.Objects) != 2 {
		t.Errorf("after remove: %+v", s.Objects)
	}
}
