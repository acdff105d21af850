package client

import (
	"encoding/json"
	"sort"
	"time"
)

// MessageType mirrors the server's websocket message types.
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgEvent    MessageType = "event"
	MsgHealth   MessageType = "health"
	MsgCommand  MessageType = "command"
	MsgError    MessageType = "error"
)

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Record is a mirrored object record. The TUI only reads a few well-known
// fields, so it stays a generic map.
type Record map[string]any

func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

func (r Record) Bool(key string) (value, ok bool) {
	value, ok = r[key].(bool)
	return value, ok
}

func (r Record) Number(key string) (float64, bool) {
	f, ok := r[key].(float64)
	return f, ok
}

type Object struct {
	ID        string    `json:"id"`
	Record    Record    `json:"record"`
	UpdatedAt time.Time `json:"updated_at"`
}

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

type Health struct {
	Subsystem           string       `json:"subsystem"`
	Status              HealthStatus `json:"status"`
	Connected           bool         `json:"connected"`
	Session             string       `json:"session,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastError           string       `json:"last_error,omitempty"`
}

type Subsystem struct {
	Name            string         `json:"name"`
	Objects         []Object       `json:"objects"`
	Signals         map[string]any `json:"signals"`
	DroppedCommands int            `json:"dropped_commands"`
	LastDropReason  string         `json:"last_drop_reason,omitempty"`
	Health          Health         `json:"health"`
}

// Upsert replaces or inserts obj, keeping Objects sorted by ID.
func (s *Subsystem) Upsert(obj Object) {
	i := sort.Search(len(s.Objects), func(i int) bool { return s.Objects[i].ID >= obj.ID })
	if i < len(s.Objects) && s.Objects[i].ID == obj.ID {
		s.Objects[i] = obj
		return
	}
	s.Objects = append(s.Objects, Object{})
	copy(s.Objects[i+1:], s.Objects[i:])
	s.Objects[i] = obj
}

func (s *Subsystem) Remove(id string) {
	for i, obj := range s.Objects {
		if obj.ID == id {
			s.Objects = append(s.Objects[:i], s.Objects[i+1:]...)
			return
		}
	}
}

// Reset forgets everything a previous native session reported.
func (s *Subsystem) Reset() {
	s.Objects = nil
	s.Signals = make(map[string]any)
}

type Snapshot struct {
	Subsystems []Subsystem `json:"subsystems"`
	Time       time.Time   `json:"time"`
}

type EventKind string

const (
	EventAdded             EventKind = "added"
	EventUpdated           EventKind = "updated"
	EventRemoved           EventKind = "removed"
	EventSessionStarted    EventKind = "session_started"
	EventSessionSubscribed EventKind = "session_subscribed"
	EventSessionError      EventKind = "session_error"
	EventSignal            EventKind = "signal"
	EventCommandDropped    EventKind = "command_dropped"
)

type Event struct {
	Kind      EventKind `json:"kind"`
	Subsystem string    `json:"subsystem"`
	Session   string    `json:"session,omitempty"`
	DomainID  string    `json:"domain_id,omitempty"`
	Record    Record    `json:"record,omitempty"`
	Signal    string    `json:"signal,omitempty"`
	Value     any       `json:"value,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Time      time.Time `json:"time"`
}

type HealthPayload struct {
	Subsystems []Health `json:"subsystems"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Ref     string `json:"ref,omitempty"`
}

// Command is the body of POST /api/subsystems/{name}/commands.
type Command struct {
	Op      string  `json:"op"`
	Target  string  `json:"target,omitempty"`
	Control string  `json:"control,omitempty"`
	Value   float64 `json:"value"`
}
