package bridge

import (
	"fmt"
	"time"
)

// NativeID is the identifier a native subsystem assigns to an object.
// It is only meaningful within one session; Class keeps separate index
// spaces apart (a pulse sink and source may both have index 0).
type NativeID struct {
	Class string `json:"class"`
	Index uint32 `json:"index"`
}

func (id NativeID) String() string {
	return fmt.Sprintf("%s#%d", id.Class, id.Index)
}

// Record is a normalized, semantically meaningful snapshot of a native
// object. Implementations are plain value types so that an Event owns
// its copy.
type Record interface {
	DomainID() string
}

// Normalizer converts a raw property bag into a Record. It is pure: it
// returns false when a required field is missing or malformed and never
// partially updates anything.
type Normalizer func(id NativeID, props Props) (Record, bool)

// Tracked is one row of the identity table.
type Tracked struct {
	NativeID NativeID
	DomainID string
	Record   Record
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

// Event is a semantic change emitted by a bridge. Events are immutable
// once sent.
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
