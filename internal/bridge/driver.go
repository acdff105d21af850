package bridge

import (
	"context"

	"github.com/osd-bridge/osdbridge/internal/loop"
)

// Driver opens native sessions for one subsystem.
type Driver interface {
	// Open connects to the native subsystem. Native sources the session
	// needs are registered on lp during Subscribe, not here.
	Open(ctx context.Context, lp *loop.Loop) (Session, error)

	// Normalize converts native properties into a record.
	Normalize(id NativeID, props Props) (Record, bool)
}

// Session is one connect-to-disconnect lifetime of a native connection.
// All methods are called on the loop thread.
type Session interface {
	// Enumerate reports every current object through e.
	Enumerate(e Emitter) error

	// Subscribe registers change notification sources on the loop. Their
	// callbacks report through e.
	Subscribe(e Emitter) error

	// Control applies a scalar control to obj. Wrap errors with Fatal
	// when the session can no longer be trusted.
	Control(obj Tracked, control string, value float64) error

	Close() error
}

// AllController is implemented by sessions that accept a control with
// no target, applying it to every object.
type AllController interface {
	ControlAll(control string, value float64) error
}

// Binder is implemented by sessions that hold a native resource per
// tracked object. Bind runs when an object enters the table and Unbind
// when it leaves or the session tears down.
type Binder interface {
	Bind(obj Tracked) error
	Unbind(obj Tracked)
}

// Aggregating is implemented by drivers that derive subsystem-wide
// signals from the whole table.
type Aggregating interface {
	Aggregators() []Aggregator
}

// Aggregator computes a signal over the identity table. The bridge
// re-evaluates it after every table mutation and emits it on change.
type Aggregator struct {
	Name    string
	Compute func(*Table) any
}

// Emitter is the session's view of the bridge. Loop thread only.
type Emitter interface {
	// Upsert normalizes props and adds or updates the object.
	Upsert(id NativeID, props Props)
	// Remove drops the object. Unknown ids are ignored.
	Remove(id NativeID)
	// Signal emits a named subsystem-level value.
	Signal(name string, value any)
	// Fatal ends the session with err.
	Fatal(err error)
}
