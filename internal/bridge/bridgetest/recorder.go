// Package bridgetest provides helpers for testing bridge drivers
// without running a full bridge.
package bridgetest

import (
	"github.com/osd-bridge/osdbridge/internal/bridge"
)

// Call is one recorded Emitter invocation.
type Call struct {
	Op     string // "upsert", "remove", "signal", "fatal"
	ID     bridge.NativeID
	Props  bridge.Props
	Signal string
	Value  any
	Err    error
}

// Recorder is a bridge.Emitter that records calls in order. Like a real
// emitter it is only used from one goroutine.
type Recorder struct {
	Calls []Call
}

func (r *Recorder) Upsert(id bridge.NativeID, props bridge.Props) {
	r.Calls = append(r.Calls, Call{Op: "upsert", ID: id, Props: props})
}

func (r *Recorder) Remove(id bridge.NativeID) {
	r.Calls = append(r.Calls, Call{Op: "remove", ID: id})
}

func (r *Recorder) Signal(name string, value any) {
	r.Calls = append(r.Calls, Call{Op: "signal", Signal: name, Value: value})
}

func (r *Recorder) Fatal(err error) {
	r.Calls = append(r.Calls, Call{Op: "fatal", Err: err})
}

// Ops returns only the calls with the given op.
func (r *Recorder) Ops(op string) []Call {
	var out []Call
	for _, c := range r.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.Calls = nil
}
