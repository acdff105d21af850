package bridge

import (
	"errors"
	"fmt"
)

// Command is an instruction sent from any goroutine into the loop
// thread. Targets are domain IDs and are resolved against the identity
// table only when the command executes.
type Command interface {
	command()
	fmt.Stringer
}

// SetScalar sets a numeric control on the object named by Target. An
// empty Target addresses every object, for drivers that support it.
type SetScalar struct {
	Target  string  `json:"target"`
	Control string  `json:"control"`
	Value   float64 `json:"value"`
}

// Rescan re-enumerates the subsystem and reconciles the identity table,
// removing objects the native side no longer reports.
type Rescan struct{}

func (SetScalar) command() {}
func (Rescan) command()    {}

func (c SetScalar) String() string {
	target := c.Target
	if target == "" {
		target = "*"
	}
	return fmt.Sprintf("set %s %s=%g", target, c.Control, c.Value)
}

func (Rescan) String() string { return "rescan" }

// FatalError marks a control failure that invalidates the whole native
// session. The bridge tears the session down and reconnects.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "session fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err so that the bridge treats it as session-fatal.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// ErrUnsupportedControl is returned by drivers for a control name the
// target does not have.
var ErrUnsupportedControl = errors.New("unsupported control")
