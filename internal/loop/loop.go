// Package loop is a single-threaded, poll(2)-driven event loop. Sources
// are file descriptors paired with a callback; the loop blocks in poll
// and dispatches readiness to callbacks strictly one at a time on the
// goroutine that called Run.
//
// Callback state lives in a handle table keyed by SourceID rather than
// in pointers captured by the poller. A callback that removes another
// source, or itself, during an iteration makes any pending readiness for
// that source stale; stale readiness is discarded.
package loop

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sys/unix"
)

// Readiness bits delivered to callbacks.
const (
	Readable = unix.POLLIN
	Hangup   = unix.POLLHUP
	Error    = unix.POLLERR
	Invalid  = unix.POLLNVAL
)

var (
	// ErrUnknownSource is returned by Remove for an id that is not
	// registered (never added, or already removed).
	ErrUnknownSource = errors.New("loop: unknown source")

	// ErrNoSources is returned by Run when nothing is registered, since
	// poll would block forever.
	ErrNoSources = errors.New("loop: no sources registered")
)

// SourceID identifies a registered source. IDs are never reused within
// a Loop.
type SourceID uint64

// Callback handles readiness on a source. revents carries the poll
// result bits. A non-nil error stops the loop and is returned from Run.
type Callback func(revents int16) error

type source struct {
	name string
	fd   int
	fn   Callback
}

// Loop is not safe for concurrent use. Every method must be called from
// the goroutine that runs it, including from inside callbacks.
type Loop struct {
	sources map[SourceID]*source
	next    SourceID

	quitting bool
	quitErr  error

	// scratch buffers reused across iterations
	fds []unix.PollFd
	ids []SourceID
}

func New() *Loop {
	return &Loop{sources: make(map[SourceID]*source)}
}

// Add registers fd for read readiness and returns its handle. The loop
// does not take ownership of fd; the caller closes it after Remove.
func (l *Loop) Add(name string, fd int, fn Callback) SourceID {
	l.next++
	id := l.next
	l.sources[id] = &source{name: name, fd: fd, fn: fn}
	return id
}

// Remove releases the handle. Readiness already collected for id in the
// current iteration is dropped.
func (l *Loop) Remove(id SourceID) error {
	if _, ok := l.sources[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSource, id)
	}
	delete(l.sources, id)
	return nil
}

// Len returns the number of registered sources.
func (l *Loop) Len() int {
	return len(l.sources)
}

// Quit makes Run return err after the current callback finishes. The
// first call wins; later calls are ignored until Run returns.
func (l *Loop) Quit(err error) {
	if l.quitting {
		return
	}
	l.quitting = true
	l.quitErr = err
}

// Run iterates until Quit is called or an iteration fails. It returns
// the error passed to Quit, which may be nil.
func (l *Loop) Run() error {
	defer func() {
		l.quitting = false
		l.quitErr = nil
	}()
	for !l.quitting {
		if err := l.Iterate(-1); err != nil {
			return err
		}
	}
	return l.quitErr
}

// Iterate performs a single poll with the given timeout in milliseconds
// (-1 blocks) and dispatches every ready source. It returns a non-nil
// error only when poll itself fails or a callback returns one; in the
// latter case the loop is also marked as quitting.
func (l *Loop) Iterate(timeout int) error {
	if len(l.sources) == 0 {
		return ErrNoSources
	}

	l.ids = l.ids[:0]
	for id := range l.sources {
		l.ids = append(l.ids, id)
	}
	sort.Slice(l.ids, func(i, j int) bool { return l.ids[i] < l.ids[j] })

	l.fds = l.fds[:0]
	for _, id := range l.ids {
		l.fds = append(l.fds, unix.PollFd{Fd: int32(l.sources[id].fd), Events: unix.POLLIN})
	}

	n, err := unix.Poll(l.fds, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("loop: poll: %w", err)
	}
	if n == 0 {
		return nil
	}

	for i, pfd := range l.fds {
		if pfd.Revents == 0 {
			continue
		}
		src, ok := l.sources[l.ids[i]]
		if !ok {
			continue
		}
		if err := dispatch(l.ids[i], src, pfd.Revents); err != nil {
			l.Quit(err)
			return err
		}
		if l.quitting {
			return nil
		}
	}
	return nil
}

func dispatch(id SourceID, src *source, revents int16) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loop: source %q (%d) panicked: %v", src.name, id, r)
		}
	}()
	return src.fn(revents)
}
