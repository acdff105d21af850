package bridge

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrQueueClosed is returned by Enqueue after the owning bridge has
// terminated.
var ErrQueueClosed = errors.New("bridge: command queue closed")

var errQueueAttached = errors.New("bridge: command queue already has a consumer")

// Queue is a multi-producer, single-consumer command queue paired with
// a wake pipe. Producers push under the mutex and write one byte to the
// pipe; the byte is skipped while a previous wake is still unconsumed.
// The consumer registers Fd with its loop and calls Take on readiness.
type Queue struct {
	mu       sync.Mutex
	pending  []Command
	signaled bool
	closed   bool
	attached bool
	r, w     int
}

func NewQueue() (*Queue, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("creating wake pipe: %w", err)
	}
	return &Queue{r: p[0], w: p[1]}, nil
}

// Enqueue hands cmd to the loop thread. Safe from any goroutine; never
// blocks on the consumer.
func (q *Queue) Enqueue(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pending = append(q.pending, cmd)
	q.wakeLocked()
	return nil
}

// Wake makes the consumer's wake source readable without queueing a
// command. Used to get the loop thread's attention for shutdown.
func (q *Queue) Wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.wakeLocked()
	}
}

func (q *Queue) wakeLocked() {
	if q.signaled {
		return
	}
	// A full pipe already guarantees readiness, so EAGAIN is fine.
	unix.Write(q.w, []byte{1})
	q.signaled = true
}

// Fd is the read end of the wake pipe.
func (q *Queue) Fd() int {
	return q.r
}

// Take consumes the pending wake and returns every queued command in
// enqueue order. Loop thread only.
func (q *Queue) Take() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	var buf [64]byte
	for {
		n, err := unix.Read(q.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if n <= 0 {
			break
		}
	}
	q.signaled = false
	cmds := q.pending
	q.pending = nil
	return cmds
}

// Len returns the number of queued commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) attach() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.attached {
		return errQueueAttached
	}
	q.attached = true
	return nil
}

func (q *Queue) detach() {
	q.mu.Lock()
	q.attached = false
	q.mu.Unlock()
}

// Close rejects further commands, discards pending ones, and releases
// the pipe. Idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	q.pending = nil
	return errors.Join(unix.Close(q.r), unix.Close(q.w))
}
