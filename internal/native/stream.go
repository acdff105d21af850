// Package native holds the plumbing shared by the subsystem drivers:
// child processes whose stdout is consumed by the event loop, framers
// that split that stdout into messages, and process probes.
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// Stream is a long-running child process whose stdout is read
// non-blockingly from the loop thread.
type Stream struct {
	cmd *exec.Cmd
	r   *os.File
	fd  int
}

// StartStream launches name with args and returns once the process is
// running. The read end of its stdout is set non-blocking; register
// Fd with the loop and call Read on readiness.
func StartStream(name string, args ...string) (*Stream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe for %s: %w", name, err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = w
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}
	w.Close()

	fd := int(r.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		r.Close()
		return nil, fmt.Errorf("setting %s stdout non-blocking: %w", name, err)
	}
	return &Stream{cmd: cmd, r: r, fd: fd}, nil
}

// Fd returns the descriptor to register with the loop.
func (s *Stream) Fd() int {
	return s.fd
}

// Read reads whatever is available. It returns (0, nil) when nothing is
// pending and io.EOF when the child closed its stdout.
func (s *Stream) Read(buf []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return 0, nil
			}
			return 0, fmt.Errorf("reading %s: %w", s.cmd.Path, err)
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Close kills the child and releases the pipe.
func (s *Stream) Close() error {
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	return s.r.Close()
}

// Output runs a one-shot command and returns its stdout. Stderr is
// folded into the error on failure.
func Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}

// EventStream is the loop-facing side of a native event source.
// *Stream implements it; tests substitute pipes.
type EventStream interface {
	Fd() int
	// Read returns (0, nil) when nothing is pending and io.EOF once the
	// stream has ended.
	Read(buf []byte) (int, error)
	Close() error
}

var _ EventStream = (*Stream)(nil)
