package rfkill

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Switch is a kill switch as listed in sysfs.
type Switch struct {
	Index uint32
	Type  string
	Name  string
	Soft  bool
	Hard  bool
}

// Conn is an open rfkill control device.
type Conn interface {
	Fd() int
	// ReadEvent returns ok=false when no event is pending and io.EOF if
	// the device went away.
	ReadEvent() (ev Event, ok bool, err error)
	WriteEvent(ev Event) error
	Close() error
}

// Client is the black-box rfkill surface.
type Client interface {
	List() ([]Switch, error)
	// Name returns the sysfs name of switch index, if it still exists.
	Name(index uint32) (string, bool)
	Open() (Conn, error)
}

type sysClient struct {
	sysfs  string
	device string
}

// NewSysClient reads switches from sysfsDir (normally
// /sys/class/rfkill) and opens devicePath (normally /dev/rfkill).
func NewSysClient(sysfsDir, devicePath string) Client {
	if sysfsDir == "" {
		sysfsDir = "/sys/class/rfkill"
	}
	if devicePath == "" {
		devicePath = "/dev/rfkill"
	}
	return &sysClient{sysfs: sysfsDir, device: devicePath}
}

func (c *sysClient) List() ([]Switch, error) {
	entries, err := os.ReadDir(c.sysfs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", c.sysfs, err)
	}

	var out []Switch
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "rfkill") {
			continue
		}
		sw, err := readSwitch(filepath.Join(c.sysfs, entry.Name()))
		if err != nil {
			// Switches can disappear while being read.
			continue
		}
		out = append(out, sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func readSwitch(dir string) (Switch, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		return strings.TrimSpace(string(b)), err
	}
	idx, err := read("index")
	if err != nil {
		return Switch{}, err
	}
	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Switch{}, fmt.Errorf("parsing %s/index: %w", dir, err)
	}
	typ, err := read("type")
	if err != nil {
		return Switch{}, err
	}
	soft, err := read("soft")
	if err != nil {
		return Switch{}, err
	}
	hard, err := read("hard")
	if err != nil {
		return Switch{}, err
	}
	name, _ := read("name")
	return Switch{
		Index: uint32(index),
		Type:  typ,
		Name:  name,
		Soft:  soft == "1",
		Hard:  hard == "1",
	}, nil
}

func (c *sysClient) Name(index uint32) (string, bool) {
	b, err := os.ReadFile(filepath.Join(c.sysfs, "rfkill"+strconv.FormatUint(uint64(index), 10), "name"))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func (c *sysClient) Open() (Conn, error) {
	fd, err := unix.Open(c.device, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		// Read-only still mirrors state; soft_block commands will fail.
		fd, err = unix.Open(c.device, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.device, err)
	}
	return &fdConn{fd: fd}, nil
}

// fdConn reads and writes struct rfkill_event on a file descriptor.
type fdConn struct {
	fd int
}

func newFDConn(fd int) *fdConn { return &fdConn{fd: fd} }

func (c *fdConn) Fd() int { return c.fd }

func (c *fdConn) ReadEvent() (Event, bool, error) {
	var buf [eventSize]byte
	for {
		n, err := unix.Read(c.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return Event{}, false, nil
		}
		if err != nil {
			return Event{}, false, fmt.Errorf("reading rfkill event: %w", err)
		}
		if n == 0 {
			return Event{}, false, io.EOF
		}
		var ev Event
		if err := ev.UnmarshalBinary(buf[:n]); err != nil {
			return Event{}, false, err
		}
		return ev, true, nil
	}
}

func (c *fdConn) WriteEvent(ev Event) error {
	b, _ := ev.MarshalBinary()
	if _, err := unix.Write(c.fd, b); err != nil {
		return fmt.Errorf("writing rfkill event: %w", err)
	}
	return nil
}

func (c *fdConn) Close() error {
	return unix.Close(c.fd)
}
