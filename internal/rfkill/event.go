// Package rfkill mirrors the kernel's radio kill switches and derives
// the airplane mode signal from them.
package rfkill

import (
	"encoding/binary"
	"fmt"
)

// Type is the rfkill switch type (enum rfkill_type).
type Type uint8

const (
	TypeAll Type = iota
	TypeWLAN
	TypeBluetooth
	TypeUWB
	TypeWiMAX
	TypeWWAN
	TypeGPS
	TypeFM
	TypeNFC
)

var typeNames = map[Type]string{
	TypeAll:       "all",
	TypeWLAN:      "wlan",
	TypeBluetooth: "bluetooth",
	TypeUWB:       "uwb",
	TypeWiMAX:     "wimax",
	TypeWWAN:      "wwan",
	TypeGPS:       "gps",
	TypeFM:        "fm",
	TypeNFC:       "nfc",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a sysfs type name to its code.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// Op is the rfkill event operation (enum rfkill_operation).
type Op uint8

const (
	OpAdd Op = iota
	OpDel
	OpChange
	OpChangeAll
)

// eventSize is the size of struct rfkill_event (v1). Newer kernels may
// append fields; reads with this buffer size get the v1 prefix.
const eventSize = 8

// Event is one struct rfkill_event.
type Event struct {
	Index uint32
	Type  Type
	Op    Op
	Soft  bool
	Hard  bool
}

func (e Event) MarshalBinary() ([]byte, error) {
	b := make([]byte, eventSize)
	binary.NativeEndian.PutUint32(b[0:4], e.Index)
	b[4] = byte(e.Type)
	b[5] = byte(e.Op)
	b[6] = boolByte(e.Soft)
	b[7] = boolByte(e.Hard)
	return b, nil
}

func (e *Event) UnmarshalBinary(b []byte) error {
	if len(b) < eventSize {
		return fmt.Errorf("rfkill event too short: %d bytes", len(b))
	}
	e.Index = binary.NativeEndian.Uint32(b[0:4])
	e.Type = Type(b[4])
	e.Op = Op(b[5])
	e.Soft = b[6] != 0
	e.Hard = b[7] != 0
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
