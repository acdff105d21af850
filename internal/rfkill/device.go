package rfkill

import (
	"strconv"

	"github.com/osd-bridge/osdbridge/internal/bridge"
)

// ClassSwitch is the native id class; the index is the rfkill index.
const ClassSwitch = "rfkill"

// SignalAirplaneMode is true when at least one switch exists and every
// switch is soft- or hard-blocked.
const SignalAirplaneMode = "airplane_mode"

// Device is one kill switch.
type Device struct {
	Index uint32 `json:"index"`
	Type  string `json:"type"`
	Name  string `json:"name,omitempty"`
	Soft  bool   `json:"soft"`
	Hard  bool   `json:"hard"`
}

func (d Device) DomainID() string {
	if d.Name != "" {
		return d.Type + ":" + d.Name
	}
	return d.Type + ":" + strconv.FormatUint(uint64(d.Index), 10)
}

// Blocked reports whether the radio is off for any reason.
func (d Device) Blocked() bool {
	return d.Soft || d.Hard
}

func Normalize(_ bridge.NativeID, p bridge.Props) (bridge.Record, bool) {
	index, ok := p.Uint32("index")
	if !ok {
		return nil, false
	}
	typ, ok := p.String("type")
	if !ok {
		return nil, false
	}
	if t, known := ParseType(typ); !known || t == TypeAll {
		return nil, false
	}
	soft, ok := p.Bool("soft")
	if !ok {
		return nil, false
	}
	hard, ok := p.Bool("hard")
	if !ok {
		return nil, false
	}
	return Device{
		Index: index,
		Type:  typ,
		Name:  p.StringOr("name", ""),
		Soft:  soft,
		Hard:  hard,
	}, true
}

// AirplaneMode computes the aggregate over a table of switches.
func AirplaneMode(t *bridge.Table) any {
	if t.Len() == 0 {
		return false
	}
	all := true
	t.Each(func(obj bridge.Tracked) {
		if d, ok := obj.Record.(Device); !ok || !d.Blocked() {
			all = false
		}
	})
	return all
}

func props(index uint32, typ, name string, soft, hard bool) bridge.Props {
	p := bridge.Props{
		"index": float64(index),
		"type":  typ,
		"soft":  soft,
		"hard":  hard,
	}
	if name != "" {
		p["name"] = name
	}
	return p
}
