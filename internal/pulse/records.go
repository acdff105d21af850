// Package pulse mirrors a PulseAudio-compatible sound server (including
// pipewire-pulse) through pactl.
package pulse

import (
	"sort"
	"strconv"
	"strings"

	"github.com/osd-bridge/osdbridge/internal/bridge"
)

// Native id classes. Pulse keeps a separate index space per facility.
const (
	ClassSink   = "sink"
	ClassSource = "source"
	ClassCard   = "card"
)

// volumeNorm is PA_VOLUME_NORM, the raw volume for 100%.
const volumeNorm = 65536

type Kind string

const (
	KindSink   Kind = "sink"
	KindSource Kind = "source"
)

// Device is a sink or source.
type Device struct {
	Kind        Kind   `json:"kind"`
	Index       uint32 `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state,omitempty"`
	// Volume is the loudest channel as a percentage of normal.
	Volume   uint32   `json:"volume"`
	Mute     bool     `json:"mute"`
	Channels []string `json:"channels,omitempty"`
	// Raw per-channel volumes in Channels order.
	ChannelVolumes   []uint32 `json:"channel_volumes,omitempty"`
	BaseVolumeNormal bool     `json:"base_volume_normal"`
	// Balance is only meaningful when CanBalance is set.
	Balance    float64 `json:"balance"`
	CanBalance bool    `json:"can_balance"`
	ActivePort string  `json:"active_port,omitempty"`
}

func (d Device) DomainID() string {
	return string(d.Kind) + ":" + d.Name
}

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
	DirectionBoth   Direction = "both"
)

type PortType string

const (
	PortAnalog  PortType = "analog"
	PortDigital PortType = "digital"
	PortUnknown PortType = "unknown"
)

type Profile struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   bool   `json:"available"`
	Sinks       uint32 `json:"sinks"`
	Sources     uint32 `json:"sources"`
	Priority    uint32 `json:"priority"`
}

type Port struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Direction   Direction `json:"direction"`
	Type        PortType  `json:"type"`
	ProfilePort uint32    `json:"profile_port"`
	Priority    uint32    `json:"priority"`
	Profiles    []string  `json:"profiles,omitempty"`
}

// Variant distinguishes the backing device of a card.
type Variant struct {
	Bus string `json:"bus"` // "alsa" or "bluez5"

	AlsaCard          uint32 `json:"alsa_card,omitempty"`
	AlsaCardName      string `json:"alsa_card_name,omitempty"`
	CardProfileDevice uint32 `json:"card_profile_device,omitempty"`

	Address string `json:"address,omitempty"`
	Codec   string `json:"codec,omitempty"`
	Profile string `json:"profile,omitempty"`
}

type Card struct {
	Index         uint32    `json:"index"`
	ObjectID      uint32    `json:"object_id"`
	Name          string    `json:"name"`
	Variant       Variant   `json:"variant"`
	Ports         []Port    `json:"ports,omitempty"`
	Profiles      []Profile `json:"profiles,omitempty"`
	ActiveProfile string    `json:"active_profile,omitempty"`
}

// DomainID prefers the card name and falls back to the object id,
// which is required, when the server reports no name.
func (c Card) DomainID() string {
	if c.Name == "" {
		return "card:#" + strconv.FormatUint(uint64(c.ObjectID), 10)
	}
	return "card:" + c.Name
}

// Normalize converts one entry of pactl's JSON listing.
func Normalize(id bridge.NativeID, p bridge.Props) (bridge.Record, bool) {
	switch id.Class {
	case ClassSink:
		return normalizeDevice(KindSink, p)
	case ClassSource:
		return normalizeDevice(KindSource, p)
	case ClassCard:
		return normalizeCard(p)
	}
	return nil, false
}

func normalizeDevice(kind Kind, p bridge.Props) (bridge.Record, bool) {
	index, ok := p.Uint32("index")
	if !ok {
		return nil, false
	}
	name, ok := p.String("name")
	if !ok || name == "" {
		return nil, false
	}
	mute, ok := p.Bool("mute")
	if !ok {
		return nil, false
	}
	volumes, ok := p.Sub("volume")
	if !ok || len(volumes) == 0 {
		return nil, false
	}

	channels := channelOrder(p.StringOr("channel_map", ""), volumes)
	raw := make([]uint32, 0, len(channels))
	var loudest uint32
	for _, ch := range channels {
		entry, ok := volumes.Sub(ch)
		if !ok {
			return nil, false
		}
		v, ok := entry.Uint32("value")
		if !ok {
			return nil, false
		}
		raw = append(raw, v)
		loudest = max(loudest, v)
	}

	d := Device{
		Kind:           kind,
		Index:          index,
		Name:           name,
		Description:    p.StringOr("description", ""),
		State:          strings.ToLower(p.StringOr("state", "")),
		Volume:         loudest / (volumeNorm / 100),
		Mute:           mute,
		Channels:       channels,
		ChannelVolumes: raw,
		ActivePort:     p.StringOr("active_port", ""),
	}
	if base, ok := p.Sub("base_volume"); ok {
		if v, ok := base.Uint32("value"); ok && v == volumeNorm {
			d.BaseVolumeNormal = true
		}
	}
	if d.BaseVolumeNormal && canBalance(channels) {
		d.CanBalance = true
		d.Balance = balance(channels, raw)
	}
	return d, true
}

// channelOrder returns channel names in channel map order, falling back
// to sorted volume keys when the map is absent or disagrees.
func channelOrder(channelMap string, volumes bridge.Props) []string {
	if channelMap != "" {
		names := strings.Split(channelMap, ",")
		if len(names) == len(volumes) {
			for _, n := range names {
				if !volumes.Has(n) {
					names = nil
					break
				}
			}
			if names != nil {
				return names
			}
		}
	}
	names := make([]string, 0, len(volumes))
	for n := range volumes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isLeft(ch string) bool  { return strings.HasSuffix(ch, "-left") }
func isRight(ch string) bool { return strings.HasSuffix(ch, "-right") }

func canBalance(channels []string) bool {
	var left, right bool
	for _, ch := range channels {
		left = left || isLeft(ch)
		right = right || isRight(ch)
	}
	return left && right
}

// balance follows pa_cvolume_get_balance: -1 is full left, 1 full right.
func balance(channels []string, raw []uint32) float64 {
	var l, r float64
	var nl, nr int
	for i, ch := range channels {
		switch {
		case isLeft(ch):
			l += float64(raw[i])
			nl++
		case isRight(ch):
			r += float64(raw[i])
			nr++
		}
	}
	l /= float64(nl)
	r /= float64(nr)
	switch {
	case l == r:
		return 0
	case l > r:
		return r/l - 1
	default:
		return 1 - l/r
	}
}

// balancedVolumes returns per-channel raw volumes that keep the current
// loudest level and apply bal.
func balancedVolumes(channels []string, raw []uint32, bal float64) []uint32 {
	var loudest uint32
	for _, v := range raw {
		loudest = max(loudest, v)
	}
	bal = min(max(bal, -1), 1)
	left, right := float64(loudest), float64(loudest)
	if bal < 0 {
		right *= 1 + bal
	} else {
		left *= 1 - bal
	}
	out := make([]uint32, len(channels))
	for i, ch := range channels {
		switch {
		case isLeft(ch):
			out[i] = uint32(left + 0.5)
		case isRight(ch):
			out[i] = uint32(right + 0.5)
		default:
			out[i] = raw[i]
		}
	}
	return out
}

func normalizeCard(p bridge.Props) (bridge.Record, bool) {
	index, ok := p.Uint32("index")
	if !ok {
		return nil, false
	}
	props, ok := p.Sub("properties")
	if !ok {
		return nil, false
	}
	objectID, ok := props.Uint32("object.id")
	if !ok {
		return nil, false
	}

	var variant Variant
	if alsaCard, ok := props.Uint32("alsa.card"); ok {
		device, _ := props.Uint32("card.profile.device")
		variant = Variant{
			Bus:               "alsa",
			AlsaCard:          alsaCard,
			AlsaCardName:      props.StringOr("alsa.card_name", ""),
			CardProfileDevice: device,
		}
	} else if addr, ok := props.String("api.bluez5.address"); ok {
		variant = Variant{
			Bus:     "bluez5",
			Address: addr,
			Codec:   props.StringOr("api.bluez5.codec", ""),
			Profile: props.StringOr("api.bluez5.profile", ""),
		}
	} else {
		return nil, false
	}

	c := Card{
		Index:         index,
		ObjectID:      objectID,
		Name:          p.StringOr("name", ""),
		Variant:       variant,
		ActiveProfile: p.StringOr("active_profile", ""),
	}
	if profiles, ok := p.Sub("profiles"); ok {
		c.Profiles = collectProfiles(profiles)
	}
	if ports, ok := p.Sub("ports"); ok {
		c.Ports = collectPorts(ports)
	}
	return c, true
}

func collectProfiles(m bridge.Props) []Profile {
	out := make([]Profile, 0, len(m))
	for name := range m {
		entry, _ := m.Sub(name)
		available, _ := entry.Bool("available")
		sinks, _ := entry.Uint32("sinks")
		sources, _ := entry.Uint32("sources")
		priority, _ := entry.Uint32("priority")
		out = append(out, Profile{
			Name:        name,
			Description: entry.StringOr("description", ""),
			Available:   available,
			Sinks:       sinks,
			Sources:     sources,
			Priority:    priority,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func collectPorts(m bridge.Props) []Port {
	out := make([]Port, 0, len(m))
	for name := range m {
		entry, _ := m.Sub(name)
		priority, _ := entry.Uint32("priority")
		port := Port{
			Name:        name,
			Description: entry.StringOr("description", ""),
			Direction:   portDirection(name),
			Type:        PortUnknown,
			Priority:    priority,
		}
		if props, ok := entry.Sub("properties"); ok {
			switch props.StringOr("port.type", "") {
			case "analog":
				port.Type = PortAnalog
			case "digital":
				port.Type = PortDigital
			}
			port.ProfilePort, _ = props.Uint32("card.profile.port")
		}
		if profiles, ok := entry.List("profiles"); ok {
			for _, v := range profiles {
				if s, ok := v.(string); ok {
					port.Profiles = append(port.Profiles, s)
				}
			}
		}
		out = append(out, port)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// portDirection infers direction from the port name; pactl's JSON does
// not carry the direction flags.
func portDirection(name string) Direction {
	switch {
	case strings.Contains(name, "input"):
		return DirectionInput
	case strings.Contains(name, "output"):
		return DirectionOutput
	}
	return DirectionBoth
}
