// Package pipewire mirrors PipeWire audio nodes through pw-dump.
package pipewire

import (
	"strings"

	"github.com/osd-bridge/osdbridge/internal/bridge"
)

// ClassNode is the native id class for registry nodes.
const ClassNode = "node"

const typeNode = "PipeWire:Interface:Node"

type MediaClass string

const (
	MediaSink   MediaClass = "Audio/Sink"
	MediaSource MediaClass = "Audio/Source"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCreating  State = "creating"
	StateSuspended State = "suspended"
	StateError     State = "error"
)

// Device is an ALSA-backed audio node.
type Device struct {
	ObjectID          uint32     `json:"object_id"`
	AlsaCard          uint32     `json:"alsa_card"`
	CardProfileDevice uint32     `json:"card_profile_device"`
	MediaClass        MediaClass `json:"media_class"`
	NodeName          string     `json:"node_name"`

	AlsaCardName             string `json:"alsa_card_name,omitempty"`
	DeviceProfileDescription string `json:"device_profile_description,omitempty"`
	NodeDescription          string `json:"node_description,omitempty"`
	State                    State  `json:"state,omitempty"`
	// Error is set with StateError.
	Error string `json:"error,omitempty"`
}

func (d Device) DomainID() string {
	return "node:" + d.NodeName
}

// Normalize converts one pw-dump object.
func Normalize(_ bridge.NativeID, obj bridge.Props) (bridge.Record, bool) {
	if t, _ := obj.String("type"); t != "" && t != typeNode {
		return nil, false
	}
	info, ok := obj.Sub("info")
	if !ok {
		return nil, false
	}
	props, ok := info.Sub("props")
	if !ok {
		return nil, false
	}

	objectID, ok := props.Uint32("object.id")
	if !ok {
		return nil, false
	}
	alsaCard, ok := props.Uint32("alsa.card")
	if !ok {
		return nil, false
	}
	profileDevice, ok := props.Uint32("card.profile.device")
	if !ok {
		return nil, false
	}
	class, _ := props.String("media.class")
	switch MediaClass(class) {
	case MediaSink, MediaSource:
	default:
		return nil, false
	}
	nodeName, ok := props.String("node.name")
	if !ok || nodeName == "" {
		return nil, false
	}

	d := Device{
		ObjectID:                 objectID,
		AlsaCard:                 alsaCard,
		CardProfileDevice:        profileDevice,
		MediaClass:               MediaClass(class),
		NodeName:                 nodeName,
		AlsaCardName:             props.StringOr("alsa.card_name", ""),
		DeviceProfileDescription: props.StringOr("device.profile.description", ""),
		NodeDescription:          strings.ReplaceAll(props.StringOr("node.description", ""), "High Definition Audio", "HD Audio"),
	}
	switch st := State(info.StringOr("state", "")); st {
	case StateIdle, StateRunning, StateCreating, StateSuspended:
		d.State = st
	case StateError:
		d.State = st
		d.Error = info.StringOr("error", "")
	}
	return d, true
}
