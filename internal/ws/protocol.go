package ws

import (
	"errors"
	"fmt"

	"github.com/osd-bridge/osdbridge/internal/bridge"
	"github.com/osd-bridge/osdbridge/internal/state"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgEvent    MessageType = "event"
	MsgHealth   MessageType = "health"
	MsgCommand  MessageType = "command"
	MsgError    MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type" cbor:"type"`
	Seq     uint64      `json:"seq,omitempty" cbor:"seq,omitempty"`
	Payload any         `json:"payload" cbor:"payload"`
}

type HealthPayload struct {
	Subsystems []state.Health `json:"subsystems" cbor:"subsystems"`
}

type ErrorPayload struct {
	Message string `json:"message" cbor:"message"`
	Ref     string `json:"ref,omitempty" cbor:"ref,omitempty"`
}

// Command ops accepted from clients.
const (
	OpSet    = "set"
	OpRescan = "rescan"
)

// CommandPayload is a client command addressed to one subsystem. It is
// used both in websocket command messages and as the body of
// POST /api/subsystems/{name}/commands, where Subsystem comes from the
// path.
type CommandPayload struct {
	Ref       string  `json:"ref,omitempty" cbor:"ref,omitempty"`
	Subsystem string  `json:"subsystem,omitempty" cbor:"subsystem,omitempty"`
	Op        string  `json:"op" cbor:"op"`
	Target    string  `json:"target,omitempty" cbor:"target,omitempty"`
	Control   string  `json:"control,omitempty" cbor:"control,omitempty"`
	Value     float64 `json:"value" cbor:"value"`
}

var errBadCommand = errors.New("invalid command")

// Command converts the payload into a bridge command.
func (p CommandPayload) Command() (bridge.Command, error) {
	switch p.Op {
	case OpSet:
		if p.Control == "" {
			return nil, fmt.Errorf("%w: set needs a control", errBadCommand)
		}
		return bridge.SetScalar{Target: p.Target, Control: p.Control, Value: p.Value}, nil
	case OpRescan:
		return bridge.Rescan{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", errBadCommand, p.Op)
	}
}

// inbound is the only message shape clients send.
type inbound struct {
	Type    MessageType    `json:"type" cbor:"type"`
	Payload CommandPayload `json:"payload" cbor:"payload"`
}
