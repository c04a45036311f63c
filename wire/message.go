package wire

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/xid"

	"github.com/outofforest/rpckit/medium"
)

// MessageType is the value of the `$type` tag.
type MessageType string

// Message types.
const (
	TypeAPICall       MessageType = "api-call"
	TypeAPIReturn     MessageType = "api-return"
	TypeVersionCall   MessageType = "version-call"
	TypeVersionReturn MessageType = "version-return"
	TypeEvent         MessageType = "event"
	TypeSessionCall   MessageType = "session-call"
	TypeSessionReturn MessageType = "session-return"
	TypeHeartbeat     MessageType = "heartbeat"
)

var knownTypes = map[MessageType]struct{}{
	TypeAPICall:       {},
	TypeAPIReturn:     {},
	TypeVersionCall:   {},
	TypeVersionReturn: {},
	TypeEvent:         {},
	TypeSessionCall:   {},
	TypeSessionReturn: {},
	TypeHeartbeat:     {},
}

// ErrMalformed is returned when a package does not carry a valid message.
var ErrMalformed = errors.New("malformed message")

// Message is the envelope of everything exchanged by two terminals.
type Message struct {
	ID   string      `json:"$id"`
	Type MessageType `json:"$type"`

	Service string `json:"service,omitempty"`
	API     string `json:"api,omitempty"`
	Event   string `json:"event,omitempty"`
	Call    string `json:"type,omitempty"`
	Args    []any  `json:"args,omitempty"`

	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`

	Ext map[string]any `json:"ext,omitempty"`
}

// Error is the failure carried by return messages.
type Error struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Peer identifies a terminal.
type Peer struct {
	ID   string
	Role string
}

// Handler handles received message.
type Handler func(ctx context.Context, msg *Message)

// NewID returns new correlation ID.
func NewID() string {
	return xid.New().String()
}

// Reply creates return message correlated with the message.
func (m *Message) Reply(t MessageType) *Message {
	return &Message{
		ID:   m.ID,
		Type: t,
	}
}

// Validate verifies that common envelope fields are present.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.Wrap(ErrMalformed, "missing $id")
	}
	if _, ok := knownTypes[m.Type]; !ok {
		return errors.Wrapf(ErrMalformed, "unknown $type %q", m.Type)
	}
	switch m.Type {
	case TypeAPICall:
		if m.Service == "" || m.API == "" {
			return errors.Wrap(ErrMalformed, "api call without service or api")
		}
	case TypeVersionCall:
		if m.Service == "" {
			return errors.Wrap(ErrMalformed, "version call without service")
		}
	case TypeEvent:
		if m.Service == "" || m.Event == "" {
			return errors.Wrap(ErrMalformed, "event without service or name")
		}
	case TypeSessionCall:
		if m.Call == "" {
			return errors.Wrap(ErrMalformed, "session call without type")
		}
	}
	return nil
}

// Decode converts received package data into validated message. Structured message is copied,
// so the result never shares memory with the sender.
func Decode(data any) (*Message, error) {
	var msg *Message
	switch d := data.(type) {
	case *Message:
		if d == nil {
			return nil, errors.Wrap(ErrMalformed, "nil message")
		}
		c, err := medium.Clone(*d)
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		m := c.(Message)
		msg = &m
	case Message:
		c, err := medium.Clone(d)
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		m := c.(Message)
		msg = &m
	case string:
		return decodeJSON([]byte(d))
	case []byte:
		return decodeJSON(d)
	case json.RawMessage:
		return decodeJSON(d)
	case map[string]any:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		return decodeJSON(b)
	default:
		return nil, errors.Wrapf(ErrMalformed, "unsupported package data %T", data)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeJSON(b []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
