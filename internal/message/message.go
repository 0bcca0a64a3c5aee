package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Sender roles accepted on the wire. The values are part of the client protocol.
const (
	RoleTeacher   = "учитель"
	RoleStudent   = "ученик"
	RoleObserver  = "наблюдатель"
	RoleAdmin     = "ADMIN"
	RoleHeartbeat = "heartbeat"
)

// Target scopes.
const (
	ScopeAll   = "all"
	ScopeTypes = "type"
	ScopeIDs   = "ids"
)

// Reserved values carried by server heartbeats. Clients must ignore
// heartbeats for display purposes.
const (
	CommandPing       = "PING"
	HeartbeatSenderID = ""
)

var ErrInvalid = errors.New("invalid message")

type Sender struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type Target struct {
	Scope string   `json:"scope"`
	Types []string `json:"types,omitempty"`
	IDs   []string `json:"ids,omitempty"`
}

// Message is one relayed room message. Treat it as immutable once built:
// the hub shares a single value across every delivery attempt.
type Message struct {
	RoomID  string          `json:"room_id"`
	Sender  Sender          `json:"sender"`
	Target  *Target         `json:"target,omitempty"`
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Heartbeat builds the synthetic liveness probe sent to push subscribers.
func Heartbeat(room string) Message {
	return Message{
		RoomID:  room,
		Sender:  Sender{ID: HeartbeatSenderID, Type: RoleHeartbeat},
		Command: CommandPing,
	}
}

func (m Message) IsHeartbeat() bool {
	return m.Sender.Type == RoleHeartbeat && m.Command == CommandPing
}

// Validate reports whether m is well-formed. Errors wrap ErrInvalid.
func (m Message) Validate() error {
	if strings.TrimSpace(m.RoomID) == "" {
		return fmt.Errorf("%w: room_id must not be empty", ErrInvalid)
	}
	switch m.Sender.Type {
	case RoleTeacher, RoleStudent, RoleObserver, RoleAdmin, RoleHeartbeat:
	default:
		return fmt.Errorf("%w: unknown sender.type %q", ErrInvalid, m.Sender.Type)
	}
	if m.Target != nil {
		if err := m.Target.validate(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(m.Command) == "" {
		return fmt.Errorf("%w: command must not be empty", ErrInvalid)
	}
	return nil
}

func (t Target) validate() error {
	switch t.Scope {
	case ScopeAll:
	case ScopeTypes:
		if len(t.Types) == 0 {
			return fmt.Errorf("%w: target.types must not be empty when scope is %q", ErrInvalid, ScopeTypes)
		}
	case ScopeIDs:
		if len(t.IDs) == 0 {
			return fmt.Errorf("%w: target.ids must not be empty when scope is %q", ErrInvalid, ScopeIDs)
		}
	default:
		return fmt.Errorf("%w: unknown target.scope %q", ErrInvalid, t.Scope)
	}
	return nil
}

// Decode reads one JSON message from r and validates it.
func Decode(r io.Reader) (Message, error) {
	var m Message
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Message{}, fmt.Errorf("%w: json: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Parse is Decode for an in-memory frame.
func Parse(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: json: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
