package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Event names are shared verbatim with the editor frontend.
type Event string

const (
	EventJoin           Event = "join"
	EventJoined         Event = "joined"
	EventDisconnected   Event = "disconnected"
	EventCodeChange     Event = "code-change"
	EventSyncCode       Event = "sync-code"
	EventSyncAll        Event = "sync-all-code"
	EventLanguageChange Event = "language-change"
	EventInputChange    Event = "input-change"
	EventOutputChange   Event = "output-change"
	EventLeave          Event = "leave"
)

// Envelope is the wire frame for every websocket message, in both
// directions: a named event plus its payload.
type Envelope struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope missing event name")
	}
	return &env, nil
}

func Encode(event Event, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

var validate = validator.New()

// Client→server payloads.

type JoinPayload struct {
	RoomID   string `json:"roomId" validate:"required"`
	Username string `json:"username" validate:"required"`
	UserID   string `json:"userId"`
}

func (p *JoinPayload) Validate() error {
	return validate.Struct(p)
}

type CodeChangePayload struct {
	RoomID string `json:"roomId,omitempty"`
	Code   string `json:"code"`
}

type LanguageChangePayload struct {
	RoomID   string `json:"roomId,omitempty"`
	Language string `json:"language"`
}

type InputChangePayload struct {
	RoomID    string `json:"roomId,omitempty"`
	UserInput string `json:"userInput"`
}

// SyncCodePayload is the legacy point-to-point code sync: the server relays
// the code to the named socket as a code-change.
type SyncCodePayload struct {
	SocketID string `json:"socketId"`
	Code     string `json:"code"`
}

// Server→client payloads.

// ClientInfo is one presence entry. UserID is a pointer so connections that
// never announced an identity serialize as null, matching the frontend.
type ClientInfo struct {
	SocketID string  `json:"socketId"`
	Username string  `json:"username"`
	UserID   *string `json:"userId"`
}

type JoinedPayload struct {
	Clients  []ClientInfo `json:"clients"`
	Username string       `json:"username"`
	SocketID string       `json:"socketId"`
}

type SyncAllPayload struct {
	Code      string `json:"code"`
	Language  string `json:"language"`
	UserInput string `json:"userInput"`
	Output    string `json:"output"`
}

type OutputChangePayload struct {
	Output string `json:"output"`
}

type DisconnectedPayload struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}
