package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for payloads that are not a JSON object with a
	// string "type" field.
	ErrMalformed = errors.New("malformed tunnel message")
	// ErrUnknownType is returned for JSON objects whose type is not a tunnel
	// message type. Pages post plenty of unrelated messages; callers ignore it.
	ErrUnknownType = errors.New("unknown tunnel message type")
)

// Message is one of Command, Response, Ready or Navigation.
type Message interface {
	MessageType() string
}

func (Command) MessageType() string    { return TypeCommand }
func (Response) MessageType() string   { return TypeResponse }
func (Ready) MessageType() string      { return TypeReady }
func (Navigation) MessageType() string { return TypeNavigation }

type envelope struct {
	Type *string `json:"type"`
}

// Decode parses a raw tunnel message into its concrete type.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil {
		return nil, ErrMalformed
	}

	switch *env.Type {
	case TypeCommand:
		var m Command
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.ID == "" || m.Command == "" {
			return nil, fmt.Errorf("%w: command without id or name", ErrMalformed)
		}
		return m, nil
	case TypeResponse:
		var m Response
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if m.ID == "" {
			return nil, fmt.Errorf("%w: response without id", ErrMalformed)
		}
		return m, nil
	case TypeReady:
		var m Ready
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil
	case TypeNavigation:
		var m Navigation
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, *env.Type)
}

// Encode marshals a message, filling in its type field.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Command:
		v.Type = TypeCommand
		return json.Marshal(v)
	case Response:
		v.Type = TypeResponse
		return json.Marshal(v)
	case Ready:
		v.Type = TypeReady
		return json.Marshal(v)
	case Navigation:
		v.Type = TypeNavigation
		return json.Marshal(v)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownType, m)
}
