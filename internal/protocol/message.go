// Package protocol defines the JSON frames exchanged with the broker.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	SignalPath = "/api/ws/signal"
	QueryID    = "id"
)

type Type string

const (
	TypeOpen      Type = "open"
	TypeIDTaken   Type = "id-taken"
	TypeInvalidID Type = "invalid-id"
	TypeError     Type = "error"
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeLeave     Type = "leave"
	TypeExpire    Type = "expire"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
)

var ErrMalformed = errors.New("malformed signal frame")

// Message is the envelope of every signal frame. Src is stamped by the
// broker; clients fill Dst.
type Message struct {
	Type   Type   `json:"type"`
	Src    string `json:"src,omitempty"`
	Dst    string `json:"dst,omitempty"`
	CallID string `json:"call_id,omitempty"`
	SDP    string `json:"sdp,omitempty"`
	Error  string `json:"error,omitempty"`
	ID     string `json:"id,omitempty"`
}

// Relayed reports whether the broker forwards the message to Dst.
func (m Message) Relayed() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeLeave:
		return true
	}
	return false
}

func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if m.Relayed() && (m.Dst == "" || m.CallID == "") {
		return Message{}, fmt.Errorf("%w: %s without dst or call_id", ErrMalformed, m.Type)
	}
	return m, nil
}
