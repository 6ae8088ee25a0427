package appwrite

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Wire constants
// ============================================================================

// Message types carried in the realtime envelope.
const (
	TypeEvent     = "event"
	TypeError     = "error"
	TypeConnected = "connected"
	TypePong      = "pong"
	TypePing      = "ping"
)

// WebSocket close codes used by the realtime protocol.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseUnknown         = -1
)

// heartbeatFrame is sent while a socket is open to keep proxies from
// reaping it.
var heartbeatFrame = []byte(`{"type":"ping"}`)

// ============================================================================
// Envelopes
// ============================================================================

// RealtimeResponse is the outer envelope of every inbound realtime frame.
type RealtimeResponse struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RealtimeResponseEvent is delivered to subscribers. Payload holds the raw
// resource JSON; use DecodePayload to turn it into a typed value.
type RealtimeResponseEvent struct {
	Events    []string        `json:"events"`
	Channels  []string        `json:"channels"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// RealtimeEvent is a RealtimeResponseEvent whose payload has been decoded.
type RealtimeEvent[T any] struct {
	Events    []string
	Channels  []string
	Timestamp string
	Payload   T
}

// RealtimeErrorPayload is the data of an "error" envelope.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code,omitempty"`
	Type    string `json:"type,omitempty"`
}

func (p RealtimeErrorPayload) exception() *Exception {
	return &Exception{Message: p.Message, Code: p.Code, Type: p.Type}
}

// RealtimeConnectedPayload is the data of the "connected" envelope the
// server sends once a socket is authorised.
type RealtimeConnectedPayload struct {
	Channels []string        `json:"channels"`
	User     json.RawMessage `json:"user,omitempty"`
}

// DecodePayload decodes the event payload into T.
func DecodePayload[T any](ev RealtimeResponseEvent) (T, error) {
	var out T
	if len(ev.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return out, fmt.Errorf("decode realtime payload: %w", err)
	}
	return out, nil
}

// Typed converts ev into a RealtimeEvent carrying a decoded payload.
func Typed[T any](ev RealtimeResponseEvent) (RealtimeEvent[T], error) {
	payload, err := DecodePayload[T](ev)
	if err != nil {
		return RealtimeEvent[T]{}, err
	}
	return RealtimeEvent[T]{
		Events:    ev.Events,
		Channels:  ev.Channels,
		Timestamp: ev.Timestamp,
		Payload:   payload,
	}, nil
}
