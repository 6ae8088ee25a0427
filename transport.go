package appwrite

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// DefaultReadLimit caps the size of one inbound realtime frame. Document
// payloads regularly exceed the 32 KiB default of the WebSocket libraries.
const DefaultReadLimit int64 = 16 << 20

// ============================================================================
// Transport
// ============================================================================

// MessageKind distinguishes text from binary frames.
type MessageKind int

const (
	MessageText MessageKind = iota + 1
	MessageBinary
)

// DialOptions carries the handshake parameters for a realtime socket.
type DialOptions struct {
	Header     http.Header
	HTTPClient *http.Client
	ReadLimit  int64
}

// Transport opens realtime sockets.
type Transport interface {
	Dial(ctx context.Context, url string, opts DialOptions) (Socket, error)
}

// Socket is one physical WebSocket connection. Read is called from a single
// goroutine; Write and Close may be called concurrently with Read.
// A Read that ends because of a close frame returns a *CloseError.
type Socket interface {
	Read(ctx context.Context) (MessageKind, []byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// ============================================================================
// nhooyr.io/websocket
// ============================================================================

// NhooyrTransport is the default Transport, built on nhooyr.io/websocket.
type NhooyrTransport struct{}

func (NhooyrTransport) Dial(ctx context.Context, url string, opts DialOptions) (Socket, error) {
	var hc *http.Client
	if opts.HTTPClient != nil {
		// The handshake is bounded by ctx; nhooyr rejects clients with a Timeout.
		c := *opts.HTTPClient
		c.Timeout = 0
		hc = &c
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: hc,
		HTTPHeader: opts.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &nhooyrSocket{conn: conn}, nil
}

type nhooyrSocket struct {
	conn *websocket.Conn
}

func (s *nhooyrSocket) Read(ctx context.Context) (MessageKind, []byte, error) {
	typ, data, err := s.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return 0, nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return 0, nil, err
	}
	if typ == websocket.MessageBinary {
		return MessageBinary, data, nil
	}
	return MessageText, data, nil
}

func (s *nhooyrSocket) Write(ctx context.Context, data []byte) error {
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *nhooyrSocket) Close(code int, reason string) error {
	return s.conn.Close(websocket.StatusCode(code), reason)
}
