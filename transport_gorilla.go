package appwrite

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// GorillaTransport is a Transport built on github.com/gorilla/websocket.
// A nil Dialer uses websocket.DefaultDialer.
type GorillaTransport struct {
	Dialer *websocket.Dialer
}

func (t GorillaTransport) Dial(ctx context.Context, url string, opts DialOptions) (Socket, error) {
	d := websocket.DefaultDialer
	if t.Dialer != nil {
		d = t.Dialer
	}
	dialer := *d
	if opts.HTTPClient != nil {
		if opts.HTTPClient.Jar != nil {
			dialer.Jar = opts.HTTPClient.Jar
		}
		if tr, ok := opts.HTTPClient.Transport.(*http.Transport); ok && tr.TLSClientConfig != nil {
			dialer.TLSClientConfig = tr.TLSClientConfig.Clone()
		}
	}

	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &gorillaSocket{conn: conn}, nil
}

type gorillaSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *gorillaSocket) Read(ctx context.Context) (MessageKind, []byte, error) {
	// gorilla has no context support; unblock the read by closing the conn.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	typ, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return 0, nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, err
	}
	if typ == websocket.BinaryMessage {
		return MessageBinary, data, nil
	}
	return MessageText, data, nil
}

func (s *gorillaSocket) Write(ctx context.Context, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(dl)
	} else {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *gorillaSocket) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if cerr := s.conn.Close(); err == nil && cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}
	return err
}
