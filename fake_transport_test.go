package appwrite

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ============================================================================
// In-memory Transport for engine tests
// ============================================================================

type fakeTransport struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	dialErr error
	dials   int
}

func (t *fakeTransport) Dial(ctx context.Context, rawURL string, opts DialOptions) (Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	s := &fakeSocket{
		url:     rawURL,
		header:  opts.Header,
		inbound: make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
	t.sockets = append(t.sockets, s)
	return s, nil
}

func (t *fakeTransport) setDialErr(err error) {
	t.mu.Lock()
	t.dialErr = err
	t.mu.Unlock()
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) socketCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sockets)
}

func (t *fakeTransport) socket(i int) *fakeSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.sockets) {
		return nil
	}
	return t.sockets[i]
}

func (t *fakeTransport) last() *fakeSocket {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sockets) == 0 {
		return nil
	}
	return t.sockets[len(t.sockets)-1]
}

var errSocketClosed = errors.New("fake socket closed")

type fakeSocket struct {
	url     string
	header  http.Header
	inbound chan []byte
	closeCh chan struct{}
	once    sync.Once

	mu           sync.Mutex
	readErr      error
	written      [][]byte
	clientClosed bool
	closeCode    int
	closeReason  string
}

func (s *fakeSocket) Read(ctx context.Context) (MessageKind, []byte, error) {
	select {
	case data := <-s.inbound:
		return MessageText, data, nil
	case <-s.closeCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		return 0, nil, s.readErr
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (s *fakeSocket) Write(ctx context.Context, data []byte) error {
	select {
	case <-s.closeCh:
		return errSocketClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.clientClosed = true
		s.closeCode = code
		s.closeReason = reason
		s.readErr = errSocketClosed
		s.mu.Unlock()
		close(s.closeCh)
	})
	return nil
}

// push delivers a text frame as if sent by the server.
func (s *fakeSocket) push(frame string) {
	s.inbound <- []byte(frame)
}

// serverClose ends the socket with a close frame from the server.
func (s *fakeSocket) serverClose(code int, reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.readErr = &CloseError{Code: code, Reason: reason}
		s.mu.Unlock()
		close(s.closeCh)
	})
}

// drop ends the socket as if the network failed.
func (s *fakeSocket) drop(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.readErr = err
		s.mu.Unlock()
		close(s.closeCh)
	})
}

func (s *fakeSocket) channels() []string {
	u, err := url.Parse(s.url)
	if err != nil {
		return nil
	}
	return u.Query()["channels[]"]
}

func (s *fakeSocket) project() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return ""
	}
	return u.Query().Get("project")
}

func (s *fakeSocket) closedByClient() (bool, int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientClosed, s.closeCode, s.closeReason
}

func (s *fakeSocket) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, w := range s.written {
		out[i] = string(w)
	}
	return out
}

// waitInbound blocks until the read loop has consumed every pushed frame.
func (s *fakeSocket) waitInbound(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(s.inbound) == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
