package appwrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a Realtime engine. Zero fields take defaults.
type RealtimeConfig struct {
	// Debounce is the quiet period that collapses bursts of subscribe and
	// unsubscribe calls into one reconnect.
	Debounce          time.Duration
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	ReadLimit         int64
	// Backoff maps a reconnect attempt (0-indexed) to its delay.
	Backoff   func(attempt int) time.Duration
	Transport Transport
	Logger    logrus.FieldLogger
	Metrics   *Metrics
}

func (c *RealtimeConfig) defaults() {
	if c.Debounce == 0 {
		c.Debounce = 5 * time.Millisecond
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.Backoff == nil {
		c.Backoff = BackoffDelay
	}
	if c.Transport == nil {
		c.Transport = NhooyrTransport{}
	}
	if c.Logger == nil {
		c.Logger = defaultLogger()
	}
}

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l.WithField("component", "realtime")
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateIdle         RealtimeState = "idle"
	StateConnecting   RealtimeState = "connecting"
	StateOpen         RealtimeState = "open"
	StateClosing      RealtimeState = "closing"
	StateReconnecting RealtimeState = "reconnecting"
	StateClosed       RealtimeState = "closed"
)

// ============================================================================
// Lifecycle hooks
// ============================================================================

type lifecycleHooks struct {
	mu      sync.RWMutex
	onOpen  []func()
	onClose []func(int, string)
	onError []func(error)
}

func (h *lifecycleHooks) emitOpen() {
	h.mu.RLock()
	handlers := append([]func(){}, h.onOpen...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		go fn()
	}
}

func (h *lifecycleHooks) emitClose(code int, reason string) {
	h.mu.RLock()
	handlers := append([]func(int, string){}, h.onClose...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		go fn(code, reason)
	}
}

func (h *lifecycleHooks) emitError(err error) {
	h.mu.RLock()
	handlers := append([]func(error){}, h.onError...)
	h.mu.RUnlock()
	for _, fn := range handlers {
		go fn(err)
	}
}

// ============================================================================
// Realtime
// ============================================================================

// Realtime multiplexes channel subscriptions over a single WebSocket.
//
// Subscribe and unsubscribe only touch the subscription registry and post a
// reconnect request. One manager goroutine owns the socket: it debounces
// requests, reopens the socket whenever the union of subscribed channels
// changes, and reconnects with backoff after unexpected closes.
type Realtime struct {
	client *Client
	config *RealtimeConfig
	log    logrus.FieldLogger
	subs   *subscriptionRegistry
	hooks  lifecycleHooks

	requests  chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.RWMutex
	state    RealtimeState
	attempts int

	// Owned by the manager goroutine.
	conn          *realtimeConn
	retry         *time.Timer
	retryChannels []string
}

// realtimeConn is one open socket and the channel set it was opened with.
type realtimeConn struct {
	socket   Socket
	channels map[string]struct{}
	list     []string
	cancel   context.CancelFunc
	closed   chan error
	wg       sync.WaitGroup
}

func (c *realtimeConn) subscribedTo(channels []string) bool {
	for _, ch := range channels {
		if _, ok := c.channels[ch]; ok {
			return true
		}
	}
	return false
}

// NewRealtime creates a realtime engine bound to client. No socket is opened
// until the first subscription. Call Close to release it.
func NewRealtime(client *Client, config *RealtimeConfig) *Realtime {
	var cfg RealtimeConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	ctx, cancel := context.WithCancel(context.Background())
	rt := &Realtime{
		client:   client,
		config:   &cfg,
		log:      cfg.Logger,
		subs:     newSubscriptionRegistry(),
		requests: make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
	}
	go rt.run()
	return rt
}

// RealtimeSubscription is the handle returned by Subscribe.
type RealtimeSubscription struct {
	ID       string
	Channels []string

	rt   *Realtime
	once sync.Once
}

// Close removes the subscription. It is safe to call more than once.
func (s *RealtimeSubscription) Close() error {
	s.once.Do(func() {
		if s.rt.subs.remove(s.ID) {
			s.rt.config.Metrics.setSubscriptions(s.rt.subs.len())
			s.rt.requestConnect()
		}
	})
	return nil
}

// Subscribe registers callback for events on any of channels. The callback
// runs on its own goroutine, once per matching event.
func (rt *Realtime) Subscribe(channels []string, callback func(RealtimeResponseEvent)) (*RealtimeSubscription, error) {
	sub, err := rt.subs.add(channels, callback)
	if err != nil {
		return nil, err
	}
	rt.config.Metrics.setSubscriptions(rt.subs.len())
	rt.requestConnect()

	list := make([]string, 0, len(sub.channels))
	for ch := range sub.channels {
		list = append(list, ch)
	}
	sort.Strings(list)
	return &RealtimeSubscription{ID: sub.id, Channels: list, rt: rt}, nil
}

// SubscribeAs is Subscribe with the payload decoded into T. Events whose
// payload does not decode are logged and skipped.
func SubscribeAs[T any](rt *Realtime, channels []string, callback func(RealtimeEvent[T])) (*RealtimeSubscription, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}
	return rt.Subscribe(channels, func(ev RealtimeResponseEvent) {
		typed, err := Typed[T](ev)
		if err != nil {
			rt.config.Metrics.error(errorKindDecode)
			rt.log.WithError(err).WithField("channels", ev.Channels).Warn("Dropping realtime event with undecodable payload")
			return
		}
		callback(typed)
	})
}

// Unsubscribe is equivalent to sub.Close.
func (rt *Realtime) Unsubscribe(sub *RealtimeSubscription) {
	if sub != nil {
		_ = sub.Close()
	}
}

// ActiveChannels returns the sorted union of all subscribed channels.
func (rt *Realtime) ActiveChannels() []string {
	return rt.subs.activeChannels()
}

// State returns the current connection state.
func (rt *Realtime) State() RealtimeState {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.state
}

// Attempts returns the number of reconnects since the last successful open.
func (rt *Realtime) Attempts() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.attempts
}

// OnOpen registers a handler called each time a socket opens.
func (rt *Realtime) OnOpen(h func()) {
	rt.hooks.mu.Lock()
	rt.hooks.onOpen = append(rt.hooks.onOpen, h)
	rt.hooks.mu.Unlock()
}

// OnClose registers a handler called each time a socket closes.
func (rt *Realtime) OnClose(h func(code int, reason string)) {
	rt.hooks.mu.Lock()
	rt.hooks.onClose = append(rt.hooks.onClose, h)
	rt.hooks.mu.Unlock()
}

// OnError registers a handler for transport and protocol errors.
func (rt *Realtime) OnError(h func(err error)) {
	rt.hooks.mu.Lock()
	rt.hooks.onError = append(rt.hooks.onError, h)
	rt.hooks.mu.Unlock()
}

// Close drops every subscription, closes the socket and stops reconnecting.
func (rt *Realtime) Close() error {
	rt.closeOnce.Do(func() {
		rt.subs.close()
		rt.config.Metrics.setSubscriptions(0)
		rt.cancel()
	})
	<-rt.done
	return nil
}

func (rt *Realtime) requestConnect() {
	select {
	case rt.requests <- struct{}{}:
	default:
	}
}

func (rt *Realtime) setState(s RealtimeState) {
	rt.mu.Lock()
	prev := rt.state
	rt.state = s
	rt.mu.Unlock()
	if prev != s {
		rt.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("Realtime state changed")
	}
}

// ============================================================================
// Connection manager
// ============================================================================

func (rt *Realtime) run() {
	defer close(rt.done)

	for {
		var closed <-chan error
		if rt.conn != nil {
			closed = rt.conn.closed
		}
		var retry <-chan time.Time
		if rt.retry != nil {
			retry = rt.retry.C
		}

		select {
		case <-rt.ctx.Done():
			rt.shutdown()
			return

		case <-rt.requests:
			if !rt.debounce() {
				continue
			}
			if rt.retry != nil {
				// An unchanged set keeps waiting out the backoff. A changed
				// one connects now; attempts is only reset by a successful open.
				if slices.Equal(rt.subs.activeChannels(), rt.retryChannels) {
					continue
				}
				rt.stopRetry()
			}
			rt.connect()

		case err := <-closed:
			rt.handleClose(err)

		case <-retry:
			rt.retry = nil
			rt.connect()
		}
	}
}

// debounce waits until no request has arrived for the debounce window.
// It returns false if the engine is closed meanwhile.
func (rt *Realtime) debounce() bool {
	t := time.NewTimer(rt.config.Debounce)
	defer t.Stop()
	for {
		select {
		case <-rt.requests:
			t.Reset(rt.config.Debounce)
		case <-t.C:
			return true
		case <-rt.ctx.Done():
			return false
		}
	}
}

// connect makes the socket match the active channel set: it closes the
// socket when nothing is subscribed, keeps it when the set is unchanged and
// replaces it otherwise.
func (rt *Realtime) connect() {
	channels := rt.subs.activeChannels()

	if len(channels) == 0 {
		if c := rt.conn; c != nil {
			rt.setState(StateClosing)
			rt.release(CloseNormal, "no active subscriptions")
		}
		rt.setState(StateIdle)
		return
	}

	if c := rt.conn; c != nil {
		if slices.Equal(c.list, channels) {
			return
		}
		rt.setState(StateClosing)
		rt.release(CloseNormal, "channels changed")
	}

	rt.setState(StateConnecting)
	c, err := rt.open(channels)
	if err != nil {
		if rt.ctx.Err() != nil {
			return
		}
		rt.config.Metrics.error(errorKindDial)
		rt.log.WithError(err).WithField("channels", channels).Warn("Realtime connection failed")
		rt.hooks.emitError(err)
		rt.scheduleReconnect(channels)
		return
	}

	rt.conn = c
	rt.mu.Lock()
	rt.attempts = 0
	rt.state = StateOpen
	rt.mu.Unlock()

	rt.config.Metrics.connectionOpened()
	rt.log.WithField("channels", channels).Info("Realtime connected")
	rt.hooks.emitOpen()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(2)
	go rt.readLoop(ctx, c)
	go rt.heartbeat(ctx, c)
}

func (rt *Realtime) open(channels []string) (*realtimeConn, error) {
	endpoint := rt.client.EndpointRealtime()
	if endpoint == "" {
		return nil, ErrMissingEndpoint
	}
	project := rt.client.Project()
	if project == "" {
		return nil, ErrMissingProject
	}

	ctx, cancel := context.WithTimeout(rt.ctx, rt.config.DialTimeout)
	defer cancel()

	socket, err := rt.config.Transport.Dial(ctx, realtimeURL(endpoint, project, channels), DialOptions{
		Header:     rt.client.Headers(),
		HTTPClient: rt.client.HTTPClient(),
		ReadLimit:  rt.config.ReadLimit,
	})
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		set[ch] = struct{}{}
	}
	return &realtimeConn{
		socket:   socket,
		channels: set,
		list:     channels,
		cancel:   func() {},
		closed:   make(chan error, 1),
	}, nil
}

// release closes the current socket on purpose. Its read loop's result is
// discarded, so no reconnect follows.
func (rt *Realtime) release(code int, reason string) {
	c := rt.conn
	rt.conn = nil
	if c == nil {
		return
	}
	rt.teardown(c, code, reason)
	rt.hooks.emitClose(code, reason)
}

func (rt *Realtime) teardown(c *realtimeConn, code int, reason string) {
	if err := c.socket.Close(code, reason); err != nil {
		rt.log.WithError(err).Debug("Realtime socket close")
	}
	c.cancel()
	c.wg.Wait()
	rt.config.Metrics.connectionClosed()
}

// handleClose runs when the read loop of the current socket ends.
func (rt *Realtime) handleClose(err error) {
	c := rt.conn
	rt.conn = nil
	rt.teardown(c, CloseNormal, "reconnecting")

	code, reason := CloseUnknown, err.Error()
	var ce *CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Reason
	}
	rt.hooks.emitClose(code, reason)

	var exc *Exception
	switch {
	case errors.As(err, &exc):
		rt.log.WithError(err).WithField("code", exc.Code).Error("Realtime error received")
		rt.hooks.emitError(err)
	case code == ClosePolicyViolation:
		rt.log.WithField("reason", reason).Warn("Realtime connection rejected by policy; not reconnecting")
		rt.setState(StateIdle)
		return
	case code == CloseUnknown:
		rt.config.Metrics.error(errorKindRead)
		rt.log.WithError(err).Warn("Realtime connection lost")
		rt.hooks.emitError(err)
	default:
		rt.log.WithFields(logrus.Fields{"code": code, "reason": reason}).Warn("Realtime connection closed by server")
	}

	rt.scheduleReconnect(c.list)
}

// scheduleReconnect arms the retry timer for a connection to channels that
// failed or was lost.
func (rt *Realtime) scheduleReconnect(channels []string) {
	rt.mu.Lock()
	delay := rt.config.Backoff(rt.attempts)
	rt.attempts++
	attempt := rt.attempts
	rt.state = StateReconnecting
	rt.mu.Unlock()

	rt.stopRetry()
	rt.retry = time.NewTimer(delay)
	rt.retryChannels = channels
	rt.config.Metrics.reconnectScheduled()
	rt.log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).
		Infof("Realtime disconnected. Re-connecting in %s", delay)
}

func (rt *Realtime) stopRetry() {
	if rt.retry != nil {
		rt.retry.Stop()
		rt.retry = nil
	}
}

func (rt *Realtime) shutdown() {
	rt.stopRetry()
	rt.release(CloseNormal, "realtime closed")
	rt.setState(StateClosed)
	rt.log.Debug("Realtime closed")
}

// ============================================================================
// Per-socket loops
// ============================================================================

func (rt *Realtime) heartbeat(ctx context.Context, c *realtimeConn) {
	defer c.wg.Done()

	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, rt.config.HeartbeatInterval)
			err := c.socket.Write(wctx, heartbeatFrame)
			cancel()
			if err != nil && ctx.Err() == nil {
				rt.log.WithError(err).Warn("Realtime heartbeat failed")
			}
		}
	}
}

func (rt *Realtime) readLoop(ctx context.Context, c *realtimeConn) {
	defer c.wg.Done()

	for {
		kind, data, err := c.socket.Read(ctx)
		if err != nil {
			c.closed <- err
			return
		}
		if kind != MessageText {
			continue
		}
		if err := rt.handleMessage(c, data); err != nil {
			c.closed <- err
			return
		}
	}
}

// ============================================================================
// Event dispatcher
// ============================================================================

// handleMessage processes one text frame. A non-nil error ends the socket.
func (rt *Realtime) handleMessage(c *realtimeConn, data []byte) error {
	var msg RealtimeResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		rt.config.Metrics.error(errorKindDecode)
		return fmt.Errorf("decode realtime message: %w", err)
	}

	switch msg.Type {
	case TypeEvent:
		var ev RealtimeResponseEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			rt.config.Metrics.error(errorKindDecode)
			rt.log.WithError(err).Warn("Skipping malformed realtime event")
			return nil
		}
		rt.config.Metrics.eventReceived()
		rt.dispatch(c, ev)

	case TypeError:
		var p RealtimeErrorPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			rt.config.Metrics.error(errorKindDecode)
			rt.log.WithError(err).Warn("Skipping malformed realtime error")
			return nil
		}
		rt.config.Metrics.error(errorKindProtocol)
		return p.exception()

	default:
		rt.log.WithField("type", msg.Type).Debug("Ignoring realtime message")
	}
	return nil
}

// dispatch hands ev to every subscription sharing at least one channel with
// it. Events for channels the socket was not opened with are dropped.
func (rt *Realtime) dispatch(c *realtimeConn, ev RealtimeResponseEvent) {
	if len(ev.Channels) == 0 {
		return
	}
	if !c.subscribedTo(ev.Channels) {
		rt.log.WithField("channels", ev.Channels).Debug("Dropping event for inactive channels")
		return
	}

	subs := rt.subs.matching(ev.Channels)
	for _, sub := range subs {
		go sub.callback(ev)
	}
	rt.config.Metrics.eventDispatched(len(subs))
}

// ============================================================================
// Helpers
// ============================================================================

func realtimeURL(endpoint, project string, channels []string) string {
	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteString("/realtime?project=")
	b.WriteString(url.QueryEscape(project))
	for _, ch := range channels {
		b.WriteString("&channels[]=")
		b.WriteString(url.QueryEscape(ch))
	}
	return b.String()
}
