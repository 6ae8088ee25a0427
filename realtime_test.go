package appwrite

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
	quiet   = 100 * time.Millisecond
)

func newTestClient() *Client {
	return NewClient(
		WithEndpoint("https://appwrite.test/v1"),
		WithProject("test-project"),
	)
}

func newTestRealtime(t *testing.T, cfg RealtimeConfig) (*Realtime, *fakeTransport) {
	t.Helper()
	return newTestRealtimeWithClient(t, newTestClient(), cfg)
}

func newTestRealtimeWithClient(t *testing.T, client *Client, cfg RealtimeConfig) (*Realtime, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	cfg.Transport = tr
	if cfg.Logger == nil {
		logger, _ := logtest.NewNullLogger()
		cfg.Logger = logger
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 20 * time.Millisecond
	}
	if cfg.Backoff == nil {
		cfg.Backoff = func(int) time.Duration { return 10 * time.Millisecond }
	}
	rt := NewRealtime(client, &cfg)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, tr
}

// waitOpen waits until the n-th socket is open and returns it.
func waitOpen(t *testing.T, rt *Realtime, tr *fakeTransport, n int) *fakeSocket {
	t.Helper()
	require.Eventually(t, func() bool {
		return tr.socketCount() == n && rt.State() == StateOpen
	}, waitFor, tick, "socket %d never opened", n)
	return tr.socket(n - 1)
}

func eventFrame(channels ...string) string {
	b, _ := json.Marshal(map[string]any{
		"type": "event",
		"data": map[string]any{
			"events":    []string{"update"},
			"channels":  channels,
			"timestamp": "t",
			"payload":   map[string]any{"x": 1},
		},
	})
	return string(b)
}

type recorder struct {
	mu     sync.Mutex
	events []RealtimeResponseEvent
}

func (r *recorder) callback(ev RealtimeResponseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) last() RealtimeResponseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func noop(RealtimeResponseEvent) {}

// ============================================================================
// Subscription registry through the engine
// ============================================================================

func TestRealtime_SubscribeValidation(t *testing.T) {
	rt, _ := newTestRealtime(t, RealtimeConfig{})

	t.Run("no channels", func(t *testing.T) {
		_, err := rt.Subscribe(nil, noop)
		assert.ErrorIs(t, err, ErrNoChannels)
	})

	t.Run("only empty channel names", func(t *testing.T) {
		_, err := rt.Subscribe([]string{"", ""}, noop)
		assert.ErrorIs(t, err, ErrNoChannels)
	})

	t.Run("nil callback", func(t *testing.T) {
		_, err := rt.Subscribe([]string{"files"}, nil)
		assert.ErrorIs(t, err, ErrNilCallback)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		sub, err := rt.Subscribe([]string{"files", "account", "files"}, noop)
		require.NoError(t, err)
		assert.NotEmpty(t, sub.ID)
		assert.Equal(t, []string{"account", "files"}, sub.Channels)
		require.NoError(t, sub.Close())
	})

	t.Run("ids are unique", func(t *testing.T) {
		a, err := rt.Subscribe([]string{"files"}, noop)
		require.NoError(t, err)
		b, err := rt.Subscribe([]string{"files"}, noop)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
		rt.Unsubscribe(a)
		rt.Unsubscribe(b)
	})

	assert.Empty(t, rt.ActiveChannels())
}

func TestRealtime_ActiveChannelsTracksUnion(t *testing.T) {
	rt, _ := newTestRealtime(t, RealtimeConfig{})

	a, err := rt.Subscribe([]string{"documents", "files"}, noop)
	require.NoError(t, err)
	assert.Equal(t, []string{"documents", "files"}, rt.ActiveChannels())

	b, err := rt.Subscribe([]string{"files", "account"}, noop)
	require.NoError(t, err)
	assert.Equal(t, []string{"account", "documents", "files"}, rt.ActiveChannels())

	require.NoError(t, a.Close())
	assert.Equal(t, []string{"account", "files"}, rt.ActiveChannels())

	// Closing twice is a no-op.
	require.NoError(t, a.Close())
	assert.Equal(t, []string{"account", "files"}, rt.ActiveChannels())

	rt.Unsubscribe(b)
	assert.Empty(t, rt.ActiveChannels())
}

// ============================================================================
// Connection manager
// ============================================================================

func TestRealtime_ConnectsWithProjectAndChannels(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})
	assert.Equal(t, StateIdle, rt.State())

	_, err := rt.Subscribe([]string{"databases.db.tables.t.rows", "account"}, noop)
	require.NoError(t, err)

	s := waitOpen(t, rt, tr, 1)
	assert.Equal(t, "test-project", s.project())
	assert.Equal(t, []string{"account", "databases.db.tables.t.rows"}, s.channels())
	assert.Contains(t, s.url, "wss://appwrite.test/v1/realtime?project=test-project")
	assert.Equal(t, "test-project", s.header.Get("X-Appwrite-Project"))
	assert.Equal(t, 0, rt.Attempts())
}

func TestRealtime_DebounceCoalescesBursts(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{Debounce: 50 * time.Millisecond})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = rt.Subscribe([]string{"B"}, noop)
	require.NoError(t, err)

	s := waitOpen(t, rt, tr, 1)
	assert.Equal(t, []string{"A", "B"}, s.channels())
	assert.Never(t, func() bool { return tr.dialCount() > 1 }, quiet, tick)
}

func TestRealtime_ChannelChangeReplacesSocket(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(int) time.Duration { return time.Hour }})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	first := waitOpen(t, rt, tr, 1)

	_, err = rt.Subscribe([]string{"B"}, noop)
	require.NoError(t, err)
	second := waitOpen(t, rt, tr, 2)

	closed, code, reason := first.closedByClient()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, "channels changed", reason)
	assert.Equal(t, []string{"A", "B"}, second.channels())
	assert.Equal(t, 0, rt.Attempts())
	assert.Never(t, func() bool { return tr.dialCount() > 2 }, quiet, tick)
}

func TestRealtime_UnchangedChannelSetKeepsSocket(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	a, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	waitOpen(t, rt, tr, 1)

	b, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	assert.Never(t, func() bool { return tr.dialCount() > 1 }, quiet, tick)
	assert.Equal(t, StateOpen, rt.State())
	rt.Unsubscribe(b)
}

func TestRealtime_LastUnsubscribeGoesIdle(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	sub, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool { return rt.State() == StateIdle }, waitFor, tick)

	closed, code, reason := s.closedByClient()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, "no active subscriptions", reason)
	assert.Never(t, func() bool { return tr.dialCount() > 1 }, quiet, tick)
}

func TestRealtime_ProtocolErrorReconnects(t *testing.T) {
	errs := make(chan error, 4)
	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(int) time.Duration { return time.Hour }})
	rt.OnError(func(err error) { errs <- err })

	_, err := rt.Subscribe([]string{"documents.1"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)
	require.Equal(t, 0, rt.Attempts())

	s.push(`{"type":"error","data":{"message":"forbidden","code":1008}}`)

	require.Eventually(t, func() bool {
		return rt.State() == StateReconnecting && rt.Attempts() == 1
	}, waitFor, tick)

	select {
	case got := <-errs:
		var exc *Exception
		require.ErrorAs(t, got, &exc)
		assert.Equal(t, "forbidden", exc.Message)
		assert.Equal(t, 1008, exc.Code)
	case <-time.After(waitFor):
		t.Fatal("OnError was not called")
	}

	closed, _, _ := s.closedByClient()
	assert.True(t, closed, "socket should be released after a protocol error")
}

func TestRealtime_ReconnectResetsAttempts(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(n int) time.Duration {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return 10 * time.Millisecond
	}})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	first := waitOpen(t, rt, tr, 1)

	first.serverClose(CloseGoingAway, "restart")
	second := waitOpen(t, rt, tr, 2)
	assert.Equal(t, 0, rt.Attempts())
	assert.Equal(t, []string{"A"}, second.channels())

	second.drop(io.ErrUnexpectedEOF)
	waitOpen(t, rt, tr, 3)
	assert.Equal(t, 0, rt.Attempts())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 0}, seen)
}

func TestRealtime_DialFailuresBackOff(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(n int) time.Duration {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return 5 * time.Millisecond
	}})
	tr.setDialErr(errors.New("connection refused"))

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rt.Attempts() >= 3 }, waitFor, tick)
	mu.Lock()
	assert.Equal(t, []int{0, 1, 2}, seen[:3])
	mu.Unlock()

	tr.setDialErr(nil)
	require.Eventually(t, func() bool {
		return rt.State() == StateOpen && rt.Attempts() == 0
	}, waitFor, tick)
}

func TestRealtime_MissingProjectDoesNotDial(t *testing.T) {
	client := NewClient(WithEndpoint("https://appwrite.test/v1"))
	rt, tr := newTestRealtimeWithClient(t, client, RealtimeConfig{Backoff: func(int) time.Duration { return time.Hour }})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rt.State() == StateReconnecting && rt.Attempts() == 1
	}, waitFor, tick)
	assert.Equal(t, 0, tr.dialCount())
}

func TestRealtime_ProjectReadAtConnectTime(t *testing.T) {
	client := newTestClient()
	rt, tr := newTestRealtimeWithClient(t, client, RealtimeConfig{})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	first := waitOpen(t, rt, tr, 1)
	assert.Equal(t, "test-project", first.project())

	client.SetProject("other-project")
	first.serverClose(CloseGoingAway, "restart")

	second := waitOpen(t, rt, tr, 2)
	assert.Equal(t, "other-project", second.project())
}

func TestRealtime_ReconnectingToIdleWhenUnsubscribed(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(int) time.Duration { return 200 * time.Millisecond }})

	sub, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	s.serverClose(CloseGoingAway, "restart")
	require.Eventually(t, func() bool { return rt.State() == StateReconnecting }, waitFor, tick)

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool { return rt.State() == StateIdle }, waitFor, tick)
	assert.Never(t, func() bool { return tr.dialCount() > 1 }, quiet, tick)
}

func TestRealtime_ChannelChangeCutsBackoffShort(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(int) time.Duration { return time.Hour }})
	tr.setDialErr(errors.New("connection refused"))

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return rt.State() == StateReconnecting && rt.Attempts() == 1
	}, waitFor, tick)
	require.Equal(t, 1, tr.dialCount())
	tr.setDialErr(nil)

	// Same channel set: the hour-long backoff stands.
	_, err = rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	assert.Never(t, func() bool { return tr.dialCount() > 1 }, quiet, tick)
	assert.Equal(t, StateReconnecting, rt.State())

	// A new channel dials right away.
	_, err = rt.Subscribe([]string{"B"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)
	assert.Equal(t, []string{"A", "B"}, s.channels())
	assert.Equal(t, 0, rt.Attempts())
}

func TestRealtime_ChannelChangeKeepsAttemptsOnFailure(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(n int) time.Duration {
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
		return time.Hour
	}})
	tr.setDialErr(errors.New("connection refused"))

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rt.Attempts() == 1 }, waitFor, tick)

	_, err = rt.Subscribe([]string{"B"}, noop)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return tr.dialCount() == 2 && rt.Attempts() == 2
	}, waitFor, tick)
	assert.Equal(t, StateReconnecting, rt.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1}, seen)
}

func TestRealtime_PolicyViolationStopsReconnecting(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	s.serverClose(ClosePolicyViolation, "missing project")
	require.Eventually(t, func() bool { return rt.State() == StateIdle }, waitFor, tick)
	assert.Never(t, func() bool { return tr.dialCount() > 1 }, quiet, tick)

	// A new subscription brings the socket back.
	_, err = rt.Subscribe([]string{"B"}, noop)
	require.NoError(t, err)
	waitOpen(t, rt, tr, 2)
}

func TestRealtime_Heartbeat(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{HeartbeatInterval: 5 * time.Millisecond})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	require.Eventually(t, func() bool { return len(s.writes()) >= 2 }, waitFor, tick)
	for _, w := range s.writes() {
		assert.JSONEq(t, `{"type":"ping"}`, w)
	}
}

func TestRealtime_CloseTearsDown(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	sub, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	require.NoError(t, rt.Close())
	assert.Equal(t, StateClosed, rt.State())

	closed, code, reason := s.closedByClient()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, "realtime closed", reason)

	_, err = rt.Subscribe([]string{"A"}, noop)
	assert.ErrorIs(t, err, ErrRealtimeClosed)
	assert.NoError(t, sub.Close())
	assert.NoError(t, rt.Close())
	assert.Equal(t, 1, tr.dialCount())
}

func TestRealtime_LifecycleHooks(t *testing.T) {
	opened := make(chan struct{}, 4)
	type closeInfo struct {
		code   int
		reason string
	}
	closes := make(chan closeInfo, 4)

	rt, tr := newTestRealtime(t, RealtimeConfig{Backoff: func(int) time.Duration { return time.Hour }})
	rt.OnOpen(func() { opened <- struct{}{} })
	rt.OnClose(func(code int, reason string) { closes <- closeInfo{code, reason} })

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	select {
	case <-opened:
	case <-time.After(waitFor):
		t.Fatal("OnOpen was not called")
	}

	s.serverClose(CloseGoingAway, "maintenance")
	select {
	case c := <-closes:
		assert.Equal(t, CloseGoingAway, c.code)
		assert.Equal(t, "maintenance", c.reason)
	case <-time.After(waitFor):
		t.Fatal("OnClose was not called")
	}
}

// ============================================================================
// Event dispatcher
// ============================================================================

func TestRealtime_DispatchesToMatchingSubscriptions(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	var c1, c2 recorder
	_, err := rt.Subscribe([]string{"documents.1"}, c1.callback)
	require.NoError(t, err)
	_, err = rt.Subscribe([]string{"documents.2"}, c2.callback)
	require.NoError(t, err)

	s := waitOpen(t, rt, tr, 1)
	require.Equal(t, []string{"documents.1", "documents.2"}, s.channels())

	s.push(`{"type":"event","data":{"events":["update"],"channels":["documents.1"],"timestamp":"t","payload":{"x":1}}}`)

	require.Eventually(t, func() bool { return c1.count() == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return c1.count() > 1 || c2.count() > 0 }, quiet, tick)

	ev := c1.last()
	assert.Equal(t, []string{"update"}, ev.Events)
	assert.Equal(t, []string{"documents.1"}, ev.Channels)
	assert.Equal(t, "t", ev.Timestamp)
	assert.JSONEq(t, `{"x":1}`, string(ev.Payload))
}

func TestRealtime_DispatchesOncePerEvent(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	var rec recorder
	_, err := rt.Subscribe([]string{"a", "b", "c"}, rec.callback)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	s.push(eventFrame("a", "b", "c"))
	s.push(eventFrame("b", "zzz"))

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, tick)
	assert.Never(t, func() bool { return rec.count() > 2 }, quiet, tick)
}

func TestRealtime_DropsIrrelevantEvents(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	var rec recorder
	_, err := rt.Subscribe([]string{"A"}, rec.callback)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	s.push(eventFrame())
	s.push(eventFrame("other"))
	s.push(`{"type":"connected","data":{"channels":["A"],"user":null}}`)
	s.push(`{"type":"pong"}`)
	s.push(`{"type":"event","data":"not an object"}`)
	s.push(`{"type":"error","data":42}`)
	require.True(t, s.waitInbound(waitFor))

	s.push(eventFrame("A"))
	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, tick)
	assert.Equal(t, 1, tr.dialCount(), "skipped frames must not end the socket")
	assert.Equal(t, StateOpen, rt.State())
}

func TestRealtime_MalformedEnvelopeReconnects(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	s.push(`{not json`)
	waitOpen(t, rt, tr, 2)
}

func TestRealtime_SlowCallbackDoesNotBlockOthers(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{})

	release := make(chan struct{})
	defer close(release)
	_, err := rt.Subscribe([]string{"A"}, func(RealtimeResponseEvent) { <-release })
	require.NoError(t, err)

	var fast recorder
	_, err = rt.Subscribe([]string{"A"}, fast.callback)
	require.NoError(t, err)

	s := waitOpen(t, rt, tr, 1)
	s.push(eventFrame("A"))
	s.push(eventFrame("A"))

	require.Eventually(t, func() bool { return fast.count() == 2 }, waitFor, tick)
}

func TestSubscribeAs(t *testing.T) {
	type row struct {
		X int `json:"x"`
	}

	logger, hook := logtest.NewNullLogger()
	rt, tr := newTestRealtime(t, RealtimeConfig{Logger: logger})

	got := make(chan RealtimeEvent[row], 4)
	_, err := SubscribeAs(rt, []string{"rows"}, func(ev RealtimeEvent[row]) { got <- ev })
	require.NoError(t, err)

	_, err = SubscribeAs[row](rt, []string{"rows"}, nil)
	assert.ErrorIs(t, err, ErrNilCallback)

	s := waitOpen(t, rt, tr, 1)
	s.push(`{"type":"event","data":{"events":["create"],"channels":["rows"],"timestamp":"t","payload":"nope"}}`)
	s.push(eventFrame("rows"))

	select {
	case ev := <-got:
		assert.Equal(t, 1, ev.Payload.X)
		assert.Equal(t, []string{"rows"}, ev.Channels)
	case <-time.After(waitFor):
		t.Fatal("typed callback was not called")
	}
	assert.Never(t, func() bool { return len(got) > 0 }, quiet, tick)

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Dropping realtime event with undecodable payload" && e.Level == logrus.WarnLevel {
				return true
			}
		}
		return false
	}, waitFor, tick)
}

func TestRealtime_LogsProtocolErrors(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	rt, tr := newTestRealtime(t, RealtimeConfig{
		Logger:  logger,
		Backoff: func(int) time.Duration { return time.Hour },
	})

	_, err := rt.Subscribe([]string{"A"}, noop)
	require.NoError(t, err)
	s := waitOpen(t, rt, tr, 1)

	s.push(`{"type":"error","data":{"message":"forbidden","code":1008}}`)

	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Message == "Realtime error received" && e.Level == logrus.ErrorLevel {
				return e.Data["code"] == 1008
			}
		}
		return false
	}, waitFor, tick)
}

func TestRealtime_CallbackCountsUnderConcurrency(t *testing.T) {
	rt, tr := newTestRealtime(t, RealtimeConfig{Debounce: 20 * time.Millisecond})

	var hits atomic.Int64
	var wg sync.WaitGroup
	subs := make([]*RealtimeSubscription, 20)
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := rt.Subscribe([]string{"shared"}, func(RealtimeResponseEvent) { hits.Add(1) })
			assert.NoError(t, err)
			subs[i] = sub
		}(i)
	}
	wg.Wait()

	s := waitOpen(t, rt, tr, 1)
	s.push(eventFrame("shared"))

	require.Eventually(t, func() bool { return hits.Load() == 20 }, waitFor, tick)
	assert.Equal(t, []string{"shared"}, rt.ActiveChannels())
}
