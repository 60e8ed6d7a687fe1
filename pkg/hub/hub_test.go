package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testRelay struct {
	hub *Hub
	srv *httptest.Server
	url string
}

func newTestRelay(t *testing.T, opts ...Option) *testRelay {
	t.Helper()
	h, err := New(nil, opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.ServeWS(w, r, WithChannel(strings.TrimPrefix(r.URL.Path, "/")))
	}))
	r := &testRelay{hub: h, srv: srv, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
		srv.Close()
	})
	return r
}

type frame map[string]any

func (r *testRelay) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(r.url+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	hello := read(t, conn)
	require.Equal(t, "connection_status", hello["type"])
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func write(t *testing.T, conn *websocket.Conn, v string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(v)))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	_, err := New(nil, WithPingInterval(time.Minute, time.Second))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(nil, WithMaxSessions(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(nil, WithDedup(10, 2))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestHello(t *testing.T) {
	r := newTestRelay(t)
	conn, _, err := websocket.DefaultDialer.Dial(r.url+"/ad-monitor", nil)
	require.NoError(t, err)
	defer conn.Close()

	hello := read(t, conn)
	data := hello["data"].(map[string]any)
	assert.Equal(t, "connected", data["status"])
	assert.Equal(t, "ad-monitor", data["channel"])
	assert.NotEmpty(t, data["session_id"])
	assert.NotEmpty(t, hello["timestamp"])

	require.Eventually(t, func() bool { return r.hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	s, ok := r.hub.Session(data["session_id"].(string))
	require.True(t, ok)
	assert.True(t, s.Subscribed("ad-monitor"))
}

func TestPingPong(t *testing.T) {
	r := newTestRelay(t)
	conn := r.dial(t, "/ws")

	write(t, conn, `{"type":"ping","timestamp":1700000000000}`)
	pong := read(t, conn)
	assert.Equal(t, "pong", pong["type"])
	assert.NotNil(t, pong["timestamp"])
}

func TestSubscribeAndBroadcast(t *testing.T) {
	r := newTestRelay(t)
	dash := r.dial(t, "/dashboard")
	mon := r.dial(t, "/ad-monitor")

	write(t, dash, `{"type":"subscribe","channels":["meta_ads_metrics","crisis_monitoring"],"correlation_id":"c-1"}`)
	sub := read(t, dash)
	assert.Equal(t, "subscribed", sub["type"])
	assert.Equal(t, []any{"crisis_monitoring", "meta_ads_metrics"}, sub["data"].(map[string]any)["topics"])

	write(t, mon, `{"type":"subscribe_alerts","platforms":["Meta"]}`)
	assert.Equal(t, []any{"alerts:meta"}, read(t, mon)["data"].(map[string]any)["topics"])

	n, err := r.hub.Broadcast("meta_ads_metrics", "meta_metrics", map[string]any{"spend": 12.5})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := read(t, dash)
	assert.Equal(t, "meta_metrics", got["type"])
	assert.Equal(t, 12.5, got["data"].(map[string]any)["spend"])

	n, err = r.hub.Broadcast(AlertTopic("meta"), "spend_alert", map[string]any{"alert_id": "a1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "spend_alert", read(t, mon)["type"])

	n, err = r.hub.BroadcastAll("connection_status", map[string]any{"status": "degraded"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "connection_status", read(t, dash)["type"])
	assert.Equal(t, "connection_status", read(t, mon)["type"])

	write(t, dash, `{"type":"unsubscribe","channels":["meta_ads_metrics"]}`)
	require.Eventually(t, func() bool {
		n, _ := r.hub.Broadcast("meta_ads_metrics", "meta_metrics", nil)
		return n == 0
	}, time.Second, 5*time.Millisecond)

	st := r.hub.Stats()
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, map[string]int{"dashboard": 1, "ad-monitor": 1}, st.ByChannel)
	assert.EqualValues(t, 2, st.Accepted)
}

func TestSubscribeMetrics(t *testing.T) {
	r := newTestRelay(t)
	conn := r.dial(t, "/analytics")

	write(t, conn, `{"type":"subscribe","metrics":["visitors"]}`)
	assert.Equal(t, []any{"metrics:visitors"}, read(t, conn)["data"].(map[string]any)["topics"])
}

func TestCustomHandlerAndDedup(t *testing.T) {
	r := newTestRelay(t)

	var dismissed atomic.Int32
	type dismiss struct {
		AlertID string `json:"alert_id"`
	}
	require.NoError(t, Handle(r.hub.Router(), TypeDismissAlert, func(s *Session, req *dismiss) error {
		dismissed.Add(1)
		return s.Send("alert_dismissed", map[string]any{"alert_id": req.AlertID})
	}))
	assert.ErrorIs(t, r.hub.Register(TypeDismissAlert, func(*Session, *Request) error { return nil }), ErrHandlerExists)

	conn := r.dial(t, "/ad-monitor")
	write(t, conn, `{"type":"dismiss_alert","alert_id":"a1","correlation_id":"abc"}`)
	got := read(t, conn)
	assert.Equal(t, "alert_dismissed", got["type"])
	assert.Equal(t, "a1", got["data"].(map[string]any)["alert_id"])

	// 重连补发的同一条消息
	write(t, conn, `{"type":"dismiss_alert","alert_id":"a1","correlationId":"abc"}`)
	write(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", read(t, conn)["type"])

	assert.EqualValues(t, 1, dismissed.Load())
	assert.EqualValues(t, 1, r.hub.Stats().Duplicates)
}

func TestDedupDisabled(t *testing.T) {
	r := newTestRelay(t, WithDedup(0, 0))
	conn := r.dial(t, "/ws")

	write(t, conn, `{"type":"ping","correlation_id":"same"}`)
	write(t, conn, `{"type":"ping","correlation_id":"same"}`)
	assert.Equal(t, "pong", read(t, conn)["type"])
	assert.Equal(t, "pong", read(t, conn)["type"])
}

func TestMiddleware(t *testing.T) {
	r := newTestRelay(t)
	var seen atomic.Int32
	r.hub.Use(func(s *Session, req *Request, next NextFunc) error {
		seen.Add(1)
		if req.Type == "ping" && strings.Contains(string(req.Raw()), "blocked") {
			return ErrInvalidMessage.WithMessage("blocked")
		}
		return next()
	})

	conn := r.dial(t, "/ws")
	write(t, conn, `{"type":"ping","note":"blocked"}`)
	errFrame := read(t, conn)
	assert.Equal(t, "error", errFrame["type"])
	assert.Equal(t, "invalid_message", errFrame["code"])

	write(t, conn, `{"type":"ping"}`)
	assert.Equal(t, "pong", read(t, conn)["type"])
	assert.EqualValues(t, 2, seen.Load())
}

func TestInvalidMessages(t *testing.T) {
	r := newTestRelay(t)
	conn := r.dial(t, "/ws")

	write(t, conn, `not json`)
	f := read(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "invalid_message", f["code"])

	write(t, conn, `{"type":"launch_rockets","correlation_id":"x1"}`)
	f = read(t, conn)
	assert.Equal(t, "unknown_type", f["code"])
	assert.Equal(t, "x1", f["correlation_id"])

	write(t, conn, `{"type":"subscribe","channels":"not-a-list"}`)
	assert.Equal(t, "invalid_message", read(t, conn)["code"])

	assert.EqualValues(t, 1, r.hub.Stats().Invalid)
}

func TestTooManyInvalidMessagesCloses(t *testing.T) {
	r := newTestRelay(t)
	conn := r.dial(t, "/ws")

	for i := 0; i <= DefaultConfig().MaxInvalidMessages; i++ {
		write(t, conn, `{`)
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), err.Error())
			break
		}
	}
	require.Eventually(t, func() bool { return r.hub.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMaxSessions(t *testing.T) {
	r := newTestRelay(t, WithMaxSessions(1))
	r.dial(t, "/ws")
	require.Eventually(t, func() bool { return r.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(r.url+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.EqualValues(t, 1, r.hub.Stats().Rejected)
}

func TestOriginWhitelist(t *testing.T) {
	r := newTestRelay(t, WithAllowedOrigins("https://warroom.example.com"))

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(r.url+"/ws", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://warroom.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(r.url+"/ws", header)
	require.NoError(t, err)
	conn.Close()
}

func TestDefaultOriginCheck(t *testing.T) {
	check := originChecker(DefaultConfig())
	req := httptest.NewRequest(http.MethodGet, "http://relay.test/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://relay.test")
	assert.True(t, check(req))
	req.Header.Set("Origin", "https://other.test")
	assert.False(t, check(req))

	assert.True(t, originChecker(&Config{AllowAllOrigins: true})(req))
}

func TestShutdown(t *testing.T) {
	r := newTestRelay(t)
	conn := r.dial(t, "/ws")
	require.Eventually(t, func() bool { return r.hub.Count() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.hub.Shutdown(ctx))
	assert.Zero(t, r.hub.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	_, resp, err := websocket.DefaultDialer.Dial(r.url+"/ws", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NoError(t, r.hub.Shutdown(ctx))
}

func TestEvents(t *testing.T) {
	r := newTestRelay(t)
	var opened, closed, received atomic.Int32
	r.hub.On(EventSessionOpened, func(e Event) { opened.Add(1) })
	r.hub.On(EventSessionClosed, func(e Event) { closed.Add(1) })
	r.hub.On(EventMessageReceived, func(e Event) {
		if e.MessageType == TypePing {
			received.Add(1)
		}
	})

	conn := r.dial(t, "/ws")
	write(t, conn, `{"type":"ping"}`)
	read(t, conn)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	require.Eventually(t, func() bool {
		return opened.Load() == 1 && received.Load() == 1 && closed.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDedupRotation(t *testing.T) {
	d := newDedup(3, 0.001)
	for _, id := range []string{"a", "b", "c"} {
		assert.False(t, d.seen(id))
	}
	// 第一代写满后仍可查
	assert.True(t, d.seen("a"))
	assert.False(t, d.seen("d"))
	assert.True(t, d.seen("c"))
	assert.False(t, d.seen(""))
	assert.False(t, (*dedup)(nil).seen("a"))
}
