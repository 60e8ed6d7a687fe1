package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tokmz/warroom/pkg/backend"
	"github.com/tokmz/warroom/pkg/channel"
	"github.com/tokmz/warroom/pkg/feed"
	"github.com/tokmz/warroom/pkg/hub"
	"github.com/tokmz/warroom/pkg/wsclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls [][]backend.Platform
	err   error
}

func (f *fakeSyncer) TriggerSync(_ context.Context, platforms ...backend.Platform) (*backend.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, platforms)
	if f.err != nil {
		return nil, f.err
	}
	return &backend.SyncResult{}, nil
}

func (f *fakeSyncer) recorded() [][]backend.Platform {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]backend.Platform(nil), f.calls...)
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, prefixes ...string) error {
	r.mu.Lock()
	r.calls = append(r.calls, prefixes)
	r.mu.Unlock()
	return nil
}

func (r *recordingInvalidator) recorded() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Mode = gin.TestMode
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(testConfig(), nil, opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Hub().Shutdown(ctx)
		ts.Close()
	})
	return s, ts
}

func clientOptions() []wsclient.Option {
	return []wsclient.Option{
		wsclient.WithAutoReconnect(false),
		wsclient.WithHeartbeatInterval(time.Hour),
	}
}

func dialRaw(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	hello := readFrame(t, conn)
	require.Equal(t, "connection_status", hello["type"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f map[string]any
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// readUntil 跳过其他类型的帧
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		if f := readFrame(t, conn); f["type"] == typ {
			return f
		}
	}
	t.Fatalf("no %s frame received", typ)
	return nil
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }},
		{"action timeout", func(c *Config) { c.ActionTimeout = -1 }},
		{"mode", func(c *Config) { c.Mode = "prod" }},
		{"hub", func(c *Config) { c.Hub.MaxSessions = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if tt.name == "hub" {
				assert.ErrorIs(t, err, hub.ErrInvalidConfig)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}

	_, err := New(&Config{}, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, err := New(testConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = s.Hub().Shutdown(context.Background()) }()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string    `json:"status"`
		Hub    hub.Stats `json:"hub"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.Hub.Sessions)

	s.draining.Store(true)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChannelsJoinTopics(t *testing.T) {
	s, ts := newTestServer(t)
	dialRaw(t, ts, channel.PathAdMonitor)
	dialRaw(t, ts, channel.PathAnalytics)
	dialRaw(t, ts, channel.PathDashboard+"?topics=crisis_monitoring,+custom")

	require.Eventually(t, func() bool { return s.Hub().Count() == 3 }, time.Second, 5*time.Millisecond)
	st := s.Hub().Stats()
	assert.Equal(t, 1, st.ByChannel[ChannelAdMonitor])
	assert.Equal(t, 1, st.ByChannel[ChannelAnalytics])
	assert.Equal(t, 1, st.ByChannel[ChannelDashboard])

	n, err := s.Hub().Broadcast("custom", "raw", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Hub().Broadcast(feed.TopicAdMonitor, "spend_update", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDashboardReceivesFeed(t *testing.T) {
	s, ts := newTestServer(t)

	url, err := channel.WebSocketURL(ts.URL, channel.PathDashboard)
	require.NoError(t, err)
	d, err := channel.NewDashboard(url, nil, nil, clientOptions()...)
	require.NoError(t, err)
	defer d.Close()
	require.NoError(t, d.Connect())
	require.Eventually(t, d.IsConnected, 2*time.Second, 5*time.Millisecond)

	sink := s.Sink()
	ctx := context.Background()
	// 订阅请求异步到达中继，重复推送直到看板收到
	require.Eventually(t, func() bool {
		_ = sink.Publish(ctx, feed.Event{Type: "meta_metrics", Data: map[string]any{
			"spend": 100.0, "impressions": 1000, "clicks": 50, "ctr": 5.0,
		}})
		return d.Store().Snapshot().Meta != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = sink.Publish(ctx, feed.Event{Type: "crisis_alert", Data: map[string]any{
			"id": "c1", "severity": "critical", "title": "spike",
		}})
		return len(d.Store().CriticalAlerts()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := d.Store().Snapshot()
	assert.InDelta(t, 100.0, snap.Meta.Spend, 1e-9)
	require.NotNil(t, snap.Aggregated)
	assert.InDelta(t, 100.0, snap.Aggregated.TotalSpend, 1e-9)
}

func TestAdMonitorActions(t *testing.T) {
	syncer := &fakeSyncer{}
	_, ts := newTestServer(t, WithSyncer(syncer))

	inv := &recordingInvalidator{}
	a, err := channel.NewAdMonitor(ts.URL, inv, nil, clientOptions()...)
	require.NoError(t, err)
	defer a.Close()

	observer := dialRaw(t, ts, channel.PathAdMonitor)
	analytics := dialRaw(t, ts, channel.PathAnalytics)

	require.NoError(t, a.Connect())
	require.Eventually(t, a.IsConnected, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.RequestSpendUpdate(backend.PlatformMeta))
	update := readUntil(t, observer, "spend_update")
	data, ok := update["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "meta", data["platform"])
	assert.NotNil(t, data["sync"])
	assert.Equal(t, [][]backend.Platform{{backend.PlatformMeta}}, syncer.recorded())

	require.Eventually(t, func() bool {
		calls := inv.recorded()
		return len(calls) == 1 && calls[0][0] == backend.KeyCampaigns
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, a.DismissAlert("alert-1"))
	dismissed := readUntil(t, analytics, "alert_update")
	data, ok = dismissed["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alert-1", data["alert_id"])
	assert.Equal(t, "dismissed", data["status"])
}

func TestActionErrors(t *testing.T) {
	syncer := &fakeSyncer{err: stderrors.New("backend down")}
	_, ts := newTestServer(t, WithSyncer(syncer))
	conn := dialRaw(t, ts, channel.PathAdMonitor)

	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"missing alert id", `{"type":"dismiss_alert","correlation_id":"a"}`, "invalid_message"},
		{"unknown platform", `{"type":"request_spend_update","platform":"tiktok","correlation_id":"b"}`, "invalid_message"},
		{"sync failure", `{"type":"request_spend_update","correlation_id":"c"}`, "handler_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)))
			f := readUntil(t, conn, "error")
			assert.Equal(t, tt.code, f["code"])
		})
	}
	assert.Len(t, syncer.recorded(), 1)
}

func TestSpendUpdateWithoutSyncer(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialRaw(t, ts, channel.PathAdMonitor)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"request_spend_update"}`)))
	f := readUntil(t, conn, "spend_update")
	data, ok := f["data"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, data, "platform")
	assert.NotContains(t, data, "sync")
}

func TestAnalyticsReceivesFeed(t *testing.T) {
	s, ts := newTestServer(t)

	var (
		mu      sync.Mutex
		metrics []map[string]any
	)
	url, err := channel.WebSocketURL(ts.URL, channel.PathAnalytics)
	require.NoError(t, err)
	a, err := channel.NewAnalytics(url, channel.AnalyticsHandlers{
		OnMetrics: func(m map[string]any) {
			mu.Lock()
			metrics = append(metrics, m)
			mu.Unlock()
		},
	}, nil, clientOptions()...)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Connect())

	sink := NewHubSink(s.Hub(), nil)
	require.Eventually(t, func() bool {
		_ = sink.Publish(context.Background(), feed.Event{Type: "metrics_update", Data: map[string]any{"spend": 1.0}})
		mu.Lock()
		defer mu.Unlock()
		return len(metrics) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeGracefulShutdown(t *testing.T) {
	s, err := New(testConfig(), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+channel.PathDashboard, nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	other, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Serve(context.Background(), other), ErrAlreadyServing)
}
