package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tokmz/warroom/pkg/backend"
	"github.com/tokmz/warroom/pkg/wsclient"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

func connectDashboard(t *testing.T) (*Dashboard, *pipeConn) {
	t.Helper()
	d := newPipeDialer()
	dash, err := NewDashboard("ws://relay.test/ws", nil, nil, testOptions(d)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dash.Close() })

	require.NoError(t, dash.Connect())
	conn := d.next(t)
	require.Eventually(t, dash.IsConnected, waitFor, 5*time.Millisecond)
	return dash, conn
}

func TestDashboard_SubscribesOnConnect(t *testing.T) {
	dash, conn := connectDashboard(t)

	require.Eventually(t, func() bool { return len(conn.written("subscribe")) == 1 }, waitFor, 5*time.Millisecond)
	frame := conn.written("subscribe")[0]
	assert.ElementsMatch(t, []any{"meta_ads_metrics", "google_ads_metrics", "crisis_monitoring", "sentiment_analysis"}, frame["channels"])

	require.Eventually(t, func() bool { return dash.Store().Snapshot().WSStatus.Connected }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "Connected", dash.Store().Snapshot().WSStatus.Label)
}

func TestDashboard_RoutesIntoStore(t *testing.T) {
	dash, conn := connectDashboard(t)
	store := dash.Store()

	conn.push(`{"type":"meta_metrics","data":{"spend":120.5,"impressions":1000,"clicks":40,"ctr":4}}`)
	conn.push(`{"type":"google_metrics","data":{"spend":79.5,"impressions":1000,"clicks":10,"ctr":1}}`)
	conn.push(`{"type":"crisis_alert","data":{"id":"c1","severity":"critical","title":"spike"}}`)
	conn.push(`{"type":"crisis_alert","data":{"id":"c1","severity":"critical","title":"spike"}}`)
	conn.push(`{"type":"sentiment_update","data":{"overall":12,"weightedScore":10,"trend":"improving"}}`)

	require.Eventually(t, func() bool { return store.Snapshot().Sentiment != nil }, waitFor, 5*time.Millisecond)
	snap := store.Snapshot()
	require.NotNil(t, snap.Meta)
	require.NotNil(t, snap.Google)
	assert.Equal(t, "meta", snap.Meta.Platform)
	assert.InDelta(t, 200, snap.Aggregated.TotalSpend, 1e-9)
	assert.InDelta(t, 2.5, snap.Aggregated.AvgCTR, 1e-9)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "c1", snap.Alerts[0].ID)
	assert.Equal(t, TrendImproving, snap.Sentiment.Trend)

	assert.True(t, dash.AcknowledgeAlert("c1"))
	assert.Zero(t, store.Snapshot().UnacknowledgedCount)
}

func TestDashboard_SendMessage(t *testing.T) {
	dash, conn := connectDashboard(t)

	require.NoError(t, dash.SendMessage("request_refresh", map[string]any{"scope": "all"}))
	require.Eventually(t, func() bool { return len(conn.written("request_refresh")) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "all", conn.written("request_refresh")[0]["scope"])
}

func TestDashboard_ServerError(t *testing.T) {
	dash, conn := connectDashboard(t)

	conn.push(`{"type":"error","message":"quota exceeded","code":"rate_limited"}`)
	require.Eventually(t, func() bool { return dash.Store().Snapshot().Error != "" }, waitFor, 5*time.Millisecond)
	assert.Contains(t, dash.Store().Snapshot().Error, "quota exceeded")
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, prefixes ...string) error {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), prefixes...))
	r.mu.Unlock()
	return nil
}

func (r *recordingInvalidator) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func connectAdMonitor(t *testing.T, inv Invalidator) (*AdMonitor, *pipeConn, *pipeDialer) {
	t.Helper()
	d := newPipeDialer()
	mon, err := NewAdMonitor("http://api.test", inv, nil, testOptions(d)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mon.Close() })

	require.NoError(t, mon.Connect())
	conn := d.next(t)
	require.Eventually(t, mon.IsConnected, waitFor, 5*time.Millisecond)
	return mon, conn, d
}

func TestAdMonitor_URL(t *testing.T) {
	_, _, d := connectAdMonitor(t, nil)
	assert.Equal(t, "ws://api.test/ws/ad-monitor", d.lastURL())

	_, err := NewAdMonitor("ftp://api.test", nil, nil)
	assert.Error(t, err)
}

func TestAdMonitor_Invalidations(t *testing.T) {
	inv := &recordingInvalidator{}
	_, conn, _ := connectAdMonitor(t, inv)

	conn.push(`{"type":"connection_status","data":{"status":"ok"}}`)
	conn.push(`{"type":"spend_alert","data":{"alert_id":"a1","platform":"meta","severity":"high"}}`)
	conn.push(`{"type":"spend_update","data":{"campaign_id":"c1","percentage_used":80}}`)
	conn.push(`{"type":"campaign_status","data":{"campaign_id":"c1","status":"paused"}}`)

	require.Eventually(t, func() bool { return len(inv.snapshot()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, [][]string{
		{backend.KeyAlerts, backend.KeyActivities},
		{backend.KeyCampaigns},
		{backend.KeyHealth},
	}, inv.snapshot())
}

func TestAdMonitor_OutboundFrames(t *testing.T) {
	mon, conn, _ := connectAdMonitor(t, nil)

	require.NoError(t, mon.DismissAlert("a1"))
	require.NoError(t, mon.RequestSpendUpdate(backend.PlatformGoogle))
	require.NoError(t, mon.RequestSpendUpdate(""))
	require.NoError(t, mon.SubscribeToAlerts())
	require.NoError(t, mon.SubscribeToAlerts(backend.PlatformMeta))

	require.Eventually(t, func() bool { return len(conn.written("subscribe_alerts")) == 2 }, waitFor, 5*time.Millisecond)

	dismiss := conn.written("dismiss_alert")
	require.Len(t, dismiss, 1)
	assert.Equal(t, "a1", dismiss[0]["alert_id"])

	spend := conn.written("request_spend_update")
	require.Len(t, spend, 2)
	assert.Equal(t, "google", spend[0]["platform"])
	assert.NotContains(t, spend[1], "platform")

	subs := conn.written("subscribe_alerts")
	assert.Equal(t, []any{"meta", "google"}, subs[0]["platforms"])
	assert.Equal(t, []any{"meta"}, subs[1]["platforms"])
}

func TestAdMonitor_QueuesWhileDisconnected(t *testing.T) {
	d := newPipeDialer()
	mon, err := NewAdMonitor("http://api.test", nil, nil, testOptions(d)...)
	require.NoError(t, err)
	defer mon.Close()

	require.NoError(t, mon.DismissAlert("early"))
	assert.Equal(t, 1, mon.Status().QueuedMessages)

	require.NoError(t, mon.Connect())
	conn := d.next(t)
	require.Eventually(t, func() bool { return len(conn.written("dismiss_alert")) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, "early", conn.written("dismiss_alert")[0]["alert_id"])
}

func TestAnalytics_Handlers(t *testing.T) {
	var (
		mu         sync.Mutex
		metrics    []map[string]any
		activities []wsclient.Activity
		alerts     []map[string]any
	)
	h := AnalyticsHandlers{
		OnMetrics: func(m map[string]any) {
			mu.Lock()
			metrics = append(metrics, m)
			mu.Unlock()
		},
		OnActivity: func(a wsclient.Activity) {
			mu.Lock()
			activities = append(activities, a)
			mu.Unlock()
		},
		OnAlert: func(a map[string]any) {
			mu.Lock()
			alerts = append(alerts, a)
			mu.Unlock()
		},
	}

	d := newPipeDialer()
	a, err := NewAnalytics("ws://relay.test/ws/analytics", h, nil, testOptions(d)...)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Connect())
	conn := d.next(t)

	conn.push(`{"type":"metrics_update","data":{"visitors":42}}`)
	conn.push(`{"type":"activity_feed","data":{"id":"act-1","type":"sync","title":"Synced"}}`)
	conn.push(`{"type":"alert_update","data":{"id":"al-1"}}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(alerts) == 1
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, metrics, 1)
	assert.EqualValues(t, 42, metrics[0]["visitors"])
	require.Len(t, activities, 1)
	assert.Equal(t, "act-1", activities[0].ID)
	assert.Equal(t, "al-1", alerts[0]["id"])
}

func TestAnalytics_NilHandlersIgnored(t *testing.T) {
	d := newPipeDialer()
	a, err := NewAnalytics("ws://relay.test/ws/analytics", AnalyticsHandlers{}, nil, testOptions(d)...)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Connect())
	conn := d.next(t)

	conn.push(`{"type":"metrics_update","data":{"visitors":1}}`)
	require.Eventually(t, func() bool { return a.LastMessage() != nil }, waitFor, 5*time.Millisecond)
}
