package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/warroom/pkg/cache"
)

type fakeBackend struct {
	*httptest.Server
	hits       map[string]*atomic.Int32
	activities atomic.Bool // false 时 /activities 返回 404
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{hits: map[string]*atomic.Int32{}}
	for _, p := range []string{"campaigns", "alerts", "health", "sync", "platform-metrics", "activities"} {
		fb.hits[p] = &atomic.Int32{}
	}
	fb.activities.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ad-insights/campaigns", func(w http.ResponseWriter, r *http.Request) {
		fb.hits["campaigns"].Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"campaigns": []map[string]any{
				{"platform": "meta", "campaign_id": "m1", "campaign_name": "Spring", "spend": 250.5, "clicks": 40, "ctr": 1.2},
				{"platform": "google", "campaign_id": "g1", "campaign_name": "Tiny", "spend": 12},
			},
			"summary":     map[string]any{"platforms_active": []string{"meta", "google"}},
			"total_spend": 262.5,
			"last_sync":   "2026-10-18T10:00:00Z",
		})
	})
	mux.HandleFunc("/api/v1/ad-insights/alerts", func(w http.ResponseWriter, r *http.Request) {
		fb.hits["alerts"].Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]map[string]any{{
			"id": "a1", "alert_type": "spend_threshold", "platform": "google", "campaign_id": "g1",
			"message": "80% of budget", "severity": r.URL.Query().Get("severity"),
			"timestamp": "2026-10-18T11:00:00",
		}})
	})
	mux.HandleFunc("/api/v1/ad-insights/health", func(w http.ResponseWriter, _ *http.Request) {
		fb.hits["health"].Add(1)
		json.NewEncoder(w).Encode(map[string]any{"overall_health": "healthy", "active_campaigns": 4})
	})
	mux.HandleFunc("/api/v1/ad-insights/platform-metrics", func(w http.ResponseWriter, r *http.Request) {
		fb.hits["platform-metrics"].Add(1)
		assert.Equal(t, "meta", r.URL.Query().Get("platform"))
		json.NewEncoder(w).Encode([]map[string]any{{"platform": "meta", "campaign_id": "m1"}})
	})
	mux.HandleFunc("/api/v1/ad-insights/sync", func(w http.ResponseWriter, r *http.Request) {
		fb.hits["sync"].Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string][]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "synced " + string(rune('0'+len(body["platforms"])))})
	})
	mux.HandleFunc("/api/v1/activities", func(w http.ResponseWriter, r *http.Request) {
		fb.hits["activities"].Add(1)
		if !fb.activities.Load() {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"activities":  []map[string]any{{"id": "x", "type": "api_sync", "title": "t"}},
			"total_count": 1,
		})
	})
	fb.Server = httptest.NewServer(mux)
	t.Cleanup(fb.Close)
	return fb
}

func newTestClient(t *testing.T, fb *fakeBackend) (*Client, cache.Cache) {
	t.Helper()
	store, err := cache.NewWithOptions(cache.WithMemory(&cache.MemoryConfig{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.BaseURL = fb.URL
	cfg.Token = "secret"
	cfg.MaxRetries = 0
	c, err := New(cfg, cache.NewLoader(store), nil)
	require.NoError(t, err)
	return c, store
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = ""
	_, err := New(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Timeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	assert.NoError(t, DefaultConfig().Validate())
}

func TestCampaignInsights_Cached(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := c.CampaignInsights(ctx, InsightsParams{DatePreset: "today"})
		require.NoError(t, err)
		require.Len(t, resp.Campaigns, 2)
		assert.Equal(t, PlatformMeta, resp.Campaigns[0].Platform)
		assert.Equal(t, time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC), resp.LastSync.UTC())
	}
	assert.Equal(t, int32(1), fb.hits["campaigns"].Load())

	// 不同参数是不同缓存键
	_, err := c.CampaignInsights(ctx, InsightsParams{DatePreset: "last_7d"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fb.hits["campaigns"].Load())

	// 实时查询不走缓存
	_, err = c.CampaignInsights(ctx, InsightsParams{RealTime: true})
	require.NoError(t, err)
	_, err = c.CampaignInsights(ctx, InsightsParams{RealTime: true})
	require.NoError(t, err)
	assert.Equal(t, int32(4), fb.hits["campaigns"].Load())
}

func TestInvalidate_ByPrefix(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb)
	ctx := context.Background()

	_, err := c.Alerts(ctx, AlertParams{Severity: "critical"})
	require.NoError(t, err)
	_, err = c.Alerts(ctx, AlertParams{})
	require.NoError(t, err)
	_, err = c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fb.hits["alerts"].Load())

	require.NoError(t, c.Invalidate(ctx, KeyAlerts))

	alerts, err := c.Alerts(ctx, AlertParams{Severity: "critical"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, int32(3), fb.hits["alerts"].Load())

	// health 未受影响
	_, err = c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fb.hits["health"].Load())
}

func TestTriggerSync_InvalidatesInsights(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb)
	ctx := context.Background()

	_, err := c.Health(ctx)
	require.NoError(t, err)
	_, err = c.PlatformMetrics(ctx, PlatformMeta, PlatformParams{})
	require.NoError(t, err)

	res, err := c.TriggerSync(ctx, PlatformMeta, PlatformGoogle)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "synced 2", res.Message)

	_, err = c.Health(ctx)
	require.NoError(t, err)
	_, err = c.PlatformMetrics(ctx, PlatformMeta, PlatformParams{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), fb.hits["health"].Load())
	assert.Equal(t, int32(2), fb.hits["platform-metrics"].Load())
}

func TestActivities(t *testing.T) {
	fb := newFakeBackend(t)
	c, _ := newTestClient(t, fb)

	resp, err := c.Activities(context.Background(), ActivityParams{Limit: 5})
	require.NoError(t, err)
	assert.False(t, resp.Derived)
	assert.Equal(t, 1, resp.TotalCount)
}

func TestActivities_DerivedFallback(t *testing.T) {
	fb := newFakeBackend(t)
	fb.activities.Store(false)
	c, _ := newTestClient(t, fb)
	c.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }

	resp, err := c.Activities(context.Background(), ActivityParams{})
	require.NoError(t, err)
	assert.True(t, resp.Derived)

	// 告警 1 条 + 花费 > 100 的广告系列 1 条 + 同步 1 条
	require.Len(t, resp.Activities, 3)
	assert.Equal(t, 3, resp.TotalCount)

	first := resp.Activities[0]
	assert.Equal(t, "spend_alert", first.Type)
	assert.Equal(t, "Google Alert: spend threshold", first.Title)

	var types []string
	for _, a := range resp.Activities {
		types = append(types, a.Type)
	}
	assert.ElementsMatch(t, []string{"spend_alert", "campaign_update", "api_sync"}, types)
	for i := 1; i < len(resp.Activities); i++ {
		assert.False(t, resp.Activities[i].Timestamp.After(resp.Activities[i-1].Timestamp.Time))
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxRetries = 0
	c, err := New(cfg, nil, nil)
	require.NoError(t, err)

	_, err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrStatus)
	assert.Contains(t, err.Error(), "HTTP 403")
}
