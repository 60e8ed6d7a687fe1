package backend

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/cache"
	"github.com/tokmz/warroom/pkg/errors"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/wsclient"
)

const apiPrefix = "/api/v1"

// 活动接口不可用时推导的条目上限
const derivedActivityLimit = 20

// Client War Room REST 后端客户端，读接口经查询缓存
type Client struct {
	cfg    *Config
	base   string
	http   *http.Client
	retry  wsclient.Policy
	loader *cache.Loader
	log    logger.Logger
	now    func() time.Time
}

// New 创建客户端，loader 为 nil 时不缓存
func New(cfg *Config, loader *cache.Loader, log logger.Logger, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	c := &Client{
		cfg:    cfg,
		base:   strings.TrimRight(cfg.BaseURL, "/") + apiPrefix,
		http:   &http.Client{Timeout: cfg.Timeout},
		retry:  defaultRetryPolicy(),
		loader: loader,
		log:    log.Named("backend"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.retry.Validate(); err != nil {
		return nil, ErrInvalidConfig.WithMessagef("backend: retry policy: %v", err)
	}
	return c, nil
}

// CampaignInsights 跨平台广告洞察，RealTime 时跳过缓存
func (c *Client) CampaignInsights(ctx context.Context, params InsightsParams) (*InsightsResponse, error) {
	q := params.values()
	ttl := c.cfg.TTL.Campaigns
	if params.RealTime {
		ttl = 0
	}
	return remember(ctx, c, cache.Key(KeyCampaigns, q.Encode()), ttl, func(ctx context.Context) (*InsightsResponse, error) {
		return fetch[*InsightsResponse](ctx, c, "/ad-insights/campaigns", q)
	})
}

// Alerts 实时告警列表
func (c *Client) Alerts(ctx context.Context, params AlertParams) ([]Alert, error) {
	q := params.values()
	return remember(ctx, c, cache.Key(KeyAlerts, q.Encode()), c.cfg.TTL.Alerts, func(ctx context.Context) ([]Alert, error) {
		return fetch[[]Alert](ctx, c, "/ad-insights/alerts", q)
	})
}

// Health 广告系列健康度
func (c *Client) Health(ctx context.Context) (*Health, error) {
	return remember(ctx, c, KeyHealth, c.cfg.TTL.Health, func(ctx context.Context) (*Health, error) {
		return fetch[*Health](ctx, c, "/ad-insights/health", nil)
	})
}

// PlatformMetrics 单平台广告系列指标
func (c *Client) PlatformMetrics(ctx context.Context, platform Platform, params PlatformParams) ([]CampaignMetrics, error) {
	q := params.values(platform)
	return remember(ctx, c, cache.Key(KeyPlatform, string(platform), q.Encode()), c.cfg.TTL.Platform, func(ctx context.Context) ([]CampaignMetrics, error) {
		return fetch[[]CampaignMetrics](ctx, c, "/ad-insights/platform-metrics", q)
	})
}

// TriggerSync 触发手动同步，成功后失效全部广告洞察缓存
func (c *Client) TriggerSync(ctx context.Context, platforms ...Platform) (*SyncResult, error) {
	body := map[string]any{}
	if len(platforms) > 0 {
		body["platforms"] = platforms
	}
	result := &SyncResult{}
	if err := c.call(ctx, http.MethodPost, "/ad-insights/sync", nil, body, result); err != nil {
		c.log.WarnContext(ctx, "trigger sync failed", zap.Error(err))
		return nil, err
	}
	if err := c.Invalidate(ctx, KeyAdInsights); err != nil {
		c.log.WarnContext(ctx, "invalidate after sync failed", zap.Error(err))
	}
	return result, nil
}

// Activities 最近活动；接口不可用时由广告洞察与告警推导
func (c *Client) Activities(ctx context.Context, params ActivityParams) (*ActivityResponse, error) {
	q := params.values()
	resp, err := remember(ctx, c, cache.Key(KeyActivities, q.Encode()), c.cfg.TTL.Activities, func(ctx context.Context) (*ActivityResponse, error) {
		return fetch[*ActivityResponse](ctx, c, "/activities", q)
	})
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	c.log.WarnContext(ctx, "activities endpoint unavailable, deriving from campaign data", zap.Error(err))
	derived, derr := c.deriveActivities(ctx)
	if derr != nil {
		return nil, errors.Join(err, derr)
	}
	return derived, nil
}

// Invalidate 按前缀失效查询缓存
func (c *Client) Invalidate(ctx context.Context, prefixes ...string) error {
	if c.loader == nil {
		return nil
	}
	return c.loader.Invalidate(ctx, prefixes...)
}

func remember[T any](ctx context.Context, c *Client, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if c.loader == nil || ttl <= 0 {
		return fn(ctx)
	}
	return cache.Remember(ctx, c.loader, key, ttl, fn)
}

// deriveActivities 告警与高花费广告系列转成活动条目，按时间倒序
func (c *Client) deriveActivities(ctx context.Context) (*ActivityResponse, error) {
	insights, ierr := c.CampaignInsights(ctx, InsightsParams{DatePreset: "today"})
	alerts, aerr := c.Alerts(ctx, AlertParams{})
	if ierr != nil && aerr != nil {
		return nil, errors.Join(ierr, aerr)
	}

	now := c.now()
	var activities []ActivityEvent
	for i, a := range alerts {
		ts := a.Timestamp
		if ts.IsZero() {
			ts = wsclient.Timestamp{Time: now.Add(-time.Duration(i) * 5 * time.Minute)}
		}
		activities = append(activities, ActivityEvent{
			ID:           fmt.Sprintf("alert-%s-%d", a.CampaignID, i),
			Type:         "spend_alert",
			Title:        fmt.Sprintf("%s Alert: %s", titleCase(string(a.Platform)), strings.ReplaceAll(a.AlertType, "_", " ")),
			Description:  a.Message,
			Timestamp:    ts,
			Platform:     a.Platform,
			CampaignID:   a.CampaignID,
			CampaignName: a.CampaignName,
			Severity:     a.Severity,
			Metadata:     &ActivityMetadata{CurrentValue: a.CurrentValue, Threshold: a.ThresholdValue},
		})
	}

	sync := ActivityEvent{
		ID:        "sync-latest",
		Type:      "api_sync",
		Title:     "Campaign Data Synchronized",
		Timestamp: wsclient.Timestamp{Time: now.Add(-2 * time.Minute)},
		Severity:  "low",
	}
	platforms := "advertising platforms"
	if insights != nil {
		for i, cm := range insights.Campaigns {
			// 只展示有明显花费的广告系列
			if cm.Spend <= 100 {
				continue
			}
			activities = append(activities, ActivityEvent{
				ID:           fmt.Sprintf("campaign-%s-%d", cm.CampaignID, i),
				Type:         "campaign_update",
				Title:        titleCase(string(cm.Platform)) + " Campaign Update",
				Description:  fmt.Sprintf("%s generated %d clicks with $%.2f spend", cm.CampaignName, cm.Clicks, cm.Spend),
				Timestamp:    wsclient.Timestamp{Time: now.Add(-time.Duration(i+10) * 15 * time.Minute)},
				Platform:     cm.Platform,
				CampaignID:   cm.CampaignID,
				CampaignName: cm.CampaignName,
				Severity:     "medium",
				Metadata:     &ActivityMetadata{Amount: cm.Spend, Change: cm.CTR},
			})
		}
		if len(insights.Summary.PlatformsActive) > 0 {
			platforms = strings.Join(insights.Summary.PlatformsActive, " and ")
		}
		if !insights.LastSync.IsZero() {
			sync.Timestamp = insights.LastSync
		}
		sync.Metadata = &ActivityMetadata{Amount: insights.TotalSpend}
	}
	sync.Description = "Updated data from " + platforms
	activities = append(activities, sync)

	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].Timestamp.After(activities[j].Timestamp.Time)
	})
	total := len(activities)
	if len(activities) > derivedActivityLimit {
		activities = activities[:derivedActivityLimit]
	}
	return &ActivityResponse{
		Activities:  activities,
		TotalCount:  total,
		LastUpdated: wsclient.Timestamp{Time: now},
		Derived:     true,
	}, nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
