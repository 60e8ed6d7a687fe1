package backend

import "github.com/tokmz/warroom/pkg/wsclient"

// Platform 广告平台
type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
)

// CampaignMetrics 统一后的单个广告系列指标
type CampaignMetrics struct {
	Platform     Platform           `json:"platform"`
	CampaignID   string             `json:"campaign_id"`
	CampaignName string             `json:"campaign_name"`
	Impressions  int64              `json:"impressions"`
	Clicks       int64              `json:"clicks"`
	Spend        float64            `json:"spend"`
	Conversions  int64              `json:"conversions"`
	CTR          float64            `json:"ctr"`
	CPC          float64            `json:"cpc"`
	CPM          float64            `json:"cpm"`
	DateStart    string             `json:"date_start"`
	DateStop     string             `json:"date_stop"`
	LastUpdated  wsclient.Timestamp `json:"last_updated"`
}

// InsightsSummary 跨平台汇总
type InsightsSummary struct {
	TotalSpend       float64  `json:"total_spend"`
	TotalImpressions int64    `json:"total_impressions"`
	TotalClicks      int64    `json:"total_clicks"`
	AverageCTR       float64  `json:"average_ctr"`
	PlatformsActive  []string `json:"platforms_active"`
}

// InsightsResponse /ad-insights/campaigns 响应
type InsightsResponse struct {
	Campaigns        []CampaignMetrics  `json:"campaigns"`
	Summary          InsightsSummary    `json:"summary"`
	TotalSpend       float64            `json:"total_spend"`
	TotalImpressions int64              `json:"total_impressions"`
	TotalClicks      int64              `json:"total_clicks"`
	AverageCTR       float64            `json:"average_ctr"`
	LastSync         wsclient.Timestamp `json:"last_sync"`
}

// Alert 实时花费告警
type Alert struct {
	ID             string             `json:"id"`
	AlertType      string             `json:"alert_type"` // spend_threshold/performance_drop/budget_exhausted
	Platform       Platform           `json:"platform"`
	CampaignID     string             `json:"campaign_id"`
	CampaignName   string             `json:"campaign_name"`
	Message        string             `json:"message"`
	Severity       string             `json:"severity"`
	ThresholdValue float64            `json:"threshold_value"`
	CurrentValue   float64            `json:"current_value"`
	Timestamp      wsclient.Timestamp `json:"timestamp"`
}

// Health 广告系列健康度
type Health struct {
	MetaStatus       string             `json:"meta_status"`
	GoogleStatus     string             `json:"google_status"`
	OverallHealth    string             `json:"overall_health"`
	TotalDailySpend  float64            `json:"total_daily_spend"`
	DailySpendLimit  float64            `json:"daily_spend_limit"`
	ActiveCampaigns  int                `json:"active_campaigns"`
	PerformanceScore float64            `json:"performance_score"`
	LastUpdated      wsclient.Timestamp `json:"last_updated"`
}

// SyncResult 手动同步结果
type SyncResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ActivityEvent 活动流条目
type ActivityEvent struct {
	ID           string             `json:"id"`
	Type         string             `json:"type"` // campaign_update/spend_alert/performance_change/api_sync/system_alert
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Timestamp    wsclient.Timestamp `json:"timestamp"`
	Platform     Platform           `json:"platform,omitempty"`
	CampaignID   string             `json:"campaign_id,omitempty"`
	CampaignName string             `json:"campaign_name,omitempty"`
	Severity     string             `json:"severity,omitempty"`
	Status       string             `json:"status,omitempty"`
	Metadata     *ActivityMetadata  `json:"metadata,omitempty"`
}

// ActivityMetadata 活动附加数值
type ActivityMetadata struct {
	Amount        float64  `json:"amount,omitempty"`
	Change        float64  `json:"change,omitempty"`
	PreviousValue float64  `json:"previous_value,omitempty"`
	CurrentValue  float64  `json:"current_value,omitempty"`
	Threshold     float64  `json:"threshold,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// ActivityResponse /activities 响应
type ActivityResponse struct {
	Activities  []ActivityEvent    `json:"activities"`
	TotalCount  int                `json:"total_count"`
	LastUpdated wsclient.Timestamp `json:"last_updated"`
	// Derived 为 true 表示活动接口不可用，由广告数据推导
	Derived bool `json:"-"`
}
