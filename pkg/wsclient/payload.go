package wsclient

// 入站消息的数据载荷

// AdMetrics 单个广告平台的汇总指标
type AdMetrics struct {
	Platform    string    `json:"platform"`
	Spend       float64   `json:"spend"`
	Impressions int64     `json:"impressions"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
	CTR         float64   `json:"ctr"`
	CPC         float64   `json:"cpc"`
	ROAS        float64   `json:"roas"`
	LastUpdated Timestamp `json:"lastUpdated"`
}

// CrisisAlert 舆情危机告警
type CrisisAlert struct {
	ID               string    `json:"id"`
	Severity         string    `json:"severity"` // low/medium/high/critical
	Type             string    `json:"type"`     // sentiment_spike/volume_surge/negative_trend/competitor_attack
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	AffectedKeywords []string  `json:"affectedKeywords"`
	EstimatedReach   int64     `json:"estimatedReach"`
	Timestamp        Timestamp `json:"timestamp"`
	Acknowledged     bool      `json:"acknowledged"`
	Source           string    `json:"source"`
}

// SentimentData 情感分析数据
type SentimentData struct {
	Overall            float64  `json:"overall"`
	MentionlyticsScore *float64 `json:"mentionlyticsScore,omitempty"`
	WeightedScore      float64  `json:"weightedScore"`
	Trend              string   `json:"trend"` // improving/stable/declining
	Volume             int64    `json:"volume"`
	LastHour           struct {
		Positive int64 `json:"positive"`
		Negative int64 `json:"negative"`
		Neutral  int64 `json:"neutral"`
	} `json:"lastHour"`
}

// AdAlert 广告花费告警
type AdAlert struct {
	AlertID        string    `json:"alert_id"`
	AlertType      string    `json:"alert_type"`
	Platform       string    `json:"platform"`
	CampaignID     string    `json:"campaign_id"`
	CampaignName   string    `json:"campaign_name"`
	Message        string    `json:"message"`
	Severity       string    `json:"severity"`
	CurrentValue   float64   `json:"current_value"`
	ThresholdValue float64   `json:"threshold_value"`
	Timestamp      Timestamp `json:"timestamp"`
}

// SpendUpdate 广告花费进度
type SpendUpdate struct {
	Platform       string    `json:"platform"`
	CampaignID     string    `json:"campaign_id"`
	CampaignName   string    `json:"campaign_name"`
	CurrentSpend   float64   `json:"current_spend"`
	SpendLimit     float64   `json:"spend_limit"`
	PercentageUsed float64   `json:"percentage_used"`
	Timestamp      Timestamp `json:"timestamp"`
}

// Activity 活动流条目
type Activity struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Timestamp   Timestamp      `json:"timestamp"`
	Platform    string         `json:"platform,omitempty"`
	Severity    string         `json:"severity,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
