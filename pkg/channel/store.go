package channel

import (
	"bytes"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tokmz/warroom/pkg/wsclient"
)

const (
	maxAlerts       = 100
	sentimentWindow = 24 * time.Hour
	// 最近 trendWindow 条与之前 trendWindow 条的均值差超过 trendThreshold 判定趋势
	trendWindow    = 10
	trendThreshold = 5.0
)

// 情感趋势
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
)

// AggregatedMetrics 跨平台汇总，平均值按权重计算
//
//	ctr 以曝光加权，cpc 以点击加权，roas 以花费加权
type AggregatedMetrics struct {
	TotalSpend       float64            `json:"totalSpend"`
	TotalImpressions int64              `json:"totalImpressions"`
	TotalClicks      int64              `json:"totalClicks"`
	TotalConversions int64              `json:"totalConversions"`
	AvgCTR           float64            `json:"avgCtr"`
	AvgCPC           float64            `json:"avgCpc"`
	AvgROAS          float64            `json:"avgRoas"`
	SpendByPlatform  map[string]float64 `json:"spendByPlatform"`
}

// SentimentPoint 情感历史点
type SentimentPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Score     float64   `json:"score"`
}

// WSStatus 看板连接状态
type WSStatus struct {
	Connected         bool      `json:"connected"`
	Reconnecting      bool      `json:"reconnecting"`
	LastConnected     time.Time `json:"lastConnected"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	QueuedMessages    int       `json:"queuedMessages"`
	Label             string    `json:"label"`
}

// Snapshot 看板状态快照，与 Store 不共享内存
type Snapshot struct {
	Meta                *wsclient.AdMetrics     `json:"metaMetrics"`
	Google              *wsclient.AdMetrics     `json:"googleMetrics"`
	Aggregated          *AggregatedMetrics      `json:"aggregatedMetrics"`
	Alerts              []wsclient.CrisisAlert  `json:"alerts"`
	UnacknowledgedCount int                     `json:"unacknowledgedCount"`
	Sentiment           *wsclient.SentimentData `json:"sentiment"`
	SentimentHistory    []SentimentPoint        `json:"sentimentHistory"`
	WSStatus            WSStatus                `json:"wsStatus"`
	Error               string                  `json:"error,omitempty"`
	LastUpdate          time.Time               `json:"lastUpdateTime"`
}

// Store 看板状态，并发安全
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	meta       *wsclient.AdMetrics
	google     *wsclient.AdMetrics
	aggregated *AggregatedMetrics

	alerts         []wsclient.CrisisAlert // 新的在前
	unacknowledged int

	sentiment *wsclient.SentimentData
	history   []SentimentPoint

	ws         WSStatus
	err        string
	lastUpdate time.Time
}

// NewStore 创建空看板
func NewStore() *Store {
	return &Store{now: time.Now, ws: WSStatus{Label: "Disconnected"}}
}

// UpdateMetaMetrics 替换 Meta 指标并重新汇总
func (s *Store) UpdateMetaMetrics(m wsclient.AdMetrics) {
	s.updateMetrics(&s.meta, "meta", m)
}

// UpdateGoogleMetrics 替换 Google 指标并重新汇总
func (s *Store) UpdateGoogleMetrics(m wsclient.AdMetrics) {
	s.updateMetrics(&s.google, "google", m)
}

func (s *Store) updateMetrics(slot **wsclient.AdMetrics, platform string, m wsclient.AdMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m.Platform = platform
	m.LastUpdated = wsclient.Timestamp{Time: now}
	*slot = &m
	s.lastUpdate = now
	s.aggregateLocked()
}

func (s *Store) aggregateLocked() {
	meta, google := s.meta, s.google
	if meta == nil && google == nil {
		s.aggregated = nil
		return
	}
	if meta == nil {
		meta = &wsclient.AdMetrics{}
	}
	if google == nil {
		google = &wsclient.AdMetrics{}
	}

	s.aggregated = &AggregatedMetrics{
		TotalSpend:       meta.Spend + google.Spend,
		TotalImpressions: meta.Impressions + google.Impressions,
		TotalClicks:      meta.Clicks + google.Clicks,
		TotalConversions: meta.Conversions + google.Conversions,
		AvgCTR:           weightedAverage(meta.CTR, float64(meta.Impressions), google.CTR, float64(google.Impressions)),
		AvgCPC:           weightedAverage(meta.CPC, float64(meta.Clicks), google.CPC, float64(google.Clicks)),
		AvgROAS:          weightedAverage(meta.ROAS, meta.Spend, google.ROAS, google.Spend),
		SpendByPlatform: map[string]float64{
			"meta":   meta.Spend,
			"google": google.Spend,
		},
	}
}

// AddAlert 插入告警到最前，ID 已存在时忽略；最多保留 100 条
func (s *Store) AddAlert(a wsclient.CrisisAlert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.ID == a.ID {
			return false
		}
	}
	s.alerts = append([]wsclient.CrisisAlert{a}, s.alerts...)
	if len(s.alerts) > maxAlerts {
		s.alerts = s.alerts[:maxAlerts]
	}
	s.countUnacknowledgedLocked()
	s.lastUpdate = s.now()
	return true
}

// AcknowledgeAlert 确认告警，ID 不存在返回 false
func (s *Store) AcknowledgeAlert(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Acknowledged = true
			s.countUnacknowledgedLocked()
			return true
		}
	}
	return false
}

func (s *Store) countUnacknowledgedLocked() {
	n := 0
	for _, a := range s.alerts {
		if !a.Acknowledged {
			n++
		}
	}
	s.unacknowledged = n
}

// CriticalAlerts 未确认的 critical 告警
func (s *Store) CriticalAlerts() []wsclient.CrisisAlert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []wsclient.CrisisAlert
	for _, a := range s.alerts {
		if a.Severity == "critical" && !a.Acknowledged {
			out = append(out, cloneAlert(a))
		}
	}
	return out
}

// UpdateSentiment 以完整数据替换情感
//
// 带 mentionlyticsScore 时以其作为 weightedScore 和 overall。
// 每次更新记一个历史点，只保留 24 小时；历史超过 10 条后重新判定趋势。
func (s *Store) UpdateSentiment(d wsclient.SentimentData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Trend == "" {
		d.Trend = TrendStable
		if s.sentiment != nil {
			d.Trend = s.sentiment.Trend
		}
	}
	s.applySentimentLocked(d, d.MentionlyticsScore != nil)
}

// MergeSentiment 把 JSON 对象中出现的字段合并到当前情感，其余字段保持原值
func (s *Store) MergeSentiment(raw json.RawMessage) error {
	fields := map[string]json.RawMessage{}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := wsclient.SentimentData{Trend: TrendStable}
	if s.sentiment != nil {
		merged = cloneSentiment(*s.sentiment)
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(raw, &merged); err != nil {
			return err
		}
	}
	_, scored := fields["mentionlyticsScore"]
	s.applySentimentLocked(merged, scored && merged.MentionlyticsScore != nil)
	return nil
}

func (s *Store) applySentimentLocked(d wsclient.SentimentData, useMentionlytics bool) {
	now := s.now()
	if useMentionlytics {
		score := *d.MentionlyticsScore
		d.WeightedScore = score
		d.Overall = score
	}

	s.history = append(s.history, SentimentPoint{Timestamp: now, Score: d.Overall})
	cutoff := now.Add(-sentimentWindow)
	keep := 0
	for keep < len(s.history) && !s.history[keep].Timestamp.After(cutoff) {
		keep++
	}
	s.history = s.history[keep:]

	if trend, ok := sentimentTrend(s.history); ok {
		d.Trend = trend
	}
	s.sentiment = &d
	s.lastUpdate = now
}

// sentimentTrend 历史不足以比较时返回 false
func sentimentTrend(history []SentimentPoint) (string, bool) {
	if len(history) <= trendWindow {
		return "", false
	}
	recent := history[len(history)-trendWindow:]
	older := history[max(0, len(history)-2*trendWindow) : len(history)-trendWindow]

	recentAvg, olderAvg := averageScore(recent), averageScore(older)
	switch {
	case recentAvg > olderAvg+trendThreshold:
		return TrendImproving, true
	case recentAvg < olderAvg-trendThreshold:
		return TrendDeclining, true
	default:
		return TrendStable, true
	}
}

// SetWSStatus 记录连接状态
func (s *Store) SetWSStatus(st wsclient.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ws = WSStatus{
		Connected:         st.Connected(),
		Reconnecting:      st.Reconnecting(),
		LastConnected:     st.LastConnected,
		ReconnectAttempts: st.ReconnectAttempts,
		QueuedMessages:    st.QueuedMessages,
		Label:             st.Label(),
	}
}

// SetError 记录最近错误，空串清除
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
}

// TotalSpend 跨平台总花费
func (s *Store) TotalSpend() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aggregated == nil {
		return 0
	}
	return s.aggregated.TotalSpend
}

// Snapshot 深拷贝当前状态
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		UnacknowledgedCount: s.unacknowledged,
		SentimentHistory:    append([]SentimentPoint(nil), s.history...),
		WSStatus:            s.ws,
		Error:               s.err,
		LastUpdate:          s.lastUpdate,
	}
	if s.meta != nil {
		m := *s.meta
		snap.Meta = &m
	}
	if s.google != nil {
		g := *s.google
		snap.Google = &g
	}
	if s.aggregated != nil {
		a := *s.aggregated
		a.SpendByPlatform = make(map[string]float64, len(s.aggregated.SpendByPlatform))
		for k, v := range s.aggregated.SpendByPlatform {
			a.SpendByPlatform[k] = v
		}
		snap.Aggregated = &a
	}
	if len(s.alerts) > 0 {
		snap.Alerts = make([]wsclient.CrisisAlert, len(s.alerts))
		for i, a := range s.alerts {
			snap.Alerts[i] = cloneAlert(a)
		}
	}
	if s.sentiment != nil {
		d := cloneSentiment(*s.sentiment)
		snap.Sentiment = &d
	}
	return snap
}

// Reset 清空全部状态
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta, s.google, s.aggregated = nil, nil, nil
	s.alerts, s.unacknowledged = nil, 0
	s.sentiment, s.history = nil, nil
	s.ws = WSStatus{Label: "Disconnected"}
	s.err = ""
	s.lastUpdate = time.Time{}
}

func cloneAlert(a wsclient.CrisisAlert) wsclient.CrisisAlert {
	a.AffectedKeywords = append([]string(nil), a.AffectedKeywords...)
	return a
}

func cloneSentiment(d wsclient.SentimentData) wsclient.SentimentData {
	if d.MentionlyticsScore != nil {
		v := *d.MentionlyticsScore
		d.MentionlyticsScore = &v
	}
	return d
}

func weightedAverage(v1, w1, v2, w2 float64) float64 {
	total := w1 + w2
	if total == 0 {
		return 0
	}
	return (v1*w1 + v2*w2) / total
}

func averageScore(points []SentimentPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Score
	}
	return sum / float64(len(points))
}
