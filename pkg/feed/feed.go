// Package feed 从外部系统读取看板事件并交给中继广播。
package feed

import (
	"context"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tokmz/warroom/pkg/errors"
)

// 7000 段为数据源错误
var (
	ErrInvalidEvent  = errors.New(7001, 400, "事件格式错误", nil)
	ErrInvalidConfig = errors.New(7002, 500, "数据源配置无效", nil)
	ErrSourceClosed  = errors.New(7003, 503, "数据源已关闭", nil)
)

// Event 一条待广播的消息；Topic 为空时按 Type 推导
type Event struct {
	Topic string `json:"topic,omitempty" yaml:"topic"`
	Type  string `json:"type" yaml:"type"`
	Data  any    `json:"data,omitempty" yaml:"data"`
}

// Sink 事件去向
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc 函数形式的 Sink
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Source 事件来源，Run 阻塞到 ctx 取消或不可恢复的错误
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// 看板通道订阅的主题
const (
	TopicMetaMetrics   = "meta_ads_metrics"
	TopicGoogleMetrics = "google_ads_metrics"
	TopicCrisis        = "crisis_monitoring"
	TopicSentiment     = "sentiment_analysis"
	TopicAdMonitor     = "ad-monitor"
	TopicAnalytics     = "analytics"
)

var defaultTopics = map[string]string{
	"meta_metrics":      TopicMetaMetrics,
	"google_metrics":    TopicGoogleMetrics,
	"crisis_alert":      TopicCrisis,
	"sentiment_update":  TopicSentiment,
	"spend_update":      TopicAdMonitor,
	"campaign_status":   TopicAdMonitor,
	"connection_status": TopicAdMonitor,
	"metrics_update":    TopicAnalytics,
	"activity_feed":     TopicAnalytics,
	"alert_update":      TopicAnalytics,
}

// ResolveTopic 显式 Topic 优先；spend_alert 发往平台告警主题
func ResolveTopic(e Event) string {
	if e.Topic != "" {
		return e.Topic
	}
	if e.Type == "spend_alert" {
		if m, ok := e.Data.(map[string]any); ok {
			if p, ok := m["platform"].(string); ok && p != "" {
				return "alerts:" + strings.ToLower(p)
			}
		}
		return TopicAdMonitor
	}
	return defaultTopics[e.Type]
}

// Decode 解析 JSON 事件，fallbackTopic 用于消息本身未指定主题的情况
func Decode(payload []byte, fallbackTopic string) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, ErrInvalidEvent.WithError(err)
	}
	if e.Type == "" {
		return Event{}, ErrInvalidEvent.WithMessage("事件缺少 type 字段")
	}
	if e.Topic == "" {
		e.Topic = fallbackTopic
	}
	return e, nil
}
