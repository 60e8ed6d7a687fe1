package channel

import (
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/wsclient"
)

// AnalyticsHandlers 分析面板回调，未设置的忽略
type AnalyticsHandlers struct {
	OnMetrics  func(metrics map[string]any)
	OnActivity func(activity wsclient.Activity)
	OnAlert    func(alert map[string]any)
}

// Analytics 分析面板通道
type Analytics struct {
	*wsclient.Client
}

// NewAnalytics 创建分析通道，url 为完整 WebSocket 地址
func NewAnalytics(url string, h AnalyticsHandlers, log logger.Logger, opts ...wsclient.Option) (*Analytics, error) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("analytics")

	base := []wsclient.Option{
		wsclient.WithName("analytics"),
		wsclient.WithLogger(log),
		wsclient.WithAutoReconnect(true),
		wsclient.WithOnOpen(func() { log.Info("analytics connected") }),
		wsclient.WithOnClose(func(err error) { log.Info("analytics disconnected", zap.Error(err)) }),
		wsclient.WithOnError(func(err error) { log.Error("analytics error", zap.Error(err)) }),
	}
	client, err := wsclient.New(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	a := &Analytics{Client: client}
	if h.OnMetrics != nil {
		a.Subscribe(string(wsclient.TypeMetricsUpdate), func(m wsclient.Message) error {
			if msg, ok := m.(*wsclient.MetricsUpdateMessage); ok {
				h.OnMetrics(msg.Metrics)
			}
			return nil
		})
	}
	if h.OnActivity != nil {
		a.Subscribe(string(wsclient.TypeActivityFeed), func(m wsclient.Message) error {
			if msg, ok := m.(*wsclient.ActivityFeedMessage); ok {
				h.OnActivity(msg.Activity)
			}
			return nil
		})
	}
	if h.OnAlert != nil {
		a.Subscribe(string(wsclient.TypeAlertUpdate), func(m wsclient.Message) error {
			if msg, ok := m.(*wsclient.AlertUpdateMessage); ok {
				h.OnAlert(msg.Alert)
			}
			return nil
		})
	}
	return a, nil
}
