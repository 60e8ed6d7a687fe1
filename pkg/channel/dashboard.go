package channel

import (
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/wsclient"
)

// DashboardChannels 看板连接后订阅的频道
var DashboardChannels = []string{
	"meta_ads_metrics",
	"google_ads_metrics",
	"crisis_monitoring",
	"sentiment_analysis",
}

// Dashboard 实时看板通道，入站数据写入 Store
type Dashboard struct {
	*wsclient.Client
	store *Store
	log   logger.Logger
}

// NewDashboard 创建看板通道，url 为完整 WebSocket 地址
func NewDashboard(url string, store *Store, log logger.Logger, opts ...wsclient.Option) (*Dashboard, error) {
	if store == nil {
		store = NewStore()
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("dashboard")

	base := []wsclient.Option{wsclient.WithName("dashboard"), wsclient.WithLogger(log)}
	client, err := wsclient.New(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{Client: client, store: store, log: log}
	d.Events(d.onEvent)
	d.Subscribe(string(wsclient.TypeMetaMetrics), func(m wsclient.Message) error {
		if msg, ok := m.(*wsclient.MetaMetricsMessage); ok {
			d.store.UpdateMetaMetrics(msg.Metrics)
		}
		return nil
	})
	d.Subscribe(string(wsclient.TypeGoogleMetrics), func(m wsclient.Message) error {
		if msg, ok := m.(*wsclient.GoogleMetricsMessage); ok {
			d.store.UpdateGoogleMetrics(msg.Metrics)
		}
		return nil
	})
	d.Subscribe(string(wsclient.TypeCrisisAlert), func(m wsclient.Message) error {
		if msg, ok := m.(*wsclient.CrisisAlertMessage); ok {
			if d.store.AddAlert(msg.Alert) {
				d.log.Info("crisis alert",
					zap.String("id", msg.Alert.ID),
					zap.String("severity", msg.Alert.Severity),
					zap.String("title", msg.Alert.Title),
				)
			}
		}
		return nil
	})
	d.Subscribe(string(wsclient.TypeSentimentUpdate), func(m wsclient.Message) error {
		if msg, ok := m.(*wsclient.SentimentUpdateMessage); ok {
			return d.store.MergeSentiment(msg.Data())
		}
		return nil
	})
	return d, nil
}

// Store 看板状态
func (d *Dashboard) Store() *Store { return d.store }

// SendMessage 发送 {"type": msgType, ...data}
func (d *Dashboard) SendMessage(msgType string, data any) error {
	return d.Send(msgType, data)
}

// AcknowledgeAlert 本地确认危机告警
func (d *Dashboard) AcknowledgeAlert(id string) bool {
	return d.store.AcknowledgeAlert(id)
}

func (d *Dashboard) onEvent(e wsclient.Event) {
	switch e.Type {
	case wsclient.EventConnected:
		d.store.SetError("")
		if err := d.Send("subscribe", map[string]any{"channels": DashboardChannels}); err != nil {
			d.log.Warn("subscribe channels failed", zap.Error(err))
		}
	case wsclient.EventError:
		if e.Err != nil {
			d.store.SetError(e.Err.Error())
		}
	}
	d.store.SetWSStatus(d.Status())
}
