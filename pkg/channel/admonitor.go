package channel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/backend"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/wsclient"
)

const invalidateTimeout = 5 * time.Second

// Invalidator 按前缀失效查询缓存
type Invalidator interface {
	Invalidate(ctx context.Context, prefixes ...string) error
}

// 入站消息类型对应需要失效的查询
var adMonitorInvalidations = map[wsclient.MessageType][]string{
	wsclient.TypeSpendAlert:     {backend.KeyAlerts, backend.KeyActivities},
	wsclient.TypeSpendUpdate:    {backend.KeyCampaigns},
	wsclient.TypeCampaignStatus: {backend.KeyHealth},
}

// AdMonitor 广告花费监控通道
type AdMonitor struct {
	*wsclient.Client
	inv Invalidator
	log logger.Logger
}

// NewAdMonitor 创建广告监控通道，apiBase 为 REST 基础地址
// inv 为 nil 时只记录日志
func NewAdMonitor(apiBase string, inv Invalidator, log logger.Logger, opts ...wsclient.Option) (*AdMonitor, error) {
	url, err := AdMonitorURL(apiBase)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("ad-monitor")

	base := []wsclient.Option{
		wsclient.WithName("ad-monitor"),
		wsclient.WithLogger(log),
		wsclient.WithAutoReconnect(true),
		wsclient.WithExponentialBackoff(true),
	}
	client, err := wsclient.New(url, append(base, opts...)...)
	if err != nil {
		return nil, err
	}

	a := &AdMonitor{Client: client, inv: inv, log: log}
	a.Subscribe(wsclient.TopicAll, a.handle)
	a.Events(func(e wsclient.Event) {
		switch e.Type {
		case wsclient.EventError:
			a.log.Error("ad monitor error", zap.Error(e.Err))
		case wsclient.EventReconnectAttempt:
			a.log.Info("ad monitor reconnecting", zap.Int("attempt", e.Attempt))
		}
	})
	return a, nil
}

func (a *AdMonitor) handle(m wsclient.Message) error {
	switch msg := m.(type) {
	case *wsclient.SpendAlertMessage:
		a.log.Info("spend alert",
			zap.String("alert_id", msg.Alert.AlertID),
			zap.String("platform", msg.Alert.Platform),
			zap.String("severity", msg.Alert.Severity),
		)
	case *wsclient.SpendUpdateMessage:
		a.log.Debug("spend update",
			zap.String("campaign_id", msg.Update.CampaignID),
			zap.Float64("percentage_used", msg.Update.PercentageUsed),
		)
	case *wsclient.ConnectionStatusMessage:
		a.log.Info("ad monitor connection status", zap.Any("status", msg.Status))
		return nil
	}

	prefixes, ok := adMonitorInvalidations[m.Type()]
	if !ok || a.inv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()
	if err := a.inv.Invalidate(ctx, prefixes...); err != nil {
		a.log.Warn("invalidate queries failed", zap.Strings("prefixes", prefixes), zap.Error(err))
		return err
	}
	return nil
}

// DismissAlert 通知服务端忽略告警
func (a *AdMonitor) DismissAlert(alertID string) error {
	return a.Send("dismiss_alert", map[string]any{"alert_id": alertID})
}

// RequestSpendUpdate 请求立即推送花费，platform 为空表示全部平台
func (a *AdMonitor) RequestSpendUpdate(platform backend.Platform) error {
	payload := map[string]any{}
	if platform != "" {
		payload["platform"] = platform
	}
	return a.Send("request_spend_update", payload)
}

// SubscribeToAlerts 订阅平台告警，默认 meta 与 google
func (a *AdMonitor) SubscribeToAlerts(platforms ...backend.Platform) error {
	if len(platforms) == 0 {
		platforms = []backend.Platform{backend.PlatformMeta, backend.PlatformGoogle}
	}
	return a.Send("subscribe_alerts", map[string]any{"platforms": platforms})
}
