package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/feed"
	"github.com/tokmz/warroom/pkg/hub"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/tracing"
)

// HubSink 把数据源事件按主题广播；无法推导主题的事件发给全部会话
type HubSink struct {
	hub *hub.Hub
	log logger.Logger
}

// NewHubSink 创建 Sink
func NewHubSink(h *hub.Hub, log logger.Logger) *HubSink {
	if log == nil {
		log = logger.NewNop()
	}
	return &HubSink{hub: h, log: log.Named("sink")}
}

// Publish 编码失败只记日志，不中断数据源
func (k *HubSink) Publish(ctx context.Context, e feed.Event) error {
	ctx, span := tracing.StartSpan(ctx, "feed.publish")
	defer span.End()

	topic := feed.ResolveTopic(e)
	tracing.SetAttributes(span, map[string]any{"feed.type": e.Type, "feed.topic": topic})

	var (
		n   int
		err error
	)
	if topic == "" {
		n, err = k.hub.BroadcastAll(e.Type, e.Data)
	} else {
		n, err = k.hub.Broadcast(topic, e.Type, e.Data)
	}
	if err != nil {
		tracing.RecordError(span, err)
		k.log.WarnContext(ctx, "drop feed event", zap.String("type", e.Type), zap.Error(err))
		return nil
	}
	k.log.DebugContext(ctx, "feed event broadcast",
		zap.String("type", e.Type), zap.String("topic", topic), zap.Int("sessions", n))
	return nil
}
