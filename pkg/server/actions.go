package server

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/backend"
	"github.com/tokmz/warroom/pkg/feed"
	"github.com/tokmz/warroom/pkg/hub"
	"github.com/tokmz/warroom/pkg/tracing"
)

// Syncer 触发广告平台同步，*backend.Client 满足该接口
type Syncer interface {
	TriggerSync(ctx context.Context, platforms ...backend.Platform) (*backend.SyncResult, error)
}

type dismissAlertRequest struct {
	AlertID string `json:"alert_id"`
}

type spendUpdateRequest struct {
	Platform string `json:"platform"`
}

func (s *Server) registerActions() error {
	if err := hub.Handle(s.hub.Router(), hub.TypeDismissAlert, s.dismissAlert); err != nil {
		return err
	}
	return hub.Handle(s.hub.Router(), hub.TypeRequestSpendUpdate, s.requestSpendUpdate)
}

// dismissAlert 告警状态变化广播给监控与分析通道
func (s *Server) dismissAlert(sess *hub.Session, req *dismissAlertRequest) error {
	if req.AlertID == "" {
		return hub.ErrInvalidMessage.WithMessage("alert_id is required")
	}
	update := map[string]any{
		"alert_id":     req.AlertID,
		"status":       "dismissed",
		"dismissed_by": sess.ID,
		"dismissed_at": time.Now().UTC(),
	}
	for _, topic := range []string{feed.TopicAdMonitor, feed.TopicAnalytics} {
		if _, err := s.hub.Broadcast(topic, "alert_update", update); err != nil {
			return err
		}
	}
	s.log.Info("alert dismissed", zap.String("alert_id", req.AlertID), zap.String("session", sess.ID))
	return nil
}

// requestSpendUpdate 配置了 Syncer 时先同步，再通知监控通道刷新花费
func (s *Server) requestSpendUpdate(sess *hub.Session, req *spendUpdateRequest) error {
	var platforms []backend.Platform
	if req.Platform != "" {
		p := backend.Platform(strings.ToLower(req.Platform))
		if p != backend.PlatformMeta && p != backend.PlatformGoogle {
			return hub.ErrInvalidMessage.WithMessagef("unknown platform %q", req.Platform)
		}
		platforms = append(platforms, p)
	}

	update := map[string]any{"requested_by": sess.ID}
	if len(platforms) > 0 {
		update["platform"] = platforms[0]
	}

	if s.syncer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ActionTimeout)
		defer cancel()
		ctx, span := tracing.StartSpan(ctx, "relay.request_spend_update")
		defer span.End()

		result, err := s.syncer.TriggerSync(ctx, platforms...)
		if err != nil {
			tracing.RecordError(span, err)
			return err
		}
		update["sync"] = result
	}

	_, err := s.hub.Broadcast(feed.TopicAdMonitor, "spend_update", update)
	return err
}
