package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/wsclient"
)

// Supervise 运行数据源，异常退出后按退避策略重启，直到 ctx 取消
//
// 数据源正常返回（nil）视为结束，不再重启。
func Supervise(ctx context.Context, src Source, sink Sink, policy wsclient.Policy, log logger.Logger) error {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(zap.String("source", src.Name()))

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	attempt := 0
	for {
		started := time.Now()
		err := src.Run(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			log.Info("feed source finished")
			return nil
		}
		// 稳定运行超过上限间隔后重新计数
		if time.Since(started) > policy.MaxInterval {
			attempt = 0
		}
		attempt++
		delay := policy.Delay(attempt)
		log.Warn("feed source stopped, restarting",
			zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay))

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
	}
}
