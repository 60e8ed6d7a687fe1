package logger

import "context"

type contextKey int

const (
	loggerKey contextKey = iota
	channelKey
)

// WithChannel 在 context 中标记逻辑通道名（dashboard / ad-monitor / analytics）
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, channelKey, channel)
}

// ChannelFromContext 取出通道名
func ChannelFromContext(ctx context.Context) string {
	ch, _ := ctx.Value(channelKey).(string)
	return ch
}

// NewContext 将 Logger 放入 context
func NewContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext 取出 Logger，没有时返回 fallback
func FromContext(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return fallback
}
