package channel

import (
	"net/url"
	"strings"

	"github.com/tokmz/warroom/pkg/wsclient"
)

// 各通道在中继上的路径
const (
	PathDashboard = "/ws"
	PathAdMonitor = "/ws/ad-monitor"
	PathAnalytics = "/ws/analytics"
)

// WebSocketURL 由 HTTP 基础地址推导 WebSocket 地址：https→wss，http→ws
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", wsclient.ErrInvalidConfig.WithMessagef("channel: invalid base url %q", base).WithError(err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", wsclient.ErrInvalidConfig.WithMessagef("channel: unsupported scheme in %q", base)
	}
	if u.Host == "" {
		return "", wsclient.ErrInvalidConfig.WithMessagef("channel: missing host in %q", base)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery, u.Fragment = "", ""
	return u.String(), nil
}

// AdMonitorURL 广告监控通道地址
func AdMonitorURL(base string) (string, error) {
	return WebSocketURL(base, PathAdMonitor)
}
