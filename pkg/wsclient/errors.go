package wsclient

import (
	"fmt"

	"github.com/tokmz/warroom/pkg/errors"
)

// 5000 段错误码：WebSocket 客户端
var (
	// ErrMaxReconnectAttempts 重连次数耗尽，需手动 Connect 恢复
	ErrMaxReconnectAttempts = errors.New(5001, 503, "maximum reconnection attempts reached", nil)
	// ErrClientClosed 客户端已关闭
	ErrClientClosed = errors.New(5002, 500, "wsclient: client closed", nil)
	// ErrDial 建连失败
	ErrDial = errors.New(5003, 502, "wsclient: dial failed", nil)
	// ErrHeartbeatTimeout 超过 PongTimeout 未收到任何数据
	ErrHeartbeatTimeout = errors.New(5004, 504, "wsclient: heartbeat timeout", nil)
	// ErrEncode 出站消息编码失败
	ErrEncode = errors.New(5005, 400, "wsclient: encode message failed", nil)
	// ErrDecode 入站消息与其类型不匹配
	ErrDecode = errors.New(5006, 400, "wsclient: decode message failed", nil)
	// ErrInvalidConfig 配置错误
	ErrInvalidConfig = errors.New(5007, 500, "wsclient: invalid config", nil)
)

// 关闭码（RFC 6455）
const (
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseNoStatus        = 1005
	CloseAbnormalClosure = 1006
)

// CloseError 连接关闭原因
type CloseError struct {
	Code   int
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed: code %d", e.Code)
	}
	return fmt.Sprintf("websocket closed: code %d (%s)", e.Code, e.Reason)
}

func (e *CloseError) Unwrap() error { return e.Err }

// Clean 是否为正常关闭（1000），正常关闭不触发重连
func (e *CloseError) Clean() bool { return e.Code == CloseNormalClosure }

// closeCodeOf 从错误中取关闭码，非 CloseError 视为异常关闭
func closeCodeOf(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormalClosure
}

// ProtocolError 服务端下发的 {type:"error"} 消息，连接保持打开
type ProtocolError struct {
	Message string
	Code    string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return "server error [" + e.Code + "]: " + e.Message
	}
	return "server error: " + e.Message
}
