package hub

import "github.com/tokmz/warroom/pkg/errors"

// 6000 段为中继服务端错误
var (
	ErrTooManySessions = errors.New(6001, 503, "连接数已达上限", nil)
	ErrSessionClosed   = errors.New(6002, 410, "会话已关闭", nil)
	ErrSendQueueFull   = errors.New(6003, 503, "发送队列已满", nil)
	ErrHandlerNotFound = errors.New(6004, 404, "未知的消息类型", nil)
	ErrHandlerExists   = errors.New(6005, 500, "消息处理器已注册", nil)
	ErrInvalidMessage  = errors.New(6006, 400, "消息格式错误", nil)
	ErrInvalidConfig   = errors.New(6007, 500, "中继配置无效", nil)
	ErrHubClosed       = errors.New(6008, 503, "中继已关闭", nil)
)
