package server

import "github.com/tokmz/warroom/pkg/errors"

// 中继服务错误，6100 段
var (
	ErrInvalidConfig  = errors.New(6101, 500, "中继配置无效", nil)
	ErrAlreadyServing = errors.New(6102, 500, "服务已启动", nil)
)
