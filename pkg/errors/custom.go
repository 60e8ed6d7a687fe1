package errors

/*
	错误码分段
	1000 通用
	3000 缓存 / 配置
	4000 HTTP 客户端
	5000 WebSocket 客户端
	6000 推送源
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, 500, "服务器异常", nil)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, 400, "请求异常", nil)
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, 401, "授权异常", nil)
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, 404, "资源不存在", nil)
	// ErrUnavailable 服务不可用
	ErrUnavailable = New(1005, 503, "服务不可用", nil)
)
