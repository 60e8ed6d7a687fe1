package wsclient

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer 建立 WebSocket 连接，可替换为测试实现
type Dialer interface {
	Dial(ctx context.Context, url string, protocols []string) (Conn, error)
}

// Conn 单条 WebSocket 连接
//
// ReadMessage 只返回文本/二进制帧；连接关闭时返回 *CloseError。
// WriteMessage 可被多个协程并发调用。
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// GorillaDialer 基于 gorilla/websocket 的 Dialer
type GorillaDialer struct {
	Header       http.Header
	ReadLimit    int64
	WriteTimeout time.Duration
	dialer       *websocket.Dialer
}

// NewGorillaDialer 创建 Dialer
func NewGorillaDialer(header http.Header, handshakeTimeout time.Duration, readLimit int64, writeTimeout time.Duration) *GorillaDialer {
	return &GorillaDialer{
		Header:       header,
		ReadLimit:    readLimit,
		WriteTimeout: writeTimeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

// Dial 建立连接
func (d *GorillaDialer) Dial(ctx context.Context, url string, protocols []string) (Conn, error) {
	dialer := *d.dialer
	dialer.Subprotocols = protocols

	ws, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, ErrDial.WithMessagef("wsclient: dial %s: handshake status %d", url, resp.StatusCode).WithError(err)
		}
		return nil, ErrDial.WithMessagef("wsclient: dial %s", url).WithError(err)
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	return &gorillaConn{ws: ws, writeTimeout: d.WriteTimeout}, nil
}

type gorillaConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, translateCloseError(err)
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *gorillaConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *gorillaConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		if c.writeTimeout > 0 {
			deadline = time.Now().Add(c.writeTimeout)
		}
		// 对端可能已断开，关闭帧写失败忽略
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// translateCloseError 统一为 *CloseError，无关闭帧的读错误按 1006 处理
func translateCloseError(err error) error {
	if ce, ok := err.(*websocket.CloseError); ok {
		return &CloseError{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return &CloseError{Code: CloseAbnormalClosure, Reason: err.Error(), Err: err}
}
