package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/warroom/pkg/wsclient"
)

type pipeConn struct {
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes []map[string]any
}

func newPipeConn() *pipeConn {
	return &pipeConn{inbox: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	case <-c.closed:
		return nil, &wsclient.CloseError{Code: wsclient.CloseAbnormalClosure}
	}
}

func (c *pipeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	c.mu.Lock()
	c.writes = append(c.writes, v)
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) Close(int, string) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) push(frame string) { c.inbox <- []byte(frame) }

// written 按 type 过滤已写出的帧
func (c *pipeConn) written(msgType string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, w := range c.writes {
		if w["type"] == msgType {
			out = append(out, w)
		}
	}
	return out
}

type pipeDialer struct {
	mu    sync.Mutex
	urls  []string
	conns chan *pipeConn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan *pipeConn, 8)}
}

func (d *pipeDialer) Dial(_ context.Context, url string, _ []string) (wsclient.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	c := newPipeConn()
	d.conns <- c
	return c, nil
}

func (d *pipeDialer) next(t *testing.T) *pipeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no dial")
		return nil
	}
}

func (d *pipeDialer) lastURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.urls) == 0 {
		return ""
	}
	return d.urls[len(d.urls)-1]
}

// testOptions 关闭自动重连并拉长心跳，测试只观察一条连接
func testOptions(d wsclient.Dialer) []wsclient.Option {
	return []wsclient.Option{
		wsclient.WithDialer(d),
		wsclient.WithAutoReconnect(false),
		wsclient.WithHeartbeatInterval(time.Hour),
	}
}
