package wsclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// fakeConn 内存连接，服务端行为由测试驱动
type fakeConn struct {
	inbox  chan []byte
	remote chan *CloseError
	closed chan struct{}

	mu        sync.Mutex
	writes    [][]byte
	writeErr  error
	closeOnce sync.Once
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan []byte, 16),
		remote: make(chan *CloseError, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.inbox:
		return f, nil
	case ce := <-c.remote:
		return nil, ce
	case <-c.closed:
		return nil, &CloseError{Code: CloseAbnormalClosure, Reason: "use of closed connection"}
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// push 模拟服务端下发一帧
func (c *fakeConn) push(frame string) { c.inbox <- []byte(frame) }

// serverClose 模拟服务端以 code 关闭连接
func (c *fakeConn) serverClose(code int) { c.remote <- &CloseError{Code: code} }

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func (c *fakeConn) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// WrittenTypes 已写出帧的 type 字段
func (c *fakeConn) WrittenTypes() []string {
	var types []string
	for _, w := range c.Writes() {
		var v struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(w, &v)
		types = append(types, v.Type)
	}
	return types
}

func (c *fakeConn) CloseCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer 记录拨号次数，fail 返回非 nil 时拨号失败
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	fail     func(ctx context.Context, n int) error
	writeErr error
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 32)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string, protocols []string) (Conn, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	fail, writeErr := d.fail, d.writeErr
	d.mu.Unlock()

	if fail != nil {
		if err := fail(ctx, n); err != nil {
			return nil, err
		}
	}
	conn := newFakeConn()
	conn.writeErr = writeErr
	d.conns <- conn
	return conn, nil
}

func (d *fakeDialer) setFail(fn func(ctx context.Context, n int) error) {
	d.mu.Lock()
	d.fail = fn
	d.mu.Unlock()
}

// setWriteErr 之后建立的连接写入都失败
func (d *fakeDialer) setWriteErr(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// next 等待下一条成功建立的连接
func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
		return nil
	}
}

type fakeTimer struct {
	d time.Duration
	f func()

	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fire 在调用方协程同步执行回调
func (t *fakeTimer) fire() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.f()
}

func (t *fakeTimer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeTimers 替代 time.AfterFunc，由测试决定何时触发
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
	added  chan *fakeTimer
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{added: make(chan *fakeTimer, 64)}
}

func (ft *fakeTimers) AfterFunc(d time.Duration, f func()) timer {
	t := &fakeTimer{d: d, f: f}
	ft.mu.Lock()
	ft.timers = append(ft.timers, t)
	ft.mu.Unlock()
	ft.added <- t
	return t
}

func (ft *fakeTimers) Count() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.timers)
}

func (ft *fakeTimers) next(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case tm := <-ft.added:
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect timer")
		return nil
	}
}

// none 断言 wait 内没有新的定时器
func (ft *fakeTimers) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case tm := <-ft.added:
		t.Fatalf("unexpected reconnect timer scheduled (delay %v)", tm.d)
	case <-time.After(wait):
	}
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *fakeDialer, *fakeTimers) {
	t.Helper()
	d := newFakeDialer()
	ft := newFakeTimers()
	base := []Option{
		WithName("test"),
		WithDialer(d),
		WithHeartbeatInterval(time.Hour),
	}
	c, err := New("ws://warroom.test/ws", append(base, opts...)...)
	require.NoError(t, err)
	c.afterFunc = ft.AfterFunc
	return c, d, ft
}

// stateRecorder 按顺序记录状态变化
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func recordStates(c *Client) *stateRecorder {
	r := &stateRecorder{}
	c.Events(func(e Event) {
		if e.Type == EventStateChange {
			r.mu.Lock()
			r.states = append(r.states, e.To)
			r.mu.Unlock()
		}
	})
	return r
}

func (r *stateRecorder) States(c *Client) []State {
	c.events.flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, 2*time.Second, 5*time.Millisecond,
		"state never became %s (now %s)", want, c.State())
}
