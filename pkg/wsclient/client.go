package wsclient

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

const tracerName = "github.com/tokmz/warroom/pkg/wsclient"

// timer 可停止的定时器，Stop 返回 true 表示回调不会再执行
type timer interface {
	Stop() bool
}

// Client 自动重连的 WebSocket 客户端
//
// 所有方法可并发调用。事件回调和订阅者在同一个分发协程上按顺序执行，
// 回调中可以调用 Send/Connect/Disconnect，但不能调用 Close。
type Client struct {
	url      string
	cfg      *Config
	log      logger.Logger
	dialer   Dialer
	metrics  Metrics
	tracer   trace.Tracer
	queue    *Queue
	registry *Registry
	events   *dispatcher

	afterFunc func(d time.Duration, f func()) timer
	now       func() time.Time

	mu            sync.Mutex
	state         State
	epoch         uint64 // 每次建连/断开自增，旧回调据此丢弃
	attempts      int
	closed        bool
	conn          Conn
	cancelDial    context.CancelFunc
	timer         timer
	hbStop        chan struct{}
	lastConnected time.Time
	lastPong      time.Time
	lastTraffic   time.Time
	lastErr       error
	lastMessage   Message

	wg sync.WaitGroup
}

// New 创建客户端，不会立即建连
func New(url string, opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if url == "" {
		return nil, ErrInvalidConfig.WithMessage("wsclient: url is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, ErrInvalidConfig.WithError(err)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(zap.String("channel", cfg.Name), zap.String("url", url))

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = NewGorillaDialer(cfg.Header, cfg.HandshakeTimeout, cfg.MaxMessageSize, cfg.WriteTimeout)
	}

	c := &Client{
		url:     url,
		cfg:     cfg,
		log:     log,
		dialer:  dialer,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
		queue:   NewQueue(cfg.QueueSize),
		events:  newDispatcher(log),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		now: time.Now,
	}
	c.registry = NewRegistry(log)
	c.registry.onError = func(topic string, _ error) {
		c.metrics.IncrementHandlerErrors(topic)
	}

	for _, hook := range cfg.hooks {
		hook(c)
	}
	return c, nil
}

// Connect 开始建连
//
// Connecting/Connected 时无操作；Reconnecting 时取消等待立即重连；
// Disconnected 时重置重连计数。
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	switch c.state {
	case StateConnecting, StateConnected:
		return nil
	case StateReconnecting:
		c.stopTimerLocked()
	case StateDisconnected:
		c.attempts = 0
	}
	c.startDialLocked()
	return nil
}

// Disconnect 手动断开，取消所有待执行的重连、建连和心跳
// 重复调用无副作用
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
	return nil
}

// Close 断开连接并等待所有后台协程退出，之后的操作返回 ErrClientClosed
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.disconnectLocked()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	c.events.close()
	return nil
}

func (c *Client) disconnectLocked() {
	if c.state == StateDisconnected && c.conn == nil && c.timer == nil && c.cancelDial == nil {
		return
	}
	c.stopTimerLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.teardownLocked(CloseNormalClosure, "manual disconnect", nil)
	c.attempts = 0
	c.setStateLocked(StateDisconnected)
	c.log.Info("wsclient: disconnected manually")
}

func (c *Client) startDialLocked() {
	c.epoch++
	epoch := c.epoch
	c.setStateLocked(StateConnecting)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	c.cancelDial = cancel

	c.wg.Add(1)
	go c.dial(ctx, cancel, epoch, c.attempts)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, epoch uint64, attempt int) {
	defer c.wg.Done()
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "wsclient.dial", trace.WithAttributes(
		attribute.String("ws.channel", c.cfg.Name),
		attribute.String("ws.url", c.url),
		attribute.Int("ws.attempt", attempt),
	))
	conn, err := c.dialer.Dial(ctx, c.url, c.cfg.Protocols)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.closed {
		if conn != nil {
			_ = conn.Close(CloseNormalClosure, "stale connection")
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.log.Warn("wsclient: dial failed", zap.Int("attempt", attempt), zap.Error(err))
		c.handleFailureLocked(err)
		return
	}
	c.openLocked(conn)
}

// openLocked 连接建立：按序补发队列、启动读循环和心跳，补发成功后才重置计数
func (c *Client) openLocked(conn Conn) {
	now := c.now()
	c.conn = conn
	c.lastConnected = now
	c.lastTraffic = now
	c.lastErr = nil
	c.setStateLocked(StateConnected)
	c.metrics.IncrementConnects()

	epoch := c.epoch
	c.hbStop = make(chan struct{})
	c.wg.Add(2)
	go c.readLoop(conn, epoch)
	go c.heartbeat(epoch, c.hbStop)

	pending := c.queue.DrainAll()
	for i, m := range pending {
		if err := conn.WriteMessage(m.Frame); err != nil {
			c.queue.Requeue(pending[i:])
			c.metrics.SetQueued(c.queue.Len())
			c.log.Warn("wsclient: flush queued messages failed",
				zap.Int("flushed", i), zap.Int("remaining", len(pending)-i), zap.Error(err))
			c.dropConnLocked(err)
			return
		}
		c.metrics.IncrementMessagesOut(m.Type)
	}
	c.metrics.SetQueued(c.queue.Len())
	c.attempts = 0

	c.log.Info("wsclient: connected", zap.Int("flushed", len(pending)))
	c.events.emit(Event{Type: EventConnected, To: StateConnected})
}

func (c *Client) readLoop(conn Conn, epoch uint64) {
	defer c.wg.Done()
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			c.handleClosed(epoch, err)
			return
		}
		c.handleFrame(epoch, conn, frame)
	}
}

// handleClosed 对端关闭或读失败；1000 视为正常关闭不重连
func (c *Client) handleClosed(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.closed {
		return
	}
	code := closeCodeOf(err)
	c.teardownLocked(CloseNormalClosure, "", err)

	if code == CloseNormalClosure {
		c.log.Info("wsclient: closed by server")
		c.setStateLocked(StateDisconnected)
		return
	}
	c.log.Warn("wsclient: connection lost", zap.Int("code", code), zap.Error(err))
	c.handleFailureLocked(err)
}

// dropConnLocked 本端判定连接不可用（写失败、心跳超时），按异常关闭处理
func (c *Client) dropConnLocked(err error) {
	c.teardownLocked(CloseGoingAway, "connection lost", err)
	c.handleFailureLocked(err)
}

// teardownLocked 释放当前连接和心跳，使旧 epoch 的回调全部失效
func (c *Client) teardownLocked(code int, reason string, cause error) {
	c.epoch++
	if c.hbStop != nil {
		close(c.hbStop)
		c.hbStop = nil
	}
	if c.conn == nil {
		return
	}
	conn := c.conn
	c.conn = nil
	_ = conn.Close(code, reason)
	c.metrics.IncrementDisconnects()
	c.events.emit(Event{Type: EventDisconnected, From: c.state, Err: cause})
}

// handleFailureLocked 建连失败或连接异常断开后决定是否重连
func (c *Client) handleFailureLocked(err error) {
	c.lastErr = err
	c.events.emit(Event{Type: EventError, Err: err})

	if !c.cfg.AutoReconnect {
		c.setStateLocked(StateDisconnected)
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		exhausted := ErrMaxReconnectAttempts.WithError(err)
		c.lastErr = exhausted
		c.log.Error("wsclient: giving up reconnecting", zap.Int("attempts", c.attempts), zap.Error(err))
		c.setStateLocked(StateDisconnected)
		c.events.emit(Event{Type: EventError, Attempt: c.attempts, Err: exhausted})
		return
	}

	c.attempts++
	attempt := c.attempts
	delay := c.cfg.Policy.Delay(attempt)
	c.setStateLocked(StateReconnecting)

	epoch := c.epoch
	c.wg.Add(1)
	c.timer = c.afterFunc(delay, func() {
		defer c.wg.Done()
		c.fireReconnect(epoch)
	})
	c.log.Info("wsclient: reconnect scheduled", zap.Int("attempt", attempt), zap.Duration("delay", delay))
	c.events.emit(Event{Type: EventReconnecting, Attempt: attempt, Delay: delay, Err: err})
}

func (c *Client) fireReconnect(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.closed || c.state != StateReconnecting {
		return
	}
	c.timer = nil
	c.metrics.IncrementReconnectAttempts()
	c.events.emit(Event{Type: EventReconnectAttempt, Attempt: c.attempts})
	c.startDialLocked()
}

func (c *Client) stopTimerLocked() {
	if c.timer == nil {
		return
	}
	if c.timer.Stop() {
		c.wg.Done()
	}
	c.timer = nil
}

func (c *Client) setStateLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.log.Debug("wsclient: state change", zap.Stringer("from", from), zap.Stringer("to", to))
	c.events.emit(Event{Type: EventStateChange, From: from, To: to})
}

func (c *Client) handleFrame(epoch uint64, conn Conn, frame []byte) {
	msg, decodeErr := Decode(frame)

	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		return
	}
	now := c.now()
	c.lastTraffic = now
	c.metrics.IncrementMessagesIn(string(msg.Type()))
	if decodeErr != nil {
		c.metrics.IncrementDecodeErrors()
		c.log.Warn("wsclient: malformed message", zap.String("type", string(msg.Type())), zap.Error(decodeErr))
	}

	switch m := msg.(type) {
	case *PingMessage:
		if err := conn.WriteMessage(pongFrame); err != nil {
			c.dropConnLocked(err)
		}
		return
	case *PongMessage:
		c.lastPong = now
		return
	case *UnknownMessage:
		c.lastMessage = msg
		if decodeErr == nil {
			c.log.Debug("wsclient: ignoring unknown message type", zap.String("type", string(m.Type())))
		}
		return
	case *ServerErrorMessage:
		c.lastErr = m.Err
		c.log.Warn("wsclient: server error", zap.String("message", m.Err.Message), zap.String("code", m.Err.Code))
		c.events.emit(Event{Type: EventError, Err: m.Err})
	}

	c.lastMessage = msg
	c.events.submit(func() {
		c.registry.Publish(string(msg.Type()), msg)
		c.registry.Publish(TopicAll, msg)
	})
}

func (c *Client) heartbeat(epoch uint64, stop <-chan struct{}) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !c.beat(epoch) {
				return
			}
		}
	}
}

// beat 发送一次心跳；开启 PongTimeout 时先检查最近是否有流量
func (c *Client) beat(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch || c.state != StateConnected || c.conn == nil {
		return false
	}
	now := c.now()
	if c.cfg.PongTimeout > 0 {
		if silent := now.Sub(c.lastTraffic); silent > c.cfg.PongTimeout {
			c.log.Warn("wsclient: heartbeat timeout", zap.Duration("silent", silent))
			c.dropConnLocked(ErrHeartbeatTimeout.WithMessagef("wsclient: no traffic for %v", silent))
			return false
		}
	}
	if err := c.conn.WriteMessage(pingFrame(now)); err != nil {
		c.dropConnLocked(err)
		return false
	}
	c.metrics.IncrementMessagesOut(string(TypePing))
	return true
}

// Send 发送 {"type": msgType, ...payload}；未连接时进入队列，连接后按序补发
func (c *Client) Send(msgType string, payload any) error {
	out, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	return c.send(out)
}

// SendJSON 发送自带 type 字段的消息
func (c *Client) SendJSON(v any) error {
	out, err := EncodeJSON(v)
	if err != nil {
		return err
	}
	return c.send(out)
}

// SubscribeToMetrics 请求服务端推送指定指标
func (c *Client) SubscribeToMetrics(metrics []string) error {
	return c.Send("subscribe", map[string]any{"metrics": metrics})
}

func (c *Client) send(out Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.state != StateConnected || c.conn == nil {
		c.enqueueLocked(out)
		return nil
	}
	if err := c.conn.WriteMessage(out.Frame); err != nil {
		c.enqueueLocked(out)
		c.dropConnLocked(err)
		return nil
	}
	c.metrics.IncrementMessagesOut(out.Type)
	return nil
}

func (c *Client) enqueueLocked(out Outbound) {
	if c.queue.Enqueue(out) {
		c.metrics.IncrementDropped()
		c.log.Warn("wsclient: queue full, dropped oldest message", zap.Int("capacity", c.queue.Cap()))
	}
	c.metrics.SetQueued(c.queue.Len())
}

// Subscribe 订阅某类型的入站消息，topic 为 TopicAll 时接收全部
func (c *Client) Subscribe(topic string, h Handler) (unsubscribe func()) {
	return c.registry.Subscribe(topic, h)
}

// Events 监听生命周期事件
func (c *Client) Events(fn EventHandler) (cancel func()) {
	return c.events.listen(fn)
}

// Registry 订阅表
func (c *Client) Registry() *Registry {
	return c.registry
}

// URL 连接地址
func (c *Client) URL() string {
	return c.url
}

// State 当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected 是否已连接
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// IsConnecting 是否正在建连
func (c *Client) IsConnecting() bool {
	return c.State() == StateConnecting
}

// LastMessage 最近一条入站业务消息
func (c *Client) LastMessage() Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMessage
}

// Status 连接快照
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:             c.state,
		URL:               c.url,
		Protocols:         append([]string(nil), c.cfg.Protocols...),
		ReconnectAttempts: c.attempts,
		LastConnected:     c.lastConnected,
		LastError:         c.lastErr,
		QueuedMessages:    c.queue.Len(),
		DroppedMessages:   c.queue.Dropped(),
		LastPong:          c.lastPong,
	}
}
