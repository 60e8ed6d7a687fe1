// Package hub 是看板客户端对接的 WebSocket 中继端。
//
// 每个连接对应一个 Session，读写各一个协程；入站消息按 type 路由，
// 出站消息按主题广播。客户端重连后会补发离线期间排队的消息，
// Hub 按 correlation_id 去重，避免同一操作执行两次。
package hub

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/errors"
	"github.com/tokmz/warroom/pkg/logger"
)

// 主题前缀
const (
	alertTopicPrefix  = "alerts:"
	metricTopicPrefix = "metrics:"
)

// AlertTopic 平台告警主题
func AlertTopic(platform string) string { return alertTopicPrefix + strings.ToLower(platform) }

// MetricTopic 分析指标主题
func MetricTopic(metric string) string { return metricTopicPrefix + metric }

// Hub 会话管理与消息分发
type Hub struct {
	cfg      *Config
	log      logger.Logger
	upgrader *websocket.Upgrader
	router   *Router
	events   *EventBus
	dedup    *dedup
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup

	stats counters
}

// New 创建 Hub 并注册内置处理器
func New(log logger.Logger, opts ...Option) (*Hub, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	h := &Hub{
		cfg:      cfg,
		log:      log.Named("hub"),
		upgrader: newUpgrader(cfg),
		router:   NewRouter(),
		events:   newEventBus(4, 1024),
		dedup:    newDedup(cfg.DedupCapacity, cfg.DedupFalsePositive),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	h.registerBuiltins()
	return h, nil
}

// Router 入站路由
func (h *Hub) Router() *Router { return h.router }

// Register 注册入站处理器
func (h *Hub) Register(typ string, handler Handler) error {
	return h.router.Register(typ, handler)
}

// Use 追加入站中间件
func (h *Hub) Use(mw ...Middleware) { h.router.Use(mw...) }

// On 订阅会话事件
func (h *Hub) On(t EventType, fn EventHandler) { h.events.Subscribe(t, fn) }

// ServeWS 升级连接并启动会话，会话结束前不阻塞
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, opts ...SessionOption) error {
	h.mu.RLock()
	closed, full := h.closed, len(h.sessions) >= h.cfg.MaxSessions
	h.mu.RUnlock()
	if closed {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return ErrHubClosed
	}
	if full {
		h.stats.rejected.Add(1)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return ErrTooManySessions
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.stats.rejected.Add(1)
		return err
	}
	s := newSession(conn, h, opts...)

	h.mu.Lock()
	switch {
	case h.closed:
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
		return ErrHubClosed
	case len(h.sessions) >= h.cfg.MaxSessions:
		h.mu.Unlock()
		h.stats.rejected.Add(1)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"), time.Now().Add(time.Second))
		_ = conn.Close()
		return ErrTooManySessions
	}
	h.sessions[s.ID] = s
	h.wg.Add(1)
	h.mu.Unlock()

	h.stats.accepted.Add(1)
	s.log.Info("session opened", zap.String("remote", s.RemoteAddr()))
	h.events.Publish(Event{Type: EventSessionOpened, SessionID: s.ID, Channel: s.Channel, Time: h.now()})
	_ = s.Send("connection_status", map[string]any{
		"status":     "connected",
		"session_id": s.ID,
		"channel":    s.Channel,
	})

	go func() {
		defer h.wg.Done()
		s.run()
	}()
	return nil
}

func (h *Hub) dispatch(s *Session, frame []byte) error {
	h.stats.messagesIn.Add(1)

	req, err := parseRequest(frame)
	if err != nil {
		h.stats.invalid.Add(1)
		s.log.Debug("invalid message", zap.Error(err))
		_ = s.SendError("invalid_message", "invalid message format", "")
		return err
	}
	if h.dedup.seen(req.CorrelationID) {
		h.stats.duplicates.Add(1)
		s.log.Debug("duplicate message dropped",
			zap.String("type", req.Type),
			zap.String("correlation_id", req.CorrelationID),
		)
		return nil
	}
	h.events.Publish(Event{
		Type:        EventMessageReceived,
		SessionID:   s.ID,
		Channel:     s.Channel,
		MessageType: req.Type,
		Time:        h.now(),
	})

	if err := h.router.Route(s, req); err != nil {
		code := "handler_error"
		switch {
		case errors.Is(err, ErrHandlerNotFound):
			code = "unknown_type"
		case errors.Is(err, ErrInvalidMessage):
			code = "invalid_message"
		}
		s.log.Warn("handle message failed", zap.String("type", req.Type), zap.Error(err))
		_ = s.SendError(code, err.Error(), req.CorrelationID)
	}
	return nil
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	s.log.Info("session closed")
	h.events.Publish(Event{Type: EventSessionClosed, SessionID: s.ID, Channel: s.Channel, Time: h.now()})
}

func (h *Hub) snapshot(filter func(*Session) bool) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if filter == nil || filter(s) {
			out = append(out, s)
		}
	}
	return out
}

// Broadcast 发送给订阅了 topic 的会话，返回成功入队的数量
func (h *Hub) Broadcast(topic, typ string, data any) (int, error) {
	return h.broadcast(func(s *Session) bool { return s.Subscribed(topic) }, typ, data)
}

// BroadcastAll 发送给全部会话
func (h *Hub) BroadcastAll(typ string, data any) (int, error) {
	return h.broadcast(nil, typ, data)
}

func (h *Hub) broadcast(filter func(*Session) bool, typ string, data any) (int, error) {
	frame, err := encodeEnvelope(typ, data, h.now())
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, s := range h.snapshot(filter) {
		if err := s.SendBytes(frame); err != nil {
			s.log.Debug("broadcast dropped", zap.String("type", typ), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

// Session 按 ID 查找会话
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Count 当前会话数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Stats 运行统计
func (h *Hub) Stats() Stats {
	st := Stats{
		ByChannel:   make(map[string]int),
		Accepted:    h.stats.accepted.Load(),
		Rejected:    h.stats.rejected.Load(),
		MessagesIn:  h.stats.messagesIn.Load(),
		MessagesOut: h.stats.messagesOut.Load(),
		Duplicates:  h.stats.duplicates.Load(),
		Invalid:     h.stats.invalid.Load(),
		Dropped:     h.stats.dropped.Load(),
		WriteErrors: h.stats.writeErrors.Load(),
	}
	for _, s := range h.snapshot(nil) {
		st.Sessions++
		st.ByChannel[s.Channel]++
	}
	return st
}

// Shutdown 以 1001 关闭全部会话并等待协程退出
//
// 客户端收到 1001 会按重连策略重试，新的中继实例起来后自动恢复。
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	for _, s := range h.snapshot(nil) {
		s.Close(websocket.CloseGoingAway, "relay shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	h.events.Close()
	return err
}

// registerBuiltins ping、订阅类消息由 Hub 自己处理
func (h *Hub) registerBuiltins() {
	_ = h.router.Register(TypePing, func(s *Session, _ *Request) error {
		return s.SendBytes([]byte(`{"type":"pong","timestamp":` + itoa(h.now().UnixMilli()) + `}`))
	})
	_ = h.router.Register(TypePong, func(*Session, *Request) error { return nil })

	_ = Handle(h.router, TypeSubscribe, func(s *Session, req *subscribeRequest) error {
		topics := req.topics()
		s.Join(topics...)
		sort.Strings(topics)
		return s.Send("subscribed", map[string]any{"topics": topics})
	})
	_ = Handle(h.router, TypeUnsubscribe, func(s *Session, req *subscribeRequest) error {
		s.Leave(req.topics()...)
		return nil
	})
	_ = Handle(h.router, TypeSubscribeAlerts, func(s *Session, req *subscribeRequest) error {
		topics := make([]string, 0, len(req.Platforms))
		for _, p := range req.Platforms {
			topics = append(topics, AlertTopic(p))
		}
		s.Join(topics...)
		sort.Strings(topics)
		return s.Send("subscribed", map[string]any{"topics": topics})
	})
}

type subscribeRequest struct {
	Channels  []string `json:"channels"`
	Metrics   []string `json:"metrics"`
	Platforms []string `json:"platforms"`
}

func (r *subscribeRequest) topics() []string {
	out := append([]string(nil), r.Channels...)
	for _, m := range r.Metrics {
		out = append(out, MetricTopic(m))
	}
	for _, p := range r.Platforms {
		out = append(out, AlertTopic(p))
	}
	return out
}
