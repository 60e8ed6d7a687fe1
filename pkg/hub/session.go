package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

// Session 一条客户端连接
type Session struct {
	ID          string
	Channel     string
	ConnectedAt time.Time

	conn *websocket.Conn
	hub  *Hub
	log  logger.Logger

	send chan []byte
	done chan struct{}

	topicsMu sync.RWMutex
	topics   map[string]struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeCode int
	closeText string

	invalid atomic.Int32
}

// SessionOption 会话选项
type SessionOption func(*Session)

// WithChannel 会话所属通道，同时加入同名主题
func WithChannel(channel string) SessionOption {
	return func(s *Session) {
		s.Channel = channel
		if channel != "" {
			s.topics[channel] = struct{}{}
		}
	}
}

// WithTopics 初始订阅的主题
func WithTopics(topics ...string) SessionOption {
	return func(s *Session) {
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}
}

func newSession(conn *websocket.Conn, h *Hub, opts ...SessionOption) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		ConnectedAt: h.now(),
		conn:        conn,
		hub:         h,
		send:        make(chan []byte, h.cfg.SendQueueSize),
		done:        make(chan struct{}),
		topics:      make(map[string]struct{}),
		closeCode:   websocket.CloseNormalClosure,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = h.log.With(zap.String("session", s.ID), zap.String("channel", s.Channel))
	return s
}

func (s *Session) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readPump()
	}()
	go func() {
		defer wg.Done()
		s.writePump()
	}()
	wg.Wait()
}

func (s *Session) readPump() {
	defer s.Close(websocket.CloseNormalClosure, "")

	cfg := s.hub.cfg
	s.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug("session read failed", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		if err := s.hub.dispatch(s, frame); err != nil {
			if s.invalid.Add(1) > int32(cfg.MaxInvalidMessages) && cfg.MaxInvalidMessages > 0 {
				s.log.Warn("too many invalid messages, closing session")
				s.Close(websocket.ClosePolicyViolation, "too many invalid messages")
				return
			}
			continue
		}
		s.invalid.Store(0)
	}
}

func (s *Session) writePump() {
	cfg := s.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(s.closeCode, s.closeText))
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.hub.stats.writeErrors.Add(1)
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}
			s.hub.stats.messagesOut.Add(1)
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// SendBytes 非阻塞入队，队列满返回 ErrSendQueueFull
func (s *Session) SendBytes(frame []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.hub.stats.dropped.Add(1)
		return ErrSendQueueFull
	}
}

// Send 发送 {"type", "data", "timestamp"}
func (s *Session) Send(typ string, data any) error {
	frame, err := encodeEnvelope(typ, data, s.hub.now())
	if err != nil {
		return err
	}
	return s.SendBytes(frame)
}

// SendError 发送 {"type":"error"}，连接保持
func (s *Session) SendError(code, message, correlationID string) error {
	return s.SendBytes(encodeError(code, message, correlationID, s.hub.now()))
}

// Join 订阅主题
func (s *Session) Join(topics ...string) {
	s.topicsMu.Lock()
	for _, t := range topics {
		if t != "" {
			s.topics[t] = struct{}{}
		}
	}
	s.topicsMu.Unlock()
}

// Leave 取消订阅
func (s *Session) Leave(topics ...string) {
	s.topicsMu.Lock()
	for _, t := range topics {
		delete(s.topics, t)
	}
	s.topicsMu.Unlock()
}

// Subscribed 是否订阅了主题
func (s *Session) Subscribed(topic string) bool {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	_, ok := s.topics[topic]
	return ok
}

// Topics 当前订阅的主题
func (s *Session) Topics() []string {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// Close 关闭会话，重复调用无副作用
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeCode, s.closeText = code, reason
		s.closed.Store(true)
		close(s.done)
		s.hub.remove(s)
	})
}

// Closed 是否已关闭
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// RemoteAddr 对端地址
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}
