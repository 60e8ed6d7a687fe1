package hub

import (
	"sync"
)

// Handler 处理一类入站消息
type Handler func(*Session, *Request) error

// NextFunc 调用链的下一环
type NextFunc func() error

// Middleware 处理器中间件
type Middleware func(*Session, *Request, NextFunc) error

// Router 按 type 分发入站消息
type Router struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	middleware []Middleware
}

// NewRouter 创建路由
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register 注册处理器，同一类型只能注册一次
func (r *Router) Register(typ string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[typ]; ok {
		return ErrHandlerExists.WithMessagef("handler for %q already registered", typ)
	}
	r.handlers[typ] = h
	return nil
}

// Use 追加中间件，按添加顺序执行
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	r.middleware = append(r.middleware, mw...)
	r.mu.Unlock()
}

// Route 执行中间件链和处理器
func (r *Router) Route(s *Session, req *Request) error {
	r.mu.RLock()
	h, ok := r.handlers[req.Type]
	chain := r.middleware
	r.mu.RUnlock()

	if !ok {
		return ErrHandlerNotFound.WithMessagef("unknown message type %q", req.Type)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		mw, next := chain[i], h
		h = func(s *Session, req *Request) error {
			return mw(s, req, func() error { return next(s, req) })
		}
	}
	return h(s, req)
}

// Handle 注册带类型的处理器，整帧解析为 Req
func Handle[Req any](r *Router, typ string, fn func(*Session, *Req) error) error {
	return r.Register(typ, func(s *Session, req *Request) error {
		var in Req
		if err := req.Bind(&in); err != nil {
			return err
		}
		return fn(s, &in)
	})
}
