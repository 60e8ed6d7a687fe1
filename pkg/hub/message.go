package hub

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// 中继识别的入站类型
const (
	TypePing               = "ping"
	TypePong               = "pong"
	TypeError              = "error"
	TypeSubscribe          = "subscribe"
	TypeUnsubscribe        = "unsubscribe"
	TypeSubscribeAlerts    = "subscribe_alerts"
	TypeDismissAlert       = "dismiss_alert"
	TypeRequestSpendUpdate = "request_spend_update"
)

// Request 入站消息，字段与 type 平铺在同一层
type Request struct {
	Type          string `json:"type"`
	CorrelationID string `json:"correlation_id,omitempty"`

	raw []byte
}

// parseRequest 兼容 correlationId 写法
func parseRequest(frame []byte) (*Request, error) {
	var head struct {
		Type          string `json:"type"`
		CorrelationID string `json:"correlation_id"`
		CamelID       string `json:"correlationId"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return nil, ErrInvalidMessage.WithError(err)
	}
	if head.Type == "" {
		return nil, ErrInvalidMessage.WithMessage("消息缺少 type 字段")
	}
	id := head.CorrelationID
	if id == "" {
		id = head.CamelID
	}
	return &Request{Type: head.Type, CorrelationID: id, raw: frame}, nil
}

// Bind 把整帧解析到 v
func (r *Request) Bind(v any) error {
	if err := json.Unmarshal(r.raw, v); err != nil {
		return ErrInvalidMessage.WithMessagef("%s: 字段格式错误", r.Type).WithError(err)
	}
	return nil
}

// Raw 原始帧
func (r *Request) Raw() []byte { return r.raw }

// Envelope 出站消息 {"type", "data", "timestamp"}
type Envelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

func encodeEnvelope(typ string, data any, now time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Type: typ, Data: data, Timestamp: now.UTC().Format(time.RFC3339Nano)})
}

type errorFrame struct {
	Type          string `json:"type"`
	Message       string `json:"message"`
	Code          string `json:"code,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Timestamp     string `json:"timestamp"`
}

func encodeError(code, message, correlationID string, now time.Time) []byte {
	b, _ := json.Marshal(errorFrame{
		Type:          TypeError,
		Message:       message,
		Code:          code,
		CorrelationID: correlationID,
		Timestamp:     now.UTC().Format(time.RFC3339Nano),
	})
	return b
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
