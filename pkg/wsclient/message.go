package wsclient

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// MessageType 消息类型标签
type MessageType string

const (
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
	TypeError            MessageType = "error"
	TypeMetricsUpdate    MessageType = "metrics_update"
	TypeActivityFeed     MessageType = "activity_feed"
	TypeAlertUpdate      MessageType = "alert_update"
	TypeSpendAlert       MessageType = "spend_alert"
	TypeSpendUpdate      MessageType = "spend_update"
	TypeCampaignStatus   MessageType = "campaign_status"
	TypeConnectionStatus MessageType = "connection_status"
	TypeMetaMetrics      MessageType = "meta_metrics"
	TypeGoogleMetrics    MessageType = "google_metrics"
	TypeCrisisAlert      MessageType = "crisis_alert"
	TypeSentimentUpdate  MessageType = "sentiment_update"
	TypeRaw              MessageType = "raw"
)

// Message 入站消息，具体类型见各 *Message 变体
type Message interface {
	Type() MessageType
	Time() time.Time
	// Data 原始 data 字段
	Data() json.RawMessage
}

// Envelope 所有变体共享的信封字段
type Envelope struct {
	Kind      MessageType
	Timestamp time.Time
	Payload   json.RawMessage
}

func (e Envelope) Type() MessageType     { return e.Kind }
func (e Envelope) Time() time.Time       { return e.Timestamp }
func (e Envelope) Data() json.RawMessage { return e.Payload }

type (
	PingMessage struct{ Envelope }
	PongMessage struct{ Envelope }

	// ServerErrorMessage 服务端 {type:"error"} 消息
	ServerErrorMessage struct {
		Envelope
		Err *ProtocolError
	}

	// MetricsUpdateMessage 分析面板指标，字段由服务端决定
	MetricsUpdateMessage struct {
		Envelope
		Metrics map[string]any
	}

	ActivityFeedMessage struct {
		Envelope
		Activity Activity
	}

	AlertUpdateMessage struct {
		Envelope
		Alert map[string]any
	}

	SpendAlertMessage struct {
		Envelope
		Alert AdAlert
	}

	SpendUpdateMessage struct {
		Envelope
		Update SpendUpdate
	}

	CampaignStatusMessage struct {
		Envelope
		Status map[string]any
	}

	ConnectionStatusMessage struct {
		Envelope
		Status map[string]any
	}

	MetaMetricsMessage struct {
		Envelope
		Metrics AdMetrics
	}

	GoogleMetricsMessage struct {
		Envelope
		Metrics AdMetrics
	}

	CrisisAlertMessage struct {
		Envelope
		Alert CrisisAlert
	}

	SentimentUpdateMessage struct {
		Envelope
		Sentiment SentimentData
	}

	// RawMessage 非 JSON 文本帧
	RawMessage struct {
		Envelope
		Text string
	}

	// UnknownMessage 未识别的类型，或 data 与类型不匹配
	UnknownMessage struct {
		Envelope
		Frame []byte
	}
)

// 不带时区的 ISO 时间按 UTC 解析
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// Timestamp 兼容 RFC3339 字符串和 Unix 毫秒数字
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return fmt.Errorf("invalid timestamp %q", s)
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %s", b)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// inboundEnvelope 除 type 外都保留原始字节，字段类型不符不影响整帧解析
type inboundEnvelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
	Code      json.RawMessage `json:"code"`
}

// Decode 把入站帧转换为对应的消息变体
//
// 非 JSON 帧返回 *RawMessage；未知类型返回 *UnknownMessage；
// 已知类型但 data 无法解析时返回 *UnknownMessage 和包装了 ErrDecode 的错误。
func Decode(frame []byte) (Message, error) {
	var in inboundEnvelope
	if err := json.Unmarshal(frame, &in); err != nil {
		return &RawMessage{
			Envelope: Envelope{Kind: TypeRaw, Timestamp: time.Now()},
			Text:     string(frame),
		}, nil
	}

	var ts Timestamp
	if len(in.Timestamp) > 0 {
		_ = ts.UnmarshalJSON(in.Timestamp)
	}
	env := Envelope{Kind: in.Type, Timestamp: ts.Time, Payload: in.Data}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	unknown := func(err error) (Message, error) {
		u := &UnknownMessage{Envelope: env, Frame: append([]byte(nil), frame...)}
		if err != nil {
			return u, ErrDecode.WithMessage(fmt.Sprintf("wsclient: decode %q: %v", in.Type, err)).WithError(err)
		}
		return u, nil
	}

	switch in.Type {
	case TypePing:
		return &PingMessage{env}, nil
	case TypePong:
		return &PongMessage{env}, nil
	case TypeError:
		return &ServerErrorMessage{Envelope: env, Err: decodeProtocolError(in)}, nil
	case TypeMetricsUpdate:
		m := &MetricsUpdateMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Metrics); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeActivityFeed:
		m := &ActivityFeedMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Activity); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeAlertUpdate:
		m := &AlertUpdateMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Alert); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeSpendAlert:
		m := &SpendAlertMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Alert); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeSpendUpdate:
		m := &SpendUpdateMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Update); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeCampaignStatus:
		m := &CampaignStatusMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Status); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeConnectionStatus:
		m := &ConnectionStatusMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Status); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeMetaMetrics:
		m := &MetaMetricsMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Metrics); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeGoogleMetrics:
		m := &GoogleMetricsMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Metrics); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeCrisisAlert:
		m := &CrisisAlertMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Alert); err != nil {
			return unknown(err)
		}
		return m, nil
	case TypeSentimentUpdate:
		m := &SentimentUpdateMessage{Envelope: env}
		if err := decodeData(in.Data, &m.Sentiment); err != nil {
			return unknown(err)
		}
		return m, nil
	default:
		return unknown(nil)
	}
}

// decodeData 空 data 视为零值
func decodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

// decodeProtocolError 兼容 data 为字符串、data.message 以及顶层 message 三种写法
func decodeProtocolError(in inboundEnvelope) *ProtocolError {
	pe := &ProtocolError{Message: scalarString(in.Message), Code: scalarString(in.Code)}
	if s := scalarString(in.Data); s != "" {
		pe.Message = s
	} else {
		var obj struct {
			Message json.RawMessage `json:"message"`
			Code    json.RawMessage `json:"code"`
		}
		if err := json.Unmarshal(in.Data, &obj); err == nil {
			if m := scalarString(obj.Message); m != "" {
				pe.Message = m
			}
			if c := scalarString(obj.Code); c != "" {
				pe.Code = c
			}
		}
	}
	if pe.Message == "" {
		pe.Message = "Unknown error"
	}
	return pe
}

// scalarString 字符串取值，数字取字面量，其余返回空
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(raw)
	}
	return ""
}

// Encode 生成扁平出站帧 {"type": t, ...payload, "correlation_id": uuid}
// payload 可以是 nil、map 或结构体，结构体需编码为 JSON 对象
func Encode(msgType string, payload any) (Outbound, error) {
	if msgType == "" {
		return Outbound{}, ErrEncode.WithMessage("wsclient: message type is required")
	}
	fields := map[string]json.RawMessage{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Outbound{}, ErrEncode.WithError(err)
		}
		if !bytes.Equal(b, []byte("null")) {
			if err := json.Unmarshal(b, &fields); err != nil {
				return Outbound{}, ErrEncode.WithMessage("wsclient: payload must encode to a JSON object").WithError(err)
			}
		}
	}

	typ, _ := json.Marshal(msgType)
	fields["type"] = typ

	id := correlationIDOf(fields)
	if id == "" {
		id = uuid.NewString()
		fields["correlation_id"], _ = json.Marshal(id)
	}

	frame, err := json.Marshal(fields)
	if err != nil {
		return Outbound{}, ErrEncode.WithError(err)
	}
	return Outbound{Type: msgType, Frame: frame, CorrelationID: id, CreatedAt: time.Now()}, nil
}

// EncodeJSON 原样发送 v，v 必须是带 type 字段的 JSON 对象
func EncodeJSON(v any) (Outbound, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Outbound{}, ErrEncode.WithError(err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil || fields == nil {
		return Outbound{}, ErrEncode.WithMessage("wsclient: message must encode to a JSON object")
	}
	var typ string
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &typ)
	}
	if typ == "" {
		return Outbound{}, ErrEncode.WithMessage("wsclient: message type is required")
	}
	return Outbound{Type: typ, Frame: b, CorrelationID: correlationIDOf(fields), CreatedAt: time.Now()}, nil
}

func correlationIDOf(fields map[string]json.RawMessage) string {
	for _, k := range []string{"correlation_id", "correlationId"} {
		if raw, ok := fields[k]; ok {
			var s string
			if json.Unmarshal(raw, &s) == nil && s != "" {
				return s
			}
		}
	}
	return ""
}

// pingFrame 心跳帧 {"type":"ping","timestamp":<ms>}
func pingFrame(now time.Time) []byte {
	return []byte(`{"type":"ping","timestamp":` + strconv.FormatInt(now.UnixMilli(), 10) + `}`)
}

var pongFrame = []byte(`{"type":"pong"}`)
