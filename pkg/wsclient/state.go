package wsclient

import "time"

// State 连接状态
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Unknown"
	}
}

// Status 连接快照
type Status struct {
	State             State
	URL               string
	Protocols         []string
	ReconnectAttempts int
	LastConnected     time.Time
	LastError         error
	QueuedMessages    int
	DroppedMessages   int64
	LastPong          time.Time
}

// Connected 是否已连接
func (s Status) Connected() bool { return s.State == StateConnected }

// Reconnecting 是否处于重连等待或重连中
func (s Status) Reconnecting() bool {
	return s.State == StateReconnecting || (s.State == StateConnecting && s.ReconnectAttempts > 0)
}

// Label 面向界面的连接描述
func (s Status) Label() string {
	switch s.State {
	case StateConnected:
		return "Connected"
	case StateConnecting:
		return "Connecting"
	case StateReconnecting:
		return "Reconnecting"
	}
	if s.LastError != nil {
		return "Error"
	}
	return "Disconnected"
}
