package hub

import "sync/atomic"

type counters struct {
	accepted    atomic.Int64
	rejected    atomic.Int64
	messagesIn  atomic.Int64
	messagesOut atomic.Int64
	duplicates  atomic.Int64
	invalid     atomic.Int64
	dropped     atomic.Int64
	writeErrors atomic.Int64
}

// Stats 中继运行统计
type Stats struct {
	Sessions    int            `json:"sessions"`
	ByChannel   map[string]int `json:"by_channel"`
	Accepted    int64          `json:"accepted"`
	Rejected    int64          `json:"rejected"`
	MessagesIn  int64          `json:"messages_in"`
	MessagesOut int64          `json:"messages_out"`
	Duplicates  int64          `json:"duplicates"`
	Invalid     int64          `json:"invalid"`
	Dropped     int64          `json:"dropped"`
	WriteErrors int64          `json:"write_errors"`
}
