package backend

import (
	"net/url"
	"strconv"
	"strings"
)

// InsightsParams 广告洞察查询参数
type InsightsParams struct {
	DatePreset      string // today/yesterday/last_7d/last_30d
	AccountIDs      string
	IncludeInactive bool
	// RealTime 跳过查询缓存
	RealTime bool
}

func (p InsightsParams) values() url.Values {
	v := url.Values{}
	if p.DatePreset != "" {
		v.Set("date_preset", p.DatePreset)
	}
	if p.AccountIDs != "" {
		v.Set("account_ids", p.AccountIDs)
	}
	if p.IncludeInactive {
		v.Set("include_inactive", "true")
	}
	if p.RealTime {
		v.Set("real_time", "true")
	}
	return v
}

// AlertParams 告警查询参数
type AlertParams struct {
	Severity string
	Platform Platform
	Limit    int
}

func (p AlertParams) values() url.Values {
	v := url.Values{}
	if p.Severity != "" {
		v.Set("severity", p.Severity)
	}
	if p.Platform != "" {
		v.Set("platform", string(p.Platform))
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	return v
}

// PlatformParams 单平台指标查询参数
type PlatformParams struct {
	DatePreset string
	AccountID  string
}

func (p PlatformParams) values(platform Platform) url.Values {
	v := url.Values{}
	v.Set("platform", string(platform))
	if p.DatePreset != "" {
		v.Set("date_preset", p.DatePreset)
	}
	if p.AccountID != "" {
		v.Set("account_id", p.AccountID)
	}
	return v
}

// ActivityParams 活动流查询参数
type ActivityParams struct {
	Limit    int
	Hours    int
	Types    []string
	Severity string
}

func (p ActivityParams) values() url.Values {
	v := url.Values{}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Hours > 0 {
		v.Set("hours", strconv.Itoa(p.Hours))
	}
	if len(p.Types) > 0 {
		v.Set("types", strings.Join(p.Types, ","))
	}
	if p.Severity != "" {
		v.Set("severity", p.Severity)
	}
	return v
}
