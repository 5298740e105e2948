// Package timeperiod 判断配置的时间段当前是否生效。
package timeperiod

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agent-checker/pkg/config"
)

// AlwaysActive 内置时间段，总是生效
const AlwaysActive = "24X7"

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

type timeRange struct {
	days       map[time.Weekday]bool // 为空表示每天
	start, end int                   // 当天的分钟数，end 不包含
}

func (r timeRange) contains(t time.Time) bool {
	if len(r.days) > 0 && !r.days[t.Weekday()] {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= r.start && minute < r.end
}

// Periods 时间段集合
type Periods struct {
	periods map[string][]timeRange
}

// New 由配置构建时间段
func New(cfg map[string][]config.TimeRangeConfig) (*Periods, error) {
	p := &Periods{periods: make(map[string][]timeRange, len(cfg))}
	for name, ranges := range cfg {
		for _, rc := range ranges {
			r, err := parseRange(rc)
			if err != nil {
				return nil, fmt.Errorf("time period %s: %w", name, err)
			}
			p.periods[name] = append(p.periods[name], r)
		}
	}
	return p, nil
}

func parseRange(rc config.TimeRangeConfig) (timeRange, error) {
	r := timeRange{}
	for _, d := range rc.Days {
		wd, ok := weekdays[strings.ToLower(d)]
		if !ok {
			return r, fmt.Errorf("unknown weekday %q", d)
		}
		if r.days == nil {
			r.days = make(map[time.Weekday]bool)
		}
		r.days[wd] = true
	}
	var err error
	if r.start, err = parseClock(rc.Start); err != nil {
		return r, err
	}
	if r.end, err = parseClock(rc.End); err != nil {
		return r, err
	}
	if r.end <= r.start {
		return r, fmt.Errorf("end %s must be after start %s", rc.End, rc.Start)
	}
	return r, nil
}

// parseClock 解析 HH:MM，允许 24:00
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

// Active 时间段在 t 时刻是否生效。空名称与 24X7 总是生效；未定义的时间段返回错误。
func (p *Periods) Active(name string, t time.Time) (bool, error) {
	if name == "" || strings.EqualFold(name, AlwaysActive) {
		return true, nil
	}
	ranges, ok := p.periods[name]
	if !ok {
		return false, fmt.Errorf("unknown time period %q", name)
	}
	for _, r := range ranges {
		if r.contains(t) {
			return true, nil
		}
	}
	return false, nil
}
