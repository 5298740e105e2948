// Package snmp 获取检查声明的 SNMP 表：检查间隔控制、缓存、按索引组装表以及多表的全有或全无语义。
package snmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agent-checker/internal/cachestore"
	"github.com/agent-checker/pkg/logger"
)

// Status 一次表获取的结果类型
type Status int

const (
	StatusOK      Status = iota
	StatusSkip           // 检查间隔未到，本周期不执行
	StatusMissing        // 某个子表没有数据
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkip:
		return "skip"
	case StatusMissing:
		return "missing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome FetchTable 的结果
type Outcome struct {
	Status Status
	Tables []Table
}

// ErrNoSuchObject 设备上不存在请求的 OID 子树
var ErrNoSuchObject = errors.New("no such object")

// UnreachableError SNMP 不可达
type UnreachableError struct {
	Host   string
	Reason string
}

func (e *UnreachableError) Error() string {
	if e.Reason == "" {
		return "SNMP of " + e.Host + " already failed in this cycle"
	}
	return e.Reason
}

// Target SNMP 访问参数
type Target struct {
	Host      string
	Address   string
	Community string
	Version   string
	Port      int
	Timeout   time.Duration
	Retries   int
}

// Backend SNMP 协议层
type Backend interface {
	Walk(ctx context.Context, target Target, oid string) ([]Varbind, error)
}

// offliner 不需要网络的后端（例如保存的 walk 文件）
type offliner interface {
	Offline() bool
}

// Fetcher 单个主机检查周期内使用的 SNMP 表获取器
type Fetcher struct {
	cache   *cachestore.Store
	backend Backend
	force   bool
	observe func(source string, elapsed time.Duration, err error)
	now     func() time.Time

	broken map[string]bool
}

// Option Fetcher 可选项
type Option func(*Fetcher)

// WithForce 忽略检查间隔
func WithForce(force bool) Option {
	return func(f *Fetcher) { f.force = force }
}

// WithObserver 设置访问回调
func WithObserver(o func(source string, elapsed time.Duration, err error)) Option {
	return func(f *Fetcher) { f.observe = o }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher 创建 SNMP 表获取器
func NewFetcher(cache *cachestore.Store, backend Backend, opts ...Option) *Fetcher {
	f := &Fetcher{
		cache:   cache,
		backend: backend,
		observe: func(string, time.Duration, error) {},
		now:     time.Now,
		broken:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Broken 主机在本周期内 SNMP 是否已经失败
func (f *Fetcher) Broken(host string) bool {
	return f.broken[host]
}

// FetchTable 获取 checkType 声明的表。interval>0 且缓存比 interval 新时返回 StatusSkip；
// 任一子表无数据时返回 StatusMissing 且不返回部分结果；协议错误返回 *UnreachableError，
// 本周期内该主机之后的请求直接失败。
func (f *Fetcher) FetchTable(ctx context.Context, target Target, checkType string, spec Spec,
	maxCacheAge, interval time.Duration) (Outcome, error) {
	key := cachestore.Key{Host: target.Host, Suffix: checkType}

	if interval > 0 && !f.force {
		if age, ok := f.cache.Age(key); ok && age < interval {
			logger.Debug("skipping SNMP check, interval not elapsed", target.Host,
				zap.String("check_type", checkType), zap.Duration("age", age))
			return Outcome{Status: StatusSkip}, nil
		}
	}

	data, err := f.cache.Read(key, maxCacheAge)
	if err == nil {
		var tables []Table
		if jsonErr := json.Unmarshal(data, &tables); jsonErr == nil {
			return Outcome{Status: StatusOK, Tables: tables}, nil
		}
		logger.Warn("ignoring corrupt SNMP cache", target.Host, zap.String("check_type", checkType))
	}
	var unreachable *cachestore.UnreachableError
	if errors.As(err, &unreachable) && !f.offline() {
		f.broken[target.Host] = true
		return Outcome{}, &UnreachableError{Host: target.Host, Reason: "Host is unreachable, no usable cache file present"}
	}

	if f.broken[target.Host] {
		return Outcome{}, &UnreachableError{Host: target.Host}
	}

	tables := make([]Table, 0, len(spec.Tables))
	for _, ts := range spec.Tables {
		table, err := f.fetchOne(ctx, target, ts)
		if errors.Is(err, ErrNoSuchObject) {
			return Outcome{Status: StatusMissing}, nil
		}
		if err != nil {
			f.broken[target.Host] = true
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return Outcome{}, &UnreachableError{Host: target.Host, Reason: err.Error()}
		}
		tables = append(tables, table)
	}

	if encoded, err := json.Marshal(tables); err == nil {
		if err := f.cache.Write(key, encoded); err != nil {
			logger.Warn("cannot write SNMP cache", target.Host, zap.Error(err))
		}
	}
	return Outcome{Status: StatusOK, Tables: tables}, nil
}

func (f *Fetcher) offline() bool {
	o, ok := f.backend.(offliner)
	return ok && o.Offline()
}

func (f *Fetcher) fetchOne(ctx context.Context, target Target, ts TableSpec) (Table, error) {
	columns := make(map[string][]Varbind, len(ts.Columns))
	for _, col := range ts.Columns {
		if col == OIDEnd {
			continue
		}
		start := f.now()
		vbs, err := f.backend.Walk(ctx, target, columnOID(ts.Base, col))
		f.observe("snmp", f.now().Sub(start), err)
		if err != nil {
			return nil, err
		}
		columns[col] = vbs
	}
	return assemble(ts, columns), nil
}
