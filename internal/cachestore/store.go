// Package cachestore 实现按主机/检查类型划分的磁盘缓存，缓存年龄取自文件 mtime。
package cachestore

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/agent-checker/pkg/fileutil"
)

// MaxAge 表示不限制缓存年龄
const MaxAge = time.Duration(math.MaxInt64)

// ErrNotAvailable 缓存不可用（不存在、过期、为空或当前模式禁止使用缓存）
var ErrNotAvailable = errors.New("cache not available")

// UnreachableError 网络被禁用且没有缓存文件可用
type UnreachableError struct {
	Reason string
}

func (e *UnreachableError) Error() string {
	return e.Reason
}

// Unwrap 网络不可用同样意味着缓存不可用
func (e *UnreachableError) Unwrap() error {
	return ErrNotAvailable
}

// Mode 缓存使用模式，对应命令行 --cache/--no-cache/--no-tcp/--force 以及模拟模式
type Mode struct {
	UseCache    bool // 允许读取未过期的缓存
	NoCache     bool // 强制不读缓存，优先级最高
	Simulation  bool // 模拟模式：忽略缓存年龄，不访问网络，不写缓存
	UseOutdated bool // 忽略缓存年龄
	NoTCP       bool // 禁止 TCP 访问
}

// NetworkDisabled 当前模式是否禁止访问网络
func (m Mode) NetworkDisabled() bool {
	return m.NoTCP || m.Simulation
}

// Key 缓存键：<cache-dir>/<host>[.<suffix>]
type Key struct {
	Host   string
	Suffix string
}

func (k Key) String() string {
	if k.Suffix == "" {
		return k.Host
	}
	return k.Host + "." + k.Suffix
}

// Store 磁盘缓存，每个主机检查周期持有独立实例
type Store struct {
	dir        string
	mode       Mode
	now        func() time.Time
	privileged func() bool
}

// Option Store 可选项
type Option func(*Store)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPrivilegeCheck 注入特权身份判断，nil 表示从不视为特权
func WithPrivilegeCheck(fn func() bool) Option {
	return func(s *Store) {
		if fn == nil {
			fn = func() bool { return false }
		}
		s.privileged = fn
	}
}

// New 创建缓存存储
func New(dir string, mode Mode, opts ...Option) *Store {
	s := &Store{
		dir:        dir,
		mode:       mode,
		now:        time.Now,
		privileged: fileutil.Privileged,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mode 返回当前缓存模式
func (s *Store) Mode() Mode {
	return s.mode
}

// Path 返回缓存文件路径
func (s *Store) Path(key Key) string {
	return filepath.Join(s.dir, key.String())
}

func (s *Store) enabled() bool {
	if s.mode.NoCache {
		return false
	}
	return s.mode.UseCache || s.mode.Simulation || s.mode.UseOutdated
}

// Read 读取缓存。网络被禁用时任何不可用的情况（文件缺失、过期、为空、未启用缓存）
// 都返回 *UnreachableError，调用方不得再访问数据源；否则返回 ErrNotAvailable。
func (s *Store) Read(key Key, maxAge time.Duration) ([]byte, error) {
	path := s.Path(key)
	mtime, ok, err := fileutil.ModTime(path)
	if err != nil {
		return nil, s.miss("cannot stat cache file")
	}
	if !ok {
		return nil, s.miss("no cache file present")
	}
	if !s.enabled() {
		return nil, s.miss("cache usage disabled")
	}

	if !s.mode.Simulation && !s.mode.UseOutdated && s.now().Sub(mtime) > maxAge {
		return nil, s.miss("cache file too old")
	}

	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return nil, s.miss("cache file empty or unreadable")
	}
	return data, nil
}

func (s *Store) miss(reason string) error {
	if s.mode.NetworkDisabled() {
		return &UnreachableError{Reason: reason}
	}
	return ErrNotAvailable
}

// Age 返回缓存文件年龄，文件不存在时 ok=false
func (s *Store) Age(key Key) (age time.Duration, ok bool) {
	mtime, ok, err := fileutil.ModTime(s.Path(key))
	if err != nil || !ok {
		return 0, false
	}
	return s.now().Sub(mtime), true
}

// Write 原子写入缓存。特权身份或模拟模式下静默跳过。
func (s *Store) Write(key Key, data []byte) error {
	if s.privileged() || s.mode.Simulation {
		return nil
	}
	if err := fileutil.WriteAtomic(s.Path(key), data, 0o644); err != nil {
		return fmt.Errorf("write cache %s: %w", key, err)
	}
	return nil
}
