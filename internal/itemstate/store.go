// Package itemstate 持久化每个主机的计数器状态，并在其上实现速率与滑动平均计算。
package itemstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/agent-checker/pkg/fileutil"
)

// Key 状态键：(检查类型, item, 调用方自定义键)
type Key struct {
	CheckType string
	Item      string
	Name      string
}

// Record 一个状态值：时间戳与数值
type Record struct {
	Time  float64
	Value float64
}

// entry 磁盘格式
type entry struct {
	CheckType string  `json:"check_type"`
	Item      string  `json:"item,omitempty"`
	Name      string  `json:"key"`
	Time      float64 `json:"time"`
	Value     float64 `json:"value"`
}

// Store 单个主机检查周期内的计数器状态。Load 一次，Save 一次。
type Store struct {
	dir        string
	host       string
	values     map[Key]Record
	dryRun     bool
	privileged func() bool
}

// Option Store 可选项
type Option func(*Store)

// WithDryRun 不提交模式下不落盘
func WithDryRun(dryRun bool) Option {
	return func(s *Store) { s.dryRun = dryRun }
}

// WithPrivilegeCheck 注入特权身份判断
func WithPrivilegeCheck(fn func() bool) Option {
	return func(s *Store) {
		if fn == nil {
			fn = func() bool { return false }
		}
		s.privileged = fn
	}
}

// New 创建状态存储，dir 下每个主机一个文件
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:        dir,
		values:     make(map[Key]Record),
		privileged: fileutil.Privileged,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(host string) string {
	return filepath.Join(s.dir, host)
}

// Load 读取主机状态文件。读取或解析失败时丢弃旧状态，从空状态开始。
func (s *Store) Load(host string) {
	s.host = host
	s.values = make(map[Key]Record)

	data, err := os.ReadFile(s.path(host))
	if err != nil {
		return
	}
	var entries []entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	for _, e := range entries {
		s.values[Key{CheckType: e.CheckType, Item: e.Item, Name: e.Name}] = Record{Time: e.Time, Value: e.Value}
	}
}

// Lookup 查询状态
func (s *Store) Lookup(key Key) (Record, bool) {
	rec, ok := s.values[key]
	return rec, ok
}

// Get 查询状态，不存在时返回 def
func (s *Store) Get(key Key, def Record) Record {
	if rec, ok := s.values[key]; ok {
		return rec
	}
	return def
}

// Set 写入状态
func (s *Store) Set(key Key, rec Record) {
	s.values[key] = rec
}

// Clear 删除状态
func (s *Store) Clear(key Key) {
	delete(s.values, key)
}

// Len 状态条目数
func (s *Store) Len() int {
	return len(s.values)
}

// Save 原子写回主机状态文件。特权身份或 dry-run 模式下跳过。
func (s *Store) Save(host string) error {
	if s.dryRun || s.privileged() {
		return nil
	}

	entries := make([]entry, 0, len(s.values))
	for k, v := range s.values {
		entries = append(entries, entry{CheckType: k.CheckType, Item: k.Item, Name: k.Name, Time: v.Time, Value: v.Value})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.CheckType != b.CheckType {
			return a.CheckType < b.CheckType
		}
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		return a.Name < b.Name
	})

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode item state of %s: %w", host, err)
	}
	if err := fileutil.WriteAtomic(s.path(host), data, 0o644); err != nil {
		return fmt.Errorf("save item state of %s: %w", host, err)
	}
	return nil
}

// Counters 返回限定在 (checkType, item) 范围内的计数器视图
func (s *Store) Counters(checkType, item string) *Counters {
	return &Counters{store: s, checkType: checkType, item: item}
}
