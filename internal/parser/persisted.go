package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/agent-checker/pkg/fileutil"
	"github.com/agent-checker/pkg/logger"
)

// PersistedStore 保存带 persist(...) 选项的 section，供之后的周期在 agent 未输出时复用。
// 文件格式：<persisted-dir>/<host> 中的 {section: {cached_at, until, rows}}
type PersistedStore struct {
	dir        string
	now        func() time.Time
	privileged func() bool
}

// NewPersistedStore 创建持久化 section 存储
func NewPersistedStore(dir string, now func() time.Time, privileged func() bool) *PersistedStore {
	if now == nil {
		now = time.Now
	}
	if privileged == nil {
		privileged = fileutil.Privileged
	}
	return &PersistedStore{dir: dir, now: now, privileged: privileged}
}

func (p *PersistedStore) path(host string) string {
	return filepath.Join(p.dir, host)
}

// Load 读取主机已持久化的 section，读取失败返回空
func (p *PersistedStore) Load(host string) map[string]Persisted {
	out := make(map[string]Persisted)
	data, err := os.ReadFile(p.path(host))
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn("discarding unreadable persisted sections", host, zap.Error(err))
		return make(map[string]Persisted)
	}
	return out
}

// Merge 保存本次新的持久化 section，并把本次输出中缺失但仍在有效期内的 section 合并进 res。
// enforce 为 true 时忽略有效期。过期的 section 从文件中删除，文件为空时删除文件。
func (p *PersistedStore) Merge(host string, res *Result, enforce bool) error {
	stored := p.Load(host)
	for name, sec := range res.Persist {
		stored[name] = sec
	}

	now := p.now().Unix()
	for name, sec := range stored {
		if _, ok := res.Sections[name]; ok {
			continue
		}
		if now >= sec.Until && !enforce {
			logger.Debug("persisted section expired", host, zap.String("section", name))
			delete(stored, name)
			continue
		}
		res.Sections[name] = &Section{
			Name:   name,
			Rows:   sec.Rows,
			Window: &Window{CachedAt: sec.CachedAt, Until: sec.Until},
		}
		res.CacheInfo[name] = CacheInfo{CachedAt: sec.CachedAt, Interval: sec.Until - sec.CachedAt}
	}

	if p.privileged() {
		return nil
	}
	if len(stored) == 0 {
		return fileutil.RemoveIfExists(p.path(host))
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode persisted sections of %s: %w", host, err)
	}
	return fileutil.WriteAtomic(p.path(host), data, 0o644)
}
