// Package piggyback 保存一个主机代为转发给其他主机的原始 agent 数据。
// 目录布局为 <piggyback-dir>/<target-host>/<source-host>。
package piggyback

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agent-checker/pkg/fileutil"
	"github.com/agent-checker/pkg/logger"
)

// Store piggyback 数据存储
type Store struct {
	dir string
	now func() time.Time
}

// Option Store 可选项
type Option func(*Store)

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New 创建 piggyback 存储
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir 根目录
func (s *Store) Dir() string {
	return s.dir
}

// ErrInvalidName 主机名不能作为 piggyback 目录中的路径段
var ErrInvalidName = errors.New("invalid piggyback host name")

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`+"\x00")
}

// path 返回 <dir>/<target>/<source>，名称非法或结果不在 dir 之下时返回错误
func (s *Store) path(target, source string) (string, error) {
	if !validName(target) || !validName(source) {
		return "", fmt.Errorf("%w: %q -> %q", ErrInvalidName, source, target)
	}
	path := filepath.Join(s.dir, target, source)
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q -> %q", ErrInvalidName, source, target)
	}
	return path, nil
}

// Store 保存 source 本次转发的全部数据，并删除 source 不再转发的目标的旧数据
func (s *Store) Store(source string, byTarget map[string][]string) error {
	for target, lines := range byTarget {
		data := []byte(strings.Join(lines, "\n") + "\n")
		path, err := s.path(target, source)
		if err != nil {
			return err
		}
		if err := fileutil.WriteAtomic(path, data, 0o644); err != nil {
			return fmt.Errorf("store piggyback data %s -> %s: %w", source, target, err)
		}
	}

	targets, err := s.Targets()
	if err != nil {
		return err
	}
	for _, target := range targets {
		if _, ok := byTarget[target]; ok {
			continue
		}
		path, err := s.path(target, source)
		if err != nil {
			continue
		}
		if err := fileutil.RemoveIfExists(path); err != nil {
			return fmt.Errorf("remove piggyback data %s -> %s: %w", source, target, err)
		}
	}
	return nil
}

// Targets 存在 piggyback 数据目录的目标主机
func (s *Store) Targets() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list piggyback dir: %w", err)
	}
	targets := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			targets = append(targets, e.Name())
		}
	}
	return targets, nil
}

// Sources 为 target 转发过数据的源主机（按名称排序）
func (s *Store) Sources(target string) ([]string, error) {
	if !validName(target) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, target)
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, target))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list piggyback sources of %s: %w", target, err)
	}
	sources := make([]string, 0, len(entries))
	for _, e := range entries {
		// 跳过原子写入过程中的临时文件
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		sources = append(sources, e.Name())
	}
	sort.Strings(sources)
	return sources, nil
}

// Get 读取转发给 target 的全部数据。超过 maxAge 的数据先被删除，不参与读取。
func (s *Store) Get(target string, maxAge time.Duration) ([]byte, error) {
	sources, err := s.Sources(target)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, source := range sources {
		path, err := s.path(target, source)
		if err != nil {
			continue
		}
		mtime, ok, err := fileutil.ModTime(path)
		if err != nil || !ok {
			continue
		}
		if s.now().Sub(mtime) > maxAge {
			logger.Debug("removing outdated piggyback data", target,
				zap.String("source", source), zap.Duration("age", s.now().Sub(mtime)))
			if err := fileutil.RemoveIfExists(path); err != nil {
				logger.Warn("cannot remove outdated piggyback data", target, zap.String("path", path), zap.Error(err))
			}
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		buf.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// RemoveSource 删除 source 转发的全部数据
func (s *Store) RemoveSource(source string) error {
	return s.Store(source, nil)
}
