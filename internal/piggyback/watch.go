package piggyback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/agent-checker/pkg/logger"
)

// Watch 监听 piggyback 目录，有新数据写入某个目标主机目录时回调 onUpdate(target)。
// 阻塞直到 ctx 结束。
func (s *Store) Watch(ctx context.Context, onUpdate func(target string)) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create piggyback dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	targets, err := s.Targets()
	if err != nil {
		return err
	}
	for _, target := range targets {
		if err := watcher.Add(filepath.Join(s.dir, target)); err != nil {
			logger.Warn("cannot watch piggyback target dir", target, zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(watcher, event, onUpdate)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("piggyback watcher error", "", zap.Error(err))
		}
	}
}

func (s *Store) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event, onUpdate func(string)) {
	rel, err := filepath.Rel(s.dir, event.Name)
	if err != nil {
		return
	}
	parts := strings.Split(rel, string(filepath.Separator))

	switch {
	// 新的目标主机目录
	case len(parts) == 1 && event.Has(fsnotify.Create):
		if st, err := os.Stat(event.Name); err == nil && st.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				logger.Warn("cannot watch piggyback target dir", parts[0], zap.Error(err))
			}
		}
	// rename 完成即代表一次完整写入
	case len(parts) == 2 && !strings.HasPrefix(parts[1], ".") && event.Has(fsnotify.Create):
		onUpdate(parts[0])
	}
}
