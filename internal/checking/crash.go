package checking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/alexmullins/zip"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/pkg/fileutil"
	"github.com/agent-checker/pkg/logger"
)

// Crash 一次检查崩溃的上下文
type Crash struct {
	Host      string
	CheckType string
	Item      string
	Service   string
	Err       error
	Params    plugins.Params
	Section   any
}

// crashInfo crash.json 的内容
type crashInfo struct {
	ID             string         `json:"id"`
	Time           float64        `json:"time"`
	Host           string         `json:"host"`
	CheckType      string         `json:"check_type"`
	Item           string         `json:"item"`
	Service        string         `json:"service"`
	ExcValue       string         `json:"exc_value"`
	ExcTraceback   string         `json:"exc_traceback"`
	Params         plugins.Params `json:"params"`
	SectionContent any            `json:"section_content"`
}

// CrashReporter 把检查崩溃写成 <crash-dir>/<uuid>.zip
type CrashReporter struct {
	dir   string
	now   func() time.Time
	newID func() string
}

// NewCrashReporter 创建崩溃报告器
func NewCrashReporter(dir string) *CrashReporter {
	return &CrashReporter{
		dir:   dir,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Path 崩溃报告文件路径
func (r *CrashReporter) Path(id string) string {
	return filepath.Join(r.dir, id+".zip")
}

// Report 写入崩溃报告并返回服务输出文本
func (r *CrashReporter) Report(c Crash) string {
	id := r.newID()
	info := crashInfo{
		ID:             id,
		Time:           float64(r.now().UnixNano()) / 1e9,
		Host:           c.Host,
		CheckType:      c.CheckType,
		Item:           c.Item,
		Service:        c.Service,
		ExcValue:       c.Err.Error(),
		ExcTraceback:   trace(c.Err),
		Params:         c.Params,
		SectionContent: c.Section,
	}
	if err := r.write(info); err != nil {
		logger.Error("cannot write crash report", c.Host,
			zap.String("check_type", c.CheckType), zap.String("crash_id", id), zap.Error(err))
		return fmt.Sprintf("check failed, but the crash report could not be written: %v (%v)", c.Err, err)
	}
	logger.Warn("check crashed", c.Host,
		zap.String("check_type", c.CheckType), zap.String("item", c.Item),
		zap.String("crash_id", id), zap.Error(c.Err))
	return fmt.Sprintf("check failed - please submit a crash report! (Crash-ID: %s)", id)
}

func (r *CrashReporter) write(info crashInfo) error {
	content, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		// 段内容可能包含无法编码的值
		info.SectionContent = fmt.Sprintf("%v", info.SectionContent)
		if content, err = json.MarshalIndent(info, "", "  "); err != nil {
			return fmt.Errorf("encode crash info: %w", err)
		}
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("crash.json")
	if err != nil {
		return fmt.Errorf("create zip entry: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write zip entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return fileutil.WriteAtomic(r.Path(info.ID), buf.Bytes(), 0o644)
}
