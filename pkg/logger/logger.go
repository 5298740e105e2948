package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agent-checker/pkg/config"
)

type Logger = zap.Logger

var (
	baseLogger     = zap.NewNop()
	defaultHost    string
	loggerInitOnce sync.Once
	mu             sync.RWMutex
)

// ParseLevel 日志级别字符串转 zap 级别，未知值按 info 处理
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "dbg", "debug":
		return zapcore.DebugLevel
	case "war", "warn":
		return zapcore.WarnLevel
	case "err", "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init 初始化全局日志（只生效一次）：控制台彩色输出 + 按天滚动的 JSON 文件
func Init(cfg config.ZapLogConfig) error {
	var err error
	loggerInitOnce.Do(func() {
		level := ParseLevel(cfg.Level)

		if err = os.MkdirAll(cfg.Path, 0o755); err != nil {
			return
		}

		writer, wErr := rotatelogs.New(
			filepath.Join(cfg.Path, "checker-%Y%m%d.log"),
			rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithRotationSize(int64(cfg.MaxSize)*1024*1024),
		)
		if wErr != nil {
			err = wErr
			return
		}

		// 控制台彩色时间
		consoleTime := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
		}
		jsonTime := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("2006-01-02 15:04:05.000 -07:00"))
		}

		consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
		consoleEncoderCfg.ConsoleSeparator = " "
		consoleEncoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoderCfg.EncodeTime = consoleTime
		// Caller 两级路径
		consoleEncoderCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
			rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
			enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
		}

		jsonCfg := zap.NewProductionEncoderConfig()
		jsonCfg.TimeKey = "timestamp"
		jsonCfg.EncodeTime = jsonTime
		jsonCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

		// 检查结果本身走 stdout，日志统一写 stderr
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderCfg), zapcore.AddSync(os.Stderr), level)
		if cfg.Format == "json" {
			consoleCore = zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(os.Stderr), level)
		}
		core := zapcore.NewTee(
			consoleCore,
			zapcore.NewCore(zapcore.NewJSONEncoder(jsonCfg), zapcore.AddSync(writer), level),
		)

		mu.Lock()
		baseLogger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.ErrorLevel))
		mu.Unlock()
	})
	return err
}

// SetLogger 替换全局日志（测试或嵌入场景）
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger = l
}

// SetDefaultHost 设置默认 host 字段
func SetDefaultHost(host string) {
	mu.Lock()
	defer mu.Unlock()
	defaultHost = host
}

func getGID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	idField := strings.Fields(strings.TrimPrefix(string(buf[:n]), "goroutine "))
	if len(idField) > 0 {
		if id, err := strconv.Atoi(idField[0]); err == nil {
			return strconv.Itoa(id)
		}
	}
	return "0"
}

func log(level zapcore.Level, msg string, host string, fields ...zapcore.Field) {
	mu.RLock()
	l := baseLogger
	if host == "" {
		host = defaultHost
	}
	mu.RUnlock()

	if ce := l.Check(level, msg); ce != nil {
		merged := make([]zapcore.Field, 0, len(fields)+2)
		if host != "" {
			merged = append(merged, zap.String("host", host))
		}
		merged = append(merged, zap.String("goid", getGID()))
		ce.Write(append(merged, fields...)...)
	}
}

func Debug(msg string, host string, fields ...zapcore.Field) {
	log(zap.DebugLevel, msg, host, fields...)
}

func Info(msg string, host string, fields ...zapcore.Field) {
	log(zap.InfoLevel, msg, host, fields...)
}

func Warn(msg string, host string, fields ...zapcore.Field) {
	log(zap.WarnLevel, msg, host, fields...)
}

func Error(msg string, host string, fields ...zapcore.Field) {
	log(zap.ErrorLevel, msg, host, fields...)
}

func Fatal(msg string, host string, fields ...zapcore.Field) {
	log(zap.FatalLevel, msg, host, fields...)
}

// Sync 刷盘
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger.Sync()
}

// GetLogger 获取全局 zap.Logger
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}
