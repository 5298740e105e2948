// Package server serve 模式的 HTTP 服务：Prometheus 指标、健康检查以及主机最近一次检查状态。
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agent-checker/pkg/config"
	"github.com/agent-checker/pkg/logger"
)

// StatusFunc 返回 /hosts 端点输出的状态快照
type StatusFunc func() any

// HTTPServer HTTP 服务实例
type HTTPServer struct {
	addr     string
	server   *http.Server
	listener net.Listener
}

// statusWriter 记录响应状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// httpShutdownTimeout 优雅关闭超时时间
const httpShutdownTimeout = 5 * time.Second

// NewHTTPServer 创建 HTTP 服务，status 为 nil 时不注册 /hosts
func NewHTTPServer(cfg config.ServerConfig, gatherer prometheus.Gatherer, status StatusFunc) *HTTPServer {
	return &HTTPServer{
		addr: cfg.Addr,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewHandler(gatherer, status),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// NewHandler 构建路由
func NewHandler(gatherer prometheus.Gatherer, status StatusFunc) http.Handler {
	mux := http.NewServeMux()
	metrics := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logger.GetLogger()),
	})

	mux.Handle("/metrics", logged("metrics request received", metrics))
	mux.Handle("/health", logged("health check received", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})))
	if status != nil {
		mux.Handle("/hosts", logged("host status request received", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(status()); err != nil {
				logger.Warn("encode host status failed", "", zap.Error(err))
			}
		})))
	}
	return mux
}

// logged 记录请求方法、地址、状态码与耗时
func logged(msg string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logger.Debug(msg, "",
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// Start 监听端口并在后台提供服务；监听失败直接返回错误
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Info("starting HTTP server", "",
		zap.String("listen_addr", ln.Addr().String()),
		zap.Duration("read_timeout", s.server.ReadTimeout),
		zap.Duration("write_timeout", s.server.WriteTimeout),
		zap.Duration("idle_timeout", s.server.IdleTimeout))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "", zap.Error(err), zap.String("listen_addr", s.addr))
		}
	}()
	return nil
}

// Addr 实际监听地址，Start 之前为配置地址
func (s *HTTPServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown 优雅关闭，超时视为完成
func (s *HTTPServer) Shutdown() error {
	logger.Info("starting graceful shutdown of HTTP server", "", zap.String("listen_addr", s.Addr()))
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		logger.Error("HTTP server shutdown failed", "", zap.Error(err))
		return err
	}
	logger.Info("HTTP server shutdown successfully", "")
	return nil
}
