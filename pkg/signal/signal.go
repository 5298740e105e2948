package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agent-checker/pkg/logger"
)

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或 ctx 结束，然后在 timeout 内执行关闭函数
func WaitForShutdown(ctx context.Context, timeout time.Duration, shutdownFunc func(ctx context.Context) error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("service is running, waiting for shutdown signal", "")
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("context done, shutting down", "", zap.Error(ctx.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- shutdownFunc(shutdownCtx) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("graceful shutdown failed", "", zap.Error(err))
			return err
		}
		logger.Info("graceful shutdown completed", "")
		return nil
	case <-shutdownCtx.Done():
		logger.Error("graceful shutdown timed out", "", zap.Error(shutdownCtx.Err()))
		return shutdownCtx.Err()
	}
}
