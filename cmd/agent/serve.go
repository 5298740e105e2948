package agent

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agent-checker/internal/checking"
	"github.com/agent-checker/internal/collector"
	"github.com/agent-checker/internal/piggyback"
	"github.com/agent-checker/internal/server"
	"github.com/agent-checker/pkg/config"
	"github.com/agent-checker/pkg/logger"
	"github.com/agent-checker/pkg/metrics"
	"github.com/agent-checker/pkg/signal"
	"github.com/agent-checker/pkg/util"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Check all hosts periodically and expose metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			util.PrintBanner(os.Stdout, "agent-checker", "cyan", Version)
			return runServe(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.String("server.addr", defaultCfg.Server.Addr, "-> HTTP listening address (HTTP监听地址)")
	f.Duration("server.read_timeout", defaultCfg.Server.ReadTimeout, "-> Read timeout duration (读取超时时间)")
	f.Duration("server.write_timeout", defaultCfg.Server.WriteTimeout, "-> Write timeout duration (写入超时时间)")
	f.Duration("server.idle_timeout", defaultCfg.Server.IdleTimeout, "-> Idle connection timeout duration (空闲连接超时时间)")
	f.Duration("check.interval", defaultCfg.Check.Interval, "-> Check interval (检查间隔)")
	f.Int("check.workers", defaultCfg.Check.Workers, "-> Hosts checked in parallel (并发检查主机数)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	defer func() { _ = logger.Sync() }()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	reg := metrics.NewPromRegistry(promRegistry)

	engine, err := checking.NewEngine(cfg, checking.Options{},
		checking.WithMetrics(metrics.NewMetricFactory(reg)))
	if err != nil {
		return err
	}

	scheduler := collector.NewRegistry(cfg.Check.Interval, cfg.Check.Workers)
	hosts := make([]*collector.HostCollector, 0, len(engine.Hosts()))
	for _, name := range engine.Hosts() {
		hc := collector.NewHostCollector(name, engine)
		hosts = append(hosts, hc)
		scheduler.Register(hc)
	}

	httpServer := server.NewHTTPServer(cfg.Server, reg, func() any {
		out := make([]collector.Status, 0, len(hosts))
		for _, hc := range hosts {
			st, _ := hc.Status()
			out = append(out, st)
		}
		return out
	})
	if err := httpServer.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	scheduler.Start(runCtx)

	pb := piggyback.New(cfg.Paths.PiggybackDir)
	go func() {
		err := pb.Watch(runCtx, func(target string) {
			if scheduler.Trigger(runCtx, target) {
				logger.Info("new piggyback data, checking host early", target)
			}
		})
		if err != nil {
			logger.Warn("piggyback watcher stopped", "", zap.Error(err))
		}
	}()

	return signal.WaitForShutdown(ctx, shutdownTimeout, func(shutdownCtx context.Context) error {
		cancel()
		return errors.Join(
			scheduler.Shutdown(shutdownCtx),
			httpServer.Shutdown(),
		)
	})
}
