// Package agent agent-checker 命令行：check、batch、dump、serve。
package agent

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agent-checker/pkg/config"
	"github.com/agent-checker/pkg/logger"
)

// Version 构建时通过 -ldflags 注入
var Version = "dev"

var (
	cfgFile    string
	defaultCfg = config.NewDefaultConfig()

	// exitCode 命令结束后的进程退出码（主机状态 0..3）
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:           "agent-checker",
	Short:         "Execute monitoring checks against agent and SNMP data sources",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令；配置或运行错误退出码为 3（UNKNOWN）
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(3)
	}
	os.Exit(exitCode)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "配置文件路径")
	initLogFlags(rootCmd)

	rootCmd.AddCommand(newCheckCmd(), newBatchCmd(), newDumpCmd(), newServeCmd())
}

// loadConfig 加载配置并初始化日志
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfigWithCli(cmd)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Debug("configuration loaded", "",
		zap.String("config", cfgFile),
		zap.Int("hosts", len(cfg.Hosts)),
		zap.String("log_level", cfg.Log.Level))
	return cfg, nil
}
