// Package cmd 提供 jobengine CLI 的命令实现
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swift/job-engine/internal/config"
	"swift/job-engine/pkg/logger"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
)

var (
	// 全局配置
	cfgFile   string
	debug     bool
	overrides []string
)

// rootCmd 是根命令
var rootCmd = &cobra.Command{
	Use:   "jobengine",
	Short: "分布式作业执行引擎",
	Long: `jobengine 把工作请求经由消息代理分发到远程守护进程执行，
对相同的可缓存请求去重，并按依赖关系调度整个工作流。`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 执行根命令
func Execute() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().StringArrayVar(&overrides, "set", nil, "覆盖配置项，key=value 格式，可重复")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("jobengine version {{.Version}}\n")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 按 默认值 < 配置文件 < 环境变量 < --set 的顺序加载并校验配置，然后初始化日志。
func loadConfig() (*config.Config, error) {
	args, err := config.ParseOverrides(overrides)
	if err != nil {
		return nil, err
	}
	loader := config.NewLoader().WithCmdArgs(args)
	if cfgFile != "" {
		loader = loader.WithConfigPath(cfgFile)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	if debug {
		logger.EnableDebug()
	}
	logger.Debug("configuration loaded", zap.String("file", cfgFile), zap.Int("overrides", len(args)))
	return cfg, nil
}
