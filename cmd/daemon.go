package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swift/job-engine/internal/daemon"
	"swift/job-engine/internal/transport"
	"swift/job-engine/internal/worker"
	"swift/job-engine/pkg/logger"
)

// daemonCmd 是 daemon 子命令
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "管理守护进程",
	Long:  `守护进程从消息代理接收工作请求，交给已注册的 worker 执行，并把进度流式回传给发送方。`,
}

// daemonStartCmd 是 daemon start 子命令
var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "启动守护进程",
	Long: `启动守护进程，为配置中的每个服务注册 worker（注册前执行 Check），
然后持续接收请求，直到收到 SIGINT 或 SIGTERM。`,
	Example: `  # 使用配置文件启动
  jobengine daemon start --config configs/jobengine.example.yaml

  # 覆盖日志级别
  jobengine daemon start --config jobengine.yaml --set logging.level=debug`,
	RunE: runDaemonStart,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	broker, err := cfg.Broker()
	if err != nil {
		return err
	}
	log := logger.Named("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := transport.NewConnectionPool(transport.WithRetryDelay(broker.RetryDelay))
	defer pool.Close()

	d, err := daemon.New(cfg, pool)
	if err != nil {
		return err
	}
	if err := d.RegisterConfigured(ctx, cfg.Daemon.Services, worker.NewRegistry()); err != nil {
		return err
	}

	log.Info("daemon starting",
		zap.String("name", d.Name()),
		zap.String("broker", broker.Address),
		zap.Int("services", len(cfg.Daemon.Services)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Serve(gctx)
	})
	if cfg.Daemon.StatusAddress != "" {
		status := daemon.NewStatusServer(d, cfg.Daemon.StatusAddress)
		g.Go(func() error {
			if err := status.StartWithContext(gctx); err != nil {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		log.Info("status api listening", zap.String("address", cfg.Daemon.StatusAddress))
	}

	err = g.Wait()
	d.Stop()
	log.Info("daemon stopped")
	return err
}
