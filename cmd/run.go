package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swift/job-engine/internal/cache"
	"swift/job-engine/internal/config"
	"swift/job-engine/internal/daemon"
	"swift/job-engine/internal/transport"
	"swift/job-engine/internal/worker"
	"swift/job-engine/internal/workflow"
	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

var (
	// run 命令的 flags
	runLocal   bool
	runNoCache bool
)

// runCmd 是 run 子命令
var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "执行工作流",
	Long: `加载 YAML 工作流定义，按依赖顺序把每个任务的工作请求发送到对应服务，
直到所有任务结束。任何任务失败时以非零状态退出。

默认通过消息代理把请求发送给远程守护进程；使用 --local 时，
请求由当前进程内按 daemon.services 配置创建的 worker 执行。`,
	Example: `  # 通过代理执行
  jobengine run pipeline.yaml --config jobengine.yaml

  # 在当前进程内执行，不使用缓存
  jobengine run pipeline.yaml --config jobengine.yaml --local --no-cache`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runLocal, "local", false, "在当前进程内执行 worker")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "禁用工作缓存")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	def, err := workflow.LoadDefinition(args[0])
	if err != nil {
		return err
	}
	log := logger.Named("run")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var senders func(service string) (types.WorkSender, error)
	if runLocal {
		senders = localSenders(cfg)
	} else {
		broker, err := cfg.Broker()
		if err != nil {
			return err
		}
		pool := transport.NewConnectionPool(transport.WithRetryDelay(broker.RetryDelay))
		defer pool.Close()
		factory, err := daemon.NewConnectionFactory(cfg, pool)
		if err != nil {
			return err
		}
		defer factory.Close()
		senders = func(service string) (types.WorkSender, error) {
			return factory.Sender(ctx, service)
		}
	}

	var caches *serviceCaches
	if cfg.Cache.Enabled && !runNoCache {
		caches = newServiceCaches(senders, cache.NewFileStore(cfg.Cache.Dir))
		senders = caches.sender
	}

	engine, err := def.Build(senders)
	if err != nil {
		return err
	}
	engine.SetPriority(engine.Priority() + cfg.Workflow.Priority)
	engine.AddMonitor(workflow.NewLogMonitor(log))

	log.Info("workflow starting",
		zap.String("workflow", def.Name),
		zap.Int("tasks", len(def.Tasks)),
		zap.Bool("local", runLocal))

	runErr := workflow.NewLoop().RunToCompletion(ctx, engine)

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", def.Name, engine.Progress())
	if caches != nil {
		st := caches.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "cache: %d hits, %d misses, %d joins\n", st.Hits, st.Misses, st.Joins)
		log.Info("cache statistics", zap.Int64("hits", st.Hits), zap.Int64("misses", st.Misses), zap.Int64("joins", st.Joins))
	}
	return runErr
}

// localSenders 为每个服务按配置创建进程内 worker 连接。
func localSenders(cfg *config.Config) func(service string) (types.WorkSender, error) {
	registry := worker.NewRegistry()
	conns := make(map[string]types.WorkSender)
	return func(service string) (types.WorkSender, error) {
		if conn, ok := conns[service]; ok {
			return conn, nil
		}
		svc, ok := cfg.Service(service)
		if !ok {
			return nil, types.NewConfigError(fmt.Sprintf("service %s is not configured under daemon.services", service), nil)
		}
		w, err := registry.Create(svc.Worker, svc.Options)
		if err != nil {
			return nil, types.NewConfigError(fmt.Sprintf("create worker for service %s", service), err)
		}
		if err := w.Check(context.Background()); err != nil {
			return nil, types.NewConfigError(fmt.Sprintf("worker for service %s failed its check", service), err)
		}
		conn := worker.NewLocalConnection(service, w, svc.Concurrency)
		conns[service] = conn
		return conn, nil
	}
}

// serviceCaches 为每个服务维护唯一的工作缓存，使同一服务的所有任务共享一张在途表。
type serviceCaches struct {
	next   func(service string) (types.WorkSender, error)
	store  cache.Store
	caches map[string]*cache.Cache
	order  []string
}

func newServiceCaches(next func(service string) (types.WorkSender, error), store cache.Store) *serviceCaches {
	return &serviceCaches{next: next, store: store, caches: make(map[string]*cache.Cache)}
}

func (s *serviceCaches) sender(service string) (types.WorkSender, error) {
	if c, ok := s.caches[service]; ok {
		return c, nil
	}
	next, err := s.next(service)
	if err != nil {
		return nil, err
	}
	c := cache.New(next, cache.WithStore(s.store))
	s.caches[service] = c
	s.order = append(s.order, service)
	return c, nil
}

// Stats 汇总所有服务缓存的计数。
func (s *serviceCaches) Stats() cache.Stats {
	var total cache.Stats
	for _, name := range s.order {
		st := s.caches[name].Stats()
		total.Hits += st.Hits
		total.Misses += st.Misses
		total.Joins += st.Joins
		total.InFlight += st.InFlight
	}
	return total
}
