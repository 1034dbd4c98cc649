package daemon

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swift/job-engine/internal/config"
	"swift/job-engine/internal/transport"
	"swift/job-engine/internal/worker"
	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// Daemon serves registered workers on their service queues.
type Daemon struct {
	name        string
	host        string
	broker      config.BrokerConfig
	pool        *transport.ConnectionPool
	translator  *TokenTranslator
	pollTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	services map[string]*registration
	cancel   context.CancelFunc
	serving  bool
}

type registration struct {
	cfg    config.ServiceConfig
	worker worker.Worker
	stats  *ServiceStats
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithPollTimeout sets how long each receive loop blocks waiting for a request.
func WithPollTimeout(t time.Duration) Option {
	return func(d *Daemon) {
		if t > 0 {
			d.pollTimeout = t
		}
	}
}

// New creates a daemon for the configured broker and file roots.
func New(cfg *config.Config, pool *transport.ConnectionPool, opts ...Option) (*Daemon, error) {
	broker, err := cfg.Broker()
	if err != nil {
		return nil, types.NewConfigError("create daemon", err)
	}
	translator, err := NewTokenTranslator(cfg.Daemon.FileRoots)
	if err != nil {
		return nil, err
	}
	d := &Daemon{
		name:        cfg.Daemon.Name,
		host:        cfg.Daemon.Host,
		broker:      broker,
		pool:        pool,
		translator:  translator,
		pollTimeout: time.Second,
		services:    make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Named("daemon").With(zap.String("daemon", d.name))
	}
	return d, nil
}

// Register places a worker into service after its Check succeeds.
func (d *Daemon) Register(ctx context.Context, svc config.ServiceConfig, w worker.Worker) error {
	if svc.Name == "" {
		return types.NewConfigError("service name is required", nil)
	}
	if svc.Concurrency <= 0 {
		svc.Concurrency = 1
	}
	if err := w.Check(ctx); err != nil {
		d.logger.Error("worker check failed", zap.String("service", svc.Name), zap.Error(err))
		return types.NewConfigError(fmt.Sprintf("worker for service %s failed its check", svc.Name), err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.serving {
		return types.NewConfigError("cannot register "+svc.Name+" while serving", nil)
	}
	if _, exists := d.services[svc.Name]; exists {
		return types.NewConfigError("service already registered: "+svc.Name, nil)
	}
	d.services[svc.Name] = &registration{cfg: svc, worker: w, stats: NewServiceStats()}
	d.logger.Info("service registered",
		zap.String("service", svc.Name),
		zap.String("worker", svc.Worker),
		zap.Int("concurrency", svc.Concurrency))
	return nil
}

// RegisterConfigured creates and registers a worker for every configured service.
func (d *Daemon) RegisterConfigured(ctx context.Context, services []config.ServiceConfig, registry *worker.Registry) error {
	for _, svc := range services {
		w, err := registry.Create(svc.Worker, svc.Options)
		if err != nil {
			return types.NewConfigError("create worker for service "+svc.Name, err)
		}
		if err := d.Register(ctx, svc, w); err != nil {
			return err
		}
	}
	return nil
}

// Serve receives requests for every registered service until ctx is done
// or Stop is called. Each service runs as many receive loops as its concurrency.
func (d *Daemon) Serve(ctx context.Context) error {
	d.mu.Lock()
	if d.serving {
		d.mu.Unlock()
		return errors.New("daemon is already serving")
	}
	if len(d.services) == 0 {
		d.mu.Unlock()
		return types.NewConfigError("no services registered", nil)
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.serving = true
	regs := make([]*registration, 0, len(d.services))
	for _, r := range d.services {
		regs = append(regs, r)
	}
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		d.serving = false
		d.cancel = nil
		d.mu.Unlock()
	}()

	conn, err := d.pool.Get(ctx, d.broker.Address, d.broker.User, d.broker.Password)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range regs {
		reg := reg
		svc := transport.NewService(conn, reg.cfg.Name,
			transport.WithConcurrency(reg.cfg.Concurrency),
			transport.WithServiceLogger(d.logger))
		for i := 0; i < reg.cfg.Concurrency; i++ {
			g.Go(func() error {
				return d.receiveLoop(gctx, reg, svc)
			})
		}
		d.logger.Info("serving", zap.String("uri", transport.ServiceURI(d.broker.Address, reg.cfg.Name)))
	}
	return g.Wait()
}

// Stop ends Serve. Requests already executing see a cancelled context.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (d *Daemon) receiveLoop(ctx context.Context, reg *registration, svc *transport.Service) error {
	for {
		req, err := svc.Receive(ctx, d.pollTimeout)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) {
				return err
			}
			// A malformed message is consumed; anything else is retried after a pause.
			d.logger.Warn("receive request", zap.String("service", reg.cfg.Name), zap.Error(err))
			if !types.IsProtocolError(err) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(d.pollTimeout):
				}
			}
			continue
		}
		if req == nil {
			continue
		}
		d.handle(ctx, reg, svc, req)
	}
}

// handle runs one request through the worker template and acknowledges it.
func (d *Daemon) handle(ctx context.Context, reg *registration, svc *transport.Service, req *transport.Request) {
	defer req.Processed()

	start := time.Now()
	reg.stats.requestReceived()
	log := d.logger.With(zap.String("service", reg.cfg.Name), zap.String("request_id", req.ID()))

	rep := &responseReporter{
		ctx:        context.WithoutCancel(ctx),
		svc:        svc,
		req:        req,
		translator: d.translator,
		logger:     log,
	}

	var err error
	defer func() {
		reg.stats.requestDone(time.Since(start), err == nil)
		if err != nil {
			log.Info("request failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		} else {
			log.Debug("request finished", zap.Duration("elapsed", time.Since(start)))
		}
	}()

	wireReq, err := decodeRequest(req.Body())
	if err != nil {
		rep.ReportFailure(err)
		return
	}
	host := types.HostInfo{Host: d.host, Daemon: d.name, Service: reg.cfg.Name, RequestID: req.ID()}
	rep.enqueued(host)
	log.Debug("request received")

	local, err := d.translator.RequestToLocal(wireReq)
	if err != nil {
		rep.ReportFailure(err)
		return
	}
	if local.ID == "" {
		local.ID = req.ID()
	}
	err = worker.Execute(ctx, host, local, rep, reg.worker)
}

// Stats returns a snapshot per registered service, sorted by service name.
func (d *Daemon) Stats() []StatsSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]StatsSnapshot, 0, len(d.services))
	for name, reg := range d.services {
		s := reg.stats.Snapshot()
		s.Service = name
		s.Worker = reg.cfg.Worker
		s.Concurrency = reg.cfg.Concurrency
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Name returns the daemon name.
func (d *Daemon) Name() string {
	return d.name
}

// Serving reports whether Serve is running.
func (d *Daemon) Serving() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serving
}
