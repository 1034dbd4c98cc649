package daemon

import (
	"context"
	"sync"

	"github.com/duke-git/lancet/v2/maputil"
	"go.uber.org/zap"

	"swift/job-engine/internal/config"
	"swift/job-engine/internal/transport"
	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// ConnectionFactory creates started connections to services on the one configured broker.
type ConnectionFactory struct {
	pool       *transport.ConnectionPool
	broker     config.BrokerConfig
	translator *TokenTranslator
	opts       []ConnectionOption
	logger     *zap.Logger

	mu    sync.Mutex
	conns map[string]*Connection
}

// NewConnectionFactory fails with a CONFIG_ERROR unless exactly one broker is configured.
func NewConnectionFactory(cfg *config.Config, pool *transport.ConnectionPool, opts ...ConnectionOption) (*ConnectionFactory, error) {
	broker, err := cfg.Broker()
	if err != nil {
		return nil, types.NewConfigError("create connection factory", err)
	}
	translator, err := NewTokenTranslator(cfg.Daemon.FileRoots)
	if err != nil {
		return nil, err
	}
	return &ConnectionFactory{
		pool:       pool,
		broker:     broker,
		translator: translator,
		opts:       opts,
		logger:     logger.Named("factory"),
		conns:      make(map[string]*Connection),
	}, nil
}

// Broker returns the broker every connection uses.
func (f *ConnectionFactory) Broker() config.BrokerConfig {
	return f.broker
}

// Create returns a started connection to the service. Connections are
// shared per service name until Close.
func (f *ConnectionFactory) Create(ctx context.Context, service string) (*Connection, error) {
	f.mu.Lock()
	c, ok := f.conns[service]
	if !ok {
		c = NewConnection(f.pool, f.broker, service, f.translator, f.opts...)
		f.conns[service] = c
	}
	f.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Sender is Create typed as a WorkSender, for callers that only submit work.
func (f *ConnectionFactory) Sender(ctx context.Context, service string) (types.WorkSender, error) {
	return f.Create(ctx, service)
}

// Services returns the names of the services a connection was created for.
func (f *ConnectionFactory) Services() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maputil.Keys(f.conns)
}

// Close stops every connection created by the factory.
func (f *ConnectionFactory) Close() {
	f.mu.Lock()
	conns := f.conns
	f.conns = make(map[string]*Connection)
	f.mu.Unlock()

	for name, c := range conns {
		c.Stop()
		f.logger.Debug("connection stopped", zap.String("service", name))
	}
}
