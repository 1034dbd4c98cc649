package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

const (
	// DefaultRetryDelay is the wait between attempts to reach an unreachable broker.
	DefaultRetryDelay = 10 * time.Second

	// RetryDelayEnv overrides the retry delay. It accepts a duration ("250ms")
	// or a number of seconds ("2", "0.5").
	RetryDelayEnv = "JE_BROKER_RETRY_DELAY"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("connection pool closed")

// ResolveRetryDelay returns the delay from RetryDelayEnv, or fallback when the
// variable is unset or malformed.
func ResolveRetryDelay(fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(RetryDelayEnv))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// ConnectionPool holds one started connection per identity.
type ConnectionPool struct {
	mu     sync.Mutex
	conns  map[string]Connection
	closed bool

	dials      singleflight.Group
	dialer     Dialer
	retryDelay time.Duration
	logger     *zap.Logger
}

// PoolOption configures a ConnectionPool.
type PoolOption func(*ConnectionPool)

// WithDialer replaces the dialer used to open connections.
func WithDialer(d Dialer) PoolOption {
	return func(p *ConnectionPool) { p.dialer = d }
}

// WithRetryDelay sets the delay between attempts. RetryDelayEnv still takes precedence.
func WithRetryDelay(d time.Duration) PoolOption {
	return func(p *ConnectionPool) {
		if d > 0 {
			p.retryDelay = d
		}
	}
}

// WithPoolLogger sets the logger.
func WithPoolLogger(l *zap.Logger) PoolOption {
	return func(p *ConnectionPool) { p.logger = l }
}

// NewConnectionPool creates an empty pool.
func NewConnectionPool(opts ...PoolOption) *ConnectionPool {
	p := &ConnectionPool{
		conns:      make(map[string]Connection),
		dialer:     DefaultDialer,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.retryDelay = ResolveRetryDelay(p.retryDelay)
	if p.logger == nil {
		p.logger = logger.Named("pool")
	}
	return p
}

// RetryDelay returns the effective delay between connection attempts.
func (p *ConnectionPool) RetryDelay() time.Duration {
	return p.retryDelay
}

// Get returns the connection for the identity, opening and starting it on
// first use. While the broker is unreachable Get keeps retrying; cancelling
// ctx aborts the wait with a BROKER_UNREACHABLE error. Other failures are
// returned immediately.
func (p *ConnectionPool) Get(ctx context.Context, address, user, password string) (Connection, error) {
	id := Identity{Address: address, User: user, Password: password}
	if c, err := p.lookup(id); c != nil || err != nil {
		return c, err
	}

	// Concurrent callers for one identity share a single dial.
	v, err, _ := p.dials.Do(id.key(), func() (any, error) {
		if c, err := p.lookup(id); c != nil || err != nil {
			return c, err
		}
		c, err := p.connect(ctx, id)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			_ = c.Close()
			return nil, ErrPoolClosed
		}
		p.conns[id.key()] = c
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Connection), nil
}

func (p *ConnectionPool) lookup(id Identity) (Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	return p.conns[id.key()], nil
}

func (p *ConnectionPool) connect(ctx context.Context, id Identity) (Connection, error) {
	for attempt := 1; ; attempt++ {
		c, err := p.dialer(ctx, id)
		if err == nil {
			if err = c.Start(ctx); err != nil {
				_ = c.Close()
			}
		}
		if err == nil {
			if attempt > 1 {
				p.logger.Info("connected to broker", zap.Stringer("broker", id), zap.Int("attempts", attempt))
			}
			return c, nil
		}
		if !errors.Is(err, ErrBrokerUnreachable) {
			return nil, fmt.Errorf("connect to %s: %w", id, err)
		}

		p.logger.Warn("broker unreachable, retrying",
			zap.Stringer("broker", id),
			zap.Int("attempt", attempt),
			zap.Duration("delay", p.retryDelay),
			zap.Error(err))

		timer := time.NewTimer(p.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, types.NewUnreachableError(id.String(), ctx.Err())
		case <-timer.C:
		}
	}
}

// Size returns the number of pooled connections.
func (p *ConnectionPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close closes every pooled connection. Individual close errors are logged and ignored.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]Connection)
	p.closed = true
	p.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			p.logger.Debug("close connection", zap.Error(err))
		}
	}
}
