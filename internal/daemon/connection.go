package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"swift/job-engine/internal/config"
	"swift/job-engine/internal/transport"
	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// Connection submits work to one remote service. It implements types.WorkSender.
type Connection struct {
	service    string
	broker     config.BrokerConfig
	pool       *transport.ConnectionPool
	translator *TokenTranslator
	poll       time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	svc     *transport.Service
	running atomic.Bool
}

// ConnectionOption configures a Connection.
type ConnectionOption func(*Connection)

// WithConnectionLogger sets the logger.
func WithConnectionLogger(l *zap.Logger) ConnectionOption {
	return func(c *Connection) { c.logger = l }
}

// WithResponsePoll sets how long the response dispatcher blocks per receive.
func WithResponsePoll(d time.Duration) ConnectionOption {
	return func(c *Connection) { c.poll = d }
}

// NewConnection creates a stopped connection to the named service.
func NewConnection(pool *transport.ConnectionPool, broker config.BrokerConfig, service string, translator *TokenTranslator, opts ...ConnectionOption) *Connection {
	c := &Connection{
		service:    service,
		broker:     broker,
		pool:       pool,
		translator: translator,
		poll:       time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Named("connection").With(zap.String("service", service))
	}
	return c
}

// Service returns the name of the remote service.
func (c *Connection) Service() string {
	return c.service
}

// URI returns the transport address of the remote service.
func (c *Connection) URI() string {
	return transport.ServiceURI(c.broker.Address, c.service)
}

// Start obtains the pooled broker connection. It blocks while the broker is unreachable.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.svc != nil {
		return nil
	}
	conn, err := c.pool.Get(ctx, c.broker.Address, c.broker.User, c.broker.Password)
	if err != nil {
		return err
	}
	c.svc = transport.NewService(conn, c.service,
		transport.WithPollInterval(c.poll),
		transport.WithServiceLogger(c.logger))
	c.running.Store(true)
	c.logger.Debug("connection started", zap.String("uri", c.URI()))
	return nil
}

// Stop closes the service channel. Requests still in flight are terminated.
// The pooled broker connection stays open for other users.
func (c *Connection) Stop() {
	c.mu.Lock()
	svc := c.svc
	c.svc = nil
	c.running.Store(false)
	c.mu.Unlock()
	if svc != nil {
		svc.Close()
	}
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (c *Connection) IsRunning() bool {
	return c.running.Load()
}

// SendWork enqueues req on the remote service and returns without waiting
// for execution. Failures to translate, encode or send are reported to the
// listener through RequestTerminated.
func (c *Connection) SendWork(ctx context.Context, req *types.WorkRequest, listener types.ProgressListener) {
	guard := newListenerGuard(listener)

	c.mu.Lock()
	svc := c.svc
	c.mu.Unlock()
	if svc == nil {
		guard.RequestTerminated(types.NewProcessingError("connection to "+c.service+" is not running", nil))
		return
	}

	wire, err := c.translator.RequestToTokens(req)
	if err != nil {
		guard.RequestTerminated(err)
		return
	}
	if wire.Created.IsZero() {
		wire.Created = time.Now()
	}
	body, err := encodeRequest(wire)
	if err != nil {
		guard.RequestTerminated(err)
		return
	}

	id, err := svc.SendRequest(ctx, body, func(msg *transport.Message, err error) {
		c.deliver(guard, msg, err)
	})
	if err != nil {
		guard.RequestTerminated(types.NewProcessingError("send request to "+c.service, err))
		return
	}
	c.logger.Debug("request sent", zap.String("request_id", id))
}

// deliver maps one response message onto the listener.
func (c *Connection) deliver(guard *listenerGuard, msg *transport.Message, err error) {
	if err != nil {
		if errors.Is(err, transport.ErrServiceClosed) {
			err = types.NewProcessingError("connection to "+c.service+" stopped", err)
		}
		guard.RequestTerminated(err)
		return
	}

	resp, err := decodeResponse(msg.Body)
	if err != nil {
		guard.RequestTerminated(err)
		return
	}

	switch resp.Kind {
	case responseEnqueued:
		guard.RequestEnqueued(*resp.Host)
	case responseStarted:
		guard.RequestProcessingStarted(*resp.Host)
	case responseProgress:
		info := *resp.Progress
		if info.Result != nil {
			if err := c.translator.ResultToLocal(info.Result); err != nil {
				guard.RequestTerminated(err)
				return
			}
		}
		guard.UserProgressInformation(info)
	case responseFinished:
		guard.RequestProcessingFinished()
	case responseFailed:
		guard.RequestTerminated(resp.Error.Err())
	}

	if msg.Last && !resp.last() {
		guard.RequestTerminated(types.NewProtocolError("stream ended without a terminal response", nil))
	}
}
