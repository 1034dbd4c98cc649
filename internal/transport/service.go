package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swift/job-engine/pkg/logger"
	"swift/job-engine/pkg/types"
)

// ErrServiceClosed is delivered to response handlers still pending when the service closes.
var ErrServiceClosed = errors.New("service closed")

const defaultPollInterval = time.Second

// ResponseHandler receives the responses to one request in order. A non-nil
// err means no further responses will arrive.
type ResponseHandler func(resp *Message, err error)

// Service is a named queue on a broker connection. Clients send requests and
// receive correlated responses; servers receive requests and answer them.
type Service struct {
	name         string
	conn         Connection
	replyQueue   string
	pollInterval time.Duration
	tokens       chan struct{}
	logger       *zap.Logger

	mu       sync.Mutex
	handlers map[string]ResponseHandler
	cancel   context.CancelFunc
	done     chan struct{}
	closed   bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithConcurrency bounds the number of received requests awaiting Processed.
func WithConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.tokens = make(chan struct{}, n)
		}
	}
}

// WithPollInterval sets how long the reply dispatcher blocks per receive.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService binds the queue name to a started connection.
func NewService(conn Connection, name string, opts ...ServiceOption) *Service {
	s := &Service{
		name:         name,
		conn:         conn,
		replyQueue:   name + ".reply." + uuid.NewString(),
		pollInterval: defaultPollInterval,
		tokens:       make(chan struct{}, 1),
		handlers:     make(map[string]ResponseHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("service").With(zap.String("service", name))
	}
	return s
}

// Name returns the queue name.
func (s *Service) Name() string {
	return s.name
}

// SendRequest sends body to the service and registers h for its responses.
// It returns the request id, which responses carry as correlation id.
func (s *Service) SendRequest(ctx context.Context, body []byte, h ResponseHandler) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrServiceClosed
	}
	s.handlers[id] = h
	s.startDispatcherLocked()
	s.mu.Unlock()

	msg := &Message{ID: id, ReplyTo: s.replyQueue, Body: body}
	if err := s.conn.Send(ctx, s.name, msg); err != nil {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Pending returns the number of requests still waiting for their last response.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func (s *Service) startDispatcherLocked() {
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.dispatch(ctx, s.done)
}

// dispatch routes replies to their handlers. Handlers run on this goroutine,
// so the responses of one request are delivered in the order they were sent.
func (s *Service) dispatch(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		msg, err := s.conn.Receive(ctx, s.replyQueue, s.pollInterval)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				s.failPending(err)
				return
			}
			s.logger.Warn("receive response", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
			continue
		}
		if msg == nil {
			continue
		}

		s.mu.Lock()
		h, ok := s.handlers[msg.CorrelationID]
		if ok && msg.Last {
			delete(s.handlers, msg.CorrelationID)
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Debug("dropping response for unknown request", zap.String("correlation_id", msg.CorrelationID))
			continue
		}
		h(msg, nil)
	}
}

func (s *Service) failPending(err error) {
	s.mu.Lock()
	handlers := s.handlers
	s.handlers = make(map[string]ResponseHandler)
	s.mu.Unlock()
	for _, h := range handlers {
		h(nil, err)
	}
}

// Receive waits up to timeout for the next request. At most the configured
// concurrency of requests may be outstanding; each must be acknowledged with
// Processed before another is delivered in its place. It returns nil, nil on timeout.
func (s *Service) Receive(ctx context.Context, timeout time.Duration) (*Request, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.tokens <- struct{}{}:
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	msg, err := s.conn.Receive(ctx, s.name, timeout)
	if err != nil || msg == nil {
		<-s.tokens
		return nil, err
	}
	return &Request{msg: msg, release: func() { <-s.tokens }}, nil
}

// SendResponse answers req. Set last on the final response.
func (s *Service) SendResponse(ctx context.Context, req *Request, body []byte, last bool) error {
	if req.msg.ReplyTo == "" {
		return types.NewProtocolError("request "+req.ID()+" has no reply queue", nil)
	}
	msg := &Message{
		ID:            uuid.NewString(),
		CorrelationID: req.ID(),
		Last:          last,
		Body:          body,
	}
	return s.conn.Send(ctx, req.msg.ReplyTo, msg)
}

// Close stops the reply dispatcher and fails every pending request with ErrServiceClosed.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.failPending(ErrServiceClosed)
}

// Request is a message received by a server-side Service.
type Request struct {
	msg     *Message
	once    sync.Once
	release func()
}

// NewRequest wraps a message that did not come through Service.Receive.
func NewRequest(msg *Message) *Request {
	return &Request{msg: msg, release: func() {}}
}

func (r *Request) ID() string        { return r.msg.ID }
func (r *Request) Body() []byte      { return r.msg.Body }
func (r *Request) ReplyTo() string   { return r.msg.ReplyTo }
func (r *Request) Message() *Message { return r.msg }

// Processed acknowledges the request so the next one can be delivered.
// Only the first call has an effect.
func (r *Request) Processed() {
	r.once.Do(r.release)
}
